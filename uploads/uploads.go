/*Package uploads provides the object storage routes: avatar, request and
session images plus time-limited signed download URLs. Files are capped at
5 MiB and stored under generated names so an upload can never clobber an
existing object.
*/
package uploads

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/cuido-tech/cuido-bff/core"
	"github.com/cuido-tech/cuido-bff/core/access"
	"github.com/cuido-tech/cuido-bff/core/logger"
	"github.com/cuido-tech/cuido-bff/events"
	"github.com/cuido-tech/cuido-bff/supabase"
)

// maxFileSize caps uploads at 5 MiB
const maxFileSize = 5 << 20

// signedURLExpiry bounds signed download URLs
const signedURLExpiry = 10 * time.Minute

// API is the storage restful interface
type API struct {
	gw        supabase.Client
	driver    supabase.StorageDriver
	publisher events.Publisher
}

// New creates the uploads API and adds its routes to the router
func New(router *mux.Router, gw supabase.Client, driver supabase.StorageDriver, publisher events.Publisher) *API {
	a := &API{gw: gw, driver: driver, publisher: publisher}
	a.handleRoutes(router)
	return a
}

func (a *API) handleRoutes(router *mux.Router) {
	logger.Default().Debugln("storage routes")
	logger.Default().Debugln("  handle routes: /api/storage/avatar POST")
	logger.Default().Debugln("  handle routes: /api/storage/request-image POST")
	logger.Default().Debugln("  handle routes: /api/storage/session-image POST")
	logger.Default().Debugln("  handle routes: /api/storage/signed-url GET")

	router.HandleFunc("/api/storage/avatar", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		a.uploadAvatar(w, r)
	}).Methods(http.MethodOptions, http.MethodPost)

	router.HandleFunc("/api/storage/request-image", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		a.uploadRequestImage(w, r)
	}).Methods(http.MethodOptions, http.MethodPost)

	router.HandleFunc("/api/storage/session-image", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		a.uploadSessionImage(w, r)
	}).Methods(http.MethodOptions, http.MethodPost)

	router.HandleFunc("/api/storage/signed-url", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		a.signedURL(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)
}

// fileFromRequest reads the uploaded multipart file, enforcing the size limit
func fileFromRequest(w http.ResponseWriter, r *http.Request) (data []byte, filename, contentType string, err error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFileSize+4096)
	if parseErr := r.ParseMultipartForm(maxFileSize); parseErr != nil {
		return nil, "", "", core.Errorf(core.KindInvalidInput, "cannot parse multipart form: %v", parseErr)
	}
	file, header, formErr := r.FormFile("file")
	if formErr != nil {
		return nil, "", "", core.Errorf(core.KindInvalidInput, "file is required")
	}
	defer file.Close()

	if header.Size > maxFileSize {
		return nil, "", "", core.Errorf(core.KindInvalidInput, "file exceeds 5 MiB")
	}
	data, readErr := io.ReadAll(file)
	if readErr != nil {
		return nil, "", "", core.Errorf(core.KindInvalidInput, "cannot read file: %v", readErr)
	}
	return data, header.Filename, header.Header.Get("Content-Type"), nil
}

// fileExtension returns the filename's extension, jpg when there is none
func fileExtension(filename string) string {
	parts := strings.Split(filename, ".")
	if len(parts) < 2 {
		return "jpg"
	}
	return parts[len(parts)-1]
}

func (a *API) upload(r *http.Request, bucket, path, contentType string, data []byte) (map[string]interface{}, error) {
	if err := a.driver.Upload(r.Context(), bucket, path, contentType, data); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"bucket":    bucket,
		"path":      path,
		"publicUrl": a.driver.PublicURL(bucket, path),
	}, nil
}

// uploadAvatar stores under avatars/{subject}/{uuid}.{ext}; the subject in
// the path is the verified caller, never client input
func (a *API) uploadAvatar(w http.ResponseWriter, r *http.Request) {
	identity, ok := access.IdentityFromContext(r.Context())
	if !ok {
		core.WriteError(w, r, core.Errorf(core.KindUnauthenticated, "Missing identity"))
		return
	}
	data, filename, contentType, err := fileFromRequest(w, r)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}

	path := "avatars/" + identity.Subject + "/" + uuid.New().String() + "." + fileExtension(filename)
	result, err := a.upload(r, "avatars", path, contentType, data)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}

	a.publisher.Publish(r.Context(), "upload", core.OperationCreate, path, nil)
	core.WriteJSON(w, http.StatusCreated, result)
}

// uploadRequestImage stores under {requestId}/{uuid}.{ext} in the requests
// bucket and records the object in solicitud_imagenes
func (a *API) uploadRequestImage(w http.ResponseWriter, r *http.Request) {
	if _, ok := access.IdentityFromContext(r.Context()); !ok {
		core.WriteError(w, r, core.Errorf(core.KindUnauthenticated, "Missing identity"))
		return
	}
	data, filename, contentType, err := fileFromRequest(w, r)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}
	requestID := r.FormValue("requestId")
	if _, err := uuid.Parse(requestID); err != nil {
		core.WriteError(w, r, core.Errorf(core.KindInvalidInput, "requestId is required"))
		return
	}
	var sujetoIndex *int
	if raw := r.FormValue("sujetoIndex"); raw != "" {
		index, convErr := strconv.Atoi(raw)
		if convErr != nil {
			core.WriteError(w, r, core.Errorf(core.KindInvalidInput, "sujetoIndex must be a number"))
			return
		}
		sujetoIndex = &index
	}

	path := requestID + "/" + uuid.New().String() + "." + fileExtension(filename)
	result, err := a.upload(r, "requests", path, contentType, data)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}

	var row json.RawMessage
	err = a.gw.WithContext(r.Context()).AsService().
		From("solicitud_imagenes").Insert(map[string]interface{}{
		"solicitud_id": requestID,
		"sujeto_index": sujetoIndex,
		"bucket":       result["bucket"],
		"path":         result["path"],
		"url":          result["publicUrl"],
	}, &row)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}

	a.publisher.Publish(r.Context(), "upload", core.OperationCreate, path, nil)
	core.WriteJSON(w, http.StatusCreated, row)
}

// uploadSessionImage stores under sessions/{sessionId}/{uuid}.{ext}
func (a *API) uploadSessionImage(w http.ResponseWriter, r *http.Request) {
	if _, ok := access.IdentityFromContext(r.Context()); !ok {
		core.WriteError(w, r, core.Errorf(core.KindUnauthenticated, "Missing identity"))
		return
	}
	data, filename, contentType, err := fileFromRequest(w, r)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}
	sessionID := r.FormValue("sessionId")
	if sessionID == "" {
		sessionID = r.URL.Query().Get("sessionId")
	}
	if _, err := uuid.Parse(sessionID); err != nil {
		core.WriteError(w, r, core.Errorf(core.KindInvalidInput, "sessionId is required"))
		return
	}

	path := "sessions/" + sessionID + "/" + uuid.New().String() + "." + fileExtension(filename)
	result, err := a.upload(r, "sessions", path, contentType, data)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}

	a.publisher.Publish(r.Context(), "upload", core.OperationCreate, path, nil)
	core.WriteJSON(w, http.StatusCreated, result)
}

func (a *API) signedURL(w http.ResponseWriter, r *http.Request) {
	bucket := r.URL.Query().Get("bucket")
	path := r.URL.Query().Get("path")
	if bucket == "" || path == "" {
		core.WriteError(w, r, core.Errorf(core.KindInvalidInput, "bucket and path are required"))
		return
	}

	url, err := a.driver.CreateSignedURL(r.Context(), bucket, path, signedURLExpiry)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}
	core.WriteJSON(w, http.StatusOK, map[string]string{"signedUrl": url})
}
