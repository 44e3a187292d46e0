// Package profile provides the caller's own profile routes
package profile

import (
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/cuido-tech/cuido-bff/core"
	"github.com/cuido-tech/cuido-bff/core/access"
	"github.com/cuido-tech/cuido-bff/core/logger"
	"github.com/cuido-tech/cuido-bff/core/schema"
	"github.com/cuido-tech/cuido-bff/events"
	"github.com/cuido-tech/cuido-bff/supabase"
)

const updateSchema = `{
	"$id": "profile/update",
	"type": "object",
	"properties": {
		"nombre_completo": {"type": "string"},
		"telefono_e164": {"type": "string"},
		"pais_iso2": {"type": "string", "minLength": 2, "maxLength": 2},
		"genero": {"type": "string"},
		"foto_url": {"type": "string"}
	}
}`

var validator = schema.MustNewValidator([]string{updateSchema}, nil)

// API is the profile restful interface
type API struct {
	gw        supabase.Client
	publisher events.Publisher
}

// New creates the profile API and adds its routes to the router
func New(router *mux.Router, gw supabase.Client, publisher events.Publisher) *API {
	a := &API{gw: gw, publisher: publisher}
	a.handleRoutes(router)
	return a
}

func (a *API) handleRoutes(router *mux.Router) {
	logger.Default().Debugln("profile routes")
	logger.Default().Debugln("  handle routes: /api/profile/me GET PATCH")

	router.HandleFunc("/api/profile/me", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		a.getMe(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc("/api/profile/me", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		a.updateMe(w, r)
	}).Methods(http.MethodOptions, http.MethodPatch)
}

// getMe returns the usuarios row whose id equals the verified caller subject
func (a *API) getMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := access.IdentityFromContext(r.Context())
	if !ok {
		core.WriteError(w, r, core.Errorf(core.KindUnauthenticated, "Missing identity"))
		return
	}

	var row json.RawMessage
	err := a.gw.WithContext(r.Context()).AsService().
		From("usuarios").Select("*").Eq("id", identity.Subject).Single(&row)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}
	core.WriteJSON(w, http.StatusOK, row)
}

type updateRequest struct {
	NombreCompleto *string `json:"nombre_completo"`
	TelefonoE164   *string `json:"telefono_e164"`
	PaisISO2       *string `json:"pais_iso2"`
	Genero         *string `json:"genero"`
	FotoURL        *string `json:"foto_url"`
}

func (a *API) updateMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := access.IdentityFromContext(r.Context())
	if !ok {
		core.WriteError(w, r, core.Errorf(core.KindUnauthenticated, "Missing identity"))
		return
	}
	body, _ := io.ReadAll(r.Body)
	if err := validator.ValidateBytes(body, "profile/update"); err != nil {
		core.WriteError(w, r, core.Errorf(core.KindInvalidInput, "%v", err))
		return
	}
	var req updateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		core.WriteError(w, r, core.Errorf(core.KindInvalidInput, "invalid json: %v", err))
		return
	}

	updates := map[string]interface{}{}
	if req.NombreCompleto != nil {
		updates["nombre_completo"] = *req.NombreCompleto
	}
	if req.TelefonoE164 != nil {
		updates["telefono_e164"] = *req.TelefonoE164
	}
	if req.PaisISO2 != nil {
		updates["pais_iso2"] = *req.PaisISO2
	}
	if req.Genero != nil {
		updates["genero"] = *req.Genero
	}
	if req.FotoURL != nil {
		updates["foto_url"] = *req.FotoURL
	}

	svc := a.gw.WithContext(r.Context()).AsService()

	// an empty patch returns the current row
	var row json.RawMessage
	var err error
	if len(updates) == 0 {
		err = svc.From("usuarios").Select("*").Eq("id", identity.Subject).Single(&row)
	} else {
		err = svc.From("usuarios").Eq("id", identity.Subject).Update(updates, &row)
	}
	if err != nil {
		core.WriteError(w, r, err)
		return
	}

	if len(updates) > 0 {
		a.publisher.Publish(r.Context(), "usuario", core.OperationUpdate, identity.Subject, nil)
	}
	core.WriteJSON(w, http.StatusOK, row)
}
