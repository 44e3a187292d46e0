/*Package sessions provides the care session routes. Session state lives
entirely in the platform; every transition (creation from an assignment,
check-in and check-out proposal/confirmation) is a single stored procedure
call whose result is returned verbatim.
*/
package sessions

import (
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/cuido-tech/cuido-bff/core"
	"github.com/cuido-tech/cuido-bff/core/access"
	"github.com/cuido-tech/cuido-bff/core/logger"
	"github.com/cuido-tech/cuido-bff/core/schema"
	"github.com/cuido-tech/cuido-bff/events"
	"github.com/cuido-tech/cuido-bff/supabase"
)

const fromAssignmentSchema = `{
	"$id": "sessions/from-assignment",
	"type": "object",
	"properties": {
		"asignacion_id": {"type": "string", "minLength": 1}
	},
	"required": ["asignacion_id"]
}`

const checkInSchema = `{
	"$id": "sessions/check-in",
	"type": "object",
	"properties": {
		"notas": {"type": "string"}
	}
}`

const checkOutSchema = `{
	"$id": "sessions/check-out",
	"type": "object",
	"properties": {
		"resumen": {"type": "string"}
	}
}`

const reviewSchema = `{
	"$id": "sessions/review",
	"type": "object",
	"properties": {
		"para": {"type": "string", "enum": ["CUIDADOR", "SOLICITANTE"]},
		"rating": {"type": "integer", "minimum": 1, "maximum": 5},
		"comentario": {"type": "string"}
	},
	"required": ["para", "rating"]
}`

var validator = schema.MustNewValidator(
	[]string{fromAssignmentSchema, checkInSchema, checkOutSchema, reviewSchema}, nil)

// API is the session restful interface
type API struct {
	gw        supabase.Client
	publisher events.Publisher
}

// New creates the sessions API and adds its routes to the router
func New(router *mux.Router, gw supabase.Client, publisher events.Publisher) *API {
	a := &API{gw: gw, publisher: publisher}
	a.handleRoutes(router)
	return a
}

func (a *API) handleRoutes(router *mux.Router) {
	logger.Default().Debugln("session routes")
	logger.Default().Debugln("  handle routes: /api/sessions/from-assignment POST")
	logger.Default().Debugln("  handle routes: /api/sessions/{id}/check-in/{propose,confirm} POST")
	logger.Default().Debugln("  handle routes: /api/sessions/{id}/check-out/{propose,confirm} POST")
	logger.Default().Debugln("  handle routes: /api/sessions/{id}/reviews POST")
	logger.Default().Debugln("  handle routes: /api/sessions GET")
	logger.Default().Debugln("  handle routes: /api/sessions/{id} GET")

	router.HandleFunc("/api/sessions/from-assignment", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		a.createFromAssignment(w, r)
	}).Methods(http.MethodOptions, http.MethodPost)

	router.HandleFunc("/api/sessions/{id}/check-in/propose", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		a.checkInPropose(w, r)
	}).Methods(http.MethodOptions, http.MethodPost)

	router.HandleFunc("/api/sessions/{id}/check-in/confirm", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		a.checkInConfirm(w, r)
	}).Methods(http.MethodOptions, http.MethodPost)

	router.HandleFunc("/api/sessions/{id}/check-out/propose", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		a.checkOutPropose(w, r)
	}).Methods(http.MethodOptions, http.MethodPost)

	router.HandleFunc("/api/sessions/{id}/check-out/confirm", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		a.checkOutConfirm(w, r)
	}).Methods(http.MethodOptions, http.MethodPost)

	router.HandleFunc("/api/sessions/{id}/reviews", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		a.createReview(w, r)
	}).Methods(http.MethodOptions, http.MethodPost)

	router.HandleFunc("/api/sessions", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		a.listMine(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc("/api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		a.getOne(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)
}

// invoke runs one session stored procedure and writes the verbatim result
func (a *API) invoke(w http.ResponseWriter, r *http.Request, name string, args map[string]interface{}, sessionID string) {
	var result json.RawMessage
	err := a.gw.WithContext(r.Context()).AsService().Rpc(name, args, &result)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}
	a.publisher.Publish(r.Context(), "sesion", core.OperationUpdate, sessionID, nil)
	core.WriteJSON(w, http.StatusOK, result)
}

func (a *API) createFromAssignment(w http.ResponseWriter, r *http.Request) {
	identity, ok := access.IdentityFromContext(r.Context())
	if !ok {
		core.WriteError(w, r, core.Errorf(core.KindUnauthenticated, "Missing identity"))
		return
	}
	body, _ := io.ReadAll(r.Body)
	if err := validator.ValidateBytes(body, "sessions/from-assignment"); err != nil {
		core.WriteError(w, r, core.Errorf(core.KindInvalidInput, "%v", err))
		return
	}
	var req struct {
		AsignacionID string `json:"asignacion_id"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		core.WriteError(w, r, core.Errorf(core.KindInvalidInput, "invalid json: %v", err))
		return
	}

	var result json.RawMessage
	err := a.gw.WithContext(r.Context()).AsService().
		Rpc("rpc_sesion_crear_desde_asignacion", map[string]interface{}{
			"p_asignacion_id": req.AsignacionID,
			"p_actor_id":      identity.Subject,
		}, &result)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}
	a.publisher.Publish(r.Context(), "sesion", core.OperationCreate, req.AsignacionID, nil)
	core.WriteJSON(w, http.StatusCreated, result)
}

func (a *API) sessionID(w http.ResponseWriter, r *http.Request) (string, access.Identity, bool) {
	identity, ok := access.IdentityFromContext(r.Context())
	if !ok {
		core.WriteError(w, r, core.Errorf(core.KindUnauthenticated, "Missing identity"))
		return "", identity, false
	}
	id := mux.Vars(r)["id"]
	if _, err := uuid.Parse(id); err != nil {
		core.WriteError(w, r, core.Errorf(core.KindInvalidInput, "invalid session id"))
		return "", identity, false
	}
	return id, identity, true
}

func (a *API) checkInPropose(w http.ResponseWriter, r *http.Request) {
	id, identity, ok := a.sessionID(w, r)
	if !ok {
		return
	}
	var req struct {
		Notas *string `json:"notas"`
	}
	body, _ := io.ReadAll(r.Body)
	if len(body) > 0 {
		if err := validator.ValidateBytes(body, "sessions/check-in"); err != nil {
			core.WriteError(w, r, core.Errorf(core.KindInvalidInput, "%v", err))
			return
		}
		if err := json.Unmarshal(body, &req); err != nil {
			core.WriteError(w, r, core.Errorf(core.KindInvalidInput, "invalid json: %v", err))
			return
		}
	}
	a.invoke(w, r, "rpc_sesion_check_in_proponer_simple", map[string]interface{}{
		"p_sesion_id": id,
		"p_actor_id":  identity.Subject,
		"p_notas":     req.Notas,
	}, id)
}

func (a *API) checkInConfirm(w http.ResponseWriter, r *http.Request) {
	id, identity, ok := a.sessionID(w, r)
	if !ok {
		return
	}
	a.invoke(w, r, "rpc_sesion_check_in_confirmar_simple", map[string]interface{}{
		"p_sesion_id": id,
		"p_actor_id":  identity.Subject,
	}, id)
}

func (a *API) checkOutBody(w http.ResponseWriter, r *http.Request) (*string, bool) {
	var req struct {
		Resumen *string `json:"resumen"`
	}
	body, _ := io.ReadAll(r.Body)
	if len(body) > 0 {
		if err := validator.ValidateBytes(body, "sessions/check-out"); err != nil {
			core.WriteError(w, r, core.Errorf(core.KindInvalidInput, "%v", err))
			return nil, false
		}
		if err := json.Unmarshal(body, &req); err != nil {
			core.WriteError(w, r, core.Errorf(core.KindInvalidInput, "invalid json: %v", err))
			return nil, false
		}
	}
	return req.Resumen, true
}

func (a *API) checkOutPropose(w http.ResponseWriter, r *http.Request) {
	id, identity, ok := a.sessionID(w, r)
	if !ok {
		return
	}
	resumen, ok := a.checkOutBody(w, r)
	if !ok {
		return
	}
	a.invoke(w, r, "rpc_sesion_check_out_proponer_simple", map[string]interface{}{
		"p_sesion_id": id,
		"p_actor_id":  identity.Subject,
		"p_resumen":   resumen,
	}, id)
}

func (a *API) checkOutConfirm(w http.ResponseWriter, r *http.Request) {
	id, identity, ok := a.sessionID(w, r)
	if !ok {
		return
	}
	resumen, ok := a.checkOutBody(w, r)
	if !ok {
		return
	}
	a.invoke(w, r, "rpc_sesion_check_out_confirmar_simple", map[string]interface{}{
		"p_sesion_id": id,
		"p_actor_id":  identity.Subject,
		"p_resumen":   resumen,
	}, id)
}

// createReview resolves the counterpart of the session through a join and
// enforces the review direction: only the request owner may review the
// caregiver, only the caregiver may review the owner
func (a *API) createReview(w http.ResponseWriter, r *http.Request) {
	id, identity, ok := a.sessionID(w, r)
	if !ok {
		return
	}
	body, _ := io.ReadAll(r.Body)
	if err := validator.ValidateBytes(body, "sessions/review"); err != nil {
		core.WriteError(w, r, core.Errorf(core.KindInvalidInput, "%v", err))
		return
	}
	var req struct {
		Para       string  `json:"para"`
		Rating     int     `json:"rating"`
		Comentario *string `json:"comentario"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		core.WriteError(w, r, core.Errorf(core.KindInvalidInput, "invalid json: %v", err))
		return
	}

	svc := a.gw.WithContext(r.Context()).AsService()

	var session struct {
		CuidadorID string `json:"cuidador_id"`
		Solicitud  struct {
			UsuarioID string `json:"usuario_id"`
		} `json:"solicitud"`
	}
	found, err := svc.From("sesiones").
		Select("cuidador_id,solicitud:solicitudes!sesiones_solicitud_id_fkey(usuario_id)").
		Eq("id", id).
		MaybeSingle(&session)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}
	if !found {
		core.WriteError(w, r, core.Errorf(core.KindNotFound, "session not found"))
		return
	}

	var toUser, rolFrom string
	if req.Para == "CUIDADOR" {
		if session.Solicitud.UsuarioID != identity.Subject {
			core.WriteError(w, r, core.Errorf(core.KindForbidden, "only the request owner may review the caregiver"))
			return
		}
		toUser = session.CuidadorID
		rolFrom = "SOLICITANTE"
	} else {
		if session.CuidadorID != identity.Subject {
			core.WriteError(w, r, core.Errorf(core.KindForbidden, "only the caregiver may review the request owner"))
			return
		}
		toUser = session.Solicitud.UsuarioID
		rolFrom = "CUIDADOR"
	}

	var resena json.RawMessage
	err = svc.From("sesiones_resenas").Insert(map[string]interface{}{
		"sesion_id":    id,
		"from_user_id": identity.Subject,
		"to_user_id":   toUser,
		"rol_from":     rolFrom,
		"rating":       req.Rating,
		"comentario":   req.Comentario,
	}, &resena)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}

	a.publisher.Publish(r.Context(), "sesion_resena", core.OperationCreate, id, nil)
	core.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Reseña registrada",
		"resena":  resena,
	})
}

func (a *API) getOne(w http.ResponseWriter, r *http.Request) {
	id, _, ok := a.sessionID(w, r)
	if !ok {
		return
	}

	var row json.RawMessage
	found, err := a.gw.WithContext(r.Context()).AsService().
		From("sesiones").Select("*").Eq("id", id).MaybeSingle(&row)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}
	if !found {
		core.WriteError(w, r, core.Errorf(core.KindNotFound, "session not found"))
		return
	}
	core.WriteJSON(w, http.StatusOK, row)
}

// listMine lists the caller's sessions, as caregiver directly or as request
// owner through the solicitud join
func (a *API) listMine(w http.ResponseWriter, r *http.Request) {
	identity, ok := access.IdentityFromContext(r.Context())
	if !ok {
		core.WriteError(w, r, core.Errorf(core.KindUnauthenticated, "Missing identity"))
		return
	}

	rol := r.URL.Query().Get("rol")
	if rol == "" {
		rol = "CUIDADOR"
	}

	svc := a.gw.WithContext(r.Context()).AsService()
	rows := []json.RawMessage{}
	var err error
	switch rol {
	case "CUIDADOR":
		err = svc.From("sesiones").
			Select("*").
			Eq("cuidador_id", identity.Subject).
			Order("creado_en", true).
			Get(&rows)
	case "SOLICITANTE":
		err = svc.From("sesiones").
			Select("*,solicitud:solicitudes!sesiones_solicitud_id_fkey(usuario_id)").
			Eq("solicitud.usuario_id", identity.Subject).
			Order("creado_en", true).
			Get(&rows)
	default:
		core.WriteError(w, r, core.Errorf(core.KindInvalidInput, "rol must be CUIDADOR or SOLICITANTE"))
		return
	}
	if err != nil {
		core.WriteError(w, r, err)
		return
	}
	core.WriteJSON(w, http.StatusOK, rows)
}
