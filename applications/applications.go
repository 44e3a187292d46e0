/*Package applications provides the caregiver application routes: applying to
an open service request, listing the applications of an owned request and
accepting one of them.

Accepting an application is a single stored procedure call; the selection and
all its side effects happen inside the platform.
*/
package applications

import (
	"errors"
	"io"
	"net/http"
	"strings"

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

const createSchema = `{
	"$id": "applications/create",
	"type": "object",
	"properties": {
		"solicitud_id": {"type": "string", "minLength": 1},
		"mensaje": {"type": "string"},
		"tarifa_propuesta": {"type": "number", "minimum": 0}
	},
	"required": ["solicitud_id"]
}`

const acceptSchema = `{
	"$id": "applications/accept",
	"type": "object",
	"properties": {
		"tarifa_acordada": {"type": "number", "minimum": 0}
	},
	"required": ["tarifa_acordada"]
}`

const listSelect = `id,mensaje,tarifa_propuesta,precio_solicitante,estado,creado_en,` +
	`cuidador:cuidadores!postulaciones_cuidador_id_fkey(usuario_id,bio,anios_experiencia,rating_promedio,tipos_servicio,` +
	`usuario:usuarios!cuidadores_usuario_id_fkey(nombre_completo,correo,foto_url))`

var validator = schema.MustNewValidator([]string{createSchema, acceptSchema}, nil)

// API is the application restful interface
type API struct {
	gw        supabase.Client
	publisher events.Publisher
}

// New creates the applications API and adds its routes to the router
func New(router *mux.Router, gw supabase.Client, publisher events.Publisher) *API {
	a := &API{gw: gw, publisher: publisher}
	a.handleRoutes(router)
	return a
}

func (a *API) handleRoutes(router *mux.Router) {
	logger.Default().Debugln("application routes")
	logger.Default().Debugln("  handle routes: /api/applications POST")
	logger.Default().Debugln("  handle routes: /api/applications/request/{id} GET")
	logger.Default().Debugln("  handle routes: /api/applications/{id}/accept POST")

	router.HandleFunc("/api/applications", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		a.create(w, r)
	}).Methods(http.MethodOptions, http.MethodPost)

	router.HandleFunc("/api/applications/request/{id}", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		a.listByRequest(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc("/api/applications/{id}/accept", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		a.accept(w, r)
	}).Methods(http.MethodOptions, http.MethodPost)
}

// isDuplicateApplication recognizes the platform's uniqueness violation for
// one active application per caregiver and request. The remote message text
// is matched verbatim.
func isDuplicateApplication(err error) bool {
	var e *core.Error
	if !errors.As(err, &e) || e.Kind != core.KindRemoteFailed {
		return false
	}
	return strings.Contains(e.Message, "duplicate key") ||
		strings.Contains(e.Message, "postulaciones_unicas_activas")
}

func (a *API) create(w http.ResponseWriter, r *http.Request) {
	identity, ok := access.IdentityFromContext(r.Context())
	if !ok {
		core.WriteError(w, r, core.Errorf(core.KindUnauthenticated, "Missing identity"))
		return
	}
	body, _ := io.ReadAll(r.Body)
	if err := validator.ValidateBytes(body, "applications/create"); err != nil {
		core.WriteError(w, r, core.Errorf(core.KindInvalidInput, "%v", err))
		return
	}
	var req struct {
		SolicitudID     string   `json:"solicitud_id"`
		Mensaje         *string  `json:"mensaje"`
		TarifaPropuesta *float64 `json:"tarifa_propuesta"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		core.WriteError(w, r, core.Errorf(core.KindInvalidInput, "invalid json: %v", err))
		return
	}

	var postulacion json.RawMessage
	err := a.gw.WithContext(r.Context()).AsService().
		From("postulaciones").Insert(map[string]interface{}{
		"solicitud_id":     req.SolicitudID,
		"cuidador_id":      identity.Subject,
		"mensaje":          req.Mensaje,
		"tarifa_propuesta": req.TarifaPropuesta,
		"estado":           "POSTULADO",
	}, &postulacion)
	if err != nil {
		if isDuplicateApplication(err) {
			core.WriteError(w, r, core.Errorf(core.KindConflict,
				"Ya te postulaste a esta solicitud (o está seleccionada)."))
			return
		}
		core.WriteError(w, r, err)
		return
	}

	a.publisher.Publish(r.Context(), "postulacion", core.OperationCreate, req.SolicitudID, nil)
	core.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"message":     "Postulación creada",
		"postulacion": postulacion,
	})
}

// listByRequest lists all applications of one service request. Only the owner
// of the request may see them.
func (a *API) listByRequest(w http.ResponseWriter, r *http.Request) {
	identity, ok := access.IdentityFromContext(r.Context())
	if !ok {
		core.WriteError(w, r, core.Errorf(core.KindUnauthenticated, "Missing identity"))
		return
	}
	params := mux.Vars(r)
	solicitudID := params["id"]
	if _, err := uuid.Parse(solicitudID); err != nil {
		core.WriteError(w, r, core.Errorf(core.KindInvalidInput, "invalid request id"))
		return
	}

	svc := a.gw.WithContext(r.Context()).AsService()

	var solicitud struct {
		ID        string `json:"id"`
		UsuarioID string `json:"usuario_id"`
	}
	found, err := svc.From("solicitudes").Select("id,usuario_id").Eq("id", solicitudID).MaybeSingle(&solicitud)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}
	if !found {
		core.WriteError(w, r, core.Errorf(core.KindNotFound, "request not found"))
		return
	}
	if solicitud.UsuarioID != identity.Subject {
		core.WriteError(w, r, core.Errorf(core.KindForbidden, "not your request"))
		return
	}

	var rows []struct {
		ID                string   `json:"id"`
		Mensaje           *string  `json:"mensaje"`
		TarifaPropuesta   *float64 `json:"tarifa_propuesta"`
		PrecioSolicitante *float64 `json:"precio_solicitante"`
		Estado            string   `json:"estado"`
		CreadoEn          string   `json:"creado_en"`
		Cuidador          *struct {
			UsuarioID        string          `json:"usuario_id"`
			Bio              *string         `json:"bio"`
			AniosExperiencia *int            `json:"anios_experiencia"`
			RatingPromedio   *float64        `json:"rating_promedio"`
			TiposServicio    []string        `json:"tipos_servicio"`
			Usuario          json.RawMessage `json:"usuario"`
		} `json:"cuidador"`
	}
	err = svc.From("postulaciones").
		Select(listSelect).
		Eq("solicitud_id", solicitudID).
		Order("creado_en", true).
		Get(&rows)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}

	mapped := make([]map[string]interface{}, 0, len(rows))
	for _, p := range rows {
		cuidador := map[string]interface{}{}
		if p.Cuidador != nil {
			cuidador["bio"] = p.Cuidador.Bio
			cuidador["rating_promedio"] = p.Cuidador.RatingPromedio
			cuidador["tipos_servicio"] = p.Cuidador.TiposServicio
			cuidador["usuario"] = p.Cuidador.Usuario
		}
		mapped = append(mapped, map[string]interface{}{
			"id":                 p.ID,
			"mensaje":            p.Mensaje,
			"tarifa_propuesta":   p.TarifaPropuesta,
			"precio_solicitante": p.PrecioSolicitante,
			"estado":             p.Estado,
			"creado_en":          p.CreadoEn,
			"cuidador":           cuidador,
		})
	}
	core.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"solicitud_id":  solicitudID,
		"total":         len(mapped),
		"postulaciones": mapped,
	})
}

// accept selects an application: exactly one stored procedure call, its
// result returned verbatim
func (a *API) accept(w http.ResponseWriter, r *http.Request) {
	identity, ok := access.IdentityFromContext(r.Context())
	if !ok {
		core.WriteError(w, r, core.Errorf(core.KindUnauthenticated, "Missing identity"))
		return
	}
	params := mux.Vars(r)
	postulacionID := params["id"]
	if _, err := uuid.Parse(postulacionID); err != nil {
		core.WriteError(w, r, core.Errorf(core.KindInvalidInput, "invalid application id"))
		return
	}
	body, _ := io.ReadAll(r.Body)
	if err := validator.ValidateBytes(body, "applications/accept"); err != nil {
		core.WriteError(w, r, core.Errorf(core.KindInvalidInput, "%v", err))
		return
	}
	var req struct {
		TarifaAcordada float64 `json:"tarifa_acordada"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		core.WriteError(w, r, core.Errorf(core.KindInvalidInput, "invalid json: %v", err))
		return
	}

	var result json.RawMessage
	err := a.gw.WithContext(r.Context()).AsService().
		Rpc("rpc_seleccionar_postulacion", map[string]interface{}{
			"p_postulacion_id":  postulacionID,
			"p_actor_id":        identity.Subject,
			"p_tarifa_acordada": req.TarifaAcordada,
		}, &result)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}

	a.publisher.Publish(r.Context(), "postulacion", core.OperationUpdate, postulacionID, nil)
	core.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Postulación aceptada",
		"result":  result,
	})
}
