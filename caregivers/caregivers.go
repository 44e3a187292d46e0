// Package caregivers provides the caregiver profile routes, the caller's own
// full profile and the public subset other users may see.
package caregivers

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

const publicSelect = "usuario_id, bio, anios_experiencia, horas_acumuladas, rating_promedio, " +
	"tipos_servicio, tarifa_hora, usuario:usuarios!cuidadores_usuario_id_fkey(nombre_completo, foto_url)"

const updateSchema = `{
	"$id": "caregivers/update",
	"type": "object",
	"properties": {
		"bio": {"type": "string", "maxLength": 600},
		"anios_experiencia": {"type": "integer", "minimum": 0, "maximum": 60},
		"tarifa_hora": {"type": "number", "minimum": 0}
	}
}`

var validator = schema.MustNewValidator([]string{updateSchema}, nil)

// API is the caregiver profile restful interface
type API struct {
	gw        supabase.Client
	publisher events.Publisher
}

// New creates the caregivers API and adds its routes to the router
func New(router *mux.Router, gw supabase.Client, publisher events.Publisher) *API {
	a := &API{gw: gw, publisher: publisher}
	a.handleRoutes(router)
	return a
}

func (a *API) handleRoutes(router *mux.Router) {
	logger.Default().Debugln("caregiver routes")
	logger.Default().Debugln("  handle routes: /api/caregivers/me GET PATCH")
	logger.Default().Debugln("  handle routes: /api/caregivers/{id} GET")

	router.HandleFunc("/api/caregivers/me", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		a.getMe(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc("/api/caregivers/me", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		a.updateMe(w, r)
	}).Methods(http.MethodOptions, http.MethodPatch)

	router.HandleFunc("/api/caregivers/{id}", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		a.getPublic(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)
}

func (a *API) getMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := access.IdentityFromContext(r.Context())
	if !ok {
		core.WriteError(w, r, core.Errorf(core.KindUnauthenticated, "Missing identity"))
		return
	}

	var row json.RawMessage
	found, err := a.gw.WithContext(r.Context()).AsService().
		From("cuidadores").
		Select("*, usuario:usuarios!cuidadores_usuario_id_fkey(*)").
		Eq("usuario_id", identity.Subject).
		MaybeSingle(&row)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}
	if !found {
		core.WriteError(w, r, core.Errorf(core.KindNotFound, "no caregiver profile yet"))
		return
	}
	core.WriteJSON(w, http.StatusOK, row)
}

func (a *API) getPublic(w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	id := params["id"]
	if _, err := uuid.Parse(id); err != nil {
		core.WriteError(w, r, core.Errorf(core.KindInvalidInput, "invalid caregiver id"))
		return
	}

	var row json.RawMessage
	found, err := a.gw.WithContext(r.Context()).AsService().
		From("cuidadores").
		Select(publicSelect).
		Eq("usuario_id", id).
		MaybeSingle(&row)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}
	if !found {
		core.WriteError(w, r, core.Errorf(core.KindNotFound, "caregiver not found"))
		return
	}
	core.WriteJSON(w, http.StatusOK, row)
}

type updateRequest struct {
	Bio              *string  `json:"bio"`
	AniosExperiencia *int     `json:"anios_experiencia"`
	TarifaHora       *float64 `json:"tarifa_hora"`
}

func (a *API) updateMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := access.IdentityFromContext(r.Context())
	if !ok {
		core.WriteError(w, r, core.Errorf(core.KindUnauthenticated, "Missing identity"))
		return
	}
	body, _ := io.ReadAll(r.Body)
	if err := validator.ValidateBytes(body, "caregivers/update"); err != nil {
		core.WriteError(w, r, core.Errorf(core.KindInvalidInput, "%v", err))
		return
	}
	var req updateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		core.WriteError(w, r, core.Errorf(core.KindInvalidInput, "invalid json: %v", err))
		return
	}

	svc := a.gw.WithContext(r.Context()).AsService()

	// the update must not create a caregiver profile on the fly
	var existing struct {
		UsuarioID string `json:"usuario_id"`
	}
	found, err := svc.From("cuidadores").Select("usuario_id").Eq("usuario_id", identity.Subject).MaybeSingle(&existing)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}
	if !found {
		core.WriteError(w, r, core.Errorf(core.KindNotFound, "no caregiver profile yet"))
		return
	}

	updates := map[string]interface{}{}
	if req.Bio != nil {
		updates["bio"] = *req.Bio
	}
	if req.AniosExperiencia != nil {
		updates["anios_experiencia"] = *req.AniosExperiencia
	}
	if req.TarifaHora != nil {
		updates["tarifa_hora"] = *req.TarifaHora
	}

	var row json.RawMessage
	if len(updates) == 0 {
		err = svc.From("cuidadores").Select("*").Eq("usuario_id", identity.Subject).Single(&row)
	} else {
		err = svc.From("cuidadores").Eq("usuario_id", identity.Subject).Update(updates, &row)
	}
	if err != nil {
		core.WriteError(w, r, err)
		return
	}

	if len(updates) > 0 {
		a.publisher.Publish(r.Context(), "cuidador", core.OperationUpdate, identity.Subject, nil)
	}
	core.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message":  "Perfil actualizado",
		"cuidador": row,
	})
}
