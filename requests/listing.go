package requests

import (
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/cuido-tech/cuido-bff/core"
	"github.com/cuido-tech/cuido-bff/core/access"
)

// estados is the closed set of request states, also the grouping keys of the
// by-status listing
var estados = []string{"ABIERTA", "EN_REVISION", "ASIGNADA", "ACTIVA", "COMPLETADA", "CANCELADA"}

const listSelect = `id,tipo,titulo,descripcion,estado,precio_sugerido,creado_en,` +
	`solicitud_fechas(fecha,hora_inicio,hora_fin),postulaciones(count)`

const detailSelect = `*,solicitud_fechas(*),solicitud_contacto_cercano(*),` +
	`solicitud_abuelos_detalle(*),solicitud_abuelos_personas(*,solicitud_abuelos_medicamentos(*)),` +
	`solicitud_ninios_detalle(*),solicitud_ninios_personas(*,solicitud_ninios_medicamentos(*)),` +
	`solicitud_mascotas_detalle(*),solicitud_mascotas_animales(*),solicitud_imagenes(*)`

type listedRow struct {
	ID             string            `json:"id"`
	Tipo           string            `json:"tipo"`
	Titulo         string            `json:"titulo"`
	Descripcion    string            `json:"descripcion"`
	Estado         string            `json:"estado"`
	PrecioSugerido *float64          `json:"precio_sugerido"`
	CreadoEn       string            `json:"creado_en"`
	Fechas         []json.RawMessage `json:"solicitud_fechas"`
	Postulaciones  []struct {
		Count int `json:"count"`
	} `json:"postulaciones"`
}

type listedItem struct {
	ID                 string            `json:"id"`
	Tipo               string            `json:"tipo"`
	Titulo             string            `json:"titulo"`
	Descripcion        string            `json:"descripcion"`
	Estado             string            `json:"estado"`
	PrecioSugerido     *float64          `json:"precio_sugerido"`
	CreadoEn           string            `json:"creado_en"`
	Fechas             []json.RawMessage `json:"fechas"`
	PostulacionesCount int               `json:"postulaciones_count"`
}

func (row listedRow) item() listedItem {
	count := 0
	if len(row.Postulaciones) > 0 {
		count = row.Postulaciones[0].Count
	}
	fechas := row.Fechas
	if fechas == nil {
		fechas = []json.RawMessage{}
	}
	return listedItem{
		ID:                 row.ID,
		Tipo:               row.Tipo,
		Titulo:             row.Titulo,
		Descripcion:        row.Descripcion,
		Estado:             row.Estado,
		PrecioSugerido:     row.PrecioSugerido,
		CreadoEn:           row.CreadoEn,
		Fechas:             fechas,
		PostulacionesCount: count,
	}
}

func pagination(r *http.Request) (page, limit int) {
	page, limit = 1, 10
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}
	return
}

// listMine is the simple unpaginated listing of the caller's own requests
func (a *API) listMine(w http.ResponseWriter, r *http.Request) {
	identity, ok := access.IdentityFromContext(r.Context())
	if !ok {
		core.WriteError(w, r, core.Errorf(core.KindUnauthenticated, "Missing identity"))
		return
	}

	query := a.gw.WithContext(r.Context()).AsService().
		From("solicitudes").
		Select("*,solicitud_fechas(*)").
		Eq("usuario_id", identity.Subject).
		Order("creado_en", true)
	if tipo := r.URL.Query().Get("type"); tipo != "" {
		query = query.Eq("tipo", tipo)
	}

	rows := []json.RawMessage{}
	if err := query.Get(&rows); err != nil {
		core.WriteError(w, r, err)
		return
	}
	core.WriteJSON(w, http.StatusOK, rows)
}

// listOpen is the caregiver feed: open requests of the caregiver's two service
// categories, excluding the caregiver's own requests and requests already
// applied to
func (a *API) listOpen(w http.ResponseWriter, r *http.Request) {
	identity, ok := access.IdentityFromContext(r.Context())
	if !ok {
		core.WriteError(w, r, core.Errorf(core.KindUnauthenticated, "Missing identity"))
		return
	}
	svc := a.gw.WithContext(r.Context()).AsService()

	var caregiver struct {
		TiposServicio []string `json:"tipos_servicio"`
	}
	found, err := svc.From("cuidadores").Select("tipos_servicio").
		Eq("usuario_id", identity.Subject).MaybeSingle(&caregiver)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}
	if !found {
		core.WriteError(w, r, core.Errorf(core.KindNotFound, "no caregiver profile yet"))
		return
	}
	if len(caregiver.TiposServicio) != 2 {
		core.WriteError(w, r, core.Errorf(core.KindInvalidInput, "invalid caregiver profile (tipos_servicio)"))
		return
	}

	var applied []struct {
		SolicitudID string `json:"solicitud_id"`
	}
	err = svc.From("postulaciones").Select("solicitud_id").
		Eq("cuidador_id", identity.Subject).Get(&applied)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}
	excluded := make([]string, 0, len(applied))
	for _, p := range applied {
		excluded = append(excluded, p.SolicitudID)
	}

	page, limit := pagination(r)
	query := svc.From("solicitudes").
		Select("id,tipo,titulo,precio_sugerido,descripcion,creado_en,solicitud_fechas(fecha,hora_inicio,hora_fin)").
		Eq("estado", "ABIERTA").
		In("tipo", caregiver.TiposServicio).
		Neq("usuario_id", identity.Subject).
		Order("creado_en", true).
		Page(page, limit)
	if len(excluded) > 0 {
		query = query.NotIn("id", excluded)
	}
	if fecha := r.URL.Query().Get("fecha"); fecha != "" {
		query = query.Eq("solicitud_fechas.fecha", fecha)
	}

	var rows []struct {
		ID             string            `json:"id"`
		Tipo           string            `json:"tipo"`
		Titulo         string            `json:"titulo"`
		PrecioSugerido *float64          `json:"precio_sugerido"`
		Descripcion    string            `json:"descripcion"`
		CreadoEn       string            `json:"creado_en"`
		Fechas         []json.RawMessage `json:"solicitud_fechas"`
	}
	if err := query.Get(&rows); err != nil {
		core.WriteError(w, r, err)
		return
	}

	items := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		fechas := row.Fechas
		if fechas == nil {
			fechas = []json.RawMessage{}
		}
		items = append(items, map[string]interface{}{
			"id":              row.ID,
			"tipo":            row.Tipo,
			"titulo":          row.Titulo,
			"precio_sugerido": row.PrecioSugerido,
			"descripcion":     row.Descripcion,
			"creado_en":       row.CreadoEn,
			"fechas":          fechas,
		})
	}
	core.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"page":  page,
		"limit": limit,
		"count": len(items),
		"items": items,
	})
}

func (a *API) listMinePaged(w http.ResponseWriter, r *http.Request) {
	identity, ok := access.IdentityFromContext(r.Context())
	if !ok {
		core.WriteError(w, r, core.Errorf(core.KindUnauthenticated, "Missing identity"))
		return
	}

	page, limit := pagination(r)
	query := a.gw.WithContext(r.Context()).AsService().
		From("solicitudes").
		Select(listSelect).
		Eq("usuario_id", identity.Subject).
		Order("creado_en", true).
		Page(page, limit)
	if estado := r.URL.Query().Get("estado"); estado != "" {
		query = query.Eq("estado", estado)
	}

	var rows []listedRow
	if err := query.Get(&rows); err != nil {
		core.WriteError(w, r, err)
		return
	}

	items := make([]listedItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.item())
	}
	core.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"page":  page,
		"limit": limit,
		"count": len(items),
		"items": items,
	})
}

// listMineByStatus groups the caller's requests into a map keyed by all six
// estados; states without requests map to empty lists
func (a *API) listMineByStatus(w http.ResponseWriter, r *http.Request) {
	identity, ok := access.IdentityFromContext(r.Context())
	if !ok {
		core.WriteError(w, r, core.Errorf(core.KindUnauthenticated, "Missing identity"))
		return
	}

	var rows []listedRow
	err := a.gw.WithContext(r.Context()).AsService().
		From("solicitudes").
		Select(listSelect).
		Eq("usuario_id", identity.Subject).
		Order("creado_en", true).
		Get(&rows)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}

	groups := map[string][]listedItem{}
	for _, estado := range estados {
		groups[estado] = []listedItem{}
	}
	for _, row := range rows {
		if _, ok := groups[row.Estado]; ok {
			groups[row.Estado] = append(groups[row.Estado], row.item())
		}
	}
	core.WriteJSON(w, http.StatusOK, groups)
}

// category-irrelevant sub-objects dropped from the detail response per tipo
var irrelevantDetailKeys = map[string][]string{
	"ABUELOS": {
		"solicitud_ninios_detalle", "solicitud_ninios_personas", "solicitud_ninios_medicamentos",
		"solicitud_mascotas_detalle", "solicitud_mascotas_animales",
	},
	"NINIOS": {
		"solicitud_abuelos_detalle", "solicitud_abuelos_personas", "solicitud_abuelos_medicamentos",
		"solicitud_mascotas_detalle", "solicitud_mascotas_animales",
	},
	"MASCOTAS": {
		"solicitud_abuelos_detalle", "solicitud_abuelos_personas", "solicitud_abuelos_medicamentos",
		"solicitud_ninios_detalle", "solicitud_ninios_personas", "solicitud_ninios_medicamentos",
	},
}

func (a *API) getOne(w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	id := params["id"]
	if _, err := uuid.Parse(id); err != nil {
		core.WriteError(w, r, core.Errorf(core.KindInvalidInput, "invalid request id"))
		return
	}

	var solicitud map[string]interface{}
	found, err := a.gw.WithContext(r.Context()).AsService().
		From("solicitudes").
		Select(detailSelect).
		Eq("id", id).
		MaybeSingle(&solicitud)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}
	if !found {
		core.WriteError(w, r, core.Errorf(core.KindNotFound, "request not found"))
		return
	}

	tipo, _ := solicitud["tipo"].(string)
	for _, key := range irrelevantDetailKeys[tipo] {
		delete(solicitud, key)
	}
	core.WriteJSON(w, http.StatusOK, solicitud)
}

// cancel soft-deletes a request by setting estado CANCELADA. Only the owner
// may cancel.
func (a *API) cancel(w http.ResponseWriter, r *http.Request) {
	identity, ok := access.IdentityFromContext(r.Context())
	if !ok {
		core.WriteError(w, r, core.Errorf(core.KindUnauthenticated, "Missing identity"))
		return
	}
	params := mux.Vars(r)
	id := params["id"]
	if _, err := uuid.Parse(id); err != nil {
		core.WriteError(w, r, core.Errorf(core.KindInvalidInput, "invalid request id"))
		return
	}

	svc := a.gw.WithContext(r.Context()).AsService()

	var owner struct {
		UsuarioID string `json:"usuario_id"`
	}
	found, err := svc.From("solicitudes").Select("usuario_id").Eq("id", id).MaybeSingle(&owner)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}
	if !found {
		core.WriteError(w, r, core.Errorf(core.KindNotFound, "request not found"))
		return
	}
	if owner.UsuarioID != identity.Subject {
		core.WriteError(w, r, core.Errorf(core.KindForbidden, "not your request"))
		return
	}

	var solicitud json.RawMessage
	err = svc.From("solicitudes").Eq("id", id).
		Update(map[string]interface{}{"estado": "CANCELADA"}, &solicitud)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}

	a.publisher.Publish(r.Context(), "solicitud", core.OperationDelete, id, nil)
	core.WriteJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "solicitud": solicitud})
}
