package sessions_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuido-tech/cuido-bff/events"
	"github.com/cuido-tech/cuido-bff/platformtest"
	"github.com/cuido-tech/cuido-bff/sessions"
)

const (
	ownerID      = "3f2d8a44-1111-4a5e-9c77-aaaaaaaaaaaa"
	caregiverID  = "9b1c0d2e-2222-4f6a-8d33-bbbbbbbbbbbb"
	sessionID    = "4d5e6f70-7777-4e5d-8b99-000000000000"
	assignmentID = "8e9f0a1b-8888-4f6e-9caa-111111111111"
)

func newAPI(platform *platformtest.Platform) http.Handler {
	router := platform.NewRouter()
	sessions.New(router, platform.Gateway(), events.NullPublisher{})
	return router
}

func authed(r *http.Request) *http.Request {
	r.Header.Set("Authorization", "Bearer caller-token")
	return r
}

func TestCreateFromAssignment(t *testing.T) {
	platform := platformtest.New()
	defer platform.Close()
	platform.StubAuthUser("caller-token", caregiverID, "maria@example.com")
	platform.HandleJSON(http.MethodPost, platformtest.RpcPath("rpc_sesion_crear_desde_asignacion"),
		http.StatusOK, map[string]interface{}{"sesion_id": sessionID, "estado": "PROGRAMADA"})

	router := newAPI(platform)

	r := authed(httptest.NewRequest(http.MethodPost, "/api/sessions/from-assignment",
		strings.NewReader(`{"asignacion_id":"`+assignmentID+`"}`)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), sessionID)

	calls := platform.CallsTo(http.MethodPost, platformtest.RpcPath("rpc_sesion_crear_desde_asignacion"))
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]interface{}{
		"p_asignacion_id": assignmentID,
		"p_actor_id":      caregiverID,
	}, calls[0].BodyJSON())
}

func TestCheckInProposeForwardsNotes(t *testing.T) {
	platform := platformtest.New()
	defer platform.Close()
	platform.StubAuthUser("caller-token", caregiverID, "maria@example.com")
	platform.HandleJSON(http.MethodPost, platformtest.RpcPath("rpc_sesion_check_in_proponer_simple"),
		http.StatusOK, map[string]interface{}{"estado": "CHECKIN_PROPUESTO"})

	router := newAPI(platform)

	r := authed(httptest.NewRequest(http.MethodPost, "/api/sessions/"+sessionID+"/check-in/propose",
		strings.NewReader(`{"notas":"llegué a las 14:05"}`)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)

	calls := platform.CallsTo(http.MethodPost, platformtest.RpcPath("rpc_sesion_check_in_proponer_simple"))
	require.Len(t, calls, 1)
	body := calls[0].BodyJSON()
	assert.Equal(t, sessionID, body["p_sesion_id"])
	assert.Equal(t, caregiverID, body["p_actor_id"])
	assert.Equal(t, "llegué a las 14:05", body["p_notas"])
}

func TestCheckInProposeWithoutBody(t *testing.T) {
	platform := platformtest.New()
	defer platform.Close()
	platform.StubAuthUser("caller-token", caregiverID, "maria@example.com")
	platform.HandleJSON(http.MethodPost, platformtest.RpcPath("rpc_sesion_check_in_proponer_simple"),
		http.StatusOK, map[string]interface{}{"estado": "CHECKIN_PROPUESTO"})

	router := newAPI(platform)

	r := authed(httptest.NewRequest(http.MethodPost, "/api/sessions/"+sessionID+"/check-in/propose", nil))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)

	calls := platform.CallsTo(http.MethodPost, platformtest.RpcPath("rpc_sesion_check_in_proponer_simple"))
	require.Len(t, calls, 1)
	assert.Nil(t, calls[0].BodyJSON()["p_notas"])
}

func TestCheckOutConfirmForwardsSummary(t *testing.T) {
	platform := platformtest.New()
	defer platform.Close()
	platform.StubAuthUser("caller-token", ownerID, "ana@example.com")
	platform.HandleJSON(http.MethodPost, platformtest.RpcPath("rpc_sesion_check_out_confirmar_simple"),
		http.StatusOK, map[string]interface{}{"estado": "COMPLETADA"})

	router := newAPI(platform)

	r := authed(httptest.NewRequest(http.MethodPost, "/api/sessions/"+sessionID+"/check-out/confirm",
		strings.NewReader(`{"resumen":"todo en orden"}`)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)

	calls := platform.CallsTo(http.MethodPost, platformtest.RpcPath("rpc_sesion_check_out_confirmar_simple"))
	require.Len(t, calls, 1)
	assert.Equal(t, "todo en orden", calls[0].BodyJSON()["p_resumen"])
}

func TestTransitionRejectsMalformedSessionID(t *testing.T) {
	platform := platformtest.New()
	defer platform.Close()
	platform.StubAuthUser("caller-token", caregiverID, "maria@example.com")

	router := newAPI(platform)

	r := authed(httptest.NewRequest(http.MethodPost, "/api/sessions/not-a-uuid/check-in/confirm", nil))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, platform.CallsTo(http.MethodPost, platformtest.RpcPath("rpc_sesion_check_in_confirmar_simple")))
}

func stubSessionRow(platform *platformtest.Platform) {
	platform.HandleJSON(http.MethodGet, platformtest.TablePath("sesiones"), http.StatusOK,
		[]map[string]interface{}{{
			"cuidador_id": caregiverID,
			"solicitud":   map[string]interface{}{"usuario_id": ownerID},
		}})
}

func TestReviewCaregiverRequiresRequestOwner(t *testing.T) {
	platform := platformtest.New()
	defer platform.Close()
	// the caregiver tries to review themselves
	platform.StubAuthUser("caller-token", caregiverID, "maria@example.com")
	stubSessionRow(platform)

	router := newAPI(platform)

	r := authed(httptest.NewRequest(http.MethodPost, "/api/sessions/"+sessionID+"/reviews",
		strings.NewReader(`{"para":"CUIDADOR","rating":5}`)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "only the request owner may review the caregiver")
	assert.Empty(t, platform.CallsTo(http.MethodPost, platformtest.TablePath("sesiones_resenas")))
}

func TestReviewCaregiverByOwner(t *testing.T) {
	platform := platformtest.New()
	defer platform.Close()
	platform.StubAuthUser("caller-token", ownerID, "ana@example.com")
	stubSessionRow(platform)
	platform.HandleJSON(http.MethodPost, platformtest.TablePath("sesiones_resenas"), http.StatusCreated,
		[]map[string]interface{}{{"id": "r1", "rating": 5}})

	router := newAPI(platform)

	r := authed(httptest.NewRequest(http.MethodPost, "/api/sessions/"+sessionID+"/reviews",
		strings.NewReader(`{"para":"CUIDADOR","rating":5,"comentario":"excelente trato"}`)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "Reseña registrada")

	calls := platform.CallsTo(http.MethodPost, platformtest.TablePath("sesiones_resenas"))
	require.Len(t, calls, 1)
	body := calls[0].BodyJSON()
	assert.Equal(t, ownerID, body["from_user_id"])
	assert.Equal(t, caregiverID, body["to_user_id"])
	assert.Equal(t, "SOLICITANTE", body["rol_from"])
}

func TestReviewOwnerByCaregiver(t *testing.T) {
	platform := platformtest.New()
	defer platform.Close()
	platform.StubAuthUser("caller-token", caregiverID, "maria@example.com")
	stubSessionRow(platform)
	platform.HandleJSON(http.MethodPost, platformtest.TablePath("sesiones_resenas"), http.StatusCreated,
		[]map[string]interface{}{{"id": "r2", "rating": 4}})

	router := newAPI(platform)

	r := authed(httptest.NewRequest(http.MethodPost, "/api/sessions/"+sessionID+"/reviews",
		strings.NewReader(`{"para":"SOLICITANTE","rating":4}`)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusCreated, w.Code)

	calls := platform.CallsTo(http.MethodPost, platformtest.TablePath("sesiones_resenas"))
	require.Len(t, calls, 1)
	body := calls[0].BodyJSON()
	assert.Equal(t, caregiverID, body["from_user_id"])
	assert.Equal(t, ownerID, body["to_user_id"])
	assert.Equal(t, "CUIDADOR", body["rol_from"])
}

func TestReviewRejectsOutOfRangeRating(t *testing.T) {
	platform := platformtest.New()
	defer platform.Close()
	platform.StubAuthUser("caller-token", ownerID, "ana@example.com")

	router := newAPI(platform)

	r := authed(httptest.NewRequest(http.MethodPost, "/api/sessions/"+sessionID+"/reviews",
		strings.NewReader(`{"para":"CUIDADOR","rating":6}`)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, platform.CallsTo(http.MethodGet, platformtest.TablePath("sesiones")))
}

func TestListMineDefaultsToCaregiverRole(t *testing.T) {
	platform := platformtest.New()
	defer platform.Close()
	platform.StubAuthUser("caller-token", caregiverID, "maria@example.com")
	platform.HandleJSON(http.MethodGet, platformtest.TablePath("sesiones"), http.StatusOK,
		[]map[string]interface{}{{"id": sessionID}})

	router := newAPI(platform)

	r := authed(httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)

	calls := platform.CallsTo(http.MethodGet, platformtest.TablePath("sesiones"))
	require.Len(t, calls, 1)
	assert.Equal(t, "eq."+caregiverID, calls[0].Query.Get("cuidador_id"))
}

func TestListMineAsRequestOwnerJoinsSolicitud(t *testing.T) {
	platform := platformtest.New()
	defer platform.Close()
	platform.StubAuthUser("caller-token", ownerID, "ana@example.com")
	platform.HandleJSON(http.MethodGet, platformtest.TablePath("sesiones"), http.StatusOK,
		[]map[string]interface{}{})

	router := newAPI(platform)

	r := authed(httptest.NewRequest(http.MethodGet, "/api/sessions?rol=SOLICITANTE", nil))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]\n", w.Body.String())

	calls := platform.CallsTo(http.MethodGet, platformtest.TablePath("sesiones"))
	require.Len(t, calls, 1)
	assert.Equal(t, "eq."+ownerID, calls[0].Query.Get("solicitud.usuario_id"))
}

func TestListMineRejectsUnknownRole(t *testing.T) {
	platform := platformtest.New()
	defer platform.Close()
	platform.StubAuthUser("caller-token", ownerID, "ana@example.com")

	router := newAPI(platform)

	r := authed(httptest.NewRequest(http.MethodGet, "/api/sessions?rol=ADMIN", nil))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, platform.CallsTo(http.MethodGet, platformtest.TablePath("sesiones")))
}
