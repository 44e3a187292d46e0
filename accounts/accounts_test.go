package accounts_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuido-tech/cuido-bff/accounts"
	"github.com/cuido-tech/cuido-bff/events"
	"github.com/cuido-tech/cuido-bff/platformtest"
)

const newUserID = "5a6b7c8d-3333-4e9f-a111-cccccccccccc"

func newAPI(platform *platformtest.Platform) http.Handler {
	router := platform.NewRouter()
	accounts.New(router, platform.Gateway(), events.NullPublisher{})
	return router
}

func stubSession(platform *platformtest.Platform) {
	platform.HandleJSON(http.MethodPost, "/auth/v1/token", http.StatusOK, map[string]interface{}{
		"access_token":  "issued-token",
		"token_type":    "bearer",
		"expires_in":    3600,
		"refresh_token": "refresh-token",
		"user":          map[string]interface{}{"id": newUserID, "email": "ana@example.com"},
	})
}

func TestRegisterCreatesUserProfileAndSession(t *testing.T) {
	platform := platformtest.New()
	defer platform.Close()
	platform.HandleJSON(http.MethodPost, "/auth/v1/admin/users", http.StatusOK,
		map[string]interface{}{"id": newUserID, "email": "ana@example.com"})
	platform.HandleJSON(http.MethodPost, platformtest.TablePath("usuarios"), http.StatusCreated,
		[]map[string]interface{}{{"id": newUserID, "correo": "ana@example.com"}})
	stubSession(platform)

	router := newAPI(platform)

	r := httptest.NewRequest(http.MethodPost, "/api/auth/register",
		strings.NewReader(`{"email":"ana@example.com","password":"secret123","name":"Ana García"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "Usuario registrado correctamente")
	assert.Contains(t, w.Body.String(), "issued-token")

	// the profile upsert carries the auth user id and resolves duplicates on it
	calls := platform.CallsTo(http.MethodPost, platformtest.TablePath("usuarios"))
	require.Len(t, calls, 1)
	assert.Equal(t, newUserID, calls[0].BodyJSON()["id"])
	assert.Equal(t, "id", calls[0].Query.Get("on_conflict"))

	adminCalls := platform.CallsTo(http.MethodPost, "/auth/v1/admin/users")
	require.Len(t, adminCalls, 1)
	body := adminCalls[0].BodyJSON()
	assert.Equal(t, true, body["email_confirm"])
	assert.Equal(t, map[string]interface{}{"role": "user"}, body["app_metadata"])
}

func TestRegisterRollsBackAuthUserWhenProfileFails(t *testing.T) {
	platform := platformtest.New()
	defer platform.Close()
	platform.HandleJSON(http.MethodPost, "/auth/v1/admin/users", http.StatusOK,
		map[string]interface{}{"id": newUserID, "email": "ana@example.com"})
	platform.HandleText(http.MethodPost, platformtest.TablePath("usuarios"),
		http.StatusInternalServerError, "database unavailable")
	platform.HandleText(http.MethodDelete, "/auth/v1/admin/users/"+newUserID, http.StatusOK, "{}")

	router := newAPI(platform)

	r := httptest.NewRequest(http.MethodPost, "/api/auth/register",
		strings.NewReader(`{"email":"ana@example.com","password":"secret123"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	// the just-created auth user is deleted again
	assert.Len(t, platform.CallsTo(http.MethodDelete, "/auth/v1/admin/users/"+newUserID), 1)
	// no session is issued for a failed registration
	assert.Empty(t, platform.CallsTo(http.MethodPost, "/auth/v1/token"))
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	platform := platformtest.New()
	defer platform.Close()

	router := newAPI(platform)

	r := httptest.NewRequest(http.MethodPost, "/api/auth/register",
		strings.NewReader(`{"email":"ana@example.com","password":"abc"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, platform.Calls())
}

func TestLoginSucceedsWithoutProfileRow(t *testing.T) {
	platform := platformtest.New()
	defer platform.Close()
	stubSession(platform)
	platform.HandleJSON(http.MethodGet, platformtest.TablePath("usuarios"), http.StatusOK,
		[]map[string]interface{}{})

	router := newAPI(platform)

	r := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"ana@example.com","password":"secret123"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Inicio de sesión exitoso")
}

func TestLoginBadCredentials(t *testing.T) {
	platform := platformtest.New()
	defer platform.Close()
	platform.HandleText(http.MethodPost, "/auth/v1/token", http.StatusBadRequest,
		`{"error":"invalid_grant","error_description":"Invalid login credentials"}`)

	router := newAPI(platform)

	r := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"ana@example.com","password":"wrong-pass"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid login credentials")
}

func TestUpdateAccountWhitelistsProfileColumns(t *testing.T) {
	platform := platformtest.New()
	defer platform.Close()
	platform.StubAuthUser("caller-token", newUserID, "ana@example.com")
	platform.HandleJSON(http.MethodPatch, platformtest.TablePath("usuarios"), http.StatusOK,
		[]map[string]interface{}{{"id": newUserID, "genero": "F"}})

	router := newAPI(platform)

	r := httptest.NewRequest(http.MethodPut, "/api/auth/me",
		strings.NewReader(`{"genero":"F"}`))
	r.Header.Set("Authorization", "Bearer caller-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Cuenta actualizada correctamente")

	// no email, password or name change, so the identity provider is not touched
	assert.Empty(t, platform.CallsTo(http.MethodPut, "/auth/v1/admin/users/"+newUserID))
	calls := platform.CallsTo(http.MethodPatch, platformtest.TablePath("usuarios"))
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]interface{}{"genero": "F"}, calls[0].BodyJSON())
}

func TestUpdateAccountPropagatesEmailToIdentityProvider(t *testing.T) {
	platform := platformtest.New()
	defer platform.Close()
	platform.StubAuthUser("caller-token", newUserID, "ana@example.com")
	platform.HandleJSON(http.MethodPut, "/auth/v1/admin/users/"+newUserID, http.StatusOK,
		map[string]interface{}{"id": newUserID, "email": "nueva@example.com"})
	platform.HandleJSON(http.MethodPatch, platformtest.TablePath("usuarios"), http.StatusOK,
		[]map[string]interface{}{{"id": newUserID, "correo": "nueva@example.com"}})

	router := newAPI(platform)

	r := httptest.NewRequest(http.MethodPut, "/api/auth/me",
		strings.NewReader(`{"email":"nueva@example.com"}`))
	r.Header.Set("Authorization", "Bearer caller-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)

	adminCalls := platform.CallsTo(http.MethodPut, "/auth/v1/admin/users/"+newUserID)
	require.Len(t, adminCalls, 1)
	assert.Equal(t, "nueva@example.com", adminCalls[0].BodyJSON()["email"])

	calls := platform.CallsTo(http.MethodPatch, platformtest.TablePath("usuarios"))
	require.Len(t, calls, 1)
	assert.Equal(t, "nueva@example.com", calls[0].BodyJSON()["correo"])
}

func TestDeactivateMarksProfile(t *testing.T) {
	platform := platformtest.New()
	defer platform.Close()
	platform.StubAuthUser("caller-token", newUserID, "ana@example.com")
	platform.HandleJSON(http.MethodPatch, platformtest.TablePath("usuarios"), http.StatusOK,
		[]map[string]interface{}{{"id": newUserID, "activo": false}})

	router := newAPI(platform)

	r := httptest.NewRequest(http.MethodPut, "/api/auth/me/deactivate",
		strings.NewReader(`{"reason":"me mudo de país"}`))
	r.Header.Set("Authorization", "Bearer caller-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)

	calls := platform.CallsTo(http.MethodPatch, platformtest.TablePath("usuarios"))
	require.Len(t, calls, 1)
	body := calls[0].BodyJSON()
	assert.Equal(t, false, body["activo"])
	assert.NotEmpty(t, body["desactivado_en"])
	assert.Equal(t, "me mudo de país", body["desactivado_motivo"])
}

func TestReactivateIsIdempotent(t *testing.T) {
	platform := platformtest.New()
	defer platform.Close()
	platform.StubAuthUser("caller-token", newUserID, "ana@example.com")
	platform.HandleJSON(http.MethodPatch, platformtest.TablePath("usuarios"), http.StatusOK,
		[]map[string]interface{}{{"id": newUserID, "activo": true, "desactivado_en": nil, "desactivado_motivo": nil}})

	router := newAPI(platform)

	// reactivating twice succeeds both times and always clears the same fields
	for i := 0; i < 2; i++ {
		r := httptest.NewRequest(http.MethodPut, "/api/auth/me/reactivate", nil)
		r.Header.Set("Authorization", "Bearer caller-token")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"ok":true`)
	}

	calls := platform.CallsTo(http.MethodPatch, platformtest.TablePath("usuarios"))
	require.Len(t, calls, 2)
	for _, call := range calls {
		body := call.BodyJSON()
		assert.Equal(t, true, body["activo"])
		assert.Contains(t, body, "desactivado_en")
		assert.Nil(t, body["desactivado_en"])
		assert.Nil(t, body["desactivado_motivo"])
	}
}
