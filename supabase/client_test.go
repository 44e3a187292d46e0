package supabase

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuido-tech/cuido-bff/core"
)

func newTestClient(handler http.HandlerFunc) (Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	client := New(Config{
		BaseURL:    server.URL,
		AnonKey:    "anon",
		ServiceKey: "service",
	})
	return client, server
}

func TestQueryParameters(t *testing.T) {
	var captured *http.Request
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		captured = r
		w.Write([]byte("[]"))
	})
	defer server.Close()

	var rows []map[string]interface{}
	err := client.AsService().From("solicitudes").
		Select("id,titulo").
		Eq("estado", "ABIERTA").
		Neq("usuario_id", "u1").
		In("tipo", []string{"ABUELOS", "MASCOTAS"}).
		NotIn("id", []string{"a", "b"}).
		Order("creado_en", true).
		Page(2, 10).
		Get(&rows)
	require.NoError(t, err)
	require.NotNil(t, captured)

	assert.Equal(t, "/rest/v1/solicitudes", captured.URL.Path)
	query := captured.URL.Query()
	assert.Equal(t, "id,titulo", query.Get("select"))
	assert.Equal(t, "eq.ABIERTA", query.Get("estado"))
	assert.Equal(t, "neq.u1", query.Get("usuario_id"))
	assert.Equal(t, "in.(ABUELOS,MASCOTAS)", query.Get("tipo"))
	assert.Equal(t, "not.in.(a,b)", query.Get("id"))
	assert.Equal(t, "creado_en.desc", query.Get("order"))
	assert.Equal(t, "10", query.Get("limit"))
	assert.Equal(t, "10", query.Get("offset"))
}

func TestCredentialModes(t *testing.T) {
	var apikey, authorization string
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		apikey = r.Header.Get("apikey")
		authorization = r.Header.Get("Authorization")
		w.Write([]byte("[]"))
	})
	defer server.Close()

	err := client.AsService().From("usuarios").Get(nil)
	require.NoError(t, err)
	assert.Equal(t, "service", apikey)
	assert.Equal(t, "Bearer service", authorization)

	err = client.AsCaller("caller-token").From("usuarios").Get(nil)
	require.NoError(t, err)
	assert.Equal(t, "anon", apikey)
	assert.Equal(t, "Bearer caller-token", authorization)
}

func TestSingleNoRowsIsNotFound(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]"))
	})
	defer server.Close()

	var row map[string]interface{}
	err := client.AsService().From("usuarios").Eq("id", "missing").Single(&row)
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindNotFound))
}

func TestMaybeSingleEmptyBodies(t *testing.T) {
	for _, body := range []string{"", "null", "[]"} {
		client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		})
		var row map[string]interface{}
		found, err := client.AsService().From("usuarios").MaybeSingle(&row)
		require.NoError(t, err)
		assert.False(t, found, "body %q should mean no rows", body)
		server.Close()
	}
}

func TestSingleUnwrapsFirstRow(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"u1"},{"id":"u2"}]`))
	})
	defer server.Close()

	var row struct {
		ID string `json:"id"`
	}
	err := client.AsService().From("usuarios").Single(&row)
	require.NoError(t, err)
	assert.Equal(t, "u1", row.ID)
}

func TestRemoteErrorKeepsVerbatimBody(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`duplicate key value violates unique constraint "postulaciones_unicas_activas"`))
	})
	defer server.Close()

	err := client.AsService().From("postulaciones").Insert(map[string]string{}, nil)
	require.Error(t, err)

	remoteErr, ok := err.(*core.Error)
	require.True(t, ok)
	assert.Equal(t, core.KindRemoteFailed, remoteErr.Kind)
	assert.Equal(t, http.StatusConflict, remoteErr.RemoteStatus)
	assert.Contains(t, remoteErr.Message, "postulaciones_unicas_activas")
	// remote client errors pass through as bad request
	assert.Equal(t, http.StatusBadRequest, remoteErr.HTTPStatus())
}

func TestRemoteServerErrorIsBadGateway(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer server.Close()

	err := client.AsService().From("usuarios").Get(nil)
	require.Error(t, err)
	remoteErr, ok := err.(*core.Error)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadGateway, remoteErr.HTTPStatus())
}

func TestInsertRequestsRepresentation(t *testing.T) {
	var prefer string
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		prefer = r.Header.Get("Prefer")
		w.Write([]byte(`[{"id":"new-id"}]`))
	})
	defer server.Close()

	var row struct {
		ID string `json:"id"`
	}
	err := client.AsService().From("solicitudes").Insert(map[string]string{"titulo": "x"}, &row)
	require.NoError(t, err)
	assert.Equal(t, "return=representation", prefer)
	assert.Equal(t, "new-id", row.ID)
}

func TestInsertWithoutResultSkipsRepresentation(t *testing.T) {
	var prefer string
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		prefer = r.Header.Get("Prefer")
		w.WriteHeader(http.StatusCreated)
	})
	defer server.Close()

	err := client.AsService().From("solicitud_fechas").Insert([]map[string]string{{"fecha": "2026-01-01"}}, nil)
	require.NoError(t, err)
	assert.Empty(t, prefer)
}

func TestUpsertOnConflict(t *testing.T) {
	var captured *http.Request
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		captured = r
		w.Write([]byte(`[{"id":"u1"}]`))
	})
	defer server.Close()

	var row map[string]interface{}
	err := client.AsService().From("usuarios").OnConflict("id").Insert(map[string]string{"id": "u1"}, &row)
	require.NoError(t, err)
	require.NotNil(t, captured)
	assert.Equal(t, "id", captured.URL.Query().Get("on_conflict"))
	assert.Contains(t, captured.Header.Get("Prefer"), "resolution=merge-duplicates")
	assert.Contains(t, captured.Header.Get("Prefer"), "return=representation")
}

func TestRpc(t *testing.T) {
	var captured *http.Request
	var body []byte
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		captured = r
		body, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"sesion_id":"s1"}`))
	})
	defer server.Close()

	var result map[string]interface{}
	err := client.AsService().Rpc("rpc_sesion_crear_desde_asignacion", map[string]interface{}{
		"p_asignacion_id": "a1",
		"p_actor_id":      "u1",
	}, &result)
	require.NoError(t, err)
	assert.Equal(t, "/rest/v1/rpc/rpc_sesion_crear_desde_asignacion", captured.URL.Path)
	assert.JSONEq(t, `{"p_asignacion_id":"a1","p_actor_id":"u1"}`, string(body))
	assert.Equal(t, "s1", result["sesion_id"])
}
