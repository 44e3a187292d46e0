package supabase

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStorageUpload(t *testing.T) {
	var captured *http.Request
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r
		body, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"Key":"avatars/u1/a.png"}`))
	}))
	defer server.Close()

	storage := NewHTTPStorage(New(Config{BaseURL: server.URL, AnonKey: "anon", ServiceKey: "service"}))
	err := storage.Upload(context.Background(), "avatars", "u1/a.png", "image/png", []byte("png-bytes"))
	require.NoError(t, err)

	assert.Equal(t, "/storage/v1/object/avatars/u1/a.png", captured.URL.Path)
	assert.Equal(t, "false", captured.Header.Get("x-upsert"))
	assert.Equal(t, "image/png", captured.Header.Get("Content-Type"))
	assert.Equal(t, "Bearer service", captured.Header.Get("Authorization"))
	assert.Equal(t, []byte("png-bytes"), body)
}

func TestHTTPStoragePublicURL(t *testing.T) {
	storage := NewHTTPStorage(New(Config{BaseURL: "https://xyz.example.com", AnonKey: "anon", ServiceKey: "service"}))
	assert.Equal(t, "https://xyz.example.com/storage/v1/object/public/avatars/u1/a.png",
		storage.PublicURL("avatars", "/u1/a.png"))
}

func TestHTTPStorageCreateSignedURL(t *testing.T) {
	var captured *http.Request
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r
		body, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"signedURL":"/object/sign/avatars/u1/a.png?token=abc"}`))
	}))
	defer server.Close()

	storage := NewHTTPStorage(New(Config{BaseURL: server.URL, AnonKey: "anon", ServiceKey: "service"}))
	url, err := storage.CreateSignedURL(context.Background(), "avatars", "u1/a.png", 10*time.Minute)
	require.NoError(t, err)

	assert.Equal(t, "/storage/v1/object/sign/avatars/u1/a.png", captured.URL.Path)
	assert.JSONEq(t, `{"expiresIn":600}`, string(body))
	assert.Equal(t, server.URL+"/storage/v1/object/sign/avatars/u1/a.png?token=abc", url)
}

func TestHTTPStorageUploadConflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"Duplicate","message":"The resource already exists"}`))
	}))
	defer server.Close()

	storage := NewHTTPStorage(New(Config{BaseURL: server.URL, AnonKey: "anon", ServiceKey: "service"}))
	err := storage.Upload(context.Background(), "avatars", "u1/a.png", "image/png", []byte("png-bytes"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}
