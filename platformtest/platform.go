// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package platformtest provides an in-process fake of the backing platform
// for route package tests: scripted GoTrue, data API and storage endpoints
// over httptest, with full capture of every outbound call the gateway makes.
package platformtest

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/cuido-tech/cuido-bff/core/access"
	"github.com/cuido-tech/cuido-bff/core/logger"
	"github.com/cuido-tech/cuido-bff/supabase"
)

// Call is one captured outbound exchange
type Call struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// BodyJSON decodes the captured request body
func (c Call) BodyJSON() map[string]interface{} {
	payload := map[string]interface{}{}
	_ = json.Unmarshal(c.Body, &payload)
	return payload
}

// Platform is the scripted fake platform
type Platform struct {
	server *httptest.Server

	mutex    sync.Mutex
	calls    []Call
	handlers map[string]http.HandlerFunc
}

// New creates a fake platform. Unscripted paths answer 404.
func New() *Platform {
	p := &Platform{handlers: map[string]http.HandlerFunc{}}
	p.server = httptest.NewServer(http.HandlerFunc(p.dispatch))
	return p
}

// Close shuts the fake platform down
func (p *Platform) Close() {
	p.server.Close()
}

// URL returns the fake platform's base URL
func (p *Platform) URL() string {
	return p.server.URL
}

// Handle scripts a response for method and path
func (p *Platform) Handle(method, path string, h http.HandlerFunc) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.handlers[method+" "+path] = h
}

// HandleJSON scripts a fixed JSON response for method and path
func (p *Platform) HandleJSON(method, path string, status int, payload interface{}) {
	p.Handle(method, path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(payload)
	})
}

// HandleText scripts a fixed plain text response for method and path
func (p *Platform) HandleText(method, path string, status int, body string) {
	p.Handle(method, path, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}

func (p *Platform) dispatch(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	p.mutex.Lock()
	p.calls = append(p.calls, Call{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
		Body:   body,
	})
	handler, ok := p.handlers[r.Method+" "+r.URL.Path]
	p.mutex.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"no rows"}`))
		return
	}
	handler(w, r)
}

// Calls returns all captured calls
func (p *Platform) Calls() []Call {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]Call{}, p.calls...)
}

// CallsTo returns the captured calls matching method and path
func (p *Platform) CallsTo(method, path string) []Call {
	var matching []Call
	for _, c := range p.Calls() {
		if c.Method == method && c.Path == path {
			matching = append(matching, c)
		}
	}
	return matching
}

// Reset drops all captured calls
func (p *Platform) Reset() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.calls = nil
}

// StubAuthUser scripts token introspection: the given bearer token resolves
// to the given user id
func (p *Platform) StubAuthUser(token, userID, email string) {
	p.Handle(http.MethodGet, "/auth/v1/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"invalid token"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": userID, "email": email})
	})
}

// Gateway returns a gateway client pointed at the fake platform
func (p *Platform) Gateway() supabase.Client {
	return supabase.New(supabase.Config{
		BaseURL:    p.server.URL,
		AnonKey:    "test-anon-key",
		ServiceKey: "test-service-key",
	})
}

// NewRouter returns a router with the request-id and auth middlewares the
// service installs, verifying tokens against the fake platform
func (p *Platform) NewRouter() *mux.Router {
	router := mux.NewRouter()
	logger.AddRequestID(router)
	router.Use(access.NewAuthMiddleware(supabase.NewIntrospector(p.Gateway())))
	return router
}

// TablePath returns the data API path of a table
func TablePath(table string) string {
	return "/rest/v1/" + table
}

// RpcPath returns the data API path of a stored procedure
func RpcPath(name string) string {
	return "/rest/v1/rpc/" + name
}
