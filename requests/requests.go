/*Package requests provides the service request routes for the three care
categories ABUELOS, NINIOS and MASCOTAS.

Creating a request is a multi-step write: the solicitudes parent row first,
then dates, the category detail, the emergency contact and the per-person or
per-animal rows. The steps are ordered dependent calls feeding generated ids
forward; there is no compensation, the first failure is reported and already
written rows remain.
*/
package requests

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cuido-tech/cuido-bff/core/logger"
	"github.com/cuido-tech/cuido-bff/core/schema"
	"github.com/cuido-tech/cuido-bff/events"
	"github.com/cuido-tech/cuido-bff/supabase"
)

var validator = schema.MustNewValidator(
	[]string{grandparentsSchema, childrenSchema, petsSchema},
	[]string{baseRefSchema, contactRefSchema, medicationRefSchema},
)

// API is the service request restful interface
type API struct {
	gw        supabase.Client
	publisher events.Publisher
}

// New creates the requests API and adds its routes to the router
func New(router *mux.Router, gw supabase.Client, publisher events.Publisher) *API {
	a := &API{gw: gw, publisher: publisher}
	a.handleRoutes(router)
	return a
}

func (a *API) handleRoutes(router *mux.Router) {
	logger.Default().Debugln("service request routes")
	logger.Default().Debugln("  handle routes: /api/service-requests/{grandparents,children,pets} POST")
	logger.Default().Debugln("  handle routes: /api/service-requests GET")
	logger.Default().Debugln("  handle routes: /api/service-requests/{open,mine,mine/by-status} GET")
	logger.Default().Debugln("  handle routes: /api/service-requests/{id} GET DELETE")

	router.HandleFunc("/api/service-requests/grandparents", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		a.createGrandparents(w, r)
	}).Methods(http.MethodOptions, http.MethodPost)

	router.HandleFunc("/api/service-requests/children", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		a.createChildren(w, r)
	}).Methods(http.MethodOptions, http.MethodPost)

	router.HandleFunc("/api/service-requests/pets", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		a.createPets(w, r)
	}).Methods(http.MethodOptions, http.MethodPost)

	router.HandleFunc("/api/service-requests", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		a.listMine(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc("/api/service-requests/open", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		a.listOpen(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc("/api/service-requests/mine", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		a.listMinePaged(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc("/api/service-requests/mine/by-status", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		a.listMineByStatus(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc("/api/service-requests/{id}", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		a.getOne(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc("/api/service-requests/{id}", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		a.cancel(w, r)
	}).Methods(http.MethodOptions, http.MethodDelete)
}
