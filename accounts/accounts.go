/*Package accounts provides the account lifecycle routes: registration with
automatic login, password login, account update, deactivation and reactivation.

Registration is the one multi-step write with compensation: when the profile
upsert fails, the just-created auth user is deleted again so the identity
provider and the profile table stay in step.
*/
package accounts

import (
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/cuido-tech/cuido-bff/core"
	"github.com/cuido-tech/cuido-bff/core/access"
	"github.com/cuido-tech/cuido-bff/core/logger"
	"github.com/cuido-tech/cuido-bff/core/schema"
	"github.com/cuido-tech/cuido-bff/core/utils"
	"github.com/cuido-tech/cuido-bff/events"
	"github.com/cuido-tech/cuido-bff/supabase"
)

const registerSchema = `{
	"$id": "accounts/register",
	"type": "object",
	"properties": {
		"email": {"type": "string", "format": "email"},
		"password": {"type": "string", "minLength": 6},
		"name": {"type": "string"},
		"telefono_e164": {"type": "string"},
		"pais_iso2": {"type": "string", "minLength": 2, "maxLength": 2},
		"genero": {"type": "string"},
		"foto_url": {"type": "string"},
		"dni": {"type": "string"}
	},
	"required": ["email", "password"]
}`

const loginSchema = `{
	"$id": "accounts/login",
	"type": "object",
	"properties": {
		"email": {"type": "string", "format": "email"},
		"password": {"type": "string"}
	},
	"required": ["email", "password"]
}`

const updateSchema = `{
	"$id": "accounts/update",
	"type": "object",
	"properties": {
		"email": {"type": "string", "format": "email"},
		"password": {"type": "string", "minLength": 6},
		"name": {"type": "string"},
		"telefono_e164": {"type": "string"},
		"pais_iso2": {"type": "string", "minLength": 2, "maxLength": 2},
		"genero": {"type": "string"},
		"foto_url": {"type": "string"}
	}
}`

const deactivateSchema = `{
	"$id": "accounts/deactivate",
	"type": "object",
	"properties": {
		"reason": {"type": "string"}
	}
}`

var validator = schema.MustNewValidator([]string{registerSchema, loginSchema, updateSchema, deactivateSchema}, nil)

// API is the account lifecycle restful interface
type API struct {
	gw        supabase.Client
	publisher events.Publisher
}

// New creates the accounts API and adds its routes to the router
func New(router *mux.Router, gw supabase.Client, publisher events.Publisher) *API {
	a := &API{gw: gw, publisher: publisher}
	a.handleRoutes(router)
	return a
}

func (a *API) handleRoutes(router *mux.Router) {
	logger.Default().Debugln("account routes")
	logger.Default().Debugln("  handle routes: /api/auth/register POST")
	logger.Default().Debugln("  handle routes: /api/auth/login POST")
	logger.Default().Debugln("  handle routes: /api/auth/me PUT")
	logger.Default().Debugln("  handle routes: /api/auth/me/deactivate PUT")
	logger.Default().Debugln("  handle routes: /api/auth/me/reactivate PUT")

	router.HandleFunc("/api/auth/register", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		a.register(w, r)
	}).Methods(http.MethodOptions, http.MethodPost)

	router.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		a.login(w, r)
	}).Methods(http.MethodOptions, http.MethodPost)

	router.HandleFunc("/api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		a.updateAccount(w, r)
	}).Methods(http.MethodOptions, http.MethodPut)

	router.HandleFunc("/api/auth/me/deactivate", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		a.deactivate(w, r)
	}).Methods(http.MethodOptions, http.MethodPut)

	router.HandleFunc("/api/auth/me/reactivate", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		a.reactivate(w, r)
	}).Methods(http.MethodOptions, http.MethodPut)
}

type registerRequest struct {
	Email        string  `json:"email"`
	Password     string  `json:"password"`
	Name         *string `json:"name"`
	TelefonoE164 *string `json:"telefono_e164"`
	PaisISO2     *string `json:"pais_iso2"`
	Genero       *string `json:"genero"`
	FotoURL      *string `json:"foto_url"`
	DNI          *string `json:"dni"`
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	if err := validator.ValidateBytes(body, "accounts/register"); err != nil {
		core.WriteError(w, r, core.Errorf(core.KindInvalidInput, "%v", err))
		return
	}
	var req registerRequest
	if err := json.Unmarshal(body, &req); err != nil {
		core.WriteError(w, r, core.Errorf(core.KindInvalidInput, "invalid json: %v", err))
		return
	}

	svc := a.gw.WithContext(r.Context()).AsService()

	userMetadata := map[string]interface{}{}
	if req.Name != nil {
		userMetadata["name"] = *req.Name
	}
	user, err := svc.AdminCreateUser(supabase.AdminUserRequest{
		Email:        &req.Email,
		Password:     &req.Password,
		EmailConfirm: utils.BoolPtr(true),
		UserMetadata: userMetadata,
		AppMetadata:  map[string]interface{}{"role": "user"},
	})
	if err != nil {
		core.WriteError(w, r, err)
		return
	}

	var profile json.RawMessage
	err = svc.From("usuarios").OnConflict("id").Insert(map[string]interface{}{
		"id":              user.ID,
		"correo":          req.Email,
		"nombre_completo": req.Name,
		"telefono_e164":   req.TelefonoE164,
		"pais_iso2":       req.PaisISO2,
		"genero":          req.Genero,
		"foto_url":        req.FotoURL,
		"dni":             req.DNI,
	}, &profile)
	if err != nil {
		// roll back the auth user, otherwise the email is burned
		if rollbackErr := svc.AdminDeleteUser(user.ID); rollbackErr != nil {
			logger.FromContext(r.Context()).Errorln("rollback of auth user failed:", rollbackErr)
		}
		core.WriteError(w, r, err)
		return
	}

	session, err := svc.SignInWithPassword(req.Email, req.Password)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}

	a.publisher.Publish(r.Context(), "account", core.OperationCreate, user.ID, nil)

	core.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Usuario registrado correctamente",
		"user":    map[string]string{"id": user.ID, "email": req.Email},
		"profile": profile,
		"session": session,
	})
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	if err := validator.ValidateBytes(body, "accounts/login"); err != nil {
		core.WriteError(w, r, core.Errorf(core.KindInvalidInput, "%v", err))
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		core.WriteError(w, r, core.Errorf(core.KindInvalidInput, "invalid json: %v", err))
		return
	}

	svc := a.gw.WithContext(r.Context()).AsService()
	session, err := svc.SignInWithPassword(req.Email, req.Password)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}

	// a missing profile does not stop the login
	var profile json.RawMessage
	ok, err := svc.From("usuarios").Select("*").Eq("correo", req.Email).MaybeSingle(&profile)
	if err != nil || !ok {
		logger.FromContext(r.Context()).Warnln("login without profile for", req.Email)
	}

	core.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Inicio de sesión exitoso",
		"user":    session.User,
		"profile": profile,
		"session": session,
	})
}

type updateAccountRequest struct {
	Email        *string `json:"email"`
	Password     *string `json:"password"`
	Name         *string `json:"name"`
	TelefonoE164 *string `json:"telefono_e164"`
	PaisISO2     *string `json:"pais_iso2"`
	Genero       *string `json:"genero"`
	FotoURL      *string `json:"foto_url"`
}

func (a *API) updateAccount(w http.ResponseWriter, r *http.Request) {
	identity, ok := access.IdentityFromContext(r.Context())
	if !ok {
		core.WriteError(w, r, core.Errorf(core.KindUnauthenticated, "Missing identity"))
		return
	}
	body, _ := io.ReadAll(r.Body)
	if err := validator.ValidateBytes(body, "accounts/update"); err != nil {
		core.WriteError(w, r, core.Errorf(core.KindInvalidInput, "%v", err))
		return
	}
	var req updateAccountRequest
	if err := json.Unmarshal(body, &req); err != nil {
		core.WriteError(w, r, core.Errorf(core.KindInvalidInput, "invalid json: %v", err))
		return
	}

	svc := a.gw.WithContext(r.Context()).AsService()

	if req.Email != nil || req.Password != nil || req.Name != nil {
		adminReq := supabase.AdminUserRequest{}
		if req.Email != nil {
			adminReq.Email = req.Email
			adminReq.EmailConfirm = utils.BoolPtr(true)
		}
		if req.Password != nil {
			adminReq.Password = req.Password
		}
		if req.Name != nil {
			adminReq.UserMetadata = map[string]interface{}{"name": *req.Name}
		}
		if _, err := svc.AdminUpdateUser(identity.Subject, adminReq); err != nil {
			core.WriteError(w, r, err)
			return
		}
	}

	updates := map[string]interface{}{}
	if req.Email != nil {
		updates["correo"] = *req.Email
	}
	if req.Name != nil {
		updates["nombre_completo"] = *req.Name
	}
	if req.TelefonoE164 != nil {
		updates["telefono_e164"] = *req.TelefonoE164
	}
	if req.PaisISO2 != nil {
		updates["pais_iso2"] = *req.PaisISO2
	}
	if req.Genero != nil {
		updates["genero"] = *req.Genero
	}
	if req.FotoURL != nil {
		updates["foto_url"] = *req.FotoURL
	}

	var profile json.RawMessage
	var err error
	if len(updates) > 0 {
		err = svc.From("usuarios").Eq("id", identity.Subject).Update(updates, &profile)
	} else {
		err = svc.From("usuarios").Select("*").Eq("id", identity.Subject).Single(&profile)
	}
	if err != nil {
		core.WriteError(w, r, err)
		return
	}

	a.publisher.Publish(r.Context(), "account", core.OperationUpdate, identity.Subject, nil)

	user := map[string]interface{}{"id": identity.Subject}
	if req.Email != nil {
		user["email"] = *req.Email
	}
	core.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Cuenta actualizada correctamente",
		"user":    user,
		"profile": profile,
	})
}

func (a *API) deactivate(w http.ResponseWriter, r *http.Request) {
	identity, ok := access.IdentityFromContext(r.Context())
	if !ok {
		core.WriteError(w, r, core.Errorf(core.KindUnauthenticated, "Missing identity"))
		return
	}
	body, _ := io.ReadAll(r.Body)
	var req struct {
		Reason *string `json:"reason"`
	}
	if len(body) > 0 {
		if err := validator.ValidateBytes(body, "accounts/deactivate"); err != nil {
			core.WriteError(w, r, core.Errorf(core.KindInvalidInput, "%v", err))
			return
		}
		if err := json.Unmarshal(body, &req); err != nil {
			core.WriteError(w, r, core.Errorf(core.KindInvalidInput, "invalid json: %v", err))
			return
		}
	}

	var profile json.RawMessage
	err := a.gw.WithContext(r.Context()).AsService().
		From("usuarios").Eq("id", identity.Subject).
		Update(map[string]interface{}{
			"activo":             false,
			"desactivado_en":     time.Now().UTC().Format(time.RFC3339),
			"desactivado_motivo": req.Reason,
		}, &profile)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}

	a.publisher.Publish(r.Context(), "account", core.OperationUpdate, identity.Subject, nil)
	core.WriteJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "profile": profile})
}

// reactivate is idempotent, reactivating an already active account succeeds
// and leaves the deactivation fields cleared
func (a *API) reactivate(w http.ResponseWriter, r *http.Request) {
	identity, ok := access.IdentityFromContext(r.Context())
	if !ok {
		core.WriteError(w, r, core.Errorf(core.KindUnauthenticated, "Missing identity"))
		return
	}

	var profile json.RawMessage
	err := a.gw.WithContext(r.Context()).AsService().
		From("usuarios").Eq("id", identity.Subject).
		Update(map[string]interface{}{
			"activo":             true,
			"desactivado_en":     nil,
			"desactivado_motivo": nil,
		}, &profile)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}

	a.publisher.Publish(r.Context(), "account", core.OperationUpdate, identity.Subject, nil)
	core.WriteJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "profile": profile})
}
