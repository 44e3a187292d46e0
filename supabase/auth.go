// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package supabase

import (
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/cuido-tech/cuido-bff/core"
)

// AuthUser is a user record of the identity provider
type AuthUser struct {
	ID           string                 `json:"id"`
	Email        string                 `json:"email"`
	UserMetadata map[string]interface{} `json:"user_metadata,omitempty"`
	AppMetadata  map[string]interface{} `json:"app_metadata,omitempty"`
}

// Session is an issued token pair
type Session struct {
	AccessToken  string   `json:"access_token"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int      `json:"expires_in"`
	RefreshToken string   `json:"refresh_token"`
	User         AuthUser `json:"user"`
}

// AdminUserRequest carries the admin create/update payload. Nil fields are
// omitted entirely, matching the provider's partial-update semantics.
type AdminUserRequest struct {
	Email        *string                `json:"email,omitempty"`
	Password     *string                `json:"password,omitempty"`
	EmailConfirm *bool                  `json:"email_confirm,omitempty"`
	UserMetadata map[string]interface{} `json:"user_metadata,omitempty"`
	AppMetadata  map[string]interface{} `json:"app_metadata,omitempty"`
}

// AdminCreateUser creates a user via the identity provider's admin API.
// Requires service credentials.
func (c Client) AdminCreateUser(req AdminUserRequest) (*AuthUser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, core.Errorf(core.KindInternal, "marshal user: %v", err)
	}
	status, resBody, err := c.do(http.MethodPost, c.config.BaseURL+"/auth/v1/admin/users", nil, body)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, core.RemoteError(status, strings.TrimSpace(string(resBody)))
	}
	var user AuthUser
	if err := json.Unmarshal(resBody, &user); err != nil {
		return nil, core.Errorf(core.KindInternal, "decode user: %v", err)
	}
	return &user, nil
}

// AdminUpdateUser updates a user via the admin API. Requires service credentials.
func (c Client) AdminUpdateUser(id string, req AdminUserRequest) (*AuthUser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, core.Errorf(core.KindInternal, "marshal user: %v", err)
	}
	status, resBody, err := c.do(http.MethodPut, c.config.BaseURL+"/auth/v1/admin/users/"+id, nil, body)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, core.RemoteError(status, strings.TrimSpace(string(resBody)))
	}
	var user AuthUser
	if err := json.Unmarshal(resBody, &user); err != nil {
		return nil, core.Errorf(core.KindInternal, "decode user: %v", err)
	}
	return &user, nil
}

// AdminDeleteUser deletes a user via the admin API. Requires service credentials.
func (c Client) AdminDeleteUser(id string) error {
	status, resBody, err := c.do(http.MethodDelete, c.config.BaseURL+"/auth/v1/admin/users/"+id, nil, nil)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return core.RemoteError(status, strings.TrimSpace(string(resBody)))
	}
	return nil
}

// SignInWithPassword exchanges email and password for a session
func (c Client) SignInWithPassword(email, password string) (*Session, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, core.Errorf(core.KindInternal, "marshal credentials: %v", err)
	}
	status, resBody, err := c.do(http.MethodPost,
		c.config.BaseURL+"/auth/v1/token?grant_type=password", nil, body)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, core.RemoteError(status, strings.TrimSpace(string(resBody)))
	}
	var session Session
	if err := json.Unmarshal(resBody, &session); err != nil {
		return nil, core.Errorf(core.KindInternal, "decode session: %v", err)
	}
	return &session, nil
}

// GetUserByToken resolves the user record for a bearer token. This is the
// provider's token introspection: an invalid or expired token answers non-2xx.
func (c Client) GetUserByToken(token string) (*AuthUser, error) {
	status, resBody, err := c.AsCaller(token).do(http.MethodGet, c.config.BaseURL+"/auth/v1/user", nil, nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, core.RemoteError(status, strings.TrimSpace(string(resBody)))
	}
	var user AuthUser
	if err := json.Unmarshal(resBody, &user); err != nil {
		return nil, core.Errorf(core.KindInternal, "decode user: %v", err)
	}
	return &user, nil
}
