// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package supabase

import (
	"context"
	"errors"

	"github.com/cuido-tech/cuido-bff/core/access"
)

// Introspector verifies bearer tokens by asking the identity provider.
//
// One outbound call per request, no caching. This re-verifies deliberately on
// every request; token validity is the provider's business, not ours.
type Introspector struct {
	client Client
}

// NewIntrospector returns the default verifier for the gateway
func NewIntrospector(client Client) *Introspector {
	return &Introspector{client: client}
}

// Verify implements access.Verifier
func (i *Introspector) Verify(ctx context.Context, token string) (access.Identity, error) {
	user, err := i.client.WithContext(ctx).GetUserByToken(token)
	if err != nil {
		return access.Identity{}, err
	}
	if user.ID == "" {
		return access.Identity{}, errors.New("empty user")
	}
	return access.Identity{Subject: user.ID, Email: user.Email}, nil
}
