// Package auth turns credential profiles and their secret values into the
// HTTP headers a connector call must carry.
package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/weftworks/weft/pkg/models"
)

// TokenRefresher refreshes an expired OAuth2 credential set and returns the
// refreshed set. Implementations persist the new token material themselves.
type TokenRefresher interface {
	Refresh(ctx context.Context, credential *models.Credential, set *models.CredentialSet) (*models.CredentialSet, error)
}

// Resolver resolves authentication headers for connector calls.
type Resolver struct {
	refresher TokenRefresher
	now       func() time.Time
}

// NewResolver creates a Resolver. The refresher may be nil; expired OAuth2
// sets then fail resolution instead of being refreshed.
func NewResolver(refresher TokenRefresher) *Resolver {
	return &Resolver{refresher: refresher, now: time.Now}
}

// Resolve returns the auth headers for one call. OAuth2 sets are refreshed
// transparently before use when expired.
func (r *Resolver) Resolve(ctx context.Context, credential *models.Credential, set *models.CredentialSet) (map[string]string, error) {
	if credential == nil || credential.AuthType == models.AuthTypeNone {
		return map[string]string{}, nil
	}

	if set == nil {
		return nil, fmt.Errorf("credential %s has no credential set", credential.Name)
	}

	switch credential.AuthType {
	case models.AuthTypeBasic:
		username := set.Values["username"]
		password := set.Values["password"]

		if username == "" {
			return nil, fmt.Errorf("credential set %s is missing username", set.Name)
		}

		encoded := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))

		return map[string]string{"Authorization": "Basic " + encoded}, nil

	case models.AuthTypeAPIKey:
		key := set.Values["api_key"]
		if key == "" {
			return nil, fmt.Errorf("credential set %s is missing api_key", set.Name)
		}

		header := credential.APIKeyHeader
		if header == "" {
			header = "X-API-Key"
		}

		return map[string]string{header: key}, nil

	case models.AuthTypeBearer:
		token := set.Values["token"]
		if token == "" {
			return nil, fmt.Errorf("credential set %s is missing token", set.Name)
		}

		return map[string]string{"Authorization": "Bearer " + token}, nil

	case models.AuthTypeOAuth2:
		return r.resolveOAuth2(ctx, credential, set)

	case models.AuthTypeCustom:
		headers := make(map[string]string, len(set.Values))
		for name, value := range set.Values {
			headers[name] = value
		}

		return headers, nil

	default:
		return nil, fmt.Errorf("unsupported auth type %q", credential.AuthType)
	}
}

func (r *Resolver) resolveOAuth2(ctx context.Context, credential *models.Credential, set *models.CredentialSet) (map[string]string, error) {
	if set.Expired(r.now()) {
		if r.refresher == nil {
			return nil, fmt.Errorf("credential set %s is expired and no refresher is configured", set.Name)
		}

		refreshed, err := r.refresher.Refresh(ctx, credential, set)
		if err != nil {
			return nil, fmt.Errorf("failed to refresh credential set %s: %w", set.Name, err)
		}

		set = refreshed
	}

	token := set.Values["access_token"]
	if token == "" {
		return nil, fmt.Errorf("credential set %s is missing access_token", set.Name)
	}

	header := credential.TokenHeader
	if header == "" {
		header = "Authorization"
	}

	prefix := credential.TokenPrefix
	if prefix == "" {
		prefix = "Bearer"
	}

	return map[string]string{header: prefix + " " + token}, nil
}
