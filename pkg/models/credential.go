package models

import "time"

// AuthType identifies the authentication scheme a credential describes.
type AuthType string

const (
	AuthTypeNone   AuthType = "none"
	AuthTypeBasic  AuthType = "basic"
	AuthTypeAPIKey AuthType = "api_key"
	AuthTypeBearer AuthType = "bearer"
	AuthTypeOAuth2 AuthType = "oauth2"
	AuthTypeCustom AuthType = "custom"
)

// Credential is the auth profile: which scheme to use and how to apply it.
// The secret material itself lives in a CredentialSet.
type Credential struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"      validate:"required,min=1"`
	AuthType AuthType `json:"auth_type" validate:"required,oneof=none basic api_key bearer oauth2 custom"`

	// api_key
	APIKeyHeader string `json:"api_key_header,omitempty"`

	// oauth2
	TokenHeader string `json:"token_header,omitempty"` // defaults to Authorization
	TokenPrefix string `json:"token_prefix,omitempty"` // defaults to "Bearer"
	TokenURL    string `json:"token_url,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CredentialSet holds the secret values conforming to a Credential profile.
type CredentialSet struct {
	ID           string            `json:"id"`
	CredentialID string            `json:"credential_id" validate:"required"`
	Name         string            `json:"name"          validate:"required,min=1"`
	Values       map[string]string `json:"values"` // username, password, api_key, token, access_token, refresh_token, custom headers
	ExpiresAt    *time.Time        `json:"expires_at,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Expired reports whether the set's token material is past its expiry.
func (s *CredentialSet) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}
