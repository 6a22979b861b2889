package registry

import (
	"encoding/json"
	"fmt"

	"github.com/opsgateway/issuegateway/internal/adapter"
)

// storedAuth is the JSON shape persisted (encrypted) in
// backend_instances.encrypted_credentials.
type storedAuth struct {
	Kind        adapter.AuthKind `json:"kind"`
	APIToken    string           `json:"api_token,omitempty"`
	Email       string           `json:"email,omitempty"`
	OAuthAccess string           `json:"oauth_access_token,omitempty"`
}

func marshalAuth(auth adapter.AuthConfig) ([]byte, error) {
	s := storedAuth{Kind: auth.Kind, APIToken: auth.APIToken, Email: auth.Email}
	if auth.OAuth != nil {
		s.OAuthAccess = auth.OAuth.AccessToken
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshaling stored auth: %w", err)
	}
	return b, nil
}

func unmarshalAuth(b []byte) (adapter.AuthConfig, error) {
	var s storedAuth
	if err := json.Unmarshal(b, &s); err != nil {
		return adapter.AuthConfig{}, fmt.Errorf("unmarshaling stored auth: %w", err)
	}
	auth := adapter.AuthConfig{Kind: s.Kind, APIToken: s.APIToken, Email: s.Email}
	if s.OAuthAccess != "" {
		auth.OAuth = &adapter.OAuthConfig{AccessToken: s.OAuthAccess}
	}
	return auth, nil
}
