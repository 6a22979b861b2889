package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsgateway/issuegateway/internal/adapter"
)

func TestMarshalUnmarshalAuthRoundTripsAPIToken(t *testing.T) {
	auth := adapter.AuthConfig{Kind: adapter.AuthAPIToken, APIToken: "tok-123", Email: "bot@example.com"}
	b, err := marshalAuth(auth)
	require.NoError(t, err)

	got, err := unmarshalAuth(b)
	require.NoError(t, err)
	assert.Equal(t, auth, got)
}

func TestMarshalUnmarshalAuthRoundTripsOAuth(t *testing.T) {
	auth := adapter.AuthConfig{Kind: adapter.AuthOAuth, OAuth: &adapter.OAuthConfig{AccessToken: "access-xyz"}}
	b, err := marshalAuth(auth)
	require.NoError(t, err)

	got, err := unmarshalAuth(b)
	require.NoError(t, err)
	require.NotNil(t, got.OAuth)
	assert.Equal(t, "access-xyz", got.OAuth.AccessToken)
}
