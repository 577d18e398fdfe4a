package oidc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2/jwt"
)

func TestIDToken_Redaction(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	const tk = IDToken("super secret token")
	assert.Equal(RedactedIDToken, tk.String())
	b, err := json.Marshal(tk)
	require.NoError(err)
	assert.Equal(`"`+RedactedIDToken+`"`, string(b))
}

func TestRefreshToken_Redaction(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	const tk = RefreshToken("super secret token")
	assert.Equal(RedactedRefreshToken, tk.String())
	b, err := json.Marshal(tk)
	require.NoError(err)
	assert.Equal(`"`+RedactedRefreshToken+`"`, string(b))
}

func TestIDToken_Claims(t *testing.T) {
	t.Run("decodes-without-verification", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		raw := TestSignJWT(t, nil, jwt.Claims{
			Issuer:  "https://idp.example.com",
			Subject: "alice@example.com",
		}, map[string]interface{}{"email": "alice@example.com"})

		var claims map[string]interface{}
		require.NoError(IDToken(raw).Claims(&claims))
		assert.Equal("https://idp.example.com", claims["iss"])
		assert.Equal("alice@example.com", claims["sub"])
		assert.Equal("alice@example.com", claims["email"])
	})
	t.Run("empty-token", func(t *testing.T) {
		var claims map[string]interface{}
		require.ErrorIs(t, IDToken("").Claims(&claims), ErrInvalidParameter)
	})
	t.Run("nil-claims", func(t *testing.T) {
		require.ErrorIs(t, IDToken("x.y.z").Claims(nil), ErrNilParameter)
	})
	t.Run("not-a-jwt", func(t *testing.T) {
		var claims map[string]interface{}
		require.Error(t, IDToken("not-a-jwt").Claims(&claims))
	})
}
