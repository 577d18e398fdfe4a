package oidc

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// TestSignJWT bundles the provided claims into a signed test JWT, suitable
// as an id_token in tests.  A nil key generates a fresh ECDSA P-256 key.
func TestSignJWT(t *testing.T, key *ecdsa.PrivateKey, claims jwt.Claims, privateClaims interface{}) string {
	t.Helper()
	require := require.New(t)
	if key == nil {
		var err error
		key, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(err)
	}

	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.ES256, Key: key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(err)

	raw, err := jwt.Signed(sig).
		Claims(claims).
		Claims(privateClaims).
		CompactSerialize()
	require.NoError(err)

	return raw
}

// TestProviderMetadata returns provider metadata rooted at the given issuer,
// shaped like a discovery document.
func TestProviderMetadata(t *testing.T, issuer string) *ProviderMetadata {
	t.Helper()
	return &ProviderMetadata{
		Issuer:                issuer,
		AuthorizationEndpoint: issuer + "/authorize",
		TokenEndpoint:         issuer + "/oauth/token",
		UserInfoEndpoint:      issuer + "/userinfo",
		JWKSURI:               issuer + "/.well-known/jwks.json",
	}
}
