package oidc

import "encoding/json"

// RefreshToken is the refresh_token returned by a code exchange for a
// configuration whose flow uses refresh tokens.  It redacts itself when
// printed or marshaled so renewal logs never leak it.
type RefreshToken string

// RedactedRefreshToken replaces the token value in strings and json
const RedactedRefreshToken = "[REDACTED: refresh_token]"

func (t RefreshToken) String() string {
	return RedactedRefreshToken
}

// MarshalJSON implements json.Marshaler with the redacted value.
func (t RefreshToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedRefreshToken)
}
