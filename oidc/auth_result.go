package oidc

import (
	"encoding/json"
	"fmt"
)

// AuthResult is the parsed response of a provider's token endpoint, slightly
// augmented: the code-flow callback handler stamps the exchange's State and
// SessionState onto it before handing it downstream.
type AuthResult struct {
	AccessToken  string       `json:"access_token,omitempty"`
	IDToken      IDToken      `json:"id_token,omitempty"`
	RefreshToken RefreshToken `json:"refresh_token,omitempty"`
	TokenType    string       `json:"token_type,omitempty"`
	ExpiresIn    int64        `json:"expires_in,omitempty"`
	Scope        string       `json:"scope,omitempty"`

	// State and SessionState are not part of the wire response; they are
	// carried over from the callback that triggered the exchange.
	State        string `json:"state,omitempty"`
	SessionState string `json:"session_state,omitempty"`

	// Extra holds any non-standard members of the response
	Extra map[string]interface{} `json:"-"`
}

// standard response members lifted into AuthResult fields
var knownAuthResultFields = map[string]bool{
	"access_token":  true,
	"id_token":      true,
	"refresh_token": true,
	"token_type":    true,
	"expires_in":    true,
	"scope":         true,
	"state":         true,
	"session_state": true,
}

// ParseAuthResult decodes a raw token endpoint response body.  Standard
// members land in the typed fields and everything else is kept in Extra.
func ParseAuthResult(body []byte) (*AuthResult, error) {
	const op = "oidc.ParseAuthResult"
	var r AuthResult
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("%s: unable to parse token response: %w: %v", op, ErrInvalidResponseFormat, err)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%s: unable to parse token response: %w: %v", op, ErrInvalidResponseFormat, err)
	}
	for k, v := range raw {
		if knownAuthResultFields[k] {
			continue
		}
		if r.Extra == nil {
			r.Extra = map[string]interface{}{}
		}
		r.Extra[k] = v
	}
	return &r, nil
}
