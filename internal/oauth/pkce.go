// Package oauth implements the OAuth 2.0 Authorization Code flow with PKCE
// (RFC 7636) and refresh-token rotation against the identity provider.
package oauth

import (
	"golang.org/x/oauth2"
)

// Challenge is one PKCE verifier/challenge pair. The verifier stays local
// until the code exchange; only the challenge is sent with the authorize
// request.
type Challenge struct {
	Verifier  string
	Challenge string
}

// GenerateChallenge returns a fresh S256 challenge. The verifier is 32 random
// bytes encoded as 43 characters of unpadded base64url.
func GenerateChallenge() Challenge {
	v := oauth2.GenerateVerifier()
	return Challenge{
		Verifier:  v,
		Challenge: oauth2.S256ChallengeFromVerifier(v),
	}
}

// GenerateState returns an unpredictable state value for CSRF protection.
func GenerateState() string {
	return oauth2.GenerateVerifier()
}
