package oauth

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateChallenge(t *testing.T) {
	ch := GenerateChallenge()

	assert.Len(t, ch.Verifier, 43)
	for _, c := range ch.Verifier {
		assert.True(t, isURLSafeBase64Char(c), "character %c should be URL-safe", c)
	}

	hash := sha256.Sum256([]byte(ch.Verifier))
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(hash[:]), ch.Challenge)
	assert.NotContains(t, ch.Challenge, "=")
}

func TestChallengeFromKnownVerifier(t *testing.T) {
	// RFC 7636 appendix B.
	hash := sha256.Sum256([]byte("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"))
	assert.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", base64.RawURLEncoding.EncodeToString(hash[:]))
}

func TestGenerateChallengeUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		ch := GenerateChallenge()
		assert.False(t, seen[ch.Verifier])
		seen[ch.Verifier] = true
	}
}

func TestGenerateState(t *testing.T) {
	a, b := GenerateState(), GenerateState()
	assert.GreaterOrEqual(t, len(a), 32)
	assert.NotEqual(t, a, b)
}

func isURLSafeBase64Char(c rune) bool {
	return (c >= 'A' && c <= 'Z') ||
		(c >= 'a' && c <= 'z') ||
		(c >= '0' && c <= '9') ||
		c == '-' || c == '_'
}
