// Package webhook answers the Account Activity webhook handshake and
// verifies the signature on delivered events.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"

	"github.com/markb/mentionbot/internal/autherr"
	"github.com/markb/mentionbot/internal/codec"
)

const (
	// SignatureHeader carries "sha256=" + base64(HMAC-SHA256(secret, body)).
	SignatureHeader = "X-Twitter-Webhooks-Signature"
	signaturePrefix = "sha256="
)

// ComputeChallengeResponse returns base64(HMAC-SHA256(consumerSecret, crcToken)).
func ComputeChallengeResponse(crcToken, consumerSecret string) (string, error) {
	if consumerSecret == "" {
		return "", fmt.Errorf("%w: consumer secret is required", autherr.ErrConfig)
	}
	return codec.Base64(mac(consumerSecret, []byte(crcToken))), nil
}

// VerifySignature checks header against the HMAC of body.
func VerifySignature(body []byte, header, consumerSecret string) error {
	if consumerSecret == "" {
		return fmt.Errorf("%w: consumer secret is required", autherr.ErrConfig)
	}
	want := signaturePrefix + codec.Base64(mac(consumerSecret, body))
	if !hmac.Equal([]byte(header), []byte(want)) {
		return fmt.Errorf("%w: webhook signature mismatch", autherr.ErrSignature)
	}
	return nil
}

func mac(secret string, msg []byte) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(msg)
	return h.Sum(nil)
}
