// Package codec provides the RFC 3986 percent-encoding and base64 helpers
// used by the request signers.
package codec

import (
	"encoding/base64"
	"strings"
)

const upperhex = "0123456789ABCDEF"

// PercentEncode encodes s per RFC 3986 section 2.1. Only unreserved
// characters (ALPHA, DIGIT, "-", ".", "_", "~") are left untouched; every
// other byte, including each byte of a multi-byte UTF-8 sequence, becomes
// an uppercase %XX triplet.
func PercentEncode(s string) string {
	n := 0
	for i := 0; i < len(s); i++ {
		if !unreserved(s[i]) {
			n++
		}
	}
	if n == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 2*n)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

func unreserved(c byte) bool {
	switch {
	case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~':
		return true
	}
	return false
}

// Base64URL encodes b as unpadded URL-safe base64.
func Base64URL(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Base64 encodes b as padded standard base64.
func Base64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// BasicAuth returns the value of an HTTP Basic Authorization header for
// the given user and password, including the "Basic " prefix.
func BasicAuth(user, password string) string {
	return "Basic " + Base64([]byte(user+":"+password))
}
