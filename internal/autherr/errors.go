// Package autherr defines the error taxonomy shared by the credential and
// signing components.
package autherr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig reports missing or malformed credentials or secrets.
	ErrConfig = errors.New("credential configuration error")
	// ErrNetwork reports a transient transport, timeout or 5xx failure that
	// outlived the retry budget.
	ErrNetwork = errors.New("network error")
	// ErrAuthExpired reports a rejected refresh token. The authorization
	// flow has to be restarted.
	ErrAuthExpired = errors.New("authorization expired")
	// ErrAuthExchangeFailed reports a rejected authorization code exchange.
	ErrAuthExchangeFailed = errors.New("authorization code exchange failed")
	// ErrStoreConflict reports a lost optimistic-concurrency race on the token store.
	ErrStoreConflict = errors.New("token store conflict")
	// ErrSignature reports an internal invariant violation while signing.
	ErrSignature = errors.New("signature error")
	// ErrNotFound is returned by stores when no record exists.
	ErrNotFound = errors.New("not found")
)

// ProviderError carries the identity provider's error detail alongside the
// error kind it was classified as.
type ProviderError struct {
	Kind        error  // one of the sentinels above
	StatusCode  int    // HTTP status returned by the provider
	Code        string // OAuth2 "error" field, e.g. invalid_grant
	Description string // OAuth2 "error_description" field
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%v: status=%d", e.Kind, e.StatusCode)
	if e.Code != "" {
		msg += " error=" + e.Code
	}
	if e.Description != "" {
		msg += " description=" + e.Description
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Kind
}

// Retryable reports whether err belongs to a transient class that may be
// retried with backoff.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// Terminal reports whether err requires the user to re-authorize.
func Terminal(err error) bool {
	return errors.Is(err, ErrAuthExpired) || errors.Is(err, ErrAuthExchangeFailed)
}
