package transport

import (
	"errors"
	"fmt"
)

// EncryptionInitError is returned by New when the encryptor fails its
// startup round-trip verification (see cipher.VerifyRoundTrip).
type EncryptionInitError struct {
	Err error
}

func (e *EncryptionInitError) Error() string {
	return fmt.Sprintf("transport: encryption initialization failed: %v", e.Err)
}

func (e *EncryptionInitError) Unwrap() error {
	return e.Err
}

// PermanentError reports an HTTP response the caller must not retry:
// any 4xx other than 408 or 429.
type PermanentError struct {
	StatusCode int
	Body       string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("transport: permanent failure, status %d", e.StatusCode)
}

// Retriable reports whether err represents a condition the caller
// should retry: network errors, timeouts, and HTTP 408/429/5xx.
// resilience.ErrCircuitOpen is treated as retriable from the caller's
// point of view even though no HTTP attempt was made.
func Retriable(err error) bool {
	if err == nil {
		return false
	}
	var perm *PermanentError
	if errors.As(err, &perm) {
		return false
	}
	return true
}
