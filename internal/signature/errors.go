package signature

import (
	"errors"
	"fmt"
)

var (
	// ErrVerificationUnavailable means no signature could be checked.
	ErrVerificationUnavailable = errors.New("signature verification unavailable")
	// ErrVerificationFailed means a signature was checked and rejected.
	ErrVerificationFailed = errors.New("signature verification failed")
)

// VerificationError reports a non-Verified result.
type VerificationError struct {
	Verdict Verdict
	Reason  Reason
	Err     error
}

func (e *VerificationError) sentinel() error {
	if e.Verdict == Unavailable {
		return ErrVerificationUnavailable
	}
	return ErrVerificationFailed
}

func (e *VerificationError) Error() string {
	msg := fmt.Sprintf("%v (%s)", e.sentinel(), e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *VerificationError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.sentinel()}
	}
	return []error{e.sentinel(), e.Err}
}
