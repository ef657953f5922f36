package pipeline

import (
	"context"
	"errors"
	"fmt"

	"grimm.is/mudgate/internal/fetch"
	"grimm.is/mudgate/internal/firewall"
	"grimm.is/mudgate/internal/mud"
	"grimm.is/mudgate/internal/signature"
)

var (
	ErrUnknownDevice  = errors.New("unknown device")
	ErrDeviceDisabled = errors.New("device is disabled")
	ErrLocked         = errors.New("another run holds the device lock")
	ErrNotPersisted   = errors.New("no persisted rule script")
)

// Stages of a run, in order.
const (
	StageLock      = "lock"
	StageFetch     = "fetch"
	StageDecode    = "decode"
	StageBuild     = "build"
	StageSignature = "signature"
	StageCorrelate = "correlate"
	StageGenerate  = "generate"
	StagePolicy    = "policy"
	StagePersist   = "persist"
	StageEnforce   = "enforce"
)

// StageError records the stage a run failed in.
type StageError struct {
	Device string
	Stage  string
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Device, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Error kinds reported by Kind.
const (
	KindCanceled                = "canceled"
	KindConfig                  = "config"
	KindLock                    = "lock"
	KindFetch                   = "fetch"
	KindStructural              = "structural"
	KindAmbiguous               = "ambiguous"
	KindVerificationUnavailable = "verification-unavailable"
	KindVerificationFailed      = "verification-failed"
	KindGenerate                = "generate"
	KindPersist                 = "persist"
	KindEnforce                 = "enforce"
	KindInternal                = "internal"
)

// Kind maps an error returned by a run to a stable label for logs, metrics
// and run history. nil maps to "".
func Kind(err error) string {
	var (
		fetchErr   *fetch.FetchError
		structErr  *mud.StructuralError
		ambigErr   *mud.AmbiguousMatchError
		persistErr *firewall.PersistenceError
		enforceErr *firewall.EnforcementError
		stageErr   *StageError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, ErrUnknownDevice), errors.Is(err, ErrDeviceDisabled):
		return KindConfig
	case errors.Is(err, ErrLocked):
		return KindLock
	// Verification errors carry their cause, which may be a FetchError for
	// the signature URL.
	case errors.Is(err, signature.ErrVerificationUnavailable):
		return KindVerificationUnavailable
	case errors.Is(err, signature.ErrVerificationFailed):
		return KindVerificationFailed
	case errors.As(err, &fetchErr):
		return KindFetch
	case errors.As(err, &ambigErr):
		return KindAmbiguous
	case errors.As(err, &structErr):
		return KindStructural
	case errors.As(err, &persistErr):
		return KindPersist
	case errors.As(err, &enforceErr):
		return KindEnforce
	case errors.As(err, &stageErr):
		switch stageErr.Stage {
		case StageGenerate:
			return KindGenerate
		case StageLock:
			return KindLock
		case StagePersist:
			return KindPersist
		case StageEnforce:
			return KindEnforce
		}
	}
	return KindInternal
}
