package signature

import "fmt"

// Verdict is the outcome of the authenticity gate. The zero value is Unavailable.
type Verdict int

const (
	Unavailable Verdict = iota
	Failed
	Verified
)

func (v Verdict) String() string {
	switch v {
	case Unavailable:
		return "unavailable"
	case Failed:
		return "failed"
	case Verified:
		return "verified"
	}
	return fmt.Sprintf("verdict(%d)", int(v))
}

// MarshalText renders the verdict name.
func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// Reason refines a Verdict.
type Reason string

const (
	ReasonNoSignature      Reason = "no-signature"
	ReasonFetchFailed      Reason = "fetch-failed"
	ReasonMalformed        Reason = "malformed-container"
	ReasonSignatureInvalid Reason = "signature-invalid"
	ReasonNoTrustAnchor    Reason = "no-trust-anchor"
	ReasonVerified         Reason = "verified"
)

// Result is a Verdict with the detail needed to log and audit it.
type Result struct {
	Verdict Verdict
	Reason  Reason
	// Signers holds the subject common names of the signing certificates.
	Signers []string
	// Cause is the underlying parse or verification error, if any.
	Cause error
}

// Err returns nil for Verified, otherwise a *VerificationError.
func (r Result) Err() error {
	if r.Verdict == Verified {
		return nil
	}
	return &VerificationError{Verdict: r.Verdict, Reason: r.Reason, Err: r.Cause}
}

// UnavailableResult builds an Unavailable result for a signature that could
// not be obtained at all.
func UnavailableResult(reason Reason, cause error) Result {
	return Result{Verdict: Unavailable, Reason: reason, Cause: cause}
}
