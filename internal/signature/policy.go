package signature

import "fmt"

// Policy decides which verdicts permit enforcement.
type Policy string

const (
	// PolicyStrict permits only Verified.
	PolicyStrict Policy = "strict"
	// PolicyAllowUnavailable also permits documents published without a signature.
	PolicyAllowUnavailable Policy = "allow-unavailable"
	// PolicyAdvisory permits every verdict. The verdict is still reported.
	PolicyAdvisory Policy = "advisory"
)

// ParsePolicy parses a configured policy name. Empty means strict.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case "":
		return PolicyStrict, nil
	case PolicyStrict, PolicyAllowUnavailable, PolicyAdvisory:
		return p, nil
	}
	return "", fmt.Errorf("unknown verification policy %q", s)
}

// Permits reports whether r allows rules to be enforced under p.
func (p Policy) Permits(r Result) bool {
	switch p {
	case PolicyAdvisory:
		return true
	case PolicyAllowUnavailable:
		return r.Verdict == Verified || r.Verdict == Unavailable
	}
	return r.Verdict == Verified
}

// Check returns r.Err() when p does not permit r, nil otherwise.
func (p Policy) Check(r Result) error {
	if p.Permits(r) {
		return nil
	}
	return r.Err()
}
