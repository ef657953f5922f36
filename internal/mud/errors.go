package mud

import (
	"errors"
	"fmt"
	"strings"
)

// ErrStructural is matched by every *StructuralError via errors.Is.
var ErrStructural = errors.New("structural error")

// ErrAmbiguousMatch is matched by every *AmbiguousMatchError via errors.Is.
var ErrAmbiguousMatch = errors.New("ambiguous match")

// StructuralError reports a document that is missing mandatory fields, holds
// values of the wrong kind, repeats a unique name, or references an ACL that
// does not exist.
type StructuralError struct {
	Path   string
	ACL    string
	ACE    string
	Reason string
	Err    error
}

func (e *StructuralError) Error() string {
	var b strings.Builder
	b.WriteString("structural error")
	if e.Path != "" {
		fmt.Fprintf(&b, " at %s", e.Path)
	}
	if e.ACL != "" {
		fmt.Fprintf(&b, " (acl %q", e.ACL)
		if e.ACE != "" {
			fmt.Fprintf(&b, ", ace %q", e.ACE)
		}
		b.WriteString(")")
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *StructuralError) Unwrap() error { return e.Err }

func (e *StructuralError) Is(target error) bool { return target == ErrStructural }

// AmbiguousMatchError reports an ACE whose match blocks select more than one
// address family or transport, or disagree with each other.
type AmbiguousMatchError struct {
	Path   string
	ACL    string
	ACE    string
	Blocks []string
	Reason string
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("ambiguous match at %s (acl %q, ace %q): %s [%s]",
		e.Path, e.ACL, e.ACE, e.Reason, strings.Join(e.Blocks, ", "))
}

func (e *AmbiguousMatchError) Is(target error) bool { return target == ErrAmbiguousMatch }
