package firewall

import "fmt"

// PersistenceError reports a rule script that could not be stored.
type PersistenceError struct {
	Path string
	Op   string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist rule script %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// EnforcementError reports a rule script that exited unsuccessfully.
// The generated script is unaffected and may be applied again.
type EnforcementError struct {
	Script string
	Action string
	Err    error
}

func (e *EnforcementError) Error() string {
	return fmt.Sprintf("enforce %s %s: %v", e.Script, e.Action, e.Err)
}

func (e *EnforcementError) Unwrap() error { return e.Err }
