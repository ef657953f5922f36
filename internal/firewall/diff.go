package firewall

import "github.com/pmezard/go-difflib/difflib"

// Diff returns a unified diff from the persisted script to the new one, or an
// empty string when they are identical.
func Diff(persisted, generated, name string) (string, error) {
	if persisted == generated {
		return "", nil
	}
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(persisted),
		B:        difflib.SplitLines(generated),
		FromFile: name + " (persisted)",
		ToFile:   name + " (generated)",
		Context:  3,
	}
	return difflib.GetUnifiedDiffString(diff)
}
