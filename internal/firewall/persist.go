package firewall

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"grimm.is/mudgate/internal/brand"
	"grimm.is/mudgate/internal/validation"
)

const (
	rulesDirMode   = 0o750
	scriptFileMode = 0o750
)

// RulesDir returns the directory holding persisted scripts under stateDir.
func RulesDir(stateDir string) string {
	return filepath.Join(stateDir, brand.RulesDirName)
}

// ScriptPath returns where the script for deviceID is stored.
func ScriptPath(stateDir, deviceID string) string {
	return filepath.Join(RulesDir(stateDir), deviceID+".sh")
}

// Persist writes script to <stateDir>/rules/<device>.sh via a temporary file
// and rename, so a reader never sees a partial script.
func Persist(stateDir string, script RuleScript) (string, error) {
	if err := validation.ValidateDeviceID(script.Device); err != nil {
		return "", &PersistenceError{Path: stateDir, Op: "validate", Err: err}
	}
	dir := RulesDir(stateDir)
	path := ScriptPath(stateDir, script.Device)
	if err := os.MkdirAll(dir, rulesDirMode); err != nil {
		return "", &PersistenceError{Path: dir, Op: "mkdir", Err: err}
	}

	tmp, err := os.CreateTemp(dir, "."+script.Device+".*.tmp")
	if err != nil {
		return "", &PersistenceError{Path: path, Op: "create", Err: err}
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.WriteString(script.Text); err != nil {
		tmp.Close()
		cleanup()
		return "", &PersistenceError{Path: path, Op: "write", Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return "", &PersistenceError{Path: path, Op: "sync", Err: err}
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", &PersistenceError{Path: path, Op: "close", Err: err}
	}
	if err := os.Chmod(tmpPath, scriptFileMode); err != nil {
		cleanup()
		return "", &PersistenceError{Path: path, Op: "chmod", Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return "", &PersistenceError{Path: path, Op: "rename", Err: err}
	}
	return path, nil
}

// ReadPersisted returns the stored script for deviceID. A missing script
// yields nil content and no error.
func ReadPersisted(stateDir, deviceID string) ([]byte, error) {
	data, err := os.ReadFile(ScriptPath(stateDir, deviceID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return data, err
}
