package firewall

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersist(t *testing.T) {
	dir := t.TempDir()
	script := RuleScript{Device: "bulb", Text: "#!/bin/sh\necho one\n"}

	path, err := Persist(dir, script)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "rules", "bulb.sh"), path)
	assert.Equal(t, path, ScriptPath(dir, "bulb"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o750), info.Mode().Perm())

	data, err := ReadPersisted(dir, "bulb")
	require.NoError(t, err)
	assert.Equal(t, script.Text, string(data))

	// Replacing leaves no temporary files behind.
	script.Text = "#!/bin/sh\necho two\n"
	_, err = Persist(dir, script)
	require.NoError(t, err)
	entries, err := os.ReadDir(RulesDir(dir))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err = ReadPersisted(dir, "bulb")
	require.NoError(t, err)
	assert.Equal(t, script.Text, string(data))
}

func TestReadPersisted_Missing(t *testing.T) {
	data, err := ReadPersisted(t.TempDir(), "nothing")
	assert.NoError(t, err)
	assert.Nil(t, data)
}

func TestPersist_Errors(t *testing.T) {
	_, err := Persist(t.TempDir(), RuleScript{Device: "../etc"})
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "validate", pe.Op)

	// State dir is a regular file, so the rules directory cannot be created.
	file := filepath.Join(t.TempDir(), "state")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	_, err = Persist(file, RuleScript{Device: "bulb"})
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "mkdir", pe.Op)
	assert.Contains(t, pe.Error(), "persist rule script")
}
