package firewall

import (
	"fmt"
	"strings"
)

// ScriptBuilder builds a POSIX shell script line by line.
type ScriptBuilder struct {
	lines  []string
	indent int
}

// NewScriptBuilder creates a builder whose script starts with the shebang.
func NewScriptBuilder() *ScriptBuilder {
	b := &ScriptBuilder{lines: make([]string, 0, 64)}
	b.AddLine("#!/bin/sh")
	return b
}

// AddLine adds a raw line at the current indentation.
func (b *ScriptBuilder) AddLine(line string) {
	if line == "" {
		b.lines = append(b.lines, "")
		return
	}
	b.lines = append(b.lines, strings.Repeat("\t", b.indent)+line)
}

// AddComment adds a comment line.
func (b *ScriptBuilder) AddComment(format string, args ...any) {
	b.AddLine("# " + fmt.Sprintf(format, args...))
}

// AddBlank adds an empty line.
func (b *ScriptBuilder) AddBlank() {
	b.AddLine("")
}

// BeginAction opens a section that runs only when the script is invoked with action.
func (b *ScriptBuilder) BeginAction(action string) {
	b.AddLine(fmt.Sprintf(`if [ "${1:-}" = %s ]; then`, shellWord(action)))
	b.indent++
}

// EndAction closes the section opened by BeginAction.
func (b *ScriptBuilder) EndAction() {
	if b.indent > 0 {
		b.indent--
	}
	b.AddLine("fi")
}

// AddCommand adds a command built from words; every word is quoted if needed.
func (b *ScriptBuilder) AddCommand(words ...string) {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = shellWord(w)
	}
	b.AddLine(strings.Join(quoted, " "))
}

// AddBestEffort adds a command whose failure is ignored.
func (b *ScriptBuilder) AddBestEffort(words ...string) {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = shellWord(w)
	}
	b.AddLine(strings.Join(quoted, " ") + " 2>/dev/null || true")
}

// Build returns the complete script.
func (b *ScriptBuilder) Build() string {
	return strings.Join(b.lines, "\n") + "\n"
}

// shellWord returns w unchanged when it contains only characters the shell
// treats literally, otherwise single-quoted.
func shellWord(w string) string {
	if w == "" {
		return "''"
	}
	for _, r := range w {
		if !isShellSafe(r) {
			return shellQuote(w)
		}
	}
	return w
}

func isShellSafe(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune("-_./:=,+@%!", r)
}

// shellQuote single-quotes s. Embedded single quotes become '\''.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
