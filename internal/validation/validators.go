package validation

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxDeviceIDLength keeps "<id>_OUTPUT" within the 28 character iptables
// chain name limit.
const MaxDeviceIDLength = 21

// MaxCommentLength is the iptables comment match limit.
const MaxCommentLength = 256

var (
	// Valid identifier: alphanumeric, dash, underscore
	identifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// Built-in or user chain a device chain may be attached to.
	chainNameRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{0,27}$`)

	// One DNS label (RFC 1123).
	labelRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)
)

// ValidateIdentifier validates a general identifier (device names, bucket names, etc.)
func ValidateIdentifier(id string) error {
	if id == "" {
		return fmt.Errorf("identifier cannot be empty")
	}

	if len(id) > 255 {
		return fmt.Errorf("identifier too long (max 255 characters)")
	}

	if !identifierRegex.MatchString(id) {
		return fmt.Errorf("invalid identifier: %s (must be alphanumeric with -_)", id)
	}

	return nil
}

// ValidateDeviceID validates the identifier used to derive chain names.
func ValidateDeviceID(id string) error {
	if err := ValidateIdentifier(id); err != nil {
		return fmt.Errorf("device id: %w", err)
	}
	if len(id) > MaxDeviceIDLength {
		return fmt.Errorf("device id too long (max %d characters): %s", MaxDeviceIDLength, id)
	}
	return nil
}

// ValidateChainName validates a firewall hook chain name such as OUTPUT or FORWARD.
func ValidateChainName(name string) error {
	if !chainNameRegex.MatchString(name) {
		return fmt.Errorf("invalid chain name: %q", name)
	}
	return nil
}

// ValidateHostname validates a DNS name as carried by ACL dnsname matches.
// A single trailing dot is accepted.
func ValidateHostname(name string) error {
	if name == "" {
		return fmt.Errorf("hostname cannot be empty")
	}
	trimmed := strings.TrimSuffix(name, ".")
	if len(trimmed) > 253 {
		return fmt.Errorf("hostname too long (max 253 characters)")
	}
	for _, label := range strings.Split(trimmed, ".") {
		if !labelRegex.MatchString(label) {
			return fmt.Errorf("invalid hostname label %q in %q", label, name)
		}
	}
	return nil
}

// ValidatePath validates a file path against an allowlist of permitted directories.
// An empty allowlist permits any absolute path.
func ValidatePath(path string, allowedDirs []string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	if strings.Contains(path, "\x00") {
		return fmt.Errorf("null byte in path")
	}

	if strings.Contains(path, "..") {
		return fmt.Errorf("path traversal not allowed: %s", path)
	}

	cleanPath := filepath.Clean(path)
	if filepath.IsAbs(cleanPath) && len(allowedDirs) > 0 {
		for _, allowedDir := range allowedDirs {
			if strings.HasPrefix(cleanPath, filepath.Clean(allowedDir)) {
				return nil
			}
		}
		return fmt.Errorf("path not in allowed directories: %s", cleanPath)
	}

	return nil
}

// ValidateAllowlist checks if a value is in an allowed list
func ValidateAllowlist(value string, allowed []string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("value %q not in allowlist (%s)", value, strings.Join(allowed, ", "))
}

// SanitizeComment makes ACL and ACE names safe for an iptables comment
// match: control characters are dropped and the result is cut to
// MaxCommentLength bytes on a rune boundary.
func SanitizeComment(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < 0x20 || r == 0x7f || r == utf8.RuneError {
			continue
		}
		if b.Len()+utf8.RuneLen(r) > MaxCommentLength {
			break
		}
		b.WriteRune(r)
	}
	return b.String()
}
