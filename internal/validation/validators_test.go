package validation

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		// Happy paths
		{"simple", "my-device", false},
		{"underscore", "lab_cam", false},
		{"alphanumeric", "sensor123", false},

		// Sad paths
		{"empty", "", true},
		{"space", "my device", true},
		{"dot", "my.device", true},
		{"semicolon injection", "cam;rm", true},
		{"backtick", "cam`id`", true},
		{"too long", strings.Repeat("a", 256), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentifier(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateIdentifier(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateDeviceID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"short", "cam", false},
		{"max length", strings.Repeat("d", MaxDeviceIDLength), false},
		{"too long", strings.Repeat("d", MaxDeviceIDLength+1), true},
		{"slash", "cam/1", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDeviceID(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDeviceID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateChainName(t *testing.T) {
	for _, ok := range []string{"OUTPUT", "INPUT", "FORWARD", "mud-egress"} {
		if err := ValidateChainName(ok); err != nil {
			t.Errorf("ValidateChainName(%q) unexpected error: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "1OUTPUT", "OUT PUT", "OUTPUT;reboot", strings.Repeat("A", 29)} {
		if err := ValidateChainName(bad); err == nil {
			t.Errorf("ValidateChainName(%q) expected error", bad)
		}
	}
}

func TestValidateHostname(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"fqdn", "svc.example.com", false},
		{"trailing dot", "svc.example.com.", false},
		{"single label", "localhost", false},
		{"digits and dash", "a-1.b2.io", false},

		{"empty", "", true},
		{"leading dash", "-bad.example.com", true},
		{"empty label", "a..b", true},
		{"space", "svc example.com", true},
		{"shell expansion", "$(reboot).example.com", true},
		{"quote", "x'.example.com", true},
		{"label too long", strings.Repeat("a", 64) + ".com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateHostname(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateHostname(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePath(t *testing.T) {
	allowed := []string{"/etc/mudgate", "/var/lib/mudgate"}

	if err := ValidatePath("/etc/mudgate/ca.pem", allowed); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidatePath("/tmp/ca.pem", nil); err != nil {
		t.Errorf("empty allowlist should permit absolute paths: %v", err)
	}
	for _, bad := range []string{"", "/etc/shadow", "/etc/mudgate/../shadow", "a\x00b"} {
		if err := ValidatePath(bad, allowed); err == nil {
			t.Errorf("ValidatePath(%q) expected error", bad)
		}
	}
}

func TestValidateAllowlist(t *testing.T) {
	if err := ValidateAllowlist("strict", []string{"strict", "advisory"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateAllowlist("lenient", []string{"strict", "advisory"}); err == nil {
		t.Error("expected error for value outside allowlist")
	}
}

func TestSanitizeComment(t *testing.T) {
	if got := SanitizeComment("cl0-frdev/loc\x01al\n"); got != "cl0-frdev/local" {
		t.Errorf("SanitizeComment() = %q", got)
	}
	long := strings.Repeat("é", MaxCommentLength)
	got := SanitizeComment(long)
	if len(got) > MaxCommentLength || !utf8.ValidString(got) {
		t.Errorf("SanitizeComment() kept %d bytes, valid=%v", len(got), utf8.ValidString(got))
	}
}
