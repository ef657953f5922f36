package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"grimm.is/mudgate/internal/mud"
	"grimm.is/mudgate/internal/signature"
	"grimm.is/mudgate/internal/validation"
)

// ValidationError collects every problem found in a config.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Problems, "; ")
}

// Validate checks the config after ApplyDefaults.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if err := validation.ValidatePath(c.StateDir, nil); err != nil {
		add("state_dir: %v", err)
	}
	if c.LogLevel != "" {
		if err := validation.ValidateAllowlist(strings.ToLower(c.LogLevel), []string{"debug", "info", "warn", "warning", "error"}); err != nil {
			add("log_level: %v", err)
		}
	}

	if err := c.FirewallOptions().Validate(); err != nil {
		add("firewall: %v", err)
	}
	if c.Firewall != nil && c.Firewall.Shell != "" {
		if err := validation.ValidatePath(c.Firewall.Shell, nil); err != nil {
			add("firewall.shell: %v", err)
		}
	}

	if c.Verification != nil {
		if _, err := signature.ParsePolicy(c.Verification.Policy); err != nil {
			add("verification.policy: %v", err)
		}
		if c.Verification.TrustAnchors != "" {
			if err := validation.ValidatePath(c.Verification.TrustAnchors, nil); err != nil {
				add("verification.trust_anchors: %v", err)
			}
		}
	}

	if c.Metrics != nil && c.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			add("metrics.listen: %v", err)
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			add("metrics.path: must start with /")
		}
	}

	if c.Watch != nil {
		if c.Watch.Refresh != "" {
			if err := positiveDuration(c.Watch.Refresh); err != nil {
				add("watch.refresh: %v", err)
			}
		}
		if c.Watch.RetryInterval != "" {
			if err := positiveDuration(c.Watch.RetryInterval); err != nil {
				add("watch.retry_interval: %v", err)
			}
		}
	}

	seen := make(map[string]bool)
	for _, d := range c.Devices {
		if err := validation.ValidateDeviceID(d.ID); err != nil {
			add("device %q: %v", d.ID, err)
		}
		if seen[d.ID] {
			add("device %q: defined more than once", d.ID)
		}
		seen[d.ID] = true
		if err := mud.ValidateURL(d.MUDURL); err != nil {
			add("device %q: mud_url: %v", d.ID, err)
		}
		if d.SignatureURL != "" {
			if err := mud.ValidateURL(d.SignatureURL); err != nil {
				add("device %q: signature_url: %v", d.ID, err)
			}
		}
		if d.Policy != "" {
			if _, err := signature.ParsePolicy(d.Policy); err != nil {
				add("device %q: policy: %v", d.ID, err)
			}
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func positiveDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	if d <= 0 {
		return errors.New("must be positive")
	}
	return nil
}
