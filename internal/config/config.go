package config

import (
	"path/filepath"
	"time"

	"grimm.is/mudgate/internal/brand"
	"grimm.is/mudgate/internal/firewall"
	"grimm.is/mudgate/internal/signature"
)

// CurrentSchemaVersion defines the current schema version of the configuration.
const CurrentSchemaVersion = "1.0"

// Defaults for the watch block.
const (
	DefaultRetryInterval = 5 * time.Minute
	DefaultMetricsPath   = "/metrics"
)

// Config is the top-level structure for the mudgate configuration.
type Config struct {
	// Schema version for backward compatibility (e.g., "1.0").
	// If empty, defaults to "1.0".
	SchemaVersion string `hcl:"schema_version,optional" json:"schema_version,omitempty"`

	StateDir string `hcl:"state_dir,optional" json:"state_dir,omitempty"`
	LogLevel string `hcl:"log_level,optional" json:"log_level,omitempty"`
	LogJSON  bool   `hcl:"log_json,optional" json:"log_json,omitempty"`

	Firewall     *FirewallConfig     `hcl:"firewall,block" json:"firewall,omitempty"`
	Verification *VerificationConfig `hcl:"verification,block" json:"verification,omitempty"`
	Metrics      *MetricsConfig      `hcl:"metrics,block" json:"metrics,omitempty"`
	Watch        *WatchConfig        `hcl:"watch,block" json:"watch,omitempty"`
	Devices      []Device            `hcl:"device,block" json:"devices"`
}

// FirewallConfig configures script generation and enforcement.
type FirewallConfig struct {
	IPTables      string `hcl:"iptables,optional" json:"iptables,omitempty"`
	IP6Tables     string `hcl:"ip6tables,optional" json:"ip6tables,omitempty"`
	EgressHook    string `hcl:"egress_hook,optional" json:"egress_hook,omitempty"`
	IngressHook   string `hcl:"ingress_hook,optional" json:"ingress_hook,omitempty"`
	DefaultAction string `hcl:"default_action,optional" json:"default_action,omitempty"` // "", "drop" or "reject"
	Shell         string `hcl:"shell,optional" json:"shell,omitempty"`
}

// VerificationConfig configures the signature gate.
type VerificationConfig struct {
	Policy       string `hcl:"policy,optional" json:"policy,omitempty"`
	TrustAnchors string `hcl:"trust_anchors,optional" json:"trust_anchors,omitempty"` // PEM bundle path
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Listen string `hcl:"listen,optional" json:"listen,omitempty"` // e.g. "127.0.0.1:9420"; empty disables
	Path   string `hcl:"path,optional" json:"path,omitempty"`
}

// WatchConfig configures the watch scheduler.
type WatchConfig struct {
	// Refresh overrides the document's cache-validity when set.
	Refresh       string `hcl:"refresh,optional" json:"refresh,omitempty"`
	RetryInterval string `hcl:"retry_interval,optional" json:"retry_interval,omitempty"`
}

// Device is one controlled device.
type Device struct {
	ID           string `hcl:"id,label" json:"id"`
	MUDURL       string `hcl:"mud_url" json:"mud_url"`
	SignatureURL string `hcl:"signature_url,optional" json:"signature_url,omitempty"` // overrides the document's mud-signature
	Policy       string `hcl:"policy,optional" json:"policy,omitempty"`               // overrides verification.policy
	Disabled     bool   `hcl:"disabled,optional" json:"disabled,omitempty"`
}

// ApplyDefaults fills in every optional setting that was left empty.
func (c *Config) ApplyDefaults() {
	if c.SchemaVersion == "" {
		c.SchemaVersion = CurrentSchemaVersion
	}
	if c.StateDir == "" {
		c.StateDir = brand.GetStateDir()
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.Firewall == nil {
		c.Firewall = &FirewallConfig{}
	}
	d := firewall.DefaultOptions()
	if c.Firewall.IPTables == "" {
		c.Firewall.IPTables = d.IPTables
	}
	if c.Firewall.IP6Tables == "" {
		c.Firewall.IP6Tables = d.IP6Tables
	}
	if c.Firewall.EgressHook == "" {
		c.Firewall.EgressHook = d.EgressHook
	}
	if c.Firewall.IngressHook == "" {
		c.Firewall.IngressHook = d.IngressHook
	}
	if c.Firewall.Shell == "" {
		c.Firewall.Shell = firewall.DefaultShell
	}

	if c.Verification == nil {
		c.Verification = &VerificationConfig{}
	}
	if c.Verification.Policy == "" {
		c.Verification.Policy = string(signature.PolicyStrict)
	}

	if c.Metrics == nil {
		c.Metrics = &MetricsConfig{}
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	if c.Watch == nil {
		c.Watch = &WatchConfig{}
	}
	if c.Watch.RetryInterval == "" {
		c.Watch.RetryInterval = DefaultRetryInterval.String()
	}
}

// FirewallOptions converts the firewall block to generator options.
func (c *Config) FirewallOptions() firewall.Options {
	if c.Firewall == nil {
		return firewall.DefaultOptions()
	}
	return firewall.Options{
		IPTables:      c.Firewall.IPTables,
		IP6Tables:     c.Firewall.IP6Tables,
		EgressHook:    c.Firewall.EgressHook,
		IngressHook:   c.Firewall.IngressHook,
		DefaultAction: c.Firewall.DefaultAction,
	}
}

// PolicyFor returns the verification policy for a device.
func (c *Config) PolicyFor(d Device) (signature.Policy, error) {
	if d.Policy != "" {
		return signature.ParsePolicy(d.Policy)
	}
	if c.Verification == nil {
		return signature.PolicyStrict, nil
	}
	return signature.ParsePolicy(c.Verification.Policy)
}

// Device returns the device with the given id.
func (c *Config) Device(id string) (Device, bool) {
	for _, d := range c.Devices {
		if d.ID == id {
			return d, true
		}
	}
	return Device{}, false
}

// EnabledDevices returns the devices that are not disabled, in file order.
func (c *Config) EnabledDevices() []Device {
	var out []Device
	for _, d := range c.Devices {
		if !d.Disabled {
			out = append(out, d)
		}
	}
	return out
}

// DatabasePath is the run history database under the state directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.StateDir, brand.DatabaseName)
}

// LocksDir is the directory holding per-device run locks.
func (c *Config) LocksDir() string {
	return filepath.Join(c.StateDir, brand.LocksDirName)
}

// RefreshInterval returns the configured refresh and whether one was set.
// Validate must have succeeded.
func (c *Config) RefreshInterval() (time.Duration, bool) {
	if c.Watch == nil || c.Watch.Refresh == "" {
		return 0, false
	}
	d, _ := time.ParseDuration(c.Watch.Refresh)
	return d, true
}

// RetryInterval returns the delay before a failed device is retried.
func (c *Config) RetryInterval() time.Duration {
	if c.Watch == nil || c.Watch.RetryInterval == "" {
		return DefaultRetryInterval
	}
	d, err := time.ParseDuration(c.Watch.RetryInterval)
	if err != nil {
		return DefaultRetryInterval
	}
	return d
}
