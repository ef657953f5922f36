package firewall

import (
	"fmt"
	"path"

	"grimm.is/mudgate/internal/mud"
	"grimm.is/mudgate/internal/validation"
)

// Chain name suffixes. The device id is the prefix.
const (
	OutputSuffix = "_OUTPUT"
	InputSuffix  = "_INPUT"
)

// Default actions appended after the accept rules of each chain.
const (
	DefaultActionNone   = ""
	DefaultActionDrop   = "drop"
	DefaultActionReject = "reject"
)

// Options configures rule generation.
type Options struct {
	// IPTables and IP6Tables are the binaries invoked by the script.
	IPTables  string
	IP6Tables string
	// EgressHook receives the jump to the outbound chain, IngressHook the
	// jump to the inbound chain.
	EgressHook  string
	IngressHook string
	// DefaultAction, if set, terminates both chains with DROP or REJECT.
	DefaultAction string
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		IPTables:    "iptables",
		IP6Tables:   "ip6tables",
		EgressHook:  "OUTPUT",
		IngressHook: "INPUT",
	}
}

// Validate checks that every option can be embedded in the script.
func (o Options) Validate() error {
	for _, bin := range []struct{ name, value string }{
		{"iptables", o.IPTables},
		{"ip6tables", o.IP6Tables},
	} {
		if bin.value == "" {
			return fmt.Errorf("%s binary is empty", bin.name)
		}
		if path.IsAbs(bin.value) {
			if err := validation.ValidatePath(bin.value, nil); err != nil {
				return fmt.Errorf("%s binary: %w", bin.name, err)
			}
		} else if err := validation.ValidateIdentifier(bin.value); err != nil {
			return fmt.Errorf("%s binary: %w", bin.name, err)
		}
	}
	for _, hook := range []string{o.EgressHook, o.IngressHook} {
		if err := validation.ValidateChainName(hook); err != nil {
			return fmt.Errorf("hook: %w", err)
		}
	}
	switch o.DefaultAction {
	case DefaultActionNone, DefaultActionDrop, DefaultActionReject:
	default:
		return fmt.Errorf("invalid default action %q", o.DefaultAction)
	}
	return nil
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.IPTables == "" {
		o.IPTables = d.IPTables
	}
	if o.IP6Tables == "" {
		o.IP6Tables = d.IP6Tables
	}
	if o.EgressHook == "" {
		o.EgressHook = d.EgressHook
	}
	if o.IngressHook == "" {
		o.IngressHook = d.IngressHook
	}
	return o
}

// RuleScript is a generated script together with what went into it.
type RuleScript struct {
	Device      string `json:"device" yaml:"device"`
	OutputChain string `json:"output_chain" yaml:"output_chain"`
	InputChain  string `json:"input_chain" yaml:"input_chain"`
	// Outbound and Inbound count the rule lines emitted per direction.
	Outbound int `json:"outbound" yaml:"outbound"`
	Inbound  int `json:"inbound" yaml:"inbound"`
	// Skipped counts ACEs that produced no rule line.
	Skipped int `json:"skipped" yaml:"skipped"`
	// IPv6 reports whether ip6tables chains are created and hooked.
	IPv6 bool `json:"ipv6" yaml:"ipv6"`
	// Warnings lists rendered rules that match more than their ACE.
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Text     string   `json:"-" yaml:"-"`
}

// Rules returns the total number of rule lines.
func (s RuleScript) Rules() int { return s.Outbound + s.Inbound }

// ChainNames returns the outbound and inbound chain names for a device.
func ChainNames(deviceID string) (output, input string) {
	return deviceID + OutputSuffix, deviceID + InputSuffix
}

// Generator renders rule scripts.
type Generator struct {
	opts Options
}

// NewGenerator creates a generator; empty options fall back to DefaultOptions.
func NewGenerator(opts Options) (*Generator, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Generator{opts: opts}, nil
}

// Options returns the effective options.
func (g *Generator) Options() Options { return g.opts }

type ruleLine struct {
	family mud.Family
	args   matchBuilder
}

// Generate renders the script for deviceID. It is deterministic and has no
// side effects.
func (g *Generator) Generate(set mud.CorrelatedRuleSet, deviceID string) (RuleScript, error) {
	if err := validation.ValidateDeviceID(deviceID); err != nil {
		return RuleScript{}, err
	}
	outChain, inChain := ChainNames(deviceID)
	script := RuleScript{Device: deviceID, OutputChain: outChain, InputChain: inChain}

	outRules, skippedOut, warnOut := g.rules(set.Outbound, mud.FromDevice)
	inRules, skippedIn, warnIn := g.rules(set.Inbound, mud.ToDevice)
	script.Outbound = len(outRules)
	script.Inbound = len(inRules)
	script.Skipped = skippedOut + skippedIn
	script.Warnings = append(warnOut, warnIn...)
	for _, r := range append(append([]ruleLine{}, outRules...), inRules...) {
		if r.family == mud.FamilyIPv6 {
			script.IPv6 = true
			break
		}
	}

	b := NewScriptBuilder()
	b.AddComment("Generated by mudgate. Do not edit.")
	b.AddComment("device: %s", deviceID)
	b.AddComment("chains: %s %s", outChain, inChain)
	b.AddComment("usage: sh %s.sh down|up", deviceID)
	b.AddLine("set -u")
	b.AddBlank()

	b.BeginAction("down")
	for _, bin := range []string{g.opts.IPTables, g.opts.IP6Tables} {
		b.AddBestEffort(bin, "-D", g.opts.EgressHook, "-j", outChain)
		b.AddBestEffort(bin, "-D", g.opts.IngressHook, "-j", inChain)
		b.AddBestEffort(bin, "-F", outChain)
		b.AddBestEffort(bin, "-F", inChain)
		b.AddBestEffort(bin, "-X", outChain)
		b.AddBestEffort(bin, "-X", inChain)
	}
	b.EndAction()
	b.AddBlank()

	b.BeginAction("up")
	b.AddLine("set -e")
	bins := []string{g.opts.IPTables}
	if script.IPv6 {
		bins = append(bins, g.opts.IP6Tables)
	}
	for _, bin := range bins {
		b.AddCommand(bin, "-N", outChain)
		b.AddCommand(bin, "-N", inChain)
	}
	for _, r := range outRules {
		b.AddCommand(g.ruleCommand(r, outChain)...)
	}
	for _, r := range inRules {
		b.AddCommand(g.ruleCommand(r, inChain)...)
	}
	if target := defaultTarget(g.opts.DefaultAction); target != "" {
		for _, bin := range bins {
			b.AddCommand(bin, "-A", outChain, "-j", target)
			b.AddCommand(bin, "-A", inChain, "-j", target)
		}
	}
	for _, bin := range bins {
		b.AddCommand(bin, "-A", g.opts.EgressHook, "-j", outChain)
		b.AddCommand(bin, "-A", g.opts.IngressHook, "-j", inChain)
	}
	b.EndAction()

	script.Text = b.Build()
	return script, nil
}

// rules renders one line per actionable ACE of a chain carrying traffic in
// direction, preserving document order.
func (g *Generator) rules(acls []mud.ACL, direction mud.Direction) ([]ruleLine, int, []string) {
	var lines []ruleLine
	var warnings []string
	skipped := 0
	for _, acl := range acls {
		for _, ace := range acl.Entries {
			if ace.Match.Controller.Set || ace.Action != mud.ForwardingAccept {
				skipped++
				continue
			}
			clauses, dropped, ok := matchClauses(ace.Match, direction)
			if !ok {
				skipped++
				continue
			}
			if proto, set := dropped.Get(); set {
				warnings = append(warnings, fmt.Sprintf("%s/%s: protocol %d not rendered, rule matches any protocol", acl.Name, ace.Name, proto))
			}
			family := ace.Match.Family.OrElse(acl.Type.Family().OrElse(mud.FamilyIPv4))
			lines = append(lines, ruleLine{
				family: family,
				args:   clauses.Comment(acl.Name + "/" + ace.Name).Jump("ACCEPT"),
			})
		}
	}
	return lines, skipped, warnings
}

func (g *Generator) ruleCommand(r ruleLine, chain string) []string {
	bin := g.opts.IPTables
	if r.family == mud.FamilyIPv6 {
		bin = g.opts.IP6Tables
	}
	return append([]string{bin, "-A", chain}, r.args...)
}

func defaultTarget(action string) string {
	switch action {
	case DefaultActionDrop:
		return "DROP"
	case DefaultActionReject:
		return "REJECT"
	}
	return ""
}
