package cmd

import (
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"grimm.is/mudgate/internal/firewall"
	"grimm.is/mudgate/internal/mud"
	"grimm.is/mudgate/internal/signature"
)

// Output formats accepted by inspect.
const (
	OutputText = "text"
	OutputJSON = "json"
	OutputYAML = "yaml"
)

// InspectOptions selects what RunInspect reads and prints.
type InspectOptions struct {
	Path      string // MUD file, "-" for stdin
	Output    string
	Device    string // if set, the generated script for this device id is printed
	Signature string // detached signature file to verify
	Anchors   string // PEM trust anchors for Signature
}

func newInspectCommand(_ *globalFlags) *cobra.Command {
	opts := InspectOptions{}
	c := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Print the policy model of a local MUD file",
		Long: `Decode, build and correlate a MUD file without fetching or applying
anything, and print the result. With --script the generated rule script
for the given device id is printed instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Path = args[0]
			return RunInspect(opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	c.Flags().StringVarP(&opts.Output, "output", "o", OutputText, "output format: text, json, yaml")
	c.Flags().StringVar(&opts.Device, "script", "", "print the rule script for this device id")
	c.Flags().StringVar(&opts.Signature, "signature", "", "verify this detached CMS signature")
	c.Flags().StringVar(&opts.Anchors, "anchors", "", "PEM trust anchors for --signature")
	return c
}

// inspection is the structured form printed as JSON or YAML.
type inspection struct {
	Document     *mud.Document          `json:"document" yaml:"document"`
	Correlated   mud.CorrelatedRuleSet  `json:"correlated" yaml:"correlated"`
	Verification *inspectedVerification `json:"verification,omitempty" yaml:"verification,omitempty"`
}

type inspectedVerification struct {
	Verdict string   `json:"verdict" yaml:"verdict"`
	Reason  string   `json:"reason" yaml:"reason"`
	Signers []string `json:"signers,omitempty" yaml:"signers,omitempty"`
	Cause   string   `json:"cause,omitempty" yaml:"cause,omitempty"`
}

// RunInspect implements the inspect command.
func RunInspect(opts InspectOptions, stdin io.Reader, out io.Writer) error {
	var body []byte
	var err error
	if opts.Path == "-" {
		body, err = io.ReadAll(stdin)
	} else {
		body, err = os.ReadFile(opts.Path)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", opts.Path, err)
	}

	tree, err := mud.Decode(body)
	if err != nil {
		return err
	}
	doc, err := mud.Build(tree)
	if err != nil {
		return err
	}
	set, err := mud.Correlate(doc)
	if err != nil {
		return err
	}

	result := inspection{Document: doc, Correlated: set}
	if opts.Signature != "" {
		v, err := verifyLocal(body, opts.Signature, opts.Anchors)
		if err != nil {
			return err
		}
		result.Verification = v
	}

	if opts.Device != "" {
		gen, err := firewall.NewGenerator(firewall.DefaultOptions())
		if err != nil {
			return err
		}
		script, err := gen.Generate(set, opts.Device)
		if err != nil {
			return err
		}
		_, err = io.WriteString(out, script.Text)
		return err
	}

	switch opts.Output {
	case OutputJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case OutputYAML:
		data, err := yaml.Marshal(result)
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	case OutputText, "":
		return printInspection(out, result)
	}
	return fmt.Errorf("unknown output format %q", opts.Output)
}

func verifyLocal(body []byte, sigPath, anchorsPath string) (*inspectedVerification, error) {
	sig, err := os.ReadFile(sigPath)
	if err != nil {
		return nil, fmt.Errorf("read signature: %w", err)
	}
	var roots *x509.CertPool
	if anchorsPath != "" {
		if roots, err = signature.LoadTrustAnchors(anchorsPath); err != nil {
			return nil, err
		}
	}
	r := signature.NewGate(nil, roots).Verify(body, sig)
	v := &inspectedVerification{
		Verdict: r.Verdict.String(),
		Reason:  string(r.Reason),
		Signers: r.Signers,
	}
	if r.Cause != nil {
		v.Cause = r.Cause.Error()
	}
	return v, nil
}

func printInspection(out io.Writer, r inspection) error {
	doc := r.Document
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "MUD URL:\t%s\n", doc.URL)
	fmt.Fprintf(w, "Signature:\t%s\n", doc.Signature)
	if v, ok := doc.LastUpdate.Get(); ok {
		fmt.Fprintf(w, "Last update:\t%s\n", v.Format("2006-01-02T15:04:05Z07:00"))
	}
	fmt.Fprintf(w, "Cache validity:\t%dh\n", doc.CacheValidity.OrElse(mud.DefaultCacheValidity))
	if v, ok := doc.SystemInfo.Get(); ok {
		fmt.Fprintf(w, "System info:\t%s\n", v)
	}
	if v, ok := doc.MfgName.Get(); ok {
		fmt.Fprintf(w, "Manufacturer:\t%s\n", v)
	}
	if v, ok := doc.ModelName.Get(); ok {
		fmt.Fprintf(w, "Model:\t%s\n", v)
	}
	if len(doc.Extensions) > 0 {
		fmt.Fprintf(w, "Extensions:\t%s\n", strings.Join(doc.Extensions, ", "))
	}
	if v := r.Verification; v != nil {
		fmt.Fprintf(w, "Verification:\t%s (%s)\n", v.Verdict, v.Reason)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, part := range []struct {
		title string
		acls  []mud.ACL
	}{
		{"from-device", r.Correlated.Outbound},
		{"to-device", r.Correlated.Inbound},
	} {
		fmt.Fprintf(out, "\n%s (%d entries)\n", part.title, mud.EntryCount(part.acls))
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  ACL\tTYPE\tACE\tMATCH")
		for _, acl := range part.acls {
			for _, ace := range acl.Entries {
				fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", acl.Name, aclTypeName(acl.Type), ace.Name, describeMatch(ace.Match))
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func aclTypeName(t mud.ACLType) string {
	if t == mud.ACLTypeUnspecified {
		return "-"
	}
	return string(t)
}

// describeMatch renders a match in one line for the text output.
func describeMatch(m mud.Match) string {
	var parts []string
	if f, ok := m.Family.Get(); ok {
		parts = append(parts, string(f))
	}
	if p, ok := m.Protocol.Get(); ok {
		parts = append(parts, fmt.Sprintf("proto=%d", p))
	}
	if t, ok := m.Transport.Get(); ok {
		parts = append(parts, string(t))
	}
	if v, ok := m.SrcHost.Get(); ok {
		parts = append(parts, "src="+v)
	}
	if v, ok := m.SrcNetwork.Get(); ok {
		parts = append(parts, "src="+v.String())
	}
	if v, ok := m.DstHost.Get(); ok {
		parts = append(parts, "dst="+v)
	}
	if v, ok := m.DstNetwork.Get(); ok {
		parts = append(parts, "dst="+v.String())
	}
	if p, ok := m.SrcPort.Get(); ok {
		parts = append(parts, "sport "+p.String())
	}
	if p, ok := m.DstPort.Get(); ok {
		parts = append(parts, "dport "+p.String())
	}
	if m.Controller.Set {
		parts = append(parts, "controller")
	}
	if len(parts) == 0 {
		return "any"
	}
	return strings.Join(parts, " ")
}
