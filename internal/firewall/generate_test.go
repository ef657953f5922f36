package firewall

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"grimm.is/mudgate/internal/mud"
	"grimm.is/mudgate/internal/testutil"
)

func correlated(t testing.TB, raw []byte) mud.CorrelatedRuleSet {
	t.Helper()
	tree, err := mud.Decode(raw)
	require.NoError(t, err)
	doc, err := mud.Build(tree)
	require.NoError(t, err)
	set, err := mud.Correlate(doc)
	require.NoError(t, err)
	return set
}

func generate(t testing.TB, set mud.CorrelatedRuleSet) RuleScript {
	t.Helper()
	g, err := NewGenerator(Options{})
	require.NoError(t, err)
	script, err := g.Generate(set, "bulb")
	require.NoError(t, err)
	return script
}

// ruleLines returns the "-A <chain>" lines for chain.
func ruleLines(text, chain string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		fields := strings.Fields(line)
		if len(fields) >= 3 && fields[1] == "-A" && fields[2] == chain {
			out = append(out, line)
		}
	}
	return out
}

func single(t *testing.T, matches string) (RuleScript, []string) {
	t.Helper()
	script := generate(t, correlated(t, testutil.SingleACEDocument(matches)))
	return script, ruleLines(script.Text, "bulb_OUTPUT")
}

func TestGenerate_ACLOutScenario(t *testing.T) {
	script, _ := single(t, `{
		"ipv4": {"protocol": 6, "ietf-acldns:dst-dnsname": "svc.example.com"},
		"tcp":  {"destination-port": {"operator": "eq", "port": 443}}
	}`)

	golden, err := os.ReadFile("testdata/acl-out.sh")
	require.NoError(t, err)
	assert.Equal(t, string(golden), script.Text)

	assert.Equal(t, "bulb_OUTPUT", script.OutputChain)
	assert.Equal(t, "bulb_INPUT", script.InputChain)
	assert.Equal(t, 1, script.Outbound)
	assert.Equal(t, 0, script.Inbound)
	assert.Equal(t, 0, script.Skipped)
	assert.False(t, script.IPv6)
	assert.Empty(t, ruleLines(script.Text, "bulb_INPUT"))
}

func TestGenerate_ProtocolMapping(t *testing.T) {
	tests := []struct {
		protocol int
		clause   string
	}{
		{6, "-p tcp"},
		{17, "-p udp"},
		{1, ""},
		{0, ""},
		{58, ""},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.protocol), func(t *testing.T) {
			script, lines := single(t, fmt.Sprintf(`{"ipv4": {"protocol": %d, "destination-ipv4-network": "198.51.100.0/24"}}`, tt.protocol))
			require.Len(t, lines, 1)
			if tt.clause == "" {
				assert.NotContains(t, lines[0], "-p ")
			} else {
				assert.Contains(t, lines[0], tt.clause+" --destination 198.51.100.0/24")
			}
			assert.Equal(t, 1, script.Outbound)
		})
	}
}

func TestGenerate_TransportWithoutProtocol(t *testing.T) {
	_, lines := single(t, `{"udp": {"destination-port": {"port": 53}}}`)
	require.Len(t, lines, 1)
	assert.Equal(t, "iptables -A bulb_OUTPUT -p udp --dport 53 -m comment --comment acl-out/ace-0 -j ACCEPT", lines[0])
}

func TestGenerate_AbsentVersusZeroPort(t *testing.T) {
	_, zero := single(t, `{"tcp": {"destination-port": {"port": 0}}}`)
	require.Len(t, zero, 1)
	assert.Contains(t, zero[0], "--dport 0 ")

	_, absent := single(t, `{"ipv4": {"protocol": 6, "ietf-acldns:dst-dnsname": "a.example.com"}}`)
	require.Len(t, absent, 1)
	assert.NotContains(t, absent[0], "--dport")
	assert.NotContains(t, absent[0], "--sport")
}

func TestGenerate_ClauseOrder(t *testing.T) {
	_, lines := single(t, `{
		"ipv4": {
			"protocol":                6,
			"source-ipv4-network":     "192.0.2.0/24",
			"ietf-acldns:dst-dnsname": "svc.example.com"
		},
		"tcp": {
			"source-port":      {"operator": "gte", "port": 1024},
			"destination-port": {"port": 443}
		}
	}`)
	require.Len(t, lines, 1)
	assert.Equal(t,
		"iptables -A bulb_OUTPUT -p tcp --source 192.0.2.0/24 --destination svc.example.com --dport 443 --sport 1024: -m comment --comment acl-out/ace-0 -j ACCEPT",
		lines[0])
}

func TestGenerate_PortOperators(t *testing.T) {
	tests := map[string]string{
		`{"operator": "eq", "port": 80}`:             "--dport 80",
		`{"operator": "neq", "port": 22}`:            "! --dport 22",
		`{"operator": "lte", "port": 1023}`:          "--dport :1023",
		`{"operator": "gte", "port": 49152}`:         "--dport 49152:",
		`{"lower-port": 8000, "upper-port": 8080}`:   "--dport 8000:8080",
	}
	for port, want := range tests {
		t.Run(want, func(t *testing.T) {
			_, lines := single(t, `{"tcp": {"destination-port": `+port+`}}`)
			require.Len(t, lines, 1)
			assert.Contains(t, lines[0], "-p tcp "+want+" -m comment")
		})
	}
}

func TestGenerate_SkipsUnrenderable(t *testing.T) {
	tests := map[string]string{
		"empty match":     `{}`,
		"family only":     `{"ipv4": {}}`,
		"other protocol":  `{"ipv6": {"protocol": 58}}`,
		"controller hint": `{"ipv4": {"protocol": 17}, "udp": {"destination-port": {"port": 53}}, "ietf-mud:mud": {"controller": "urn:ietf:params:mud:dns"}}`,
		"local networks":  `{"ietf-mud:mud": {"local-networks": [null]}}`,
	}
	for name, matches := range tests {
		t.Run(name, func(t *testing.T) {
			script, lines := single(t, matches)
			assert.Empty(t, lines)
			assert.Equal(t, 0, script.Outbound)
			assert.Equal(t, 1, script.Skipped)
		})
	}
}

func TestGenerate_PortWithoutTransportIsSkipped(t *testing.T) {
	set := mud.CorrelatedRuleSet{Outbound: []mud.ACL{{
		Name: "a",
		Entries: []mud.ACE{{
			Name:   "x",
			Action: mud.ForwardingAccept,
			Match:  mud.Match{Protocol: mud.Some[uint8](1), DstPort: mud.Some(mud.PortMatch{Operator: mud.PortEqual, Port: 7})},
		}},
	}}}
	script := generate(t, set)
	assert.Equal(t, 0, script.Outbound)
	assert.Equal(t, 1, script.Skipped)
}

func initiatedACE(name string, initiator mud.Direction) mud.ACE {
	return mud.ACE{
		Name:   name,
		Action: mud.ForwardingAccept,
		Match: mud.Match{
			Transport: mud.Some(mud.TransportTCP),
			SrcHost:   mud.Some("svc.example.com"),
			SrcPort:   mud.Some(mud.PortMatch{Operator: mud.PortEqual, Port: 443}),
			Initiated: mud.Some(initiator),
		},
	}
}

func TestGenerate_DirectionInitiated(t *testing.T) {
	set := mud.CorrelatedRuleSet{
		Outbound: []mud.ACL{{Name: "out", Entries: []mud.ACE{
			initiatedACE("by-device", mud.FromDevice),
			initiatedACE("by-peer", mud.ToDevice),
		}}},
		Inbound: []mud.ACL{{Name: "in", Entries: []mud.ACE{
			initiatedACE("by-device", mud.FromDevice),
			initiatedACE("by-peer", mud.ToDevice),
		}}},
	}
	script := generate(t, set)
	assert.Equal(t, 0, script.Skipped)

	out := ruleLines(script.Text, "bulb_OUTPUT")
	require.Len(t, out, 2)
	assert.NotContains(t, out[0], "--ctstate")
	assert.Contains(t, out[1], "--sport 443 -m conntrack --ctstate ESTABLISHED,RELATED -m comment")

	in := ruleLines(script.Text, "bulb_INPUT")
	require.Len(t, in, 2)
	assert.Equal(t, "iptables -A bulb_INPUT -p tcp --source svc.example.com --sport 443 -m conntrack --ctstate ESTABLISHED,RELATED -m comment --comment in/by-device -j ACCEPT", in[0])
	assert.NotContains(t, in[1], "--ctstate")
}

func TestGenerate_WarnsOnUnrenderedProtocol(t *testing.T) {
	script, lines := single(t, `{"ipv4": {"protocol": 1, "ietf-acldns:dst-dnsname": "svc.example.com"}}`)
	require.Len(t, lines, 1)
	assert.NotContains(t, lines[0], "-p ")
	assert.Equal(t, []string{"acl-out/ace-0: protocol 1 not rendered, rule matches any protocol"}, script.Warnings)

	script, _ = single(t, `{"tcp": {"destination-port": {"port": 443}}}`)
	assert.Empty(t, script.Warnings)
}

func TestGenerate_Fixture(t *testing.T) {
	raw, err := os.ReadFile("../mud/testdata/lightbulb.json")
	require.NoError(t, err)
	script := generate(t, correlated(t, raw))

	assert.Equal(t, 3, script.Outbound)
	assert.Equal(t, 2, script.Inbound)
	assert.True(t, script.IPv6)

	out := ruleLines(script.Text, "bulb_OUTPUT")
	require.Len(t, out, 3)
	// ACL document order: v4fr before v6fr.
	assert.True(t, strings.HasPrefix(out[0], "iptables -A bulb_OUTPUT -p tcp --destination service.bms.example.com --dport 443"))
	assert.Contains(t, out[1], "-p udp --destination ntp.example.com --dport 123")
	assert.True(t, strings.HasPrefix(out[2], "ip6tables -A bulb_OUTPUT"))

	in := ruleLines(script.Text, "bulb_INPUT")
	require.Len(t, in, 2)
	assert.Contains(t, in[0], "--source service.bms.example.com --sport 443")
	assert.Contains(t, in[0], "--comment mud-76100-v4to/cl0-todev")
	assert.Contains(t, in[0], "-m conntrack --ctstate ESTABLISHED,RELATED")
	assert.NotContains(t, out[0], "conntrack")

	assert.Contains(t, script.Text, "\tip6tables -N bulb_OUTPUT\n")
	assert.Contains(t, script.Text, "\tip6tables -A INPUT -j bulb_INPUT\n")
}

func TestGenerate_Options(t *testing.T) {
	g, err := NewGenerator(Options{
		IPTables:      "/usr/sbin/iptables-nft",
		IP6Tables:     "/usr/sbin/ip6tables-nft",
		EgressHook:    "FORWARD",
		IngressHook:   "FORWARD",
		DefaultAction: DefaultActionDrop,
	})
	require.NoError(t, err)
	script, err := g.Generate(correlated(t, testutil.SingleACEDocument(`{"tcp": {}}`)), "cam-01")
	require.NoError(t, err)

	assert.Contains(t, script.Text, "\t/usr/sbin/iptables-nft -D FORWARD -j cam-01_OUTPUT 2>/dev/null || true\n")
	assert.Contains(t, script.Text, "\t/usr/sbin/iptables-nft -A cam-01_OUTPUT -j DROP\n")
	assert.Contains(t, script.Text, "\t/usr/sbin/iptables-nft -A cam-01_INPUT -j DROP\n")
	assert.NotContains(t, script.Text, "ip6tables-nft -N")

	// Default action comes after the accept rules and before the hooks.
	accept := strings.Index(script.Text, "-j ACCEPT")
	drop := strings.Index(script.Text, "-j DROP")
	hook := strings.Index(script.Text, "-A FORWARD -j cam-01_OUTPUT")
	assert.Less(t, accept, drop)
	assert.Less(t, drop, hook)
}

func TestGenerate_RejectsBadInput(t *testing.T) {
	g, err := NewGenerator(Options{})
	require.NoError(t, err)
	for _, id := range []string{"", "a b", "x;reboot", "device-id-longer-than-21"} {
		_, err := g.Generate(mud.CorrelatedRuleSet{}, id)
		assert.Error(t, err, id)
	}

	bad := []Options{
		{IPTables: "ipt ables"},
		{IPTables: "/usr/../sbin/iptables"},
		{EgressHook: "1OUTPUT"},
		{IngressHook: "IN PUT"},
		{DefaultAction: "accept"},
	}
	for _, o := range bad {
		_, err := NewGenerator(o)
		assert.Error(t, err, "%+v", o)
	}
}

func TestGenerate_QuotesComments(t *testing.T) {
	set := mud.CorrelatedRuleSet{Outbound: []mud.ACL{{
		Name: "it's",
		Entries: []mud.ACE{{
			Name:   "a b",
			Action: mud.ForwardingAccept,
			Match:  mud.Match{Transport: mud.Some(mud.TransportTCP)},
		}},
	}}}
	script := generate(t, set)
	assert.Contains(t, script.Text, `--comment 'it'\''s/a b' -j ACCEPT`)
}

func TestGenerate_Idempotent(t *testing.T) {
	raw, err := os.ReadFile("../mud/testdata/lightbulb.json")
	require.NoError(t, err)
	tree, err := mud.Decode(raw)
	require.NoError(t, err)
	doc, err := mud.Build(tree)
	require.NoError(t, err)

	first := generate(t, mustCorrelate(t, doc))
	second := generate(t, mustCorrelate(t, doc))
	assert.Equal(t, first, second)
}

func mustCorrelate(t testing.TB, doc *mud.Document) mud.CorrelatedRuleSet {
	t.Helper()
	set, err := mud.Correlate(doc)
	require.NoError(t, err)
	return set
}

// genMUD draws a well-formed MUD document in which every ACE is actionable.
func genMUD(t *rapid.T) []byte {
	nACL := rapid.IntRange(1, 5).Draw(t, "acls")
	var acls, out, in []string
	for i := 0; i < nACL; i++ {
		name := fmt.Sprintf("acl-%d", i)
		nACE := rapid.IntRange(0, 4).Draw(t, name+"-aces")
		var aces []string
		for j := 0; j < nACE; j++ {
			port := rapid.IntRange(0, 65535).Draw(t, "port")
			host := rapid.SampledFrom([]string{"a.example.com", "b.example.net", "svc.example.org"}).Draw(t, "host")
			proto := rapid.SampledFrom([]string{"tcp", "udp"}).Draw(t, "proto")
			num := 6
			if proto == "udp" {
				num = 17
			}
			aces = append(aces, fmt.Sprintf(
				`{"name": "ace-%d", "matches": {"ipv4": {"protocol": %d, "ietf-acldns:dst-dnsname": %q}, %q: {"destination-port": {"port": %d}}}, "actions": {"forwarding": "accept"}}`,
				j, num, host, proto, port))
		}
		acls = append(acls, fmt.Sprintf(`{"name": %q, "aces": {"ace": [%s]}}`, name, strings.Join(aces, ",")))
		if rapid.Bool().Draw(t, name+"-out") {
			out = append(out, fmt.Sprintf(`{"name": %q}`, name))
		}
		if rapid.Bool().Draw(t, name+"-in") {
			in = append(in, fmt.Sprintf(`{"name": %q}`, name))
		}
	}
	return []byte(fmt.Sprintf(`{
		"ietf-mud:mud": {
			"mud-version":        1,
			"mud-url":            "https://example.com/d.json",
			"mud-signature":      "https://example.com/d.p7s",
			"from-device-policy": {"access-lists": {"access-list": [%s]}},
			"to-device-policy":   {"access-lists": {"access-list": [%s]}}
		},
		"ietf-access-control-list:acls": {"acl": [%s]}
	}`, strings.Join(out, ","), strings.Join(in, ","), strings.Join(acls, ",")))
}

func TestGenerate_RuleCountProperty(t *testing.T) {
	g, err := NewGenerator(Options{})
	require.NoError(t, err)

	rapid.Check(t, func(t *rapid.T) {
		raw := genMUD(t)
		tree, err := mud.Decode(raw)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		doc, err := mud.Build(tree)
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		set, err := mud.Correlate(doc)
		if err != nil {
			t.Fatalf("correlate: %v", err)
		}

		var wantOut, wantIn int
		for _, acl := range doc.ACLs {
			if doc.FromDevice.Contains(acl.Name) {
				wantOut += len(acl.Entries)
			}
			if doc.ToDevice.Contains(acl.Name) {
				wantIn += len(acl.Entries)
			}
		}

		script, err := g.Generate(set, "dev")
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		assert.Equal(t, wantOut, script.Outbound)
		assert.Equal(t, wantIn, script.Inbound)
		assert.Len(t, ruleLines(script.Text, "dev_OUTPUT"), wantOut)
		assert.Len(t, ruleLines(script.Text, "dev_INPUT"), wantIn)

		again, err := g.Generate(set, "dev")
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		assert.Equal(t, script.Text, again.Text)
	})
}
