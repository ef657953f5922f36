package firewall

import (
	"strconv"

	"grimm.is/mudgate/internal/mud"
	"grimm.is/mudgate/internal/validation"
)

// matchBuilder accumulates iptables match arguments in clause order.
type matchBuilder []string

func (m matchBuilder) Protocol(protocol string) matchBuilder {
	return append(m, "-p", protocol)
}

func (m matchBuilder) Source(addr string) matchBuilder {
	return append(m, "--source", addr)
}

func (m matchBuilder) Destination(addr string) matchBuilder {
	return append(m, "--destination", addr)
}

func (m matchBuilder) DestPort(p mud.PortMatch) matchBuilder {
	return m.port("--dport", p)
}

func (m matchBuilder) SourcePort(p mud.PortMatch) matchBuilder {
	return m.port("--sport", p)
}

func (m matchBuilder) port(flag string, p mud.PortMatch) matchBuilder {
	n := strconv.Itoa(int(p.Port))
	switch p.Operator {
	case mud.PortNotEqual:
		return append(m, "!", flag, n)
	case mud.PortLessOrEqual:
		return append(m, flag, ":"+n)
	case mud.PortGreaterEqual:
		return append(m, flag, n+":")
	case mud.PortRange:
		return append(m, flag, n+":"+strconv.Itoa(int(p.Upper)))
	}
	return append(m, flag, n)
}

// Established restricts the rule to packets of connections that already exist.
func (m matchBuilder) Established() matchBuilder {
	return append(m, "-m", "conntrack", "--ctstate", "ESTABLISHED,RELATED")
}

func (m matchBuilder) Comment(text string) matchBuilder {
	return append(m, "-m", "comment", "--comment", validation.SanitizeComment(text))
}

func (m matchBuilder) Jump(target string) matchBuilder {
	return append(m, "-j", target)
}

// protocolName maps an IP protocol number to the name iptables matches on.
// Only tcp and udp are rendered.
func protocolName(n uint8) (string, bool) {
	switch n {
	case mud.ProtocolTCP:
		return "tcp", true
	case mud.ProtocolUDP:
		return "udp", true
	}
	return "", false
}

// matchClauses renders the filter clauses of m for a chain carrying traffic
// in direction chain. It reports false when no clause could be rendered, or
// when a port constraint has no transport to attach to. A protocol number
// that cannot be rendered is returned in dropped.
//
// When the match carries direction-initiated and the chain runs opposite to
// the initiator, only packets of established connections are accepted.
func matchClauses(m mud.Match, chain mud.Direction) (b matchBuilder, dropped mud.Optional[uint8], ok bool) {
	hasProto := false
	if proto, set := m.Protocol.Get(); set {
		if name, known := protocolName(proto); known {
			b = b.Protocol(name)
			hasProto = true
		} else {
			dropped = mud.Some(proto)
		}
	} else if tr, set := m.Transport.Get(); set {
		b = b.Protocol(string(tr))
		hasProto = true
	}
	if !hasProto && (m.SrcPort.Set || m.DstPort.Set) {
		return nil, dropped, false
	}

	if h, ok := m.SrcHost.Get(); ok && h != "" {
		b = b.Source(h)
	} else if n, ok := m.SrcNetwork.Get(); ok {
		b = b.Source(n.String())
	}
	if h, ok := m.DstHost.Get(); ok && h != "" {
		b = b.Destination(h)
	} else if n, ok := m.DstNetwork.Get(); ok {
		b = b.Destination(n.String())
	}

	if p, ok := m.DstPort.Get(); ok {
		b = b.DestPort(p)
	}
	if p, ok := m.SrcPort.Get(); ok {
		b = b.SourcePort(p)
	}
	if len(b) == 0 {
		return nil, dropped, false
	}
	if initiator, set := m.Initiated.Get(); set && initiator != chain {
		b = b.Established()
	}
	return b, dropped, true
}
