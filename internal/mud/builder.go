package mud

import (
	"fmt"
	"net/netip"
	"time"

	"grimm.is/mudgate/internal/validation"
)

// SupportedVersion is the only mud-version this package understands.
const SupportedVersion = 1

const (
	maxNameLength       = 64
	maxCacheValidity    = 168
	pathMUD             = "ietf-mud:mud"
	pathACLs            = "ietf-access-control-list:acls"
	fieldDstDNS         = "ietf-acldns:dst-dnsname"
	fieldSrcDNS         = "ietf-acldns:src-dnsname"
	fieldInitiated      = "ietf-mud:direction-initiated"
	fieldControllerHint = "ietf-mud:mud"
)

// Build constructs a Document from a decoded value tree. It performs no I/O and
// returns either a complete Document or an error, never both.
func Build(tree any) (*Document, error) {
	root, ok := tree.(map[string]any)
	if !ok {
		return nil, &StructuralError{Path: "$", Reason: fmt.Sprintf("expected object, got %s", kindOf(tree))}
	}
	if err := rootSchema.check(root, ""); err != nil {
		return nil, err
	}

	container, _ := object(root, pathMUD)
	doc, err := buildHeader(container)
	if err != nil {
		return nil, err
	}

	acls, _ := object(root, pathACLs)
	doc.ACLs, err = buildACLs(acls)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func buildHeader(m map[string]any) (*Document, error) {
	if err := mudSchema.check(m, pathMUD); err != nil {
		return nil, err
	}
	version, _, err := integer(m, "mud-version", pathMUD, 0, 255)
	if err != nil {
		return nil, err
	}
	if version != SupportedVersion {
		return nil, &StructuralError{
			Path:   join(pathMUD, "mud-version"),
			Reason: fmt.Sprintf("unsupported version %d", version),
		}
	}

	doc := &Document{
		Version:       int(version),
		URL:           str(m, "mud-url"),
		Signature:     str(m, "mud-signature"),
		IsSupported:   optBool(m, "is-supported"),
		SystemInfo:    optString(m, "systeminfo"),
		MfgName:       optString(m, "mfg-name"),
		ModelName:     optString(m, "model-name"),
		FirmwareRev:   optString(m, "firmware-rev"),
		SoftwareRev:   optString(m, "software-rev"),
		Documentation: optString(m, "documentation"),
	}
	if err := ValidateURL(doc.URL); err != nil {
		return nil, &StructuralError{Path: join(pathMUD, "mud-url"), Reason: "invalid url", Err: err}
	}
	if err := ValidateURL(doc.Signature); err != nil {
		return nil, &StructuralError{Path: join(pathMUD, "mud-signature"), Reason: "invalid url", Err: err}
	}

	if s, ok := optString(m, "last-update").Get(); ok {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, &StructuralError{Path: join(pathMUD, "last-update"), Reason: "invalid date-and-time", Err: err}
		}
		doc.LastUpdate = Some(t)
	}

	hours, set, err := integer(m, "cache-validity", pathMUD, 1, maxCacheValidity)
	if err != nil {
		return nil, err
	}
	if set {
		doc.CacheValidity = Some(int(hours))
	}

	for i, ext := range array(m, "extensions") {
		s, ok := ext.(string)
		if !ok {
			return nil, &StructuralError{
				Path:   index(join(pathMUD, "extensions"), i),
				Reason: fmt.Sprintf("expected string, got %s", kindOf(ext)),
			}
		}
		doc.Extensions = append(doc.Extensions, s)
	}

	doc.FromDevice, err = buildPolicy(m, "from-device-policy", FromDevice)
	if err != nil {
		return nil, err
	}
	doc.ToDevice, err = buildPolicy(m, "to-device-policy", ToDevice)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func buildPolicy(m map[string]any, name string, dir Direction) (PolicyReferenceList, error) {
	list := PolicyReferenceList{Direction: dir}
	policy, ok := object(m, name)
	if !ok {
		return list, nil
	}
	path := join(pathMUD, name)
	if err := policySchema.check(policy, path); err != nil {
		return list, err
	}
	lists, _ := object(policy, "access-lists")
	path = join(path, "access-lists")
	if err := accessListsSchema.check(lists, path); err != nil {
		return list, err
	}
	path = join(path, "access-list")
	for i, item := range array(lists, "access-list") {
		p := index(path, i)
		ref, ok := item.(map[string]any)
		if !ok {
			return list, &StructuralError{Path: p, Reason: fmt.Sprintf("expected object, got %s", kindOf(item))}
		}
		if err := accessListSchema.check(ref, p); err != nil {
			return list, err
		}
		list.Names = append(list.Names, str(ref, "name"))
	}
	return list, nil
}

func buildACLs(m map[string]any) ([]ACL, error) {
	if err := aclsSchema.check(m, pathACLs); err != nil {
		return nil, err
	}
	path := join(pathACLs, "acl")
	items := array(m, "acl")
	acls := make([]ACL, 0, len(items))
	seen := make(map[string]int, len(items))
	for i, item := range items {
		p := index(path, i)
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, &StructuralError{Path: p, Reason: fmt.Sprintf("expected object, got %s", kindOf(item))}
		}
		acl, err := buildACL(obj, p)
		if err != nil {
			return nil, err
		}
		if first, dup := seen[acl.Name]; dup {
			return nil, &StructuralError{
				Path:   join(p, "name"),
				ACL:    acl.Name,
				Reason: fmt.Sprintf("duplicate acl name, first defined at %s", index(path, first)),
			}
		}
		seen[acl.Name] = i
		acls = append(acls, acl)
	}
	return acls, nil
}

func buildACL(m map[string]any, path string) (ACL, error) {
	if err := aclSchema.check(m, path); err != nil {
		return ACL{}, err
	}
	acl := ACL{Name: str(m, "name")}
	if err := checkName(acl.Name, join(path, "name")); err != nil {
		return ACL{}, err
	}

	if t, ok := optString(m, "type").Get(); ok {
		typ, err := parseACLType(t)
		if err != nil {
			return ACL{}, &StructuralError{Path: join(path, "type"), ACL: acl.Name, Reason: err.Error()}
		}
		acl.Type = typ
	}

	aces, _ := object(m, "aces")
	acesPath := join(path, "aces")
	if err := acesSchema.check(aces, acesPath); err != nil {
		return ACL{}, withACL(err, acl.Name)
	}
	acesPath = join(acesPath, "ace")
	items := array(aces, "ace")
	acl.Entries = make([]ACE, 0, len(items))
	seen := make(map[string]int, len(items))
	for i, item := range items {
		p := index(acesPath, i)
		obj, ok := item.(map[string]any)
		if !ok {
			return ACL{}, &StructuralError{Path: p, ACL: acl.Name, Reason: fmt.Sprintf("expected object, got %s", kindOf(item))}
		}
		ace, err := buildACE(obj, p, acl)
		if err != nil {
			return ACL{}, withACL(err, acl.Name)
		}
		if first, dup := seen[ace.Name]; dup {
			return ACL{}, &StructuralError{
				Path:   join(p, "name"),
				ACL:    acl.Name,
				ACE:    ace.Name,
				Reason: fmt.Sprintf("duplicate ace name, first defined at %s", index(acesPath, first)),
			}
		}
		seen[ace.Name] = i
		acl.Entries = append(acl.Entries, ace)
	}
	return acl, nil
}

func buildACE(m map[string]any, path string, acl ACL) (ACE, error) {
	if err := aceSchema.check(m, path); err != nil {
		return ACE{}, err
	}
	ace := ACE{Name: str(m, "name")}
	if err := checkName(ace.Name, join(path, "name")); err != nil {
		return ACE{}, err
	}

	actions, _ := object(m, "actions")
	actionsPath := join(path, "actions")
	if err := actionsSchema.check(actions, actionsPath); err != nil {
		return ACE{}, withACE(err, ace.Name)
	}
	fwd := stripPrefix(str(actions, "forwarding"))
	if Forwarding(fwd) != ForwardingAccept {
		return ACE{}, &StructuralError{
			Path:   join(actionsPath, "forwarding"),
			ACE:    ace.Name,
			Reason: fmt.Sprintf("unsupported forwarding action %q", fwd),
		}
	}
	ace.Action = ForwardingAccept

	if matches, ok := object(m, "matches"); ok {
		match, err := buildMatch(matches, join(path, "matches"), acl.Type)
		if err != nil {
			return ACE{}, withACE(err, ace.Name)
		}
		ace.Match = match
	}
	return ace, nil
}

func buildMatch(m map[string]any, path string, aclType ACLType) (Match, error) {
	var match Match
	if err := matchesSchema.check(m, path); err != nil {
		return match, err
	}

	v4, hasV4 := object(m, "ipv4")
	v6, hasV6 := object(m, "ipv6")
	if hasV4 && hasV6 {
		return match, &AmbiguousMatchError{Path: path, Blocks: []string{"ipv4", "ipv6"}, Reason: "more than one address family"}
	}
	tcp, hasTCP := object(m, "tcp")
	udp, hasUDP := object(m, "udp")
	if hasTCP && hasUDP {
		return match, &AmbiguousMatchError{Path: path, Blocks: []string{"tcp", "udp"}, Reason: "more than one transport"}
	}

	switch {
	case hasV4:
		if err := buildNetwork(&match, v4, join(path, "ipv4"), FamilyIPv4, ipv4Schema); err != nil {
			return match, err
		}
	case hasV6:
		if err := buildNetwork(&match, v6, join(path, "ipv6"), FamilyIPv6, ipv6Schema); err != nil {
			return match, err
		}
	}
	if fam, ok := match.Family.Get(); ok && !aclType.Permits(fam) {
		return match, &AmbiguousMatchError{
			Path:   path,
			Blocks: []string{string(fam)},
			Reason: fmt.Sprintf("address block does not match acl type %s", aclType),
		}
	}

	switch {
	case hasTCP:
		if err := buildTransport(&match, tcp, join(path, "tcp"), TransportTCP, tcpSchema); err != nil {
			return match, err
		}
	case hasUDP:
		if err := buildTransport(&match, udp, join(path, "udp"), TransportUDP, udpSchema); err != nil {
			return match, err
		}
	}
	if proto, ok := match.Protocol.Get(); ok {
		if tr, ok := match.Transport.Get(); ok && proto != tr.Number() {
			return match, &AmbiguousMatchError{
				Path:   path,
				Blocks: []string{string(tr)},
				Reason: fmt.Sprintf("protocol %d disagrees with transport block", proto),
			}
		}
	}

	if hint, ok := object(m, fieldControllerHint); ok {
		h, err := buildControllerHint(hint, join(path, fieldControllerHint))
		if err != nil {
			return match, err
		}
		match.Controller = Some(h)
	}
	return match, nil
}

func buildNetwork(match *Match, m map[string]any, path string, fam Family, s schema) error {
	if err := s.check(m, path); err != nil {
		return err
	}
	match.Family = Some(fam)

	proto, set, err := integer(m, "protocol", path, 0, 255)
	if err != nil {
		return err
	}
	if set {
		match.Protocol = Some(uint8(proto))
	}

	if match.SrcHost, err = hostname(m, fieldSrcDNS, path); err != nil {
		return err
	}
	if match.DstHost, err = hostname(m, fieldDstDNS, path); err != nil {
		return err
	}

	srcKey, dstKey := "source-ipv4-network", "destination-ipv4-network"
	if fam == FamilyIPv6 {
		srcKey, dstKey = "source-ipv6-network", "destination-ipv6-network"
	}
	if match.SrcNetwork, err = network(m, srcKey, path, fam); err != nil {
		return err
	}
	if match.DstNetwork, err = network(m, dstKey, path, fam); err != nil {
		return err
	}

	if match.SrcHost.Set && match.SrcNetwork.Set {
		return &AmbiguousMatchError{Path: path, Blocks: []string{fieldSrcDNS, srcKey}, Reason: "source given as both hostname and network"}
	}
	if match.DstHost.Set && match.DstNetwork.Set {
		return &AmbiguousMatchError{Path: path, Blocks: []string{fieldDstDNS, dstKey}, Reason: "destination given as both hostname and network"}
	}
	return nil
}

func hostname(m map[string]any, name, path string) (Optional[string], error) {
	h, ok := optString(m, name).Get()
	if !ok {
		return Optional[string]{}, nil
	}
	if err := validation.ValidateHostname(h); err != nil {
		return Optional[string]{}, &StructuralError{Path: join(path, name), Reason: "invalid dns name", Err: err}
	}
	return Some(h), nil
}

func network(m map[string]any, name, path string, fam Family) (Optional[netip.Prefix], error) {
	s, ok := optString(m, name).Get()
	if !ok {
		return Optional[netip.Prefix]{}, nil
	}
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return Optional[netip.Prefix]{}, &StructuralError{Path: join(path, name), Reason: "invalid network prefix", Err: err}
	}
	if p.Addr().Is4() != (fam == FamilyIPv4) {
		return Optional[netip.Prefix]{}, &StructuralError{Path: join(path, name), Reason: fmt.Sprintf("prefix %s is not %s", p, fam)}
	}
	return Some(p.Masked()), nil
}

func buildTransport(match *Match, m map[string]any, path string, tr Transport, s schema) error {
	if err := s.check(m, path); err != nil {
		return err
	}
	match.Transport = Some(tr)

	if d, ok := optString(m, fieldInitiated).Get(); ok {
		dir := Direction(d)
		if dir != FromDevice && dir != ToDevice {
			return &StructuralError{Path: join(path, fieldInitiated), Reason: fmt.Sprintf("unknown direction %q", d)}
		}
		match.Initiated = Some(dir)
	}

	var err error
	if match.SrcPort, err = portMatch(m, "source-port", path); err != nil {
		return err
	}
	if match.DstPort, err = portMatch(m, "destination-port", path); err != nil {
		return err
	}
	return nil
}

// portMatch reads either the operator form {operator, port} or the range form
// {lower-port, upper-port}. A missing operator means eq.
func portMatch(m map[string]any, name, path string) (Optional[PortMatch], error) {
	obj, ok := object(m, name)
	if !ok {
		return Optional[PortMatch]{}, nil
	}
	path = join(path, name)
	if err := portSchema.check(obj, path); err != nil {
		return Optional[PortMatch]{}, err
	}

	port, hasPort, err := integer(obj, "port", path, 0, 65535)
	if err != nil {
		return Optional[PortMatch]{}, err
	}
	lower, hasLower, err := integer(obj, "lower-port", path, 0, 65535)
	if err != nil {
		return Optional[PortMatch]{}, err
	}
	upper, hasUpper, err := integer(obj, "upper-port", path, 0, 65535)
	if err != nil {
		return Optional[PortMatch]{}, err
	}
	op, hasOp := optString(obj, "operator").Get()

	switch {
	case hasPort && !hasLower && !hasUpper:
		operator := PortEqual
		if hasOp {
			operator = PortOperator(op)
			switch operator {
			case PortEqual, PortNotEqual, PortLessOrEqual, PortGreaterEqual:
			default:
				return Optional[PortMatch]{}, &StructuralError{Path: join(path, "operator"), Reason: fmt.Sprintf("unsupported operator %q", op)}
			}
		}
		return Some(PortMatch{Operator: operator, Port: uint16(port)}), nil

	case hasLower && hasUpper && !hasPort && !hasOp:
		if lower > upper {
			return Optional[PortMatch]{}, &StructuralError{Path: path, Reason: fmt.Sprintf("lower-port %d exceeds upper-port %d", lower, upper)}
		}
		return Some(PortMatch{Operator: PortRange, Port: uint16(lower), Upper: uint16(upper)}), nil
	}
	return Optional[PortMatch]{}, &StructuralError{Path: path, Reason: "expected {operator, port} or {lower-port, upper-port}"}
}

func buildControllerHint(m map[string]any, path string) (ControllerHint, error) {
	if err := controllerSchema.check(m, path); err != nil {
		return ControllerHint{}, err
	}
	_, sameMfg := m["same-manufacturer"]
	_, local := m["local-networks"]
	_, mine := m["my-controller"]
	return ControllerHint{
		Manufacturer:     optString(m, "manufacturer"),
		SameManufacturer: sameMfg,
		Model:            optString(m, "model"),
		LocalNetworks:    local,
		Controller:       optString(m, "controller"),
		MyController:     mine,
	}, nil
}

func parseACLType(v string) (ACLType, error) {
	switch stripPrefix(v) {
	case "ipv4-acl-type", "mixed-eth-ipv4-acl-type":
		return ACLTypeIPv4, nil
	case "ipv6-acl-type", "mixed-eth-ipv6-acl-type":
		return ACLTypeIPv6, nil
	case "mixed-eth-ipv4-ipv6-acl-type", "mixed-ipv4-ipv6-acl-type":
		return ACLTypeMixed, nil
	}
	return ACLTypeUnspecified, fmt.Errorf("unsupported acl type %q", v)
}

func checkName(name, path string) error {
	if name == "" || len(name) > maxNameLength {
		return &StructuralError{Path: path, Reason: fmt.Sprintf("name length must be 1..%d", maxNameLength)}
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return &StructuralError{Path: path, Reason: "name contains control characters"}
		}
	}
	return nil
}

func withACL(err error, acl string) error {
	switch e := err.(type) {
	case *StructuralError:
		if e.ACL == "" {
			e.ACL = acl
		}
	case *AmbiguousMatchError:
		if e.ACL == "" {
			e.ACL = acl
		}
	}
	return err
}

func withACE(err error, ace string) error {
	switch e := err.(type) {
	case *StructuralError:
		if e.ACE == "" {
			e.ACE = ace
		}
	case *AmbiguousMatchError:
		if e.ACE == "" {
			e.ACE = ace
		}
	}
	return err
}
