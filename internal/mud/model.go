package mud

import (
	"fmt"
	"net/netip"
	"time"
)

// Direction names the side of the device a policy list governs.
type Direction string

const (
	// FromDevice is traffic the device originates (outbound).
	FromDevice Direction = "from-device"
	// ToDevice is traffic destined to the device (inbound).
	ToDevice Direction = "to-device"
)

// Family is the address family of a match.
type Family string

const (
	FamilyIPv4 Family = "ipv4"
	FamilyIPv6 Family = "ipv6"
)

// Transport is the layer 4 protocol selected by a tcp or udp match block.
type Transport string

const (
	TransportTCP Transport = "tcp"
	TransportUDP Transport = "udp"
)

// Protocol numbers with a transport block of their own.
const (
	ProtocolTCP uint8 = 6
	ProtocolUDP uint8 = 17
)

// Number returns the IP protocol number for the transport.
func (t Transport) Number() uint8 {
	if t == TransportUDP {
		return ProtocolUDP
	}
	return ProtocolTCP
}

// ACLType is the normalized RFC 8519 acl-type identity.
type ACLType string

const (
	ACLTypeUnspecified ACLType = ""
	ACLTypeIPv4        ACLType = "ipv4-acl-type"
	ACLTypeIPv6        ACLType = "ipv6-acl-type"
	ACLTypeMixed       ACLType = "mixed-eth-ipv4-ipv6-acl-type"
)

// Permits reports whether an ACE of family f may appear in an ACL of this type.
func (t ACLType) Permits(f Family) bool {
	switch t {
	case ACLTypeIPv4:
		return f == FamilyIPv4
	case ACLTypeIPv6:
		return f == FamilyIPv6
	}
	return true
}

// Family returns the family implied by the ACL type, if any.
func (t ACLType) Family() Optional[Family] {
	switch t {
	case ACLTypeIPv4:
		return Some(FamilyIPv4)
	case ACLTypeIPv6:
		return Some(FamilyIPv6)
	}
	return Optional[Family]{}
}

// Forwarding is the ACE action. Only accept is supported.
type Forwarding string

const ForwardingAccept Forwarding = "accept"

// PortOperator compares a packet port with a PortMatch.
type PortOperator string

const (
	PortEqual        PortOperator = "eq"
	PortNotEqual     PortOperator = "neq"
	PortLessOrEqual  PortOperator = "lte"
	PortGreaterEqual PortOperator = "gte"
	PortRange        PortOperator = "range"
)

// PortMatch is one source-port or destination-port constraint.
// Upper is only meaningful for PortRange, where Port is the lower bound.
type PortMatch struct {
	Operator PortOperator `json:"operator" yaml:"operator"`
	Port     uint16       `json:"port" yaml:"port"`
	Upper    uint16       `json:"upper,omitempty" yaml:"upper,omitempty"`
}

func (p PortMatch) String() string {
	if p.Operator == PortRange {
		return fmt.Sprintf("%d-%d", p.Port, p.Upper)
	}
	return fmt.Sprintf("%s %d", p.Operator, p.Port)
}

// ControllerHint is the ietf-mud:mud match block. Its classes (controller,
// local-networks, same-manufacturer, ...) must be resolved to addresses by a
// MUD controller before they can be enforced.
type ControllerHint struct {
	Manufacturer     Optional[string] `json:"manufacturer" yaml:"manufacturer,omitempty"`
	SameManufacturer bool             `json:"same_manufacturer" yaml:"same_manufacturer,omitempty"`
	Model            Optional[string] `json:"model" yaml:"model,omitempty"`
	LocalNetworks    bool             `json:"local_networks" yaml:"local_networks,omitempty"`
	Controller       Optional[string] `json:"controller" yaml:"controller,omitempty"`
	MyController     bool             `json:"my_controller" yaml:"my_controller,omitempty"`
}

// Match is the filter predicate of one ACE. Every field is independently optional.
type Match struct {
	Family     Optional[Family]         `json:"family" yaml:"family,omitempty"`
	Protocol   Optional[uint8]          `json:"protocol" yaml:"protocol,omitempty"`
	SrcHost    Optional[string]         `json:"src_host" yaml:"src_host,omitempty"`
	DstHost    Optional[string]         `json:"dst_host" yaml:"dst_host,omitempty"`
	SrcNetwork Optional[netip.Prefix]   `json:"src_network" yaml:"src_network,omitempty"`
	DstNetwork Optional[netip.Prefix]   `json:"dst_network" yaml:"dst_network,omitempty"`
	Transport  Optional[Transport]      `json:"transport" yaml:"transport,omitempty"`
	Initiated  Optional[Direction]      `json:"direction_initiated" yaml:"direction_initiated,omitempty"`
	SrcPort    Optional[PortMatch]      `json:"src_port" yaml:"src_port,omitempty"`
	DstPort    Optional[PortMatch]      `json:"dst_port" yaml:"dst_port,omitempty"`
	Controller Optional[ControllerHint] `json:"controller" yaml:"controller,omitempty"`
}

// ACE is a single access-control entry.
type ACE struct {
	Name   string     `json:"name" yaml:"name"`
	Action Forwarding `json:"action" yaml:"action"`
	Match  Match      `json:"match" yaml:"match"`
}

// ACL is a named, ordered list of ACEs.
type ACL struct {
	Name    string  `json:"name" yaml:"name"`
	Type    ACLType `json:"type" yaml:"type,omitempty"`
	Entries []ACE   `json:"entries" yaml:"entries"`
}

// PolicyReferenceList names the ACLs that govern one direction.
type PolicyReferenceList struct {
	Direction Direction `json:"direction" yaml:"direction"`
	Names     []string  `json:"names" yaml:"names"`
}

// Contains reports whether name is referenced by the list.
func (l PolicyReferenceList) Contains(name string) bool {
	for _, n := range l.Names {
		if n == name {
			return true
		}
	}
	return false
}

// Document is a built MUD file. It is immutable once returned by Build.
type Document struct {
	Version       int                 `json:"mud_version" yaml:"mud_version"`
	URL           string              `json:"mud_url" yaml:"mud_url"`
	Signature     string              `json:"mud_signature" yaml:"mud_signature"`
	LastUpdate    Optional[time.Time] `json:"last_update" yaml:"last_update,omitempty"`
	CacheValidity Optional[int]       `json:"cache_validity" yaml:"cache_validity,omitempty"`
	IsSupported   Optional[bool]      `json:"is_supported" yaml:"is_supported,omitempty"`
	SystemInfo    Optional[string]    `json:"systeminfo" yaml:"systeminfo,omitempty"`
	MfgName       Optional[string]    `json:"mfg_name" yaml:"mfg_name,omitempty"`
	ModelName     Optional[string]    `json:"model_name" yaml:"model_name,omitempty"`
	FirmwareRev   Optional[string]    `json:"firmware_rev" yaml:"firmware_rev,omitempty"`
	SoftwareRev   Optional[string]    `json:"software_rev" yaml:"software_rev,omitempty"`
	Documentation Optional[string]    `json:"documentation" yaml:"documentation,omitempty"`
	Extensions    []string            `json:"extensions" yaml:"extensions,omitempty"`

	FromDevice PolicyReferenceList `json:"from_device_policy" yaml:"from_device_policy"`
	ToDevice   PolicyReferenceList `json:"to_device_policy" yaml:"to_device_policy"`
	ACLs       []ACL               `json:"acls" yaml:"acls"`
}

// DefaultCacheValidity is the RFC 8520 default, in hours.
const DefaultCacheValidity = 48

// CacheValidityDuration returns how long the document may be cached.
func (d *Document) CacheValidityDuration() time.Duration {
	return time.Duration(d.CacheValidity.OrElse(DefaultCacheValidity)) * time.Hour
}

// CorrelatedRuleSet holds the ACLs referenced by each policy list, in the
// order the ACLs appear in the document.
type CorrelatedRuleSet struct {
	Outbound []ACL `json:"outbound" yaml:"outbound"`
	Inbound  []ACL `json:"inbound" yaml:"inbound"`
}

// EntryCount returns the number of ACEs across the given ACLs.
func EntryCount(acls []ACL) int {
	n := 0
	for _, acl := range acls {
		n += len(acl.Entries)
	}
	return n
}
