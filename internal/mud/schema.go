package mud

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
)

// kind is the JSON kind of a decoded value.
type kind int

const (
	kindNull kind = iota
	kindString
	kindNumber
	kindBool
	kindObject
	kindArray
	kindUnknown
)

func (k kind) String() string {
	switch k {
	case kindNull:
		return "null"
	case kindString:
		return "string"
	case kindNumber:
		return "number"
	case kindBool:
		return "boolean"
	case kindObject:
		return "object"
	case kindArray:
		return "array"
	}
	return "unknown"
}

func kindOf(v any) kind {
	switch v.(type) {
	case nil:
		return kindNull
	case string:
		return kindString
	case json.Number, float64, float32, int, int64, uint8:
		return kindNumber
	case bool:
		return kindBool
	case map[string]any:
		return kindObject
	case []any:
		return kindArray
	}
	return kindUnknown
}

// field declares one member of a container.
type field struct {
	name     string
	kind     kind
	required bool
}

func req(name string, k kind) field { return field{name: name, kind: k, required: true} }
func opt(name string, k kind) field { return field{name: name, kind: k} }

// schema declares the members of a container. A closed schema rejects
// members it does not declare.
type schema struct {
	fields []field
	closed bool
}

// Containers of the ietf-mud and ietf-access-control-list modules.
var (
	rootSchema = schema{fields: []field{
		req("ietf-mud:mud", kindObject),
		req("ietf-access-control-list:acls", kindObject),
	}}

	mudSchema = schema{fields: []field{
		req("mud-version", kindNumber),
		req("mud-url", kindString),
		req("mud-signature", kindString),
		opt("last-update", kindString),
		opt("cache-validity", kindNumber),
		opt("is-supported", kindBool),
		opt("systeminfo", kindString),
		opt("mfg-name", kindString),
		opt("model-name", kindString),
		opt("firmware-rev", kindString),
		opt("software-rev", kindString),
		opt("documentation", kindString),
		opt("extensions", kindArray),
		opt("from-device-policy", kindObject),
		opt("to-device-policy", kindObject),
	}}

	policySchema      = schema{fields: []field{req("access-lists", kindObject)}}
	accessListsSchema = schema{fields: []field{req("access-list", kindArray)}}
	accessListSchema  = schema{fields: []field{req("name", kindString)}}

	aclsSchema = schema{fields: []field{req("acl", kindArray)}}
	aclSchema  = schema{fields: []field{
		req("name", kindString),
		opt("type", kindString),
		req("aces", kindObject),
	}}
	acesSchema = schema{fields: []field{req("ace", kindArray)}}
	aceSchema  = schema{fields: []field{
		req("name", kindString),
		opt("matches", kindObject),
		req("actions", kindObject),
	}}
	actionsSchema = schema{fields: []field{
		req("forwarding", kindString),
		opt("logging", kindString),
	}}

	matchesSchema = schema{closed: true, fields: []field{
		opt("ipv4", kindObject),
		opt("ipv6", kindObject),
		opt("tcp", kindObject),
		opt("udp", kindObject),
		opt("ietf-mud:mud", kindObject),
	}}
	ipv4Schema = schema{closed: true, fields: []field{
		opt("protocol", kindNumber),
		opt("ietf-acldns:src-dnsname", kindString),
		opt("ietf-acldns:dst-dnsname", kindString),
		opt("source-ipv4-network", kindString),
		opt("destination-ipv4-network", kindString),
	}}
	ipv6Schema = schema{closed: true, fields: []field{
		opt("protocol", kindNumber),
		opt("ietf-acldns:src-dnsname", kindString),
		opt("ietf-acldns:dst-dnsname", kindString),
		opt("source-ipv6-network", kindString),
		opt("destination-ipv6-network", kindString),
	}}
	tcpSchema = schema{closed: true, fields: []field{
		opt("ietf-mud:direction-initiated", kindString),
		opt("source-port", kindObject),
		opt("destination-port", kindObject),
	}}
	udpSchema = schema{closed: true, fields: []field{
		opt("source-port", kindObject),
		opt("destination-port", kindObject),
	}}
	portSchema = schema{closed: true, fields: []field{
		opt("operator", kindString),
		opt("port", kindNumber),
		opt("lower-port", kindNumber),
		opt("upper-port", kindNumber),
	}}
	controllerSchema = schema{closed: true, fields: []field{
		opt("manufacturer", kindString),
		opt("same-manufacturer", kindArray),
		opt("model", kindString),
		opt("local-networks", kindArray),
		opt("controller", kindString),
		opt("my-controller", kindArray),
	}}
)

// check validates obj against s before any value is extracted.
// Keys are visited in sorted order so the first error reported is stable.
func (s schema) check(obj map[string]any, path string) error {
	for _, f := range s.fields {
		v, ok := obj[f.name]
		if !ok || v == nil {
			if f.required {
				return &StructuralError{Path: join(path, f.name), Reason: "missing mandatory field"}
			}
			continue
		}
		if got := kindOf(v); got != f.kind {
			return &StructuralError{
				Path:   join(path, f.name),
				Reason: fmt.Sprintf("expected %s, got %s", f.kind, got),
			}
		}
	}
	if !s.closed {
		return nil
	}
	for _, key := range slices.Sorted(maps.Keys(obj)) {
		if !s.declares(key) {
			return &StructuralError{Path: join(path, key), Reason: "unsupported field"}
		}
	}
	return nil
}

func (s schema) declares(name string) bool {
	for _, f := range s.fields {
		if f.name == name {
			return true
		}
	}
	return false
}

// The accessors below assume check has passed for obj.

func object(obj map[string]any, name string) (map[string]any, bool) {
	v, ok := obj[name].(map[string]any)
	return v, ok
}

func array(obj map[string]any, name string) []any {
	v, _ := obj[name].([]any)
	return v
}

func str(obj map[string]any, name string) string {
	v, _ := obj[name].(string)
	return v
}

func optString(obj map[string]any, name string) Optional[string] {
	if v, ok := obj[name].(string); ok {
		return Some(v)
	}
	return Optional[string]{}
}

func optBool(obj map[string]any, name string) Optional[bool] {
	if v, ok := obj[name].(bool); ok {
		return Some(v)
	}
	return Optional[bool]{}
}

// integer extracts a whole number in [lo, hi].
func integer(obj map[string]any, name, path string, lo, hi int64) (int64, bool, error) {
	v, ok := obj[name]
	if !ok || v == nil {
		return 0, false, nil
	}
	var n int64
	switch x := v.(type) {
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return 0, true, &StructuralError{Path: join(path, name), Reason: fmt.Sprintf("expected integer, got %s", x)}
		}
		n = i
	case float64:
		if x != math.Trunc(x) || math.Abs(x) > 1<<53 {
			return 0, true, &StructuralError{Path: join(path, name), Reason: fmt.Sprintf("expected integer, got %v", x)}
		}
		n = int64(x)
	case int:
		n = int64(x)
	case int64:
		n = x
	default:
		return 0, true, &StructuralError{Path: join(path, name), Reason: fmt.Sprintf("expected number, got %s", kindOf(v))}
	}
	if n < lo || n > hi {
		return 0, true, &StructuralError{Path: join(path, name), Reason: fmt.Sprintf("value %d out of range %d..%d", n, lo, hi)}
	}
	return n, true, nil
}

// stripPrefix removes a YANG module qualifier from an identity value.
func stripPrefix(v string) string {
	if i := strings.LastIndexByte(v, ':'); i >= 0 {
		return v[i+1:]
	}
	return v
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func index(path string, i int) string {
	return fmt.Sprintf("%s[%d]", path, i)
}
