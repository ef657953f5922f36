package mud

import "fmt"

// Correlate splits the document's ACLs into outbound and inbound groups by
// membership in the from-device and to-device policy lists. Output order is
// ACL document order, not reference order. ACLs referenced by neither list are
// dropped; a reference to an undefined ACL is a StructuralError.
func Correlate(doc *Document) (CorrelatedRuleSet, error) {
	var set CorrelatedRuleSet
	if doc == nil {
		return set, &StructuralError{Path: "$", Reason: "nil document"}
	}

	defined := make(map[string]struct{}, len(doc.ACLs))
	for i, acl := range doc.ACLs {
		if _, dup := defined[acl.Name]; dup {
			return CorrelatedRuleSet{}, &StructuralError{
				Path:   index(join(pathACLs, "acl"), i),
				ACL:    acl.Name,
				Reason: "duplicate acl name",
			}
		}
		defined[acl.Name] = struct{}{}
	}

	for _, list := range []PolicyReferenceList{doc.FromDevice, doc.ToDevice} {
		for i, name := range list.Names {
			if _, ok := defined[name]; !ok {
				return CorrelatedRuleSet{}, &StructuralError{
					Path:   fmt.Sprintf("%s.%s-policy.access-lists.access-list[%d].name", pathMUD, list.Direction, i),
					ACL:    name,
					Reason: "reference to undefined acl",
				}
			}
		}
	}

	for _, acl := range doc.ACLs {
		if doc.FromDevice.Contains(acl.Name) {
			set.Outbound = append(set.Outbound, acl)
		}
		if doc.ToDevice.Contains(acl.Name) {
			set.Inbound = append(set.Inbound, acl)
		}
	}
	return set, nil
}
