// Package mud turns a Manufacturer Usage Description document (RFC 8520) into
// a typed access-control model and correlates its policy lists with the ACLs
// they reference.
//
// # Pipeline
//
//	raw bytes → Decode → generic tree → Build → *Document → Correlate → CorrelatedRuleSet
//
// Build is schema driven and fails closed: a missing mandatory field, a value of
// the wrong kind, an unknown match block, or a constraint this package cannot
// represent rejects the whole document. Nothing partial is ever returned.
//
// Every optional scalar is carried as an [Optional] so that an absent port and
// port 0 stay distinguishable all the way to rule generation.
//
// # Key Types
//
//   - [Document]: the decoded ietf-mud:mud container plus its ACLs
//   - [ACL], [ACE], [Match]: the RFC 8519 access-control model subset MUD uses
//   - [CorrelatedRuleSet]: ACLs split by direction in document order
//   - [StructuralError], [AmbiguousMatchError]: build and correlation failures
package mud
