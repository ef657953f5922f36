package testutil

import (
	"fmt"
	"strings"
)

// SingleACEDocument returns a minimal document holding one ACL "acl-out"
// with one ACE "ace-0" whose matches object is matchesJSON, referenced by
// the from-device policy. It is used by tests across packages.
func SingleACEDocument(matchesJSON string) []byte {
	return []byte(fmt.Sprintf(`{
  "ietf-mud:mud": {
    "mud-version": 1,
    "mud-url": "https://example.com/device.json",
    "mud-signature": "https://example.com/device.p7s",
    "from-device-policy": {"access-lists": {"access-list": [{"name": "acl-out"}]}}
  },
  "ietf-access-control-list:acls": {
    "acl": [{
      "name": "acl-out",
      "aces": {"ace": [{
        "name": "ace-0",
        "matches": %s,
        "actions": {"forwarding": "accept"}
      }]}
    }]
  }
}`, strings.TrimSpace(matchesJSON)))
}
