// Package config handles mudgate configuration parsing, defaults and validation.
//
// # Overview
//
// mudgate is configured with a single HCL file (JSON is accepted by file
// extension). Attribute expressions may read the environment through the
// env object:
//
//	state_dir = "/var/lib/mudgate"
//
//	verification {
//	  policy        = "strict"
//	  trust_anchors = "/etc/mudgate/anchors.pem"
//	}
//
//	device "lamp" {
//	  mud_url = "https://${env.MUD_HOST}/lamp.json"
//	}
//
// # Configuration Blocks
//
//   - firewall: iptables binaries, hook chains and the default action
//   - verification: signature policy and trust anchors
//   - metrics: Prometheus listener for the watch command
//   - watch: refresh and retry intervals
//   - device: one block per controlled device
//
// Load with [LoadFile], then call [Config.ApplyDefaults] and [Config.Validate].
// [LoadFile] does both.
package config
