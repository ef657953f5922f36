// Package firewall compiles correlated MUD access lists into an iptables
// shell script and applies it.
//
// # Overview
//
// Generation is pure: [Generator.Generate] turns a [mud.CorrelatedRuleSet] into
// a [RuleScript] without touching the system. Persisting the script and running
// it are separate steps performed by the caller after the authenticity gate has
// been consulted.
//
// # Architecture
//
//	CorrelatedRuleSet → Generator → RuleScript → Persist → Enforcer → iptables
//
// # Key Types
//
//   - [Generator]: builds the per-device script from [Options]
//   - [ScriptBuilder]: line-oriented builder for the shell script
//   - [RuleScript]: generated text plus rule counts and chain names
//   - [Enforcer]: runs a persisted script with "down" or "up"
//
// # Script Layout
//
// Every script tears down before it sets up, so a run can always replace the
// previous run's rules for the same device:
//
//	sh <device>.sh down   # unhook, flush and delete <id>_OUTPUT and <id>_INPUT
//	sh <device>.sh up     # create chains, append one rule per ACE, hook chains
package firewall
