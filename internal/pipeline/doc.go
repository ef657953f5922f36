// Package pipeline runs the fetch, verify, compile and enforce sequence for
// one device, and schedules repeated runs for the watch command.
//
// A run is synchronous. Each stage boundary checks the context, and a run
// that fails at any stage leaves the persisted script and the loaded rules
// exactly as they were.
package pipeline
