// Package signature decides whether a MUD document may be trusted.
//
// The [Gate] parses the detached CMS signature published at the document's
// mud-signature URL and verifies it over the exact document bytes. It returns
// a tri-state [Verdict]:
//
//   - Unavailable: no signature could be obtained or it is not a signed-data container
//   - Failed: the container parsed but did not verify, or verified without a trust anchor
//   - Verified: the signature verified against a configured trust anchor
//
// The gate makes one attempt and never retries. Whether a verdict blocks
// enforcement is the caller's decision, expressed as a [Policy].
package signature
