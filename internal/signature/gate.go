package signature

import (
	"crypto/x509"

	"grimm.is/mudgate/internal/logging"
)

// Gate checks a document against its detached signature.
type Gate struct {
	primitive Primitive
	roots     *x509.CertPool
	logger    *logging.Logger
}

// NewGate creates a gate. A nil roots pool means no trust anchor is configured,
// in which case no signature can yield Verified.
func NewGate(p Primitive, roots *x509.CertPool) *Gate {
	if p == nil {
		p = PKCS7{}
	}
	return &Gate{
		primitive: p,
		roots:     roots,
		logger:    logging.WithComponent("signature"),
	}
}

// HasTrustAnchor reports whether the gate can ever return Verified.
func (g *Gate) HasTrustAnchor() bool { return g.roots != nil }

// Verify makes a single verification attempt of sig over doc.
func (g *Gate) Verify(doc, sig []byte) Result {
	if len(sig) == 0 {
		return Result{Verdict: Unavailable, Reason: ReasonNoSignature}
	}

	msg, err := g.primitive.ParseSignedMessage(sig)
	if err != nil {
		return Result{Verdict: Unavailable, Reason: ReasonMalformed, Cause: err}
	}
	signers := subjects(msg.Signers())

	mode := TrustMode{Roots: g.roots}
	if err := g.primitive.Verify(msg, doc, mode); err != nil {
		return Result{Verdict: Failed, Reason: ReasonSignatureInvalid, Signers: signers, Cause: err}
	}
	if !mode.Anchored() {
		g.logger.Debug("signature valid but no trust anchor configured", "signers", signers)
		return Result{Verdict: Failed, Reason: ReasonNoTrustAnchor, Signers: signers}
	}
	return Result{Verdict: Verified, Reason: ReasonVerified, Signers: signers}
}

func subjects(certs []*x509.Certificate) []string {
	out := make([]string, 0, len(certs))
	for _, c := range certs {
		if c == nil {
			continue
		}
		name := c.Subject.CommonName
		if name == "" {
			name = c.Subject.String()
		}
		out = append(out, name)
	}
	return out
}
