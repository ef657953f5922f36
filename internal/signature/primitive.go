package signature

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/smallstep/pkcs7"
)

// SignedMessage is a parsed signed-data container.
type SignedMessage interface {
	Signers() []*x509.Certificate
}

// TrustMode selects chain verification. A nil Roots pool verifies the
// signature only, without building a chain to an anchor.
type TrustMode struct {
	Roots *x509.CertPool
}

// Anchored reports whether chain verification is requested.
func (m TrustMode) Anchored() bool { return m.Roots != nil }

// Primitive is the cryptographic backend of the Gate.
type Primitive interface {
	ParseSignedMessage(data []byte) (SignedMessage, error)
	Verify(msg SignedMessage, content []byte, mode TrustMode) error
}

// PKCS7 verifies detached CMS SignedData (RFC 5652) as published for MUD files.
// Both DER and PEM-wrapped DER are accepted.
type PKCS7 struct{}

type pkcs7Message struct {
	p7 *pkcs7.PKCS7
}

func (m *pkcs7Message) Signers() []*x509.Certificate {
	if signer := m.p7.GetOnlySigner(); signer != nil {
		return []*x509.Certificate{signer}
	}
	return m.p7.Certificates
}

var errNotSignedData = errors.New("container holds no signers")

// ParseSignedMessage parses a signed-data container. Truncated or otherwise
// malformed input is an error, never a panic.
func (PKCS7) ParseSignedMessage(data []byte) (SignedMessage, error) {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("-----BEGIN")) {
		block, _ := pem.Decode(bytes.TrimSpace(data))
		if block == nil {
			return nil, errors.New("invalid pem block")
		}
		data = block.Bytes
	}
	p7, err := parsePKCS7(data)
	if err != nil {
		return nil, fmt.Errorf("parse pkcs7: %w", err)
	}
	if len(p7.Signers) == 0 {
		return nil, errNotSignedData
	}
	return &pkcs7Message{p7: p7}, nil
}

// parsePKCS7 contains panics raised by the BER reader on short input.
func parsePKCS7(data []byte) (p7 *pkcs7.PKCS7, err error) {
	defer func() {
		if r := recover(); r != nil {
			p7, err = nil, fmt.Errorf("malformed container: %v", r)
		}
	}()
	return pkcs7.Parse(data)
}

// Verify checks the signature over content, building a chain to mode.Roots
// when it is set.
func (PKCS7) Verify(msg SignedMessage, content []byte, mode TrustMode) (err error) {
	m, ok := msg.(*pkcs7Message)
	if !ok {
		return fmt.Errorf("unsupported message type %T", msg)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed container: %v", r)
		}
	}()
	m.p7.Content = content
	if mode.Anchored() {
		return m.p7.VerifyWithChain(mode.Roots)
	}
	return m.p7.Verify()
}
