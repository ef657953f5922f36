package signature

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// ErrNoCertificates is returned for an anchor bundle without certificates.
var ErrNoCertificates = errors.New("no certificates in trust anchor bundle")

// LoadTrustAnchors reads a PEM bundle of CA certificates.
func LoadTrustAnchors(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trust anchors: %w", err)
	}
	return ParseTrustAnchors(data)
}

// ParseTrustAnchors parses a PEM bundle of CA certificates. Non-certificate
// blocks are ignored.
func ParseTrustAnchors(data []byte) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	count := 0
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse trust anchor %d: %w", count+1, err)
		}
		pool.AddCert(cert)
		count++
	}
	if count == 0 {
		return nil, ErrNoCertificates
	}
	return pool, nil
}
