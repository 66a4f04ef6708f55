package callback

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"os"
	"strings"
	"time"
)

// selfSignedValidity is generous since the daemon regenerates a fresh
// certificate on every startup; there is no restart-free rotation need.
const selfSignedValidity = 365 * 24 * time.Hour

// Cert is a generated self-signed HTTPS server certificate plus its
// fingerprint for client pinning.
type Cert struct {
	TLS tls.Certificate
	PublicKeyFingerprint string // SHA-256 of the DER public key, hex, colon-separated
}

// GenerateSelfSignedCert creates an ECDSA P-256 self-signed certificate
// valid for localhost, 127.0.0.1, ::1 and the machine hostname. Grounded
// on the example corpus's own self-signed certificate generator, extended
// with the machine hostname SAN this daemon requires.
func GenerateSelfSignedCert() (*Cert, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating certificate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generating certificate serial: %w", err)
	}

	dnsNames := []string{"localhost"}
	if hostname, err := os.Hostname(); err == nil && hostname != "" && hostname != "localhost" {
		dnsNames = append(dnsNames, hostname)
	}

	notBefore := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{CommonName: "pizauth local callback"},
		NotBefore: notBefore,
		NotAfter: notBefore.Add(selfSignedValidity),
		KeyUsage: x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA: true,
		DNSNames: dnsNames,
		IPAddresses: []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("creating certificate: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshaling public key: %w", err)
	}
	sum := sha256.Sum256(pubDER)

	tlsCert := tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey: key,
	}

	return &Cert{TLS: tlsCert, PublicKeyFingerprint: hexColonSeparated(sum[:])}, nil
}

func hexColonSeparated(b []byte) string {
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = fmt.Sprintf("%02x", c)
	}
	return strings.Join(parts, ":")
}
