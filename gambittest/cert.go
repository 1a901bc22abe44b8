package gambittest

import (
	"crypto/ed25519"
	crand "crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"time"
)

// CA is a throwaway certificate authority for the fake server.
// Clients under test trust it through [CA.ClientTLSConfig].
type CA struct {
	Cert *x509.Certificate

	PrivKey ed25519.PrivateKey
}

// GenerateCA generates a new ed25519 CA, valid for an hour.
// Ed25519 keeps certificate generation fast enough to run per test.
func GenerateCA() (*CA, error) {
	pubKey, privKey, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: randomSerial(),

		Subject: pkix.Name{
			Organization: []string{"Test CA"},
			CommonName:   "Gambit Test CA Root",
		},
		NotBefore: time.Now().Add(-15 * time.Second),
		NotAfter:  time.Now().Add(time.Hour),

		KeyUsage: x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
		},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	derBytes, err := x509.CreateCertificate(nil, template, template, pubKey, privKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(derBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate from DER: %w", err)
	}

	return &CA{Cert: cert, PrivKey: privKey}, nil
}

// ServerCert creates a leaf certificate for localhost and 127.0.0.1,
// signed by the CA.
func (ca *CA) ServerCert() (tls.Certificate, error) {
	pubKey, privKey, err := ed25519.GenerateKey(nil)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate ed25519 key: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: randomSerial(),
		Subject: pkix.Name{
			Organization: []string{"Test Leaf Cert"},
			CommonName:   "localhost",
		},
		NotBefore: time.Now().Add(-15 * time.Second),
		NotAfter:  time.Now().Add(time.Hour),
		KeyUsage:  x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
		},
		DNSNames: []string{"localhost"},

		// Without this, dialing 127.0.0.1 fails with
		// x509: cannot validate certificate for 127.0.0.1 because it doesn't contain any IP SANs.
		IPAddresses: []net.IP{net.IPv4(127, 0, 0, 1)},

		BasicConstraintsValid: true,
	}

	derBytes, err := x509.CreateCertificate(nil, template, ca.Cert, pubKey, ca.PrivKey)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(derBytes)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to parse certificate from DER: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  privKey,
		Leaf:        cert,
	}, nil
}

// ClientTLSConfig returns a TLS configuration that trusts only this CA.
func (ca *CA) ClientTLSConfig() *tls.Config {
	pool := x509.NewCertPool()
	pool.AddCert(ca.Cert)
	return &tls.Config{
		RootCAs:    pool,
		ServerName: "localhost",
	}
}

func randomSerial() *big.Int {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	num, err := crand.Int(crand.Reader, limit)
	if err != nil {
		panic(fmt.Errorf("failed to create random serial: %w", err))
	}

	return num
}
