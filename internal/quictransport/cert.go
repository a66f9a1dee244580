package quictransport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"time"

	"github.com/parasync/parasync/internal/scerr"
)

// CertificateManager holds the TLS certificate a QUIC endpoint
// authenticates with, either loaded from disk or freshly self-signed.
//
// Generation uses crypto/ecdsa + crypto/x509 directly: there is no
// established Go-ecosystem self-signed certificate generator this tree
// already depends on, and the standard library already does the whole
// job in a dozen lines.
type CertificateManager struct {
	cert tls.Certificate
}

// FromFiles loads a certificate/key pair from PEM files on disk.
func FromFiles(certPath, keyPath string) (*CertificateManager, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, scerr.IO(certPath, err)
	}
	return &CertificateManager{cert: cert}, nil
}

// GenerateSelfSigned builds a fresh self-signed ECDSA P-256 certificate
// valid for hostname, good for one year.
func GenerateSelfSigned(hostname string) (*CertificateManager, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, scerr.New(scerr.KindConfig, "", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, scerr.New(scerr.KindConfig, "", err)
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: hostname},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{hostname},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return nil, scerr.New(scerr.KindConfig, "", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return nil, scerr.New(scerr.KindConfig, "", err)
	}

	cert, err := tls.X509KeyPair(
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
	)
	if err != nil {
		return nil, scerr.New(scerr.KindConfig, "", err)
	}
	return &CertificateManager{cert: cert}, nil
}

// SaveToFiles writes the certificate and private key as PEM files,
// letting a self-signed cert be cached across process restarts.
func (m *CertificateManager) SaveToFiles(certPath, keyPath string) error {
	certOut := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: m.cert.Certificate[0]})
	if err := os.WriteFile(certPath, certOut, 0o644); err != nil {
		return scerr.IO(certPath, err)
	}

	keyDER, err := x509.MarshalECPrivateKey(m.cert.PrivateKey.(*ecdsa.PrivateKey))
	if err != nil {
		return scerr.New(scerr.KindConfig, "", err)
	}
	keyOut := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(keyPath, keyOut, 0o600); err != nil {
		return scerr.IO(keyPath, err)
	}
	return nil
}

// TLSCertificate returns the loaded/generated certificate for use in a
// tls.Config.
func (m *CertificateManager) TLSCertificate() tls.Certificate { return m.cert }
