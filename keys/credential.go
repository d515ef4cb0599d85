package keys

import (
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"software.sslmate.com/src/go-pkcs12"
)

// SigningCredential holds a certificate and its private key, plus any CA
// certificates bundled with them.
type SigningCredential struct {
	Certificate *x509.Certificate
	PrivateKey  PrivateKey
	CACerts     []*x509.Certificate
}

// LoadPKCS12 loads a signing credential from a PKCS#12 (.p12/.pfx) file.
func LoadPKCS12(filename string, password string) (*SigningCredential, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}

	key, cert, caCerts, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decode PKCS#12 data: %w", err)
	}

	privKey, err := toPrivateKey(key)
	if err != nil {
		return nil, err
	}

	return &SigningCredential{
		Certificate: cert,
		PrivateKey:  privKey,
		CACerts:     caCerts,
	}, nil
}

// LoadSigningCredential loads a certificate and private key pair. When
// certFile has a .p12 or .pfx extension it is treated as a PKCS#12
// container and keyFile is ignored; otherwise certFile and keyFile are
// loaded as separate PEM or DER files.
func LoadSigningCredential(certFile, keyFile string, passphrase []byte) (*SigningCredential, error) {
	switch strings.ToLower(filepath.Ext(certFile)) {
	case ".p12", ".pfx":
		return LoadPKCS12(certFile, string(passphrase))
	}

	cert, err := LoadCertificate(certFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}

	key, err := LoadPrivateKey(keyFile, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to load private key: %w", err)
	}

	return &SigningCredential{
		Certificate: cert,
		PrivateKey:  key,
	}, nil
}
