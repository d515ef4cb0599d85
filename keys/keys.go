// Package keys loads signing certificates and private keys from PEM, DER
// and PKCS#12 encoded files.
package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/youmark/pkcs8"
)

// Common errors
var (
	ErrNoCertFound      = errors.New("no certificate found in data")
	ErrNoKeyFound       = errors.New("no private key found in data")
	ErrUnknownKeyType   = errors.New("unknown private key type")
	ErrInvalidPEMBlock  = errors.New("invalid PEM block")
	ErrDecryptionFailed = errors.New("failed to decrypt private key")
	ErrMultipleCerts    = errors.New("expected exactly one certificate")
)

// PrivateKey represents a private key that can be used for signing.
type PrivateKey interface {
	crypto.Signer
}

// LoadCertificate loads a single certificate from a PEM or DER encoded file.
func LoadCertificate(filename string) (*x509.Certificate, error) {
	certs, err := LoadCertificates(filename)
	if err != nil {
		return nil, err
	}
	if len(certs) != 1 {
		return nil, fmt.Errorf("%w: found %d certificates in %s", ErrMultipleCerts, len(certs), filename)
	}
	return certs[0], nil
}

// LoadCertificates loads certificates from a PEM or DER encoded file.
func LoadCertificates(filename string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return ParseCertificates(data)
}

// ParseCertificates parses certificates from PEM or DER encoded data.
func ParseCertificates(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate

	if isPEM(data) {
		rest := data
		for len(rest) > 0 {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				break
			}
			if block.Type == "CERTIFICATE" {
				cert, err := x509.ParseCertificate(block.Bytes)
				if err != nil {
					return nil, fmt.Errorf("failed to parse certificate: %w", err)
				}
				certs = append(certs, cert)
			}
		}
	} else {
		// DER: a single certificate or a concatenated bundle.
		cert, err := x509.ParseCertificate(data)
		if err != nil {
			parsedCerts, parseErr := x509.ParseCertificates(data)
			if parseErr != nil {
				return nil, fmt.Errorf("failed to parse DER certificate: %w", err)
			}
			certs = parsedCerts
		} else {
			certs = []*x509.Certificate{cert}
		}
	}

	if len(certs) == 0 {
		return nil, ErrNoCertFound
	}

	return certs, nil
}

// LoadPrivateKey loads a private key from a PEM or DER encoded file.
// The passphrase is used for encrypted PEM blocks and encrypted PKCS#8
// keys; pass nil for unencrypted keys.
func LoadPrivateKey(filename string, passphrase []byte) (PrivateKey, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return ParsePrivateKey(data, passphrase)
}

// ParsePrivateKey parses a private key from PEM or DER encoded data.
func ParsePrivateKey(data []byte, passphrase []byte) (PrivateKey, error) {
	if isPEM(data) {
		return parsePrivateKeyPEM(data, passphrase)
	}
	return parsePrivateKeyDER(data, passphrase)
}

func parsePrivateKeyPEM(data []byte, passphrase []byte) (PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrInvalidPEMBlock
	}

	keyBytes := block.Bytes

	// Legacy PEM encryption (DEK-Info header).
	if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck // legacy key files still use it
		if passphrase == nil {
			return nil, fmt.Errorf("private key is encrypted but no passphrase provided")
		}
		decrypted, err := x509.DecryptPEMBlock(block, passphrase) //nolint:staticcheck
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
		}
		keyBytes = decrypted
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(keyBytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(keyBytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS#8 private key: %w", err)
		}
		return toPrivateKey(key)
	case "ENCRYPTED PRIVATE KEY":
		return parseEncryptedPKCS8(keyBytes, passphrase)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKeyType, block.Type)
	}
}

func parsePrivateKeyDER(data []byte, passphrase []byte) (PrivateKey, error) {
	if key, err := x509.ParsePKCS8PrivateKey(data); err == nil {
		return toPrivateKey(key)
	}
	if key, err := x509.ParsePKCS1PrivateKey(data); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(data); err == nil {
		return key, nil
	}
	if passphrase != nil {
		if key, err := parseEncryptedPKCS8(data, passphrase); err == nil {
			return key, nil
		}
	}
	return nil, ErrNoKeyFound
}

// parseEncryptedPKCS8 decrypts and parses an encrypted PKCS#8 key.
func parseEncryptedPKCS8(der []byte, passphrase []byte) (PrivateKey, error) {
	if passphrase == nil {
		return nil, fmt.Errorf("private key is encrypted but no passphrase provided")
	}
	key, err := pkcs8.ParsePKCS8PrivateKey(der, passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return toPrivateKey(key)
}

// toPrivateKey converts a parsed key interface to our PrivateKey type.
func toPrivateKey(key interface{}) (PrivateKey, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return k, nil
	case *ecdsa.PrivateKey:
		return k, nil
	case ed25519.PrivateKey:
		return k, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKeyType, key)
	}
}

// isPEM checks if the data appears to be PEM encoded.
func isPEM(data []byte) bool {
	return len(data) > 10 && string(data[:5]) == "-----"
}
