package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/youmark/pkcs8"
	"software.sslmate.com/src/go-pkcs12"
)

func generateTestCert(t *testing.T, cn string) (*x509.Certificate, *rsa.PrivateKey) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName:   cn,
			Organization: []string{"Test Org"},
		},
		NotBefore: time.Now(),
		NotAfter:  time.Now().Add(365 * 24 * time.Hour),
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		t.Fatalf("Failed to parse certificate: %v", err)
	}

	return cert, key
}

func TestIsPEM(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected bool
	}{
		{"PEM data", []byte("-----BEGIN CERTIFICATE-----\ndata\n-----END CERTIFICATE-----"), true},
		{"DER data", []byte{0x30, 0x82, 0x01, 0x22}, false},
		{"Empty", []byte{}, false},
		{"Short data", []byte("----"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := isPEM(tt.data)
			if result != tt.expected {
				t.Errorf("isPEM() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestParseCertificates_PEM(t *testing.T) {
	cert, _ := generateTestCert(t, "Test Cert")

	pemData := pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: cert.Raw,
	})

	certs, err := ParseCertificates(pemData)
	if err != nil {
		t.Fatalf("ParseCertificates failed: %v", err)
	}

	if len(certs) != 1 {
		t.Errorf("Expected 1 cert, got %d", len(certs))
	}

	if certs[0].Subject.CommonName != "Test Cert" {
		t.Errorf("Expected CommonName 'Test Cert', got '%s'", certs[0].Subject.CommonName)
	}
}

func TestParseCertificates_DER(t *testing.T) {
	cert, _ := generateTestCert(t, "DER Test Cert")

	certs, err := ParseCertificates(cert.Raw)
	if err != nil {
		t.Fatalf("ParseCertificates failed: %v", err)
	}

	if len(certs) != 1 {
		t.Errorf("Expected 1 cert, got %d", len(certs))
	}

	if certs[0].Subject.CommonName != "DER Test Cert" {
		t.Errorf("Expected CommonName 'DER Test Cert', got '%s'", certs[0].Subject.CommonName)
	}
}

func TestParseCertificates_MultiplePEMBlocks(t *testing.T) {
	var pemData []byte
	for i := 0; i < 3; i++ {
		cert, _ := generateTestCert(t, "Cert "+string(rune('A'+i)))
		pemBlock := pem.EncodeToMemory(&pem.Block{
			Type:  "CERTIFICATE",
			Bytes: cert.Raw,
		})
		pemData = append(pemData, pemBlock...)
	}

	certs, err := ParseCertificates(pemData)
	if err != nil {
		t.Fatalf("ParseCertificates failed: %v", err)
	}

	if len(certs) != 3 {
		t.Errorf("Expected 3 certs, got %d", len(certs))
	}
}

func TestParseCertificates_Empty(t *testing.T) {
	_, err := ParseCertificates([]byte{})
	if err == nil {
		t.Error("Expected error for empty data")
	}
}

func TestLoadCertificate_File(t *testing.T) {
	cert, _ := generateTestCert(t, "Single Cert Test")

	tmpDir := t.TempDir()
	certFile := filepath.Join(tmpDir, "single.crt")
	pemData := pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: cert.Raw,
	})
	if err := os.WriteFile(certFile, pemData, 0644); err != nil {
		t.Fatalf("Failed to write cert file: %v", err)
	}

	loaded, err := LoadCertificate(certFile)
	if err != nil {
		t.Fatalf("LoadCertificate failed: %v", err)
	}

	if loaded.Subject.CommonName != "Single Cert Test" {
		t.Errorf("Expected CommonName 'Single Cert Test', got '%s'", loaded.Subject.CommonName)
	}
}

func TestLoadCertificate_MultipleCertsError(t *testing.T) {
	var pemData []byte
	for i := 0; i < 2; i++ {
		cert, _ := generateTestCert(t, "Cert")
		pemBlock := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
		pemData = append(pemData, pemBlock...)
	}

	tmpDir := t.TempDir()
	certFile := filepath.Join(tmpDir, "multiple.crt")
	if err := os.WriteFile(certFile, pemData, 0644); err != nil {
		t.Fatalf("Failed to write cert file: %v", err)
	}

	_, err := LoadCertificate(certFile)
	if err == nil {
		t.Error("Expected error for multiple certs")
	}
}

func TestParsePrivateKey_PKCS1(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate RSA key: %v", err)
	}

	pemData := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	loadedKey, err := ParsePrivateKey(pemData, nil)
	if err != nil {
		t.Fatalf("ParsePrivateKey failed: %v", err)
	}

	if _, ok := loadedKey.(*rsa.PrivateKey); !ok {
		t.Error("Expected RSA private key")
	}
}

func TestParsePrivateKey_EC(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate EC key: %v", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("Failed to marshal EC key: %v", err)
	}

	pemData := pem.EncodeToMemory(&pem.Block{
		Type:  "EC PRIVATE KEY",
		Bytes: keyDER,
	})

	loadedKey, err := ParsePrivateKey(pemData, nil)
	if err != nil {
		t.Fatalf("ParsePrivateKey failed: %v", err)
	}

	if _, ok := loadedKey.(*ecdsa.PrivateKey); !ok {
		t.Error("Expected EC private key")
	}
}

func TestParsePrivateKey_PKCS8(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate RSA key: %v", err)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("Failed to marshal PKCS#8 key: %v", err)
	}

	pemData := pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: keyDER,
	})

	loadedKey, err := ParsePrivateKey(pemData, nil)
	if err != nil {
		t.Fatalf("ParsePrivateKey failed: %v", err)
	}

	if _, ok := loadedKey.(*rsa.PrivateKey); !ok {
		t.Error("Expected RSA private key")
	}
}

func TestParsePrivateKey_BareDER(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate RSA key: %v", err)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("Failed to marshal PKCS#8 key: %v", err)
	}

	loadedKey, err := ParsePrivateKey(keyDER, nil)
	if err != nil {
		t.Fatalf("ParsePrivateKey failed: %v", err)
	}

	if _, ok := loadedKey.(*rsa.PrivateKey); !ok {
		t.Error("Expected RSA private key")
	}
}

func TestParsePrivateKey_EncryptedPKCS8(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate RSA key: %v", err)
	}

	encDER, err := pkcs8.MarshalPrivateKey(key, []byte("secret"), nil)
	if err != nil {
		t.Fatalf("Failed to marshal encrypted PKCS#8 key: %v", err)
	}

	pemData := pem.EncodeToMemory(&pem.Block{
		Type:  "ENCRYPTED PRIVATE KEY",
		Bytes: encDER,
	})

	loadedKey, err := ParsePrivateKey(pemData, []byte("secret"))
	if err != nil {
		t.Fatalf("ParsePrivateKey failed: %v", err)
	}

	if _, ok := loadedKey.(*rsa.PrivateKey); !ok {
		t.Error("Expected RSA private key")
	}

	if _, err := ParsePrivateKey(pemData, []byte("wrong")); err == nil {
		t.Error("Expected error for wrong passphrase")
	}

	if _, err := ParsePrivateKey(pemData, nil); err == nil {
		t.Error("Expected error for missing passphrase")
	}
}

func TestLoadPrivateKey_File(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate RSA key: %v", err)
	}

	pemData := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	tmpDir := t.TempDir()
	keyFile := filepath.Join(tmpDir, "key.pem")
	if err := os.WriteFile(keyFile, pemData, 0600); err != nil {
		t.Fatalf("Failed to write key file: %v", err)
	}

	loadedKey, err := LoadPrivateKey(keyFile, nil)
	if err != nil {
		t.Fatalf("LoadPrivateKey failed: %v", err)
	}

	if _, ok := loadedKey.(*rsa.PrivateKey); !ok {
		t.Error("Expected RSA private key")
	}
}

func TestLoadPKCS12(t *testing.T) {
	cert, key := generateTestCert(t, "PKCS12 Test")

	pfxData, err := pkcs12.Modern.Encode(key, cert, nil, "secret")
	if err != nil {
		t.Fatalf("Failed to encode PKCS#12: %v", err)
	}

	tmpDir := t.TempDir()
	pfxFile := filepath.Join(tmpDir, "cred.p12")
	if err := os.WriteFile(pfxFile, pfxData, 0600); err != nil {
		t.Fatalf("Failed to write PKCS#12 file: %v", err)
	}

	cred, err := LoadPKCS12(pfxFile, "secret")
	if err != nil {
		t.Fatalf("LoadPKCS12 failed: %v", err)
	}

	if cred.Certificate.Subject.CommonName != "PKCS12 Test" {
		t.Errorf("Expected CommonName 'PKCS12 Test', got '%s'", cred.Certificate.Subject.CommonName)
	}

	if _, ok := cred.PrivateKey.(*rsa.PrivateKey); !ok {
		t.Error("Expected RSA private key")
	}

	if _, err := LoadPKCS12(pfxFile, "wrong"); err == nil {
		t.Error("Expected error for wrong password")
	}
}

func TestLoadSigningCredential_PEMPair(t *testing.T) {
	cert, key := generateTestCert(t, "Credential Test")

	tmpDir := t.TempDir()

	certFile := filepath.Join(tmpDir, "cert.pem")
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	if err := os.WriteFile(certFile, certPEM, 0644); err != nil {
		t.Fatalf("Failed to write cert file: %v", err)
	}

	keyFile := filepath.Join(tmpDir, "key.pem")
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(keyFile, keyPEM, 0600); err != nil {
		t.Fatalf("Failed to write key file: %v", err)
	}

	cred, err := LoadSigningCredential(certFile, keyFile, nil)
	if err != nil {
		t.Fatalf("LoadSigningCredential failed: %v", err)
	}

	if cred.Certificate.Subject.CommonName != "Credential Test" {
		t.Error("Certificate not loaded correctly")
	}

	if _, ok := cred.PrivateKey.(*rsa.PrivateKey); !ok {
		t.Error("Expected RSA private key")
	}
}

func TestLoadSigningCredential_PKCS12Routing(t *testing.T) {
	cert, key := generateTestCert(t, "Routed PKCS12")

	pfxData, err := pkcs12.Modern.Encode(key, cert, nil, "secret")
	if err != nil {
		t.Fatalf("Failed to encode PKCS#12: %v", err)
	}

	tmpDir := t.TempDir()
	pfxFile := filepath.Join(tmpDir, "cred.pfx")
	if err := os.WriteFile(pfxFile, pfxData, 0600); err != nil {
		t.Fatalf("Failed to write PKCS#12 file: %v", err)
	}

	cred, err := LoadSigningCredential(pfxFile, "", []byte("secret"))
	if err != nil {
		t.Fatalf("LoadSigningCredential failed: %v", err)
	}

	if cred.Certificate.Subject.CommonName != "Routed PKCS12" {
		t.Error("Certificate not loaded correctly")
	}
}

func TestLoadCertificates_FileNotFound(t *testing.T) {
	_, err := LoadCertificates("/nonexistent/file.pem")
	if err == nil {
		t.Error("Expected error for non-existent file")
	}
}

func TestLoadPrivateKey_FileNotFound(t *testing.T) {
	_, err := LoadPrivateKey("/nonexistent/file.pem", nil)
	if err == nil {
		t.Error("Expected error for non-existent file")
	}
}

func TestParsePrivateKey_Invalid(t *testing.T) {
	_, err := ParsePrivateKey([]byte("not a valid key"), nil)
	if err == nil {
		t.Error("Expected error for invalid key data")
	}
}

func TestToPrivateKey_Unknown(t *testing.T) {
	_, err := toPrivateKey("not a key")
	if err == nil {
		t.Error("Expected error for unknown key type")
	}
}
