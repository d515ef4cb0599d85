// Package signers provides the signing backends that produce detached CMS
// signatures over documents: local key files, PKCS#11 hardware tokens, the
// platform cryptographic provider, the external cryptcp tool and the
// browser plugin flow.
package signers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Common backend errors
var (
	ErrCertificateNotFound = errors.New("certificate not found")
	ErrNoPrivateKeyAccess  = errors.New("certificate has no private key access")
	ErrProviderUnavailable = errors.New("cryptographic provider is not available")
)

// Backend is a signing backend. Sign produces a detached CMS signature
// container over the document.
type Backend interface {
	Sign(ctx context.Context, document []byte, sel CertificateSelector) ([]byte, error)
	Name() string
}

// SelectorError reports an invalid certificate selector.
type SelectorError struct {
	Message string
}

func (e *SelectorError) Error() string {
	return "invalid certificate selector: " + e.Message
}

// CertificateSelector identifies the signing certificate for backends that
// pick one from a store or pass the choice to an external tool. At most one
// criterion may be set; Choose delegates the choice to the tool's own
// picker and cannot be combined with an explicit criterion.
type CertificateSelector struct {
	Thumbprint string
	Subject    string
	Container  string
	Choose     bool
}

// IsEmpty reports whether no selection criterion is set.
func (s CertificateSelector) IsEmpty() bool {
	return s.Thumbprint == "" && s.Subject == "" && s.Container == "" && !s.Choose
}

// Validate checks the selector for conflicting criteria.
func (s CertificateSelector) Validate() error {
	explicit := 0
	if s.Thumbprint != "" {
		explicit++
	}
	if s.Subject != "" {
		explicit++
	}
	if s.Container != "" {
		explicit++
	}
	if s.Choose && explicit > 0 {
		return &SelectorError{Message: "interactive selection cannot be combined with an explicit certificate"}
	}
	if explicit > 1 {
		return &SelectorError{Message: "thumbprint, subject and container are mutually exclusive"}
	}
	return nil
}

// NormalizeThumbprint strips spaces and uppercases a certificate
// thumbprint for store lookups.
func NormalizeThumbprint(thumbprint string) string {
	return strings.ToUpper(strings.ReplaceAll(thumbprint, " ", ""))
}

// SignatureFileName returns the conventional name for a detached signature
// file: the document base name without its extension plus the signature
// suffix.
func SignatureFileName(documentPath string) string {
	base := filepath.Base(documentPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return base + "_Файл подписи.p7s"
}

// SignDocumentFile signs the document file with the backend and writes the
// detached signature next to the document, or into outputDir when given.
// It returns the path of the written signature file.
func SignDocumentFile(ctx context.Context, backend Backend, documentPath, outputDir string, sel CertificateSelector) (string, error) {
	document, err := os.ReadFile(documentPath)
	if err != nil {
		return "", fmt.Errorf("failed to read document %s: %w", documentPath, err)
	}

	signature, err := backend.Sign(ctx, document, sel)
	if err != nil {
		return "", err
	}

	dir := outputDir
	if dir == "" {
		dir = filepath.Dir(documentPath)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	target := filepath.Join(dir, SignatureFileName(documentPath))
	if err := os.WriteFile(target, signature, 0644); err != nil {
		return "", fmt.Errorf("failed to write signature file %s: %w", target, err)
	}

	return target, nil
}
