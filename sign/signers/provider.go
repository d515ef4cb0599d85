package signers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Operator-facing diagnostics for native provider faults.
const (
	hintKeyMediaRequired = "Требуется подключить носитель ключа"
	hintNoPrivateKey     = "Сертификат без доступа к закрытому ключу"
	hintNotRegistered    = "CADESCOM не зарегистрирован/несовпадение разрядности"
	hintStaleKeySet      = "Ключевой контейнер повреждён или устарел"
	hintSigningFailed    = "Не удалось создать подпись через CAdESCOM"
	hintStoreOpenFailed  = "Не удалось открыть хранилище сертификатов Windows"
	hintSignerPrep       = "Не удалось подготовить подписанта CAdESCOM"
	hintSignedData       = "Не удалось создать объект CadesSignedData"
	hintNoSuitableCert   = "Не найден подходящий сертификат в хранилище Windows"
)

// StoreCertificate describes one certificate from the system store.
type StoreCertificate struct {
	SerialNumber  string
	Subject       string
	Issuer        string
	NotBefore     time.Time
	NotAfter      time.Time
	Thumbprint    string
	HasPrivateKey bool
	IsValid       bool
}

// CommonName extracts the CN component from the subject, falling back to
// the whole subject string.
func (c StoreCertificate) CommonName() string {
	for _, part := range strings.Split(c.Subject, ",") {
		part = strings.TrimSpace(part)
		if len(part) >= 3 && strings.EqualFold(part[:3], "CN=") {
			return strings.TrimSpace(part[3:])
		}
	}
	return c.Subject
}

// ProviderClient is the transport to the native cryptographic provider.
// The Windows implementation drives CAdESCOM over COM automation.
type ProviderClient interface {
	ListCertificates() ([]StoreCertificate, error)
	Sign(document []byte, thumbprint string, detached bool) ([]byte, error)
}

// ProviderError carries the operator-facing diagnostic for a provider
// fault. Recoverable faults may be retried through the fallback backend.
type ProviderError struct {
	Hint        string
	Recoverable bool
	Err         error
}

func (e *ProviderError) Error() string { return e.Hint }

func (e *ProviderError) Unwrap() error { return e.Err }

// classifyNotRegistered reports the component-registration fault, the one
// dispatch failure with a dedicated operator hint.
func classifyNotRegistered(err error) *ProviderError {
	msg := err.Error()
	if strings.Contains(msg, "Class not registered") || strings.Contains(msg, "80040154") {
		return &ProviderError{Hint: hintNotRegistered, Recoverable: true, Err: err}
	}
	return nil
}

// classifyProviderFault maps a raw provider fault to an operator hint.
// Missing key media, missing or stale key sets and an unregistered
// component are recoverable through the external tool.
func classifyProviderFault(err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "0x80090016") || strings.Contains(msg, "NTE_BAD_KEYSET") || strings.Contains(msg, "0x80090019"):
		return &ProviderError{Hint: hintKeyMediaRequired, Recoverable: true, Err: err}
	case strings.Contains(msg, "0x8009000D"):
		return &ProviderError{Hint: hintNoPrivateKey, Err: err}
	case strings.Contains(msg, "0x8009001A"):
		return &ProviderError{Hint: hintStaleKeySet, Recoverable: true, Err: err}
	default:
		if pe := classifyNotRegistered(err); pe != nil {
			return pe
		}
		return &ProviderError{Hint: hintSigningFailed, Err: err}
	}
}

// sortStoreCertificates orders certificates best-first: private key
// holders, then currently valid ones, then by earliest expiry.
func sortStoreCertificates(certs []StoreCertificate) {
	sort.SliceStable(certs, func(i, j int) bool {
		a, b := certs[i], certs[j]
		if a.HasPrivateKey != b.HasPrivateKey {
			return a.HasPrivateKey
		}
		if a.IsValid != b.IsValid {
			return a.IsValid
		}
		return a.NotAfter.Before(b.NotAfter)
	})
}

// NativeProviderBackend signs through the operating system cryptographic
// provider. A recoverable provider fault is retried once through the
// configured fallback backend.
type NativeProviderBackend struct {
	client   ProviderClient
	fallback Backend
	logger   *zap.Logger
}

// NewNativeProviderBackend creates the backend. A nil client selects the
// platform default (CAdESCOM on Windows, unavailable elsewhere).
func NewNativeProviderBackend(client ProviderClient, logger *zap.Logger) *NativeProviderBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		client = defaultProviderClient(logger)
	}
	return &NativeProviderBackend{client: client, logger: logger}
}

// SetFallback configures the backend retried on recoverable faults.
func (b *NativeProviderBackend) SetFallback(fallback Backend) { b.fallback = fallback }

// Name implements Backend.
func (b *NativeProviderBackend) Name() string { return "provider" }

// ListCertificates returns the store certificates ordered best-first.
func (b *NativeProviderBackend) ListCertificates() ([]StoreCertificate, error) {
	certs, err := b.client.ListCertificates()
	if err != nil {
		return nil, err
	}
	sortStoreCertificates(certs)
	return certs, nil
}

// Sign implements Backend. The certificate is chosen by the selector
// thumbprint or, when no selector is given, as the best store certificate
// with a private key.
func (b *NativeProviderBackend) Sign(ctx context.Context, document []byte, sel CertificateSelector) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	if sel.Subject != "" || sel.Container != "" || sel.Choose {
		return nil, &SelectorError{Message: "provider backend selects certificates by thumbprint only"}
	}

	thumbprint, err := b.resolveThumbprint(sel)
	if err != nil {
		return b.recoverFault(ctx, document, NormalizeThumbprint(sel.Thumbprint), err)
	}

	b.logger.Info("signing through native provider")

	signature, err := b.client.Sign(document, thumbprint, true)
	if err != nil {
		return b.recoverFault(ctx, document, thumbprint, err)
	}
	return signature, nil
}

// resolveThumbprint validates an explicit thumbprint against the store or
// picks the best available certificate.
func (b *NativeProviderBackend) resolveThumbprint(sel CertificateSelector) (string, error) {
	certs, err := b.ListCertificates()
	if err != nil {
		return "", err
	}

	if sel.Thumbprint != "" {
		want := NormalizeThumbprint(sel.Thumbprint)
		for _, cert := range certs {
			if NormalizeThumbprint(cert.Thumbprint) != want {
				continue
			}
			if !cert.HasPrivateKey {
				return "", &ProviderError{Hint: hintNoPrivateKey, Err: ErrNoPrivateKeyAccess}
			}
			return want, nil
		}
		return "", &ProviderError{
			Hint: fmt.Sprintf("Сертификат с отпечатком %s не найден в хранилище", want),
			Err:  ErrCertificateNotFound,
		}
	}

	if len(certs) == 0 {
		return "", &ProviderError{Hint: hintNoSuitableCert, Err: ErrCertificateNotFound}
	}
	for _, cert := range certs {
		if cert.HasPrivateKey && cert.IsValid {
			return NormalizeThumbprint(cert.Thumbprint), nil
		}
	}
	return NormalizeThumbprint(certs[0].Thumbprint), nil
}

// recoverFault classifies the provider fault and retries through the
// fallback backend when the fault allows it. The provider diagnostic
// stays on the returned error when the retry also fails.
func (b *NativeProviderBackend) recoverFault(ctx context.Context, document []byte, thumbprint string, cause error) ([]byte, error) {
	fault := classifyProviderFault(cause)
	b.logger.Error("native provider signing failed",
		zap.String("hint", fault.Hint),
		zap.Bool("recoverable", fault.Recoverable),
		zap.Error(fault.Err))

	if !fault.Recoverable || b.fallback == nil || thumbprint == "" {
		return nil, fault
	}

	b.logger.Info("retrying through fallback backend", zap.String("backend", b.fallback.Name()))
	signature, err := b.fallback.Sign(ctx, document, CertificateSelector{Thumbprint: thumbprint})
	if err != nil {
		return nil, fmt.Errorf("fallback signing failed after provider fault: %v (provider: %w)", err, fault)
	}
	return signature, nil
}
