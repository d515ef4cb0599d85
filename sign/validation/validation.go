// Package validation verifies detached CMS signatures against the signed
// document and reports the signer certificate details.
package validation

import (
	"bytes"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/belogpt/ecp/keys"
	"github.com/belogpt/ecp/sign/cms"
	"github.com/belogpt/ecp/sign/digest"
)

// Unresolved is the placeholder for result fields that could not be
// determined.
const Unresolved = "не удалось определить"

// Date layouts used in verification results.
const (
	dateLayout     = "02.01.2006"
	dateTimeLayout = "02.01.2006 15:04"
)

// Status texts shown to the user.
const (
	detailValid           = "действительна"
	detailMismatch        = "не соответствует документу"
	detailExpired         = "срок сертификата истёк"
	detailNoDigestAttr    = "не удалось проверить подпись (нет атрибута messageDigest)"
	detailGOSTUnavailable = "не удалось проверить подпись (алгоритм ГОСТ не поддерживается)"
	detailUnknownDigest   = "не удалось проверить подпись (неизвестный алгоритм хеширования)"
	detailBadContainer    = "ошибка проверки: неподдерживаемый формат файла подписи (ожидается CMS/PKCS#7)"
)

// Status represents the signature verification outcome.
type Status int

const (
	StatusUnknown Status = iota
	StatusValid
	StatusMismatch
	StatusExpired
	StatusCannotVerify
	StatusError
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusValid:
		return "VALID"
	case StatusMismatch:
		return "MISMATCH"
	case StatusExpired:
		return "EXPIRED"
	case StatusCannotVerify:
		return "CANNOT_VERIFY"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// VerificationResult contains the rendered outcome of a verification.
// String fields hold either the resolved value or Unresolved, never "".
type VerificationResult struct {
	Serial      string
	Subject     string
	Issuer      string
	ValidFrom   string
	ValidTo     string
	SigningTime string

	Status Status
	Detail string
}

func newResult() VerificationResult {
	return VerificationResult{
		Serial:      Unresolved,
		Subject:     Unresolved,
		Issuer:      Unresolved,
		ValidFrom:   Unresolved,
		ValidTo:     Unresolved,
		SigningTime: Unresolved,
		Status:      StatusUnknown,
		Detail:      Unresolved,
	}
}

// Verifier checks detached signatures and renders certificate details.
type Verifier struct {
	logger *zap.Logger
}

// NewVerifier returns a Verifier. A nil logger disables logging.
func NewVerifier(logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{logger: logger}
}

// Verify checks the first signer of the container against the document.
//
// The certificate used for the rendered fields is the override when given,
// otherwise the first certificate embedded in the container. Without any
// certificate the digest comparison still runs and the certificate fields
// stay unresolved.
//
// The status is derived in fixed order: a missing messageDigest attribute
// or digest algorithm wins over everything, then an unsupported algorithm,
// then a digest mismatch, then an expired validity period.
func (v *Verifier) Verify(doc io.Reader, container *cms.SignatureContainer, override *x509.Certificate, now time.Time) VerificationResult {
	result := newResult()

	if container == nil || len(container.Signers) == 0 {
		result.Status = StatusError
		result.Detail = "ошибка проверки: " + cms.ErrNoSigners.Error()
		return result
	}
	signer := container.Signers[0]

	if signer.SigningTime != nil {
		result.SigningTime = signer.SigningTime.UTC().Format(dateTimeLayout)
	}

	cert := override
	if cert == nil && len(container.Certificates) > 0 {
		cert = container.Certificates[0]
	}
	if cert != nil {
		result.Serial = formatSerial(cert.SerialNumber)
		result.Subject = commonName(cert)
		result.Issuer = cert.Issuer.String()
		result.ValidFrom = cert.NotBefore.UTC().Format(dateLayout)
		result.ValidTo = cert.NotAfter.UTC().Format(dateLayout)
	} else {
		v.logger.Warn("no certificate found in container or override")
	}

	identifier := signer.DigestIdentifier()
	if len(signer.MessageDigest) == 0 || identifier == "" {
		result.Status = StatusCannotVerify
		result.Detail = detailNoDigestAttr
		return result
	}

	alg, err := digest.Resolve(identifier)
	if err != nil {
		var unsupported *digest.UnsupportedAlgorithmError
		if errors.As(err, &unsupported) && unsupported.National {
			result.Detail = detailGOSTUnavailable
		} else {
			result.Detail = detailUnknownDigest
		}
		result.Status = StatusCannotVerify
		v.logger.Warn("cannot resolve digest algorithm", zap.String("identifier", identifier))
		return result
	}

	computed, err := alg.Sum(doc)
	if err != nil {
		result.Status = StatusError
		result.Detail = fmt.Sprintf("ошибка проверки: %v", err)
		return result
	}

	if !bytes.Equal(computed, signer.MessageDigest) {
		result.Status = StatusMismatch
		result.Detail = detailMismatch
		return result
	}

	if cert != nil {
		nowUTC := now.UTC()
		if nowUTC.Before(cert.NotBefore) || nowUTC.After(cert.NotAfter) {
			result.Status = StatusExpired
			result.Detail = detailExpired
			return result
		}
	}

	result.Status = StatusValid
	result.Detail = detailValid
	return result
}

// VerifyFiles verifies the signature file against the document file. It
// never returns an error: every failure folds into the result so batch
// verification does not abort.
//
// certPath optionally names an external certificate; an empty or missing
// path falls back to the certificate embedded in the container.
func (v *Verifier) VerifyFiles(documentPath, signaturePath, certPath string) VerificationResult {
	v.logger.Info("verifying signature",
		zap.String("document", documentPath),
		zap.String("signature", signaturePath),
		zap.String("certificate", certPath))

	raw, err := os.ReadFile(signaturePath)
	if err != nil {
		return v.errorResult(fmt.Errorf("failed to read signature file: %w", err))
	}

	container, err := cms.Parse(raw)
	if err != nil {
		var formatErr *cms.FormatError
		if errors.As(err, &formatErr) {
			v.logger.Error("signature file is not a CMS container", zap.Error(err))
			result := newResult()
			result.Status = StatusError
			result.Detail = detailBadContainer
			return result
		}
		return v.errorResult(err)
	}

	var override *x509.Certificate
	if certPath != "" {
		if _, statErr := os.Stat(certPath); statErr == nil {
			certs, loadErr := keys.LoadCertificates(certPath)
			if loadErr != nil {
				return v.errorResult(fmt.Errorf("failed to load certificate %s: %w", certPath, loadErr))
			}
			override = certs[0]
		} else {
			v.logger.Debug("certificate file not found, using embedded certificate",
				zap.String("path", certPath))
		}
	}

	doc, err := os.Open(documentPath)
	if err != nil {
		return v.errorResult(fmt.Errorf("failed to open document: %w", err))
	}
	defer doc.Close()

	result := v.Verify(doc, container, override, time.Now())
	v.logger.Info("signature verification finished",
		zap.String("status", result.Status.String()),
		zap.String("detail", result.Detail))
	return result
}

func (v *Verifier) errorResult(err error) VerificationResult {
	v.logger.Error("signature verification failed", zap.Error(err))
	result := newResult()
	result.Status = StatusError
	result.Detail = fmt.Sprintf("ошибка проверки: %v", err)
	return result
}

// formatSerial renders a certificate serial as uppercase hex pairs
// separated by spaces, left-padded to an even number of digits.
func formatSerial(serial *big.Int) string {
	hexStr := strings.ToUpper(serial.Text(16))
	if len(hexStr)%2 == 1 {
		hexStr = "0" + hexStr
	}
	var b strings.Builder
	for i := 0; i < len(hexStr); i += 2 {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(hexStr[i : i+2])
	}
	return b.String()
}

// commonName extracts the CN from the certificate subject, falling back
// to the full subject string.
func commonName(cert *x509.Certificate) string {
	if cn := cert.Subject.CommonName; cn != "" {
		return cn
	}
	if s := cert.Subject.String(); s != "" {
		return s
	}
	return Unresolved
}
