package signers

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"

	pkcs11 "github.com/miekg/pkcs11"
	"go.uber.org/zap"

	"github.com/belogpt/ecp/keys"
	"github.com/belogpt/ecp/sign/cms"
)

// PKCS#11 related errors
var (
	ErrTokenModuleLoad = errors.New("failed to load PKCS#11 module")
	ErrTokenNotFound   = errors.New("no PKCS#11 token found")
	ErrTokenAmbiguous  = errors.New("multiple PKCS#11 tokens found, specify a slot or token label")
	ErrTokenNoKey      = errors.New("no matching private key found on token")
	ErrTokenLogin      = errors.New("PKCS#11 login failed")
)

// HardwareTokenBackend signs on a PKCS#11 token. The private key never
// leaves the token: the signed attributes are handed to the token for the
// CKM_SHA256_RSA_PKCS operation and the returned signature is assembled
// into the container locally.
type HardwareTokenBackend struct {
	ModulePath string
	TokenLabel string
	Slot       *int
	PIN        string
	KeyLabel   string
	CertFile   string

	logger *zap.Logger
}

// NewHardwareTokenBackend creates a backend for the PKCS#11 module at
// modulePath. The token is chosen by label, by slot index, or, when
// neither is set, as the sole present token.
func NewHardwareTokenBackend(modulePath string, logger *zap.Logger) *HardwareTokenBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HardwareTokenBackend{
		ModulePath: modulePath,
		logger:     logger,
	}
}

// Name implements Backend.
func (b *HardwareTokenBackend) Name() string { return "pkcs11" }

// Sign implements Backend. The certificate selector is ignored: the
// signing identity comes from the token (or the CertFile override).
func (b *HardwareTokenBackend) Sign(ctx context.Context, document []byte, _ CertificateSelector) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	session, err := b.openSession()
	if err != nil {
		return nil, err
	}
	defer session.Close()

	cert, err := b.resolveCertificate(session)
	if err != nil {
		return nil, err
	}

	keyHandle, err := b.findPrivateKey(session)
	if err != nil {
		return nil, err
	}

	b.logger.Info("signing on PKCS#11 token",
		zap.String("module", b.ModulePath),
		zap.String("subject", cert.Subject.String()))

	builder := cms.NewBuilder(cert, nil, cms.SHA256WithRSA)

	_, signedAttrsBytes, err := builder.SignedAttributesForSigning(document)
	if err != nil {
		return nil, err
	}

	mechanism := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_SHA256_RSA_PKCS, nil)}
	if err := session.ctx.SignInit(session.handle, mechanism, keyHandle); err != nil {
		return nil, fmt.Errorf("SignInit failed: %w", err)
	}
	signature, err := session.ctx.Sign(session.handle, signedAttrsBytes)
	if err != nil {
		return nil, fmt.Errorf("token signing failed: %w", err)
	}

	builder.SetPrecomputedSignature(signature)
	return builder.Sign(document)
}

// tokenSession wraps an open PKCS#11 session.
type tokenSession struct {
	ctx    *pkcs11.Ctx
	handle pkcs11.SessionHandle
	slotID uint
}

// Close closes the session and unloads the module.
func (s *tokenSession) Close() error {
	if s.ctx == nil {
		return nil
	}
	err := s.ctx.CloseSession(s.handle)
	s.ctx.Finalize()
	s.ctx.Destroy()
	return err
}

// openSession loads the module, picks the token and logs in.
func (b *HardwareTokenBackend) openSession() (*tokenSession, error) {
	p := pkcs11.New(b.ModulePath)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrTokenModuleLoad, b.ModulePath)
	}

	if err := p.Initialize(); err != nil {
		p.Destroy()
		return nil, fmt.Errorf("PKCS#11 initialize failed: %w", err)
	}

	cleanup := func() {
		p.Finalize()
		p.Destroy()
	}

	slots, err := p.GetSlotList(true)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to list slots: %w", err)
	}

	slotID, err := b.pickSlot(p, slots)
	if err != nil {
		cleanup()
		return nil, err
	}

	handle, err := p.OpenSession(slotID, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	if b.PIN != "" {
		if err := p.Login(handle, pkcs11.CKU_USER, b.PIN); err != nil {
			p.CloseSession(handle)
			cleanup()
			return nil, fmt.Errorf("%w: %v", ErrTokenLogin, err)
		}
	}

	return &tokenSession{ctx: p, handle: handle, slotID: slotID}, nil
}

// pickSlot selects the slot by token label, slot index, or as the sole
// present token.
func (b *HardwareTokenBackend) pickSlot(p *pkcs11.Ctx, slots []uint) (uint, error) {
	if len(slots) == 0 {
		return 0, ErrTokenNotFound
	}

	if b.TokenLabel != "" {
		for _, slot := range slots {
			info, err := p.GetTokenInfo(slot)
			if err != nil {
				continue
			}
			if trimPKCS11String(info.Label) == b.TokenLabel {
				return slot, nil
			}
		}
		return 0, fmt.Errorf("%w: no token labeled %q", ErrTokenNotFound, b.TokenLabel)
	}

	if b.Slot != nil {
		if *b.Slot < 0 || *b.Slot >= len(slots) {
			return 0, fmt.Errorf("%w: slot %d not present (%d slots available)",
				ErrTokenNotFound, *b.Slot, len(slots))
		}
		return slots[*b.Slot], nil
	}

	if len(slots) > 1 {
		return 0, ErrTokenAmbiguous
	}
	return slots[0], nil
}

// resolveCertificate loads the signing certificate from the override file
// when configured, otherwise takes the first certificate object on the
// token.
func (b *HardwareTokenBackend) resolveCertificate(session *tokenSession) (*x509.Certificate, error) {
	if b.CertFile != "" {
		cert, err := keys.LoadCertificate(b.CertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load certificate file: %w", err)
		}
		return cert, nil
	}

	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_CERTIFICATE),
	}
	if err := session.ctx.FindObjectsInit(session.handle, template); err != nil {
		return nil, fmt.Errorf("FindObjectsInit failed: %w", err)
	}
	defer session.ctx.FindObjectsFinal(session.handle)

	objs, _, err := session.ctx.FindObjects(session.handle, 10)
	if err != nil {
		return nil, fmt.Errorf("FindObjects failed: %w", err)
	}
	if len(objs) == 0 {
		return nil, fmt.Errorf("%w: no certificate object on token, provide a certificate file", ErrCertificateNotFound)
	}

	attrs, err := session.ctx.GetAttributeValue(session.handle, objs[0], []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_VALUE, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("GetAttributeValue failed: %w", err)
	}
	if len(attrs) == 0 || len(attrs[0].Value) == 0 {
		return nil, fmt.Errorf("certificate object has no value")
	}

	cert, err := x509.ParseCertificate(attrs[0].Value)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token certificate: %w", err)
	}
	return cert, nil
}

// findPrivateKey locates the signing key, optionally filtered by label.
func (b *HardwareTokenBackend) findPrivateKey(session *tokenSession) (pkcs11.ObjectHandle, error) {
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_SIGN, true),
	}
	if b.KeyLabel != "" {
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_LABEL, b.KeyLabel))
	}

	if err := session.ctx.FindObjectsInit(session.handle, template); err != nil {
		return 0, fmt.Errorf("FindObjectsInit failed: %w", err)
	}
	defer session.ctx.FindObjectsFinal(session.handle)

	objs, _, err := session.ctx.FindObjects(session.handle, 10)
	if err != nil {
		return 0, fmt.Errorf("FindObjects failed: %w", err)
	}
	if len(objs) == 0 {
		return 0, fmt.Errorf("%w: label=%q", ErrTokenNoKey, b.KeyLabel)
	}
	return objs[0], nil
}

// trimPKCS11String trims the trailing spaces PKCS#11 pads fixed-size
// fields with.
func trimPKCS11String(s string) string {
	for len(s) > 0 && s[len(s)-1] == ' ' {
		s = s[:len(s)-1]
	}
	return s
}
