package signers

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/belogpt/ecp/keys"
	"github.com/belogpt/ecp/sign/cms"
)

// LocalKeyFileBackend signs with a certificate and private key loaded from
// files. The signing identity is fixed by the files, so the certificate
// selector is ignored.
type LocalKeyFileBackend struct {
	CertFile   string
	KeyFile    string
	Passphrase []byte

	logger *zap.Logger
}

// NewLocalKeyFileBackend creates a backend signing with the given
// certificate and key files. CertFile may name a PKCS#12 bundle, in which
// case KeyFile is ignored.
func NewLocalKeyFileBackend(certFile, keyFile string, passphrase []byte, logger *zap.Logger) *LocalKeyFileBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalKeyFileBackend{
		CertFile:   certFile,
		KeyFile:    keyFile,
		Passphrase: passphrase,
		logger:     logger,
	}
}

// Name implements Backend.
func (b *LocalKeyFileBackend) Name() string { return "keyfile" }

// Sign implements Backend.
func (b *LocalKeyFileBackend) Sign(ctx context.Context, document []byte, _ CertificateSelector) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cred, err := keys.LoadSigningCredential(b.CertFile, b.KeyFile, b.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing credential: %w", err)
	}

	b.logger.Info("signing with key file",
		zap.String("certificate", b.CertFile),
		zap.String("subject", cred.Certificate.Subject.String()))

	alg := cms.SHA256WithRSA
	if _, ok := cred.PrivateKey.(*ecdsa.PrivateKey); ok {
		alg = cms.SHA256WithECDSA
	}

	builder := cms.NewBuilder(cred.Certificate, cred.PrivateKey, alg)
	builder.SetCertificateChain(cred.CACerts)
	builder.SetSigningTime(time.Now().UTC())

	signature, err := builder.Sign(document)
	if err != nil {
		return nil, fmt.Errorf("failed to build signature: %w", err)
	}

	return signature, nil
}
