package signers

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/belogpt/ecp/browser"
)

// RemoteBrowserBackend signs through the CryptoPro browser plugin. Sign
// runs a loopback signing session: it starts the session server, hands
// the page URL to the configured opener and waits for the page to post
// the signature back. The certificate is chosen by the user on the
// signing page, so the selector is ignored.
type RemoteBrowserBackend struct {
	// DocumentName is shown on the signing page. Defaults to "документ".
	DocumentName string
	// Timeout bounds the wait for the page result; zero selects the
	// session default.
	Timeout time.Duration
	// PageLog mirrors session log entries onto the signing page.
	PageLog bool
	// OpenURL delivers the signing page address to the user, normally
	// by launching a browser. When nil the URL is only logged.
	OpenURL func(url string) error

	logger *zap.Logger
}

// NewRemoteBrowserBackend creates the backend. openURL receives the
// signing page URL once the session is listening; pass nil to just log
// the URL.
func NewRemoteBrowserBackend(openURL func(url string) error, logger *zap.Logger) *RemoteBrowserBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RemoteBrowserBackend{
		PageLog: true,
		OpenURL: openURL,
		logger:  logger,
	}
}

// Name implements Backend.
func (b *RemoteBrowserBackend) Name() string { return "browser" }

// Sign implements Backend.
func (b *RemoteBrowserBackend) Sign(ctx context.Context, document []byte, _ CertificateSelector) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := b.DocumentName
	if name == "" {
		name = "документ"
	}

	session := browser.NewSession(name, document, b.logger)
	session.PageLog = b.PageLog
	if err := session.Start(); err != nil {
		return nil, err
	}
	defer session.Stop()

	url, err := session.URL()
	if err != nil {
		return nil, err
	}
	b.logger.Info("browser signing page ready", zap.String("url", url))
	if b.OpenURL != nil {
		if err := b.OpenURL(url); err != nil {
			return nil, fmt.Errorf("failed to open signing page: %w", err)
		}
	}

	result, err := session.Wait(ctx, b.Timeout)
	if err != nil {
		return nil, err
	}
	return result.Signature, nil
}
