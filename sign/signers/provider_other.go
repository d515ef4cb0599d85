//go:build !windows

package signers

import "go.uber.org/zap"

// stubProviderClient reports the native provider as unavailable.
// CAdESCOM automation only exists on Windows; the fault is recoverable so
// a configured tool fallback still serves these hosts.
type stubProviderClient struct{}

func defaultProviderClient(_ *zap.Logger) ProviderClient { return stubProviderClient{} }

func (stubProviderClient) ListCertificates() ([]StoreCertificate, error) {
	return nil, errProviderWindowsOnly()
}

func (stubProviderClient) Sign(_ []byte, _ string, _ bool) ([]byte, error) {
	return nil, errProviderWindowsOnly()
}

func errProviderWindowsOnly() error {
	return &ProviderError{
		Hint:        "Подпись через CAdESCOM доступна только в Windows",
		Recoverable: true,
		Err:         ErrProviderUnavailable,
	}
}
