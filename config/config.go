// Package config defines the YAML configuration for the signing backends,
// the browser session and logging.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/belogpt/ecp/sign/signers"
)

// Common errors
var (
	ErrConfigurationError = errors.New("configuration error")
	ErrUnknownBackend     = errors.New("unknown signing backend")
)

// Backend identifiers accepted in the backend field and on the command
// line.
const (
	BackendKeyFile  = "keyfile"
	BackendPKCS11   = "pkcs11"
	BackendProvider = "provider"
	BackendTool     = "tool"
	BackendBrowser  = "browser"
)

// KnownBackends lists the accepted backend identifiers.
var KnownBackends = []string{
	BackendKeyFile,
	BackendPKCS11,
	BackendProvider,
	BackendTool,
	BackendBrowser,
}

// ConfigError represents a configuration error with context.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// KeyFileConfig contains configuration for signing with local key files.
type KeyFileConfig struct {
	// CertFile is the path to the certificate file (PEM or DER). A path
	// with a .p12/.pfx extension is treated as a PKCS#12 bundle and
	// KeyFile is ignored.
	CertFile string `yaml:"cert-file" json:"cert_file"`

	// KeyFile is the path to the private key file (PEM or DER).
	KeyFile string `yaml:"key-file" json:"key_file,omitempty"`

	// PFXFile is the path to a PKCS#12 bundle, as an alternative to the
	// cert-file/key-file pair.
	PFXFile string `yaml:"pfx-file" json:"pfx_file,omitempty"`

	// Passphrase decrypts the private key or the PKCS#12 bundle.
	Passphrase string `yaml:"passphrase" json:"passphrase,omitempty"`
}

// Validate validates the key file configuration.
func (c *KeyFileConfig) Validate() error {
	if c.PFXFile != "" {
		if c.CertFile != "" || c.KeyFile != "" {
			return NewConfigError("pfx-file", "cannot be combined with cert-file or key-file")
		}
		return nil
	}
	if c.CertFile == "" {
		return NewConfigError("cert-file", "required field is missing")
	}
	if c.KeyFile == "" && !isPKCS12Path(c.CertFile) {
		return NewConfigError("key-file", "required field is missing")
	}
	return nil
}

// CertPath returns the certificate path handed to the backend: the PKCS#12
// bundle when configured, the certificate file otherwise.
func (c *KeyFileConfig) CertPath() string {
	if c.PFXFile != "" {
		return c.PFXFile
	}
	return c.CertFile
}

// GetPassphraseBytes returns the passphrase as bytes.
func (c *KeyFileConfig) GetPassphraseBytes() []byte {
	if c.Passphrase == "" {
		return nil
	}
	return []byte(c.Passphrase)
}

func isPKCS12Path(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".p12", ".pfx":
		return true
	}
	return false
}

// ProviderConfig contains configuration for the platform cryptographic
// provider backend.
type ProviderConfig struct {
	// Thumbprint selects the store certificate by SHA-1 thumbprint. When
	// empty the best store certificate with a private key is used.
	Thumbprint string `yaml:"thumbprint" json:"thumbprint,omitempty"`

	// ToolFallback retries recoverable provider faults through the
	// external tool. Enabled unless set to false.
	ToolFallback *bool `yaml:"tool-fallback" json:"tool_fallback,omitempty"`
}

// FallbackEnabled reports whether recoverable provider faults fall back to
// the external tool.
func (c *ProviderConfig) FallbackEnabled() bool {
	return c == nil || c.ToolFallback == nil || *c.ToolFallback
}

// ToolConfig contains configuration for the external cryptcp tool.
type ToolConfig struct {
	// Path is the cryptcp executable. When empty the tool is searched on
	// PATH and in the default install locations.
	Path string `yaml:"path" json:"path,omitempty"`

	// Thumbprint selects the certificate by thumbprint.
	Thumbprint string `yaml:"thumbprint" json:"thumbprint,omitempty"`

	// Subject selects the certificate by subject substring.
	Subject string `yaml:"subject" json:"subject,omitempty"`

	// Container selects the certificate by key container name.
	Container string `yaml:"container" json:"container,omitempty"`

	// Choose delegates certificate selection to the tool's own picker.
	Choose bool `yaml:"choose" json:"choose,omitempty"`

	// DryRun logs the planned command without executing it.
	DryRun bool `yaml:"dry-run" json:"dry_run,omitempty"`

	// CodePage is the console code page of the tool's output, cp866 or
	// cp1251. Empty selects the platform default.
	CodePage string `yaml:"code-page" json:"code_page,omitempty"`
}

// Selector builds the certificate selector from the configured fields.
func (c *ToolConfig) Selector() signers.CertificateSelector {
	if c == nil {
		return signers.CertificateSelector{}
	}
	return signers.CertificateSelector{
		Thumbprint: c.Thumbprint,
		Subject:    c.Subject,
		Container:  c.Container,
		Choose:     c.Choose,
	}
}

// Validate validates the tool configuration.
func (c *ToolConfig) Validate() error {
	if err := c.Selector().Validate(); err != nil {
		return &ConfigError{Field: "tool", Message: err.Error(), Err: err}
	}
	switch c.CodePage {
	case "", "cp866", "cp1251":
	default:
		return NewConfigError("code-page", fmt.Sprintf("unsupported code page %q (must be cp866 or cp1251)", c.CodePage))
	}
	return nil
}

// BrowserConfig contains configuration for browser signing sessions.
type BrowserConfig struct {
	// TimeoutSeconds bounds the wait for the signing page result.
	TimeoutSeconds int `yaml:"timeout-seconds" json:"timeout_seconds,omitempty"`

	// PageLog mirrors session log entries onto the signing page. Enabled
	// unless set to false.
	PageLog *bool `yaml:"page-log" json:"page_log,omitempty"`
}

// SetDefaults sets default values for the browser configuration.
func (c *BrowserConfig) SetDefaults() {
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 180
	}
}

// Validate validates the browser configuration.
func (c *BrowserConfig) Validate() error {
	if c.TimeoutSeconds < 0 {
		return NewConfigError("timeout-seconds", "must not be negative")
	}
	return nil
}

// Timeout returns the configured wait timeout.
func (c *BrowserConfig) Timeout() time.Duration {
	if c == nil {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PageLogEnabled reports whether the signing page shows the session log.
func (c *BrowserConfig) PageLogEnabled() bool {
	return c == nil || c.PageLog == nil || *c.PageLog
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level" json:"level,omitempty"`

	// Format is the log format (console, json).
	Format string `yaml:"format" json:"format,omitempty"`

	// Output is the log output (stdout, stderr, or a file path).
	Output string `yaml:"output" json:"output,omitempty"`

	// MaxSizeMB is the size at which a log file is rotated.
	MaxSizeMB int `yaml:"max-size-mb" json:"max_size_mb,omitempty"`

	// MaxBackups is the number of rotated files to retain.
	MaxBackups int `yaml:"max-backups" json:"max_backups,omitempty"`

	// MaxAgeDays is the age limit for rotated files.
	MaxAgeDays int `yaml:"max-age-days" json:"max_age_days,omitempty"`

	// Compress gzips rotated files.
	Compress bool `yaml:"compress" json:"compress,omitempty"`
}

// SetDefaults sets default values for logging configuration.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "console"
	}
	if c.Output == "" {
		c.Output = "stderr"
	}
	if c.MaxSizeMB == 0 {
		c.MaxSizeMB = 50
	}
	if c.MaxBackups == 0 {
		c.MaxBackups = 5
	}
	if c.MaxAgeDays == 0 {
		c.MaxAgeDays = 30
	}
}

// AppConfig contains the complete application configuration.
type AppConfig struct {
	// Backend selects the signing backend for the sign command.
	Backend string `yaml:"backend" json:"backend,omitempty"`

	// KeyFile contains local key file signing configuration.
	KeyFile *KeyFileConfig `yaml:"key-file" json:"key_file,omitempty"`

	// PKCS11 contains hardware token signing configuration.
	PKCS11 *PKCS11Config `yaml:"pkcs11" json:"pkcs11,omitempty"`

	// Provider contains platform provider signing configuration.
	Provider *ProviderConfig `yaml:"provider" json:"provider,omitempty"`

	// Tool contains external tool signing configuration.
	Tool *ToolConfig `yaml:"tool" json:"tool,omitempty"`

	// Browser contains browser signing configuration.
	Browser *BrowserConfig `yaml:"browser" json:"browser,omitempty"`

	// Logging contains logging configuration.
	Logging *LoggingConfig `yaml:"logging" json:"logging,omitempty"`
}

// Load loads the application configuration from a YAML file.
func Load(filename string) (*AppConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses the application configuration from YAML data and fills in
// defaults.
func Parse(data []byte) (*AppConfig, error) {
	var config AppConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	config.SetDefaults()
	return &config, nil
}

// SetDefaults fills in defaults for the logging and browser sections.
func (c *AppConfig) SetDefaults() {
	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	c.Logging.SetDefaults()
	if c.Browser == nil {
		c.Browser = &BrowserConfig{}
	}
	c.Browser.SetDefaults()
}

// Validate validates the selected backend and every present section.
func (c *AppConfig) Validate() error {
	if c.Backend != "" && !knownBackend(c.Backend) {
		return &ConfigError{
			Field:   "backend",
			Message: fmt.Sprintf("unknown backend %q (must be one of %s)", c.Backend, strings.Join(KnownBackends, ", ")),
			Err:     ErrUnknownBackend,
		}
	}

	switch c.Backend {
	case BackendKeyFile:
		if c.KeyFile == nil {
			return NewConfigError("key-file", "section required for the keyfile backend")
		}
	case BackendPKCS11:
		if c.PKCS11 == nil {
			return NewConfigError("pkcs11", "section required for the pkcs11 backend")
		}
	}

	if c.KeyFile != nil {
		if err := c.KeyFile.Validate(); err != nil {
			return err
		}
	}
	if c.PKCS11 != nil {
		if err := c.PKCS11.Validate(); err != nil {
			return err
		}
	}
	if c.Tool != nil {
		if err := c.Tool.Validate(); err != nil {
			return err
		}
	}
	if c.Browser != nil {
		if err := c.Browser.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func knownBackend(name string) bool {
	for _, known := range KnownBackends {
		if name == known {
			return true
		}
	}
	return false
}
