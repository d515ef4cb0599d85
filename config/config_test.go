package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewConfigError(t *testing.T) {
	err := NewConfigError("field", "message")
	if err.Field != "field" {
		t.Errorf("Expected field 'field', got '%s'", err.Field)
	}
	if err.Message != "message" {
		t.Errorf("Expected message 'message', got '%s'", err.Message)
	}

	expected := "config error in 'field': message"
	if err.Error() != expected {
		t.Errorf("Expected '%s', got '%s'", expected, err.Error())
	}
}

func TestConfigErrorWithoutField(t *testing.T) {
	err := NewConfigError("", "general error")
	expected := "config error: general error"
	if err.Error() != expected {
		t.Errorf("Expected '%s', got '%s'", expected, err.Error())
	}
}

func TestParseFullConfig(t *testing.T) {
	yamlData := `
backend: provider
key-file:
  cert-file: /etc/ecp/signer.crt
  key-file: /etc/ecp/signer.key
  passphrase: secret
pkcs11:
  module-path: /usr/lib/librtpkcs11ecp.so
  token-label: Rutoken
  slot-no: 1
  user-pin: "12345678"
provider:
  thumbprint: a1b2c3
  tool-fallback: false
tool:
  path: /opt/cprocsp/bin/cryptcp
  subject: Иванов
  code-page: cp1251
browser:
  timeout-seconds: 60
  page-log: false
logging:
  level: debug
  format: json
  output: /var/log/ecp.log
`
	cfg, err := Parse([]byte(yamlData))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Backend != BackendProvider {
		t.Errorf("Expected backend 'provider', got '%s'", cfg.Backend)
	}
	if cfg.KeyFile == nil || cfg.KeyFile.CertFile != "/etc/ecp/signer.crt" {
		t.Errorf("Unexpected key-file section: %+v", cfg.KeyFile)
	}
	if cfg.KeyFile.Passphrase != "secret" {
		t.Errorf("Expected passphrase 'secret', got '%s'", cfg.KeyFile.Passphrase)
	}
	if cfg.PKCS11 == nil || cfg.PKCS11.ModulePath != "/usr/lib/librtpkcs11ecp.so" {
		t.Errorf("Unexpected pkcs11 section: %+v", cfg.PKCS11)
	}
	if cfg.PKCS11.SlotNo == nil || *cfg.PKCS11.SlotNo != 1 {
		t.Errorf("Expected slot 1, got %v", cfg.PKCS11.SlotNo)
	}
	if cfg.Provider == nil || cfg.Provider.Thumbprint != "a1b2c3" {
		t.Errorf("Unexpected provider section: %+v", cfg.Provider)
	}
	if cfg.Provider.FallbackEnabled() {
		t.Error("Expected tool fallback disabled")
	}
	if cfg.Tool == nil || cfg.Tool.Subject != "Иванов" {
		t.Errorf("Unexpected tool section: %+v", cfg.Tool)
	}
	if cfg.Browser.TimeoutSeconds != 60 {
		t.Errorf("Expected timeout 60, got %d", cfg.Browser.TimeoutSeconds)
	}
	if cfg.Browser.PageLogEnabled() {
		t.Error("Expected page log disabled")
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Unexpected logging section: %+v", cfg.Logging)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("backend: browser\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Logging == nil {
		t.Fatal("Expected logging section to be filled in")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Expected default level 'info', got '%s'", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "console" {
		t.Errorf("Expected default format 'console', got '%s'", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stderr" {
		t.Errorf("Expected default output 'stderr', got '%s'", cfg.Logging.Output)
	}
	if cfg.Logging.MaxSizeMB != 50 || cfg.Logging.MaxBackups != 5 || cfg.Logging.MaxAgeDays != 30 {
		t.Errorf("Unexpected rotation defaults: %+v", cfg.Logging)
	}

	if cfg.Browser == nil {
		t.Fatal("Expected browser section to be filled in")
	}
	if cfg.Browser.TimeoutSeconds != 180 {
		t.Errorf("Expected default timeout 180, got %d", cfg.Browser.TimeoutSeconds)
	}
	if !cfg.Browser.PageLogEnabled() {
		t.Error("Expected page log enabled by default")
	}
}

func TestParseInvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("backend: [broken")); err == nil {
		t.Error("Expected error for invalid YAML")
	}
}

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "ecp.yaml")
	data := "backend: keyfile\nkey-file:\n  cert-file: signer.p12\n  passphrase: secret\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Backend != BackendKeyFile {
		t.Errorf("Expected backend 'keyfile', got '%s'", cfg.Backend)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestKeyFileConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		config    KeyFileConfig
		wantField string
	}{
		{
			name:   "cert and key pair",
			config: KeyFileConfig{CertFile: "a.crt", KeyFile: "a.key"},
		},
		{
			name:   "pkcs12 via cert-file extension",
			config: KeyFileConfig{CertFile: "bundle.PFX"},
		},
		{
			name:   "pfx-file alone",
			config: KeyFileConfig{PFXFile: "bundle.p12"},
		},
		{
			name:      "missing cert",
			config:    KeyFileConfig{KeyFile: "a.key"},
			wantField: "cert-file",
		},
		{
			name:      "missing key for plain cert",
			config:    KeyFileConfig{CertFile: "a.crt"},
			wantField: "key-file",
		},
		{
			name:      "pfx combined with cert",
			config:    KeyFileConfig{PFXFile: "bundle.p12", CertFile: "a.crt"},
			wantField: "pfx-file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate failed: %v", err)
				}
				return
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Expected ConfigError, got %v", err)
			}
			if cfgErr.Field != tt.wantField {
				t.Errorf("Expected field '%s', got '%s'", tt.wantField, cfgErr.Field)
			}
		})
	}
}

func TestKeyFileConfigCertPath(t *testing.T) {
	c := KeyFileConfig{CertFile: "a.crt", KeyFile: "a.key"}
	if c.CertPath() != "a.crt" {
		t.Errorf("Expected 'a.crt', got '%s'", c.CertPath())
	}
	c = KeyFileConfig{PFXFile: "bundle.p12"}
	if c.CertPath() != "bundle.p12" {
		t.Errorf("Expected 'bundle.p12', got '%s'", c.CertPath())
	}

	if got := (&KeyFileConfig{Passphrase: "pw"}).GetPassphraseBytes(); string(got) != "pw" {
		t.Errorf("Expected passphrase bytes 'pw', got '%s'", got)
	}
	if got := (&KeyFileConfig{}).GetPassphraseBytes(); got != nil {
		t.Errorf("Expected nil passphrase, got %v", got)
	}
}

func TestToolConfigValidate(t *testing.T) {
	valid := ToolConfig{Thumbprint: "abc", CodePage: "cp866"}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}

	conflicting := ToolConfig{Thumbprint: "abc", Subject: "Иванов"}
	if err := conflicting.Validate(); err == nil {
		t.Error("Expected error for conflicting selector fields")
	}

	badPage := ToolConfig{CodePage: "utf-16"}
	err := badPage.Validate()
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "code-page" {
		t.Errorf("Expected code-page ConfigError, got %v", err)
	}
}

func TestToolConfigSelector(t *testing.T) {
	c := ToolConfig{Subject: "Иванов"}
	sel := c.Selector()
	if sel.Subject != "Иванов" || sel.Thumbprint != "" || sel.Choose {
		t.Errorf("Unexpected selector: %+v", sel)
	}

	var nilTool *ToolConfig
	if !nilTool.Selector().IsEmpty() {
		t.Error("Expected empty selector from nil config")
	}
}

func TestBrowserConfigTimeout(t *testing.T) {
	c := &BrowserConfig{}
	c.SetDefaults()
	if c.Timeout() != 180*time.Second {
		t.Errorf("Expected 180s, got %v", c.Timeout())
	}

	c = &BrowserConfig{TimeoutSeconds: -1}
	if err := c.Validate(); err == nil {
		t.Error("Expected error for negative timeout")
	}

	var nilBrowser *BrowserConfig
	if nilBrowser.Timeout() != 0 {
		t.Errorf("Expected zero timeout from nil config, got %v", nilBrowser.Timeout())
	}
	if !nilBrowser.PageLogEnabled() {
		t.Error("Expected page log enabled from nil config")
	}
}

func TestProviderConfigFallback(t *testing.T) {
	var nilProvider *ProviderConfig
	if !nilProvider.FallbackEnabled() {
		t.Error("Expected fallback enabled from nil config")
	}

	enabled := true
	disabled := false
	if !(&ProviderConfig{ToolFallback: &enabled}).FallbackEnabled() {
		t.Error("Expected fallback enabled")
	}
	if (&ProviderConfig{ToolFallback: &disabled}).FallbackEnabled() {
		t.Error("Expected fallback disabled")
	}
}

func TestAppConfigValidate(t *testing.T) {
	cfg := &AppConfig{Backend: "smartcard"}
	err := cfg.Validate()
	if !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("Expected ErrUnknownBackend, got %v", err)
	}

	cfg = &AppConfig{Backend: BackendKeyFile}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for keyfile backend without key-file section")
	}

	cfg = &AppConfig{Backend: BackendPKCS11, PKCS11: &PKCS11Config{}}
	err = cfg.Validate()
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "module-path" {
		t.Errorf("Expected module-path ConfigError, got %v", err)
	}

	// Backend left empty: present sections are still validated.
	cfg = &AppConfig{Tool: &ToolConfig{Choose: true, Thumbprint: "abc"}}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for conflicting tool selector")
	}

	cfg = &AppConfig{}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed on empty config: %v", err)
	}
}
