package config

import (
	"errors"
	"testing"
)

func TestPKCS11ConfigValidate(t *testing.T) {
	slot := 0
	negative := -2

	tests := []struct {
		name      string
		config    PKCS11Config
		wantField string
	}{
		{
			name:   "module path only",
			config: PKCS11Config{ModulePath: "/usr/lib/librtpkcs11ecp.so"},
		},
		{
			name: "full",
			config: PKCS11Config{
				ModulePath: "/usr/lib/librtpkcs11ecp.so",
				TokenLabel: "Rutoken",
				SlotNo:     &slot,
				UserPIN:    "12345678",
				KeyLabel:   "signer",
				CertFile:   "/etc/ecp/signer.crt",
			},
		},
		{
			name:      "missing module path",
			config:    PKCS11Config{TokenLabel: "Rutoken"},
			wantField: "module-path",
		},
		{
			name:      "negative slot",
			config:    PKCS11Config{ModulePath: "/usr/lib/librtpkcs11ecp.so", SlotNo: &negative},
			wantField: "slot-no",
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

func TestPKCS11ConfigYAML(t *testing.T) {
	yamlData := `
backend: pkcs11
pkcs11:
  module-path: /usr/lib/opensc-pkcs11.so
  slot-no: 0
  key-label: signer
`
	cfg, err := Parse([]byte(yamlData))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.PKCS11 == nil {
		t.Fatal("Expected pkcs11 section")
	}
	if cfg.PKCS11.SlotNo == nil || *cfg.PKCS11.SlotNo != 0 {
		t.Errorf("Expected slot 0, got %v", cfg.PKCS11.SlotNo)
	}
	if cfg.PKCS11.KeyLabel != "signer" {
		t.Errorf("Expected key label 'signer', got '%s'", cfg.PKCS11.KeyLabel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}
