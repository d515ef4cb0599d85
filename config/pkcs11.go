package config

// PKCS11Config contains configuration for signing with a PKCS#11 hardware
// token.
type PKCS11Config struct {
	// ModulePath is the path to the PKCS#11 module shared object
	// (.so/.dylib/.dll).
	ModulePath string `yaml:"module-path" json:"module_path"`

	// TokenLabel selects the token by label. When empty and SlotNo is
	// unset, the sole present token is used.
	TokenLabel string `yaml:"token-label" json:"token_label,omitempty"`

	// SlotNo selects the token by slot number.
	SlotNo *int `yaml:"slot-no" json:"slot_no,omitempty"`

	// UserPIN is the user PIN for the token session.
	UserPIN string `yaml:"user-pin" json:"user_pin,omitempty"`

	// KeyLabel filters the private key objects by CKA_LABEL.
	KeyLabel string `yaml:"key-label" json:"key_label,omitempty"`

	// CertFile overrides the signer certificate with one loaded from file
	// instead of the token.
	CertFile string `yaml:"cert-file" json:"cert_file,omitempty"`
}

// Validate validates the PKCS#11 configuration.
func (c *PKCS11Config) Validate() error {
	if c.ModulePath == "" {
		return NewConfigError("module-path", "PKCS#11 module path is required")
	}
	if c.SlotNo != nil && *c.SlotNo < 0 {
		return NewConfigError("slot-no", "must not be negative")
	}
	return nil
}
