package cli

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/belogpt/ecp/config"
	"github.com/belogpt/ecp/logging"
	"github.com/belogpt/ecp/sign/signers"
)

// SignOptions contains options for the sign command.
type SignOptions struct {
	Config     string
	Backend    string
	CertFile   string
	KeyFile    string
	Passphrase string
	Module     string
	TokenLabel string
	Slot       int
	PIN        string
	KeyLabel   string
	ToolPath   string
	DryRun     bool
	Thumbprint string
	Subject    string
	Container  string
	Choose     bool
	Output     string
	OutputDir  string
}

// SignCommand implements the 'sign' command.
func SignCommand(args []string) {
	signFlags := flag.NewFlagSet("sign", flag.ExitOnError)

	var opts SignOptions

	signFlags.StringVar(&opts.Config, "config", "", "Path to the YAML configuration file")
	signFlags.StringVar(&opts.Backend, "backend", "", "Signing backend: keyfile, pkcs11, provider, tool, browser")
	signFlags.StringVar(&opts.CertFile, "cert", "", "Signing certificate (PEM, DER or PKCS#12)")
	signFlags.StringVar(&opts.KeyFile, "key", "", "Private key for signing (PEM or DER)")
	signFlags.StringVar(&opts.Passphrase, "passphrase", "", "Passphrase for the private key or PKCS#12 file")
	signFlags.StringVar(&opts.Module, "module", "", "Path to the PKCS#11 module library")
	signFlags.StringVar(&opts.TokenLabel, "token-label", "", "PKCS#11 token label")
	signFlags.IntVar(&opts.Slot, "slot", -1, "PKCS#11 slot index")
	signFlags.StringVar(&opts.PIN, "pin", "", "PKCS#11 user PIN")
	signFlags.StringVar(&opts.KeyLabel, "key-label", "", "PKCS#11 private key label")
	signFlags.StringVar(&opts.ToolPath, "tool-path", "", "Path to the cryptcp executable")
	signFlags.BoolVar(&opts.DryRun, "dry-run", false, "Log the external tool command without executing it")
	signFlags.StringVar(&opts.Thumbprint, "thumbprint", "", "Certificate thumbprint")
	signFlags.StringVar(&opts.Subject, "subject", "", "Certificate subject substring")
	signFlags.StringVar(&opts.Container, "container", "", "Key container name")
	signFlags.BoolVar(&opts.Choose, "choose", false, "Let the external tool prompt for the certificate")
	signFlags.StringVar(&opts.Output, "out", "", "Output file for the detached signature")
	signFlags.StringVar(&opts.OutputDir, "out-dir", "", "Directory for the default signature file name")

	signFlags.Usage = func() {
		fmt.Printf("Usage: %s sign [options] <document>\n\n", os.Args[0])
		fmt.Println("Sign a document with a detached CMS signature.")
		fmt.Println("")
		fmt.Println("Arguments:")
		fmt.Println("  document  File to sign")
		fmt.Println("")
		fmt.Println("Options:")
		signFlags.PrintDefaults()
		fmt.Println("")
		fmt.Println("Examples:")
		fmt.Printf("  %s sign -backend keyfile -cert signer.crt -key signer.key договор.pdf\n", os.Args[0])
		fmt.Printf("  %s sign -backend keyfile -cert signer.pfx -passphrase secret договор.pdf\n", os.Args[0])
		fmt.Printf("  %s sign -backend pkcs11 -module /usr/lib/librtpkcs11ecp.so -pin 12345678 договор.pdf\n", os.Args[0])
		fmt.Printf("  %s sign -backend tool -thumbprint b91f8d726f9d4984a0bbc2b1cf999cf3eab65ddf договор.pdf\n", os.Args[0])
	}

	if err := signFlags.Parse(args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(1)
	}

	if len(signFlags.Args()) < 1 {
		signFlags.Usage()
		osExit(1)
	}

	documentPath := signFlags.Arg(0)

	target, err := signDocument(documentPath, &opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}

	fmt.Printf("Signature written to: %s\n", target)
}

// signDocument performs the actual signing and returns the path of the
// written signature file.
func signDocument(documentPath string, opts *SignOptions) (string, error) {
	cfg, err := loadAppConfig(opts.Config)
	if err != nil {
		return "", err
	}
	applySignFlags(cfg, opts)
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	logger, err := logging.New(*cfg.Logging)
	if err != nil {
		return "", err
	}
	defer logger.Sync()

	sel, err := resolveSelector(cfg, opts)
	if err != nil {
		return "", err
	}

	backend, err := buildBackend(cfg, filepath.Base(documentPath), logger)
	if err != nil {
		return "", err
	}

	ctx, stop := signalContext()
	defer stop()

	logger.Info("signing document",
		zap.String("document", documentPath),
		zap.String("backend", backend.Name()))

	if opts.Output == "" {
		return signers.SignDocumentFile(ctx, backend, documentPath, opts.OutputDir, sel)
	}

	document, err := os.ReadFile(documentPath)
	if err != nil {
		return "", fmt.Errorf("failed to read document %s: %w", documentPath, err)
	}
	signature, err := backend.Sign(ctx, document, sel)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(opts.Output, signature, 0644); err != nil {
		return "", fmt.Errorf("failed to write signature file %s: %w", opts.Output, err)
	}
	return opts.Output, nil
}

// applySignFlags overlays command-line flags onto the loaded configuration.
// Flags win over the file; config sections are created on demand.
func applySignFlags(cfg *config.AppConfig, opts *SignOptions) {
	if opts.Backend != "" {
		cfg.Backend = opts.Backend
	}

	if opts.CertFile != "" || opts.KeyFile != "" || opts.Passphrase != "" {
		if cfg.KeyFile == nil {
			cfg.KeyFile = &config.KeyFileConfig{}
		}
		if opts.CertFile != "" {
			cfg.KeyFile.CertFile = opts.CertFile
		}
		if opts.KeyFile != "" {
			cfg.KeyFile.KeyFile = opts.KeyFile
		}
		if opts.Passphrase != "" {
			cfg.KeyFile.Passphrase = opts.Passphrase
		}
	}

	if opts.Module != "" || opts.TokenLabel != "" || opts.Slot >= 0 || opts.PIN != "" || opts.KeyLabel != "" {
		if cfg.PKCS11 == nil {
			cfg.PKCS11 = &config.PKCS11Config{}
		}
		if opts.Module != "" {
			cfg.PKCS11.ModulePath = opts.Module
		}
		if opts.TokenLabel != "" {
			cfg.PKCS11.TokenLabel = opts.TokenLabel
		}
		if opts.Slot >= 0 {
			slot := opts.Slot
			cfg.PKCS11.SlotNo = &slot
		}
		if opts.PIN != "" {
			cfg.PKCS11.UserPIN = opts.PIN
		}
		if opts.KeyLabel != "" {
			cfg.PKCS11.KeyLabel = opts.KeyLabel
		}
	}

	if opts.ToolPath != "" || opts.DryRun {
		if cfg.Tool == nil {
			cfg.Tool = &config.ToolConfig{}
		}
		if opts.ToolPath != "" {
			cfg.Tool.Path = opts.ToolPath
		}
		if opts.DryRun {
			cfg.Tool.DryRun = true
		}
	}
}

// resolveSelector builds the certificate selector from command-line flags,
// falling back to the configuration of the active backend.
func resolveSelector(cfg *config.AppConfig, opts *SignOptions) (signers.CertificateSelector, error) {
	sel := signers.CertificateSelector{
		Thumbprint: opts.Thumbprint,
		Subject:    opts.Subject,
		Container:  opts.Container,
		Choose:     opts.Choose,
	}
	if sel.IsEmpty() {
		switch cfg.Backend {
		case config.BackendProvider:
			if cfg.Provider != nil {
				sel.Thumbprint = cfg.Provider.Thumbprint
			}
		case config.BackendTool:
			if cfg.Tool != nil {
				sel = cfg.Tool.Selector()
			}
		}
	}
	if err := sel.Validate(); err != nil {
		return signers.CertificateSelector{}, err
	}
	return sel, nil
}

// buildBackend constructs the signing backend selected in the configuration.
func buildBackend(cfg *config.AppConfig, documentName string, logger *zap.Logger) (signers.Backend, error) {
	switch cfg.Backend {
	case config.BackendKeyFile:
		kf := cfg.KeyFile
		return signers.NewLocalKeyFileBackend(kf.CertPath(), kf.KeyFile, kf.GetPassphraseBytes(), logger), nil

	case config.BackendPKCS11:
		b := signers.NewHardwareTokenBackend(cfg.PKCS11.ModulePath, logger)
		b.TokenLabel = cfg.PKCS11.TokenLabel
		b.Slot = cfg.PKCS11.SlotNo
		b.PIN = cfg.PKCS11.UserPIN
		b.KeyLabel = cfg.PKCS11.KeyLabel
		b.CertFile = cfg.PKCS11.CertFile
		return b, nil

	case config.BackendProvider:
		b := signers.NewNativeProviderBackend(nil, logger)
		if cfg.Provider.FallbackEnabled() {
			b.SetFallback(newToolBackend(cfg.Tool, logger))
		}
		return b, nil

	case config.BackendTool:
		return newToolBackend(cfg.Tool, logger), nil

	case config.BackendBrowser:
		b := signers.NewRemoteBrowserBackend(openBrowser, logger)
		b.DocumentName = documentName
		if cfg.Browser != nil {
			b.Timeout = cfg.Browser.Timeout()
			b.PageLog = cfg.Browser.PageLogEnabled()
		}
		return b, nil

	default:
		return nil, fmt.Errorf("no signing backend selected (use -backend or the config file)")
	}
}

// newToolBackend configures the cryptcp backend from its config section.
func newToolBackend(tc *config.ToolConfig, logger *zap.Logger) *signers.ExternalToolBackend {
	b := signers.NewExternalToolBackend(logger)
	if tc != nil {
		b.ToolPath = tc.Path
		b.DryRun = tc.DryRun
		b.CodePage = tc.CodePage
	}
	return b
}
