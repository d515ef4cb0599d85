package cli

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/belogpt/ecp/logging"
	"github.com/belogpt/ecp/sign/signers"
)

// BrowserSignOptions contains options for the browser-sign command.
type BrowserSignOptions struct {
	Config    string
	Name      string
	Timeout   int
	NoOpen    bool
	Output    string
	OutputDir string
}

// BrowserSignCommand implements the 'browser-sign' command.
func BrowserSignCommand(args []string) {
	browserFlags := flag.NewFlagSet("browser-sign", flag.ExitOnError)

	var opts BrowserSignOptions

	browserFlags.StringVar(&opts.Config, "config", "", "Path to the YAML configuration file")
	browserFlags.StringVar(&opts.Name, "name", "", "Document name shown on the signing page")
	browserFlags.IntVar(&opts.Timeout, "timeout", 0, "Seconds to wait for the signature (0 uses the config value)")
	browserFlags.BoolVar(&opts.NoOpen, "no-open", false, "Print the signing page address instead of launching a browser")
	browserFlags.StringVar(&opts.Output, "out", "", "Output file for the detached signature")
	browserFlags.StringVar(&opts.OutputDir, "out-dir", "", "Directory for the default signature file name")

	browserFlags.Usage = func() {
		fmt.Printf("Usage: %s browser-sign [options] <document>\n\n", os.Args[0])
		fmt.Println("Sign a document through the CryptoPro browser plugin. The command")
		fmt.Println("serves a local signing page, waits for the plugin to post the")
		fmt.Println("signature back and writes it next to the document.")
		fmt.Println("")
		fmt.Println("Arguments:")
		fmt.Println("  document  File to sign")
		fmt.Println("")
		fmt.Println("Options:")
		browserFlags.PrintDefaults()
		fmt.Println("")
		fmt.Println("Examples:")
		fmt.Printf("  %s browser-sign договор.pdf\n", os.Args[0])
		fmt.Printf("  %s browser-sign -timeout 600 -no-open договор.pdf\n", os.Args[0])
	}

	if err := browserFlags.Parse(args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(1)
	}

	if len(browserFlags.Args()) < 1 {
		browserFlags.Usage()
		osExit(1)
	}

	documentPath := browserFlags.Arg(0)

	target, err := browserSignDocument(documentPath, &opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}

	fmt.Printf("Signature written to: %s\n", target)
}

// browserSignDocument runs the loopback signing session for the document
// and returns the path of the written signature file.
func browserSignDocument(documentPath string, opts *BrowserSignOptions) (string, error) {
	cfg, err := loadAppConfig(opts.Config)
	if err != nil {
		return "", err
	}
	if opts.Timeout > 0 {
		cfg.Browser.TimeoutSeconds = opts.Timeout
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	logger, err := logging.New(*cfg.Logging)
	if err != nil {
		return "", err
	}
	defer logger.Sync()

	backend := signers.NewRemoteBrowserBackend(func(url string) error {
		fmt.Printf("Signing page: %s\n", url)
		if opts.NoOpen {
			return nil
		}
		return openBrowser(url)
	}, logger)
	backend.DocumentName = opts.Name
	if backend.DocumentName == "" {
		backend.DocumentName = filepath.Base(documentPath)
	}
	backend.Timeout = cfg.Browser.Timeout()
	backend.PageLog = cfg.Browser.PageLogEnabled()

	ctx, stop := signalContext()
	defer stop()

	if opts.Output == "" {
		return signers.SignDocumentFile(ctx, backend, documentPath, opts.OutputDir, signers.CertificateSelector{})
	}

	document, err := os.ReadFile(documentPath)
	if err != nil {
		return "", fmt.Errorf("failed to read document %s: %w", documentPath, err)
	}
	signature, err := backend.Sign(ctx, document, signers.CertificateSelector{})
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(opts.Output, signature, 0644); err != nil {
		return "", fmt.Errorf("failed to write signature file %s: %w", opts.Output, err)
	}
	return opts.Output, nil
}

// openBrowser launches the default browser for the URL.
func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "darwin":
		cmd = exec.Command("open", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
