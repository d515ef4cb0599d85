// Package cli provides the command-line interface for detached document
// signing and verification.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/belogpt/ecp/config"
)

// Version information
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// osExit is a variable for os.Exit to allow testing
var osExit = os.Exit

// Run executes the CLI with the given arguments.
// This is the main entry point for the CLI.
func Run(args []string) {
	if len(args) < 2 {
		Usage()
		return
	}

	command := args[1]

	switch command {
	case "sign":
		SignCommand(args)
	case "verify":
		VerifyCommand(args)
	case "certs":
		CertsCommand(args)
	case "browser-sign":
		BrowserSignCommand(args)
	case "version":
		VersionCommand()
	case "help", "-h", "--help":
		Usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		Usage()
	}
}

// Usage prints the CLI usage information.
func Usage() {
	fmt.Printf("ecp - detached signature tool\n\n")
	fmt.Printf("Usage: %s <command> [options] <args>\n\n", os.Args[0])
	fmt.Println("Commands:")
	fmt.Println("  sign          Sign a document with a detached CMS signature")
	fmt.Println("  verify        Verify a detached signature against a document")
	fmt.Println("  certs         List certificates in the system store")
	fmt.Println("  browser-sign  Sign a document through the browser plugin")
	fmt.Println("  version       Show version information")
	fmt.Println("  help          Show this help message")
	fmt.Println("")
	fmt.Printf("Use '%s <command> -h' for command-specific help\n", os.Args[0])
	fmt.Println("")
	fmt.Println("Examples:")
	fmt.Printf("  %s sign -backend keyfile -cert signer.crt -key signer.key договор.pdf\n", os.Args[0])
	fmt.Printf("  %s sign -config ecp.yaml договор.pdf\n", os.Args[0])
	fmt.Printf("  %s verify договор.pdf \"договор_Файл подписи.p7s\"\n", os.Args[0])
}

// VersionCommand prints version information.
func VersionCommand() {
	fmt.Printf("ecp version %s\n", Version)
	fmt.Printf("Build time: %s\n", BuildTime)
}

// signalContext returns a context cancelled by an interrupt signal, so a
// pending signing operation stops cleanly on Ctrl-C.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// loadAppConfig reads the YAML configuration when a path is given and
// falls back to built-in defaults otherwise.
func loadAppConfig(path string) (*config.AppConfig, error) {
	if path == "" {
		cfg := &config.AppConfig{}
		cfg.SetDefaults()
		return cfg, nil
	}
	return config.Load(path)
}
