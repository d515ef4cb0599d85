// Command ecp is a CLI tool for detached document signing and
// verification.
//
// Usage:
//
//	ecp <command> [options] <args>
//
// Commands:
//
//	sign          Sign a document with a detached CMS signature
//	verify        Verify a detached signature against a document
//	certs         List certificates in the system store
//	browser-sign  Sign a document through the browser plugin
//	version       Show version information
//	help          Show help message
//
// Examples:
//
//	# Sign a document with a key file
//	ecp sign -backend keyfile -cert signer.crt -key signer.key договор.pdf
//
//	# Sign with the backend from a config file
//	ecp sign -config ecp.yaml договор.pdf
//
//	# Verify a detached signature
//	ecp verify договор.pdf "договор_Файл подписи.p7s"
//
//	# Verify with JSON output
//	ecp verify -json договор.pdf
package main

import (
	"os"

	"github.com/belogpt/ecp/cli"

	// Make Streebog digests resolvable for verification.
	_ "github.com/belogpt/ecp/sign/digest/gost"
)

// These variables are set at build time using ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/ecp
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	// Set version info
	cli.Version = version
	cli.BuildTime = buildTime

	// Run the CLI
	cli.Run(os.Args)
}
