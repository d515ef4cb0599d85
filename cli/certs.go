package cli

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/belogpt/ecp/logging"
	"github.com/belogpt/ecp/sign/signers"
)

// CertsOptions contains options for the certs command.
type CertsOptions struct {
	Config string
	JSON   bool
}

// CertsCommand implements the 'certs' command.
func CertsCommand(args []string) {
	certsFlags := flag.NewFlagSet("certs", flag.ExitOnError)

	var opts CertsOptions

	certsFlags.StringVar(&opts.Config, "config", "", "Path to the YAML configuration file")
	certsFlags.BoolVar(&opts.JSON, "json", false, "Output results in JSON format")

	certsFlags.Usage = func() {
		fmt.Printf("Usage: %s certs [options]\n\n", os.Args[0])
		fmt.Println("List certificates in the system store, best signing candidates first.")
		fmt.Println("")
		fmt.Println("Options:")
		certsFlags.PrintDefaults()
		fmt.Println("")
		fmt.Println("Examples:")
		fmt.Printf("  %s certs\n", os.Args[0])
		fmt.Printf("  %s certs -json\n", os.Args[0])
	}

	if err := certsFlags.Parse(args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(1)
	}

	certs, err := listStoreCertificates(&opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}

	if opts.JSON {
		outputJSON(newCertsOutput(certs))
	} else {
		outputCertsText(certs)
	}
}

// CertsOutput is the complete store listing for JSON output.
type CertsOutput struct {
	Certificates []*StoreCertJSON `json:"certificates"`
}

// StoreCertJSON is a JSON-serializable store certificate entry.
type StoreCertJSON struct {
	SerialNumber  string `json:"serial_number"`
	Subject       string `json:"subject"`
	Issuer        string `json:"issuer"`
	NotBefore     string `json:"not_before"`
	NotAfter      string `json:"not_after"`
	Thumbprint    string `json:"thumbprint"`
	HasPrivateKey bool   `json:"has_private_key"`
	IsValid       bool   `json:"is_valid"`
}

// listStoreCertificates reads the system certificate store.
func listStoreCertificates(opts *CertsOptions) ([]signers.StoreCertificate, error) {
	cfg, err := loadAppConfig(opts.Config)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(*cfg.Logging)
	if err != nil {
		return nil, err
	}
	defer logger.Sync()

	return signers.NewNativeProviderBackend(nil, logger).ListCertificates()
}

// newCertsOutput converts store certificates for JSON output.
func newCertsOutput(certs []signers.StoreCertificate) *CertsOutput {
	output := &CertsOutput{Certificates: []*StoreCertJSON{}}
	for _, cert := range certs {
		output.Certificates = append(output.Certificates, &StoreCertJSON{
			SerialNumber:  cert.SerialNumber,
			Subject:       cert.Subject,
			Issuer:        cert.Issuer,
			NotBefore:     cert.NotBefore.Format(time.RFC3339),
			NotAfter:      cert.NotAfter.Format(time.RFC3339),
			Thumbprint:    cert.Thumbprint,
			HasPrivateKey: cert.HasPrivateKey,
			IsValid:       cert.IsValid,
		})
	}
	return output
}

// outputCertsText outputs the store listing in human-readable text format.
func outputCertsText(certs []signers.StoreCertificate) {
	fmt.Printf("Found %d certificate(s) in the store\n\n", len(certs))

	for i, cert := range certs {
		fmt.Printf("%d. %s\n", i+1, cert.CommonName())
		fmt.Printf("   Serial: %s\n", cert.SerialNumber)
		fmt.Printf("   Issuer: %s\n", cert.Issuer)
		fmt.Printf("   Valid: %s to %s\n", cert.NotBefore.Format("02.01.2006"), cert.NotAfter.Format("02.01.2006"))
		fmt.Printf("   Thumbprint: %s\n", cert.Thumbprint)
		fmt.Printf("   Private key: %s\n", yesNo(cert.HasPrivateKey))
		if !cert.IsValid {
			fmt.Printf("   WARNING: Certificate is expired or not yet valid!\n")
		}
		fmt.Println()
	}
}

// yesNo converts a boolean to a yes/no string.
func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
