package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/belogpt/ecp/logging"
	"github.com/belogpt/ecp/sign/signers"
	"github.com/belogpt/ecp/sign/validation"
)

// VerifyOptions contains options for the verify command.
type VerifyOptions struct {
	Config    string
	CertFile  string
	Signature string
	JSON      bool
}

// VerifyCommand implements the 'verify' command.
func VerifyCommand(args []string) {
	verifyFlags := flag.NewFlagSet("verify", flag.ExitOnError)

	var opts VerifyOptions

	verifyFlags.StringVar(&opts.Config, "config", "", "Path to the YAML configuration file")
	verifyFlags.StringVar(&opts.CertFile, "cert", "", "Signer certificate override (PEM or DER)")
	verifyFlags.StringVar(&opts.Signature, "sig", "", "Detached signature file")
	verifyFlags.BoolVar(&opts.JSON, "json", false, "Output results in JSON format")

	verifyFlags.Usage = func() {
		fmt.Printf("Usage: %s verify [options] <document> [signature]\n\n", os.Args[0])
		fmt.Println("Verify a detached CMS signature against a document.")
		fmt.Println("")
		fmt.Println("Arguments:")
		fmt.Println("  document   Signed document")
		fmt.Println("  signature  Detached signature file (default: \"<document>_Файл подписи.p7s\")")
		fmt.Println("")
		fmt.Println("Options:")
		verifyFlags.PrintDefaults()
		fmt.Println("")
		fmt.Println("Examples:")
		fmt.Printf("  %s verify договор.pdf\n", os.Args[0])
		fmt.Printf("  %s verify -json договор.pdf \"договор_Файл подписи.p7s\"\n", os.Args[0])
		fmt.Printf("  %s verify -cert signer.crt договор.pdf\n", os.Args[0])
	}

	if err := verifyFlags.Parse(args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(1)
	}

	if len(verifyFlags.Args()) < 1 {
		verifyFlags.Usage()
		osExit(1)
	}

	documentPath := verifyFlags.Arg(0)
	signaturePath := opts.Signature
	if len(verifyFlags.Args()) > 1 {
		signaturePath = verifyFlags.Arg(1)
	}
	if signaturePath == "" {
		signaturePath = filepath.Join(filepath.Dir(documentPath), signers.SignatureFileName(documentPath))
	}

	output, status, err := verifyDocument(documentPath, signaturePath, &opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}

	// Output results
	if opts.JSON {
		outputJSON(output)
	} else {
		outputVerifyText(output)
	}

	// Exit with non-zero code unless the signature verified as valid
	if status != validation.StatusValid {
		osExit(1)
	}
}

// VerifyResult is a JSON-serializable verification result.
type VerifyResult struct {
	Document    string `json:"document"`
	Signature   string `json:"signature"`
	Status      string `json:"status"`
	Detail      string `json:"detail"`
	Serial      string `json:"serial"`
	Subject     string `json:"subject"`
	Issuer      string `json:"issuer"`
	ValidFrom   string `json:"valid_from"`
	ValidTo     string `json:"valid_to"`
	SigningTime string `json:"signing_time"`
}

// verifyDocument performs the actual verification.
func verifyDocument(documentPath, signaturePath string, opts *VerifyOptions) (*VerifyResult, validation.Status, error) {
	cfg, err := loadAppConfig(opts.Config)
	if err != nil {
		return nil, validation.StatusUnknown, err
	}

	logger, err := logging.New(*cfg.Logging)
	if err != nil {
		return nil, validation.StatusUnknown, err
	}
	defer logger.Sync()

	result := validation.NewVerifier(logger).VerifyFiles(documentPath, signaturePath, opts.CertFile)

	output := &VerifyResult{
		Document:    documentPath,
		Signature:   signaturePath,
		Status:      result.Status.String(),
		Detail:      result.Detail,
		Serial:      result.Serial,
		Subject:     result.Subject,
		Issuer:      result.Issuer,
		ValidFrom:   result.ValidFrom,
		ValidTo:     result.ValidTo,
		SigningTime: result.SigningTime,
	}
	return output, result.Status, nil
}

// outputJSON outputs the result in JSON format.
func outputJSON(output any) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(output); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		osExit(1)
	}
}

// outputVerifyText outputs the result in human-readable text format.
func outputVerifyText(output *VerifyResult) {
	fmt.Printf("Signature Verification\n")
	fmt.Printf("======================\n\n")

	statusIcon := getStatusIcon(output.Status)
	fmt.Printf("  Status: %s %s\n", statusIcon, output.Status)
	fmt.Printf("  Detail: %s\n", output.Detail)
	fmt.Printf("  Document: %s\n", output.Document)
	fmt.Printf("  Signature: %s\n", output.Signature)
	fmt.Println("")
	fmt.Printf("  Certificate:\n")
	fmt.Printf("    Serial: %s\n", output.Serial)
	fmt.Printf("    Subject: %s\n", output.Subject)
	fmt.Printf("    Issuer: %s\n", output.Issuer)
	fmt.Printf("    Valid: %s to %s\n", output.ValidFrom, output.ValidTo)
	fmt.Printf("  Signing time: %s\n", output.SigningTime)
}

// getStatusIcon returns an icon for the status.
func getStatusIcon(status string) string {
	switch status {
	case "VALID":
		return "[OK]"
	case "MISMATCH", "ERROR":
		return "[FAIL]"
	case "EXPIRED", "CANNOT_VERIFY":
		return "[WARN]"
	default:
		return "[?]"
	}
}
