package signers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// ErrToolNotFound reports a missing cryptcp executable.
var ErrToolNotFound = errors.New("утилита cryptcp не найдена, установите CryptoPro CSP")

// cryptcp flag sets, kept in one place to survive CSP version changes.
var (
	flagsSignDetached   = []string{"-sign", "-detached"}
	flagsSignAttached   = []string{"-sign"}
	flagsVerifyAttached = []string{"-verify"}
	flagsVerifyDetached = []string{"-verify", "-detached"}
)

const toolBinary = "cryptcp"

// ToolError reports a cryptcp invocation that exited non-zero. Stderr
// holds the decoded tool diagnostic.
type ToolError struct {
	ExitCode int
	Stderr   string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("cryptcp failed with exit code %d: %s", e.ExitCode, e.Stderr)
}

// FindTool locates the cryptcp executable: the explicit path when given,
// then PATH, then the default CryptoPro install locations.
func FindTool(explicit string) (string, error) {
	if explicit != "" {
		if info, err := os.Stat(explicit); err != nil || info.IsDir() {
			return "", fmt.Errorf("%w: %s", ErrToolNotFound, explicit)
		}
		return explicit, nil
	}

	if path, err := exec.LookPath(toolBinary); err == nil {
		return path, nil
	}

	for _, candidate := range toolCandidates() {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", ErrToolNotFound
}

func toolCandidates() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{
			`C:\Program Files\Crypto Pro\CSP\cryptcp.exe`,
			`C:\Program Files (x86)\Crypto Pro\CSP\cryptcp.exe`,
			`C:\Program Files\CryptoPro\CSP\cryptcp.exe`,
			`C:\Program Files (x86)\CryptoPro\CSP\cryptcp.exe`,
		}
	case "linux":
		return []string{
			"/opt/cprocsp/bin/amd64/cryptcp",
			"/opt/cprocsp/bin/ia32/cryptcp",
		}
	case "darwin":
		return []string{"/Applications/CryptoPro/CSP/cryptcp"}
	default:
		return nil
	}
}

// selectorArgs renders the certificate selector as cryptcp arguments.
// cryptcp needs either an explicit certificate or interactive selection.
func selectorArgs(sel CertificateSelector) ([]string, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	switch {
	case sel.Choose:
		return []string{"-choose"}, nil
	case sel.Thumbprint != "":
		return []string{"-thumbprint", sel.Thumbprint}, nil
	case sel.Subject != "":
		return []string{"-subject", sel.Subject}, nil
	case sel.Container != "":
		return []string{"-cont", sel.Container}, nil
	}
	return nil, &SelectorError{Message: "no certificate selected, pass a thumbprint or enable interactive selection"}
}

// redactArgs hides the value following -thumbprint in logged command
// lines.
func redactArgs(args []string) []string {
	out := make([]string, len(args))
	redactNext := false
	for i, arg := range args {
		if redactNext {
			out[i] = "<thumbprint>"
			redactNext = false
			continue
		}
		out[i] = arg
		if strings.EqualFold(arg, "-thumbprint") {
			redactNext = true
		}
	}
	return out
}

func buildToolArgs(baseFlags, extraFlags, selArgs []string, inputPath, outputPath string) []string {
	args := append([]string{}, baseFlags...)
	args = append(args, extraFlags...)
	args = append(args, selArgs...)
	args = append(args, "-in", inputPath)
	if outputPath != "" {
		args = append(args, "-out", outputPath)
	}
	return args
}

func ensureInputFile(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("input file not found: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("input path is a directory: %s", abs)
	}
	return abs, nil
}

// resolveOutputPath appends the default suffix after the existing
// extension, so document.pdf becomes document.pdf.sig.
func resolveOutputPath(inputPath, explicit, suffix string) string {
	if explicit != "" {
		return explicit
	}
	return inputPath + suffix
}

// runTool executes the prepared command, swappable in tests. The error
// covers spawn failures only; a non-zero exit comes back as exitCode.
var runTool = func(ctx context.Context, path string, args []string) (stdout, stderr []byte, exitCode int, err error) {
	cmd := exec.CommandContext(ctx, path, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return outBuf.Bytes(), errBuf.Bytes(), exitErr.ExitCode(), nil
	}
	if runErr != nil {
		return nil, nil, 0, runErr
	}
	return outBuf.Bytes(), errBuf.Bytes(), 0, nil
}

// ExternalToolBackend shells out to the CryptoPro cryptcp utility.
type ExternalToolBackend struct {
	ToolPath string // explicit cryptcp path, discovered when empty
	DryRun   bool   // log the planned command without executing
	CodePage string // console code page for tool output, cp866 or cp1251

	logger *zap.Logger
}

// NewExternalToolBackend creates the backend. The executable is located
// on first use.
func NewExternalToolBackend(logger *zap.Logger) *ExternalToolBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExternalToolBackend{logger: logger}
}

// Name implements Backend.
func (b *ExternalToolBackend) Name() string { return "cryptcp" }

// Sign implements Backend by staging the document in a temporary file
// and reading back the detached signature cryptcp produces.
func (b *ExternalToolBackend) Sign(ctx context.Context, document []byte, sel CertificateSelector) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "ecp-cryptcp-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(dir)

	inputPath := filepath.Join(dir, "document.bin")
	if err := os.WriteFile(inputPath, document, 0600); err != nil {
		return nil, fmt.Errorf("failed to stage document: %w", err)
	}

	sigPath, err := b.SignFileDetached(ctx, inputPath, "", sel)
	if err != nil {
		return nil, err
	}
	if b.DryRun {
		return []byte{}, nil
	}

	signature, err := os.ReadFile(sigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read signature output: %w", err)
	}
	return signature, nil
}

// SignFileDetached produces a detached signature next to the input file
// (".sig" appended) or at outputPath, and returns the signature path.
func (b *ExternalToolBackend) SignFileDetached(ctx context.Context, inputPath, outputPath string, sel CertificateSelector) (string, error) {
	src, err := ensureInputFile(inputPath)
	if err != nil {
		return "", err
	}
	dst := resolveOutputPath(src, outputPath, ".sig")

	selArgs, err := selectorArgs(sel)
	if err != nil {
		return "", err
	}
	args := buildToolArgs(flagsSignDetached, nil, selArgs, src, dst)
	if err := b.run(ctx, args); err != nil {
		return "", err
	}
	return dst, nil
}

// SignFileAttached produces an attached CMS container (".p7m" appended by
// default) and returns its path.
func (b *ExternalToolBackend) SignFileAttached(ctx context.Context, inputPath, outputPath string, sel CertificateSelector) (string, error) {
	src, err := ensureInputFile(inputPath)
	if err != nil {
		return "", err
	}
	dst := resolveOutputPath(src, outputPath, ".p7m")

	selArgs, err := selectorArgs(sel)
	if err != nil {
		return "", err
	}
	args := buildToolArgs(flagsSignAttached, nil, selArgs, src, dst)
	if err := b.run(ctx, args); err != nil {
		return "", err
	}
	return dst, nil
}

// VerifyFileAttached checks an attached CMS container.
func (b *ExternalToolBackend) VerifyFileAttached(ctx context.Context, inputPath string) error {
	src, err := ensureInputFile(inputPath)
	if err != nil {
		return err
	}
	return b.run(ctx, buildToolArgs(flagsVerifyAttached, nil, nil, src, ""))
}

// VerifyFileDetached checks a detached signature against its document.
func (b *ExternalToolBackend) VerifyFileDetached(ctx context.Context, documentPath, signaturePath string) error {
	doc, err := ensureInputFile(documentPath)
	if err != nil {
		return err
	}
	sig, err := ensureInputFile(signaturePath)
	if err != nil {
		return err
	}
	args := buildToolArgs(flagsVerifyDetached, []string{"-data", doc}, nil, sig, "")
	return b.run(ctx, args)
}

func (b *ExternalToolBackend) run(ctx context.Context, args []string) error {
	path, err := FindTool(b.ToolPath)
	if err != nil {
		return err
	}

	b.logger.Info("running cryptcp",
		zap.String("tool", path),
		zap.Strings("args", redactArgs(args)))
	if b.DryRun {
		return nil
	}

	_, stderr, exitCode, err := runTool(ctx, path, args)
	if err != nil {
		return fmt.Errorf("failed to run cryptcp: %w", err)
	}
	if exitCode != 0 {
		msg := strings.TrimSpace(b.decodeConsoleOutput(stderr))
		if msg == "" {
			msg = "неизвестная ошибка"
		}
		return &ToolError{ExitCode: exitCode, Stderr: msg}
	}
	return nil
}

// decodeConsoleOutput converts tool output to UTF-8. CryptoPro writes the
// OEM code page 866 on Windows consoles.
func (b *ExternalToolBackend) decodeConsoleOutput(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}

	var decoder *encoding.Decoder
	switch strings.ToLower(b.CodePage) {
	case "":
		if runtime.GOOS != "windows" {
			return string(raw)
		}
		decoder = charmap.CodePage866.NewDecoder()
	case "cp866", "866", "ibm866":
		decoder = charmap.CodePage866.NewDecoder()
	case "cp1251", "1251", "windows-1251":
		decoder = charmap.Windows1251.NewDecoder()
	default:
		return string(raw)
	}

	decoded, err := decoder.Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(decoded)
}
