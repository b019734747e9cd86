package document

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Runner executes an external command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// OfficeConverter converts DOCX files to PDF through a headless office suite.
type OfficeConverter struct {
	binary  string
	timeout time.Duration
	run     Runner
}

// NewOfficeConverter builds a converter around binary (e.g. soffice).
func NewOfficeConverter(binary string, timeout time.Duration) *OfficeConverter {
	if binary == "" {
		binary = "soffice"
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &OfficeConverter{binary: binary, timeout: timeout, run: execRunner}
}

// WithRunner swaps the command runner.
func (o *OfficeConverter) WithRunner(run Runner) *OfficeConverter {
	if run != nil {
		o.run = run
	}
	return o
}

// Convert renders the document at path to PDF. The scratch directory is removed
// on every path, including failures and timeouts.
func (o *OfficeConverter) Convert(ctx context.Context, path string) ([]byte, error) {
	outDir, err := os.MkdirTemp("", "qbank-convert-*")
	if err != nil {
		return nil, fmt.Errorf("create conversion dir: %w", err)
	}
	defer os.RemoveAll(outDir) //nolint:errcheck

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	// A private profile per call; soffice refuses to share one between processes.
	profile := "-env:UserInstallation=file://" + filepath.ToSlash(filepath.Join(outDir, "profile"))
	out, err := o.run(ctx, o.binary, profile, "--headless", "--convert-to", "pdf", "--outdir", outDir, path)
	if err != nil {
		return nil, fmt.Errorf("office conversion: %w: %s", err, strings.TrimSpace(string(out)))
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	data, err := os.ReadFile(filepath.Join(outDir, base+".pdf"))
	if err != nil {
		return nil, fmt.Errorf("read converted pdf: %w", err)
	}
	return data, nil
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}
