package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"git.home.luguber.info/inful/driveorg/internal/faults"
)

// pdfTimeout is the hard per-file limit for the external converter.
const pdfTimeout = 60 * time.Second

// PDF shells out to pdftotext with an argument array (never a shell) and a
// hard timeout. A missing binary surfaces as unsupported so the item is
// indexed without text rather than erroring the phase.
type PDF struct{}

func (PDF) Extract(ctx context.Context, path string, budget int64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, pdfTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "pdftotext", "-q", path, "-")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("pdftotext not installed: %w", faults.ErrUnsupported)
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("pdftotext timed out on %s: %w", path, faults.ErrCorrupt)
		}
		return "", fmt.Errorf("pdftotext failed on %s: %w: %s", path, faults.ErrCorrupt, stderr.String())
	}
	return truncate(stdout.String(), budget), nil
}
