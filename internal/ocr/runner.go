package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Runner executes tesseract and pdftoppm. Tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// NewExecRunner runs commands with os/exec and logs each invocation.
func NewExecRunner(logger *slog.Logger) Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return execRunner{logger: logger}
}

type execRunner struct {
	logger *slog.Logger
}

// Run returns an error naming the binary and exit code; a cancelled ctx is returned as ctx.Err().
func (r execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()
	var out, errb bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	log := r.logger.With("cmd", name, "elapsed_ms", time.Since(start).Milliseconds())
	if err == nil {
		log.Debug("ocr.exec.ok", "stdout_bytes", out.Len())
		return out.Bytes(), errb.Bytes(), nil
	}

	if ctx.Err() != nil {
		return nil, errb.Bytes(), ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		err = fmt.Errorf("%s exited %d: %s", name, exitErr.ExitCode(), truncate(strings.TrimSpace(errb.String()), 512))
	} else {
		err = fmt.Errorf("run %s: %w", name, err)
	}
	log.Error("ocr.exec.failed", "args", strings.Join(args, " "), "err", err)
	return out.Bytes(), errb.Bytes(), err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
