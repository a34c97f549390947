package receipt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"osticket-helper/internal/osticket"
)

// Compiler turns a typst source file into a pdf.
type Compiler interface {
	Compile(ctx context.Context, sourcePath, outputPath string) error
}

// Typst runs the typst command line compiler.
type Typst struct {
	// Binary defaults to "typst" looked up in PATH.
	Binary string
	// Timeout bounds a single compilation, 0 means 60 seconds.
	Timeout time.Duration
}

func (t Typst) Compile(ctx context.Context, sourcePath, outputPath string) error {
	binary := t.Binary
	if binary == "" {
		binary = "typst"
	}
	timeout := t.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(
		ctx, binary, "compile",
		"--root", filepath.Dir(sourcePath),
		sourcePath, outputPath,
	)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &RenderError{
			Stage:  "compile",
			Err:    fmt.Errorf("%w: %s compile after %s: %w", osticket.ErrTimeout, binary, timeout, ctx.Err()),
			Output: strings.TrimSpace(output.String()),
		}
	}
	if err != nil {
		return &RenderError{
			Stage:  "compile",
			Err:    fmt.Errorf("%s compile: %w", binary, err),
			Output: strings.TrimSpace(output.String()),
		}
	}

	info, err := os.Stat(outputPath)
	if err != nil || info.Size() == 0 {
		return &RenderError{
			Stage:  "compile",
			Err:    fmt.Errorf("%s compile produced no output at %s", binary, outputPath),
			Output: strings.TrimSpace(output.String()),
		}
	}
	return nil
}
