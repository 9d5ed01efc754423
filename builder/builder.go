// Package builder invokes the external Document Builder program.
package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

var ErrNoCommand = errors.New("builder command not configured")

// Error reports a failed builder run together with its combined output.
type Error struct {
	Output string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("document builder failed: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Command runs Path with Args followed by the json, xml and pdf paths.
type Command struct {
	Path   string
	Args   []string
	Logger *slog.Logger
}

// Build runs the builder and waits for it to exit. A non-zero exit status is
// returned as *Error.
func (c *Command) Build(ctx context.Context, jsonPath, xmlPath, pdfPath string) error {
	if c.Path == "" {
		return ErrNoCommand
	}

	args := append(append([]string{}, c.Args...), jsonPath, xmlPath, pdfPath)
	cmd := exec.CommandContext(ctx, c.Path, args...)

	start := time.Now()
	output, err := cmd.CombinedOutput()
	if err != nil {
		return &Error{Output: string(output), Err: err}
	}

	if c.Logger != nil {
		c.Logger.Debug("Document builder finished", "json", jsonPath, "duration", time.Since(start), "output", string(output))
	}
	return nil
}
