package compiler

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/google/shlex"

	appErr "botarena/pkg/errors"
)

// Detector identifies a submission's language and builds it in place.
// Empty diagnostics means the build succeeded. Language-specific toolchains
// live entirely behind this boundary.
type Detector interface {
	Detect(ctx context.Context, dir string) (language string, diagnostics string, err error)
}

// CommandDetector shells out to a configured detection script. The script
// receives the submission directory as its last argument, prints the
// detected language on the first line of stdout, and exits non-zero with
// diagnostics on its output when the build fails.
type CommandDetector struct {
	// Command is the detection script invocation, parsed shell-style.
	Command string

	// Timeout bounds one detection run.
	Timeout time.Duration
}

// NewCommandDetector creates a detector for the given script command.
func NewCommandDetector(command string, timeout time.Duration) *CommandDetector {
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	return &CommandDetector{Command: command, Timeout: timeout}
}

func (d *CommandDetector) Detect(ctx context.Context, dir string) (string, string, error) {
	parts, err := shlex.Split(d.Command)
	if err != nil {
		return "", "", appErr.Wrapf(err, appErr.InvalidFormat, "parse detection command failed")
	}
	if len(parts) == 0 {
		return "", "", appErr.New(appErr.InvalidFormat).WithMessage("detection command is empty")
	}
	parts = append(parts, dir)

	runCtx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, parts[0], parts[1:]...)
	output, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(output))
	if err != nil {
		if text == "" {
			text = err.Error()
		}
		return "", text, nil
	}

	language := text
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		language = strings.TrimSpace(text[:idx])
	}
	return language, "", nil
}
