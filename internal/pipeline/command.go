// Steps implemented by external programs.

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Command is an external program. Args are appended after the fixed
// arguments of Argv.
type Command struct {
	Argv []string
	// Timeout bounds one run. Zero means no timeout beyond the context.
	Timeout time.Duration
}

func (c *Command) run(ctx context.Context, stdin string, env []string, args ...string) (string, error) {
	if len(c.Argv) == 0 {
		return "", errors.New("no command configured")
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	argv := append(append([]string(nil), c.Argv[1:]...), args...)
	cmd := exec.CommandContext(ctx, c.Argv[0], argv...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdin = strings.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%s failed: %w: %s", c.Argv[0], err, msg)
		}
		return "", fmt.Errorf("%s failed: %w", c.Argv[0], err)
	}
	return stdout.String(), nil
}

// CommandTranscriber runs a program with the episode URL as last argument
// and the show notes on stdin. The transcript is read from stdout.
// TRANSCRIPTQ_URL and TRANSCRIPTQ_TYPE are set in its environment.
type CommandTranscriber struct {
	Command
}

// Transcribe implements Transcriber.
func (c *CommandTranscriber) Transcribe(ctx context.Context, req Request) (string, error) {
	env := []string{"TRANSCRIPTQ_URL=" + req.URL, "TRANSCRIPTQ_TYPE=" + req.Type}
	return c.run(ctx, req.ShowNotes, env, req.URL)
}

// CommandFormatter pipes the transcript through a program.
type CommandFormatter struct {
	Command
}

// Format implements Formatter.
func (c *CommandFormatter) Format(ctx context.Context, transcript string) (string, error) {
	return c.run(ctx, transcript, nil)
}
