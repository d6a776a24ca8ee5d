package synth

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"
)

type execEngine struct {
	cmd []string
	mu  sync.Mutex
}

// NewExecEngine builds an Engine around an external synthesis command.
// The command receives the voice identifier as a --voice flag and the
// text on stdin, and must write encoded audio bytes to stdout.
func NewExecEngine(command string) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse synthesis command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("synthesis command empty")
	}
	return &execEngine{cmd: args}, nil
}

func (e *execEngine) Synthesize(ctx context.Context, text, voiceID string, w io.Writer) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	args = append(args, "--voice", voiceID)

	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = strings.NewReader(text)
	cmd.Stdout = w
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("synthesis command failed: %w: %s", err, msg)
		}
		return fmt.Errorf("synthesis command failed: %w", err)
	}
	return nil
}
