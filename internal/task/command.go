package task

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// maxOutputInError bounds how much process output is copied into an error
const maxOutputInError = 512

// waitDelay bounds how long Execute waits for output pipes after the process
// group has been killed
const waitDelay = 500 * time.Millisecond

// Command runs an external process. A non-zero exit status is a failed run.
type Command struct {
	// Path is the program to run, resolved through PATH when it has no separator
	Path string

	// Args are passed to the program after Path
	Args []string

	// Dir is the working directory; empty means the current one
	Dir string

	// Env is appended to the inherited environment
	Env []string

	// Timeout kills the process once exceeded; zero means no limit
	Timeout time.Duration
}

// Execute starts the process and waits for it to exit.
func (c *Command) Execute(ctx context.Context) error {
	if c.Path == "" {
		return errors.New("command: empty path")
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	// children inherit the group so cancellation reaches the whole tree
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = waitDelay
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("command %s timed out after %v: %w", c.Path, c.Timeout, err)
		}
		return fmt.Errorf("command %s failed: %w (output: %q)", c.Path, err, tail(out.String(), maxOutputInError))
	}

	return nil
}

// String renders the command line for logs.
func (c *Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

var _ Task = (*Command)(nil)
