// Package subproc runs the local helper programs behind the exec provider
// modes. A helper reads a JSON request on stdin and writes its reply to
// stdout. When the service it fronts refuses a request it exits non-zero and
// prints {"error": "...", "status": 429}, which surfaces as a status error so
// the retry executor can act on it.
package subproc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/ellie/internal/resilience"
)

// Command is a parsed helper invocation. Runs are serialized.
type Command struct {
	kind string
	argv []string
	mu   sync.Mutex
}

type failure struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// Parse splits command with shell quoting rules. kind names the helper in
// errors.
func Parse(kind, command string) (*Command, error) {
	args, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse %s command: %w", kind, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%s command is empty", kind)
	}
	return &Command{kind: kind, argv: args}, nil
}

// Run executes the helper with extra appended to its arguments. A non-nil
// payload is JSON encoded onto stdin.
func (c *Command) Run(ctx context.Context, payload any, extra ...string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	args := append(append([]string{}, c.argv[1:]...), extra...)
	cmd := exec.CommandContext(ctx, c.argv[0], args...)
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", c.kind, err)
		}
		cmd.Stdin = bytes.NewReader(data)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var f failure
		if json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &f) == nil && f.Status > 0 {
			return nil, resilience.WithStatus(fmt.Errorf("%s helper: %s", c.kind, f.Error), f.Status)
		}
		return nil, fmt.Errorf("%s helper failed: %w: %s", c.kind, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// RunJSON runs the helper and decodes its reply into T.
func RunJSON[T any](ctx context.Context, c *Command, payload any, extra ...string) (T, error) {
	var out T
	data, err := c.Run(ctx, payload, extra...)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode %s reply: %w", c.kind, err)
	}
	return out, nil
}
