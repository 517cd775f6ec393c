package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Runtime executes a command in a working directory with a stage input.
type Runtime interface {
	Run(ctx context.Context, dir, command string, input any) (*Output, error)
}

// Output captures the result of a command execution.
type Output struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Decode returns stdout parsed as JSON when it is valid JSON and the
// trimmed text otherwise.
func (o *Output) Decode() any {
	text := strings.TrimSpace(o.Stdout)
	if text == "" {
		return ""
	}
	var v any
	if err := json.Unmarshal([]byte(text), &v); err == nil {
		return v
	}
	return text
}

// Err returns an *ExitError when the command exited non-zero.
func (o *Output) Err(command string) error {
	if o.ExitCode == 0 {
		return nil
	}
	return &ExitError{Command: command, Code: o.ExitCode, Stderr: strings.TrimSpace(o.Stderr)}
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Command string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("command %q exited with code %d", e.Command, e.Code)
	if e.Stderr != "" {
		msg += ": " + lastLine(e.Stderr)
	}
	return msg
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
