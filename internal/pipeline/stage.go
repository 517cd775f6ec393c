package pipeline

import (
	"context"
	"fmt"
	"strings"
)

// StageFunc is a stage body. It receives the current chained input and the
// run context and returns the stage's output.
type StageFunc func(ctx context.Context, input any, pc *Context) (any, error)

// ConditionFunc decides whether a stage runs. Returning false skips the
// stage and passes its input through unchanged.
type ConditionFunc func(ctx context.Context, pc *Context) bool

// Stage is a named unit of work.
type Stage struct {
	Name         string
	Execute      StageFunc
	Dependencies []string
	Condition    ConditionFunc
	// Skippable lets the continue policy absorb a failure of this stage.
	Skippable bool
}

// ErrorPolicy selects how stage failures are handled.
type ErrorPolicy string

const (
	OnErrorStop     ErrorPolicy = "stop"
	OnErrorContinue ErrorPolicy = "continue"
	OnErrorRetry    ErrorPolicy = "retry"
)

// DefaultMaxRetries applies when the retry policy is selected without an
// explicit bound.
const DefaultMaxRetries = 3

// ParseErrorPolicy converts the textual policy used in config files and
// flags. An empty string means stop.
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch ErrorPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", OnErrorStop:
		return OnErrorStop, nil
	case OnErrorContinue:
		return OnErrorContinue, nil
	case OnErrorRetry:
		return OnErrorRetry, nil
	default:
		return "", Configf("unknown error policy %q: expected stop, continue or retry", s)
	}
}

// Options are fixed when a pipeline is constructed.
type Options struct {
	Name     string
	Parallel bool
	OnError  ErrorPolicy
	// MaxRetries is the number of additional attempts under the retry
	// policy. Zero selects DefaultMaxRetries.
	MaxRetries int
}

func (o Options) normalized() Options {
	if o.OnError == "" {
		o.OnError = OnErrorStop
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.OnError == OnErrorRetry && o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	return o
}

func (o Options) String() string {
	mode := "sequential"
	if o.Parallel {
		mode = "parallel"
	}
	return fmt.Sprintf("%s (%s, on_error=%s, max_retries=%d)", o.Name, mode, o.OnError, o.MaxRetries)
}
