package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies engine errors that are not stage failures. Stage failures
// are returned exactly as the stage body produced them.
type Kind int

const (
	// KindConfig marks malformed input detected before or during assembly:
	// invalid phase names, unknown adapters or commands, bad options.
	KindConfig Kind = iota + 1
	// KindDependency marks a stage that ran before its dependencies settled.
	KindDependency
	// KindCircularDependency marks a wave schedule that cannot make progress.
	KindCircularDependency
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindDependency:
		return "dependency"
	case KindCircularDependency:
		return "circular-dependency"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is the tagged error returned for engine-level faults. None of these
// kinds are retried or absorbed by an error policy.
type Error struct {
	Kind  Kind
	Stage string   // stage the error concerns, if any
	Names []string // missing dependencies or stages stuck in a cycle
	Err   error    // underlying cause, set for KindConfig
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindDependency:
		return fmt.Sprintf("stage %q has unmet dependencies: %s", e.Stage, strings.Join(e.Names, ", "))
	case KindCircularDependency:
		return fmt.Sprintf("circular dependency detected among stages: %s", strings.Join(e.Names, ", "))
	default:
		if e.Err == nil {
			return e.Kind.String() + " error"
		}
		return e.Err.Error()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Configf returns a KindConfig error with a formatted cause. The format
// accepts %w like fmt.Errorf.
func Configf(format string, args ...any) error {
	return &Error{Kind: KindConfig, Err: fmt.Errorf(format, args...)}
}

// IsKind reports whether err, or anything it wraps, is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}
