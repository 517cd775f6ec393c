package blueprint

import (
	"context"
	"os"
	"strings"

	"github.com/cosmic-gao/nexo-machine/internal/pipeline"
	"github.com/spf13/cast"
)

// ParseCondition compiles a when-expression. It returns nil for an empty
// expression and for "always".
func ParseCondition(expr string) (pipeline.ConditionFunc, error) {
	expr = strings.TrimSpace(expr)
	if neg, ok := strings.CutPrefix(expr, "!"); ok {
		inner, err := ParseCondition(neg)
		if err != nil {
			return nil, err
		}
		if inner == nil {
			return never, nil
		}
		return func(ctx context.Context, pc *pipeline.Context) bool {
			return !inner(ctx, pc)
		}, nil
	}

	switch expr {
	case "", "always":
		return nil, nil
	case "never":
		return never, nil
	}

	kind, arg, ok := strings.Cut(expr, ":")
	if !ok || arg == "" {
		return nil, pipeline.Configf("invalid condition %q", expr)
	}
	switch kind {
	case "env":
		return func(context.Context, *pipeline.Context) bool {
			return os.Getenv(arg) != ""
		}, nil
	case "shared":
		return func(_ context.Context, pc *pipeline.Context) bool {
			v, ok := pc.Get(arg)
			return ok && truthy(v)
		}, nil
	case "result":
		return func(_ context.Context, pc *pipeline.Context) bool {
			_, ok := pc.Result(arg)
			return ok
		}, nil
	default:
		return nil, pipeline.Configf("invalid condition %q: unknown kind %q", expr, kind)
	}
}

func never(context.Context, *pipeline.Context) bool { return false }

func truthy(v any) bool {
	if v == nil {
		return false
	}
	if b, err := cast.ToBoolE(v); err == nil {
		return b
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return true
	}
	return s != ""
}
