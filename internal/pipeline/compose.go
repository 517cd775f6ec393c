package pipeline

import (
	"context"
	"fmt"

	"github.com/cosmic-gao/nexo-machine/internal/hooks"
)

// SharedResultKey is the shared-store key under which Compose records the
// output of the i-th nested pipeline.
func SharedResultKey(i int) string {
	return fmt.Sprintf("pipeline:%d:result", i)
}

// Compose wraps independently built pipelines as the stages of one new
// sequential pipeline. Stage i runs pipeline i on the current input, stores
// its output under SharedResultKey(i) and passes it on. A nested failure
// surfaces as that stage's error; a nested abort is not propagated.
func Compose(bus *hooks.Bus, name string, pipelines []*Pipeline, options ...Option) *Pipeline {
	composed := New(bus, Options{Name: name}, options...)
	for i, child := range pipelines {
		key := SharedResultKey(i)
		composed.AddStage(Stage{
			Name: fmt.Sprintf("pipeline:%d", i),
			Execute: func(ctx context.Context, input any, pc *Context) (any, error) {
				res, err := child.Execute(ctx, input)
				if err != nil {
					return nil, err
				}
				pc.Set(key, res.Output)
				return res.Output, nil
			},
		})
	}
	return composed
}
