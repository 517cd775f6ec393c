package pipeline

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cosmic-gao/nexo-machine/internal/hooks"
)

// appendStage returns a stage that appends its name to a string input.
func appendStage(name string, deps ...string) Stage {
	return Stage{
		Name:         name,
		Dependencies: deps,
		Execute: func(_ context.Context, input any, _ *Context) (any, error) {
			return fmt.Sprintf("%v>%s", input, name), nil
		},
	}
}

func stageNames(stages []Stage) []string {
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.Name
	}
	return names
}

func TestExecute_SequentialChainsOutputs(t *testing.T) {
	p := New(hooks.NewBus(), Options{Name: "seq"})
	p.AddStage(appendStage("a")).AddStage(appendStage("b")).AddStage(appendStage("c"))

	res, err := p.Execute(context.Background(), "in")
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if res.Output != "in>a>b>c" {
		t.Fatalf("Output = %v, want %q", res.Output, "in>a>b>c")
	}

	want := map[string]any{"a": "in>a", "b": "in>a>b", "c": "in>a>b>c"}
	if got := res.Context.Results(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Results = %v, want %v", got, want)
	}
	if got := res.Context.Skipped(); len(got) != 0 {
		t.Fatalf("Skipped = %v, want none", got)
	}
	if res.Context.PipelineName != "seq" {
		t.Errorf("PipelineName = %q, want %q", res.Context.PipelineName, "seq")
	}
	if res.Context.RunID == "" {
		t.Error("RunID is empty")
	}
	if res.Context.CurrentStageIndex() != 2 {
		t.Errorf("CurrentStageIndex = %d, want 2", res.Context.CurrentStageIndex())
	}
}

func TestExecute_ConditionFalseSkipsStage(t *testing.T) {
	bus := hooks.NewBus()
	var skipped []string
	bus.Hook(EventStageSkip, func(_ context.Context, args ...any) error {
		skipped = append(skipped, args[0].(string))
		return nil
	})

	called := false
	p := New(bus, Options{Name: "cond"})
	p.AddStage(appendStage("a"))
	p.AddStage(Stage{
		Name:      "b",
		Condition: func(context.Context, *Context) bool { return false },
		Execute: func(context.Context, any, *Context) (any, error) {
			called = true
			return "never", nil
		},
	})
	p.AddStage(appendStage("c", "b"))

	res, err := p.Execute(context.Background(), "in")
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if called {
		t.Fatal("execute of a stage with a false condition was invoked")
	}
	if !res.Context.IsSkipped("b") {
		t.Fatal("stage b is not recorded as skipped")
	}
	if _, ok := res.Context.Result("b"); ok {
		t.Fatal("skipped stage b has a recorded result")
	}
	if res.Output != "in>a>c" {
		t.Fatalf("Output = %v, want %q", res.Output, "in>a>c")
	}
	if !reflect.DeepEqual(skipped, []string{"b"}) {
		t.Fatalf("stage:skip fired for %v, want [b]", skipped)
	}
}

func TestExecute_RetrySucceedsOnThirdAttempt(t *testing.T) {
	var calls atomic.Int32
	p := New(hooks.NewBus(), Options{Name: "retry", OnError: OnErrorRetry, MaxRetries: 2})
	p.AddStage(Stage{
		Name: "flaky",
		Execute: func(context.Context, any, *Context) (any, error) {
			if calls.Add(1) <= 2 {
				return nil, errors.New("transient")
			}
			return "ok", nil
		},
	})

	res, err := p.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if res.Output != "ok" {
		t.Fatalf("Output = %v, want %q", res.Output, "ok")
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("stage body invoked %d times, want 3", got)
	}
}

func TestExecute_RetryExhaustedReturnsLastErrorVerbatim(t *testing.T) {
	var calls int
	var errs []error
	p := New(hooks.NewBus(), Options{Name: "retry", OnError: OnErrorRetry, MaxRetries: 2})
	p.AddStage(Stage{
		Name: "broken",
		Execute: func(context.Context, any, *Context) (any, error) {
			calls++
			err := fmt.Errorf("attempt %d", calls)
			errs = append(errs, err)
			return nil, err
		},
	})

	_, err := p.Execute(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if calls != 3 {
		t.Fatalf("stage body invoked %d times, want 3", calls)
	}
	if err != errs[len(errs)-1] {
		t.Fatalf("error = %v, want the last attempt's error unwrapped", err)
	}
}

func TestExecute_RetryDefaultsToThree(t *testing.T) {
	calls := 0
	p := New(hooks.NewBus(), Options{OnError: OnErrorRetry})
	if p.Options().MaxRetries != DefaultMaxRetries {
		t.Fatalf("MaxRetries = %d, want %d", p.Options().MaxRetries, DefaultMaxRetries)
	}
	p.AddStage(Stage{
		Name: "broken",
		Execute: func(context.Context, any, *Context) (any, error) {
			calls++
			return nil, errors.New("nope")
		},
	})

	if _, err := p.Execute(context.Background(), nil); err == nil {
		t.Fatal("expected error, got nil")
	}
	if calls != DefaultMaxRetries+1 {
		t.Fatalf("stage body invoked %d times, want %d", calls, DefaultMaxRetries+1)
	}
}

func TestExecute_ContinueAbsorbsSkippableFailure(t *testing.T) {
	bus := hooks.NewBus()
	var stageErrors int
	bus.Hook(EventStageError, func(context.Context, ...any) error {
		stageErrors++
		return nil
	})

	p := New(bus, Options{Name: "cont", OnError: OnErrorContinue})
	p.AddStage(appendStage("a"))
	p.AddStage(Stage{
		Name:      "optional",
		Skippable: true,
		Execute: func(context.Context, any, *Context) (any, error) {
			return nil, errors.New("lint unavailable")
		},
	})
	p.AddStage(appendStage("c", "optional"))

	res, err := p.Execute(context.Background(), "in")
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !res.Context.IsSkipped("optional") {
		t.Fatal("failed skippable stage is not recorded as skipped")
	}
	if res.Output != "in>a>c" {
		t.Fatalf("Output = %v, want %q", res.Output, "in>a>c")
	}
	if stageErrors != 1 {
		t.Fatalf("stage:error fired %d times, want 1", stageErrors)
	}
}

func TestExecute_ContinueStopsOnNonSkippableFailure(t *testing.T) {
	boom := errors.New("boom")
	p := New(hooks.NewBus(), Options{OnError: OnErrorContinue})
	p.AddStage(Stage{
		Name: "required",
		Execute: func(context.Context, any, *Context) (any, error) {
			return nil, boom
		},
	})
	ran := false
	p.AddStage(Stage{
		Name: "after",
		Execute: func(context.Context, any, *Context) (any, error) {
			ran = true
			return nil, nil
		},
	})

	res, err := p.Execute(context.Background(), nil)
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}
	if res != nil {
		t.Fatalf("result = %+v, want nil on failure", res)
	}
	if ran {
		t.Fatal("stage after a fatal failure was executed")
	}
}

func TestExecute_StopPolicyAbortsContext(t *testing.T) {
	bus := hooks.NewBus()
	var seen *Context
	bus.Hook(EventPipelineStart, func(_ context.Context, args ...any) error {
		seen = args[0].(*Context)
		return nil
	})

	p := New(bus, Options{})
	p.AddStage(Stage{
		Name:      "fails",
		Skippable: true,
		Execute: func(context.Context, any, *Context) (any, error) {
			return nil, errors.New("boom")
		},
	})

	if _, err := p.Execute(context.Background(), nil); err == nil {
		t.Fatal("expected error under stop policy, got nil")
	}
	if seen == nil || !seen.Aborted() {
		t.Fatal("run context was not marked aborted after failure")
	}
}

func TestExecute_UnmetDependencyIsFatal(t *testing.T) {
	for _, policy := range []ErrorPolicy{OnErrorStop, OnErrorContinue, OnErrorRetry} {
		t.Run(string(policy), func(t *testing.T) {
			p := New(hooks.NewBus(), Options{OnError: policy})
			// b comes first in sequential order but depends on a.
			b := appendStage("b", "a")
			b.Skippable = true
			p.AddStage(b).AddStage(appendStage("a"))

			_, err := p.Execute(context.Background(), "in")
			if !IsKind(err, KindDependency) {
				t.Fatalf("error = %v, want dependency error", err)
			}
			var e *Error
			if !errors.As(err, &e) {
				t.Fatalf("error %T is not *Error", err)
			}
			if e.Stage != "b" || !reflect.DeepEqual(e.Names, []string{"a"}) {
				t.Fatalf("Error = %+v, want stage b missing [a]", e)
			}
			if !strings.Contains(err.Error(), `stage "b" has unmet dependencies: a`) {
				t.Errorf("message = %q", err.Error())
			}
		})
	}
}

func TestExecute_HookOrder(t *testing.T) {
	bus := hooks.NewBus()
	var events []string
	record := func(name string) hooks.Listener {
		return func(_ context.Context, args ...any) error {
			if strings.HasPrefix(name, "stage:") {
				events = append(events, name+":"+args[0].(string))
				return nil
			}
			events = append(events, name)
			return nil
		}
	}
	for _, ev := range []string{EventPipelineStart, EventPipelineEnd, EventStageBefore, EventStageAfter, EventStageSkip} {
		bus.Hook(ev, record(ev))
	}

	p := New(bus, Options{})
	p.AddStage(appendStage("a"))
	p.AddStage(Stage{
		Name:      "b",
		Condition: func(context.Context, *Context) bool { return false },
		Execute:   appendStage("b").Execute,
	})

	if _, err := p.Execute(context.Background(), ""); err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	want := []string{
		"pipeline:start",
		"stage:before:a",
		"stage:after:a",
		"stage:skip:b",
		"pipeline:end",
	}
	if !reflect.DeepEqual(events, want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
}

func TestExecute_FailingHookAbortsRun(t *testing.T) {
	bus := hooks.NewBus()
	denied := errors.New("denied by policy")
	bus.Hook(EventStageBefore, func(_ context.Context, args ...any) error {
		if args[0] == "deploy" {
			return denied
		}
		return nil
	})

	ran := false
	p := New(bus, Options{OnError: OnErrorRetry})
	p.AddStage(Stage{
		Name: "deploy",
		Execute: func(context.Context, any, *Context) (any, error) {
			ran = true
			return nil, nil
		},
	})

	if _, err := p.Execute(context.Background(), nil); !errors.Is(err, denied) {
		t.Fatalf("error = %v, want %v", err, denied)
	}
	if ran {
		t.Fatal("stage ran although its before hook failed")
	}
}

func TestExecute_AbortFromStageStopsLaterStages(t *testing.T) {
	p := New(hooks.NewBus(), Options{})
	p.AddStage(appendStage("a"))
	p.AddStage(Stage{
		Name: "halt",
		Execute: func(_ context.Context, input any, pc *Context) (any, error) {
			p.Abort(pc)
			return input, nil
		},
	})
	ranC := false
	p.AddStage(Stage{
		Name: "c",
		Execute: func(context.Context, any, *Context) (any, error) {
			ranC = true
			return nil, nil
		},
	})

	res, err := p.Execute(context.Background(), "in")
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if ranC {
		t.Fatal("stage after abort was executed")
	}
	if !res.Context.Aborted() {
		t.Fatal("context not aborted")
	}
	if res.Output != "in>a" {
		t.Fatalf("Output = %v, want %q", res.Output, "in>a")
	}
}

func TestExecute_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(hooks.NewBus(), Options{})
	p.AddStage(appendStage("a"))

	if _, err := p.Execute(ctx, ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestExecute_ParallelRespectsDependencies(t *testing.T) {
	var mu sync.Mutex
	var aDone bool
	var bStartedBeforeA bool

	p := New(hooks.NewBus(), Options{Name: "waves", Parallel: true})
	p.AddStage(Stage{
		Name: "A",
		Execute: func(context.Context, any, *Context) (any, error) {
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			aDone = true
			mu.Unlock()
			return "A", nil
		},
	})
	p.AddStage(Stage{
		Name:         "B",
		Dependencies: []string{"A"},
		Execute: func(context.Context, any, *Context) (any, error) {
			mu.Lock()
			if !aDone {
				bStartedBeforeA = true
			}
			mu.Unlock()
			return "B", nil
		},
	})
	p.AddStage(Stage{
		Name: "C",
		Execute: func(context.Context, any, *Context) (any, error) {
			return "C", nil
		},
	})

	res, err := p.Execute(context.Background(), "in")
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if bStartedBeforeA {
		t.Fatal("B started before A settled")
	}
	for _, name := range []string{"A", "B", "C"} {
		if _, ok := res.Context.Result(name); !ok {
			t.Errorf("result for %s missing", name)
		}
	}
}

func TestExecute_ParallelWaveRunsConcurrently(t *testing.T) {
	var running, peak atomic.Int32
	body := func(name string) StageFunc {
		return func(context.Context, any, *Context) (any, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			running.Add(-1)
			return name, nil
		}
	}

	p := New(hooks.NewBus(), Options{Parallel: true})
	for _, name := range []string{"x", "y", "z"} {
		p.AddStage(Stage{Name: name, Execute: body(name)})
	}

	if _, err := p.Execute(context.Background(), nil); err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if peak.Load() < 2 {
		t.Fatalf("peak concurrency = %d, want stages of one wave to overlap", peak.Load())
	}
}

func TestExecute_ParallelCarriesLastWaveMemberOutput(t *testing.T) {
	var inputs sync.Map
	record := func(name string) StageFunc {
		return func(_ context.Context, input any, _ *Context) (any, error) {
			inputs.Store(name, input)
			return name + "-out", nil
		}
	}

	p := New(hooks.NewBus(), Options{Parallel: true})
	p.AddStage(Stage{Name: "first", Execute: record("first")})
	p.AddStage(Stage{Name: "second", Execute: record("second")})
	p.AddStage(Stage{Name: "next", Dependencies: []string{"first", "second"}, Execute: record("next")})

	res, err := p.Execute(context.Background(), "seed")
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}

	for _, name := range []string{"first", "second"} {
		if v, _ := inputs.Load(name); v != "seed" {
			t.Errorf("%s received %v, want the shared wave input %q", name, v, "seed")
		}
	}
	if v, _ := inputs.Load("next"); v != "second-out" {
		t.Fatalf("next received %v, want %q", v, "second-out")
	}
	if v, _ := res.Context.Result("first"); v != "first-out" {
		t.Errorf("Result(first) = %v, want %q", v, "first-out")
	}
	if res.Output != "next-out" {
		t.Errorf("Output = %v, want %q", res.Output, "next-out")
	}
}

func TestExecute_ParallelCircularDependency(t *testing.T) {
	var calls atomic.Int32
	body := func(context.Context, any, *Context) (any, error) {
		calls.Add(1)
		return nil, nil
	}

	p := New(hooks.NewBus(), Options{Parallel: true})
	p.AddStage(Stage{Name: "A", Dependencies: []string{"B"}, Execute: body})
	p.AddStage(Stage{Name: "B", Dependencies: []string{"A"}, Execute: body})

	_, err := p.Execute(context.Background(), nil)
	if !IsKind(err, KindCircularDependency) {
		t.Fatalf("error = %v, want circular dependency error", err)
	}
	if IsKind(err, KindDependency) {
		t.Fatal("circular dependency error is indistinguishable from an unmet dependency error")
	}
	if calls.Load() != 0 {
		t.Fatalf("stage bodies invoked %d times, want 0", calls.Load())
	}
	if !strings.Contains(err.Error(), "A, B") {
		t.Errorf("message %q does not name the stuck stages", err.Error())
	}
}

func TestExecute_ParallelContinueUnblocksDependents(t *testing.T) {
	p := New(hooks.NewBus(), Options{Parallel: true, OnError: OnErrorContinue})
	p.AddStage(Stage{
		Name:      "optional",
		Skippable: true,
		Execute: func(context.Context, any, *Context) (any, error) {
			return nil, errors.New("unavailable")
		},
	})
	p.AddStage(appendStage("after", "optional"))

	res, err := p.Execute(context.Background(), "in")
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !res.Context.IsSkipped("optional") {
		t.Fatal("optional not skipped")
	}
	if v, _ := res.Context.Result("after"); v != "in>after" {
		t.Fatalf("Result(after) = %v, want %q", v, "in>after")
	}
}

func TestExecute_ParallelFailurePropagates(t *testing.T) {
	boom := errors.New("boom")
	p := New(hooks.NewBus(), Options{Parallel: true})
	p.AddStage(appendStage("ok"))
	p.AddStage(Stage{
		Name: "bad",
		Execute: func(context.Context, any, *Context) (any, error) {
			return nil, boom
		},
	})
	ran := false
	p.AddStage(Stage{
		Name:         "later",
		Dependencies: []string{"bad"},
		Execute: func(context.Context, any, *Context) (any, error) {
			ran = true
			return nil, nil
		},
	})

	if _, err := p.Execute(context.Background(), ""); !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}
	if ran {
		t.Fatal("dependent of a failed stage ran")
	}
}

func TestMutationAPI(t *testing.T) {
	p := New(hooks.NewBus(), Options{})
	p.AddStage(appendStage("a")).AddStage(appendStage("c"))

	p.InsertAfter("a", appendStage("b"))
	p.InsertBefore("a", appendStage("start"))
	p.InsertStage(100, appendStage("end"))
	p.InsertStage(-5, appendStage("zero"))

	want := []string{"zero", "start", "a", "b", "c", "end"}
	if got := stageNames(p.Stages()); !reflect.DeepEqual(got, want) {
		t.Fatalf("stages = %v, want %v", got, want)
	}

	p.InsertBefore("missing", appendStage("ghost"))
	p.InsertAfter("missing", appendStage("ghost"))
	if got := stageNames(p.Stages()); !reflect.DeepEqual(got, want) {
		t.Fatalf("insert relative to a missing stage changed the list: %v", got)
	}

	if !p.ReplaceStage("b", appendStage("B")) {
		t.Fatal("ReplaceStage(b) returned false")
	}
	if p.ReplaceStage("missing", appendStage("x")) {
		t.Fatal("ReplaceStage(missing) returned true")
	}
	if !p.RemoveStage("zero") {
		t.Fatal("RemoveStage(zero) returned false")
	}
	if p.RemoveStage("zero") {
		t.Fatal("RemoveStage(zero) returned true twice")
	}

	want = []string{"start", "a", "B", "c", "end"}
	if got := stageNames(p.Stages()); !reflect.DeepEqual(got, want) {
		t.Fatalf("stages = %v, want %v", got, want)
	}

	// Stages returns a copy.
	stages := p.Stages()
	stages[0].Name = "mutated"
	if p.Stages()[0].Name != "start" {
		t.Fatal("Stages exposed the internal slice")
	}
}

func TestValidate(t *testing.T) {
	ok := New(hooks.NewBus(), Options{Name: "ok"})
	ok.AddStage(appendStage("a")).AddStage(appendStage("b", "a"))
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}

	bad := New(hooks.NewBus(), Options{Name: "bad"})
	bad.AddStage(appendStage("a"))
	bad.AddStage(appendStage("a"))
	bad.AddStage(Stage{Name: "nobody"})
	bad.AddStage(appendStage("c", "ghost"))

	err := bad.Validate()
	if !IsKind(err, KindConfig) {
		t.Fatalf("error = %v, want config error", err)
	}
	for _, want := range []string{`duplicate stage name "a"`, `"nobody" has no execute function`, `unknown stage "ghost"`} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err.Error(), want)
		}
	}
}

func TestParseErrorPolicy(t *testing.T) {
	cases := []struct {
		in      string
		want    ErrorPolicy
		wantErr bool
	}{
		{"", OnErrorStop, false},
		{"stop", OnErrorStop, false},
		{"Continue", OnErrorContinue, false},
		{" retry ", OnErrorRetry, false},
		{"ignore", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseErrorPolicy(tc.in)
			if tc.wantErr {
				if !IsKind(err, KindConfig) {
					t.Fatalf("error = %v, want config error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseErrorPolicy(%q) error: %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("ParseErrorPolicy(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
