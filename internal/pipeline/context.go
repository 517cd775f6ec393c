package pipeline

import (
	"maps"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Context is the run-scoped state of one Execute call. Only the engine
// records results, skips, the stage index and the aborted flag; stage
// bodies and hook listeners read them and may use the shared store.
//
// A stage name is never both completed and skipped: recording one clears
// the other.
type Context struct {
	PipelineName string
	RunID        string

	mu      sync.RWMutex
	index   int
	results map[string]any
	skipped map[string]struct{}
	shared  map[string]any
	aborted bool
}

func newContext(name string) *Context {
	return &Context{
		PipelineName: name,
		RunID:        uuid.NewString(),
		results:      make(map[string]any),
		skipped:      make(map[string]struct{}),
		shared:       make(map[string]any),
	}
}

// CurrentStageIndex returns the index of the stage running in sequential
// mode. It stays 0 in parallel mode.
func (c *Context) CurrentStageIndex() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index
}

// Result returns the last output recorded for a stage.
func (c *Context) Result(stage string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.results[stage]
	return v, ok
}

// Results returns a copy of all recorded stage outputs.
func (c *Context) Results() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.results)
}

// IsSkipped reports whether a stage was bypassed.
func (c *Context) IsSkipped(stage string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.skipped[stage]
	return ok
}

// Skipped returns the names of bypassed stages, sorted.
func (c *Context) Skipped() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.skipped))
	for name := range c.skipped {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Set stores a value in the shared side channel. Key naming is up to the
// caller; the Composer uses "pipeline:<i>:result".
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shared[key] = value
}

// Get reads a value from the shared side channel.
func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.shared[key]
	return v, ok
}

// Shared returns a copy of the shared side channel.
func (c *Context) Shared() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.shared)
}

// Aborted reports whether the run was aborted. Once set it stays set.
func (c *Context) Aborted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.aborted
}

func (c *Context) abort() {
	c.mu.Lock()
	c.aborted = true
	c.mu.Unlock()
}

func (c *Context) setIndex(i int) {
	c.mu.Lock()
	c.index = i
	c.mu.Unlock()
}

func (c *Context) recordResult(stage string, output any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.skipped, stage)
	c.results[stage] = output
}

func (c *Context) markSkipped(stage string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.results, stage)
	c.skipped[stage] = struct{}{}
}

// missingDependencies returns the dependencies that are neither completed
// nor skipped, in declaration order.
func (c *Context) missingDependencies(deps []string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var missing []string
	for _, d := range deps {
		if _, ok := c.results[d]; ok {
			continue
		}
		if _, ok := c.skipped[d]; ok {
			continue
		}
		missing = append(missing, d)
	}
	return missing
}
