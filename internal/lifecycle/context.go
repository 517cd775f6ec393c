package lifecycle

import "sync"

// Context is the state handed to the listeners of one phase. Listeners may
// replace or mutate Data and write Meta; without a transform function the
// same Data value feeds the next phase.
type Context struct {
	Phase Phase
	Data  any
	// Meta is shared by every phase of one Run.
	Meta map[string]any

	mu          sync.Mutex
	aborted     bool
	abortReason string
}

// Abort stops the run after the current phase. The reason is optional.
func (c *Context) Abort(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aborted = true
	c.abortReason = reason
}

// Aborted reports whether Abort was called.
func (c *Context) Aborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted
}

// AbortReason returns the reason passed to Abort.
func (c *Context) AbortReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.abortReason
}
