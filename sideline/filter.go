package sideline

import "sync"

type (
	// FilterStep decides whether a message should be dropped. A true
	// verdict sidelines the message: the engine commits its offset and
	// never emits it.
	FilterStep interface {
		Filter(msg Message) bool
	}

	// FilterFunc adapts a plain function into a FilterStep.
	FilterFunc func(msg Message) bool

	// FilterChain is an ordered list of steps evaluated with OR
	// semantics: the first step that returns true drops the message.
	// Steps are keyed by the sideline request that installed them so the
	// supervisor can retire a step when its sideline is resumed. The
	// chain may be mutated between polls; individual steps are immutable
	// once installed.
	FilterChain struct {
		mu    sync.RWMutex
		steps []chainEntry
	}

	chainEntry struct {
		id   SidelineRequestID
		step FilterStep
	}
)

// Filter invokes the adapted function.
func (f FilterFunc) Filter(msg Message) bool {
	return f(msg)
}

// NewFilterChain returns an empty chain.
func NewFilterChain() *FilterChain {
	return &FilterChain{}
}

// Filter returns true if any step claims the message, short-circuiting on
// the first positive verdict.
func (c *FilterChain) Filter(msg Message) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.steps {
		if e.step.Filter(msg) {
			return true
		}
	}
	return false
}

// AddStep appends a step under the given sideline request id. A step
// already installed under that id is replaced in place.
func (c *FilterChain) AddStep(id SidelineRequestID, step FilterStep) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.steps {
		if e.id == id {
			c.steps[i].step = step
			return
		}
	}
	c.steps = append(c.steps, chainEntry{id: id, step: step})
}

// RemoveStep removes the step installed under the given id and returns
// it, or nil if no such step exists.
func (c *FilterChain) RemoveStep(id SidelineRequestID) FilterStep {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.steps {
		if e.id == id {
			c.steps = append(c.steps[:i], c.steps[i+1:]...)
			return e.step
		}
	}
	return nil
}

// Step returns the step installed under the given id, or nil.
func (c *FilterChain) Step(id SidelineRequestID) FilterStep {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.steps {
		if e.id == id {
			return e.step
		}
	}
	return nil
}

// Len returns the number of installed steps.
func (c *FilterChain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.steps)
}
