package engine

import "fmt"

// Gate is the admission check in front of the registry.
//
// Below the soft threshold (80% of the maximum) work is admitted without
// reaping. At or above it, finished slots are reaped first and work is
// refused only if the registry is still full.
type Gate struct {
	registry *Registry
	max      int
	logger   Logger
}

// NewGate creates a gate enforcing limit concurrent executions.
func NewGate(registry *Registry, limit int) *Gate {
	return &Gate{registry: registry, max: limit, logger: noopLogger{}}
}

// SetLogger sets the logger for the gate.
func (g *Gate) SetLogger(logger Logger) {
	g.logger = logger
}

// Max returns the hard maximum.
func (g *Gate) Max() int {
	return g.max
}

// SoftThreshold returns the live count at which admission starts reaping.
func (g *Gate) SoftThreshold() int {
	return g.max * 100 / 125
}

// Admit reports whether there is room for one more execution.
func (g *Gate) Admit() bool {
	if g.registry.LiveCount() < g.SoftThreshold() {
		return true
	}
	g.registry.Reap()
	if g.registry.LiveCount() >= g.max {
		g.logger.Error(fmt.Sprintf(
			"script processing is too slow; more than %d scripts are queued, not executing script", g.max),
			"max", g.max)
		return false
	}
	return true
}

// Acquire admits and allocates in one step. Concurrent callers that pass
// Admit together cannot push the registry past the maximum.
func (g *Gate) Acquire(run func(Handle)) (Handle, error) {
	if !g.Admit() {
		return InvalidHandle, ErrAdmissionRefused
	}
	h, ok := g.registry.TryAllocate(g.max, run)
	if !ok {
		g.logger.Error("execution slots filled concurrently, not executing script", "max", g.max)
		return InvalidHandle, ErrAdmissionRefused
	}
	return h, nil
}
