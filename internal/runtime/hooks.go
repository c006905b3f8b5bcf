package runtime

import (
	"context"
	"time"
)

// RunContext describes the device run a hook is called for.
type RunContext struct {
	Context    context.Context
	SensorName string
	StartedAt  time.Time
	// Duration is how long the loop ran. Only set in OnFinished and OnFailed.
	Duration time.Duration
}

// Hooks observe the run lifecycle. All hooks are optional.
type Hooks struct {
	// OnStarted is called after "Started" is printed, before the loop runs.
	OnStarted func(run RunContext)
	// OnFinished is called after the loop returned normally.
	OnFinished func(run RunContext)
	// OnFailed is called with the error the loop returned or panicked with.
	OnFailed func(run RunContext, err error)
}

// Merge combines two Hooks. The hooks from other run after the hooks from h.
func (h Hooks) Merge(other Hooks) Hooks {
	return Hooks{
		OnStarted:  chainRunHooks(h.OnStarted, other.OnStarted),
		OnFinished: chainRunHooks(h.OnFinished, other.OnFinished),
		OnFailed:   chainFailHooks(h.OnFailed, other.OnFailed),
	}
}

func chainRunHooks(a, b func(RunContext)) func(RunContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(run RunContext) {
		a(run)
		b(run)
	}
}

func chainFailHooks(a, b func(RunContext, error)) func(RunContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(run RunContext, err error) {
		a(run, err)
		b(run, err)
	}
}

func (h Hooks) started(run RunContext) {
	if h.OnStarted != nil {
		h.OnStarted(run)
	}
}

func (h Hooks) finished(run RunContext) {
	if h.OnFinished != nil {
		h.OnFinished(run)
	}
}

func (h Hooks) failed(run RunContext, err error) {
	if h.OnFailed != nil {
		h.OnFailed(run, err)
	}
}
