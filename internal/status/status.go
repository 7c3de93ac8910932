// Package status reports whether the advice service can do its work.
package status

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/canonica-labs/querio/internal/errors"
)

// ComponentStatus is the state of one dependency.
type ComponentStatus struct {
	Ready    bool   `json:"ready"`
	Required bool   `json:"required"`
	Message  string `json:"message"`
}

// ReadinessResult aggregates every component. Ready is false only when a
// required component fails; an optional failure marks the result degraded.
type ReadinessResult struct {
	Ready      bool                       `json:"ready"`
	Degraded   bool                       `json:"degraded"`
	Components map[string]ComponentStatus `json:"components"`
}

// Failing returns the names of components that are not ready, sorted.
func (r *ReadinessResult) Failing() []string {
	var names []string
	for name, c := range r.Components {
		if !c.Ready {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// CheckFunc probes one component.
type CheckFunc func(ctx context.Context) error

type component struct {
	name     string
	required bool
	check    CheckFunc
	// message is reported when the component has nothing to probe.
	message string
}

// Readiness runs component probes concurrently.
type Readiness struct {
	timeout    time.Duration
	components []component
}

// NewReadiness creates a readiness checker. Each probe gets timeout.
func NewReadiness(timeout time.Duration) *Readiness {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Readiness{timeout: timeout}
}

// Add registers a probe.
func (r *Readiness) Add(name string, required bool, check CheckFunc) {
	r.components = append(r.components, component{name: name, required: required, check: check})
}

// AddStatic registers a component that is always ready with message.
func (r *Readiness) AddStatic(name, message string) {
	r.components = append(r.components, component{name: name, message: message})
}

// Check runs every probe and waits for all of them.
func (r *Readiness) Check(ctx context.Context) *ReadinessResult {
	result := &ReadinessResult{
		Ready:      true,
		Components: make(map[string]ComponentStatus, len(r.components)),
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, c := range r.components {
		g.Go(func() error {
			status := r.probe(ctx, c)
			mu.Lock()
			result.Components[c.name] = status
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, status := range result.Components {
		if status.Ready {
			continue
		}
		if status.Required {
			result.Ready = false
		} else {
			result.Degraded = true
		}
	}
	return result
}

func (r *Readiness) probe(ctx context.Context, c component) ComponentStatus {
	if c.check == nil {
		return ComponentStatus{Ready: true, Required: c.required, Message: c.message}
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := c.check(ctx); err != nil {
		return ComponentStatus{Required: c.required, Message: errors.Summarize(err)}
	}
	return ComponentStatus{Ready: true, Required: c.required, Message: "ok"}
}
