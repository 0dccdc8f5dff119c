// Package plan maps plan names to acquisition-plan implementations, binds
// stored arguments to their signatures, and builds live instruction lists.
package plan

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xpdacq/xpdacq/internal/device"
)

// Implementation builds a live plan from bound arguments.
type Implementation interface {
	Signature() Signature
	Build(dev device.Context, args Bound) (*Plan, error)
}

// Func adapts a signature and a build function into an Implementation.
type Func struct {
	Params  Signature
	BuildFn func(dev device.Context, args Bound) (*Plan, error)
}

func (f Func) Signature() Signature { return f.Params }

func (f Func) Build(dev device.Context, args Bound) (*Plan, error) {
	return f.BuildFn(dev, args)
}

// Registry maintains known plan implementations by name.
type Registry struct {
	mu    sync.RWMutex
	impls map[string]Implementation
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{impls: map[string]Implementation{}}
}

// DefaultRegistry returns a registry holding the beamline's built-in plans.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister("ct", Count())
	r.MustRegister("Tramp", Tramp())
	r.MustRegister("tseries", TSeries())
	r.MustRegister("Tlist", TList())
	return r
}

// Register installs impl under name. An existing name is replaced only when
// overwrite is set.
func (r *Registry) Register(name string, impl Implementation, overwrite bool) error {
	if name == "" {
		return fmt.Errorf("plan: name is required")
	}
	if impl == nil {
		return fmt.Errorf("plan: implementation is required for %s", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.impls[name]; exists && !overwrite {
		return fmt.Errorf("plan: %s: %w; register with overwrite to replace it", name, ErrDuplicatePlan)
	}
	r.impls[name] = impl
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(name string, impl Implementation) {
	if err := r.Register(name, impl, false); err != nil {
		panic(err)
	}
}

// Unregister removes name.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.impls[name]; !ok {
		return fmt.Errorf("plan: %s: %w", name, ErrPlanNotFound)
	}
	delete(r.impls, name)
	return nil
}

// Lookup returns the implementation registered under name.
func (r *Registry) Lookup(name string) (Implementation, error) {
	r.mu.RLock()
	impl, ok := r.impls[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("plan: %s: %w", name, ErrPlanNotFound)
	}
	return impl, nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.impls))
	for name := range r.impls {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Bind binds args and kwargs to the signature registered under name.
func (r *Registry) Bind(name string, args []any, kwargs map[string]any) (Bound, error) {
	impl, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	bound, err := impl.Signature().Bind(args, kwargs)
	if err != nil {
		return nil, withPlan(name, err)
	}
	return bound, nil
}

// Build resolves name, binds the arguments, and builds the live plan against
// the devices in dev.
func (r *Registry) Build(name string, dev device.Context, args []any, kwargs map[string]any) (*Plan, error) {
	impl, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	bound, err := impl.Signature().Bind(args, kwargs)
	if err != nil {
		return nil, withPlan(name, err)
	}
	p, err := impl.Build(dev, bound)
	if err != nil {
		return nil, withPlan(name, err)
	}
	return p, nil
}
