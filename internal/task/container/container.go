// Package container is the dependency resolution context of the scheduler.
// It holds job factories keyed by type name, shared services, and the
// listeners that observe every run. Each run gets its own Scope.
package container

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"

	"coursebot/internal/task/job"
)

// Factory builds a job instance for one run.
type Factory func(s *Scope, params job.Params) (job.Job, error)

type Container struct {
	mu        sync.RWMutex
	factories map[string]Factory
	services  map[string]any
	listeners []job.Listener
}

func New() *Container {
	return &Container{
		factories: make(map[string]Factory),
		services:  make(map[string]any),
	}
}

// Register adds a factory for typ. Registering the same type twice fails.
func (c *Container) Register(typ string, f Factory) error {
	typ = strings.TrimSpace(typ)
	if typ == "" || f == nil {
		return errors.New("container: type and factory required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.factories[typ]; ok {
		return fmt.Errorf("container: type %q already registered", typ)
	}
	c.factories[typ] = f
	return nil
}

// Unregister removes a factory; it reports whether one existed.
func (c *Container) Unregister(typ string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.factories[typ]
	delete(c.factories, typ)
	return ok
}

// Types lists registered job types, sorted.
func (c *Container) Types() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.factories))
}

// Provide makes a shared service visible to every scope under name.
func (c *Container) Provide(name string, v any) {
	c.mu.Lock()
	c.services[name] = v
	c.mu.Unlock()
}

// AddListener appends a listener; listeners run in registration order.
func (c *Container) AddListener(l job.Listener) {
	if l == nil {
		return
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

// Listeners returns a copy of the registered listeners.
func (c *Container) Listeners() []job.Listener {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.listeners)
}

// NewScope opens a per-run scope.
func (c *Container) NewScope() job.Scope {
	return &Scope{c: c}
}

func (c *Container) factory(typ string) (Factory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.factories[typ]
	return f, ok
}

func (c *Container) service(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.services[name]
	return v, ok
}

// Register binds a typed constructor: params are decoded into P before the
// constructor runs.
func Register[P any, J job.Job](c *Container, typ string, ctor func(s *Scope, p P) (J, error)) error {
	if ctor == nil {
		return errors.New("container: constructor required")
	}
	return c.Register(typ, func(s *Scope, params job.Params) (job.Job, error) {
		var p P
		if err := params.Decode(&p); err != nil {
			return nil, fmt.Errorf("%s: %w", typ, err)
		}
		return ctor(s, p)
	})
}

// Scope resolves jobs and services for one run and releases what the run
// acquired when closed.
type Scope struct {
	c *Container

	mu      sync.Mutex
	values  map[string]any
	closers []io.Closer
	closed  bool
}

// Resolve builds the job for typ. A panicking constructor is reported as an
// error.
func (s *Scope) Resolve(typ string, params job.Params) (j job.Job, err error) {
	f, ok := s.c.factory(typ)
	if !ok {
		return nil, fmt.Errorf("%w: %q", job.ErrUnknownType, typ)
	}
	defer func() {
		if r := recover(); r != nil {
			j = nil
			err = fmt.Errorf("construct %q: %w", typ, &job.PanicError{Value: r})
		}
	}()
	j, err = f(s, params)
	if err != nil {
		return nil, fmt.Errorf("construct %q: %w", typ, err)
	}
	if j == nil {
		return nil, fmt.Errorf("construct %q: factory returned nil", typ)
	}
	return j, nil
}

// Get looks up a scope-local value first, then a container service.
func (s *Scope) Get(name string) (any, bool) {
	s.mu.Lock()
	v, ok := s.values[name]
	s.mu.Unlock()
	if ok {
		return v, true
	}
	return s.c.service(name)
}

// Set stores a value visible only to this scope.
func (s *Scope) Set(name string, v any) {
	s.mu.Lock()
	if s.values == nil {
		s.values = make(map[string]any)
	}
	s.values[name] = v
	s.mu.Unlock()
}

// Track registers c to be closed when the scope closes, in reverse order.
func (s *Scope) Track(c io.Closer) {
	if c == nil {
		return
	}
	s.mu.Lock()
	s.closers = append(s.closers, c)
	s.mu.Unlock()
}

func (s *Scope) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	closers := s.closers
	s.closers = nil
	s.values = nil
	s.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Lookup is a typed Get.
func Lookup[T any](s job.Scope, name string) (T, bool) {
	var zero T
	if s == nil {
		return zero, false
	}
	v, ok := s.Get(name)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
