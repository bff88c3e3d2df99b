package container

import (
	"context"
	"errors"
	"testing"

	"coursebot/internal/task/job"
)

type greet struct{ msg string }

func (g *greet) Execute(context.Context, *job.Context) error { return nil }

type greetParams struct {
	Message string `json:"message"`
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestResolveTyped(t *testing.T) {
	t.Parallel()
	c := New()
	err := Register(c, "greet", func(_ *Scope, p greetParams) (*greet, error) {
		return &greet{msg: p.Message}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Register("greet", func(*Scope, job.Params) (job.Job, error) { return nil, nil }); err == nil {
		t.Fatalf("duplicate registration must fail")
	}

	s := c.NewScope()
	defer s.Close()
	j, err := s.Resolve("greet", job.Params{"message": "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if g := j.(*greet); g.msg != "hi" {
		t.Fatalf("params not decoded: %+v", g)
	}
	if got := c.Types(); len(got) != 1 || got[0] != "greet" {
		t.Fatalf("types=%v", got)
	}
}

func TestResolveFailures(t *testing.T) {
	t.Parallel()
	c := New()
	c.Register("panics", func(*Scope, job.Params) (job.Job, error) { panic("ctor blew up") })
	c.Register("nil", func(*Scope, job.Params) (job.Job, error) { return nil, nil })
	c.Register("errs", func(*Scope, job.Params) (job.Job, error) { return nil, errors.New("nope") })

	s := c.NewScope()
	if _, err := s.Resolve("missing", nil); !errors.Is(err, job.ErrUnknownType) {
		t.Fatalf("expected unknown type, got %v", err)
	}
	var pe *job.PanicError
	if _, err := s.Resolve("panics", nil); !errors.As(err, &pe) {
		t.Fatalf("expected panic error, got %v", err)
	}
	if _, err := s.Resolve("nil", nil); err == nil {
		t.Fatalf("nil job must fail")
	}
	if _, err := s.Resolve("errs", nil); err == nil {
		t.Fatalf("factory error must surface")
	}
}

func TestScopeValuesAndClose(t *testing.T) {
	t.Parallel()
	c := New()
	c.Provide("db", "shared")
	s := c.NewScope().(*Scope)

	if v, ok := Lookup[string](s, "db"); !ok || v != "shared" {
		t.Fatalf("service lookup failed: %v %v", v, ok)
	}
	s.Set("db", "local")
	if v, _ := Lookup[string](s, "db"); v != "local" {
		t.Fatalf("scope value should shadow service")
	}
	if _, ok := Lookup[int](s, "db"); ok {
		t.Fatalf("wrong type must not match")
	}

	var order []int
	s.Track(closerFunc(func() error { order = append(order, 1); return nil }))
	s.Track(closerFunc(func() error { order = append(order, 2); return errors.New("close 2") }))
	if err := s.Close(); err == nil {
		t.Fatalf("close error should surface")
	}
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("closers should run in reverse order: %v", order)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close is a no-op, got %v", err)
	}
}

type named struct{ name string }

func (n named) Name() string                                                 { return n.name }
func (named) BeforeExecution(context.Context, *job.Context) error            { return nil }
func (named) AfterExecution(context.Context, *job.Context, job.Result) error { return nil }

func TestListenersCopy(t *testing.T) {
	t.Parallel()
	c := New()
	c.AddListener(named{"a"})
	c.AddListener(nil)
	c.AddListener(named{"b"})
	ls := c.Listeners()
	if len(ls) != 2 || ls[0].Name() != "a" || ls[1].Name() != "b" {
		t.Fatalf("unexpected listeners %v", ls)
	}
	ls[0] = named{"x"}
	if c.Listeners()[0].Name() != "a" {
		t.Fatalf("Listeners must return a copy")
	}
}
