package job

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestMakeKeyDefaultsGroup(t *testing.T) {
	t.Parallel()
	k := MakeKey("  ", "sync")
	if k.Group != DefaultGroup || k.String() != "default.sync" {
		t.Fatalf("unexpected key %+v", k)
	}
	if MakeKey("a", "b") != (Key{Group: "a", Name: "b"}) {
		t.Fatalf("keys with equal parts must compare equal")
	}
}

func TestKeyGroupMustNotContainDot(t *testing.T) {
	t.Parallel()
	k := MakeKey("a.b", "c")
	if k.Valid() {
		t.Fatalf("%s must be invalid: it would parse back as %q", k, "a")
	}
	err := ForInstance(k, Func(func(context.Context, *Context) error { return nil })).Validate()
	if !errors.Is(err, ErrInvalidJob) {
		t.Fatalf("expected ErrInvalidJob, got %v", err)
	}
	if !MakeKey("a", "b.c").Valid() {
		t.Fatal("dots in names are allowed")
	}
}

func TestNewKeyIsUnique(t *testing.T) {
	t.Parallel()
	seen := map[Key]bool{}
	for i := 0; i < 1000; i++ {
		k := NewKey("grp", "tick")
		if seen[k] {
			t.Fatalf("duplicate generated key %s", k)
		}
		seen[k] = true
		if k.Group != "grp" || !strings.HasPrefix(k.Name, "tick-") {
			t.Fatalf("unexpected key %s", k)
		}
	}
	if k := NewKey("", ""); k.Group != DefaultGroup || k.Name == "" {
		t.Fatalf("unexpected key %s", k)
	}
}

func TestParseKey(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    Key
		wantErr bool
	}{
		{in: "plugin:echo.ping", want: Key{Group: "plugin:echo", Name: "ping"}},
		{in: "a.b.c", want: Key{Group: "a", Name: "b.c"}},
		{in: "nodot", wantErr: true},
		{in: ".x", wantErr: true},
		{in: "x.", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKey(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidJob) {
					t.Fatalf("expected ErrInvalidJob, got %v", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("got %+v, %v", got, err)
			}
			if got.String() != tt.in {
				t.Fatalf("round trip %q != %q", got.String(), tt.in)
			}
		})
	}
}

func TestDataValidate(t *testing.T) {
	t.Parallel()
	noop := Func(func(context.Context, *Context) error { return nil })
	k := MakeKey("g", "n")
	tests := []struct {
		name string
		data Data
		ok   bool
	}{
		{"type", ForType(k, "echo", nil), true},
		{"instance", ForInstance(k, noop), true},
		{"both", Data{Key: k, Type: "echo", Instance: noop}, false},
		{"neither", Data{Key: k}, false},
		{"no key", ForType(Key{}, "echo", nil), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.data.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidJob) {
				t.Fatalf("expected ErrInvalidJob, got %v", err)
			}
		})
	}
}

func TestParamsDecode(t *testing.T) {
	t.Parallel()
	var out struct {
		Message string `json:"message"`
		Count   int    `json:"count"`
	}
	p := Params{"message": "hi", "count": 3}
	if err := p.Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Message != "hi" || out.Count != 3 {
		t.Fatalf("unexpected %+v", out)
	}
	if err := (Params{"count": "x"}).Decode(&out); err == nil {
		t.Fatalf("expected type mismatch error")
	}

	c := p.Clone()
	c["message"] = "changed"
	if p["message"] != "hi" {
		t.Fatalf("clone must not alias")
	}
}

func TestFailureDetectsPanic(t *testing.T) {
	t.Parallel()
	r := Failure(&PanicError{Value: "boom"}, 0)
	if !r.Panic || r.OK() {
		t.Fatalf("expected panic failure, got %+v", r)
	}
	r = Failure(errors.New("domain"), 0)
	if r.Panic {
		t.Fatalf("domain error is not a panic")
	}
	if !Failure(ErrAborted, 0).Aborted() {
		t.Fatalf("expected aborted")
	}
	inner := errors.New("inner")
	if !errors.Is(&PanicError{Value: inner}, inner) {
		t.Fatalf("panic error should unwrap error values")
	}
}
