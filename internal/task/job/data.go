package job

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Params is a named-parameter bag handed to a job factory.
type Params map[string]any

// Decode converts the bag into a typed struct via JSON.
func (p Params) Decode(into any) error {
	if len(p) == 0 {
		return nil
	}
	b, err := json.Marshal(map[string]any(p))
	if err != nil {
		return fmt.Errorf("params: encode: %w", err)
	}
	if err := json.Unmarshal(b, into); err != nil {
		return fmt.Errorf("params: decode: %w", err)
	}
	return nil
}

// Clone returns a shallow copy so stored data is not aliased by callers.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Data describes what to run. Exactly one of Type or Instance is set.
type Data struct {
	Key      Key
	Type     string
	Params   Params
	Instance Job
}

// ForType describes a job materialized per run from a registered factory.
func ForType(key Key, typ string, params Params) Data {
	return Data{Key: key, Type: typ, Params: params.Clone()}
}

// ForInstance describes a job whose instance is reused for every run.
func ForInstance(key Key, j Job) Data {
	return Data{Key: key, Instance: j}
}

// Validate checks the data before it enters the store.
func (d Data) Validate() error {
	if !d.Key.Valid() {
		return fmt.Errorf("%w: key %q needs a dot-free group and a name", ErrInvalidJob, d.Key.String())
	}
	hasType := strings.TrimSpace(d.Type) != ""
	switch {
	case hasType && d.Instance != nil:
		return fmt.Errorf("%w: %s has both type and instance", ErrInvalidJob, d.Key)
	case !hasType && d.Instance == nil:
		return fmt.Errorf("%w: %s has neither type nor instance", ErrInvalidJob, d.Key)
	}
	return nil
}

// TypeName is the registered type, or the Go type of the instance.
func (d Data) TypeName() string {
	if d.Type != "" {
		return d.Type
	}
	if d.Instance == nil {
		return ""
	}
	return fmt.Sprintf("%T", d.Instance)
}
