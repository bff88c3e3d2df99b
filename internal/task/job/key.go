package job

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DefaultGroup is used when a key is built with an empty group.
const DefaultGroup = "default"

// Key identifies a job. Two keys are equal when group and name are equal.
// Groups must not contain a dot so String and ParseKey round-trip; names may.
type Key struct {
	Group string
	Name  string
}

// MakeKey builds a key, defaulting an empty group.
func MakeKey(group, name string) Key {
	group = strings.TrimSpace(group)
	if group == "" {
		group = DefaultGroup
	}
	return Key{Group: group, Name: strings.TrimSpace(name)}
}

// NewKey generates a collision-resistant key. prefix is optional.
func NewKey(group, prefix string) Key {
	id := uuid.NewString()
	if p := strings.TrimSpace(prefix); p != "" {
		id = p + "-" + id
	}
	return MakeKey(group, id)
}

// ParseKey is the inverse of Key.String. The group is everything before the
// first dot.
func ParseKey(s string) (Key, error) {
	s = strings.TrimSpace(s)
	group, name, ok := strings.Cut(s, ".")
	if !ok || group == "" || name == "" {
		return Key{}, fmt.Errorf("%w: malformed key %q", ErrInvalidJob, s)
	}
	return Key{Group: group, Name: name}, nil
}

func (k Key) String() string { return k.Group + "." + k.Name }

func (k Key) IsZero() bool { return k.Group == "" && k.Name == "" }

// Valid reports whether the key can be stored.
func (k Key) Valid() bool {
	return k.Group != "" && k.Name != "" && !strings.Contains(k.Group, ".")
}
