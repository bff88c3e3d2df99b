package job

import "time"

// Context is built fresh for each run.
type Context struct {
	Descriptor *Descriptor
	Job        Job
	Trigger    Trigger
	Scope      Scope

	RunID     string
	Attempt   uint64
	StartedAt time.Time
}

func (c *Context) Key() Key {
	if c == nil || c.Descriptor == nil {
		return Key{}
	}
	return c.Descriptor.Key()
}
