package job

import "time"

// Descriptor is the immutable record stored per key. Reschedule produces a
// new descriptor; a held pointer never changes under the reader.
type Descriptor struct {
	data      Data
	trigger   Trigger
	createdAt time.Time
}

func NewDescriptor(data Data, trig Trigger) *Descriptor {
	return &Descriptor{data: data, trigger: trig, createdAt: time.Now()}
}

func (d *Descriptor) Key() Key             { return d.data.Key }
func (d *Descriptor) Data() Data           { return d.data }
func (d *Descriptor) Trigger() Trigger     { return d.trigger }
func (d *Descriptor) CreatedAt() time.Time { return d.createdAt }

// WithTrigger returns a copy bound to a different trigger.
func (d *Descriptor) WithTrigger(trig Trigger) *Descriptor {
	return &Descriptor{data: d.data, trigger: trig, createdAt: time.Now()}
}
