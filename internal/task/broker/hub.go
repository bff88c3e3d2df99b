package broker

import "coursebot/internal/task/job"

type Kind uint8

const (
	Changed Kind = iota + 1
	Removed
	Ready
)

func (k Kind) String() string {
	switch k {
	case Changed:
		return "changed"
	case Removed:
		return "removed"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// Notification is one drained item, tagged with the mailbox it came from.
type Notification struct {
	Kind Kind
	Key  job.Key
}

// Hub groups the three scheduler mailboxes behind one wake signal.
type Hub struct {
	signal  *Signal
	Changed *Broker[job.Key]
	Removed *Broker[job.Key]
	Ready   *Broker[job.Key]
}

func NewHub() *Hub {
	s := NewSignal()
	return &Hub{
		signal:  s,
		Changed: New[job.Key](s),
		Removed: New[job.Key](s),
		Ready:   New[job.Key](s),
	}
}

// Wake fires when any mailbox received something.
func (h *Hub) Wake() <-chan struct{} { return h.signal.C() }

// Drain empties all mailboxes into one tagged list: changed, then removed,
// then ready.
func (h *Hub) Drain() []Notification {
	var out []Notification
	for _, src := range []struct {
		kind Kind
		b    *Broker[job.Key]
	}{{Changed, h.Changed}, {Removed, h.Removed}, {Ready, h.Ready}} {
		for _, k := range src.b.TakeAll() {
			out = append(out, Notification{Kind: src.kind, Key: k})
		}
	}
	return out
}
