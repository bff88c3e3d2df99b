package plugin

import (
	"sort"
	"time"
)

type Status struct {
	Name        string    `json:"name"`
	Running     bool      `json:"running"`
	Initialized bool      `json:"initialized"`
	Quarantined bool      `json:"quarantined,omitempty"`
	Stage       string    `json:"stage,omitempty"`
	Err         string    `json:"err,omitempty"`
	Since       time.Time `json:"since,omitzero"`
	Count       int       `json:"count,omitempty"`
}

// Status reports every registered plugin, sorted by name.
func (pm *Manager) Status() []Status {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	out := make([]Status, 0, len(pm.reg))
	for name := range pm.reg {
		st := Status{Name: name, Running: pm.run[name], Initialized: pm.inited[name]}
		if q, ok := pm.quarantine[name]; ok {
			st.Quarantined = true
			st.Stage = q.stage
			st.Err = q.err
			st.Since = q.since
			st.Count = q.count
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
