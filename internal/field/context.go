package field

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Entry pairs an electrode with the waveform it delivers.
type Entry struct {
	Electrode Electrode
	Stimulus  Stimulus
}

type footprintKey struct {
	axonID int
	label  string
}

// Context is the ordered set of (electrode, stimulus) pairs applied to a
// fascicle, plus the per-axon footprint cache. A footprint, once stored, is
// reused for every later simulation of the same axon.
type Context struct {
	entries []Entry

	mu         sync.RWMutex
	footprints map[footprintKey][]float64
}

func NewContext() *Context {
	return &Context{footprints: make(map[footprintKey][]float64)}
}

// Add appends an electrode; labels must be unique.
func (c *Context) Add(e Electrode, s Stimulus) error {
	if e == nil || e.Label() == "" {
		return fmt.Errorf("electrode label is required")
	}
	if err := s.Validate(); err != nil {
		return fmt.Errorf("electrode %s: %w", e.Label(), err)
	}
	for _, existing := range c.entries {
		if existing.Electrode.Label() == e.Label() {
			return fmt.Errorf("duplicate electrode label %q", e.Label())
		}
	}
	c.entries = append(c.entries, Entry{Electrode: e, Stimulus: s})
	return nil
}

func (c *Context) Entries() []Entry {
	return append([]Entry(nil), c.entries...)
}

func (c *Context) Len() int {
	return len(c.entries)
}

func (c *Context) Lookup(label string) (Entry, bool) {
	for _, e := range c.entries {
		if e.Electrode.Label() == label {
			return e, true
		}
	}
	return Entry{}, false
}

func (c *Context) HasFEM() bool {
	for _, e := range c.entries {
		if _, ok := e.Electrode.(FEMLabeled); ok {
			return true
		}
	}
	return false
}

// FEMLabels returns the FEM labels of the context in ascending order. This is
// the row order of every solved-model evaluation.
func (c *Context) FEMLabels() []string {
	var labels []string
	for _, e := range c.entries {
		if fem, ok := e.Electrode.(FEMLabeled); ok {
			labels = append(labels, fem.FEMLabel)
		}
	}
	sort.Strings(labels)
	return labels
}

// femElectrode maps a FEM label back to the electrode label using it.
func (c *Context) femElectrode(femLabel string) (string, bool) {
	for _, e := range c.entries {
		if fem, ok := e.Electrode.(FEMLabeled); ok && fem.FEMLabel == femLabel {
			return fem.Name, true
		}
	}
	return "", false
}

func (c *Context) Footprint(axonID int, label string) ([]float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fp, ok := c.footprints[footprintKey{axonID: axonID, label: label}]
	return fp, ok
}

func (c *Context) SetFootprint(axonID int, label string, values []float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.footprints[footprintKey{axonID: axonID, label: label}] = append([]float64(nil), values...)
}

func (c *Context) ClearFootprints() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.footprints = make(map[footprintKey][]float64)
}

func (c *Context) CachedFootprints() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.footprints)
}

// AxonFootprints returns copies of the cached footprints of one axon, keyed
// by electrode label.
func (c *Context) AxonFootprints(axonID int) map[string][]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string][]float64)
	for _, e := range c.entries {
		label := e.Electrode.Label()
		if fp, ok := c.footprints[footprintKey{axonID: axonID, label: label}]; ok {
			out[label] = append([]float64(nil), fp...)
		}
	}
	return out
}

// FEMCached reports whether every FEM electrode has a cached footprint for
// every axon of ids.
func (c *Context) FEMCached(ids []int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if _, ok := e.Electrode.(FEMLabeled); !ok {
			continue
		}
		for _, id := range ids {
			if _, ok := c.footprints[footprintKey{axonID: id, label: e.Electrode.Label()}]; !ok {
				return false
			}
		}
	}
	return true
}

// Clone returns a copy with its own footprint cache, for use by one worker.
func (c *Context) Clone() *Context {
	out := NewContext()
	out.entries = append([]Entry(nil), c.entries...)
	c.mu.RLock()
	defer c.mu.RUnlock()
	for k, v := range c.footprints {
		out.footprints[k] = append([]float64(nil), v...)
	}
	return out
}

// Potential combines resolved unit-current footprints with the stimuli at
// time t: Ve[k] = Σ_e S_e(t) * fp_e[k], in mV.
func (c *Context) Potential(footprints map[string][]float64, t float64, out []float64) []float64 {
	for i := range out {
		out[i] = 0
	}
	for _, e := range c.entries {
		fp := footprints[e.Electrode.Label()]
		amp := e.Stimulus.Value(t)
		if amp == 0 {
			continue
		}
		for i := range out {
			if i < len(fp) {
				out[i] += amp * fp[i]
			}
		}
	}
	return out
}

// Breakpoints returns every stimulus switching time, sorted and deduplicated.
func (c *Context) Breakpoints() []float64 {
	var times []float64
	for _, e := range c.entries {
		times = append(times, e.Stimulus.T...)
	}
	sort.Float64s(times)
	out := times[:0]
	for i, t := range times {
		if i == 0 || t != times[i-1] {
			out = append(out, t)
		}
	}
	return out
}

type entryJSON struct {
	Electrode json.RawMessage `json:"electrode"`
	Stimulus  Stimulus        `json:"stimulus"`
}

// MarshalJSON writes the entries only; footprints are a runtime cache.
func (c *Context) MarshalJSON() ([]byte, error) {
	out := make([]entryJSON, 0, len(c.entries))
	for _, e := range c.entries {
		raw, err := EncodeElectrode(e.Electrode)
		if err != nil {
			return nil, err
		}
		out = append(out, entryJSON{Electrode: raw, Stimulus: e.Stimulus})
	}
	return json.Marshal(out)
}

func (c *Context) UnmarshalJSON(data []byte) error {
	var raw []entryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	fresh := NewContext()
	for _, r := range raw {
		e, err := DecodeElectrode(r.Electrode)
		if err != nil {
			return err
		}
		if err := fresh.Add(e, r.Stimulus); err != nil {
			return err
		}
	}
	c.entries = fresh.entries
	c.footprints = fresh.footprints
	return nil
}
