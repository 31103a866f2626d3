// Package stability decides when progressively revealed slot values are final.
//
// Each slot moves Pending -> Stabilizing -> Complete. A slot commits its value
// once it has been read valid on threshold consecutive extractions; after that
// the slot is frozen and later reads, valid or not, never change it.
package stability

import (
	"strings"

	"github.com/JakeFAU/realtime-draw-watcher/internal/draw"
)

// State is the lifecycle position of one slot.
type State int

const (
	// Pending slots have no valid read in the current streak.
	Pending State = iota
	// Stabilizing slots have a valid streak shorter than the threshold.
	Stabilizing
	// Complete slots have committed their value.
	Complete
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Stabilizing:
		return "stabilizing"
	case Complete:
		return "complete"
	default:
		return "unknown"
	}
}

type slot struct {
	state     State
	count     int
	tentative string
	committed string
}

// Tracker holds the per-slot state of one target. It is not safe for
// concurrent use; a session owns one tracker per target.
type Tracker struct {
	schema draw.Schema
	slots  map[string][]slot
}

// New creates a tracker with every slot pending.
func New(schema draw.Schema) *Tracker {
	slots := make(map[string][]slot, len(schema))
	for _, f := range schema {
		slots[f.Key] = make([]slot, f.Slots)
	}
	return &Tracker{schema: schema, slots: slots}
}

// Observe applies one extraction's candidates and returns the keys of fields
// whose committed values changed. Missing or surplus slot values are treated
// as invalid reads and ignored respectively.
func (t *Tracker) Observe(candidates draw.Candidates) []string {
	var changed []string
	for _, spec := range t.schema {
		raw := candidates[spec.Key]
		slots := t.slots[spec.Key]
		fieldChanged := false
		for i := range slots {
			value := ""
			if i < len(raw) {
				value = raw[i]
			}
			if observeSlot(&slots[i], spec, value) {
				fieldChanged = true
			}
		}
		if fieldChanged {
			changed = append(changed, spec.Key)
		}
	}
	return changed
}

// observeSlot returns true when the slot committed a value on this read.
func observeSlot(s *slot, spec draw.FieldSpec, raw string) bool {
	if s.state == Complete {
		return false
	}
	if !draw.Validate(spec, raw) {
		s.count = 0
		s.tentative = ""
		s.state = Pending
		return false
	}
	s.count++
	s.tentative = strings.TrimSpace(raw)
	if s.count >= spec.StabilityThreshold() {
		s.committed = s.tentative
		s.tentative = ""
		s.state = Complete
		return true
	}
	s.state = Stabilizing
	return false
}

// Committed returns a copy of the committed values, with Placeholder for
// slots that have not committed.
func (t *Tracker) Committed() map[string][]string {
	out := make(map[string][]string, len(t.schema))
	for _, spec := range t.schema {
		slots := t.slots[spec.Key]
		vals := make([]string, len(slots))
		for i, s := range slots {
			if s.state == Complete {
				vals[i] = s.committed
			} else {
				vals[i] = draw.Placeholder
			}
		}
		out[spec.Key] = vals
	}
	return out
}

// SlotState reports the state of one slot.
func (t *Tracker) SlotState(field string, index int) State {
	slots, ok := t.slots[field]
	if !ok || index < 0 || index >= len(slots) {
		return Pending
	}
	return slots[index].state
}

// FieldComplete reports whether every slot of field has committed.
func (t *Tracker) FieldComplete(field string) bool {
	slots, ok := t.slots[field]
	if !ok {
		return false
	}
	for _, s := range slots {
		if s.state != Complete {
			return false
		}
	}
	return true
}

// CompletedFields counts fields whose slots have all committed.
func (t *Tracker) CompletedFields() int {
	n := 0
	for _, spec := range t.schema {
		if t.FieldComplete(spec.Key) {
			n++
		}
	}
	return n
}

// Complete reports whether every field has completed.
func (t *Tracker) Complete() bool {
	return t.CompletedFields() == len(t.schema)
}

// HasData reports whether any slot has committed.
func (t *Tracker) HasData() bool {
	for _, slots := range t.slots {
		for _, s := range slots {
			if s.state == Complete {
				return true
			}
		}
	}
	return false
}
