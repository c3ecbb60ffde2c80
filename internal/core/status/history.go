package status

// DefaultHistoryLimit is the number of transitions kept per connection.
const DefaultHistoryLimit = 10

// History keeps the most recent transitions of one connection.
type History struct {
	limit       int
	transitions []Transition
}

// NewHistory creates a history holding at most limit transitions.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{limit: limit}
}

// Record appends a transition, dropping the oldest when full.
func (h *History) Record(t Transition) {
	if len(h.transitions) >= h.limit {
		copy(h.transitions, h.transitions[1:])
		h.transitions[len(h.transitions)-1] = t
		return
	}
	h.transitions = append(h.transitions, t)
}

// Transitions returns a copy, oldest first.
func (h *History) Transitions() []Transition {
	out := make([]Transition, len(h.transitions))
	copy(out, h.transitions)
	return out
}
