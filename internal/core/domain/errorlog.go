package domain

import (
	"encoding/json"
	"time"
)

// DefaultErrorLogCapacity bounds the per-connection error history.
const DefaultErrorLogCapacity = 50

// ErrorEntry is one recorded probe failure.
type ErrorEntry struct {
	At      time.Time `json:"at"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// ErrorLog is a fixed-size ring buffer of errors. Entries are read newest first;
// once full, each push drops the oldest entry.
type ErrorLog struct {
	buf  []ErrorEntry
	head int // next write position
	size int
}

// NewErrorLog creates an empty log holding at most capacity entries.
func NewErrorLog(capacity int) *ErrorLog {
	if capacity <= 0 {
		capacity = DefaultErrorLogCapacity
	}
	return &ErrorLog{buf: make([]ErrorEntry, capacity)}
}

// Push records an entry.
func (l *ErrorLog) Push(e ErrorEntry) {
	l.buf[l.head] = e
	l.head = (l.head + 1) % len(l.buf)
	if l.size < len(l.buf) {
		l.size++
	}
}

// Len returns the number of stored entries.
func (l *ErrorLog) Len() int {
	if l == nil {
		return 0
	}
	return l.size
}

// Entries returns a copy of the entries, newest first.
func (l *ErrorLog) Entries() []ErrorEntry {
	if l == nil {
		return nil
	}
	out := make([]ErrorEntry, 0, l.size)
	for i := 1; i <= l.size; i++ {
		idx := (l.head - i + len(l.buf)) % len(l.buf)
		out = append(out, l.buf[idx])
	}
	return out
}

// Latest returns the most recent entry.
func (l *ErrorLog) Latest() (ErrorEntry, bool) {
	if l.Len() == 0 {
		return ErrorEntry{}, false
	}
	return l.buf[(l.head-1+len(l.buf))%len(l.buf)], true
}

// Clone returns an independent copy.
func (l *ErrorLog) Clone() *ErrorLog {
	if l == nil {
		return nil
	}
	out := &ErrorLog{
		buf:  make([]ErrorEntry, len(l.buf)),
		head: l.head,
		size: l.size,
	}
	copy(out.buf, l.buf)
	return out
}

func (l *ErrorLog) MarshalJSON() ([]byte, error) {
	entries := l.Entries()
	if entries == nil {
		entries = []ErrorEntry{}
	}
	return json.Marshal(entries)
}

// UnmarshalJSON restores a log from a newest-first list.
func (l *ErrorLog) UnmarshalJSON(data []byte) error {
	var entries []ErrorEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	capacity := len(l.buf)
	if capacity == 0 {
		capacity = max(DefaultErrorLogCapacity, len(entries))
	}
	*l = *NewErrorLog(capacity)
	for i := len(entries) - 1; i >= 0; i-- {
		l.Push(entries[i])
	}
	return nil
}
