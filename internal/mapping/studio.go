package mapping

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/vietddude/apiwatch/internal/core/domain"
)

// Export is the serialized mapping set of one API.
type Export struct {
	APIID      string                `json:"apiId"`
	ExportedAt time.Time             `json:"exportedAt"`
	Mappings   []domain.FieldMapping `json:"mappings"`
}

// Studio holds the mapping set built against one API's latest response.
type Studio struct {
	mu       sync.RWMutex
	apiID    string
	doc      any
	mappings []domain.FieldMapping
	now      func() time.Time
}

func NewStudio(apiID string) *Studio {
	return &Studio{apiID: apiID, now: time.Now}
}

// APIID returns the connection id the studio belongs to.
func (s *Studio) APIID() string {
	return s.apiID
}

// SetDocument replaces the sample document used for type checks.
func (s *Studio) SetDocument(doc any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc
}

// Document returns the current sample document, nil when none was seen.
func (s *Studio) Document() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc
}

// Bind validates a mapping against the current document and stores it. A
// mapping of the same widget and path is replaced.
func (s *Studio) Bind(kind WidgetKind, path string, cfg domain.WidgetConfig) (domain.FieldMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := Bind(s.doc, kind, path, cfg)
	if err != nil {
		return domain.FieldMapping{}, err
	}
	s.put(m)
	return m, nil
}

// put must run with mu held.
func (s *Studio) put(m domain.FieldMapping) {
	for i, existing := range s.mappings {
		if existing.WidgetTypeID == m.WidgetTypeID && existing.SourcePath == m.SourcePath {
			s.mappings[i] = m
			return
		}
	}
	s.mappings = append(s.mappings, m)
}

// Remove deletes a mapping. It reports whether one was removed.
func (s *Studio) Remove(kind WidgetKind, path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.mappings)
	s.mappings = slices.DeleteFunc(s.mappings, func(m domain.FieldMapping) bool {
		return m.WidgetTypeID == string(kind) && m.SourcePath == path
	})
	return len(s.mappings) != before
}

// List returns the mappings in bind order.
func (s *Studio) List() []domain.FieldMapping {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.mappings)
}

// RenderAll resolves every mapping against the current document. Mappings
// whose path no longer resolves map to nil.
func (s *Studio) RenderAll() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.mappings))
	for _, m := range s.mappings {
		key := m.WidgetTypeID + ":" + m.SourcePath
		if s.doc == nil {
			out[key] = nil
			continue
		}
		v, err := Render(s.doc, m)
		if err != nil {
			v = nil
		}
		out[key] = v
	}
	return out
}

// ExportAll serializes the mapping set.
func (s *Studio) ExportAll() ([]byte, error) {
	s.mu.RLock()
	exp := Export{
		APIID:      s.apiID,
		ExportedAt: s.now().UTC(),
		Mappings:   slices.Clone(s.mappings),
	}
	s.mu.RUnlock()

	if exp.Mappings == nil {
		exp.Mappings = []domain.FieldMapping{}
	}
	return json.MarshalIndent(exp, "", "  ")
}

// ImportAll replaces the mapping set with an export. Every mapping is
// validated first; on error nothing changes.
func (s *Studio) ImportAll(data []byte) error {
	var exp Export
	if err := json.Unmarshal(data, &exp); err != nil {
		return domain.NewValidationError("", "invalid export: %v", err)
	}

	mappings := make([]domain.FieldMapping, 0, len(exp.Mappings))
	for i, m := range exp.Mappings {
		valid, err := ValidateMapping(m)
		if err != nil {
			return fmt.Errorf("mapping %d: %w", i, err)
		}
		mappings = append(mappings, valid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings = nil
	for _, m := range mappings {
		s.put(m)
	}
	return nil
}

// Manager keeps one studio per connection.
type Manager struct {
	mu      sync.Mutex
	studios map[string]*Studio
}

func NewManager() *Manager {
	return &Manager{studios: make(map[string]*Studio)}
}

// Studio returns the studio of apiID, creating it on first use.
func (m *Manager) Studio(apiID string) *Studio {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.studios[apiID]
	if !ok {
		s = NewStudio(apiID)
		m.studios[apiID] = s
	}
	return s
}

// Observe parses a response body and makes it the sample of apiID.
func (m *Manager) Observe(apiID string, body []byte) error {
	doc, err := ParseDocument(body)
	if err != nil {
		return err
	}
	m.Studio(apiID).SetDocument(doc)
	return nil
}

// Forget drops the studio of a removed connection.
func (m *Manager) Forget(apiID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.studios, apiID)
}
