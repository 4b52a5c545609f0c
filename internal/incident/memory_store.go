package incident

import (
	"context"
	"sort"
	"sync"
)

var (
	defaultCategories = []Lookup{
		{ID: 1, Name: "Hardware"},
		{ID: 2, Name: "Software"},
		{ID: 3, Name: "Network"},
		{ID: 4, Name: "Security"},
		{ID: 5, Name: "Other"},
	}
	defaultStatuses = []Lookup{
		{ID: StatusOpen, Name: "Open"},
		{ID: 2, Name: "In Progress"},
		{ID: 3, Name: "Resolved"},
		{ID: 4, Name: "Closed"},
	}
)

// MemoryStore seeds the same lookups as the SQL migrations.
type MemoryStore struct {
	mu        sync.RWMutex
	incidents map[string]Incident
	comments  map[string][]Comment
	history   map[string][]HistoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		incidents: make(map[string]Incident),
		comments:  make(map[string][]Comment),
		history:   make(map[string][]HistoryEntry),
	}
}

func (s *MemoryStore) List(_ context.Context, filter ListFilter) ([]Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Incident, 0)
	for _, i := range s.incidents {
		if filter.StatusID > 0 && i.StatusID != filter.StatusID {
			continue
		}
		if filter.CategoryID > 0 && i.CategoryID != filter.CategoryID {
			continue
		}
		if filter.AssigneeID != "" && (i.AssigneeID == nil || *i.AssigneeID != filter.AssigneeID) {
			continue
		}
		if filter.ReporterID != "" && i.ReporterID != filter.ReporterID {
			continue
		}
		out = append(out, i)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })

	if filter.Offset >= len(out) {
		return []Incident{}, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.incidents[id]
	if !ok {
		return Incident{}, ErrNotFound
	}
	return i, nil
}

func (s *MemoryStore) Create(_ context.Context, incident Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.incidents[incident.ID] = incident
	return nil
}

func (s *MemoryStore) Update(_ context.Context, incident Incident, changes []HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.incidents[incident.ID]; !ok {
		return ErrNotFound
	}
	s.incidents[incident.ID] = incident
	s.history[incident.ID] = append(s.history[incident.ID], changes...)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.incidents[id]; !ok {
		return ErrNotFound
	}
	delete(s.incidents, id)
	delete(s.comments, id)
	delete(s.history, id)
	return nil
}

func (s *MemoryStore) AddComment(_ context.Context, comment Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.incidents[comment.IncidentID]; !ok {
		return ErrNotFound
	}
	s.comments[comment.IncidentID] = append(s.comments[comment.IncidentID], comment)
	return nil
}

func (s *MemoryStore) ListComments(_ context.Context, incidentID string) ([]Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]Comment{}, s.comments[incidentID]...), nil
}

func (s *MemoryStore) ListHistory(_ context.Context, incidentID string) ([]HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]HistoryEntry{}, s.history[incidentID]...), nil
}

func (s *MemoryStore) Categories(context.Context) ([]Lookup, error) {
	return append([]Lookup{}, defaultCategories...), nil
}

func (s *MemoryStore) Statuses(context.Context) ([]Lookup, error) {
	return append([]Lookup{}, defaultStatuses...), nil
}
