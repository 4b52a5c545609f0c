package incident

import "context"

// Store persists incidents and their lookups. Get-style calls return
// ErrNotFound when nothing matches.
type Store interface {
	List(ctx context.Context, filter ListFilter) ([]Incident, error)
	Get(ctx context.Context, id string) (Incident, error)
	Create(ctx context.Context, incident Incident) error
	// Update writes the incident and its history rows atomically.
	Update(ctx context.Context, incident Incident, changes []HistoryEntry) error
	Delete(ctx context.Context, id string) error

	AddComment(ctx context.Context, comment Comment) error
	ListComments(ctx context.Context, incidentID string) ([]Comment, error)
	ListHistory(ctx context.Context, incidentID string) ([]HistoryEntry, error)

	Categories(ctx context.Context) ([]Lookup, error)
	Statuses(ctx context.Context) ([]Lookup, error)
}
