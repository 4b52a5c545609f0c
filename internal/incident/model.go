package incident

import (
	"errors"
	"time"
)

const (
	PriorityLow      = "Low"
	PriorityMedium   = "Medium"
	PriorityHigh     = "High"
	PriorityCritical = "Critical"
)

// StatusOpen is the seeded status new incidents start in.
const StatusOpen = 1

var (
	ErrNotFound   = errors.New("incident not found")
	ErrForbidden  = errors.New("forbidden")
	ErrValidation = errors.New("validation failed")
)

type Incident struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CategoryID  int       `json:"categoryId"`
	Priority    string    `json:"priority"`
	StatusID    int       `json:"statusId"`
	ReporterID  string    `json:"reporterId"`
	AssigneeID  *string   `json:"assigneeId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Lookup struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type Comment struct {
	ID         string    `json:"id"`
	IncidentID string    `json:"incidentId"`
	AuthorID   string    `json:"authorId"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"createdAt"`
}

type HistoryEntry struct {
	ID         string    `json:"id"`
	IncidentID string    `json:"incidentId"`
	ActorID    string    `json:"actorId"`
	Field      string    `json:"field"`
	OldValue   string    `json:"oldValue"`
	NewValue   string    `json:"newValue"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Input struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	CategoryID  int    `json:"categoryId"`
	Priority    string `json:"priority"`
	StatusID    int    `json:"statusId"`
}

type ListFilter struct {
	StatusID   int
	CategoryID int
	AssigneeID string
	ReporterID string
	Limit      int
	Offset     int
}

// Actor is who performs an operation.
type Actor struct {
	UserID  string
	IsAdmin bool
}
