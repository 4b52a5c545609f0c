package incident

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	maxTitleLength       = 150
	maxDescriptionLength = 4000
	maxCommentLength     = 2000
	defaultListLimit     = 50
	maxListLimit         = 200
)

var priorities = map[string]struct{}{
	PriorityLow:      {},
	PriorityMedium:   {},
	PriorityHigh:     {},
	PriorityCritical: {},
}

// UserChecker reports whether id names an active user.
type UserChecker func(ctx context.Context, id string) (bool, error)

type Service struct {
	store      Store
	userExists UserChecker
	now        func() time.Time
}

func NewService(store Store, userExists UserChecker) *Service {
	return &Service{
		store:      store,
		userExists: userExists,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]Incident, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.store.List(ctx, filter)
}

func (s *Service) Get(ctx context.Context, id string) (Incident, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, actor Actor, input Input) (Incident, error) {
	input = normalize(input)
	if input.StatusID == 0 {
		input.StatusID = StatusOpen
	}
	if input.Priority == "" {
		input.Priority = PriorityMedium
	}
	if err := s.validate(ctx, input); err != nil {
		return Incident{}, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Incident{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	now := s.now()
	incident := Incident{
		ID:          id.String(),
		Title:       input.Title,
		Description: input.Description,
		CategoryID:  input.CategoryID,
		Priority:    input.Priority,
		StatusID:    input.StatusID,
		ReporterID:  actor.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, incident); err != nil {
		return Incident{}, err
	}
	return incident, nil
}

// Update replaces the editable fields and records one history row per
// changed field. Reporter, assignee and admins may edit.
func (s *Service) Update(ctx context.Context, actor Actor, id string, input Input) (Incident, error) {
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return Incident{}, err
	}
	if !canEdit(actor, current) {
		return Incident{}, ErrForbidden
	}

	input = normalize(input)
	if input.StatusID == 0 {
		input.StatusID = current.StatusID
	}
	if input.Priority == "" {
		input.Priority = current.Priority
	}
	if err := s.validate(ctx, input); err != nil {
		return Incident{}, err
	}

	next := current
	next.Title = input.Title
	next.Description = input.Description
	next.CategoryID = input.CategoryID
	next.Priority = input.Priority
	next.StatusID = input.StatusID

	changes := s.diff(actor, current, next)
	if len(changes) == 0 {
		return current, nil
	}
	next.UpdatedAt = s.now()

	if err := s.store.Update(ctx, next, changes); err != nil {
		return Incident{}, err
	}
	return next, nil
}

// Assign hands the incident to assigneeID, or unassigns it when empty.
func (s *Service) Assign(ctx context.Context, actor Actor, id, assigneeID string) (Incident, error) {
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return Incident{}, err
	}
	if !canEdit(actor, current) {
		return Incident{}, ErrForbidden
	}

	assigneeID = strings.TrimSpace(assigneeID)
	if assigneeID != "" {
		if _, err := uuid.Parse(assigneeID); err != nil {
			return Incident{}, fmt.Errorf("%w: assigneeId is invalid", ErrValidation)
		}
		if s.userExists != nil {
			ok, err := s.userExists(ctx, assigneeID)
			if err != nil {
				return Incident{}, err
			}
			if !ok {
				return Incident{}, fmt.Errorf("%w: assignee does not exist", ErrValidation)
			}
		}
	}

	next := current
	next.AssigneeID = nil
	if assigneeID != "" {
		next.AssigneeID = &assigneeID
	}

	changes := s.diff(actor, current, next)
	if len(changes) == 0 {
		return current, nil
	}
	next.UpdatedAt = s.now()

	if err := s.store.Update(ctx, next, changes); err != nil {
		return Incident{}, err
	}
	return next, nil
}

// Delete is allowed to the reporter and to admins.
func (s *Service) Delete(ctx context.Context, actor Actor, id string) error {
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !actor.IsAdmin && current.ReporterID != actor.UserID {
		return ErrForbidden
	}
	return s.store.Delete(ctx, id)
}

func (s *Service) AddComment(ctx context.Context, actor Actor, incidentID, body string) (Comment, error) {
	if _, err := s.store.Get(ctx, incidentID); err != nil {
		return Comment{}, err
	}

	body = strings.TrimSpace(body)
	if body == "" {
		return Comment{}, fmt.Errorf("%w: body is required", ErrValidation)
	}
	if !utf8.ValidString(body) || utf8.RuneCountInString(body) > maxCommentLength {
		return Comment{}, fmt.Errorf("%w: body is invalid", ErrValidation)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Comment{}, fmt.Errorf("generate uuid v7: %w", err)
	}
	comment := Comment{
		ID:         id.String(),
		IncidentID: incidentID,
		AuthorID:   actor.UserID,
		Body:       body,
		CreatedAt:  s.now(),
	}
	if err := s.store.AddComment(ctx, comment); err != nil {
		return Comment{}, err
	}
	return comment, nil
}

func (s *Service) Comments(ctx context.Context, incidentID string) ([]Comment, error) {
	if _, err := s.store.Get(ctx, incidentID); err != nil {
		return nil, err
	}
	return s.store.ListComments(ctx, incidentID)
}

func (s *Service) History(ctx context.Context, incidentID string) ([]HistoryEntry, error) {
	if _, err := s.store.Get(ctx, incidentID); err != nil {
		return nil, err
	}
	return s.store.ListHistory(ctx, incidentID)
}

func (s *Service) Categories(ctx context.Context) ([]Lookup, error) {
	return s.store.Categories(ctx)
}

func (s *Service) Statuses(ctx context.Context) ([]Lookup, error) {
	return s.store.Statuses(ctx)
}

func (s *Service) validate(ctx context.Context, input Input) error {
	if input.Title == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if !utf8.ValidString(input.Title) || utf8.RuneCountInString(input.Title) > maxTitleLength {
		return fmt.Errorf("%w: title is invalid", ErrValidation)
	}
	if !utf8.ValidString(input.Description) || utf8.RuneCountInString(input.Description) > maxDescriptionLength {
		return fmt.Errorf("%w: description is invalid", ErrValidation)
	}
	if _, ok := priorities[input.Priority]; !ok {
		return fmt.Errorf("%w: priority must be Low, Medium, High or Critical", ErrValidation)
	}

	categories, err := s.store.Categories(ctx)
	if err != nil {
		return err
	}
	if !hasLookup(categories, input.CategoryID) {
		return fmt.Errorf("%w: categoryId is unknown", ErrValidation)
	}
	statuses, err := s.store.Statuses(ctx)
	if err != nil {
		return err
	}
	if !hasLookup(statuses, input.StatusID) {
		return fmt.Errorf("%w: statusId is unknown", ErrValidation)
	}
	return nil
}

func (s *Service) diff(actor Actor, before, after Incident) []HistoryEntry {
	var out []HistoryEntry
	add := func(field, oldValue, newValue string) {
		if oldValue == newValue {
			return
		}
		id, err := uuid.NewV7()
		if err != nil {
			id = uuid.New()
		}
		out = append(out, HistoryEntry{
			ID:         id.String(),
			IncidentID: before.ID,
			ActorID:    actor.UserID,
			Field:      field,
			OldValue:   oldValue,
			NewValue:   newValue,
			CreatedAt:  s.now(),
		})
	}

	add("title", before.Title, after.Title)
	add("description", before.Description, after.Description)
	add("categoryId", strconv.Itoa(before.CategoryID), strconv.Itoa(after.CategoryID))
	add("priority", before.Priority, after.Priority)
	add("statusId", strconv.Itoa(before.StatusID), strconv.Itoa(after.StatusID))
	add("assigneeId", deref(before.AssigneeID), deref(after.AssigneeID))
	return out
}

func canEdit(actor Actor, incident Incident) bool {
	if actor.IsAdmin || incident.ReporterID == actor.UserID {
		return true
	}
	return incident.AssigneeID != nil && *incident.AssigneeID == actor.UserID
}

func normalize(input Input) Input {
	input.Title = strings.TrimSpace(input.Title)
	input.Description = strings.TrimSpace(input.Description)
	input.Priority = strings.TrimSpace(input.Priority)
	return input
}

func hasLookup(items []Lookup, id int) bool {
	for _, item := range items {
		if item.ID == id {
			return true
		}
	}
	return false
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
