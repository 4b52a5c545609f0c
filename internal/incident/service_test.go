package incident

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

type incidentFixture struct {
	service *Service
	store   *MemoryStore
	users   map[string]bool
	now     time.Time
}

func newIncidentFixture() *incidentFixture {
	f := &incidentFixture{
		store: NewMemoryStore(),
		users: make(map[string]bool),
		now:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.service = NewService(f.store, func(_ context.Context, id string) (bool, error) {
		return f.users[id], nil
	})
	f.service.now = func() time.Time {
		f.now = f.now.Add(time.Second)
		return f.now
	}
	return f
}

func (f *incidentFixture) user() Actor {
	id := uuid.NewString()
	f.users[id] = true
	return Actor{UserID: id}
}

func TestCreateAppliesDefaults(t *testing.T) {
	t.Parallel()

	f := newIncidentFixture()
	reporter := f.user()

	created, err := f.service.Create(context.Background(), reporter, Input{Title: "  Printer on fire  ", CategoryID: 1})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Title != "Printer on fire" {
		t.Fatalf("title should be trimmed, got %q", created.Title)
	}
	if created.StatusID != StatusOpen || created.Priority != PriorityMedium {
		t.Fatalf("unexpected defaults %+v", created)
	}
	if created.ReporterID != reporter.UserID {
		t.Fatalf("reporter should be the actor")
	}
}

func TestCreateValidates(t *testing.T) {
	t.Parallel()

	f := newIncidentFixture()
	reporter := f.user()
	ctx := context.Background()

	cases := []Input{
		{Title: "", CategoryID: 1},
		{Title: "ok", CategoryID: 99},
		{Title: "ok", CategoryID: 1, StatusID: 42},
		{Title: "ok", CategoryID: 1, Priority: "Urgent"},
	}
	for _, in := range cases {
		if _, err := f.service.Create(ctx, reporter, in); !errors.Is(err, ErrValidation) {
			t.Fatalf("%+v: expected validation error, got %v", in, err)
		}
	}
}

func TestUpdateRecordsHistoryAndChecksPermission(t *testing.T) {
	t.Parallel()

	f := newIncidentFixture()
	reporter := f.user()
	stranger := f.user()
	ctx := context.Background()

	created, err := f.service.Create(ctx, reporter, Input{Title: "VPN down", CategoryID: 3})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := f.service.Update(ctx, stranger, created.ID, Input{Title: "hijack", CategoryID: 3}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger should not edit, got %v", err)
	}

	updated, err := f.service.Update(ctx, reporter, created.ID, Input{Title: "VPN down", CategoryID: 3, Priority: PriorityHigh, StatusID: 2})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Priority != PriorityHigh || updated.StatusID != 2 {
		t.Fatalf("unexpected update %+v", updated)
	}
	if !updated.UpdatedAt.After(created.UpdatedAt) {
		t.Fatalf("updatedAt should move forward")
	}

	history, err := f.service.History(ctx, created.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(history))
	}
	if history[0].Field != "priority" || history[0].OldValue != PriorityMedium || history[0].NewValue != PriorityHigh {
		t.Fatalf("unexpected history %+v", history[0])
	}

	// no-op update writes nothing
	if _, err := f.service.Update(ctx, reporter, created.ID, Input{Title: "VPN down", CategoryID: 3}); err != nil {
		t.Fatalf("no-op update: %v", err)
	}
	if history, _ := f.service.History(ctx, created.ID); len(history) != 2 {
		t.Fatalf("no-op update should not add history, got %d", len(history))
	}
}

func TestAssignValidatesAssignee(t *testing.T) {
	t.Parallel()

	f := newIncidentFixture()
	reporter := f.user()
	assignee := f.user()
	ctx := context.Background()

	created, err := f.service.Create(ctx, reporter, Input{Title: "Disk full", CategoryID: 2})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := f.service.Assign(ctx, reporter, created.ID, "not-a-uuid"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for bad id, got %v", err)
	}
	if _, err := f.service.Assign(ctx, reporter, created.ID, uuid.NewString()); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for unknown user, got %v", err)
	}

	assigned, err := f.service.Assign(ctx, reporter, created.ID, assignee.UserID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if assigned.AssigneeID == nil || *assigned.AssigneeID != assignee.UserID {
		t.Fatalf("unexpected assignee %+v", assigned.AssigneeID)
	}

	// the assignee may now edit
	if _, err := f.service.Update(ctx, assignee, created.ID, Input{Title: "Disk full", CategoryID: 2, StatusID: 3}); err != nil {
		t.Fatalf("assignee update: %v", err)
	}

	unassigned, err := f.service.Assign(ctx, reporter, created.ID, "")
	if err != nil {
		t.Fatalf("unassign: %v", err)
	}
	if unassigned.AssigneeID != nil {
		t.Fatalf("expected no assignee")
	}

	list, err := f.service.List(ctx, ListFilter{AssigneeID: assignee.UserID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no incidents for former assignee, got %d", len(list))
	}
}

func TestDeleteOnlyByReporterOrAdmin(t *testing.T) {
	t.Parallel()

	f := newIncidentFixture()
	reporter := f.user()
	stranger := f.user()
	admin := Actor{UserID: uuid.NewString(), IsAdmin: true}
	ctx := context.Background()

	first, _ := f.service.Create(ctx, reporter, Input{Title: "one", CategoryID: 1})
	second, _ := f.service.Create(ctx, reporter, Input{Title: "two", CategoryID: 1})

	if err := f.service.Delete(ctx, stranger, first.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger delete should be forbidden, got %v", err)
	}
	if err := f.service.Delete(ctx, reporter, first.ID); err != nil {
		t.Fatalf("reporter delete: %v", err)
	}
	if err := f.service.Delete(ctx, admin, second.ID); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
	if _, err := f.service.Get(ctx, first.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted incident should be gone, got %v", err)
	}
}

func TestCommentsAndListPaging(t *testing.T) {
	t.Parallel()

	f := newIncidentFixture()
	reporter := f.user()
	ctx := context.Background()

	var ids []string
	for _, title := range []string{"a", "b", "c"} {
		created, err := f.service.Create(ctx, reporter, Input{Title: title, CategoryID: 1})
		if err != nil {
			t.Fatalf("create %s: %v", title, err)
		}
		ids = append(ids, created.ID)
	}

	page, err := f.service.List(ctx, ListFilter{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].Title != "c" {
		t.Fatalf("expected newest first, got %+v", page)
	}
	rest, _ := f.service.List(ctx, ListFilter{Limit: 2, Offset: 2})
	if len(rest) != 1 || rest[0].Title != "a" {
		t.Fatalf("unexpected second page %+v", rest)
	}

	if _, err := f.service.AddComment(ctx, reporter, ids[0], "   "); !errors.Is(err, ErrValidation) {
		t.Fatalf("blank comment should fail, got %v", err)
	}
	if _, err := f.service.AddComment(ctx, reporter, uuid.NewString(), "hello"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("comment on missing incident should 404, got %v", err)
	}
	if _, err := f.service.AddComment(ctx, reporter, ids[0], "rebooted the router"); err != nil {
		t.Fatalf("add comment: %v", err)
	}
	comments, err := f.service.Comments(ctx, ids[0])
	if err != nil || len(comments) != 1 || comments[0].AuthorID != reporter.UserID {
		t.Fatalf("unexpected comments %+v %v", comments, err)
	}
}
