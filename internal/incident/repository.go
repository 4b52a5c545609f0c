package incident

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const incidentColumns = `id, title, description, category_id, priority, status_id, reporter_id, assignee_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (Incident, error) {
	var i Incident
	var assignee sql.NullString
	if err := row.Scan(&i.ID, &i.Title, &i.Description, &i.CategoryID, &i.Priority, &i.StatusID, &i.ReporterID, &assignee, &i.CreatedAt, &i.UpdatedAt); err != nil {
		return Incident{}, err
	}
	if assignee.Valid {
		i.AssigneeID = &assignee.String
	}
	i.CreatedAt = i.CreatedAt.UTC()
	i.UpdatedAt = i.UpdatedAt.UTC()
	return i, nil
}

func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Incident, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.StatusID > 0 {
		where = append(where, "status_id = "+arg(filter.StatusID))
	}
	if filter.CategoryID > 0 {
		where = append(where, "category_id = "+arg(filter.CategoryID))
	}
	if filter.AssigneeID != "" {
		where = append(where, "assignee_id = "+arg(filter.AssigneeID))
	}
	if filter.ReporterID != "" {
		where = append(where, "reporter_id = "+arg(filter.ReporterID))
	}

	query := `SELECT ` + incidentColumns + ` FROM incidents`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC LIMIT ` + arg(filter.Limit) + ` OFFSET ` + arg(filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	incidents := make([]Incident, 0)
	for rows.Next() {
		i, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		incidents = append(incidents, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}

	return incidents, nil
}

func (r *Repository) Get(ctx context.Context, id string) (Incident, error) {
	i, err := scanIncident(r.db.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Incident{}, ErrNotFound
		}
		return Incident{}, fmt.Errorf("query incident: %w", err)
	}
	return i, nil
}

func (r *Repository) Create(ctx context.Context, i Incident) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO incidents (id, title, description, category_id, priority, status_id, reporter_id, assignee_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, i.ID, i.Title, i.Description, i.CategoryID, i.Priority, i.StatusID, i.ReporterID, nullString(i.AssigneeID), i.CreatedAt, i.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

func (r *Repository) Update(ctx context.Context, i Incident, changes []HistoryEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin incident update tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE incidents
		SET title = $2, description = $3, category_id = $4, priority = $5, status_id = $6,
			assignee_id = $7, updated_at = $8
		WHERE id = $1
	`, i.ID, i.Title, i.Description, i.CategoryID, i.Priority, i.StatusID, nullString(i.AssigneeID), i.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update incident: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	for _, h := range changes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO incident_history (id, incident_id, actor_id, field, old_value, new_value, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, h.ID, h.IncidentID, h.ActorID, h.Field, h.OldValue, h.NewValue, h.CreatedAt); err != nil {
			return fmt.Errorf("insert incident history: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit incident update tx: %w", err)
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM incidents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete incident: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *Repository) AddComment(ctx context.Context, c Comment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO incident_comments (id, incident_id, author_id, body, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, c.ID, c.IncidentID, c.AuthorID, c.Body, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (r *Repository) ListComments(ctx context.Context, incidentID string) ([]Comment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, incident_id, author_id, body, created_at
		FROM incident_comments
		WHERE incident_id = $1
		ORDER BY created_at ASC
	`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("query comments: %w", err)
	}
	defer rows.Close()

	comments := make([]Comment, 0)
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.IncidentID, &c.AuthorID, &c.Body, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return comments, nil
}

func (r *Repository) ListHistory(ctx context.Context, incidentID string) ([]HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, incident_id, actor_id, field, old_value, new_value, created_at
		FROM incident_history
		WHERE incident_id = $1
		ORDER BY created_at ASC
	`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0)
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.ID, &h.IncidentID, &h.ActorID, &h.Field, &h.OldValue, &h.NewValue, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		entries = append(entries, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

func (r *Repository) Categories(ctx context.Context) ([]Lookup, error) {
	return r.lookups(ctx, "categories")
}

func (r *Repository) Statuses(ctx context.Context) ([]Lookup, error) {
	return r.lookups(ctx, "statuses")
}

// lookups reads one of the fixed lookup tables; table is never user input.
func (r *Repository) lookups(ctx context.Context, table string) ([]Lookup, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name FROM `+table+` ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	items := make([]Lookup, 0)
	for rows.Next() {
		var l Lookup
		if err := rows.Scan(&l.ID, &l.Name); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		items = append(items, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return items, nil
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
