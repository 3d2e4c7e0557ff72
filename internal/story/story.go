// Package story persists the user stories that elicitation rounds refine.
package story

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no story has the requested id
var ErrNotFound = errors.New("story not found")

// Record is one user story with its acceptance criteria
type Record struct {
	ID                 uuid.UUID `json:"id"`
	Title              string    `json:"title"`
	Content            string    `json:"content"`
	AcceptanceCriteria string    `json:"acceptance_criteria"`
	BusinessContext    string    `json:"business_context"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// StoryText is the story as fed to the prompt: the content followed by the
// acceptance criteria when there are any.
func (r Record) StoryText() string {
	content := strings.TrimSpace(r.Content)
	criteria := strings.TrimSpace(r.AcceptanceCriteria)
	if criteria == "" {
		return content
	}
	if content == "" {
		return "Acceptance Criteria:\n" + criteria
	}
	return content + "\n\nAcceptance Criteria:\n" + criteria
}

// Store reads and writes records in the stories table
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore wraps db, which must already contain the stories table
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

const selectColumns = "SELECT id, title, content, acceptance_criteria, business_context, created_at, updated_at FROM stories"

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var r Record
	var id string
	if err := row.Scan(&id, &r.Title, &r.Content, &r.AcceptanceCriteria, &r.BusinessContext, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return Record{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Record{}, fmt.Errorf("invalid story id %q: %w", id, err)
	}
	r.ID = parsed
	return r, nil
}

// List returns every story, oldest first
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+" ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list stories: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan story: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list stories: %w", err)
	}
	return records, nil
}

// Get loads one story
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to load story: %w", err)
	}
	return r, nil
}

// Create inserts a new story with a fresh id
func (s *Store) Create(ctx context.Context, title, content, businessContext string) (Record, error) {
	if strings.TrimSpace(title) == "" {
		return Record{}, fmt.Errorf("story title cannot be empty")
	}
	now := s.now()
	r := Record{
		ID:              uuid.New(),
		Title:           title,
		Content:         content,
		BusinessContext: businessContext,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO stories (id, title, content, acceptance_criteria, business_context, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		r.ID.String(), r.Title, r.Content, r.AcceptanceCriteria, r.BusinessContext, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return Record{}, fmt.Errorf("failed to create story: %w", err)
	}
	return r, nil
}

// Save updates the editable fields of an existing story and bumps UpdatedAt
func (s *Store) Save(ctx context.Context, r *Record) error {
	r.UpdatedAt = s.now()
	res, err := s.db.ExecContext(ctx,
		"UPDATE stories SET title = ?, content = ?, acceptance_criteria = ?, business_context = ?, updated_at = ? WHERE id = ?",
		r.Title, r.Content, r.AcceptanceCriteria, r.BusinessContext, r.UpdatedAt, r.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to save story: %w", err)
	}
	return affected(res, r.ID)
}

// Delete removes a story
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM stories WHERE id = ?", id.String())
	if err != nil {
		return fmt.Errorf("failed to delete story: %w", err)
	}
	return affected(res, id)
}

// SetBusinessContext replaces the business context of every story.
// The context describes the product, so it is shared by all its stories.
func (s *Store) SetBusinessContext(ctx context.Context, text string) (int64, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE stories SET business_context = ?, updated_at = ?", text, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to set business context: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to set business context: %w", err)
	}
	return n, nil
}

func affected(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
