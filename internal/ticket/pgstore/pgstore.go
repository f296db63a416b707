// Package pgstore provides a PostgreSQL implementation of ticket.Store and
// ticket.UserStore.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/ticketflow/internal/ticket"
)

var tracer = otel.Tracer("github.com/linnemanlabs/ticketflow/internal/ticket/pgstore")

// Store reads and writes tickets and users in PostgreSQL. The pool is owned
// by the caller.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a Store on pool. The schema must already be applied.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const ticketColumns = `id, title, description, status, COALESCE(created_by, ''), assigned_to, summary,
	priority, helpful_notes, related_skills, to_char(deadline, 'YYYY-MM-DD'), created_at, updated_at`

const userColumns = `id, email, role, skills, created_at`

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "pgstore."+name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Get retrieves a ticket by ID.
func (s *Store) Get(ctx context.Context, id string) (*ticket.Ticket, error) {
	ctx, span := startSpan(ctx, "Get", "SELECT")
	defer span.End()

	t, err := scanTicket(s.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id))
	if err != nil {
		if !errors.Is(err, ticket.ErrNotFound) {
			fail(span, err)
		}
		return nil, err
	}
	return t, nil
}

// Update writes the set fields of patch in one statement and returns the
// stored ticket. A guarded status is written only when the current status
// matches the guard.
func (s *Store) Update(ctx context.Context, id string, patch ticket.Patch) (*ticket.Ticket, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	if patch.Empty() {
		return s.Get(ctx, id)
	}

	ctx, span := startSpan(ctx, "Update", "UPDATE")
	defer span.End()

	query, args := updateQuery(id, patch)
	t, err := scanTicket(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		err = mapWriteError(err)
		if !errors.Is(err, ticket.ErrNotFound) {
			fail(span, err)
		}
		return nil, err
	}
	return t, nil
}

func updateQuery(id string, p ticket.Patch) (string, []any) {
	args := []any{id}
	sets := []string{"updated_at = now()"}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if p.Status != nil {
		if p.StatusIf != nil {
			guard := arg(string(*p.StatusIf))
			sets = append(sets, fmt.Sprintf("status = CASE WHEN status = %s THEN %s ELSE status END", guard, arg(string(*p.Status))))
		} else {
			sets = append(sets, "status = "+arg(string(*p.Status)))
		}
	}
	if p.AssignedTo != nil {
		sets = append(sets, "assigned_to = "+arg(*p.AssignedTo))
	}
	if p.Summary != nil {
		sets = append(sets, "summary = "+arg(*p.Summary))
	}
	if p.Priority != nil {
		sets = append(sets, "priority = "+arg(string(*p.Priority)))
	}
	if p.HelpfulNotes != nil {
		sets = append(sets, "helpful_notes = "+arg(*p.HelpfulNotes))
	}
	if p.RelatedSkills != nil {
		sets = append(sets, "related_skills = "+arg(p.RelatedSkills))
	}
	if p.Deadline.Set {
		// the text cast lets postgres reject an unparsable date
		sets = append(sets, "deadline = CAST("+arg(p.Deadline.Value)+"::text AS date)")
	}

	return `UPDATE tickets SET ` + strings.Join(sets, ", ") + ` WHERE id = $1 RETURNING ` + ticketColumns, args
}

// mapWriteError turns field rejections into ticket.ErrInvalid.
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "22007", "22008", "22P02", "23514", "23503":
			return fmt.Errorf("%w: %s", ticket.ErrInvalid, pgErr.Message)
		}
	}
	return err
}

// PutTicket inserts or replaces t. Used for seeding.
func (s *Store) PutTicket(ctx context.Context, t *ticket.Ticket) error {
	ctx, span := startSpan(ctx, "PutTicket", "UPSERT")
	defer span.End()

	var priority *string
	if t.Priority != nil {
		p := string(*t.Priority)
		priority = &p
	}
	var createdBy *string
	if t.CreatedBy != "" {
		createdBy = &t.CreatedBy
	}
	skills := t.RelatedSkills
	if skills == nil {
		skills = []string{}
	}

	_, err := s.pool.Exec(ctx, `INSERT INTO tickets (
		id, title, description, status, created_by, assigned_to, summary, priority,
		helpful_notes, related_skills, deadline, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, CAST($11::text AS date), $12, $13)
	ON CONFLICT (id) DO UPDATE SET
		title          = EXCLUDED.title,
		description    = EXCLUDED.description,
		status         = EXCLUDED.status,
		created_by     = EXCLUDED.created_by,
		assigned_to    = EXCLUDED.assigned_to,
		summary        = EXCLUDED.summary,
		priority       = EXCLUDED.priority,
		helpful_notes  = EXCLUDED.helpful_notes,
		related_skills = EXCLUDED.related_skills,
		deadline       = EXCLUDED.deadline,
		updated_at     = EXCLUDED.updated_at`,
		t.ID, t.Title, t.Description, string(t.Status), createdBy, t.AssignedTo, t.Summary, priority,
		t.HelpfulNotes, skills, t.Deadline, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		err = mapWriteError(err)
		fail(span, err)
		return fmt.Errorf("upsert ticket %s: %w", t.ID, err)
	}
	return nil
}

// DeleteTicket removes a ticket.
func (s *Store) DeleteTicket(ctx context.Context, id string) error {
	ctx, span := startSpan(ctx, "DeleteTicket", "DELETE")
	defer span.End()

	if _, err := s.pool.Exec(ctx, `DELETE FROM tickets WHERE id = $1`, id); err != nil {
		fail(span, err)
		return fmt.Errorf("delete ticket %s: %w", id, err)
	}
	return nil
}

// PutUser inserts or replaces u. Used for seeding.
func (s *Store) PutUser(ctx context.Context, u *ticket.User) error {
	ctx, span := startSpan(ctx, "PutUser", "UPSERT")
	defer span.End()

	skills := u.Skills
	if skills == nil {
		skills = []string{}
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO users (`+userColumns+`)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO UPDATE SET
		email      = EXCLUDED.email,
		role       = EXCLUDED.role,
		skills     = EXCLUDED.skills,
		created_at = EXCLUDED.created_at`,
		u.ID, u.Email, string(u.Role), skills, u.CreatedAt,
	)
	if err != nil {
		fail(span, err)
		return fmt.Errorf("upsert user %s: %w", u.ID, err)
	}
	return nil
}

// FindModerator returns the earliest-created moderator with a skill
// matching any of skillTerms. The pattern from ticket.SkillPattern is a
// valid postgres ARE, embedded (?i) included.
func (s *Store) FindModerator(ctx context.Context, skillTerms []string) (*ticket.User, bool, error) {
	pattern, ok := ticket.SkillPattern(skillTerms)
	if !ok {
		return nil, false, nil
	}
	return s.firstUser(ctx, "FindModerator",
		`SELECT `+userColumns+` FROM users
		 WHERE role = 'moderator' AND EXISTS (SELECT 1 FROM unnest(skills) AS s WHERE s ~ $1)
		 ORDER BY created_at, id LIMIT 1`,
		pattern,
	)
}

// FindAnyModerator returns the earliest-created moderator.
func (s *Store) FindAnyModerator(ctx context.Context) (*ticket.User, bool, error) {
	return s.firstUser(ctx, "FindAnyModerator",
		`SELECT `+userColumns+` FROM users WHERE role = 'moderator' ORDER BY created_at, id LIMIT 1`)
}

// FindAnyAdmin returns the earliest-created admin.
func (s *Store) FindAnyAdmin(ctx context.Context) (*ticket.User, bool, error) {
	return s.firstUser(ctx, "FindAnyAdmin",
		`SELECT `+userColumns+` FROM users WHERE role = 'admin' ORDER BY created_at, id LIMIT 1`)
}

func (s *Store) firstUser(ctx context.Context, name, query string, args ...any) (*ticket.User, bool, error) {
	ctx, span := startSpan(ctx, name, "SELECT")
	defer span.End()

	var (
		u    ticket.User
		role string
	)
	err := s.pool.QueryRow(ctx, query, args...).Scan(&u.ID, &u.Email, &role, &u.Skills, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		fail(span, err)
		return nil, false, fmt.Errorf("%s: %w", name, err)
	}
	u.Role = ticket.Role(role)
	return &u, true, nil
}

func scanTicket(row pgx.Row) (*ticket.Ticket, error) {
	var (
		t        ticket.Ticket
		status   string
		priority *string
	)
	err := row.Scan(
		&t.ID, &t.Title, &t.Description, &status, &t.CreatedBy, &t.AssignedTo, &t.Summary,
		&priority, &t.HelpfulNotes, &t.RelatedSkills, &t.Deadline, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ticket.ErrNotFound
		}
		return nil, fmt.Errorf("scan ticket: %w", err)
	}
	t.Status = ticket.Status(status)
	if priority != nil {
		p := ticket.Priority(*priority)
		t.Priority = &p
	}
	return &t, nil
}
