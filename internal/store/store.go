package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/codelab-live/internal/model"
)

// Store reads and writes hub records in PostgreSQL.
type Store struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Store on an open pool.
func New(db *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// -----------------------------------------------------------------------------
// Messages
// -----------------------------------------------------------------------------

// InsertMessage persists a chat or direct message.
func (s *Store) InsertMessage(ctx context.Context, msg model.Message) error {
	r := toMessageRow(msg)
	_, err := s.db.Exec(ctx, `
		INSERT INTO messages (id, codelab_id, sender_id, sender_name, body, kind, target_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.ID, r.CodelabID, r.SenderID, r.SenderName, r.Body, r.Kind, r.TargetID, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages returns the room history visible to the filter's viewer,
// oldest first.
func (s *Store) ListMessages(ctx context.Context, f HistoryFilter) ([]model.Message, error) {
	query, args := historyQuery(f)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}

	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Message, error) {
		var r messageRow
		if err := row.Scan(&r.ID, &r.CodelabID, &r.SenderID, &r.SenderName, &r.Body, &r.Kind, &r.TargetID, &r.CreatedAt); err != nil {
			return model.Message{}, err
		}
		return fromMessageRow(r), nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan messages: %w", err)
	}

	// Newest rows were selected; callers want chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	s.logger.Debug("history loaded",
		"codelab_id", f.CodelabID,
		"all", f.All,
		"count", len(msgs),
	)
	return msgs, nil
}

// historyQuery builds the visibility-filtered history query.
// Attendees see room chat plus direct messages they sent or received.
func historyQuery(f HistoryFilter) (string, []any) {
	limit := f.Limit
	if limit <= 0 || limit > DefaultHistoryLimit {
		limit = DefaultHistoryLimit
	}
	before := f.Before
	if before.IsZero() {
		before = time.Now()
	}

	var b strings.Builder
	b.WriteString(`SELECT id, codelab_id, sender_id, sender_name, body, kind, target_id, created_at
		FROM messages
		WHERE codelab_id = $1 AND created_at < $2`)
	args := []any{f.CodelabID, before}

	if !f.All {
		args = append(args, f.ViewerID)
		fmt.Fprintf(&b, ` AND (kind = 'chat' OR sender_id = $%d OR target_id = $%d)`, len(args), len(args))
	}

	args = append(args, limit)
	fmt.Fprintf(&b, ` ORDER BY created_at DESC LIMIT $%d`, len(args))

	return b.String(), args
}

func toMessageRow(m model.Message) messageRow {
	r := messageRow{
		ID:         [16]byte(m.ID),
		CodelabID:  m.CodelabID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Body:       m.Body,
		Kind:       string(m.Kind),
		CreatedAt:  m.CreatedAt,
	}
	if m.Kind == model.KindDM && m.TargetID != "" {
		target := m.TargetID
		r.TargetID = &target
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	return r
}

func fromMessageRow(r messageRow) model.Message {
	m := model.Message{
		ID:         uuid.UUID(r.ID),
		CodelabID:  r.CodelabID,
		SenderID:   r.SenderID,
		SenderName: r.SenderName,
		Body:       r.Body,
		Kind:       model.MessageKind(r.Kind),
		CreatedAt:  r.CreatedAt,
	}
	if r.TargetID != nil {
		m.TargetID = *r.TargetID
	}
	return m
}

// -----------------------------------------------------------------------------
// Roster
// -----------------------------------------------------------------------------

// AttendeeName returns the display name of an attendee in a codelab.
func (s *Store) AttendeeName(ctx context.Context, codelabID, attendeeID string) (string, error) {
	var name string
	err := s.db.QueryRow(ctx, `
		SELECT name FROM attendees WHERE id = $1 AND codelab_id = $2
	`, attendeeID, codelabID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query attendee name: %w", err)
	}
	return name, nil
}

// UpdateAttendeeStep records the attendee's current step.
func (s *Store) UpdateAttendeeStep(ctx context.Context, codelabID, attendeeID string, step int) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE attendees SET current_step = $3 WHERE id = $1 AND codelab_id = $2
	`, attendeeID, codelabID, step)
	if err != nil {
		return fmt.Errorf("update attendee step: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("update attendee step %s: %w", attendeeID, ErrNotFound)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Help Requests
// -----------------------------------------------------------------------------

// CreateHelpRequest stores a pending help request.
func (s *Store) CreateHelpRequest(ctx context.Context, h model.HelpRequest) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO help_requests (id, codelab_id, attendee_id, attendee_name, step_number, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, [16]byte(h.ID), h.CodelabID, h.AttendeeID, h.AttendeeName, h.StepNumber, string(h.Status), h.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert help request: %w", err)
	}
	return nil
}

// ResolveHelpRequest marks a help request resolved and returns it.
func (s *Store) ResolveHelpRequest(ctx context.Context, codelabID string, id uuid.UUID) (model.HelpRequest, error) {
	h := model.HelpRequest{ID: id, CodelabID: codelabID}
	var status string
	var resolvedAt time.Time

	err := s.db.QueryRow(ctx, `
		UPDATE help_requests
		SET status = 'resolved', resolved_at = COALESCE(resolved_at, now())
		WHERE id = $1 AND codelab_id = $2
		RETURNING attendee_id, attendee_name, step_number, status, created_at, resolved_at
	`, [16]byte(id), codelabID).Scan(&h.AttendeeID, &h.AttendeeName, &h.StepNumber, &status, &h.CreatedAt, &resolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.HelpRequest{}, ErrNotFound
	}
	if err != nil {
		return model.HelpRequest{}, fmt.Errorf("resolve help request: %w", err)
	}

	h.Status = model.HelpStatus(status)
	h.ResolvedAt = &resolvedAt

	s.logger.Info("help request resolved",
		"codelab_id", codelabID,
		"help_id", id,
		"attendee_id", h.AttendeeID,
	)
	return h, nil
}

// -----------------------------------------------------------------------------
// Comments
// -----------------------------------------------------------------------------

// InsertComment stores a comment in a thread.
func (s *Store) InsertComment(ctx context.Context, c model.Comment) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO comments (id, codelab_id, thread_id, author_id, author_name, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, [16]byte(c.ID), c.CodelabID, c.ThreadID, c.AuthorID, c.AuthorName, c.Body, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}
