package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	outboxDomain "github.com/davicafu/formintake/internal/outbox/domain"
)

// OutboxRepoPostgres implementa outboxDomain.OutboxRepository.
type OutboxRepoPostgres struct {
	db *sql.DB
}

func NewOutboxRepoPostgres(db *sql.DB) *OutboxRepoPostgres {
	return &OutboxRepoPostgres{db: db}
}

const outboxColumns = `id, type, payload, status, attempts, last_error, locked_until, created_at, updated_at`

func scanOutbox(row interface{ Scan(...interface{}) error }) (*outboxDomain.OutboxEvent, error) {
	var (
		evt          outboxDomain.OutboxEvent
		payloadBytes []byte // El payload se lee como JSONB
		status       string
		lastError    sql.NullString
		lockedUntil  sql.NullTime
	)
	if err := row.Scan(&evt.ID, &evt.Type, &payloadBytes, &status, &evt.Attempts, &lastError, &lockedUntil, &evt.CreatedAt, &evt.UpdatedAt); err != nil {
		return nil, err
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, fmt.Errorf("invalid JSON payload in outbox row %s: %w", evt.ID, err)
	}
	evt.Payload = payload
	evt.Status = outboxDomain.OutboxStatus(status)
	if lastError.Valid {
		evt.LastError = &lastError.String
	}
	if lockedUntil.Valid {
		t := lockedUntil.Time.UTC()
		evt.LockedUntil = &t
	}
	evt.CreatedAt = evt.CreatedAt.UTC()
	evt.UpdatedAt = evt.UpdatedAt.UTC()
	return &evt, nil
}

// ClaimNextPending reclama el pending más antiguo. SKIP LOCKED evita que dos
// pollers concurrentes esperen por la misma fila.
func (r *OutboxRepoPostgres) ClaimNextPending(ctx context.Context, now time.Time, lease time.Duration) (*outboxDomain.OutboxEvent, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE submission_outbox
		 SET attempts = attempts + 1, locked_until = $1, updated_at = $2
		 WHERE id = (
		     SELECT id FROM submission_outbox
		     WHERE status = 'pending' AND (locked_until IS NULL OR locked_until <= $2)
		     ORDER BY created_at, seq
		     LIMIT 1
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+outboxColumns,
		now.Add(lease), now,
	)
	evt, err := scanOutbox(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, outboxDomain.ErrNoPendingEvents
	}
	return evt, err
}

func (r *OutboxRepoPostgres) MarkSent(ctx context.Context, id uuid.UUID, now time.Time) error {
	return r.transition(ctx, id, outboxDomain.StatusSent, sql.NullString{}, now)
}

func (r *OutboxRepoPostgres) MarkFailed(ctx context.Context, id uuid.UUID, lastError string, now time.Time) error {
	return r.transition(ctx, id, outboxDomain.StatusFailed, sql.NullString{String: lastError, Valid: true}, now)
}

func (r *OutboxRepoPostgres) transition(ctx context.Context, id uuid.UUID, status outboxDomain.OutboxStatus, lastError sql.NullString, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE submission_outbox SET status = $1, last_error = $2, locked_until = NULL, updated_at = $3
		 WHERE id = $4 AND status = 'pending'`,
		string(status), lastError, now, id,
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get RowsAffected: %w", err)
	}
	if rows == 0 {
		return outboxDomain.ErrEventNotClaimable
	}
	return nil
}

func (r *OutboxRepoPostgres) ListPending(ctx context.Context, limit int) ([]outboxDomain.OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+outboxColumns+` FROM submission_outbox
		 WHERE status = 'pending' ORDER BY created_at, seq LIMIT $1`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []outboxDomain.OutboxEvent{}
	for rows.Next() {
		evt, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *evt)
	}
	return events, rows.Err()
}

// Verificación en tiempo de compilación.
var _ outboxDomain.OutboxRepository = (*OutboxRepoPostgres)(nil)
