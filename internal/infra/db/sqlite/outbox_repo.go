package sqlite

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

// OutboxRepoSQLite implementa outboxDomain.OutboxRepository sobre submission_outbox.
// El esquema lo crea InitSQLite del repositorio de submissions.
type OutboxRepoSQLite struct {
	db *sql.DB
}

func NewOutboxRepoSQLite(db *sql.DB) *OutboxRepoSQLite {
	return &OutboxRepoSQLite{db: db}
}

const outboxColumns = `id, type, payload, status, attempts, last_error, locked_until, created_at, updated_at`

func scanOutbox(row interface{ Scan(...interface{}) error }) (*outboxDomain.OutboxEvent, error) {
	var (
		evt         outboxDomain.OutboxEvent
		idStr       string
		payloadStr  string
		status      string
		lastError   sql.NullString
		lockedUntil sql.NullInt64
		createdAt   int64
		updatedAt   int64
	)
	if err := row.Scan(&idStr, &evt.Type, &payloadStr, &status, &evt.Attempts, &lastError, &lockedUntil, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	// El ID se guarda como TEXT, por lo que lo parseamos de nuevo.
	parsedID, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid UUID in outbox row: %w", err)
	}
	evt.ID = parsedID

	if err := json.Unmarshal([]byte(payloadStr), &evt.Payload); err != nil {
		return nil, fmt.Errorf("invalid JSON payload in outbox row %s: %w", idStr, err)
	}

	evt.Status = outboxDomain.OutboxStatus(status)
	if lastError.Valid {
		evt.LastError = &lastError.String
	}
	if lockedUntil.Valid {
		t := time.Unix(0, lockedUntil.Int64).UTC()
		evt.LockedUntil = &t
	}
	evt.CreatedAt = time.Unix(0, createdAt).UTC()
	evt.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &evt, nil
}

// ClaimNextPending reclama el pending más antiguo sin lease vigente con un único UPDATE atómico.
func (r *OutboxRepoSQLite) ClaimNextPending(ctx context.Context, now time.Time, lease time.Duration) (*outboxDomain.OutboxEvent, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE submission_outbox
		 SET attempts = attempts + 1, locked_until = ?, updated_at = ?
		 WHERE id = (
		     SELECT id FROM submission_outbox
		     WHERE status = 'pending' AND (locked_until IS NULL OR locked_until <= ?)
		     ORDER BY created_at, rowid
		     LIMIT 1
		 ) AND status = 'pending'
		 RETURNING `+outboxColumns,
		now.Add(lease).UnixNano(), now.UnixNano(), now.UnixNano(),
	)
	evt, err := scanOutbox(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, outboxDomain.ErrNoPendingEvents
	}
	return evt, err
}

func (r *OutboxRepoSQLite) MarkSent(ctx context.Context, id uuid.UUID, now time.Time) error {
	return r.transition(ctx, id, outboxDomain.StatusSent, sql.NullString{}, now)
}

func (r *OutboxRepoSQLite) MarkFailed(ctx context.Context, id uuid.UUID, lastError string, now time.Time) error {
	return r.transition(ctx, id, outboxDomain.StatusFailed, sql.NullString{String: lastError, Valid: true}, now)
}

// transition solo mueve eventos pending; los terminales no se revisitan.
func (r *OutboxRepoSQLite) transition(ctx context.Context, id uuid.UUID, status outboxDomain.OutboxStatus, lastError sql.NullString, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE submission_outbox SET status = ?, last_error = ?, locked_until = NULL, updated_at = ?
		 WHERE id = ? AND status = 'pending'`,
		string(status), lastError, now.UnixNano(), id.String(),
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

// ListPending obtiene los eventos pending del más antiguo al más nuevo.
func (r *OutboxRepoSQLite) ListPending(ctx context.Context, limit int) ([]outboxDomain.OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+outboxColumns+` FROM submission_outbox
		 WHERE status = 'pending'
		 ORDER BY created_at, rowid
		 LIMIT ?`, limit,
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
var _ outboxDomain.OutboxRepository = (*OutboxRepoSQLite)(nil)
