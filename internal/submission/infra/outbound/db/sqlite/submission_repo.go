package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	outboxDomain "github.com/davicafu/formintake/internal/outbox/domain"
	sharedQuery "github.com/davicafu/formintake/internal/shared/infra/platform/query"
	"github.com/davicafu/formintake/internal/submission/domain"
)

// Los instantes se guardan como INTEGER (UnixNano, UTC) para ordenar y comparar sin ambigüedad.

type SubmissionRepoSQLite struct {
	db *sql.DB
}

func NewSubmissionRepoSQLite(db *sql.DB) *SubmissionRepoSQLite {
	return &SubmissionRepoSQLite{db: db}
}

// InitSQLite crea las tablas submissions, submission_dedupe y submission_outbox si no existen
func InitSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS submissions (
            id TEXT PRIMARY KEY,
            business_id TEXT NOT NULL,
            franchise_id TEXT NOT NULL DEFAULT '',
            form_id TEXT NOT NULL,
            rating INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
            categories TEXT NOT NULL DEFAULT '[]',
            comment TEXT NOT NULL DEFAULT '',
            staff_id TEXT NOT NULL DEFAULT '',
            device_id TEXT NOT NULL DEFAULT '',
            ip TEXT NOT NULL DEFAULT '',
            dedupe_key TEXT NOT NULL,
            created_by TEXT NOT NULL DEFAULT '',
            created_at INTEGER NOT NULL,
            updated_at INTEGER NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_business ON submissions (business_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_franchise ON submissions (franchise_id)`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_form ON submissions (form_id)`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_staff ON submissions (staff_id)`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_device ON submissions (device_id)`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_dedupe ON submissions (dedupe_key)`,
		`CREATE TABLE IF NOT EXISTS submission_dedupe (
            dedupe_key TEXT PRIMARY KEY,
            submission_id TEXT NOT NULL,
            expires_at INTEGER NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS submission_outbox (
            id TEXT PRIMARY KEY,
            type TEXT NOT NULL,
            payload TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            attempts INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            locked_until INTEGER,
            created_at INTEGER NOT NULL,
            updated_at INTEGER NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_status ON submission_outbox (status, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init sqlite schema: %w", err)
		}
	}
	return nil
}

// ------------------ Helper DRY para insertar en outbox ------------------

func insertOutboxTx(ctx context.Context, tx *sql.Tx, evt outboxDomain.OutboxEvent) error {
	payloadBytes, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal outbox payload: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO submission_outbox (id, type, payload, status, attempts, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?)`,
		evt.ID.String(), evt.Type, string(payloadBytes), string(outboxDomain.StatusPending),
		evt.CreatedAt.UnixNano(), evt.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// ------------------ Métodos ------------------

// Create reclama el dedupeKey e inserta submission y evento en una transacción
func (r *SubmissionRepoSQLite) Create(ctx context.Context, s *domain.Submission, evt outboxDomain.OutboxEvent) (err error) {
	categories, err := json.Marshal(s.Categories)
	if err != nil {
		return fmt.Errorf("failed to marshal categories: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// Los claims vencidos del mismo key no pueden repetirse: el bucket forma parte del key.
	res, err := tx.ExecContext(ctx,
		`INSERT INTO submission_dedupe (dedupe_key, submission_id, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT (dedupe_key) DO NOTHING`,
		s.DedupeKey, s.ID.String(), domain.DedupeBucketEnd(s.CreatedAt).UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("claim dedupe key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = domain.ErrDuplicateSubmission
		return err
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO submissions (id, business_id, franchise_id, form_id, rating, categories, comment,
		     staff_id, device_id, ip, dedupe_key, created_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID.String(), s.BusinessID, s.FranchiseID, s.FormID, s.Rating, string(categories), s.Comment,
		s.StaffID, s.DeviceID, s.IP, s.DedupeKey, s.CreatedBy, s.CreatedAt.UnixNano(), s.UpdatedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}

	if err = insertOutboxTx(ctx, tx, evt); err != nil {
		return err
	}

	return tx.Commit()
}

const selectSubmission = `SELECT id, business_id, franchise_id, form_id, rating, categories, comment,
    staff_id, device_id, ip, dedupe_key, created_by, created_at, updated_at FROM submissions`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSubmission(row scanner) (*domain.Submission, error) {
	var (
		s          domain.Submission
		idStr      string
		categories string
		createdAt  int64
		updatedAt  int64
	)
	if err := row.Scan(&idStr, &s.BusinessID, &s.FranchiseID, &s.FormID, &s.Rating, &categories, &s.Comment,
		&s.StaffID, &s.DeviceID, &s.IP, &s.DedupeKey, &s.CreatedBy, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	parsedID, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid UUID in DB: %w", err)
	}
	s.ID = parsedID

	if err := json.Unmarshal([]byte(categories), &s.Categories); err != nil {
		return nil, fmt.Errorf("invalid categories in submission %s: %w", idStr, err)
	}
	s.CreatedAt = time.Unix(0, createdAt).UTC()
	s.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &s, nil
}

func (r *SubmissionRepoSQLite) findOne(ctx context.Context, where string, arg interface{}) (*domain.Submission, error) {
	row := r.db.QueryRowContext(ctx, selectSubmission+" WHERE "+where+" ORDER BY created_at LIMIT 1", arg)
	s, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSubmissionNotFound
	}
	return s, err
}

func (r *SubmissionRepoSQLite) FindByDedupeKey(ctx context.Context, key string) (*domain.Submission, error) {
	return r.findOne(ctx, "dedupe_key = ?", key)
}

func (r *SubmissionRepoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*domain.Submission, error) {
	return r.findOne(ctx, "id = ?", id.String())
}

// ListByBusiness devuelve la página pedida (más nuevas primero) y el total del negocio
func (r *SubmissionRepoSQLite) ListByBusiness(ctx context.Context, businessID string, p sharedQuery.OffsetPagination) ([]*domain.Submission, int64, error) {
	var total int64
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM submissions WHERE business_id = ?`, businessID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx,
		selectSubmission+` WHERE business_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		businessID, p.Limit, p.Offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := []*domain.Submission{}
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

// Verificación en tiempo de compilación.
var _ domain.SubmissionRepository = (*SubmissionRepoSQLite)(nil)
