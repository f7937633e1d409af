package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	outboxDomain "github.com/davicafu/formintake/internal/outbox/domain"
	sharedQuery "github.com/davicafu/formintake/internal/shared/infra/platform/query"
	"github.com/davicafu/formintake/internal/submission/domain"
)

type SubmissionRepoPostgres struct {
	db *sql.DB
}

func NewSubmissionRepoPostgres(db *sql.DB) *SubmissionRepoPostgres {
	return &SubmissionRepoPostgres{db: db}
}

// InitPostgres crea tablas e índices si no existen
func InitPostgres(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS submissions (
            id UUID PRIMARY KEY,
            business_id TEXT NOT NULL,
            franchise_id TEXT NOT NULL DEFAULT '',
            form_id TEXT NOT NULL,
            rating SMALLINT NOT NULL CHECK (rating BETWEEN 1 AND 5),
            categories JSONB NOT NULL DEFAULT '[]',
            comment TEXT NOT NULL DEFAULT '',
            staff_id TEXT NOT NULL DEFAULT '',
            device_id TEXT NOT NULL DEFAULT '',
            ip TEXT NOT NULL DEFAULT '',
            dedupe_key TEXT NOT NULL,
            created_by TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_business ON submissions (business_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_franchise ON submissions (franchise_id)`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_form ON submissions (form_id)`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_staff ON submissions (staff_id)`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_device ON submissions (device_id)`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_dedupe ON submissions (dedupe_key)`,
		`CREATE TABLE IF NOT EXISTS submission_dedupe (
            dedupe_key TEXT PRIMARY KEY,
            submission_id UUID NOT NULL,
            expires_at TIMESTAMPTZ NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS submission_outbox (
            id UUID PRIMARY KEY,
            seq BIGSERIAL,
            type TEXT NOT NULL,
            payload JSONB NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            attempts INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            locked_until TIMESTAMPTZ,
            created_at TIMESTAMPTZ NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_status ON submission_outbox (status, created_at, seq)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init postgres schema: %w", err)
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
		 VALUES ($1, $2, $3, $4, 0, $5, $6)`,
		evt.ID, evt.Type, payloadBytes, string(outboxDomain.StatusPending), evt.CreatedAt, evt.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// ------------------ Create + Outbox ------------------

// Create reclama el dedupeKey e inserta submission y evento en transacción
func (r *SubmissionRepoPostgres) Create(ctx context.Context, s *domain.Submission, evt outboxDomain.OutboxEvent) (err error) {
	categories, err := json.Marshal(s.Categories)
	if err != nil {
		return fmt.Errorf("failed to marshal categories: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO submission_dedupe (dedupe_key, submission_id, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (dedupe_key) DO NOTHING`,
		s.DedupeKey, s.ID, domain.DedupeBucketEnd(s.CreatedAt),
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
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		s.ID, s.BusinessID, s.FranchiseID, s.FormID, s.Rating, categories, s.Comment,
		s.StaffID, s.DeviceID, s.IP, s.DedupeKey, s.CreatedBy, s.CreatedAt, s.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}

	if err = insertOutboxTx(ctx, tx, evt); err != nil {
		return err
	}

	return tx.Commit()
}

// ------------------ Lecturas ------------------

const selectSubmission = `SELECT id, business_id, franchise_id, form_id, rating, categories, comment,
    staff_id, device_id, ip, dedupe_key, created_by, created_at, updated_at FROM submissions`

func scanSubmission(row interface{ Scan(...interface{}) error }) (*domain.Submission, error) {
	var (
		s          domain.Submission
		categories []byte
	)
	if err := row.Scan(&s.ID, &s.BusinessID, &s.FranchiseID, &s.FormID, &s.Rating, &categories, &s.Comment,
		&s.StaffID, &s.DeviceID, &s.IP, &s.DedupeKey, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(categories, &s.Categories); err != nil {
		return nil, fmt.Errorf("invalid categories in submission %s: %w", s.ID, err)
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return &s, nil
}

func (r *SubmissionRepoPostgres) findOne(ctx context.Context, where string, arg interface{}) (*domain.Submission, error) {
	row := r.db.QueryRowContext(ctx, selectSubmission+" WHERE "+where+" ORDER BY created_at LIMIT 1", arg)
	s, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSubmissionNotFound
	}
	return s, err
}

func (r *SubmissionRepoPostgres) FindByDedupeKey(ctx context.Context, key string) (*domain.Submission, error) {
	return r.findOne(ctx, "dedupe_key = $1", key)
}

func (r *SubmissionRepoPostgres) GetByID(ctx context.Context, id uuid.UUID) (*domain.Submission, error) {
	return r.findOne(ctx, "id = $1", id)
}

func (r *SubmissionRepoPostgres) ListByBusiness(ctx context.Context, businessID string, p sharedQuery.OffsetPagination) ([]*domain.Submission, int64, error) {
	var total int64
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM submissions WHERE business_id = $1`, businessID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx,
		selectSubmission+` WHERE business_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`,
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
var _ domain.SubmissionRepository = (*SubmissionRepoPostgres)(nil)
