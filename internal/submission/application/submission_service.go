package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	sharedCache "github.com/davicafu/formintake/internal/shared/infra/platform/cache"
	sharedQuery "github.com/davicafu/formintake/internal/shared/infra/platform/query"
	sharedUtils "github.com/davicafu/formintake/internal/shared/infra/utils"
	"github.com/davicafu/formintake/internal/submission/domain"
	"github.com/davicafu/formintake/pkg/metrics"
)

const (
	cacheTTLSeconds = 300
	readAttempts    = 3
	readRetryDelay  = 100 * time.Millisecond
)

var listParams = sharedQuery.PageParams{DefaultLimit: 20, MaxLimit: 100}

// SubmissionService define los casos de uso de Submission.
type SubmissionService struct {
	repo     domain.SubmissionRepository
	cache    sharedCache.Cache
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time
	cacheTTL int
}

// NewSubmissionService constructor. cache puede ser nil.
func NewSubmissionService(repo domain.SubmissionRepository, cache sharedCache.Cache, m *metrics.Metrics, log *zap.Logger) *SubmissionService {
	return &SubmissionService{
		repo:     repo,
		cache:    cache,
		metrics:  m,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
		cacheTTL: cacheTTLSeconds,
	}
}

// WithClock sustituye el reloj (tests).
func (s *SubmissionService) WithClock(now func() time.Time) *SubmissionService {
	s.now = now
	return s
}

// WithCacheTTL fija el TTL en segundos de las entradas de caché.
func (s *SubmissionService) WithCacheTTL(ttlSecs int) *SubmissionService {
	if ttlSecs > 0 {
		s.cacheTTL = ttlSecs
	}
	return s
}

// CreateSubmission valida, aplica la ventana de dedupe y persiste la
// submission junto con su evento FormSubmitted.
func (s *SubmissionService) CreateSubmission(ctx context.Context, in domain.NewSubmission) (*domain.Submission, error) {
	if err := in.Validate(); err != nil {
		s.metrics.SubmissionsRejected.Inc()
		return nil, err
	}

	sub := in.Build(s.now())

	// 1. Chequeo rápido. El claim atómico de Create cubre la carrera.
	existing, err := s.repo.FindByDedupeKey(ctx, sub.DedupeKey)
	s.metrics.ObserveDB("find_by_dedupe_key", err)
	if err != nil && !errors.Is(err, domain.ErrSubmissionNotFound) {
		return nil, s.storageError("find by dedupe key", err)
	}
	if existing != nil {
		return nil, s.duplicate(sub.DedupeKey)
	}

	// 2. Submission + outbox en la misma operación
	err = s.repo.Create(ctx, sub, domain.NewFormSubmittedEvent(sub))
	if errors.Is(err, domain.ErrDuplicateSubmission) {
		s.metrics.ObserveDB("create_submission", nil)
		return nil, s.duplicate(sub.DedupeKey)
	}
	s.metrics.ObserveDB("create_submission", err)
	if err != nil {
		return nil, s.storageError("create submission", err)
	}

	s.metrics.SubmissionsCreated.Inc()
	s.log.Info("📝 Submission creada",
		zap.String("submission_id", sub.ID.String()),
		zap.String("business_id", sub.BusinessID),
		zap.String("form_id", sub.FormID),
	)

	// 3. Calentar caché sin bloquear la respuesta
	sharedCache.AsyncCacheSet(s.cache, domain.SubmissionCacheKeyByID(sub.ID), sub, s.cacheTTL, s.log)

	return sub, nil
}

// ListSubmissionsByBusiness devuelve una página ordenada por createdAt descendente.
func (s *SubmissionService) ListSubmissionsByBusiness(ctx context.Context, businessID string, page, limit int) (*domain.SubmissionPage, error) {
	page, limit = listParams.Normalize(page, limit)

	items, total, err := s.repo.ListByBusiness(ctx, businessID, sharedQuery.ToOffset(page, limit))
	s.metrics.ObserveDB("list_by_business", err)
	if err != nil {
		return nil, s.storageError("list by business", err)
	}
	if items == nil {
		items = []*domain.Submission{}
	}
	return &domain.SubmissionPage{Items: items, Total: total, Page: page, Limit: limit}, nil
}

// GetSubmission obtiene una submission (primero intenta desde cache).
func (s *SubmissionService) GetSubmission(ctx context.Context, id uuid.UUID) (*domain.Submission, error) {
	key := domain.SubmissionCacheKeyByID(id)

	// 1. Intentar cache
	if s.cache != nil {
		var cached domain.Submission
		ok, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			s.log.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
		}
		if ok {
			return &cached, nil
		}
	}

	// 2. Ir al repo con reintentos; not found no se reintenta
	var sub *domain.Submission
	var notFound bool
	err := sharedUtils.Retry(ctx, readAttempts, readRetryDelay, func() error {
		var err error
		sub, err = s.repo.GetByID(ctx, id)
		if errors.Is(err, domain.ErrSubmissionNotFound) {
			notFound = true
			return nil
		}
		return err
	})
	s.metrics.ObserveDB("get_submission", err)
	if err != nil {
		return nil, s.storageError("get submission", err)
	}
	if notFound || sub == nil {
		return nil, domain.ErrSubmissionNotFound
	}

	// 3. Actualizar cache en background
	sharedCache.AsyncCacheSet(s.cache, key, sub, s.cacheTTL, s.log)
	return sub, nil
}

func (s *SubmissionService) duplicate(key string) error {
	s.metrics.SubmissionsDuplicate.Inc()
	s.log.Info("🔁 Submission duplicada dentro de la ventana", zap.String("dedupe_key", key))
	return fmt.Errorf("%w: %s", domain.ErrDuplicateSubmission, key)
}

func (s *SubmissionService) storageError(op string, err error) error {
	s.log.Error("❌ Error de almacenamiento", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%w: %s: %v", domain.ErrStorageFailure, op, err)
}
