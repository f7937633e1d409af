// Package memory implementa el almacén durable en memoria (STORE_URL=memory://).
// Sirve para desarrollo local y como doble de pruebas de servicios y cola.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	outboxDomain "github.com/davicafu/formintake/internal/outbox/domain"
	sharedQuery "github.com/davicafu/formintake/internal/shared/infra/platform/query"
	submissionDomain "github.com/davicafu/formintake/internal/submission/domain"
)

// Store guarda submissions, claims de dedupe y outbox bajo un único mutex,
// de modo que Create y ClaimNextPending son atómicos.
type Store struct {
	mu          sync.Mutex
	submissions map[uuid.UUID]*submissionDomain.Submission
	dedupe      map[string]time.Time // dedupeKey -> expiresAt
	outbox      []*outboxDomain.OutboxEvent
	down        bool
}

func NewStore() *Store {
	return &Store{
		submissions: make(map[uuid.UUID]*submissionDomain.Submission),
		dedupe:      make(map[string]time.Time),
	}
}

// SetDown simula la pérdida de conexión con el store.
func (s *Store) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return submissionDomain.ErrNotReady
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error { return nil }

// ------------------ Submissions ------------------

func (s *Store) Create(ctx context.Context, sub *submissionDomain.Submission, evt outboxDomain.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return submissionDomain.ErrNotReady
	}

	if expiresAt, ok := s.dedupe[sub.DedupeKey]; ok && expiresAt.After(sub.CreatedAt) {
		return submissionDomain.ErrDuplicateSubmission
	}
	s.dedupe[sub.DedupeKey] = submissionDomain.DedupeBucketEnd(sub.CreatedAt)

	stored := *sub
	s.submissions[sub.ID] = &stored

	e := evt
	s.outbox = append(s.outbox, &e)
	return nil
}

func (s *Store) FindByDedupeKey(ctx context.Context, key string) (*submissionDomain.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return nil, submissionDomain.ErrNotReady
	}
	for _, sub := range s.submissions {
		if sub.DedupeKey == key {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, submissionDomain.ErrSubmissionNotFound
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*submissionDomain.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return nil, submissionDomain.ErrNotReady
	}
	sub, ok := s.submissions[id]
	if !ok {
		return nil, submissionDomain.ErrSubmissionNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *Store) ListByBusiness(ctx context.Context, businessID string, p sharedQuery.OffsetPagination) ([]*submissionDomain.Submission, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return nil, 0, submissionDomain.ErrNotReady
	}

	var list []*submissionDomain.Submission
	for _, sub := range s.submissions {
		if sub.BusinessID == businessID {
			list = append(list, sub)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID.String() > list[j].ID.String()
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})

	total := int64(len(list))
	start := p.Offset
	if start < 0 {
		start = 0
	}
	if start > len(list) {
		start = len(list)
	}
	end := start + p.Limit
	switch {
	case p.Limit < 0:
		end = start
	case end < start || end > len(list):
		end = len(list)
	}

	page := make([]*submissionDomain.Submission, 0, end-start)
	for _, sub := range list[start:end] {
		cp := *sub
		page = append(page, &cp)
	}
	return page, total, nil
}

// Submissions devuelve el número de submissions guardadas (uso en tests).
func (s *Store) Submissions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.submissions)
}

// ------------------ Outbox ------------------

func (s *Store) ClaimNextPending(ctx context.Context, now time.Time, lease time.Duration) (*outboxDomain.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return nil, submissionDomain.ErrNotReady
	}

	var next *outboxDomain.OutboxEvent
	for _, e := range s.outbox {
		if e.Status != outboxDomain.StatusPending {
			continue
		}
		if e.LockedUntil != nil && e.LockedUntil.After(now) {
			continue
		}
		// outbox está en orden de inserción: ante empate en createdAt gana el primero
		if next == nil || e.CreatedAt.Before(next.CreatedAt) {
			next = e
		}
	}
	if next == nil {
		return nil, outboxDomain.ErrNoPendingEvents
	}

	lockedUntil := now.Add(lease)
	next.Attempts++
	next.LockedUntil = &lockedUntil
	next.UpdatedAt = now

	cp := *next
	return &cp, nil
}

func (s *Store) MarkSent(ctx context.Context, id uuid.UUID, now time.Time) error {
	return s.transition(id, outboxDomain.StatusSent, nil, now)
}

func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, lastError string, now time.Time) error {
	return s.transition(id, outboxDomain.StatusFailed, &lastError, now)
}

func (s *Store) transition(id uuid.UUID, status outboxDomain.OutboxStatus, lastError *string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return submissionDomain.ErrNotReady
	}
	for _, e := range s.outbox {
		if e.ID != id {
			continue
		}
		if e.Status != outboxDomain.StatusPending {
			return outboxDomain.ErrEventNotClaimable
		}
		e.Status = status
		e.LastError = lastError
		e.LockedUntil = nil
		e.UpdatedAt = now
		return nil
	}
	return outboxDomain.ErrEventNotClaimable
}

func (s *Store) ListPending(ctx context.Context, limit int) ([]outboxDomain.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return nil, submissionDomain.ErrNotReady
	}

	var pending []outboxDomain.OutboxEvent
	for _, e := range s.outbox {
		if e.Status == outboxDomain.StatusPending {
			pending = append(pending, *e)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// Outbox devuelve una copia de todos los eventos (uso en tests).
func (s *Store) Outbox() []outboxDomain.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]outboxDomain.OutboxEvent, 0, len(s.outbox))
	for _, e := range s.outbox {
		out = append(out, *e)
	}
	return out
}

// Verificaciones en tiempo de compilación.
var (
	_ submissionDomain.SubmissionRepository = (*Store)(nil)
	_ outboxDomain.OutboxRepository         = (*Store)(nil)
)
