// Package storetest contiene la batería de pruebas común a todos los backends
// del almacén durable (memoria, SQLite, Postgres, MongoDB).
package storetest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	outboxDomain "github.com/davicafu/formintake/internal/outbox/domain"
	sharedQuery "github.com/davicafu/formintake/internal/shared/infra/platform/query"
	submissionDomain "github.com/davicafu/formintake/internal/submission/domain"
)

// Backend es un store recién creado y vacío.
type Backend struct {
	Submissions submissionDomain.SubmissionRepository
	Outbox      outboxDomain.OutboxRepository
}

// Factory crea un Backend aislado para cada subtest.
type Factory func(t *testing.T) Backend

// Base es el instante de referencia de los datos sembrados.
var Base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// NewSubmission construye una submission válida creada en at.
func NewSubmission(businessID, formID, deviceID string, at time.Time) *submissionDomain.Submission {
	return submissionDomain.NewSubmission{
		BusinessID: businessID,
		FormID:     formID,
		Rating:     5,
		Categories: []submissionDomain.Category{{Key: "service", Score: 4}},
		Comment:    "great",
		DeviceID:   deviceID,
		IP:         "10.0.0.1",
		CreatedBy:  "user-1",
	}.Build(at)
}

func seed(t *testing.T, b Backend, n int) []*submissionDomain.Submission {
	t.Helper()
	ctx := context.Background()
	subs := make([]*submissionDomain.Submission, 0, n)
	for i := 0; i < n; i++ {
		s := NewSubmission("biz-1", "form-1", fmt.Sprintf("dev-%d", i), Base.Add(time.Duration(i)*time.Second))
		require.NoError(t, b.Submissions.Create(ctx, s, submissionDomain.NewFormSubmittedEvent(s)))
		subs = append(subs, s)
	}
	return subs
}

// Run ejecuta todas las pruebas de conformidad contra el backend.
func Run(t *testing.T, newBackend Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newBackend(t)) })
	t.Run("DuplicateDedupeKey", func(t *testing.T) { testDuplicateDedupeKey(t, newBackend(t)) })
	t.Run("FindByDedupeKey", func(t *testing.T) { testFindByDedupeKey(t, newBackend(t)) })
	t.Run("ListByBusinessPagination", func(t *testing.T) { testListByBusiness(t, newBackend(t)) })
	t.Run("ClaimOldestFirst", func(t *testing.T) { testClaimOldestFirst(t, newBackend(t)) })
	t.Run("ClaimSameInstantInsertionOrder", func(t *testing.T) { testClaimSameInstant(t, newBackend(t)) })
	t.Run("ClaimNoneAvailable", func(t *testing.T) { testClaimNone(t, newBackend(t)) })
	t.Run("ConcurrentClaims", func(t *testing.T) { testConcurrentClaims(t, newBackend(t)) })
	t.Run("LeaseExpiry", func(t *testing.T) { testLeaseExpiry(t, newBackend(t)) })
	t.Run("TerminalTransitions", func(t *testing.T) { testTerminalTransitions(t, newBackend(t)) })
}

func testCreateAndGet(t *testing.T, b Backend) {
	ctx := context.Background()
	s := NewSubmission("biz-1", "form-1", "dev-1", Base)
	s.FranchiseID = "fr-1"
	s.StaffID = "staff-1"
	require.NoError(t, b.Submissions.Create(ctx, s, submissionDomain.NewFormSubmittedEvent(s)))

	got, err := b.Submissions.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, "biz-1", got.BusinessID)
	assert.Equal(t, "fr-1", got.FranchiseID)
	assert.Equal(t, "form-1", got.FormID)
	assert.Equal(t, 5, got.Rating)
	assert.Equal(t, []submissionDomain.Category{{Key: "service", Score: 4}}, got.Categories)
	assert.Equal(t, "great", got.Comment)
	assert.Equal(t, "staff-1", got.StaffID)
	assert.Equal(t, "dev-1", got.DeviceID)
	assert.Equal(t, "10.0.0.1", got.IP)
	assert.Equal(t, s.DedupeKey, got.DedupeKey)
	assert.Equal(t, "user-1", got.CreatedBy)
	assert.True(t, s.CreatedAt.Equal(got.CreatedAt), "createdAt %s != %s", s.CreatedAt, got.CreatedAt)

	_, err = b.Submissions.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, submissionDomain.ErrSubmissionNotFound)

	pending, err := b.Outbox.ListPending(ctx, 50)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, submissionDomain.FormSubmitted, pending[0].Type)
	assert.Equal(t, s.ID.String(), pending[0].Payload["submissionId"])
	assert.Equal(t, outboxDomain.StatusPending, pending[0].Status)
	assert.Equal(t, 0, pending[0].Attempts)
}

func testDuplicateDedupeKey(t *testing.T, b Backend) {
	ctx := context.Background()
	first := NewSubmission("biz-1", "form-1", "dev-1", Base)
	require.NoError(t, b.Submissions.Create(ctx, first, submissionDomain.NewFormSubmittedEvent(first)))

	// Mismo form y dispositivo dentro del mismo bucket de 15 minutos
	second := NewSubmission("biz-1", "form-1", "dev-1", Base.Add(time.Minute))
	require.Equal(t, first.DedupeKey, second.DedupeKey)

	err := b.Submissions.Create(ctx, second, submissionDomain.NewFormSubmittedEvent(second))
	assert.ErrorIs(t, err, submissionDomain.ErrDuplicateSubmission)

	_, err = b.Submissions.GetByID(ctx, second.ID)
	assert.ErrorIs(t, err, submissionDomain.ErrSubmissionNotFound)

	pending, err := b.Outbox.ListPending(ctx, 50)
	require.NoError(t, err)
	assert.Len(t, pending, 1, "un duplicado no debe encolar eventos")
}

func testFindByDedupeKey(t *testing.T, b Backend) {
	ctx := context.Background()
	s := NewSubmission("biz-1", "form-1", "dev-1", Base)
	require.NoError(t, b.Submissions.Create(ctx, s, submissionDomain.NewFormSubmittedEvent(s)))

	got, err := b.Submissions.FindByDedupeKey(ctx, s.DedupeKey)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)

	_, err = b.Submissions.FindByDedupeKey(ctx, "form-1:nobody:1")
	assert.ErrorIs(t, err, submissionDomain.ErrSubmissionNotFound)
}

func testListByBusiness(t *testing.T, b Backend) {
	ctx := context.Background()
	subs := seed(t, b, 25)
	other := NewSubmission("biz-2", "form-1", "dev-x", Base)
	require.NoError(t, b.Submissions.Create(ctx, other, submissionDomain.NewFormSubmittedEvent(other)))

	page, total, err := b.Submissions.ListByBusiness(ctx, "biz-1", sharedQuery.ToOffset(2, 10))
	require.NoError(t, err)
	assert.Equal(t, int64(25), total)
	require.Len(t, page, 10)

	// Más nuevos primero: la página 2 contiene los elementos 11..20, es decir subs[14]..subs[5]
	for i, s := range page {
		assert.Equal(t, subs[24-10-i].ID, s.ID, "posición %d", i)
	}

	last, total, err := b.Submissions.ListByBusiness(ctx, "biz-1", sharedQuery.ToOffset(3, 10))
	require.NoError(t, err)
	assert.Equal(t, int64(25), total)
	assert.Len(t, last, 5)

	far, total, err := b.Submissions.ListByBusiness(ctx, "biz-1", sharedQuery.ToOffset(math.MaxInt, 10))
	require.NoError(t, err)
	assert.Equal(t, int64(25), total)
	assert.Empty(t, far)

	empty, total, err := b.Submissions.ListByBusiness(ctx, "biz-404", sharedQuery.ToOffset(1, 10))
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
	assert.Empty(t, empty)
}

func testClaimOldestFirst(t *testing.T, b Backend) {
	ctx := context.Background()
	subs := seed(t, b, 3)
	now := Base.Add(time.Hour)

	for i := 0; i < 3; i++ {
		evt, err := b.Outbox.ClaimNextPending(ctx, now, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, subs[i].ID.String(), evt.Payload["submissionId"])
		assert.Equal(t, 1, evt.Attempts)
		require.NoError(t, b.Outbox.MarkSent(ctx, evt.ID, now))
	}

	pending, err := b.Outbox.ListPending(ctx, 50)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// Eventos con el mismo createdAt salen en orden de inserción, no por id.
func testClaimSameInstant(t *testing.T, b Backend) {
	ctx := context.Background()
	ids := []uuid.UUID{
		uuid.MustParse("ffffffff-ffff-4fff-bfff-ffffffffffff"),
		uuid.MustParse("00000000-0000-4000-8000-000000000001"),
		uuid.MustParse("88888888-8888-4888-8888-888888888888"),
	}
	for i, id := range ids {
		s := NewSubmission("biz-1", "form-1", fmt.Sprintf("dev-%d", i), Base)
		evt := submissionDomain.NewFormSubmittedEvent(s)
		evt.ID = id
		require.NoError(t, b.Submissions.Create(ctx, s, evt))
	}

	pending, err := b.Outbox.ListPending(ctx, 50)
	require.NoError(t, err)
	require.Len(t, pending, len(ids))
	for i, evt := range pending {
		assert.Equal(t, ids[i], evt.ID, "posición %d", i)
	}

	now := Base.Add(time.Hour)
	for _, want := range ids {
		evt, err := b.Outbox.ClaimNextPending(ctx, now, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, evt.ID)
	}
}

func testClaimNone(t *testing.T, b Backend) {
	_, err := b.Outbox.ClaimNextPending(context.Background(), Base, time.Minute)
	assert.ErrorIs(t, err, outboxDomain.ErrNoPendingEvents)
}

func testConcurrentClaims(t *testing.T, b Backend) {
	const pendingEvents = 5
	const claimers = 20
	seed(t, b, pendingEvents)
	now := Base.Add(time.Hour)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed = map[uuid.UUID]int{}
		none    int
		errs    []error
	)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			evt, err := b.Outbox.ClaimNextPending(context.Background(), now, time.Minute)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				claimed[evt.ID]++
			case errors.Is(err, outboxDomain.ErrNoPendingEvents):
				none++
			default:
				errs = append(errs, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Len(t, claimed, pendingEvents)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "evento %s reclamado dos veces", id)
	}
	assert.Equal(t, claimers-pendingEvents, none)
}

func testLeaseExpiry(t *testing.T, b Backend) {
	ctx := context.Background()
	seed(t, b, 1)
	now := Base.Add(time.Hour)

	evt, err := b.Outbox.ClaimNextPending(ctx, now, time.Minute)
	require.NoError(t, err)

	// Con el lease vigente nadie más lo obtiene
	_, err = b.Outbox.ClaimNextPending(ctx, now.Add(30*time.Second), time.Minute)
	assert.ErrorIs(t, err, outboxDomain.ErrNoPendingEvents)

	// Sigue siendo visible como pending
	pending, err := b.Outbox.ListPending(ctx, 50)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	// Vencido el lease se vuelve a entregar (at-least-once)
	again, err := b.Outbox.ClaimNextPending(ctx, now.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, evt.ID, again.ID)
	assert.Equal(t, 2, again.Attempts)
}

func testTerminalTransitions(t *testing.T, b Backend) {
	ctx := context.Background()
	seed(t, b, 2)
	now := Base.Add(time.Hour)

	sent, err := b.Outbox.ClaimNextPending(ctx, now, time.Minute)
	require.NoError(t, err)
	require.NoError(t, b.Outbox.MarkSent(ctx, sent.ID, now))

	failed, err := b.Outbox.ClaimNextPending(ctx, now, time.Minute)
	require.NoError(t, err)
	require.NoError(t, b.Outbox.MarkFailed(ctx, failed.ID, "broker unavailable", now))

	// Estados terminales: no se revisitan
	assert.ErrorIs(t, b.Outbox.MarkSent(ctx, sent.ID, now), outboxDomain.ErrEventNotClaimable)
	assert.ErrorIs(t, b.Outbox.MarkFailed(ctx, sent.ID, "x", now), outboxDomain.ErrEventNotClaimable)
	assert.ErrorIs(t, b.Outbox.MarkSent(ctx, failed.ID, now), outboxDomain.ErrEventNotClaimable)
	assert.ErrorIs(t, b.Outbox.MarkSent(ctx, uuid.New(), now), outboxDomain.ErrEventNotClaimable)

	_, err = b.Outbox.ClaimNextPending(ctx, now.Add(time.Hour), time.Minute)
	assert.ErrorIs(t, err, outboxDomain.ErrNoPendingEvents)

	pending, err := b.Outbox.ListPending(ctx, 50)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
