package application

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/formintake/internal/infra/db/memory"
	outboxDomain "github.com/davicafu/formintake/internal/outbox/domain"
	sharedCache "github.com/davicafu/formintake/internal/shared/infra/platform/cache"
	"github.com/davicafu/formintake/internal/submission/domain"
	"github.com/davicafu/formintake/pkg/metrics"
)

// 2024-01-01T00:00:00Z cae justo al inicio de un bucket de 15 minutos
var bucketStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func newService(t *testing.T) (*SubmissionService, *memory.Store, *fixedClock, *metrics.Metrics) {
	t.Helper()
	store := memory.NewStore()
	clock := &fixedClock{t: bucketStart.Add(time.Minute)}
	m := metrics.New(prometheus.NewRegistry())
	svc := NewSubmissionService(store, nil, m, zap.NewNop()).WithClock(clock.Now)
	return svc, store, clock, m
}

func input(formID, deviceID string) domain.NewSubmission {
	return domain.NewSubmission{
		BusinessID:  "biz-1",
		FranchiseID: "fr-1",
		FormID:      formID,
		Rating:      4,
		Categories:  []domain.Category{{Key: "speed", Score: 3}},
		Comment:     "ok",
		DeviceID:    deviceID,
		IP:          "10.0.0.9",
		CreatedBy:   "user-7",
	}
}

func TestCreateSubmission_Success(t *testing.T) {
	svc, store, _, m := newService(t)

	sub, err := svc.CreateSubmission(context.Background(), input("form-1", "dev-1"))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, sub.ID)
	assert.Equal(t, "biz-1", sub.BusinessID)
	assert.Equal(t, "form-1", sub.FormID)
	assert.Equal(t, 4, sub.Rating)
	assert.Equal(t, "user-7", sub.CreatedBy)
	assert.Equal(t, "10.0.0.9", sub.IP)
	assert.Equal(t, "form-1:dev-1:1893408", sub.DedupeKey)

	// ✅ Exactamente un evento pending con el submissionId
	events := store.Outbox()
	require.Len(t, events, 1)
	assert.Equal(t, domain.FormSubmitted, events[0].Type)
	assert.Equal(t, outboxDomain.StatusPending, events[0].Status)
	assert.Equal(t, 0, events[0].Attempts)
	assert.Equal(t, sub.ID.String(), events[0].Payload["submissionId"])
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SubmissionsCreated))
}

func TestCreateSubmission_DistinctTriplesSucceed(t *testing.T) {
	svc, store, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.CreateSubmission(ctx, input("form-1", "dev-1"))
	require.NoError(t, err)
	_, err = svc.CreateSubmission(ctx, input("form-2", "dev-1"))
	require.NoError(t, err)
	_, err = svc.CreateSubmission(ctx, input("form-1", "dev-2"))
	require.NoError(t, err)

	assert.Equal(t, 3, store.Submissions())
	assert.Len(t, store.Outbox(), 3)
}

func TestCreateSubmission_DuplicateWithinBucket(t *testing.T) {
	svc, store, clock, m := newService(t)
	ctx := context.Background()

	_, err := svc.CreateSubmission(ctx, input("form-1", "dev-1"))
	require.NoError(t, err)

	clock.Set(bucketStart.Add(14 * time.Minute))
	_, err = svc.CreateSubmission(ctx, input("form-1", "dev-1"))
	assert.ErrorIs(t, err, domain.ErrDuplicateSubmission)

	assert.Equal(t, 1, store.Submissions())
	assert.Len(t, store.Outbox(), 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SubmissionsDuplicate))
}

func TestCreateSubmission_IPFallbackDedupes(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()

	in := input("form-1", "")
	_, err := svc.CreateSubmission(ctx, in)
	require.NoError(t, err)
	_, err = svc.CreateSubmission(ctx, in)
	assert.ErrorIs(t, err, domain.ErrDuplicateSubmission)
}

func TestCreateSubmission_CrossingBucketBoundary(t *testing.T) {
	svc, store, clock, _ := newService(t)
	ctx := context.Background()

	clock.Set(bucketStart.Add(15*time.Minute - time.Millisecond))
	first, err := svc.CreateSubmission(ctx, input("form-1", "dev-1"))
	require.NoError(t, err)

	clock.Set(bucketStart.Add(15 * time.Minute))
	second, err := svc.CreateSubmission(ctx, input("form-1", "dev-1"))
	require.NoError(t, err)

	assert.NotEqual(t, first.DedupeKey, second.DedupeKey)
	assert.Equal(t, 2, store.Submissions())
}

func TestCreateSubmission_InvalidInput(t *testing.T) {
	cases := map[string]func(*domain.NewSubmission){
		"missing rating":     func(n *domain.NewSubmission) { n.Rating = 0 },
		"missing businessId": func(n *domain.NewSubmission) { n.BusinessID = "" },
		"missing formId":     func(n *domain.NewSubmission) { n.FormID = "" },
		"rating too high":    func(n *domain.NewSubmission) { n.Rating = 6 },
		"rating negative":    func(n *domain.NewSubmission) { n.Rating = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			svc, store, _, m := newService(t)
			in := input("form-1", "dev-1")
			mutate(&in)

			_, err := svc.CreateSubmission(context.Background(), in)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
			assert.Equal(t, 0, store.Submissions())
			assert.Empty(t, store.Outbox())
			assert.Equal(t, float64(1), testutil.ToFloat64(m.SubmissionsRejected))
		})
	}
}

func TestCreateSubmission_StorageFailure(t *testing.T) {
	svc, store, _, _ := newService(t)
	store.SetDown(true)

	_, err := svc.CreateSubmission(context.Background(), input("form-1", "dev-1"))
	assert.ErrorIs(t, err, domain.ErrStorageFailure)
}

func TestCreateSubmission_ConcurrentSameKey(t *testing.T) {
	svc, store, _, _ := newService(t)
	const callers = 10

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		dups    int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateSubmission(context.Background(), input("form-1", "dev-1"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case assert.ErrorIs(t, err, domain.ErrDuplicateSubmission):
				dups++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, callers-1, dups)
	assert.Equal(t, 1, store.Submissions())
	assert.Len(t, store.Outbox(), 1)
}

func TestListSubmissionsByBusiness_Pagination(t *testing.T) {
	svc, _, clock, _ := newService(t)
	ctx := context.Background()

	subs := make([]*domain.Submission, 0, 25)
	for i := 0; i < 25; i++ {
		clock.Set(bucketStart.Add(time.Duration(i) * time.Second))
		s, err := svc.CreateSubmission(ctx, input("form-1", fmt.Sprintf("dev-%d", i)))
		require.NoError(t, err)
		subs = append(subs, s)
	}
	// Otro negocio no cuenta
	other := input("form-1", "dev-x")
	other.BusinessID = "biz-2"
	_, err := svc.CreateSubmission(ctx, other)
	require.NoError(t, err)

	page, err := svc.ListSubmissionsByBusiness(ctx, "biz-1", 2, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(25), page.Total)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 10, page.Limit)
	require.Len(t, page.Items, 10)
	// newest-first: la página 2 son los elementos 11 a 20
	for i, item := range page.Items {
		assert.Equal(t, subs[24-10-i].ID, item.ID)
	}
}

func TestListSubmissionsByBusiness_Defaults(t *testing.T) {
	svc, _, _, _ := newService(t)

	page, err := svc.ListSubmissionsByBusiness(context.Background(), "biz-1", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.Limit)
	assert.NotNil(t, page.Items)
	assert.Empty(t, page.Items)

	page, err = svc.ListSubmissionsByBusiness(context.Background(), "biz-1", -3, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 100, page.Limit)
}

func TestListSubmissionsByBusiness_StorageFailure(t *testing.T) {
	svc, store, _, _ := newService(t)
	store.SetDown(true)

	_, err := svc.ListSubmissionsByBusiness(context.Background(), "biz-1", 1, 10)
	assert.ErrorIs(t, err, domain.ErrStorageFailure)
}

func TestGetSubmission_FromStore(t *testing.T) {
	svc, _, _, _ := newService(t)
	created, err := svc.CreateSubmission(context.Background(), input("form-1", "dev-1"))
	require.NoError(t, err)

	got, err := svc.GetSubmission(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, created.DedupeKey, got.DedupeKey)
}

func TestGetSubmission_NotFound(t *testing.T) {
	svc, _, _, _ := newService(t)

	_, err := svc.GetSubmission(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrSubmissionNotFound)
}

func TestGetSubmission_CacheHit(t *testing.T) {
	store := memory.NewStore()
	cache := sharedCache.NewInMemoryCache(time.Minute, time.Minute)
	svc := NewSubmissionService(store, cache, metrics.New(prometheus.NewRegistry()), zap.NewNop())

	// La submission solo existe en caché
	cached := input("form-1", "dev-1").Build(bucketStart)
	require.NoError(t, cache.Set(context.Background(), domain.SubmissionCacheKeyByID(cached.ID), cached, 60))

	got, err := svc.GetSubmission(context.Background(), cached.ID)
	require.NoError(t, err)
	assert.Equal(t, cached.ID, got.ID)
	assert.Equal(t, cached.FormID, got.FormID)
}

func TestCreateSubmission_WarmsCache(t *testing.T) {
	store := memory.NewStore()
	cache := sharedCache.NewInMemoryCache(time.Minute, time.Minute)
	svc := NewSubmissionService(store, cache, metrics.New(prometheus.NewRegistry()), zap.NewNop())

	sub, err := svc.CreateSubmission(context.Background(), input("form-1", "dev-1"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		var got domain.Submission
		ok, _ := cache.Get(context.Background(), domain.SubmissionCacheKeyByID(sub.ID), &got)
		return ok && got.ID == sub.ID
	}, time.Second, 10*time.Millisecond)
}
