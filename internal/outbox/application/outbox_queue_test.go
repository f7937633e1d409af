package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/formintake/internal/infra/db/memory"
	"github.com/davicafu/formintake/internal/infra/db/storetest"
	outboxDomain "github.com/davicafu/formintake/internal/outbox/domain"
	sharedEvents "github.com/davicafu/formintake/internal/shared/events"
	infraEvents "github.com/davicafu/formintake/internal/shared/infra/events"
	submissionDomain "github.com/davicafu/formintake/internal/submission/domain"
	"github.com/davicafu/formintake/pkg/metrics"
)

// MockPublisher simula el bus de eventos
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, event interface{}) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newQueue(store *memory.Store, pub *MockPublisher) (*OutboxQueue, *metrics.Metrics) {
	m := metrics.New(prometheus.NewRegistry())
	q := NewOutboxQueue(store, pub, QueueConfig{
		Lease:           time.Minute,
		PublishAttempts: 2,
		RetryDelay:      time.Millisecond,
		Clock:           func() time.Time { return t0.Add(time.Hour) },
	}, m, zap.NewNop())
	return q, m
}

func seedPending(t *testing.T, store *memory.Store, n int) []*submissionDomain.Submission {
	t.Helper()
	subs := make([]*submissionDomain.Submission, 0, n)
	for i := 0; i < n; i++ {
		s := storetest.NewSubmission("biz-1", "form-1", fmt.Sprintf("dev-%d", i), t0.Add(time.Duration(i)*time.Second))
		require.NoError(t, store.Create(context.Background(), s, submissionDomain.NewFormSubmittedEvent(s)))
		subs = append(subs, s)
	}
	return subs
}

func TestDrainOne_MarksSentAndPublishes(t *testing.T) {
	store := memory.NewStore()
	subs := seedPending(t, store, 1)
	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(e *sharedEvents.IntegrationEvent) bool {
		return e.Type == submissionDomain.FormSubmitted && e.Key == subs[0].ID.String()
	})).Return(nil).Once()

	q, m := newQueue(store, pub)
	evt, err := q.DrainOne(context.Background())

	require.NoError(t, err)
	assert.Equal(t, outboxDomain.StatusSent, evt.Status)
	assert.Equal(t, 1, evt.Attempts)
	pub.AssertExpectations(t)

	stored := store.Outbox()
	assert.Equal(t, outboxDomain.StatusSent, stored[0].Status)
	assert.Equal(t, 1, stored[0].Attempts)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OutboxEventsDrained.WithLabelValues("sent")))
}

func TestDrainOne_NoneAvailable(t *testing.T) {
	q, _ := newQueue(memory.NewStore(), new(MockPublisher))
	evt, err := q.DrainOne(context.Background())

	assert.Nil(t, evt)
	assert.ErrorIs(t, err, outboxDomain.ErrNoPendingEvents)
}

func TestDrainOne_PublishFailureMarksFailed(t *testing.T) {
	store := memory.NewStore()
	seedPending(t, store, 1)
	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("kafka is down"))

	q, m := newQueue(store, pub)
	evt, err := q.DrainOne(context.Background())

	require.NoError(t, err)
	assert.Equal(t, outboxDomain.StatusFailed, evt.Status)
	pub.AssertNumberOfCalls(t, "Publish", 2) // PublishAttempts

	stored := store.Outbox()[0]
	assert.Equal(t, outboxDomain.StatusFailed, stored.Status)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, "kafka is down", *stored.LastError)
	assert.Equal(t, 1, stored.Attempts)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OutboxEventsDrained.WithLabelValues("failed")))

	// Un evento failed no se vuelve a procesar
	_, err = q.DrainOne(context.Background())
	assert.ErrorIs(t, err, outboxDomain.ErrNoPendingEvents)
}

func TestDrainOne_FullSubscriberIsNotSent(t *testing.T) {
	store := memory.NewStore()
	seedPending(t, store, 2)

	bus := infraEvents.NewInMemoryEventBus("form-submissions")
	ch := bus.Subscribe(1)
	q := NewOutboxQueue(store, bus, QueueConfig{
		Lease:           time.Minute,
		PublishAttempts: 2,
		RetryDelay:      time.Millisecond,
		Clock:           func() time.Time { return t0.Add(time.Hour) },
	}, metrics.New(prometheus.NewRegistry()), zap.NewNop())

	first, err := q.DrainOne(context.Background())
	require.NoError(t, err)
	assert.Equal(t, outboxDomain.StatusSent, first.Status)

	// Nadie lee el canal: el segundo evento no cabe y no cuenta como enviado
	second, err := q.DrainOne(context.Background())
	require.NoError(t, err)
	assert.Equal(t, outboxDomain.StatusFailed, second.Status)
	require.NotNil(t, second.LastError)
	assert.Contains(t, *second.LastError, "subscriber buffer full")
	assert.Len(t, ch, 1)
}

func TestDrainOne_CanceledContextLeavesPending(t *testing.T) {
	store := memory.NewStore()
	seedPending(t, store, 1)

	ctx, cancel := context.WithCancel(context.Background())
	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, mock.Anything).Run(func(mock.Arguments) { cancel() }).Return(context.Canceled)

	q, _ := newQueue(store, pub)
	_, err := q.DrainOne(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, outboxDomain.StatusPending, store.Outbox()[0].Status)
}

func TestDrainOne_StoreError(t *testing.T) {
	store := memory.NewStore()
	store.SetDown(true)

	q, _ := newQueue(store, new(MockPublisher))
	_, err := q.DrainOne(context.Background())

	assert.Error(t, err)
	assert.NotErrorIs(t, err, outboxDomain.ErrNoPendingEvents)
}

func TestDrainBatch_StopsEarly(t *testing.T) {
	store := memory.NewStore()
	seedPending(t, store, 3)
	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil)

	q, _ := newQueue(store, pub)
	result, err := q.DrainBatch(context.Background(), 10)

	require.NoError(t, err)
	assert.Equal(t, 3, result.Count)
	assert.Len(t, result.IDs, 3)
	pub.AssertNumberOfCalls(t, "Publish", 3)
}

func TestDrainBatch_RespectsLimit(t *testing.T) {
	store := memory.NewStore()
	seedPending(t, store, 5)
	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil)

	q, _ := newQueue(store, pub)
	result, err := q.DrainBatch(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Count)

	pending, err := q.ListPending(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, pending, 3)
}

func TestDrainBatch_EmptyReturnsZero(t *testing.T) {
	q, _ := newQueue(memory.NewStore(), new(MockPublisher))
	result, err := q.DrainBatch(context.Background(), 0)

	require.NoError(t, err)
	assert.Equal(t, 0, result.Count)
	assert.NotNil(t, result.IDs)
}

func TestDrainOne_ConcurrentCallersNeverDoubleClaim(t *testing.T) {
	const n, m = 4, 16
	store := memory.NewStore()
	seedPending(t, store, n)
	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil)
	q, _ := newQueue(store, pub)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		drained = map[uuid.UUID]int{}
		none    int
	)
	for i := 0; i < m; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			evt, err := q.DrainOne(context.Background())
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, outboxDomain.ErrNoPendingEvents) {
				none++
				return
			}
			if assert.NoError(t, err) {
				drained[evt.ID]++
			}
		}()
	}
	wg.Wait()

	assert.Len(t, drained, n)
	for _, count := range drained {
		assert.Equal(t, 1, count)
	}
	assert.Equal(t, m-n, none)
	pub.AssertNumberOfCalls(t, "Publish", n)
}

func TestListPending_OldestFirstAndClamped(t *testing.T) {
	store := memory.NewStore()
	subs := seedPending(t, store, 3)
	q, _ := newQueue(store, new(MockPublisher))

	pending, err := q.ListPending(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, subs[0].ID.String(), pending[0].Payload["submissionId"])
	assert.Equal(t, subs[1].ID.String(), pending[1].Payload["submissionId"])
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 10, clamp(0, 10, 100))
	assert.Equal(t, 100, clamp(1000, 10, 100))
	assert.Equal(t, 7, clamp(7, 10, 100))
}
