package memory

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davicafu/formintake/internal/infra/db/storetest"
	sharedQuery "github.com/davicafu/formintake/internal/shared/infra/platform/query"
	submissionDomain "github.com/davicafu/formintake/internal/submission/domain"
)

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Backend {
		s := NewStore()
		return storetest.Backend{Submissions: s, Outbox: s}
	})
}

func TestStore_Down(t *testing.T) {
	s := NewStore()
	assert.NoError(t, s.Ping(context.Background()))

	s.SetDown(true)
	assert.ErrorIs(t, s.Ping(context.Background()), submissionDomain.ErrNotReady)

	_, err := s.ListPending(context.Background(), 10)
	assert.Error(t, err)
}

func TestStore_ListByBusiness_OutOfRangeOffsets(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	for _, dev := range []string{"dev-1", "dev-2", "dev-3"} {
		sub := storetest.NewSubmission("biz-1", "form-1", dev, storetest.Base)
		require.NoError(t, s.Create(ctx, sub, submissionDomain.NewFormSubmittedEvent(sub)))
	}

	page, total, err := s.ListByBusiness(ctx, "biz-1", sharedQuery.OffsetPagination{Limit: 2, Offset: -8446744073709551616})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, page, 2)

	page, _, err = s.ListByBusiness(ctx, "biz-1", sharedQuery.OffsetPagination{Limit: math.MaxInt, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, page, 2)

	page, _, err = s.ListByBusiness(ctx, "biz-1", sharedQuery.OffsetPagination{Limit: -1, Offset: 0})
	require.NoError(t, err)
	assert.Empty(t, page)
}
