package charges

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/atlasagents/backoffice/internal/billing"
)

func newCacheService(t *testing.T, repo *memoryRepo) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	svc := NewService(slog.New(slog.NewTextHandler(io.Discard, nil)), &staticFacts{facts: []billing.Facts{monthlyFacts()}}, repo, nil, nil, client, 5*time.Minute)
	return svc, mr
}

func TestSummaryIsCached(t *testing.T) {
	repo := newMemoryRepo()
	svc, mr := newCacheService(t, repo)
	svc.now = func() time.Time { return date(2025, 3, 12) }

	_, err := svc.Reconcile(context.Background(), 0)
	require.NoError(t, err)

	first, err := svc.Summary(context.Background())
	require.NoError(t, err)
	require.Len(t, first.Rows, 1)
	require.Equal(t, StatusPending, first.Rows[0].Status)
	require.True(t, mr.Exists(summaryCacheKey))

	// A row added behind the cache's back stays invisible until the TTL
	// or an invalidating mutation.
	_, err = repo.CreateIfNotExists(context.Background(), Charge{
		ClientID: 9, LineItemID: 90,
		PeriodStart: date(2025, 3, 1), PeriodEnd: date(2025, 4, 1),
		DueDate: date(2025, 4, 1), AmountCents: 100,
	})
	require.NoError(t, err)

	cached, err := svc.Summary(context.Background())
	require.NoError(t, err)
	require.Equal(t, first.Rows[0].Count, cached.Rows[0].Count)
}

func TestSummaryCacheInvalidatedOnMutation(t *testing.T) {
	repo := newMemoryRepo()
	svc, mr := newCacheService(t, repo)
	svc.now = func() time.Time { return date(2025, 3, 12) }

	_, err := svc.Reconcile(context.Background(), 0)
	require.NoError(t, err)

	_, err = svc.Summary(context.Background())
	require.NoError(t, err)
	require.True(t, mr.Exists(summaryCacheKey))

	list, _, err := repo.List(context.Background(), ListRequest{})
	require.NoError(t, err)
	require.NoError(t, svc.Pay(context.Background(), list[0].ID, 7, "ach"))
	require.False(t, mr.Exists(summaryCacheKey))

	fresh, err := svc.Summary(context.Background())
	require.NoError(t, err)
	require.Len(t, fresh.Rows, 1)
	require.Equal(t, StatusPaid, fresh.Rows[0].Status)
}
