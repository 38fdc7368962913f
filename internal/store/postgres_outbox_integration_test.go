//go:build integration

package store

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/shelterflex/rent-service/internal/domain"
)

// startPostgres returns a pool against OUTBOX_TEST_PG_DSN when set, otherwise against a
// throwaway postgres:16 container.
func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	dsn := os.Getenv("OUTBOX_TEST_PG_DSN")
	if dsn == "" {
		container, err := postgres.Run(ctx,
			"postgres:16",
			postgres.WithDatabase("rent"),
			postgres.WithUsername("rent"),
			postgres.WithPassword("rent"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
		t.Cleanup(func() { _ = container.Terminate(context.Background()) })

		dsn, err = container.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `DROP TABLE IF EXISTS ledger_outbox`)
	require.NoError(t, err)
	return pool
}

func TestPostgresOutbox(t *testing.T) {
	pool := startPostgres(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	repo := NewPostgresOutboxRepository(pool)
	require.NoError(t, repo.EnsureSchema(ctx))
	require.NoError(t, repo.EnsureSchema(ctx))

	t.Run("create is idempotent", func(t *testing.T) {
		first, err := repo.Create(ctx, domain.TxTypeTenantRepayment, "STRIPE:pi_pg_1", repaymentPayload("deal-1"))
		require.NoError(t, err)
		assert.Equal(t, "stripe:pi_pg_1", first.CanonicalExternalRef)
		assert.Equal(t, domain.OutboxStatusPending, first.Status)

		second, err := repo.Create(ctx, domain.TxTypeTenantRepayment, "stripe:pi_pg_1", repaymentPayload("deal-9"))
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, first.TxID, second.TxID)

		payload, ok := second.Payload.(domain.TenantRepaymentPayload)
		require.True(t, ok)
		assert.Equal(t, "deal-1", payload.DealID)
		assert.Equal(t, "250.5", payload.AmountUSDC.String())
	})

	t.Run("concurrent create collapses", func(t *testing.T) {
		var wg sync.WaitGroup
		ids := make([]string, 16)
		for i := range ids {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				item, err := repo.Create(ctx, domain.TxTypeTenantRepayment, "paystack:race", repaymentPayload("deal-1"))
				if err == nil {
					ids[i] = item.ID
				}
			}(i)
		}
		wg.Wait()
		for _, id := range ids {
			assert.Equal(t, ids[0], id)
		}
	})

	t.Run("status transitions", func(t *testing.T) {
		item, err := repo.Create(ctx, domain.TxTypeTenantRepayment, "stripe:pi_pg_status", repaymentPayload("deal-1"))
		require.NoError(t, err)

		failed, err := repo.UpdateStatus(ctx, item.ID, domain.OutboxStatusFailed, "ledger unavailable")
		require.NoError(t, err)
		assert.Equal(t, 1, failed.Attempts)
		require.NotNil(t, failed.LastError)

		again, err := repo.UpdateStatus(ctx, item.ID, domain.OutboxStatusFailed, "")
		require.NoError(t, err)
		assert.Equal(t, "ledger unavailable", *again.LastError)

		sent, err := repo.UpdateStatus(ctx, item.ID, domain.OutboxStatusSent, "")
		require.NoError(t, err)
		assert.Equal(t, 3, sent.Attempts)
		assert.Nil(t, sent.LastError)

		_, err = repo.UpdateStatus(ctx, "missing", domain.OutboxStatusSent, "")
		assert.ErrorIs(t, err, ErrOutboxItemNotFound)
	})

	t.Run("listing order", func(t *testing.T) {
		var ids []string
		for i := 0; i < 3; i++ {
			item, err := repo.Create(ctx, domain.TxTypeTenantRepayment, fmt.Sprintf("manual:order-%d", i), repaymentPayload("deal-1"))
			require.NoError(t, err)
			_, err = repo.UpdateStatus(ctx, item.ID, domain.OutboxStatusFailed, "down")
			require.NoError(t, err)
			ids = append(ids, item.ID)
		}

		failed, err := repo.ListByStatus(ctx, domain.OutboxStatusFailed)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(failed), 3)
		tail := failed[len(failed)-3:]
		assert.Equal(t, ids, []string{tail[0].ID, tail[1].ID, tail[2].ID})

		newest, err := repo.ListAll(ctx, 1)
		require.NoError(t, err)
		require.Len(t, newest, 1)
		assert.Equal(t, ids[2], newest[0].ID)
	})
}
