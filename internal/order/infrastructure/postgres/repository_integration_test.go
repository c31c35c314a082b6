//go:build integration

package postgres_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dmehra2102/order-saga/internal/order/application"
	"github.com/dmehra2102/order-saga/internal/order/domain"
	"github.com/dmehra2102/order-saga/internal/order/infrastructure/postgres"
	"github.com/dmehra2102/order-saga/pkg/outbox"
	"github.com/dmehra2102/order-saga/test/integration"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) (*postgres.Repository, *postgres.OutboxStore) {
	t.Helper()
	pool := integration.Postgres(t)
	require.NoError(t, postgres.Migrate(context.Background(), pool))
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return postgres.NewRepository(log, pool), postgres.NewOutboxStore(log, pool)
}

func newOrder(number string, method domain.PaymentMethod) domain.Order {
	items := []domain.OrderItem{
		domain.NewOrderItem("P1", "Keyboard", "k.png", decimal.NewFromInt(100000), 2),
		domain.NewOrderItem("P2", "Mouse", "", decimal.RequireFromString("49.50"), 1),
	}
	return domain.NewOrder("alice", number, items, "1 Main St", method, "leave at door")
}

func TestCreateFinalizeAndQuery(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)

	created, err := repo.Create(ctx, newOrder("123456", domain.MethodCard))
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	_, err = repo.Get(ctx, created.ID)
	require.ErrorIs(t, err, domain.ErrOrderNotFound, "unplaced orders are invisible")

	exists, err := repo.ExistsByNumber(ctx, "123456")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = repo.Create(ctx, newOrder("123456", domain.MethodCOD))
	require.ErrorIs(t, err, application.ErrDuplicateOrderNumber)

	require.NoError(t, created.AttachPaymentLink("L1", "https://pay.example/L1", "123456", time.Now()))
	placed, err := repo.Finalize(ctx, created)
	require.NoError(t, err)

	got, err := repo.GetByNumber(ctx, "123456")
	require.NoError(t, err)
	assert.Equal(t, placed.ID, got.ID)
	assert.True(t, got.TotalAmount.Equal(decimal.RequireFromString("200049.50")))
	assert.Len(t, got.Items, 2)
	assert.Equal(t, "L1", got.Payment.PaymentLinkID)
	assert.Equal(t, "123456", got.Payment.ProviderOrderCode)
	assert.Equal(t, "1 Main St", got.Shipping.Address)

	_, err = repo.Finalize(ctx, created)
	assert.ErrorIs(t, err, postgres.ErrAlreadyPlaced)

	page, err := repo.ListByUser(ctx, "alice", application.ListQuery{Size: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	page, err = repo.ListByStatus(ctx, domain.StatusPending, application.ListQuery{Size: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

func TestDiscardRemovesOnlyUnplacedOrders(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)

	pending, err := repo.Create(ctx, newOrder("111111", domain.MethodCOD))
	require.NoError(t, err)
	require.NoError(t, repo.Discard(ctx, pending.ID))
	_, err = repo.GetByNumber(ctx, "111111")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	exists, err := repo.ExistsByNumber(ctx, "111111")
	require.NoError(t, err)
	assert.True(t, exists, "discarded numbers stay reserved")
	_, err = repo.Create(ctx, newOrder("111111", domain.MethodCOD))
	assert.ErrorIs(t, err, application.ErrDuplicateOrderNumber)

	kept, err := repo.Create(ctx, newOrder("222222", domain.MethodCOD))
	require.NoError(t, err)
	_, err = repo.Finalize(ctx, kept)
	require.NoError(t, err)
	_ = repo.Discard(ctx, kept.ID)
	_, err = repo.Get(ctx, kept.ID)
	assert.NoError(t, err)
}

func TestMutateByProviderCodeSerializesWriters(t *testing.T) {
	ctx := context.Background()
	repo, outboxStore := newRepo(t)

	created, err := repo.Create(ctx, newOrder("778899", domain.MethodCard))
	require.NoError(t, err)
	require.NoError(t, created.AttachPaymentLink("L1", "https://pay.example/L1", "778899", time.Now()))
	_, err = repo.Finalize(ctx, created)
	require.NoError(t, err)

	var wg sync.WaitGroup
	applied := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var changed bool
			_, err := repo.MutateByProviderCode(ctx, "778899", func(o *domain.Order) (bool, error) {
				changed = o.ApplyPaymentResult(domain.ResultPaid, "FT1", time.Now())
				return changed, nil
			})
			assert.NoError(t, err)
			applied <- changed
		}()
	}
	wg.Wait()
	close(applied)

	count := 0
	for ok := range applied {
		if ok {
			count++
		}
	}
	assert.Equal(t, 1, count)

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, got.Status)
	assert.Equal(t, "FT1", got.Payment.TransactionID)

	events, err := outboxStore.LockBatch(ctx, "test-relay", 10, 0)
	require.NoError(t, err)
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{domain.EventOrderPlaced, domain.EventOrderPaid}, types)
	assert.Equal(t, outbox.StatusInProgress, events[0].Status)
}
