package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dmehra2102/order-saga/internal/order/application"
	"github.com/dmehra2102/order-saga/internal/order/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func placeOrder(t *testing.T, s *Store, number string, method domain.PaymentMethod) domain.Order {
	t.Helper()
	ctx := context.Background()
	items := []domain.OrderItem{domain.NewOrderItem("42", "Keyboard", "", decimal.NewFromInt(100000), 2)}
	created, err := s.Create(ctx, domain.NewOrder("user-1", number, items, "1 Main St", method, ""))
	require.NoError(t, err)
	if method != domain.MethodCOD {
		require.NoError(t, created.AttachPaymentLink("L-"+number, "https://pay/"+number, number, time.Now()))
	}
	placed, err := s.Finalize(ctx, created)
	require.NoError(t, err)
	return placed
}

func TestCreateRejectsDuplicateNumber(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	o := domain.NewOrder("u", "111111", nil, "addr", domain.MethodCOD, "")

	_, err := s.Create(ctx, o)
	require.NoError(t, err)
	_, err = s.Create(ctx, o)
	assert.ErrorIs(t, err, application.ErrDuplicateOrderNumber)

	exists, err := s.ExistsByNumber(ctx, "111111")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestUnplacedOrdersAreInvisibleAndDiscardable(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	created, err := s.Create(ctx, domain.NewOrder("u", "222222", nil, "addr", domain.MethodCOD, ""))
	require.NoError(t, err)

	_, err = s.Get(ctx, created.ID)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	require.NoError(t, s.Discard(ctx, created.ID))
	_, err = s.GetByNumber(ctx, "222222")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.Empty(t, s.Events())
}

func TestDiscardedNumberStaysReserved(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	created, err := s.Create(ctx, domain.NewOrder("u", "444444", nil, "addr", domain.MethodCard, ""))
	require.NoError(t, err)
	require.NoError(t, s.Discard(ctx, created.ID))

	exists, err := s.ExistsByNumber(ctx, "444444")
	require.NoError(t, err)
	assert.True(t, exists)
	_, err = s.Create(ctx, domain.NewOrder("u", "444444", nil, "addr", domain.MethodCard, ""))
	assert.ErrorIs(t, err, application.ErrDuplicateOrderNumber)
}

func TestDiscardRefusesPlacedOrder(t *testing.T) {
	s := NewStore()
	o := placeOrder(t, s, "333333", domain.MethodCOD)

	assert.ErrorIs(t, s.Discard(context.Background(), o.ID), ErrAlreadyPlaced)
	got, err := s.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.OrderNumber, got.OrderNumber)
}

func TestMutateBumpsVersionAndRecordsEvent(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	o := placeOrder(t, s, "444444", domain.MethodCard)

	updated, err := s.MutateByProviderCode(ctx, "444444", func(o *domain.Order) (bool, error) {
		return o.ApplyPaymentResult(domain.ResultPaid, "FT1", time.Now()), nil
	})
	require.NoError(t, err)
	assert.Equal(t, o.Version+1, updated.Version)
	assert.Equal(t, domain.PaymentComplete, updated.Payment.Status)

	unchanged, err := s.Mutate(ctx, o.ID, func(*domain.Order) (bool, error) { return false, nil })
	require.NoError(t, err)
	assert.Equal(t, updated.Version, unchanged.Version)

	events := s.Events()
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventOrderPlaced, events[0].Type)
	assert.Equal(t, domain.EventOrderPaid, events[1].Type)
}

func TestMutateErrorLeavesOrderUntouched(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	o := placeOrder(t, s, "555555", domain.MethodCard)

	_, err := s.Mutate(ctx, o.ID, func(o *domain.Order) (bool, error) {
		o.Status = domain.StatusCompleted
		return true, fmt.Errorf("nope")
	})
	require.Error(t, err)

	got, err := s.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
}

func TestConcurrentMutationsAreSerialized(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	o := placeOrder(t, s, "666666", domain.MethodCOD)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Mutate(ctx, o.ID, func(o *domain.Order) (bool, error) {
				o.Notes += "x"
				return true, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, got.Notes, n)
	assert.Equal(t, o.Version+n, got.Version)
}

func TestListByUserPaginatesNewestFirst(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		placeOrder(t, s, fmt.Sprintf("70000%d", i), domain.MethodCOD)
		time.Sleep(time.Millisecond)
	}

	page, err := s.ListByUser(ctx, "user-1", application.ListQuery{Page: 0, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	require.Len(t, page.Orders, 2)
	assert.Equal(t, "700004", page.Orders[0].OrderNumber)

	last, err := s.ListByUser(ctx, "user-1", application.ListQuery{Page: 2, Size: 2})
	require.NoError(t, err)
	require.Len(t, last.Orders, 1)
	assert.Equal(t, "700000", last.Orders[0].OrderNumber)

	future := time.Now().Add(time.Hour)
	none, err := s.ListByUser(ctx, "user-1", application.ListQuery{From: &future})
	require.NoError(t, err)
	assert.Empty(t, none.Orders)

	pending, err := s.ListByStatus(ctx, domain.StatusPending, application.ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, 5, pending.Total)
}
