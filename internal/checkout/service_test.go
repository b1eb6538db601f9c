package checkout_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/school-cart/internal/cart"
	"github.com/noah-isme/school-cart/internal/catalog"
	"github.com/noah-isme/school-cart/internal/catalog/catalogtest"
	"github.com/noah-isme/school-cart/internal/checkout"
	"github.com/noah-isme/school-cart/internal/common"
	"github.com/noah-isme/school-cart/internal/lock"
	"github.com/noah-isme/school-cart/internal/order"
	"github.com/noah-isme/school-cart/internal/payment"
)

const (
	richCard = "6000 1111 2222 3333"
	poorCard = "6000999988887777"
)

type memoryOrders struct {
	mu     sync.Mutex
	byKey  map[string]order.Order
	create int
}

func newMemoryOrders() *memoryOrders {
	return &memoryOrders{byKey: map[string]order.Order{}}
}

func (m *memoryOrders) Create(_ context.Context, p order.Payload) (order.Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.byKey[p.IdemKey]; ok {
		return o, false, nil
	}
	m.create++
	o := order.Order{ID: uuid.New(), IdemKey: p.IdemKey, GrandTotal: p.GrandTotal, Payload: p, CreatedAt: p.CreatedAt}
	m.byKey[p.IdemKey] = o
	return o, true, nil
}

func (m *memoryOrders) GetByIdemKey(_ context.Context, key string) (order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.byKey[key]; ok {
		return o, nil
	}
	return order.Order{}, order.ErrNotFound
}

type recordingReceipts struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingReceipts) EnqueueReceipt(_ context.Context, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, orderID)
	return nil
}

type fixture struct {
	svc      *checkout.Service
	carts    *cart.Service
	orders   *memoryOrders
	receipts *recordingReceipts
	mr       *miniredis.Miniredis
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	files := catalogtest.Files()
	cat, err := catalog.NewService(catalog.ServiceConfig{Files: files, Logger: zerolog.Nop()})
	require.NoError(t, err)

	carts := &cart.Service{R: client, Catalog: cat, TTL: time.Hour}
	orders := newMemoryOrders()
	receipts := &recordingReceipts{}
	validate, err := checkout.NewValidator()
	require.NoError(t, err)

	svc := &checkout.Service{
		Carts:    carts,
		Catalog:  cat,
		Payments: &payment.GiftCards{Files: files},
		Orders:   orders,
		Receipts: receipts,
		Locker:   lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond},
		LockTTL:  time.Second,
		Validate: validate,
		Logger:   zerolog.Nop(),
		Now:      func() time.Time { return time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC) },
	}
	return fixture{svc: svc, carts: carts, orders: orders, receipts: receipts, mr: mr}
}

func requireMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got.String())
}

// booksCart holds 2x BK-MATH and 1x BK-SCI: 33.00 less 4.00 nth-item, 2.61 GST, 5.00 shipping.
func (f fixture) booksCart(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	c, err := f.carts.Create(ctx)
	require.NoError(t, err)
	_, err = f.carts.Add(ctx, c.ID, "books", "BK-MATH", 2)
	require.NoError(t, err)
	_, err = f.carts.Add(ctx, c.ID, "books", "BK-SCI", 1)
	require.NoError(t, err)
	return c.ID
}

func validInput() checkout.Input {
	return checkout.Input{
		Name:           "Ana Lim",
		ClassName:      "1A",
		Justifications: []order.Justification{{SKU: "BK-MATH", Text: "Needed for term 2"}},
		CardNumber:     richCard,
	}
}

func TestQuoteAcrossStores(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.booksCart(t)
	_, err := f.carts.Add(ctx, id, "uniforms", "UN-SHIRT", 1)
	require.NoError(t, err)

	q, err := f.svc.Quote(ctx, id)
	require.NoError(t, err)
	require.Len(t, q.Stores, 2)
	require.Equal(t, "books", q.Stores[0].StoreID)
	require.Equal(t, "uniforms", q.Stores[1].StoreID)
	requireMoney(t, "36.61", q.Stores[0].Totals.StoreTotal)
	requireMoney(t, "18.72", q.Stores[1].Totals.StoreTotal)
	require.Len(t, q.Items, 3)
	require.Equal(t, "Book Room", q.Items[0].StoreName)

	requireMoney(t, "55.33", q.Discounts.GrandTotalBeforeDiscounts)
	requireMoney(t, "55.33", q.GrandTotal)
	require.Empty(t, q.Discounts.AppliedCodes)
	require.False(t, q.Discounts.CapApplied)
}

func TestQuoteStacksCodesUnderCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.booksCart(t)
	_, err := f.carts.Add(ctx, id, "uniforms", "UN-SHIRT", 1)
	require.NoError(t, err)
	_, _, err = f.carts.ApplyCode(ctx, id, "welcome10")
	require.NoError(t, err)
	_, _, err = f.carts.ApplyCode(ctx, id, "BIGSAVE")
	require.NoError(t, err)

	q, err := f.svc.Quote(ctx, id)
	require.NoError(t, err)
	require.True(t, q.Discounts.CapApplied)
	requireMoney(t, "5.53", q.Discounts.PercentDiscountAmount)
	requireMoney(t, "24.47", q.Discounts.AbsoluteDiscountAmount)
	requireMoney(t, "25.33", q.GrandTotal)
	require.Len(t, q.Discounts.AppliedCodes, 2)
}

func TestQuoteEmptyCart(t *testing.T) {
	f := newFixture(t)
	c, err := f.carts.Create(context.Background())
	require.NoError(t, err)

	q, err := f.svc.Quote(context.Background(), c.ID)
	require.NoError(t, err)
	require.True(t, q.Empty())
	require.True(t, q.GrandTotal.IsZero())
}

func TestQuoteUnknownCart(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Quote(context.Background(), uuid.NewString())
	require.ErrorIs(t, err, cart.ErrNotFound)
}

func TestSubmitCreatesOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.booksCart(t)

	res, err := f.svc.Submit(ctx, id, validInput(), "key-1")
	require.NoError(t, err)
	require.False(t, res.Replayed)

	p := res.Order.Payload
	require.Equal(t, "Ana Lim", p.Name)
	require.Equal(t, "1A", p.ClassName)
	require.Equal(t, "key-1", p.IdemKey)
	requireMoney(t, "36.61", p.GrandTotal)
	require.Len(t, p.Items, 2)
	require.Len(t, p.ItemsByStore["Book Room"], 2)
	require.Len(t, p.PerStoreTotals, 1)
	require.Nil(t, p.OverallDiscounts)

	require.Equal(t, "6000111122223333", p.PaymentInfo.GiftCardNumber)
	requireMoney(t, "200", p.PaymentInfo.BalanceBefore)
	requireMoney(t, "36.61", p.PaymentInfo.ChargeAmount)
	requireMoney(t, "163.39", p.PaymentInfo.BalanceAfter)

	require.Equal(t, []string{res.Order.ID.String()}, f.receipts.ids)

	emptied, err := f.carts.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, emptied.IsEmpty())
}

func TestSubmitRecordsOverallDiscounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.booksCart(t)
	_, _, err := f.carts.ApplyCode(ctx, id, "FIVEOFF")
	require.NoError(t, err)

	res, err := f.svc.Submit(ctx, id, validInput(), "")
	require.NoError(t, err)
	require.NotEmpty(t, res.Order.IdemKey)
	require.NotNil(t, res.Order.Payload.OverallDiscounts)
	requireMoney(t, "31.61", res.Order.Payload.GrandTotal)
	requireMoney(t, "5", res.Order.Payload.OverallDiscounts.AbsoluteDiscountAmount)
}

func TestSubmitReplaysIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.booksCart(t)

	first, err := f.svc.Submit(ctx, id, validInput(), "same-key")
	require.NoError(t, err)

	second, err := f.svc.Submit(ctx, id, validInput(), "same-key")
	require.NoError(t, err)
	require.True(t, second.Replayed)
	require.Equal(t, first.Order.ID, second.Order.ID)
	require.Equal(t, 1, f.orders.create)
	require.Len(t, f.receipts.ids, 1)
}

func TestSubmitValidation(t *testing.T) {
	cases := map[string]struct {
		mutate func(*checkout.Input)
		field  string
	}{
		"missing name":       {func(in *checkout.Input) { in.Name = "  " }, "name"},
		"missing class":      {func(in *checkout.Input) { in.ClassName = "" }, "className"},
		"unknown class":      {func(in *checkout.Input) { in.ClassName = "9Z" }, "className"},
		"letters in card":    {func(in *checkout.Input) { in.CardNumber = "6000abcd" }, "cardNumber"},
		"short card":         {func(in *checkout.Input) { in.CardNumber = "12345" }, "cardNumber"},
		"no justification":   {func(in *checkout.Input) { in.Justifications = nil }, "justifications"},
		"blank justification": {func(in *checkout.Input) {
			in.Justifications = []order.Justification{{SKU: "BK-MATH", Text: " "}}
		}, "justifications[0].text"},
		"sku not in cart": {func(in *checkout.Input) {
			in.Justifications = []order.Justification{{SKU: "UN-SHIRT", Text: "why"}}
		}, "justifications[0].sku"},
		"too many justifications": {func(in *checkout.Input) {
			j := order.Justification{SKU: "BK-MATH", Text: "why"}
			in.Justifications = []order.Justification{j, j, j, j}
		}, "justifications"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			id := f.booksCart(t)
			in := validInput()
			tc.mutate(&in)

			_, err := f.svc.Submit(context.Background(), id, in, "")
			var appErr *common.AppError
			require.True(t, errors.As(err, &appErr), "got %v", err)
			require.Equal(t, "VALIDATION_ERROR", appErr.Code)
			require.Contains(t, appErr.Details, tc.field)
			require.Zero(t, f.orders.create)
		})
	}
}

func TestSubmitInsufficientBalanceKeepsCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.booksCart(t)
	in := validInput()
	in.CardNumber = poorCard

	_, err := f.svc.Submit(ctx, id, in, "")
	require.ErrorIs(t, err, payment.ErrInsufficientBalance)
	var balanceErr *payment.BalanceError
	require.True(t, errors.As(err, &balanceErr))
	requireMoney(t, "5", balanceErr.Available)

	c, err := f.carts.Get(ctx, id)
	require.NoError(t, err)
	require.False(t, c.IsEmpty())
	require.Zero(t, f.orders.create)
	require.Empty(t, f.receipts.ids)
}

func TestSubmitUnknownCard(t *testing.T) {
	f := newFixture(t)
	id := f.booksCart(t)
	in := validInput()
	in.CardNumber = "600000000000"

	_, err := f.svc.Submit(context.Background(), id, in, "")
	require.ErrorIs(t, err, payment.ErrCardNotFound)
}

func TestSubmitEmptyCart(t *testing.T) {
	f := newFixture(t)
	c, err := f.carts.Create(context.Background())
	require.NoError(t, err)

	_, err = f.svc.Submit(context.Background(), c.ID, validInput(), "")
	require.ErrorIs(t, err, checkout.ErrEmptyCart)
}

func TestSubmitCartLocked(t *testing.T) {
	f := newFixture(t)
	id := f.booksCart(t)
	require.NoError(t, f.mr.Set("lock:checkout:"+id, "another-submit"))
	locker := f.svc.Locker.(lock.Locker)
	locker.MaxWait = 20 * time.Millisecond
	f.svc.Locker = locker

	_, err := f.svc.Submit(context.Background(), id, validInput(), "")
	require.ErrorIs(t, err, lock.ErrNotAcquired)
	require.Zero(t, f.orders.create)
}

func TestNewValidatorRegistersGiftCardRule(t *testing.T) {
	v, err := checkout.NewValidator()
	require.NoError(t, err)

	type card struct {
		Number string `validate:"giftcard"`
	}
	require.NoError(t, v.Struct(card{Number: "6000 1111 2222 3333"}))
	require.Error(t, v.Struct(card{Number: "12345"}))
	require.Error(t, v.Struct(card{Number: "6000-1111-2222"}))
	require.Error(t, v.Struct(card{Number: "1234567890123456789012345"}))
}
