package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/school-cart/internal/lock"
	"github.com/noah-isme/school-cart/internal/notify"
	"github.com/noah-isme/school-cart/internal/order"
	"github.com/noah-isme/school-cart/internal/resilience"
)

func sampleOrder() order.Order {
	created := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	return order.Order{
		ID:         uuid.MustParse("8b3c1f4e-7d1a-4a55-9f0e-2c6b7a9d1e01"),
		IdemKey:    "idem-1",
		GrandTotal: decimal.RequireFromString("42.50"),
		CreatedAt:  created,
		Payload: order.Payload{
			Name:       "Ana",
			ClassName:  "1A",
			GrandTotal: decimal.RequireFromString("42.50"),
			CreatedAt:  created,
			IdemKey:    "idem-1",
		},
	}
}

type fakeOrders struct {
	orders map[string]order.Order
}

func (f fakeOrders) Get(_ context.Context, id string) (order.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	return o, nil
}

func TestReceiptSenderSignsPayload(t *testing.T) {
	o := sampleOrder()
	now := time.Unix(1767225600, 0)
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ts, _ := strconv.ParseInt(r.Header.Get("X-Timestamp"), 10, 64)
		require.Equal(t, now.Unix(), ts)
		require.Equal(t, o.ID.String(), r.Header.Get("X-Event-ID"))
		require.Equal(t, "idem-1", r.Header.Get("X-Idempotency-Key"))
		require.Equal(t, notify.ComputeSignature("s3cret", ts, o.ID.String(), body), r.Header.Get("X-Signature"))
		got.Store(body)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	sender := notify.ReceiptSender{
		URL:    srv.URL,
		Secret: "s3cret",
		HTTP:   &resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1},
		Now:    func() time.Time { return now },
	}
	status, err := sender.Send(context.Background(), o)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)

	var posted map[string]any
	require.NoError(t, json.Unmarshal(got.Load().([]byte), &posted))
	require.Equal(t, "Ana", posted["name"])
	require.Equal(t, "1A", posted["className"])
	require.Equal(t, "idem-1", posted["idemKey"])
}

func TestReceiptSenderClassifiesStatus(t *testing.T) {
	status := atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	t.Cleanup(srv.Close)
	sender := notify.ReceiptSender{URL: srv.URL, HTTP: &resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1}}

	status.Store(http.StatusUnprocessableEntity)
	_, err := sender.Send(context.Background(), sampleOrder())
	require.ErrorIs(t, err, notify.ErrReceiptRejected)

	status.Store(http.StatusServiceUnavailable)
	_, err = sender.Send(context.Background(), sampleOrder())
	require.Error(t, err)
	require.False(t, errors.Is(err, notify.ErrReceiptRejected))
}

func TestReceiptSenderRejectsPlainHTTPForRemoteHosts(t *testing.T) {
	sender := notify.ReceiptSender{URL: "http://example.com/hook", HTTP: &resilience.HTTPClient{Client: http.DefaultClient}}
	_, err := sender.Send(context.Background(), sampleOrder())
	require.ErrorIs(t, err, notify.ErrReceiptRejected)
}

type recordingEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	err   error
}

func (r *recordingEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.tasks = append(r.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func TestEnqueueReceipt(t *testing.T) {
	rec := &recordingEnqueuer{}
	enq := notify.Enqueuer{Client: rec, MaxRetry: 3}
	require.NoError(t, enq.EnqueueReceipt(context.Background(), "order-1"))
	require.Len(t, rec.tasks, 1)
	require.Equal(t, notify.TypeOrderReceipt, rec.tasks[0].Type())
	require.JSONEq(t, `{"orderId":"order-1"}`, string(rec.tasks[0].Payload()))

	require.Error(t, enq.EnqueueReceipt(context.Background(), "  "))
}

func TestEnqueueReceiptIgnoresDuplicateTask(t *testing.T) {
	enq := notify.Enqueuer{Client: &recordingEnqueuer{err: asynq.ErrTaskIDConflict}}
	require.NoError(t, enq.EnqueueReceipt(context.Background(), "order-1"))

	enq = notify.Enqueuer{Client: &recordingEnqueuer{err: errors.New("redis down")}}
	require.Error(t, enq.EnqueueReceipt(context.Background(), "order-1"))
}

func TestRetryDelayGrowsAndCaps(t *testing.T) {
	delay := notify.RetryDelay(time.Second, 10*time.Second)
	first := delay(0, nil, nil)
	require.InDelta(t, float64(time.Second), float64(first), float64(150*time.Millisecond))
	third := delay(2, nil, nil)
	require.InDelta(t, float64(4*time.Second), float64(third), float64(500*time.Millisecond))
	require.Equal(t, 10*time.Second, delay(8, nil, nil))
	require.Equal(t, 10*time.Second, delay(100, nil, nil))
}

type stubSender struct {
	calls atomic.Int32
	err   error
}

func (s *stubSender) Send(context.Context, order.Order) (int, error) {
	s.calls.Add(1)
	if s.err != nil {
		return http.StatusBadRequest, s.err
	}
	return http.StatusOK, nil
}

func newWorker(t *testing.T, sender notify.Sender) notify.ReceiptWorker {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	o := sampleOrder()
	return notify.ReceiptWorker{
		Orders:  fakeOrders{orders: map[string]order.Order{o.ID.String(): o}},
		Sender:  sender,
		Locker:  lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond},
		LockTTL: time.Second,
		Logger:  zerolog.Nop(),
	}
}

func receiptTask(t *testing.T, id string) *asynq.Task {
	t.Helper()
	task, err := notify.NewReceiptTask(id, 3)
	require.NoError(t, err)
	return task
}

func TestReceiptWorkerDelivers(t *testing.T) {
	sender := &stubSender{}
	w := newWorker(t, sender)
	require.NoError(t, w.ProcessTask(context.Background(), receiptTask(t, sampleOrder().ID.String())))
	require.EqualValues(t, 1, sender.calls.Load())
}

func TestReceiptWorkerSkipsRetryForMissingOrder(t *testing.T) {
	sender := &stubSender{}
	w := newWorker(t, sender)
	err := w.ProcessTask(context.Background(), receiptTask(t, uuid.NewString()))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Zero(t, sender.calls.Load())
}

func TestReceiptWorkerRetryPolicy(t *testing.T) {
	rejected := &stubSender{err: notify.ErrReceiptRejected}
	err := newWorker(t, rejected).ProcessTask(context.Background(), receiptTask(t, sampleOrder().ID.String()))
	require.ErrorIs(t, err, asynq.SkipRetry)

	transient := &stubSender{err: errors.New("connection reset")}
	err = newWorker(t, transient).ProcessTask(context.Background(), receiptTask(t, sampleOrder().ID.String()))
	require.Error(t, err)
	require.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestReceiptWorkerRejectsMalformedPayload(t *testing.T) {
	w := newWorker(t, &stubSender{})
	err := w.ProcessTask(context.Background(), asynq.NewTask(notify.TypeOrderReceipt, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
