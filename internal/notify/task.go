package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/school-cart/internal/resilience"
)

// TypeOrderReceipt is the asynq task type for receipt delivery.
const TypeOrderReceipt = "order:receipt"

// QueueReceipts is the asynq queue receipt tasks run on.
const QueueReceipts = "receipts"

type receiptTaskPayload struct {
	OrderID string `json:"orderId"`
}

// NewReceiptTask builds a receipt task keyed by order id so a replayed
// checkout cannot enqueue the same receipt twice.
func NewReceiptTask(orderID string, maxRetry int) (*asynq.Task, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("notify: order id required")
	}
	if maxRetry <= 0 {
		maxRetry = 8
	}
	body, err := json.Marshal(receiptTaskPayload{OrderID: orderID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeOrderReceipt, body,
		asynq.TaskID("receipt:"+orderID),
		asynq.MaxRetry(maxRetry),
		asynq.Queue(QueueReceipts),
	), nil
}

func parseReceiptTask(t *asynq.Task) (string, error) {
	var p receiptTaskPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return "", fmt.Errorf("decode receipt task: %w", err)
	}
	id := strings.TrimSpace(p.OrderID)
	if id == "" {
		return "", errors.New("receipt task missing order id")
	}
	return id, nil
}

// TaskEnqueuer is the subset of *asynq.Client used to schedule tasks.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Enqueuer schedules receipt deliveries.
type Enqueuer struct {
	Client   TaskEnqueuer
	MaxRetry int
}

// EnqueueReceipt schedules delivery for orderID. A task that already exists
// for the order is not an error.
func (e Enqueuer) EnqueueReceipt(ctx context.Context, orderID string) error {
	if e.Client == nil {
		return errors.New("notify: task client not configured")
	}
	task, err := NewReceiptTask(orderID, e.MaxRetry)
	if err != nil {
		return err
	}
	if _, err := e.Client.EnqueueContext(ctx, task); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return fmt.Errorf("enqueue receipt: %w", err)
	}
	return nil
}

// RetryDelay returns an asynq RetryDelayFunc with exponential backoff from
// base, capped at ceiling.
func RetryDelay(base, ceiling time.Duration) asynq.RetryDelayFunc {
	if base <= 0 {
		base = 5 * time.Second
	}
	if ceiling <= 0 {
		ceiling = 30 * time.Minute
	}
	return func(n int, _ error, _ *asynq.Task) time.Duration {
		if n > 20 {
			return ceiling
		}
		d := resilience.Backoff(base, n+1, 0.1)
		if d > ceiling || d <= 0 {
			return ceiling
		}
		return d
	}
}
