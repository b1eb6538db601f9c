package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/school-cart/internal/lock"
	"github.com/noah-isme/school-cart/internal/obs"
	"github.com/noah-isme/school-cart/internal/order"
)

// Sender delivers a stored order to the receipt endpoint.
type Sender interface {
	Send(ctx context.Context, o order.Order) (int, error)
}

// ReceiptWorker handles order:receipt tasks.
type ReceiptWorker struct {
	Orders  order.Getter
	Sender  Sender
	Locker  lock.Locker
	LockTTL time.Duration
	Logger  zerolog.Logger
}

// ProcessTask implements asynq.Handler. Missing orders and permanent
// rejections skip retries; everything else is retried by asynq.
func (w ReceiptWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	if w.Orders == nil || w.Sender == nil {
		return errors.New("receipt worker: not configured")
	}
	orderID, err := parseReceiptTask(t)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	ttl := w.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return w.Locker.WithLock(ctx, "lock:receipt:"+orderID, ttl, func(ctx context.Context) error {
		return w.deliver(ctx, orderID)
	})
}

func (w ReceiptWorker) deliver(ctx context.Context, orderID string) error {
	logger := w.Logger.With().Str("order_id", orderID).Logger()
	o, err := w.Orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			recordDelivery("dropped", 0)
			logger.Warn().Msg("receipt_order_missing")
			return fmt.Errorf("order %s: %w", orderID, asynq.SkipRetry)
		}
		return err
	}

	start := time.Now()
	status, err := w.Sender.Send(ctx, o)
	elapsed := time.Since(start)
	switch {
	case err == nil:
		recordDelivery("delivered", elapsed)
		logger.Info().Int("status", status).Msg("receipt delivered")
		return nil
	case errors.Is(err, ErrReceiptRejected):
		recordDelivery("rejected", elapsed)
		logger.Error().Err(err).Int("status", status).Msg("receipt_rejected")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	default:
		recordDelivery("failed", elapsed)
		logger.Warn().Err(err).Int("status", status).Msg("receipt_delivery_failed")
		return err
	}
}

func recordDelivery(result string, elapsed time.Duration) {
	if obs.ReceiptDeliveriesTotal != nil {
		obs.ReceiptDeliveriesTotal.WithLabelValues(result).Inc()
	}
	if elapsed > 0 && obs.ReceiptAttemptLatency != nil {
		obs.ReceiptAttemptLatency.WithLabelValues(result).Observe(obs.DurationMillis(elapsed))
	}
}
