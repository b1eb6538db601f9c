package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// DiscountCodeTotal counts discount-code apply attempts by result.
	DiscountCodeTotal *prometheus.CounterVec
	// CheckoutTotal counts checkout submissions by result.
	CheckoutTotal *prometheus.CounterVec
	// DiscountCapAppliedTotal counts quotes where the discount cap trimmed the codes.
	DiscountCapAppliedTotal prometheus.Counter
	// GiftCardRedeemTotal counts gift-card redemption outcomes.
	GiftCardRedeemTotal *prometheus.CounterVec
	// ReceiptDeliveriesTotal tracks receipt delivery outcomes.
	ReceiptDeliveriesTotal *prometheus.CounterVec
	// ReceiptAttemptLatency records receipt delivery latency in milliseconds.
	ReceiptAttemptLatency *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		DiscountCodeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discount_code_total",
			Help:      "Count of discount code apply attempts by result.",
		}, []string{"result"})
		CheckoutTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_total",
			Help:      "Count of checkout submissions by result.",
		}, []string{"result"})
		DiscountCapAppliedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discount_cap_applied_total",
			Help:      "Number of quotes where the discount cap reduced applied codes.",
		})
		GiftCardRedeemTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gift_card_redeem_total",
			Help:      "Count of gift card redemption outcomes.",
		}, []string{"result"})
		ReceiptDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipt_deliveries_total",
			Help:      "Count of receipt delivery outcomes.",
		}, []string{"result"})
		ReceiptAttemptLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "receipt_attempt_duration_ms",
			Help:      "Latency for receipt delivery attempts in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"result"})

		mustRegisterCollector(reg, DiscountCodeTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				DiscountCodeTotal = v
			}
		})
		mustRegisterCollector(reg, CheckoutTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CheckoutTotal = v
			}
		})
		mustRegisterCollector(reg, DiscountCapAppliedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				DiscountCapAppliedTotal = v
			}
		})
		mustRegisterCollector(reg, GiftCardRedeemTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				GiftCardRedeemTotal = v
			}
		})
		mustRegisterCollector(reg, ReceiptDeliveriesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ReceiptDeliveriesTotal = v
			}
		})
		mustRegisterCollector(reg, ReceiptAttemptLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				ReceiptAttemptLatency = v
			}
		})
	})
}

// CountDiscountCode records a code apply attempt when metrics are registered.
func CountDiscountCode(result string) {
	if DiscountCodeTotal != nil {
		DiscountCodeTotal.WithLabelValues(result).Inc()
	}
}

// CountCheckout records a checkout outcome when metrics are registered.
func CountCheckout(result string) {
	if CheckoutTotal != nil {
		CheckoutTotal.WithLabelValues(result).Inc()
	}
}

// CountGiftCardRedeem records a redemption outcome when metrics are registered.
func CountGiftCardRedeem(result string) {
	if GiftCardRedeemTotal != nil {
		GiftCardRedeemTotal.WithLabelValues(result).Inc()
	}
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register metric: %w", err))
	}
}
