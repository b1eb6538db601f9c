package payment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentInfo records an authorised charge. It is embedded verbatim in the
// order payload.
type PaymentInfo struct {
	GiftCardNumber string          `json:"giftCardNumber"`
	BalanceBefore  decimal.Decimal `json:"balanceBefore"`
	ChargeAmount   decimal.Decimal `json:"chargeAmount"`
	BalanceAfter   decimal.Decimal `json:"balanceAfter"`
	AuthAt         time.Time       `json:"authAt"`
}

// Provider authorises a charge against a payment instrument.
type Provider interface {
	Redeem(ctx context.Context, number string, amount decimal.Decimal) (PaymentInfo, error)
}
