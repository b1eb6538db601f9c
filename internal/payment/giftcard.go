package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/school-cart/internal/obs"
)

var (
	// ErrCardNotFound indicates no gift card matches the number.
	ErrCardNotFound = errors.New("gift card not found")
	// ErrInsufficientBalance indicates the card cannot cover the charge.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// BalanceError reports the available balance of a card that could not cover a charge.
type BalanceError struct {
	Available decimal.Decimal
}

func (e *BalanceError) Error() string {
	return fmt.Sprintf("insufficient balance (available %s)", e.Available.StringFixed(2))
}

// Is matches ErrInsufficientBalance.
func (e *BalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

const cardsFile = "cards.json"

type cardsDocument struct {
	Cards []struct {
		Number  cardNumber       `json:"number"`
		Balance *decimal.Decimal `json:"balance"`
	} `json:"cards"`
}

// cardNumber accepts card numbers written as JSON strings or numbers.
type cardNumber string

func (n *cardNumber) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = cardNumber(NormaliseNumber(s))
		return nil
	}
	*n = cardNumber(b)
	return nil
}

// GiftCards authorises charges against the simulated gift cards listed in
// cards.json. Balances are read-only.
type GiftCards struct {
	Files fs.FS
	Now   func() time.Time
}

var _ Provider = (*GiftCards)(nil)

// NormaliseNumber strips whitespace from a card number.
func NormaliseNumber(number string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, number)
}

// Redeem authorises amount against the card and returns the resulting payment info.
func (g *GiftCards) Redeem(ctx context.Context, number string, amount decimal.Decimal) (PaymentInfo, error) {
	info, err := g.redeem(ctx, number, amount)
	switch {
	case err == nil:
		obs.CountGiftCardRedeem("authorised")
	case errors.Is(err, ErrCardNotFound):
		obs.CountGiftCardRedeem("not_found")
	case errors.Is(err, ErrInsufficientBalance):
		obs.CountGiftCardRedeem("insufficient")
	default:
		obs.CountGiftCardRedeem("error")
	}
	return info, err
}

func (g *GiftCards) redeem(ctx context.Context, number string, amount decimal.Decimal) (PaymentInfo, error) {
	if err := ctx.Err(); err != nil {
		return PaymentInfo{}, err
	}
	if g == nil || g.Files == nil {
		return PaymentInfo{}, errors.New("gift cards not configured")
	}
	number = NormaliseNumber(number)
	balance, err := g.lookup(number)
	if err != nil {
		return PaymentInfo{}, err
	}
	if balance.LessThan(amount) {
		return PaymentInfo{}, &BalanceError{Available: balance}
	}
	return PaymentInfo{
		GiftCardNumber: number,
		BalanceBefore:  balance,
		ChargeAmount:   amount,
		BalanceAfter:   balance.Sub(amount).Round(2),
		AuthAt:         g.now(),
	}, nil
}

func (g *GiftCards) lookup(number string) (decimal.Decimal, error) {
	raw, err := fs.ReadFile(g.Files, cardsFile)
	if err != nil {
		return decimal.Zero, fmt.Errorf("read %s: %w", cardsFile, err)
	}
	var doc cardsDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return decimal.Zero, fmt.Errorf("decode %s: %w", cardsFile, err)
	}
	for _, c := range doc.Cards {
		if string(c.Number) != number {
			continue
		}
		if c.Balance == nil {
			return decimal.Zero, nil
		}
		return *c.Balance, nil
	}
	return decimal.Zero, ErrCardNotFound
}

func (g *GiftCards) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now().UTC()
}
