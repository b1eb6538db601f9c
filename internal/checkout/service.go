package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/school-cart/internal/cart"
	"github.com/noah-isme/school-cart/internal/catalog"
	"github.com/noah-isme/school-cart/internal/common"
	"github.com/noah-isme/school-cart/internal/lock"
	"github.com/noah-isme/school-cart/internal/obs"
	"github.com/noah-isme/school-cart/internal/order"
	"github.com/noah-isme/school-cart/internal/payment"
	"github.com/noah-isme/school-cart/internal/pricing"
	"github.com/noah-isme/school-cart/internal/voucher"
)

// ErrEmptyCart is returned when checkout is attempted without priced items.
var ErrEmptyCart = errors.New("cart is empty")

const maxJustifications = 3

// Carts is the cart store used by checkout.
type Carts interface {
	Get(ctx context.Context, id string) (cart.Cart, error)
	Clear(ctx context.Context, id string) (cart.Cart, error)
}

// Catalog provides the site settings and store definitions.
type Catalog interface {
	Site(ctx context.Context) (catalog.Site, error)
	Store(ctx context.Context, id string) (catalog.Store, error)
}

// Orders persists finished checkouts.
type Orders interface {
	Create(ctx context.Context, payload order.Payload) (order.Order, bool, error)
	GetByIdemKey(ctx context.Context, key string) (order.Order, error)
}

// Receipts schedules receipt delivery for a stored order.
type Receipts interface {
	EnqueueReceipt(ctx context.Context, orderID string) error
}

// Locker serialises work on a single cart; lock.Locker satisfies it.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Service prices carts and turns them into paid orders.
type Service struct {
	Carts    Carts
	Catalog  Catalog
	Payments payment.Provider
	Orders   Orders
	Receipts Receipts
	Locker   Locker
	LockTTL  time.Duration
	Validate *validator.Validate
	Logger   zerolog.Logger
	Now      func() time.Time
}

// StoreQuote is one store's share of a quote.
type StoreQuote struct {
	StoreID   string              `json:"storeId"`
	StoreName string              `json:"storeName"`
	Totals    pricing.StoreTotals `json:"totals"`
}

// Quote is the full price of a cart, recomputed from scratch on every call.
type Quote struct {
	CartID     string          `json:"cartId"`
	Stores     []StoreQuote    `json:"stores"`
	Items      []order.Item    `json:"items"`
	Discounts  voucher.Summary `json:"discounts"`
	GrandTotal pricing.Money   `json:"grandTotal"`
}

// Empty reports whether no store contributed priced items.
func (q Quote) Empty() bool {
	return len(q.Stores) == 0
}

// Input is the buyer's submission.
type Input struct {
	Name           string                `json:"name" validate:"required,max=120"`
	ClassName      string                `json:"className" validate:"required,max=60"`
	Justifications []order.Justification `json:"justifications" validate:"max=3,dive"`
	CardNumber     string                `json:"cardNumber" validate:"required,giftcard"`
}

// Result is the outcome of a checkout submission.
type Result struct {
	Order    order.Order `json:"order"`
	Replayed bool        `json:"replayed"`
}

// NewValidator returns a validator with the checkout rules registered.
func NewValidator() (*validator.Validate, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	err := v.RegisterValidation("giftcard", func(fl validator.FieldLevel) bool {
		n := payment.NormaliseNumber(fl.Field().String())
		if len(n) < 6 || len(n) > 24 {
			return false
		}
		for _, r := range n {
			if r < '0' || r > '9' {
				return false
			}
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("register giftcard rule: %w", err)
	}
	return v, nil
}

func (s *Service) ready() error {
	if s == nil || s.Carts == nil || s.Catalog == nil {
		return errors.New("checkout service not configured")
	}
	return nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Quote prices every non-empty store in the cart and stacks the applied codes.
func (s *Service) Quote(ctx context.Context, cartID string) (Quote, error) {
	if err := s.ready(); err != nil {
		return Quote{}, err
	}
	c, err := s.Carts.Get(ctx, cartID)
	if err != nil {
		return Quote{}, err
	}
	site, err := s.Catalog.Site(ctx)
	if err != nil {
		return Quote{}, fmt.Errorf("load site: %w", err)
	}
	return s.quote(ctx, c, site)
}

func (s *Service) quote(ctx context.Context, c cart.Cart, site catalog.Site) (Quote, error) {
	q := Quote{CartID: c.ID, Stores: []StoreQuote{}, Items: []order.Item{}}
	perStore := make([]pricing.StoreTotals, 0, len(c.Lines))
	for _, storeID := range c.StoreIDs() {
		store, err := s.Catalog.Store(ctx, storeID)
		if err != nil {
			if errors.Is(err, catalog.ErrStoreNotFound) {
				s.Logger.Warn().Str("store_id", storeID).Str("cart_id", c.ID).Msg("quote_store_missing")
				continue
			}
			return Quote{}, fmt.Errorf("load store %s: %w", storeID, err)
		}
		totals := pricing.PriceStore(store.ProductsBySKU(), c.LinesFor(storeID), store.Discounts, store.Shipping.BaseFee, site.GST)
		if totals.Empty() {
			continue
		}
		perStore = append(perStore, totals)
		q.Stores = append(q.Stores, StoreQuote{StoreID: store.ID, StoreName: store.Name, Totals: totals})
		for _, it := range totals.PerItem {
			q.Items = append(q.Items, order.Item{
				StoreID:           store.ID,
				StoreName:         store.Name,
				SKU:               it.SKU,
				Name:              it.Name,
				Img:               it.Image,
				Qty:               it.Qty,
				UnitPrice:         it.UnitPrice,
				OriginalLineTotal: it.OriginalLineTotal,
				FinalLineTotal:    it.FinalLineTotal,
				Discounts:         it.Discounts,
				LineTotal:         it.FinalLineTotal,
			})
		}
	}

	codes := voucher.NewRegistry(site.DiscountCodes).Resolve(c.AppliedCodes)
	q.Discounts = voucher.ApplyCodes(perStore, codes, site.DiscountCap)
	if q.Discounts.CapApplied && obs.DiscountCapAppliedTotal != nil {
		obs.DiscountCapAppliedTotal.Inc()
	}
	q.GrandTotal = q.Discounts.GrandTotalAfterDiscounts
	return q, nil
}

// Submit charges the gift card for the quoted grand total and stores the
// order. The receipt is scheduled and the cart emptied afterwards. A known
// idempotency key returns the stored order without charging again.
func (s *Service) Submit(ctx context.Context, cartID string, in Input, idemKey string) (Result, error) {
	if err := s.ready(); err != nil {
		return Result{}, err
	}
	if s.Payments == nil || s.Orders == nil || s.Locker == nil {
		return Result{}, errors.New("checkout service not configured")
	}
	in = normaliseInput(in)
	if err := s.validate(in); err != nil {
		obs.CountCheckout("invalid")
		return Result{}, err
	}

	idemKey = strings.TrimSpace(idemKey)
	if idemKey == "" {
		idemKey = uuid.NewString()
	}

	ttl := s.LockTTL
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	var res Result
	err := s.Locker.WithLock(ctx, "lock:checkout:"+cartID, ttl, func(ctx context.Context) error {
		var err error
		res, err = s.submit(ctx, cartID, in, idemKey)
		return err
	})
	if err != nil {
		obs.CountCheckout(checkoutResult(err))
		return Result{}, err
	}
	if res.Replayed {
		obs.CountCheckout("replayed")
	} else {
		obs.CountCheckout("completed")
	}
	return res, nil
}

func (s *Service) submit(ctx context.Context, cartID string, in Input, idemKey string) (Result, error) {
	existing, err := s.Orders.GetByIdemKey(ctx, idemKey)
	if err == nil {
		return Result{Order: existing, Replayed: true}, nil
	}
	if !errors.Is(err, order.ErrNotFound) {
		return Result{}, fmt.Errorf("lookup order: %w", err)
	}
	c, err := s.Carts.Get(ctx, cartID)
	if err != nil {
		return Result{}, err
	}
	site, err := s.Catalog.Site(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load site: %w", err)
	}
	if !site.HasClass(in.ClassName) {
		return Result{}, common.Validation("className is not a known class", map[string]string{"className": "unknown"})
	}
	q, err := s.quote(ctx, c, site)
	if err != nil {
		return Result{}, err
	}
	if q.Empty() {
		return Result{}, ErrEmptyCart
	}
	if err := checkJustifications(in.Justifications, q.Items); err != nil {
		return Result{}, err
	}

	info, err := s.Payments.Redeem(ctx, in.CardNumber, q.GrandTotal)
	if err != nil {
		return Result{}, err
	}

	payload := order.Payload{
		Name:           in.Name,
		ClassName:      in.ClassName,
		Justifications: in.Justifications,
		Items:          q.Items,
		ItemsByStore:   order.GroupByStoreName(q.Items),
		PerStoreTotals: make([]order.StoreTotals, 0, len(q.Stores)),
		GrandTotal:     q.GrandTotal,
		PaymentInfo:    info,
		CreatedAt:      s.now(),
		IdemKey:        idemKey,
	}
	for _, st := range q.Stores {
		payload.PerStoreTotals = append(payload.PerStoreTotals, order.NewStoreTotals(st.StoreID, st.StoreName, st.Totals))
	}
	if len(q.Discounts.AppliedCodes) > 0 || q.Discounts.HasDiscount() {
		summary := q.Discounts
		payload.OverallDiscounts = &summary
	}

	o, created, err := s.Orders.Create(ctx, payload)
	if err != nil {
		return Result{}, fmt.Errorf("store order: %w", err)
	}
	logger := s.Logger.With().Str("cart_id", cartID).Str("order_id", o.ID.String()).Logger()
	if !created {
		return Result{Order: o, Replayed: true}, nil
	}
	if s.Receipts != nil {
		if err := s.Receipts.EnqueueReceipt(ctx, o.ID.String()); err != nil {
			logger.Error().Err(err).Msg("receipt_enqueue_failed")
		}
	}
	if _, err := s.Carts.Clear(ctx, cartID); err != nil {
		logger.Error().Err(err).Msg("cart_clear_failed")
	}
	logger.Info().Str("grand_total", o.GrandTotal.StringFixed(2)).Msg("checkout submitted")
	return Result{Order: o}, nil
}

func normaliseInput(in Input) Input {
	in.Name = strings.TrimSpace(in.Name)
	in.ClassName = strings.TrimSpace(in.ClassName)
	in.CardNumber = payment.NormaliseNumber(in.CardNumber)
	justs := make([]order.Justification, 0, len(in.Justifications))
	for _, j := range in.Justifications {
		justs = append(justs, order.Justification{SKU: strings.TrimSpace(j.SKU), Text: strings.TrimSpace(j.Text)})
	}
	in.Justifications = justs
	return in
}

func (s *Service) validate(in Input) error {
	v := s.Validate
	if v == nil {
		var err error
		if v, err = NewValidator(); err != nil {
			return err
		}
	}
	err := v.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		details[fieldName(fe.Namespace())] = fe.Tag()
	}
	return common.Validation("invalid checkout details", details)
}

// fieldName maps "Input.Justifications[0].Text" to "justifications[0].text".
func fieldName(ns string) string {
	ns = strings.TrimPrefix(ns, "Input.")
	parts := strings.Split(ns, ".")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToLower(p[:1]) + p[1:]
	}
	return strings.Join(parts, ".")
}

// checkJustifications requires at least one justification for a non-empty
// cart, each naming an SKU that is being bought.
func checkJustifications(justs []order.Justification, items []order.Item) error {
	if len(items) > 0 && len(justs) == 0 {
		return common.Validation("pick at least one item to justify", map[string]string{"justifications": "min"})
	}
	if len(justs) > maxJustifications {
		return common.Validation("at most 3 justifications", map[string]string{"justifications": "max"})
	}
	inCart := make(map[string]bool, len(items))
	for _, it := range items {
		inCart[it.SKU] = true
	}
	for i, j := range justs {
		if !inCart[j.SKU] {
			return common.Validation("justification must reference an item in the cart",
				map[string]string{fmt.Sprintf("justifications[%d].sku", i): "not_in_cart"})
		}
	}
	return nil
}

func checkoutResult(err error) string {
	var appErr *common.AppError
	switch {
	case errors.As(err, &appErr):
		return "invalid"
	case errors.Is(err, payment.ErrCardNotFound), errors.Is(err, payment.ErrInsufficientBalance):
		return "payment_declined"
	case errors.Is(err, ErrEmptyCart), errors.Is(err, cart.ErrNotFound):
		return "rejected"
	case errors.Is(err, lock.ErrNotAcquired):
		return "busy"
	default:
		return "error"
	}
}
