package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/school-cart/internal/catalog"
	"github.com/noah-isme/school-cart/internal/obs"
	"github.com/noah-isme/school-cart/internal/voucher"
)

// ErrNotFound indicates the requested cart could not be located.
var ErrNotFound = errors.New("cart not found")

// ErrInvalidInput is returned when the provided payload is invalid.
var ErrInvalidInput = errors.New("invalid input")

// ErrConflict is returned when concurrent writers keep racing on a cart.
var ErrConflict = errors.New("cart modified concurrently")

const maxTxRetries = 5

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Catalog is the subset of the catalog the cart needs.
type Catalog interface {
	Store(ctx context.Context, id string) (catalog.Store, error)
	Registry(ctx context.Context) (*voucher.Registry, error)
}

// Service stores carts as JSON documents in Redis with a sliding TTL.
type Service struct {
	R       *redis.Client
	Catalog Catalog
	TTL     time.Duration
	Now     func() time.Time
}

func (s *Service) ttl() time.Duration {
	if s == nil || s.TTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return s.TTL
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func key(id string) string {
	return "cart:" + id
}

func (s *Service) ready() error {
	if s == nil || s.R == nil {
		return errors.New("cart service not configured")
	}
	return nil
}

// Create starts an empty cart.
func (s *Service) Create(ctx context.Context) (Cart, error) {
	if err := s.ready(); err != nil {
		return Cart{}, err
	}
	c := newCart(uuid.NewString(), s.now())
	if err := s.save(ctx, c); err != nil {
		return Cart{}, err
	}
	return c, nil
}

// Get loads a cart and extends its TTL.
func (s *Service) Get(ctx context.Context, id string) (Cart, error) {
	if err := s.ready(); err != nil {
		return Cart{}, err
	}
	c, err := s.load(ctx, s.R, id)
	if err != nil {
		return Cart{}, err
	}
	_ = s.R.Expire(ctx, key(c.ID), s.ttl()).Err()
	return c, nil
}

// Add increments a line, clamped to the store's per-item maximum.
func (s *Service) Add(ctx context.Context, id, storeID, sku string, qty int) (Cart, error) {
	if qty <= 0 {
		return Cart{}, fmt.Errorf("qty must be positive: %w", ErrInvalidInput)
	}
	store, err := s.resolveLine(ctx, storeID, sku)
	if err != nil {
		return Cart{}, err
	}
	return s.mutate(ctx, id, func(c *Cart) error {
		c.setQty(store.ID, sku, store.ClampQty(c.Qty(store.ID, sku)+qty))
		return nil
	})
}

// SetQty replaces a line's quantity. A quantity of zero or less removes the line.
func (s *Service) SetQty(ctx context.Context, id, storeID, sku string, qty int) (Cart, error) {
	if qty <= 0 {
		return s.Remove(ctx, id, storeID, sku)
	}
	store, err := s.resolveLine(ctx, storeID, sku)
	if err != nil {
		return Cart{}, err
	}
	return s.mutate(ctx, id, func(c *Cart) error {
		c.setQty(store.ID, sku, store.ClampQty(qty))
		return nil
	})
}

// Remove drops a line.
func (s *Service) Remove(ctx context.Context, id, storeID, sku string) (Cart, error) {
	return s.mutate(ctx, id, func(c *Cart) error {
		c.setQty(storeID, sku, 0)
		return nil
	})
}

// ClearStore drops every line for one store.
func (s *Service) ClearStore(ctx context.Context, id, storeID string) (Cart, error) {
	return s.mutate(ctx, id, func(c *Cart) error {
		c.dropStore(storeID)
		return nil
	})
}

// Clear empties the cart and its applied codes.
func (s *Service) Clear(ctx context.Context, id string) (Cart, error) {
	return s.mutate(ctx, id, func(c *Cart) error {
		c.Lines = map[string]map[string]int{}
		c.Order = map[string][]string{}
		c.AppliedCodes = []string{}
		return nil
	})
}

// ApplyCode validates and records a discount code.
func (s *Service) ApplyCode(ctx context.Context, id, code string) (Cart, voucher.Code, error) {
	if s == nil || s.Catalog == nil {
		return Cart{}, voucher.Code{}, errors.New("cart catalog not configured")
	}
	registry, err := s.Catalog.Registry(ctx)
	if err != nil {
		return Cart{}, voucher.Code{}, fmt.Errorf("load discount codes: %w", err)
	}
	var applied voucher.Code
	c, err := s.mutate(ctx, id, func(c *Cart) error {
		next, match, err := registry.Apply(c.AppliedCodes, code)
		if err != nil {
			return err
		}
		c.AppliedCodes = next
		applied = match
		return nil
	})
	switch {
	case err == nil:
		obs.CountDiscountCode("applied")
	case errors.Is(err, ErrNotFound):
	default:
		obs.CountDiscountCode("rejected")
	}
	if err != nil {
		return Cart{}, voucher.Code{}, err
	}
	return c, applied, nil
}

// RemoveCode removes a discount code if present.
func (s *Service) RemoveCode(ctx context.Context, id, code string) (Cart, error) {
	return s.mutate(ctx, id, func(c *Cart) error {
		c.AppliedCodes = voucher.RemoveCode(c.AppliedCodes, code)
		return nil
	})
}

func (s *Service) resolveLine(ctx context.Context, storeID, sku string) (catalog.Store, error) {
	if s == nil || s.Catalog == nil {
		return catalog.Store{}, errors.New("cart catalog not configured")
	}
	storeID = strings.TrimSpace(storeID)
	store, err := s.Catalog.Store(ctx, storeID)
	if err != nil {
		if errors.Is(err, catalog.ErrStoreNotFound) {
			return catalog.Store{}, fmt.Errorf("unknown store %q: %w", storeID, ErrInvalidInput)
		}
		return catalog.Store{}, err
	}
	if _, ok := store.ProductsBySKU()[sku]; !ok {
		return catalog.Store{}, fmt.Errorf("unknown sku %q in store %q: %w", sku, storeID, ErrInvalidInput)
	}
	return store, nil
}

// mutate applies fn under an optimistic WATCH transaction and persists the result.
func (s *Service) mutate(ctx context.Context, id string, fn func(*Cart) error) (Cart, error) {
	if err := s.ready(); err != nil {
		return Cart{}, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return Cart{}, ErrNotFound
	}
	var out Cart
	txf := func(tx *redis.Tx) error {
		c, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(&c); err != nil {
			return err
		}
		c.UpdatedAt = s.now()
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key(id), data, s.ttl())
			return nil
		})
		if err == nil {
			out = c
		}
		return err
	}
	for i := 0; i < maxTxRetries; i++ {
		err := s.R.Watch(ctx, txf, key(id))
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return Cart{}, err
		}
		return out, nil
	}
	return Cart{}, ErrConflict
}

func (s *Service) load(ctx context.Context, r getter, id string) (Cart, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Cart{}, ErrNotFound
	}
	data, err := r.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Cart{}, ErrNotFound
	}
	if err != nil {
		return Cart{}, fmt.Errorf("load cart: %w", err)
	}
	var c Cart
	if err := json.Unmarshal(data, &c); err != nil {
		return Cart{}, fmt.Errorf("decode cart: %w", err)
	}
	if c.Lines == nil {
		c.Lines = map[string]map[string]int{}
	}
	if c.Order == nil {
		c.Order = map[string][]string{}
	}
	if c.AppliedCodes == nil {
		c.AppliedCodes = []string{}
	}
	return c, nil
}

func (s *Service) save(ctx context.Context, c Cart) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.R.Set(ctx, key(c.ID), data, s.ttl()).Err()
}
