package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when no order matches.
var ErrNotFound = errors.New("order not found")

// Querier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists orders in PostgreSQL.
type Repository struct {
	DB  Querier
	Now func() time.Time
}

const insertOrderSQL = `INSERT INTO orders (id, idem_key, grand_total, class_name, buyer_name, payload, created_at)
VALUES ($1::uuid, $2, $3::numeric, $4, $5, $6::jsonb, $7)
ON CONFLICT (idem_key) DO NOTHING
RETURNING id::text, created_at`

const selectOrderColumns = `SELECT id::text, idem_key, grand_total::text, payload, created_at FROM orders`

// Create stores a new order. When an order with the same idempotency key
// already exists it is returned instead and created is false.
func (r *Repository) Create(ctx context.Context, payload Payload) (o Order, created bool, err error) {
	if r == nil || r.DB == nil {
		return Order{}, false, errors.New("order repository not configured")
	}
	if strings.TrimSpace(payload.IdemKey) == "" {
		return Order{}, false, errors.New("order idempotency key is required")
	}
	if payload.CreatedAt.IsZero() {
		payload.CreatedAt = r.now()
	}
	doc, err := json.Marshal(payload)
	if err != nil {
		return Order{}, false, fmt.Errorf("encode order payload: %w", err)
	}

	id := uuid.New()
	var (
		rawID     string
		createdAt time.Time
	)
	err = r.DB.QueryRow(ctx, insertOrderSQL,
		id.String(), payload.IdemKey, payload.GrandTotal.StringFixed(2),
		payload.ClassName, payload.Name, string(doc), payload.CreatedAt,
	).Scan(&rawID, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		existing, getErr := r.GetByIdemKey(ctx, payload.IdemKey)
		return existing, false, getErr
	}
	if err != nil {
		return Order{}, false, fmt.Errorf("insert order: %w", err)
	}
	return Order{
		ID:         id,
		IdemKey:    payload.IdemKey,
		GrandTotal: payload.GrandTotal,
		Payload:    payload,
		CreatedAt:  createdAt,
	}, true, nil
}

// Get loads an order by id.
func (r *Repository) Get(ctx context.Context, id string) (Order, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return Order{}, ErrNotFound
	}
	return r.scanOne(ctx, selectOrderColumns+` WHERE id = $1::uuid`, parsed.String())
}

// GetByIdemKey loads an order by its idempotency key.
func (r *Repository) GetByIdemKey(ctx context.Context, key string) (Order, error) {
	return r.scanOne(ctx, selectOrderColumns+` WHERE idem_key = $1`, key)
}

func (r *Repository) scanOne(ctx context.Context, sql string, arg any) (Order, error) {
	if r == nil || r.DB == nil {
		return Order{}, errors.New("order repository not configured")
	}
	var (
		rawID, idemKey, total string
		doc                   []byte
		createdAt             time.Time
	)
	err := r.DB.QueryRow(ctx, sql, arg).Scan(&rawID, &idemKey, &total, &doc, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("load order: %w", err)
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return Order{}, fmt.Errorf("parse order id: %w", err)
	}
	grand, err := decimal.NewFromString(total)
	if err != nil {
		return Order{}, fmt.Errorf("parse grand total: %w", err)
	}
	var payload Payload
	if err := json.Unmarshal(doc, &payload); err != nil {
		return Order{}, fmt.Errorf("decode order payload: %w", err)
	}
	return Order{ID: id, IdemKey: idemKey, GrandTotal: grand, Payload: payload, CreatedAt: createdAt}, nil
}

func (r *Repository) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}
