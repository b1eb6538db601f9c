package checkout

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/school-cart/internal/cart"
	"github.com/noah-isme/school-cart/internal/common"
	"github.com/noah-isme/school-cart/internal/lock"
	"github.com/noah-isme/school-cart/internal/payment"
)

// Handler exposes quoting and checkout over HTTP.
type Handler struct {
	Svc *Service
	// Idempotency wraps the submit endpoint when set.
	Idempotency func(http.Handler) http.Handler
	// PaymentLimiter throttles gift-card attempts when set.
	PaymentLimiter func(http.Handler) http.Handler
}

type submitRequest struct {
	CartID string `json:"cartId"`
	Input
}

// Routes mounts POST /checkout on r.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.PaymentLimiter != nil {
			r.Use(h.PaymentLimiter)
		}
		if h.Idempotency != nil {
			r.Use(h.Idempotency)
		}
		r.Post("/checkout", h.Submit)
	})
}

// Quote handles GET /carts/{id}/quote.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	q, err := h.Svc.Quote(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": q})
}

// Submit handles POST /checkout.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	var req submitRequest
	if !common.DecodeJSON(w, r, &req) {
		return
	}
	if req.CartID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "cartId is required", nil)
		return
	}
	res, err := h.Svc.Submit(r.Context(), req.CartID, req.Input, r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	common.JSON(w, status, map[string]any{"data": map[string]any{
		"orderId":  res.Order.ID.String(),
		"replayed": res.Replayed,
		"receipt":  res.Order.Payload,
	}})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var appErr *common.AppError
	var balanceErr *payment.BalanceError
	switch {
	case errors.As(err, &appErr):
		common.WriteAppError(w, appErr)
	case errors.As(err, &balanceErr):
		common.JSONError(w, http.StatusPaymentRequired, "PAYMENT_DECLINED",
			fmt.Sprintf("Insufficient balance (available S$%s)", balanceErr.Available.StringFixed(2)), nil)
	case errors.Is(err, payment.ErrCardNotFound):
		common.JSONError(w, http.StatusPaymentRequired, "PAYMENT_DECLINED", "Gift card not found", nil)
	case errors.Is(err, cart.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "cart not found", nil)
	case errors.Is(err, ErrEmptyCart):
		common.JSONError(w, http.StatusConflict, "EMPTY_CART", "cart is empty", nil)
	case errors.Is(err, lock.ErrNotAcquired):
		common.JSONError(w, http.StatusConflict, "CHECKOUT_IN_PROGRESS", "checkout already in progress for this cart", nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout failed", nil)
	}
}
