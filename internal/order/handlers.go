package order

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/school-cart/internal/common"
)

// Getter loads orders for the receipt endpoint.
type Getter interface {
	Get(ctx context.Context, id string) (Order, error)
}

// Handler serves stored receipts.
type Handler struct {
	Orders Getter
}

// Get handles GET /api/v1/orders/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Orders == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order repository not configured", nil)
		return
	}
	o, err := h.Orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load order", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"id":        o.ID.String(),
		"createdAt": o.CreatedAt,
		"receipt":   o.Payload,
	}})
}
