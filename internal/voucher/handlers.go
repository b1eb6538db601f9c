package voucher

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/school-cart/internal/common"
)

// Registries yields the registry for the current site configuration.
type Registries interface {
	Registry(ctx context.Context) (*Registry, error)
}

// Handler lets shoppers check a code before applying it to a cart.
type Handler struct {
	Codes Registries
	// Limiter guards the lookup when set, since it can be used to probe codes.
	Limiter func(http.Handler) http.Handler
}

type codeView struct {
	Code        string `json:"code"`
	Kind        Kind   `json:"kind"`
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
}

// Routes mounts GET /codes/{code} on r.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.Limiter != nil {
			r.Use(h.Limiter)
		}
		r.Get("/codes/{code}", h.Check)
	})
}

// Check resolves one code case-insensitively.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	if h.Codes == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "codes unavailable", nil)
		return
	}
	reg, err := h.Codes.Registry(r.Context())
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "codes unavailable", nil)
		return
	}
	c, ok := reg.Lookup(chi.URLParam(r, "code"))
	if !ok {
		common.JSONError(w, http.StatusNotFound, "INVALID_CODE", "Code not recognised", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": codeView{
		Code:        c.Code,
		Kind:        c.Kind,
		Amount:      c.Amount.StringFixed(2),
		Description: c.Description,
	}})
}
