package cart

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/school-cart/internal/common"
	"github.com/noah-isme/school-cart/internal/voucher"
)

// codeMessages are the shopper-facing messages for code validation failures.
var codeMessages = map[error]string{
	voucher.ErrCodeRequired:       "Enter a discount code",
	voucher.ErrCodeNotRecognised:  "Code not recognised",
	voucher.ErrCodeAlreadyApplied: "Code already applied",
	voucher.ErrOnlyOnePercentCode: "Only one percentage discount can be used",
}

// Handler wires cart services to HTTP.
type Handler struct {
	Svc *Service
	// CodeLimiter guards the code endpoint when set.
	CodeLimiter func(http.Handler) http.Handler
	// Quote serves GET /carts/{id}/quote when set.
	Quote http.HandlerFunc
}

// Routes mounts the cart endpoints on r, relative to /carts.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.Create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Delete("/", h.Clear)
		r.Post("/items", h.AddItem)
		r.Put("/items/{storeId}/{sku}", h.UpdateItem)
		r.Delete("/items/{storeId}/{sku}", h.RemoveItem)
		r.Delete("/stores/{storeId}", h.ClearStore)
		r.Group(func(r chi.Router) {
			if h.CodeLimiter != nil {
				r.Use(h.CodeLimiter)
			}
			r.Post("/codes", h.ApplyCode)
		})
		r.Delete("/codes/{code}", h.RemoveCode)
		if h.Quote != nil {
			r.Get("/quote", h.Quote)
		}
	})
}

type cartView struct {
	Cart
	TotalQty int `json:"totalQty"`
}

func view(c Cart) cartView {
	return cartView{Cart: c, TotalQty: c.TotalQty()}
}

// Create starts a new cart.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	c, err := h.Svc.Create(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": view(c)})
}

// Get returns the stored cart lines and codes.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	c, err := h.Svc.Get(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, c, err)
}

// AddItem increments a line. Quantity defaults to one.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	var payload struct {
		StoreID string `json:"storeId"`
		SKU     string `json:"sku"`
		Qty     *int   `json:"qty"`
	}
	if !common.DecodeJSON(w, r, &payload) {
		return
	}
	if strings.TrimSpace(payload.StoreID) == "" || strings.TrimSpace(payload.SKU) == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "storeId and sku are required", nil)
		return
	}
	qty := 1
	if payload.Qty != nil {
		qty = *payload.Qty
	}
	c, err := h.Svc.Add(r.Context(), chi.URLParam(r, "id"), payload.StoreID, payload.SKU, qty)
	h.respond(w, c, err)
}

// UpdateItem replaces a line quantity; zero removes the line.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	var payload struct {
		Qty int `json:"qty"`
	}
	if !common.DecodeJSON(w, r, &payload) {
		return
	}
	c, err := h.Svc.SetQty(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "storeId"), chi.URLParam(r, "sku"), payload.Qty)
	h.respond(w, c, err)
}

// RemoveItem deletes a line.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	c, err := h.Svc.Remove(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "storeId"), chi.URLParam(r, "sku"))
	h.respond(w, c, err)
}

// ClearStore deletes every line for one store.
func (h *Handler) ClearStore(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	c, err := h.Svc.ClearStore(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "storeId"))
	h.respond(w, c, err)
}

// Clear empties the cart.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	c, err := h.Svc.Clear(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, c, err)
}

// ApplyCode adds a discount code to the cart.
func (h *Handler) ApplyCode(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	var payload struct {
		Code string `json:"code"`
	}
	if !common.DecodeJSON(w, r, &payload) {
		return
	}
	c, code, err := h.Svc.ApplyCode(r.Context(), chi.URLParam(r, "id"), payload.Code)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"cart": view(c),
		"code": code,
	}})
}

// RemoveCode drops a discount code from the cart.
func (h *Handler) RemoveCode(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	c, err := h.Svc.RemoveCode(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "code"))
	h.respond(w, c, err)
}

func (h *Handler) respond(w http.ResponseWriter, c Cart, err error) {
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view(c)})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	for sentinel, message := range codeMessages {
		if errors.Is(err, sentinel) {
			common.JSONError(w, http.StatusBadRequest, "INVALID_CODE", message, nil)
			return
		}
	}
	switch {
	case errors.Is(err, ErrInvalidInput):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "cart not found", nil)
	case errors.Is(err, ErrConflict):
		common.JSONError(w, http.StatusConflict, "CONFLICT", "cart was updated elsewhere, retry", nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart unavailable", nil)
	}
}
