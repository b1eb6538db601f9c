package catalog

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/school-cart/internal/common"
)

// Handler exposes public catalog endpoints.
type Handler struct {
	service *Service
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Service *Service
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{service: cfg.Service}
}

// Routes mounts the catalog endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/site", h.Site)
	r.Get("/stores", h.Stores)
	r.Get("/stores/{storeID}", h.Store)
}

// Site handles GET /api/v1/site. Discount codes are not exposed.
func (h *Handler) Site(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	site, err := h.service.Site(r.Context())
	if err != nil {
		h.writeError(w, "", err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"title":       site.Title,
		"classes":     site.Classes,
		"stores":      site.Stores,
		"gst":         site.GST,
		"discountCap": site.DiscountCap,
	}})
}

// Stores handles GET /api/v1/stores.
func (h *Handler) Stores(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	stores, err := h.service.Stores(r.Context())
	if err != nil {
		h.writeError(w, "", err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": stores})
}

// Store handles GET /api/v1/stores/{storeID}.
func (h *Handler) Store(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	id := chi.URLParam(r, "storeID")
	store, err := h.service.Store(r.Context(), id)
	if err != nil {
		h.writeError(w, id, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": store})
}

func (h *Handler) writeError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, ErrStoreNotFound) {
		common.WriteAppError(w, notFound(id))
		return
	}
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog unavailable", nil)
}
