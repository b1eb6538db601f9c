package order

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func TestHandlerGet(t *testing.T) {
	repo := &Repository{DB: newFakeDB()}
	created, _, err := repo.Create(context.Background(), samplePayload("idem-h"))
	require.NoError(t, err)

	r := chi.NewRouter()
	h := &Handler{Orders: repo}
	r.Get("/orders/{id}", h.Get)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/"+created.ID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"className":"1A"`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/missing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
