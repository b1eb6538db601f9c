package voucher_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/school-cart/internal/voucher"
)

type staticCodes struct {
	codes []voucher.Code
	err   error
}

func (s staticCodes) Registry(context.Context) (*voucher.Registry, error) {
	if s.err != nil {
		return nil, s.err
	}
	return voucher.NewRegistry(s.codes), nil
}

func serve(t *testing.T, h *voucher.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	h.Routes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestCheckCode(t *testing.T) {
	h := &voucher.Handler{Codes: staticCodes{codes: []voucher.Code{
		{Code: "WELCOME10", Kind: voucher.KindPercent, Amount: decimal.NewFromInt(10), Description: "10% off"},
		{Code: "FIVEOFF", Kind: voucher.KindAbsolute, Amount: decimal.NewFromInt(5)},
	}}}

	t.Run("case insensitive", func(t *testing.T) {
		rec := serve(t, h, "/codes/welcome10")
		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Data map[string]string `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "WELCOME10", body.Data["code"])
		assert.Equal(t, "percent", body.Data["kind"])
		assert.Equal(t, "10.00", body.Data["amount"])
	})

	t.Run("unknown", func(t *testing.T) {
		rec := serve(t, h, "/codes/NOPE")
		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "Code not recognised")
	})
}

func TestCheckCodeRegistryFailure(t *testing.T) {
	rec := serve(t, &voucher.Handler{Codes: staticCodes{err: errors.New("boom")}}, "/codes/FIVEOFF")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCheckCodeLimiter(t *testing.T) {
	blocked := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
	rec := serve(t, &voucher.Handler{Codes: staticCodes{}, Limiter: blocked}, "/codes/FIVEOFF")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
