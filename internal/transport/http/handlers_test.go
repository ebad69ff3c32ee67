package http

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

// These handler tests only exercise validation paths that short-circuit
// before touching the database, so no *order.Service is constructed.

func TestCreateOrder_RejectsMalformedBody(t *testing.T) {
	h := NewHandler(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/new/", bytes.NewBufferString("not-json"))
	w := httptest.NewRecorder()

	h.CreateOrder(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateOrder_RejectsMissingUserID(t *testing.T) {
	h := NewHandler(nil)

	body := `{"products":[{"product_id":"p1","quantity":1}],"amount":"10.00"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/new/", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.CreateOrder(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateOrder_RejectsEmptyProducts(t *testing.T) {
	h := NewHandler(nil)

	body := `{"user_id":"u1","products":[],"amount":"10.00"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/new/", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.CreateOrder(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateOrder_RejectsNonPositiveQuantity(t *testing.T) {
	h := NewHandler(nil)

	body := `{"user_id":"u1","products":[{"product_id":"p1","quantity":0}],"amount":"10.00"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/new/", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.CreateOrder(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetOrderStatus_RejectsInvalidUUID(t *testing.T) {
	h := NewHandler(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/not-a-uuid/status", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("order_id", "not-a-uuid")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	w := httptest.NewRecorder()

	h.GetOrderStatus(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthz_ReturnsOK(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	Healthz(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)
}
