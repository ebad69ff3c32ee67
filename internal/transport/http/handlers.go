package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/baechuer/asyncorder/internal/apperr"
	"github.com/baechuer/asyncorder/internal/service/order"
)

type Handler struct {
	orders *order.Service
}

func NewHandler(orders *order.Service) *Handler {
	return &Handler{orders: orders}
}

type createOrderItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

type createOrderRequest struct {
	UserID   string            `json:"user_id"`
	Products []createOrderItem `json:"products"`
	Amount   decimal.Decimal   `json:"amount"`
}

type orderResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// CreateOrder handles POST /api/v1/orders/new/.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var body createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, apperr.New(apperr.KindValidation, "invalid request body", nil))
		return
	}
	if body.UserID == "" {
		writeError(w, r, apperr.New(apperr.KindValidation, "user_id is required", nil))
		return
	}
	if len(body.Products) == 0 {
		writeError(w, r, apperr.New(apperr.KindValidation, "products must not be empty", nil))
		return
	}
	for _, p := range body.Products {
		if p.Quantity <= 0 {
			writeError(w, r, apperr.New(apperr.KindValidation, "quantity must be positive", map[string]any{"product_id": p.ProductID}))
			return
		}
	}

	items := make([]order.NewItem, 0, len(body.Products))
	for _, p := range body.Products {
		items = append(items, order.NewItem{ProductID: p.ProductID, Quantity: p.Quantity, Price: p.Price})
	}

	ord, err := h.orders.CreateOrder(r.Context(), body.UserID, items, body.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeData(w, r, http.StatusCreated, orderResponse{
		ID:        ord.ID.String(),
		Status:    string(ord.Status),
		CreatedAt: ord.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

// GetOrderStatus handles GET /api/v1/orders/{order_id}/status.
func (h *Handler) GetOrderStatus(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "order_id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeError(w, r, apperr.New(apperr.KindValidation, "invalid order_id", map[string]any{"order_id": idStr}))
		return
	}

	ord, err := h.orders.GetOrderStatus(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeData(w, r, http.StatusOK, orderResponse{
		ID:        ord.ID.String(),
		Status:    string(ord.Status),
		CreatedAt: ord.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

// Healthz handles GET /healthz.
func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
