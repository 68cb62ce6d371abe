package httpx

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type OrdersHandler struct {
	Engine *orders.Engine
	Log    *slog.Logger
}

type LineReq struct {
	ProductID int64               `json:"product_id"`
	VariantID *int64              `json:"variant_id,omitempty"`
	Quantity  int                 `json:"quantity"`
	Price     decimal.NullDecimal `json:"price"`
}

type CreateOrderReq struct {
	ExternalID string         `json:"external_id"`
	UserID     *int64         `json:"user_id,omitempty"`
	Notes      string         `json:"notes"`
	Contact    orders.Contact `json:"contact"`
	Items      []LineReq      `json:"items"`
}

type UpdateItemReq struct {
	Quantity int `json:"quantity"`
}

type TransitionReq struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type RefundReq struct {
	Reason string `json:"reason"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	if h.Log == nil {
		h.Log = slog.Default()
	}
	r.Group(func(r chi.Router) {
		r.Use(withActor)
		r.Post("/orders", h.createOrder)
		r.Get("/orders/{id}", h.getOrder)
		r.Delete("/orders/{id}", h.purgeOrder)
		r.Post("/orders/{id}/items", h.addItem)
		r.Post("/orders/{id}/status", h.transition)
		r.Post("/orders/{id}/refund", h.refund)
		r.Patch("/order-items/{id}", h.updateItem)
		r.Delete("/order-items/{id}", h.removeItem)
	})
}

func (l LineReq) toLine() orders.LineRequest {
	return orders.LineRequest{
		ProductID:   l.ProductID,
		Variant:     orders.RefFor(l.VariantID),
		Quantity:    l.Quantity,
		ClientPrice: l.Price,
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: string(orders.KindValidation), Reason: "INVALID_JSON"})
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: string(orders.KindValidation), Reason: "INVALID_ID"})
		return 0, false
	}
	return id, true
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if !decode(w, r, &req) {
		return
	}
	actor := actorFrom(r.Context())
	userID := req.UserID
	if userID == nil {
		userID = actor.UserID
	}
	in := orders.CreateOrderInput{
		UserID:         userID,
		Notes:          req.Notes,
		Contact:        req.Contact,
		IdempotencyKey: req.ExternalID,
	}
	for _, l := range req.Items {
		in.Lines = append(in.Lines, l.toLine())
	}

	o, err := h.Engine.CreateOrder(r.Context(), actor, in)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	o, err := h.Engine.GetOrder(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) addItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req LineReq
	if !decode(w, r, &req) {
		return
	}
	it, err := h.Engine.AddItem(r.Context(), actorFrom(r.Context()), id, req.toLine())
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, it)
}

func (h *OrdersHandler) updateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req UpdateItemReq
	if !decode(w, r, &req) {
		return
	}
	it, err := h.Engine.UpdateItemQuantity(r.Context(), actorFrom(r.Context()), id, req.Quantity)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (h *OrdersHandler) removeItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Engine.RemoveItem(r.Context(), actorFrom(r.Context()), id); err != nil {
		writeError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrdersHandler) transition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req TransitionReq
	if !decode(w, r, &req) {
		return
	}
	o, err := h.Engine.TransitionStatus(r.Context(), actorFrom(r.Context()), id, orders.Status(req.Status), req.Reason)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) refund(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req RefundReq
	// body opsional
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	o, err := h.Engine.Refund(r.Context(), actorFrom(r.Context()), id, req.Reason)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) purgeOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Engine.PurgeOrder(r.Context(), actorFrom(r.Context()), id); err != nil {
		writeError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
