package httpx

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

type errorBody struct {
	Error    string           `json:"error"`
	Reason   string           `json:"reason,omitempty"`
	Shortage *orders.Shortage `json:"shortage,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(k orders.Kind) int {
	switch k {
	case orders.KindValidation:
		return http.StatusBadRequest
	case orders.KindProductNotFound, orders.KindVariantNotFound, orders.KindOrderNotFound, orders.KindItemNotFound:
		return http.StatusNotFound
	case orders.KindOutOfStock, orders.KindOrderClosed, orders.KindAlreadyClosed, orders.KindInvalidTransition:
		return http.StatusConflict
	case orders.KindPermissionDenied:
		return http.StatusForbidden
	case orders.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	var e *orders.Error
	if !errors.As(err, &e) {
		log.Error("unexpected error", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "INTERNAL"})
		return
	}
	code := statusFor(e.Kind)
	if code == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	if code >= 500 {
		log.Error("request failed", "kind", e.Kind, "reason", e.Reason, "err", err)
	}
	writeJSON(w, code, errorBody{Error: string(e.Kind), Reason: e.Reason, Shortage: e.Shortage})
}
