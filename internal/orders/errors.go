package orders

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation        Kind = "VALIDATION"
	KindProductNotFound   Kind = "PRODUCT_NOT_FOUND"
	KindVariantNotFound   Kind = "VARIANT_NOT_FOUND"
	KindOrderNotFound     Kind = "ORDER_NOT_FOUND"
	KindItemNotFound      Kind = "ITEM_NOT_FOUND"
	KindOutOfStock        Kind = "OUT_OF_STOCK"
	KindOrderClosed       Kind = "ORDER_CLOSED"
	KindAlreadyClosed     Kind = "ALREADY_CLOSED"
	KindInvalidTransition Kind = "INVALID_TRANSITION"
	KindPermissionDenied  Kind = "PERMISSION_DENIED"
	KindFatal             Kind = "FATAL"
	KindTransient         Kind = "TRANSIENT"
)

// Shortage describes a denied reservation.
type Shortage struct {
	VariantID int64 `json:"variant_id"`
	Required  int   `json:"required"`
	Available int   `json:"available"`
}

// Error is the only error type the engine returns for business failures.
// Match the kind with errors.Is(err, ErrOutOfStock) and read details with
// errors.As.
type Error struct {
	Kind     Kind
	Reason   string // machine-readable, e.g. EMPTY_LINES
	Op       string
	Shortage *Shortage
	Err      error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Shortage != nil {
		msg += fmt.Sprintf(" (variant=%d required=%d available=%d)",
			e.Shortage.VariantID, e.Shortage.Required, e.Shortage.Available)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Reason == "" || t.Reason == e.Reason)
}

var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrProductNotFound   = &Error{Kind: KindProductNotFound}
	ErrVariantNotFound   = &Error{Kind: KindVariantNotFound}
	ErrOrderNotFound     = &Error{Kind: KindOrderNotFound}
	ErrItemNotFound      = &Error{Kind: KindItemNotFound}
	ErrOutOfStock        = &Error{Kind: KindOutOfStock}
	ErrOrderClosed       = &Error{Kind: KindOrderClosed}
	ErrAlreadyClosed     = &Error{Kind: KindAlreadyClosed}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrPermissionDenied  = &Error{Kind: KindPermissionDenied}
	ErrFatal             = &Error{Kind: KindFatal}
	ErrTransient         = &Error{Kind: KindTransient}
)

func newError(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// KindOf returns the engine kind of err, or "" for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsTransient reports whether the operation may succeed if retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

func withOp(op string, err error) error {
	var e *Error
	if errors.As(err, &e) && e.Op == "" {
		cp := *e
		cp.Op = op
		return &cp
	}
	return err
}
