package orders

import (
	"strings"

	"github.com/shopspring/decimal"
)

// VariantRef selects the variant a line orders: either ExplicitVariant or
// ProductDefault.
type VariantRef interface {
	isVariantRef()
}

type ExplicitVariant struct{ ID int64 }

// ProductDefault asks the engine to pick the product's default variant.
type ProductDefault struct{}

func (ExplicitVariant) isVariantRef() {}
func (ProductDefault) isVariantRef()  {}

// RefFor builds a VariantRef from an optional variant id.
func RefFor(variantID *int64) VariantRef {
	if variantID == nil || *variantID == 0 {
		return ProductDefault{}
	}
	return ExplicitVariant{ID: *variantID}
}

type LineRequest struct {
	ProductID int64
	Variant   VariantRef
	Quantity  int
	// ClientPrice is what the client believes the unit price is. It is only
	// compared against the catalog price and never used for totals.
	ClientPrice decimal.NullDecimal
}

type CreateOrderInput struct {
	UserID         *int64
	Lines          []LineRequest
	Notes          string
	Contact        Contact
	IdempotencyKey string
}

const (
	minContactName    = 2
	minContactPhone   = 6
	minContactAddress = 5
	maxNotes          = 2000
)

func validateLine(l LineRequest) error {
	if l.ProductID <= 0 {
		return newError(KindValidation, "INVALID_PRODUCT")
	}
	if l.Quantity < 1 {
		return newError(KindValidation, "INVALID_QUANTITY")
	}
	if ev, ok := l.Variant.(ExplicitVariant); ok && ev.ID <= 0 {
		return newError(KindValidation, "INVALID_VARIANT")
	}
	return nil
}

func validateCreate(in CreateOrderInput) error {
	if len(in.Lines) == 0 {
		return newError(KindValidation, "EMPTY_LINES")
	}
	for _, l := range in.Lines {
		if err := validateLine(l); err != nil {
			return err
		}
	}
	if len(in.Notes) > maxNotes {
		return newError(KindValidation, "NOTES_TOO_LONG")
	}
	c := in.Contact
	if c.Name != "" && len(strings.TrimSpace(c.Name)) < minContactName {
		return newError(KindValidation, "CONTACT_NAME_TOO_SHORT")
	}
	if c.Phone != "" && len(strings.TrimSpace(c.Phone)) < minContactPhone {
		return newError(KindValidation, "CONTACT_PHONE_TOO_SHORT")
	}
	if c.Address != "" && len(strings.TrimSpace(c.Address)) < minContactAddress {
		return newError(KindValidation, "CONTACT_ADDRESS_TOO_SHORT")
	}
	return nil
}
