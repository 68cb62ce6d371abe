package orders

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRefFor(t *testing.T) {
	id := int64(4)
	zero := int64(0)
	assert.Equal(t, ExplicitVariant{ID: 4}, RefFor(&id))
	assert.Equal(t, ProductDefault{}, RefFor(&zero))
	assert.Equal(t, ProductDefault{}, RefFor(nil))
}

func TestValidateCreateContact(t *testing.T) {
	ok := []LineRequest{{ProductID: 1, Quantity: 1}}

	assert.NoError(t, validateCreate(CreateOrderInput{Lines: ok}))
	assert.NoError(t, validateCreate(CreateOrderInput{Lines: ok, Contact: Contact{Name: "Al", Phone: "555123", Address: "1 Road"}}))
	assert.NoError(t, validateCreate(CreateOrderInput{Lines: ok, Notes: strings.Repeat("n", 2000)}))

	bad := map[string]Contact{
		"CONTACT_NAME_TOO_SHORT":    {Name: " A "},
		"CONTACT_PHONE_TOO_SHORT":   {Phone: "12345"},
		"CONTACT_ADDRESS_TOO_SHORT": {Address: "road"},
	}
	for reason, c := range bad {
		err := validateCreate(CreateOrderInput{Lines: ok, Contact: c})
		assert.ErrorIs(t, err, &Error{Kind: KindValidation, Reason: reason})
	}
}
