package domain

import "fmt"

// Payment method labels. They double as payment source types on orders.
const (
	MethodMTNMomo = "mtn_momo"
	MethodVFCash  = "vf_cash"
)

// PaymentMethod is a static catalogue entry shown to clients at checkout.
// Icon is the name of an image shipped with the storefront.
type PaymentMethod struct {
	Label       string `json:"label"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

// PaymentMethods is the read-only registry of recognized methods.
type PaymentMethods struct {
	methods []PaymentMethod
}

// DefaultPaymentMethods returns the methods the storefront accepts.
func DefaultPaymentMethods() *PaymentMethods {
	return &PaymentMethods{methods: []PaymentMethod{
		{Label: MethodMTNMomo, Name: "MTN Mobile Money", Description: "Pay with MTN Mobile Money", Icon: "momo.jpg"},
		{Label: MethodVFCash, Name: "Vodafone Cash", Description: "Pay with Vodafone Cash", Icon: "vfcash.jpg"},
	}}
}

// Methods returns a copy of the registry in display order.
func (p *PaymentMethods) Methods() []PaymentMethod {
	out := make([]PaymentMethod, len(p.methods))
	copy(out, p.methods)
	return out
}

// Get looks a method up by label.
func (p *PaymentMethods) Get(label string) (PaymentMethod, bool) {
	for _, m := range p.methods {
		if m.Label == label {
			return m, true
		}
	}
	return PaymentMethod{}, false
}

// Validate is used at checkout to reject unrecognized method codes.
func (p *PaymentMethods) Validate(label string) error {
	if _, ok := p.Get(label); !ok {
		return fmt.Errorf("%q: %w", label, ErrUnknownPaymentMethod)
	}
	return nil
}
