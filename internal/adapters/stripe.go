package adapters

import (
	"github.com/actionchat/actionchat/pkg/models"
)

// NewStripeAdapter returns the built-in Stripe override. Stripe's API
// is form-first: every request body travels as
// application/x-www-form-urlencoded with bracket notation for nesting.
func NewStripeAdapter() *Adapter {
	return &Adapter{
		Name:        "stripe",
		URLPattern:  "api.stripe.com",
		ContentType: ContentForm,
		Headers: func(src *models.Source, cred *models.Credential) map[string]string {
			// Pin the API version so response shapes stay stable
			// across Stripe's rolling upgrades.
			return map[string]string{"Stripe-Version": "2024-06-20"}
		},
	}
}
