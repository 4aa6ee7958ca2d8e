package adapters

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormEncodeNesting(t *testing.T) {
	got := FormEncode(map[string]interface{}{
		"a": map[string]interface{}{
			"b": []interface{}{float64(1), map[string]interface{}{"c": float64(2)}},
		},
	})
	assert.Equal(t, "a%5Bb%5D%5B0%5D=1&a%5Bb%5D%5B1%5D%5Bc%5D=2", got)
}

func TestFormEncodeScalarsAndNulls(t *testing.T) {
	got := FormEncode(map[string]interface{}{
		"name":    "Bob",
		"active":  true,
		"amount":  float64(2.5),
		"skipped": nil,
	})
	assert.Equal(t, "active=true&amount=2.5&name=Bob", got)
}

func TestFormEncodeEmpty(t *testing.T) {
	assert.Equal(t, "", FormEncode(nil))
	assert.Equal(t, "", FormEncode(map[string]interface{}{"x": nil}))
}

func TestRegistryFirstMatchWins(t *testing.T) {
	r := NewRegistry()

	stripe := r.Match("https://api.stripe.com")
	assert.Equal(t, "stripe", stripe.Name)
	assert.Equal(t, ContentForm, stripe.ContentType)

	def := r.Match("https://api.example.com")
	assert.Equal(t, "default", def.Name)
	assert.Equal(t, ContentJSON, def.ContentType)

	// A custom adapter registered earlier would win, registration
	// order is match order.
	custom := &Adapter{Name: "acme", URLPattern: "api.acme.dev", ContentType: ContentJSON}
	r.Register(custom)
	assert.Equal(t, "acme", r.Match("https://api.acme.dev/v2").Name)
}

func TestStripeAdapterHeaders(t *testing.T) {
	a := NewStripeAdapter()
	h := a.ExtraHeaders(nil, nil)
	assert.Contains(t, h, "Stripe-Version")
}

func TestAdapterNilHooksIdentity(t *testing.T) {
	a := &Adapter{Name: "plain", ContentType: ContentJSON}
	args := map[string]interface{}{"x": float64(1)}
	assert.Equal(t, args, a.ApplyBefore(args, nil, nil))
	body := map[string]interface{}{"ok": true}
	assert.Equal(t, body, a.ApplyAfter(body, nil, nil))
	assert.Nil(t, a.ExtraHeaders(nil, nil))
}
