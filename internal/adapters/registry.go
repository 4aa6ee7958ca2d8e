// Package adapters holds per-vendor request/response overrides keyed by
// URL pattern: content type, argument pre-transforms, response
// post-transforms, and extra headers.
package adapters

import (
	"strings"

	"github.com/actionchat/actionchat/pkg/models"
)

// Content types an adapter may select.
const (
	ContentJSON = "json"
	ContentForm = "form-urlencoded"
)

// Adapter is one vendor override. Hook fields may be nil (identity).
type Adapter struct {
	Name        string
	URLPattern  string // substring matched against source.BaseURL
	ContentType string

	// BeforeRequest rewrites cleaned arguments before URL/body build.
	BeforeRequest func(args map[string]interface{}, op *models.Operation, src *models.Source) map[string]interface{}

	// AfterResponse rewrites the parsed response body.
	AfterResponse func(body interface{}, op *models.Operation, src *models.Source) interface{}

	// Headers returns extra request headers.
	Headers func(src *models.Source, cred *models.Credential) map[string]string
}

// Apply hook wrappers tolerate nil hooks.

func (a *Adapter) ApplyBefore(args map[string]interface{}, op *models.Operation, src *models.Source) map[string]interface{} {
	if a.BeforeRequest == nil {
		return args
	}
	return a.BeforeRequest(args, op, src)
}

func (a *Adapter) ApplyAfter(body interface{}, op *models.Operation, src *models.Source) interface{} {
	if a.AfterResponse == nil {
		return body
	}
	return a.AfterResponse(body, op, src)
}

func (a *Adapter) ExtraHeaders(src *models.Source, cred *models.Credential) map[string]string {
	if a.Headers == nil {
		return nil
	}
	return a.Headers(src, cred)
}

// Registry is an ordered adapter list; the first URL-pattern match wins.
type Registry struct {
	adapters []*Adapter
	fallback *Adapter
}

// NewRegistry creates a registry preloaded with the built-in vendor
// adapters.
func NewRegistry() *Registry {
	r := &Registry{
		fallback: &Adapter{Name: "default", ContentType: ContentJSON},
	}
	r.Register(NewStripeAdapter())
	return r
}

// Register appends an adapter. Registration order is match order.
func (r *Registry) Register(a *Adapter) {
	r.adapters = append(r.adapters, a)
}

// Match returns the first adapter whose pattern matches the base URL,
// or the default JSON adapter.
func (r *Registry) Match(baseURL string) *Adapter {
	for _, a := range r.adapters {
		if a.URLPattern != "" && strings.Contains(baseURL, a.URLPattern) {
			return a
		}
	}
	return r.fallback
}
