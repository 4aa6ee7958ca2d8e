// Package catalog seeds and serves the shared source template catalog.
// Templates describe known vendors (base URL, runtime hints) so binding
// a popular API takes one click instead of a hand-written config.
package catalog

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/actionchat/actionchat/internal/store"
	"github.com/actionchat/actionchat/pkg/models"
)

// builtins are the templates every deployment starts with. Seeding is
// idempotent by vendor name.
func builtins() []models.SourceTemplate {
	return []models.SourceTemplate{
		{
			ID:      uuid.NewString(),
			Name:    "Stripe",
			Vendor:  "stripe",
			BaseURL: "https://api.stripe.com",
			Hints: &models.RuntimeHints{
				ListExpansion: &models.ListExpansionHint{
					Param:    "expand",
					Default:  []string{"data.customer"},
					ToolGlob: "list_*",
				},
				FetchEnrichment: "get_customer",
				LLMGuidance: "Stripe list endpoints return paginated envelopes. " +
					"Prefer the expand parameter over per-item fetches, and pass " +
					"starting_after with the last item id to continue a list.",
				Response: models.ResponseHints{
					UnwrapData: false,
					DetectThin: true,
				},
			},
		},
		{
			ID:      uuid.NewString(),
			Name:    "GitHub",
			Vendor:  "github",
			BaseURL: "https://api.github.com",
			Hints: &models.RuntimeHints{
				LLMGuidance: "GitHub list endpoints paginate with page and per_page parameters.",
			},
		},
	}
}

// Seed inserts any built-in template missing from the store.
func Seed(ctx context.Context, s store.TemplateStore) error {
	existing, err := s.ListTemplates(ctx)
	if err != nil {
		return err
	}
	byVendor := make(map[string]bool, len(existing))
	for _, tpl := range existing {
		byVendor[tpl.Vendor] = true
	}
	for _, tpl := range builtins() {
		if byVendor[tpl.Vendor] {
			continue
		}
		if err := s.UpsertTemplate(ctx, &tpl); err != nil {
			return err
		}
		log.Info().Str("vendor", tpl.Vendor).Msg("seeded source template")
	}
	return nil
}

// HintsFor resolves the runtime hints for a source through its
// template reference. Sources without a template get nil hints.
func HintsFor(ctx context.Context, s store.TemplateStore, src *models.Source) *models.RuntimeHints {
	if src == nil || src.TemplateRef == "" {
		return nil
	}
	tpl, err := s.GetTemplate(ctx, src.TemplateRef)
	if err != nil {
		log.Warn().Err(err).Str("template_ref", src.TemplateRef).Msg("template lookup failed")
		return nil
	}
	return tpl.Hints
}
