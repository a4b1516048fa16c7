package dynamic

import (
	"context"

	"goa.design/axon/runtime/action"
	"goa.design/axon/runtime/registry"
)

// CatalogRequest is the input of the provider's facade action. Empty fields
// widen the listing: no category lists every category, no pattern every
// action.
type CatalogRequest struct {
	// Category restricts the listing to one catalog category.
	Category string `json:"category,omitempty"`
	// Pattern filters action names: exact, or prefix with a trailing "*".
	Pattern string `json:"pattern,omitempty"`
}

// Register exposes the provider on r as a util action named after the
// provider. Running the facade returns catalog metadata grouped by category,
// so reflection-style clients can browse remote actions without holding a
// Provider reference.
func (p *Provider) Register(r *registry.Registry) error {
	_, err := action.Define(r, registry.ActionTypeUtil, p.name,
		func(ctx context.Context, in CatalogRequest, _ action.StreamCallback[struct{}]) (map[string][]registry.ActionDesc, error) {
			return p.catalogMetadata(ctx, in.Category, in.Pattern)
		},
		action.WithDescription("Lists actions served by the "+p.name+" provider."),
	)
	return err
}

// catalogMetadata returns descriptors for every catalog entry matching the
// category and pattern filters, grouped by category in catalog order.
func (p *Provider) catalogMetadata(ctx context.Context, category, pattern string) (map[string][]registry.ActionDesc, error) {
	catalog, err := p.fetch(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]registry.ActionDesc)
	for cat, actions := range catalog {
		if category != "" && cat != category {
			continue
		}
		for _, a := range actions {
			if matchPattern(a.Name(), pattern) {
				out[cat] = append(out[cat], a.Desc())
			}
		}
	}
	return out, nil
}
