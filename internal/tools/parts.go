package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lilybot/lily/internal/catalog"
	"github.com/lilybot/lily/internal/log"
)

// PartCatalog is the catalog lookup surface the parts tool needs.
type PartCatalog interface {
	FindPart(ctx context.Context, number string) (catalog.Part, error)
	SearchParts(ctx context.Context, query string, limit int) ([]catalog.Part, error)
	RepairsFor(ctx context.Context, product, symptom string, limit int) ([]catalog.Repair, error)
}

// PartsTool answers part number lookups and free-text part searches against
// the relational catalog.
type PartsTool struct {
	catalog PartCatalog
	limit   int
	logger  log.Logger
}

// NewPartsLookup builds the lookup_parts tool.
func NewPartsLookup(cat PartCatalog, limit int, logger log.Logger) *PartsTool {
	if limit <= 0 {
		limit = 5
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &PartsTool{catalog: cat, limit: limit, logger: logger}
}

// Name implements the dispatchable tool interface.
func (t *PartsTool) Name() string { return "lookup_parts" }

// Description implements the dispatchable tool interface.
func (t *PartsTool) Description() string {
	return "Look up refrigerator and dishwasher parts by part number (exact) or free text: price, availability, compatibility and install info."
}

// Call prefers an exact part_number lookup and falls back to free-text
// search on the query argument. Also folds in matching symptom data when a
// product is named.
func (t *PartsTool) Call(ctx context.Context, args map[string]any) (string, error) {
	if number := optionalStringArg(args, "part_number"); number != "" {
		part, err := t.catalog.FindPart(ctx, number)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				return fmt.Sprintf("No catalog entry for part number %q.", number), nil
			}
			return "", err
		}
		return part.Describe(), nil
	}

	query, err := stringArg(args, "query")
	if err != nil {
		return "", errors.New(`lookup_parts needs "part_number" or "query"`)
	}

	parts, err := t.catalog.SearchParts(ctx, query, t.limit)
	if err != nil {
		return "", err
	}
	if len(parts) == 0 {
		return fmt.Sprintf("No parts matched %q.", query), nil
	}

	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(p.Describe())
	}
	return b.String(), nil
}
