package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/lilybot/lily/internal/log"
)

// SymptomsTool answers "what usually causes X" from the relational repairs
// data: per-product symptom frequency, difficulty and commonly needed parts.
type SymptomsTool struct {
	catalog PartCatalog
	limit   int
	logger  log.Logger
}

// NewSymptomsLookup builds the common_symptoms tool.
func NewSymptomsLookup(cat PartCatalog, limit int, logger log.Logger) *SymptomsTool {
	if limit <= 0 {
		limit = 5
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &SymptomsTool{catalog: cat, limit: limit, logger: logger}
}

// Name implements the dispatchable tool interface.
func (t *SymptomsTool) Name() string { return "common_symptoms" }

// Description implements the dispatchable tool interface.
func (t *SymptomsTool) Description() string {
	return "List common failure symptoms for a refrigerator or dishwasher, with how often customers report them and which parts usually fix them."
}

// Call looks up symptom statistics for a product, optionally narrowed to a
// symptom phrase.
func (t *SymptomsTool) Call(ctx context.Context, args map[string]any) (string, error) {
	product, err := stringArg(args, "product")
	if err != nil {
		return "", err
	}
	symptom := optionalStringArg(args, "symptom")

	repairs, err := t.catalog.RepairsFor(ctx, product, symptom, t.limit)
	if err != nil {
		return "", err
	}
	if len(repairs) == 0 {
		if symptom != "" {
			return fmt.Sprintf("No recorded %s symptoms matching %q.", product, symptom), nil
		}
		return fmt.Sprintf("No recorded symptoms for %q.", product), nil
	}

	var b strings.Builder
	for i, r := range repairs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(r.Describe())
	}
	return b.String(), nil
}
