// Package catalog serves the relational parts and repairs data imported
// from the product CSV exports.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/lilybot/lily/internal/log"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("not found")

// Part is one catalog entry. Nullable CSV columns come through as pointers.
type Part struct {
	Name              string
	PartID            string
	MPN               string
	Price             *float64
	InstallDifficulty string
	InstallTime       string
	Symptoms          string
	ApplianceTypes    string
	ReplaceParts      string
	Brand             string
	Availability      string
	InstallVideoURL   string
	ProductURL        string
}

// Repair is one symptom entry for a product line.
type Repair struct {
	Product          string
	Symptom          string
	Description      string
	Percentage       *int
	Parts            string
	SymptomDetailURL string
	Difficulty       string
	RepairVideoURL   string
}

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store answers part and repair lookups. Safe for concurrent use.
type Store struct {
	db     DB
	logger log.Logger
}

// NewStore creates a Store over the given pool.
func NewStore(db DB, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{db: db, logger: logger}
}

const partColumns = `
	coalesce(part_name, ''), coalesce(part_id, ''), coalesce(mpn_id, ''),
	part_price,
	coalesce(install_difficulty, ''), coalesce(install_time, ''),
	coalesce(symptoms, ''), coalesce(appliance_types, ''),
	coalesce(replace_parts, ''), coalesce(brand, ''),
	coalesce(availability, ''), coalesce(install_video_url, ''),
	coalesce(product_url, '')`

// FindPart looks a part up by its retailer part number or manufacturer part
// number, exact match, case-insensitive.
func (s *Store) FindPart(ctx context.Context, number string) (Part, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return Part{}, fmt.Errorf("%w: empty part number", ErrNotFound)
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+partColumns+`
		FROM parts
		WHERE upper(part_id) = upper($1) OR upper(mpn_id) = upper($1)
		LIMIT 1`, number)
	if err != nil {
		return Part{}, fmt.Errorf("finding part %q: %w", number, err)
	}
	defer rows.Close()

	parts, err := scanParts(rows)
	if err != nil {
		return Part{}, fmt.Errorf("finding part %q: %w", number, err)
	}
	if len(parts) == 0 {
		return Part{}, fmt.Errorf("part %q: %w", number, ErrNotFound)
	}
	return parts[0], nil
}

// SearchParts matches parts by name, symptom or brand text. limit caps the
// result count; zero or negative selects 5.
func (s *Store) SearchParts(ctx context.Context, query string, limit int) ([]Part, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	pattern := "%" + query + "%"
	rows, err := s.db.Query(ctx, `
		SELECT `+partColumns+`
		FROM parts
		WHERE part_name ILIKE $1 OR symptoms ILIKE $1 OR brand ILIKE $1
		ORDER BY part_name
		LIMIT $2`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("searching parts %q: %w", query, err)
	}
	defer rows.Close()

	parts, err := scanParts(rows)
	if err != nil {
		return nil, fmt.Errorf("searching parts %q: %w", query, err)
	}

	s.logger.Debug("parts search completed", "query", query, "results", len(parts))
	return parts, nil
}

// RepairsFor returns the known symptoms for a product, most common first.
// symptom, when non-empty, narrows the match.
func (s *Store) RepairsFor(ctx context.Context, product, symptom string, limit int) ([]Repair, error) {
	product = strings.TrimSpace(product)
	if product == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	var rows pgx.Rows
	var err error
	if symptom = strings.TrimSpace(symptom); symptom != "" {
		rows, err = s.db.Query(ctx, `
			SELECT coalesce(product, ''), coalesce(symptom, ''), coalesce(description, ''),
			       percentage, coalesce(parts, ''), coalesce(symptom_detail_url, ''),
			       coalesce(difficulty, ''), coalesce(repair_video_url, '')
			FROM repairs
			WHERE product ILIKE $1 AND (symptom ILIKE $2 OR description ILIKE $2)
			ORDER BY percentage DESC NULLS LAST
			LIMIT $3`, "%"+product+"%", "%"+symptom+"%", limit)
	} else {
		rows, err = s.db.Query(ctx, `
			SELECT coalesce(product, ''), coalesce(symptom, ''), coalesce(description, ''),
			       percentage, coalesce(parts, ''), coalesce(symptom_detail_url, ''),
			       coalesce(difficulty, ''), coalesce(repair_video_url, '')
			FROM repairs
			WHERE product ILIKE $1
			ORDER BY percentage DESC NULLS LAST
			LIMIT $2`, "%"+product+"%", limit)
	}
	if err != nil {
		return nil, fmt.Errorf("finding repairs for %q: %w", product, err)
	}
	defer rows.Close()

	var repairs []Repair
	for rows.Next() {
		var r Repair
		if err := rows.Scan(&r.Product, &r.Symptom, &r.Description, &r.Percentage,
			&r.Parts, &r.SymptomDetailURL, &r.Difficulty, &r.RepairVideoURL); err != nil {
			return nil, fmt.Errorf("scanning repair: %w", err)
		}
		repairs = append(repairs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading repairs: %w", err)
	}
	return repairs, nil
}

func scanParts(rows pgx.Rows) ([]Part, error) {
	var parts []Part
	for rows.Next() {
		var p Part
		if err := rows.Scan(&p.Name, &p.PartID, &p.MPN, &p.Price,
			&p.InstallDifficulty, &p.InstallTime, &p.Symptoms, &p.ApplianceTypes,
			&p.ReplaceParts, &p.Brand, &p.Availability, &p.InstallVideoURL,
			&p.ProductURL); err != nil {
			return nil, fmt.Errorf("scanning part: %w", err)
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

// Describe renders a part as the compact text block tools hand to the model.
func (p Part) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (part %s", p.Name, p.PartID)
	if p.MPN != "" {
		fmt.Fprintf(&b, ", mfr %s", p.MPN)
	}
	b.WriteString(")")
	if p.Price != nil {
		fmt.Fprintf(&b, "\nPrice: $%.2f", *p.Price)
	}
	if p.Availability != "" {
		fmt.Fprintf(&b, "\nAvailability: %s", p.Availability)
	}
	if p.Brand != "" {
		fmt.Fprintf(&b, "\nBrand: %s", p.Brand)
	}
	if p.ApplianceTypes != "" {
		fmt.Fprintf(&b, "\nFits: %s", p.ApplianceTypes)
	}
	if p.InstallDifficulty != "" || p.InstallTime != "" {
		fmt.Fprintf(&b, "\nInstall: %s %s", p.InstallDifficulty, p.InstallTime)
	}
	if p.Symptoms != "" {
		fmt.Fprintf(&b, "\nFixes symptoms: %s", p.Symptoms)
	}
	if p.ProductURL != "" {
		fmt.Fprintf(&b, "\nProduct page: %s", p.ProductURL)
	}
	return b.String()
}

// Describe renders a repair entry for tool output.
func (r Repair) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", r.Product, r.Symptom)
	if r.Percentage != nil {
		fmt.Fprintf(&b, " (reported by %d%% of customers)", *r.Percentage)
	}
	if r.Description != "" {
		fmt.Fprintf(&b, "\n%s", r.Description)
	}
	if r.Difficulty != "" {
		fmt.Fprintf(&b, "\nDifficulty: %s", r.Difficulty)
	}
	if r.Parts != "" {
		fmt.Fprintf(&b, "\nCommon parts: %s", r.Parts)
	}
	if r.RepairVideoURL != "" {
		fmt.Fprintf(&b, "\nVideo: %s", r.RepairVideoURL)
	}
	return b.String()
}
