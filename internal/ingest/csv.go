package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// partColumns is the insert order for the parts table, matching the CSV
// export's header names.
var partColumns = []string{
	"part_name", "part_id", "mpn_id", "part_price",
	"install_difficulty", "install_time", "symptoms", "appliance_types",
	"replace_parts", "brand", "availability", "install_video_url",
	"product_url",
}

// repairColumns is the insert order for the repairs table. The export names
// the product column with a capital P.
var repairColumns = []string{
	"product", "symptom", "description", "percentage",
	"parts", "symptom_detail_url", "difficulty", "repair_video_url",
}

// record is one CSV row keyed by lowercased header name.
type record map[string]string

// readRecords consumes a headered CSV stream into keyed records. Header
// names are lowercased so exports with inconsistent casing still map.
func readRecords(r io.Reader) ([]record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}

	var records []record
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV row %d: %w", len(records)+2, err)
		}

		rec := make(record, len(header))
		for i, h := range header {
			if i < len(row) {
				rec[h] = strings.TrimSpace(row[i])
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// nullable maps empty CSV cells to NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// parsePrice coerces a price cell to a float, NULL on empty or junk. The
// exports mix bare numbers with "$12.34" strings.
func parsePrice(s string) any {
	s = strings.TrimPrefix(strings.TrimSpace(s), "$")
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return v
}

// parsePercentage coerces a percentage cell to an int, NULL on empty or
// junk. The exports mix "26" with "26%".
func parsePercentage(s string) any {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return v
}

// partRow converts one parts record to its insert values, in partColumns
// order.
func partRow(rec record) []any {
	return []any{
		nullable(rec["part_name"]),
		nullable(rec["part_id"]),
		nullable(rec["mpn_id"]),
		parsePrice(rec["part_price"]),
		nullable(rec["install_difficulty"]),
		nullable(rec["install_time"]),
		nullable(rec["symptoms"]),
		nullable(rec["appliance_types"]),
		nullable(rec["replace_parts"]),
		nullable(rec["brand"]),
		nullable(rec["availability"]),
		nullable(rec["install_video_url"]),
		nullable(rec["product_url"]),
	}
}

// repairRow converts one repairs record to its insert values, in
// repairColumns order.
func repairRow(rec record) []any {
	return []any{
		nullable(rec["product"]),
		nullable(rec["symptom"]),
		nullable(rec["description"]),
		parsePercentage(rec["percentage"]),
		nullable(rec["parts"]),
		nullable(rec["symptom_detail_url"]),
		nullable(rec["difficulty"]),
		nullable(rec["repair_video_url"]),
	}
}

// repairDocText flattens a repairs record into the text that gets embedded.
func repairDocText(rec record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", rec["product"], rec["symptom"])
	if rec["description"] != "" {
		fmt.Fprintf(&b, "\n%s", rec["description"])
	}
	if rec["parts"] != "" {
		fmt.Fprintf(&b, "\nCommonly replaced parts: %s", rec["parts"])
	}
	if rec["difficulty"] != "" {
		fmt.Fprintf(&b, "\nDifficulty: %s", rec["difficulty"])
	}
	return b.String()
}

// blogDocText flattens a blog record into embeddable text. Blog exports
// carry title, url and content columns.
func blogDocText(rec record) string {
	var b strings.Builder
	if rec["title"] != "" {
		b.WriteString(rec["title"])
	}
	if rec["content"] != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(rec["content"])
	}
	return b.String()
}
