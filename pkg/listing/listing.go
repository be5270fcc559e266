// Package listing defines the marketplace listing identifier and the
// price/availability record that is cached and rendered into pages.
package listing

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// ID identifies a marketplace listing. It is the digit sequence taken
// from a "/listing/<digits>/" path segment.
type ID string

// listingPath matches /listing/<number>/ anywhere in a link target.
var listingPath = regexp.MustCompile(`/listing/(\d+)/`)

// ExtractID returns the listing ID embedded in href.
// The second return value is false when href holds no listing path.
func ExtractID(href string) (ID, bool) {
	m := listingPath.FindStringSubmatch(href)
	if m == nil {
		return "", false
	}
	return ID(m[1]), true
}

// Record is the result of a listing lookup.
// A record with Found == false carries no price or quantity.
type Record struct {
	Found        bool
	DisplayPrice string
	Quantity     int
}

// NotFound returns the record used for listings that could not be resolved.
func NotFound() Record {
	return Record{}
}

// Available reports whether the listing has stock left.
func (r Record) Available() bool {
	return r.Found && r.Quantity > 0
}

// wireRecord is the persisted form. An empty object means not found.
type wireRecord struct {
	Price    string `json:"price,omitempty"`
	Quantity *int   `json:"quantity,omitempty"`
}

// Marshal encodes r into its persisted string form.
func (r Record) Marshal() (string, error) {
	var w wireRecord
	if r.Found {
		q := r.Quantity
		w = wireRecord{Price: r.DisplayPrice, Quantity: &q}
	}
	data, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("marshal listing record: %w", err)
	}
	return string(data), nil
}

// Unmarshal decodes a persisted record.
// A value without a price decodes to a not-found record.
func Unmarshal(s string) (Record, error) {
	var w wireRecord
	if err := json.Unmarshal([]byte(s), &w); err != nil {
		return Record{}, fmt.Errorf("unmarshal listing record: %w", err)
	}
	if w.Price == "" {
		return NotFound(), nil
	}
	r := Record{Found: true, DisplayPrice: w.Price}
	if w.Quantity != nil {
		r.Quantity = *w.Quantity
	}
	if r.Quantity < 0 {
		r.Quantity = 0
	}
	return r, nil
}
