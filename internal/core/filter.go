package core

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// MaxListLimit is the largest page the backend serves.
const MaxListLimit = 1000

// TransactionFilter narrows a server-side listing. Zero fields are omitted.
type TransactionFilter struct {
	Type      TransactionType
	Category  Category
	StartDate Date
	EndDate   Date
	Skip      int
	Limit     int
}

func (f TransactionFilter) Validate() error {
	if f.Type != "" && !f.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, f.Type)
	}
	if f.Type != "" && f.Category != "" && !f.Category.BelongsTo(f.Type) {
		return fmt.Errorf("%w: %q is not a %s category", ErrInvalidCategory, f.Category, f.Type)
	}
	if f.Skip < 0 {
		return fmt.Errorf("%w: skip must not be negative", ErrInvalidFilter)
	}
	if f.Limit < 0 || f.Limit > MaxListLimit {
		return fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidFilter, MaxListLimit)
	}
	if !f.StartDate.IsZero() && !f.EndDate.IsZero() && f.EndDate.Before(f.StartDate.Time) {
		return fmt.Errorf("%w: end date before start date", ErrInvalidFilter)
	}
	return nil
}

// Query encodes the filter with the backend's parameter names.
func (f TransactionFilter) Query() url.Values {
	q := url.Values{}
	if f.Type != "" {
		q.Set("transaction_type", string(f.Type))
	}
	if f.Category != "" {
		q.Set("category", string(f.Category))
	}
	if !f.StartDate.IsZero() {
		q.Set("start_date", f.StartDate.String())
	}
	if !f.EndDate.IsZero() {
		q.Set("end_date", f.EndDate.String())
	}
	if f.Skip > 0 {
		q.Set("skip", strconv.Itoa(f.Skip))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	return q
}

// MatchesSearch reports whether term occurs, ignoring case, in the
// description or the category of t. An empty term matches everything.
func MatchesSearch(t Transaction, term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return true
	}
	if strings.Contains(strings.ToLower(t.DescriptionText()), term) {
		return true
	}
	return strings.Contains(strings.ToLower(string(t.Category)), term)
}

// FilterBySearch is the client-side stage applied after a server listing.
// It keeps order and never mutates the input.
func FilterBySearch(items []Transaction, term string) []Transaction {
	if strings.TrimSpace(term) == "" {
		return items
	}
	out := make([]Transaction, 0, len(items))
	for _, t := range items {
		if MatchesSearch(t, term) {
			out = append(out, t)
		}
	}
	return out
}
