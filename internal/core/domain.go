package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	Income  TransactionType = "income"
	Expense TransactionType = "expense"
)

const (
	// Income categories.
	Salaire        Category = "salaire"
	Freelance      Category = "freelance"
	Investissement Category = "investissement"
	AutreRevenu    Category = "autre_revenu"

	// Expense categories.
	Courses        Category = "courses"
	Loyer          Category = "loyer"
	Transport      Category = "transport"
	Utilities      Category = "utilities"
	Divertissement Category = "divertissement"
	Sante          Category = "sante"
	Education      Category = "education"
	Vetements      Category = "vetements"
	Restaurant     Category = "restaurant"
	AutreDepense   Category = "autre_depense"
)

const dateLayout = "2006-01-02"

type (
	TransactionType string

	Category string

	// Date is a calendar date, encoded as YYYY-MM-DD.
	Date struct {
		time.Time
	}

	// Timestamp is a server-assigned instant. The backend emits naive
	// datetimes, so a missing zone is read as UTC.
	Timestamp struct {
		time.Time
	}

	User struct {
		ID        string    `json:"user_id"`
		Email     string    `json:"email"`
		CreatedAt Timestamp `json:"created_at"`
	}

	// TransactionDraft is a transaction built by the client and not yet
	// accepted by the backend. Description is always encoded, as null when
	// absent, so an update replaces it.
	TransactionDraft struct {
		Amount      Money           `json:"amount"`
		Type        TransactionType `json:"type"`
		Category    Category        `json:"category"`
		Description *string         `json:"description"`
		Date        Date            `json:"date"`
	}

	Transaction struct {
		ID          string          `json:"transaction_id"`
		UserID      string          `json:"user_id"`
		Amount      Money           `json:"amount"`
		Type        TransactionType `json:"type"`
		Category    Category        `json:"category"`
		Description *string         `json:"description"`
		Date        Date            `json:"date"`
		CreatedAt   Timestamp       `json:"created_at"`
	}
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidType     = errors.New("invalid transaction type")
	ErrInvalidCategory = errors.New("category does not belong to transaction type")
	ErrMissingDate     = errors.New("missing date")
	ErrInvalidPeriod   = errors.New("invalid period")
	ErrInvalidFilter   = errors.New("invalid filter")
)

var categoriesByType = map[TransactionType][]Category{
	Income:  {Salaire, Freelance, Investissement, AutreRevenu},
	Expense: {Courses, Loyer, Transport, Utilities, Divertissement, Sante, Education, Vetements, Restaurant, AutreDepense},
}

// TransactionTypes lists the known types in display order.
func TransactionTypes() []TransactionType {
	return []TransactionType{Income, Expense}
}

func ParseTransactionType(s string) (TransactionType, error) {
	t := TransactionType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
	}
	return t, nil
}

func (t TransactionType) Valid() bool {
	_, ok := categoriesByType[t]
	return ok
}

// Categories returns the categories allowed for t. The first entry is the
// default a form falls back to when the type changes.
func Categories(t TransactionType) []Category {
	cats := categoriesByType[t]
	out := make([]Category, len(cats))
	copy(out, cats)
	return out
}

// DefaultCategory returns the first category of t, or "" for an unknown type.
func DefaultCategory(t TransactionType) Category {
	if cats := categoriesByType[t]; len(cats) > 0 {
		return cats[0]
	}
	return ""
}

// BelongsTo reports whether c is in the category set of t.
func (c Category) BelongsTo(t TransactionType) bool {
	for _, candidate := range categoriesByType[t] {
		if candidate == c {
			return true
		}
	}
	return false
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrMissingDate
	}
	return nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

// AddDays returns the date n days after d.
func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(dateLayout))
}

func (d *Date) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date: %w", err)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	dateLayout,
}

func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{Time: t}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(ts.Format(time.RFC3339Nano))
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*ts = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*ts = parsed
	return nil
}

// Validate checks the invariants the backend enforces, so an invalid draft
// never leaves the client.
func (d TransactionDraft) Validate() error {
	if err := d.Amount.Validate(); err != nil {
		return err
	}
	if !d.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, d.Type)
	}
	if !d.Category.BelongsTo(d.Type) {
		return fmt.Errorf("%w: %q is not a %s category", ErrInvalidCategory, d.Category, d.Type)
	}
	return d.Date.Validate()
}

// DescriptionText returns the description or "" when absent.
func (d TransactionDraft) DescriptionText() string {
	if d.Description == nil {
		return ""
	}
	return *d.Description
}

// Draft returns the editable part of t.
func (t Transaction) Draft() TransactionDraft {
	d := TransactionDraft{
		Amount:   t.Amount,
		Type:     t.Type,
		Category: t.Category,
		Date:     t.Date,
	}
	if t.Description != nil {
		desc := *t.Description
		d.Description = &desc
	}
	return d
}

func (t Transaction) DescriptionText() string {
	if t.Description == nil {
		return ""
	}
	return *t.Description
}

// Description builds an optional description, treating blank text as absent.
func Description(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
