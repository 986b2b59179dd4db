package models

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Source identifies which of the two independent feeds a record came from.
type Source string

const (
	// SourceDeclared is the declared side: payslip amounts in the payroll
	// instance, the automatically ingested register/bank feed in the daily
	// cash instance.
	SourceDeclared Source = "DECLARED"
	// SourceConfirmed is the confirmed side: bank-transfer amounts in the
	// payroll instance, manually entered till totals in the daily cash
	// instance.
	SourceConfirmed Source = "CONFIRMED"
)

// String returns the string representation of Source
func (s Source) String() string {
	return string(s)
}

// IsValid checks if the source tag is valid
func (s Source) IsValid() bool {
	return s == SourceDeclared || s == SourceConfirmed
}

// Opposite returns the other feed
func (s Source) Opposite() Source {
	if s == SourceDeclared {
		return SourceConfirmed
	}
	return SourceDeclared
}

// Period is the time dimension of the composite reconciliation key.
// Month is zero for yearly granularity (payroll aggregates), Day is zero
// unless the record is daily (cash reconciliation).
type Period struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month,omitempty"`
	Day   int        `json:"day,omitempty"`
}

// PeriodFromDate creates a daily-granularity Period from a calendar date
func PeriodFromDate(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// IsZero reports whether the period is unset
func (p Period) IsZero() bool {
	return p.Year == 0
}

// Key returns the canonical string form used in composite keys:
// "2024", "2024-05" or "2024-05-03" depending on granularity.
func (p Period) Key() string {
	switch {
	case p.Day != 0:
		return fmt.Sprintf("%04d-%02d-%02d", p.Year, p.Month, p.Day)
	case p.Month != 0:
		return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
	default:
		return fmt.Sprintf("%04d", p.Year)
	}
}

// String returns the canonical string form of the period
func (p Period) String() string {
	return p.Key()
}

// Before reports whether p is chronologically before other
func (p Period) Before(other Period) bool {
	if p.Year != other.Year {
		return p.Year < other.Year
	}
	if p.Month != other.Month {
		return p.Month < other.Month
	}
	return p.Day < other.Day
}

// SourceRecord is one observation from one feed. A record carries at most
// the amount native to the feed it came from; the other side stays
// unobserved (NullDecimal with Valid == false) until the join step, so
// "confirmed zero" is never conflated with "no data from this source".
type SourceRecord struct {
	ID          string              `json:"id"`
	EntityKey   string              `json:"entityKey"`
	Period      Period              `json:"period"`
	Declared    decimal.NullDecimal `json:"declared"`
	Confirmed   decimal.NullDecimal `json:"confirmed"`
	SourceTag   Source              `json:"sourceTag"`
	Description string              `json:"description,omitempty"`
	Raw         map[string]string   `json:"raw,omitempty"`
}

// NewSourceRecord creates a record carrying the amount in the bucket
// native to the given source.
func NewSourceRecord(id, entityKey string, period Period, amount decimal.Decimal, source Source) *SourceRecord {
	r := &SourceRecord{
		ID:        id,
		EntityKey: entityKey,
		Period:    period,
		SourceTag: source,
	}
	if source == SourceConfirmed {
		r.Confirmed = decimal.NewNullDecimal(amount)
	} else {
		r.Declared = decimal.NewNullDecimal(amount)
	}
	return r
}

// Validate performs basic shape validation on the SourceRecord
func (r *SourceRecord) Validate() error {
	if !r.SourceTag.IsValid() {
		return fmt.Errorf("invalid source tag: %s", r.SourceTag)
	}

	if r.Period.IsZero() {
		return fmt.Errorf("record period cannot be empty")
	}

	if r.Declared.Valid && r.Confirmed.Valid {
		return fmt.Errorf("record cannot carry amounts from both sources")
	}

	return nil
}

// NativeAmount returns the amount native to the record's feed and whether
// it was observed at all.
func (r *SourceRecord) NativeAmount() (decimal.Decimal, bool) {
	if r.Declared.Valid {
		return r.Declared.Decimal, true
	}
	if r.Confirmed.Valid {
		return r.Confirmed.Decimal, true
	}
	return decimal.Zero, false
}

// IsEmpty reports whether the record observes no amount, or only an
// explicit zero. Such rows carry no reconciliation signal.
func (r *SourceRecord) IsEmpty() bool {
	amount, observed := r.NativeAmount()
	return !observed || amount.IsZero()
}

// Key returns the composite reconciliation key for this record
func (r *SourceRecord) Key() string {
	return r.EntityKey + "|" + r.Period.Key()
}

// String returns a string representation of the SourceRecord
func (r *SourceRecord) String() string {
	amount := "unobserved"
	if a, ok := r.NativeAmount(); ok {
		amount = a.String()
	}
	return fmt.Sprintf("SourceRecord{ID: %s, Entity: %s, Period: %s, Amount: %s, Source: %s}",
		r.ID, r.EntityKey, r.Period, amount, r.SourceTag)
}

// JoinedRecord is the per-(entity, period) view after joining both feeds.
// Missing sides are defaulted to zero here and only here. Delta is always
// Confirmed minus Declared; the sign convention is fixed engine-wide.
type JoinedRecord struct {
	EntityKey string          `json:"entityKey"`
	Period    Period          `json:"period"`
	Declared  decimal.Decimal `json:"declared"`
	Confirmed decimal.Decimal `json:"confirmed"`
	Delta     decimal.Decimal `json:"delta"`
}

// Key returns the composite reconciliation key for this joined record
func (j *JoinedRecord) Key() string {
	return j.EntityKey + "|" + j.Period.Key()
}

// String returns a string representation of the JoinedRecord
func (j *JoinedRecord) String() string {
	return fmt.Sprintf("JoinedRecord{Entity: %s, Period: %s, Declared: %s, Confirmed: %s, Delta: %s}",
		j.EntityKey, j.Period, j.Declared, j.Confirmed, j.Delta)
}

// AggregateTotals is derived from joined records on every read; it is
// never cached across an amount or exclusion change.
type AggregateTotals struct {
	IncludedCount int             `json:"includedCount"`
	TotalCount    int             `json:"totalCount"`
	SumDeclared   decimal.Decimal `json:"sumDeclared"`
	SumConfirmed  decimal.Decimal `json:"sumConfirmed"`
	SumDelta      decimal.Decimal `json:"sumDelta"`
}

// RepairReport summarizes one repair pass. It is ephemeral: surfaced to
// the caller once and discarded.
type RepairReport struct {
	RowsRemoved        int `json:"rowsRemoved"`
	CorrectionsApplied int `json:"correctionsApplied"`
}

// IsClean reports whether the pass changed nothing
func (r RepairReport) IsClean() bool {
	return r.RowsRemoved == 0 && r.CorrectionsApplied == 0
}

// Add accumulates another report into this one
func (r RepairReport) Add(other RepairReport) RepairReport {
	return RepairReport{
		RowsRemoved:        r.RowsRemoved + other.RowsRemoved,
		CorrectionsApplied: r.CorrectionsApplied + other.CorrectionsApplied,
	}
}

// Severity classifies a delta relative to the configured tolerance
type Severity string

const (
	// SeverityNone means the delta is within tolerance (noise)
	SeverityNone Severity = "NONE"
	// SeverityFlagged means the delta magnitude exceeds the tolerance
	SeverityFlagged Severity = "FLAGGED"
)

// Discrepancy is a flagged per-period delta in the daily cash instance.
// Direction is +1 when the confirmed side over-reports relative to the
// declared side, -1 when it under-reports; it is carried for display only.
type Discrepancy struct {
	Period    Period          `json:"period"`
	Declared  decimal.Decimal `json:"declared"`
	Confirmed decimal.Decimal `json:"confirmed"`
	Delta     decimal.Decimal `json:"delta"`
	Severity  Severity        `json:"severity"`
	Direction int             `json:"direction"`
}

// DefaultTolerance is one unit of currency, the observed tolerance in
// both reconciliation instances.
var DefaultTolerance = decimal.NewFromInt(1)

// ExclusionSet is the session-scoped set of excluded partition years.
// It never deletes or hides underlying records; it only removes their
// periods from aggregate sums. The session owns one instance, but it is
// passed explicitly into every aggregate and recalculate call.
type ExclusionSet struct {
	years map[int]struct{}
}

// NewExclusionSet creates an empty exclusion set
func NewExclusionSet() *ExclusionSet {
	return &ExclusionSet{years: make(map[int]struct{})}
}

// Toggle flips the exclusion state of a year and reports whether the
// year is excluded afterward.
func (e *ExclusionSet) Toggle(year int) bool {
	if _, ok := e.years[year]; ok {
		delete(e.years, year)
		return false
	}
	e.years[year] = struct{}{}
	return true
}

// Reset clears all exclusions
func (e *ExclusionSet) Reset() {
	e.years = make(map[int]struct{})
}

// Contains reports whether the given period's partition year is excluded
func (e *ExclusionSet) Contains(p Period) bool {
	if e == nil {
		return false
	}
	_, ok := e.years[p.Year]
	return ok
}

// Len returns the number of excluded years
func (e *ExclusionSet) Len() int {
	return len(e.years)
}

// Years returns the excluded years in ascending order
func (e *ExclusionSet) Years() []int {
	years := make([]int, 0, len(e.years))
	for y := range e.years {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

// Clone returns an independent copy of the exclusion set
func (e *ExclusionSet) Clone() *ExclusionSet {
	clone := NewExclusionSet()
	for y := range e.years {
		clone.years[y] = struct{}{}
	}
	return clone
}

// String returns a string representation of the ExclusionSet
func (e *ExclusionSet) String() string {
	return fmt.Sprintf("ExclusionSet%v", e.Years())
}

// Utility functions for type conversion and validation

// ParseAmount parses a decimal amount from string, tolerating common
// currency symbols and thousand separators.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	s = strings.ReplaceAll(s, "€", "")
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}

	return d, nil
}

// ParsePeriodDate attempts to parse a daily period from string using the
// date formats the feeds are known to emit.
func ParsePeriodDate(s string) (Period, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Period{}, fmt.Errorf("date string cannot be empty")
	}

	formats := []string{
		"2006-01-02",
		time.RFC3339,
		"2006-01-02 15:04:05",
		"02/01/2006",
		"2006/01/02",
	}

	var lastErr error
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return PeriodFromDate(t), nil
		} else {
			lastErr = err
		}
	}

	return Period{}, fmt.Errorf("unable to parse date '%s': %w", s, lastErr)
}

// WithinTolerance reports whether the magnitude of delta does not exceed
// the tolerance. A delta of exactly the tolerance is still noise.
func WithinTolerance(delta, tolerance decimal.Decimal) bool {
	return delta.Abs().LessThanOrEqual(tolerance)
}
