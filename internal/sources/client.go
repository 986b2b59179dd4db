// Package sources fetches and normalizes raw records from the two
// independent record feeds and exposes the collaborator's trigger
// operations (repair, progressive recalculation, single-record mutation).
//
// The two sources are always fetched independently and concurrently; a
// failed source degrades to an empty record set carried in its
// FetchResult and never blocks the other source. Results are combined
// only in the matcher, never here.
package sources

import (
	"context"
	"sync"

	"ledger-reconciliation/internal/models"
)

// Filter narrows a record fetch to a period range and, optionally, a
// single entity (e.g. one employee).
type Filter struct {
	From      models.Period
	To        models.Period
	EntityKey string
}

// Matches reports whether a period falls inside the filter range.
// Zero bounds are open ends. Bounds are inclusive at their own
// granularity: To of "2023" admits every period of 2023.
func (f Filter) Matches(p models.Period) bool {
	if !f.From.IsZero() && p.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && f.To.Before(truncate(p, f.To)) {
		return false
	}
	return true
}

// truncate reduces p to the granularity of the bound it is compared to
func truncate(p, bound models.Period) models.Period {
	if bound.Month == 0 {
		p.Month, p.Day = 0, 0
	} else if bound.Day == 0 {
		p.Day = 0
	}
	return p
}

// Client is the collaborator surface the engine consumes. Exact wire
// formats are the collaborator's concern.
type Client interface {
	// FetchRecords returns normalized records for one source. Pure read.
	FetchRecords(ctx context.Context, source models.Source, filter Filter) ([]*models.SourceRecord, error)

	// TriggerRepair runs the idempotent server-side repair pass.
	TriggerRepair(ctx context.Context, scope string) (models.RepairReport, error)

	// RecalculateProgressive recomputes stored running balances for the
	// given exclusion set and entity filter. It must complete (or report
	// failure) before the caller re-fetches.
	RecalculateProgressive(ctx context.Context, excludedYears []int, entityKey string) error

	// DeleteRecord removes a single record; the caller re-fetches after.
	DeleteRecord(ctx context.Context, id string) error

	// UpdateRecord patches a single record; the caller re-fetches after.
	UpdateRecord(ctx context.Context, id string, patch map[string]string) error
}

// FetchResult is the outcome of fetching one source: either records, or
// the SourceUnavailable error that made this side degrade to empty.
type FetchResult struct {
	Source  models.Source
	Records []*models.SourceRecord
	Err     error
}

// Available reports whether the source responded
func (r FetchResult) Available() bool {
	return r.Err == nil
}

// FetchBoth fetches the declared and confirmed sources concurrently and
// waits for both. Each side resolves independently; the caller joins
// whatever responded.
func FetchBoth(ctx context.Context, client Client, filter Filter) (FetchResult, FetchResult) {
	declared := FetchResult{Source: models.SourceDeclared}
	confirmed := FetchResult{Source: models.SourceConfirmed}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		declared.Records, declared.Err = client.FetchRecords(ctx, models.SourceDeclared, filter)
	}()

	go func() {
		defer wg.Done()
		confirmed.Records, confirmed.Err = client.FetchRecords(ctx, models.SourceConfirmed, filter)
	}()

	wg.Wait()
	return declared, confirmed
}
