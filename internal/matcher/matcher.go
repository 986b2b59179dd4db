// Package matcher joins the two record feeds on the composite
// (entity, period) key into per-key joined records with both amounts.
package matcher

import (
	"sort"

	"ledger-reconciliation/internal/models"
	"ledger-reconciliation/internal/sources"

	"github.com/shopspring/decimal"
)

// Join builds exactly one JoinedRecord per distinct composite key present
// in either source. Each record's amount is accumulated into the side it
// carries, not the list it arrived in: a record reclassified by the repair
// pass still travels in its original source's slice but must be summed
// into its new bucket. A key seen on only one side keeps zero on the other.
//
// Duplicate records for the same key within a single source are summed,
// not overwritten: one period may legitimately receive multiple
// transactions from the same feed.
//
// Output order is first appearance across declared then confirmed input.
// It follows arrival order of the feeds, not wall-clock time; callers
// that need chronology re-sort with SortByPeriod.
func Join(declared, confirmed []*models.SourceRecord) []*models.JoinedRecord {
	byKey := make(map[string]*models.JoinedRecord)
	var order []string

	upsert := func(record *models.SourceRecord) *models.JoinedRecord {
		key := record.Key()
		joined, ok := byKey[key]
		if !ok {
			joined = &models.JoinedRecord{
				EntityKey: record.EntityKey,
				Period:    record.Period,
				Declared:  decimal.Zero,
				Confirmed: decimal.Zero,
			}
			byKey[key] = joined
			order = append(order, key)
		}
		return joined
	}

	accumulate := func(record *models.SourceRecord) {
		joined := upsert(record)
		switch {
		case record.Declared.Valid:
			joined.Declared = joined.Declared.Add(record.Declared.Decimal)
		case record.Confirmed.Valid:
			joined.Confirmed = joined.Confirmed.Add(record.Confirmed.Decimal)
		}
	}

	for _, record := range declared {
		accumulate(record)
	}
	for _, record := range confirmed {
		accumulate(record)
	}

	result := make([]*models.JoinedRecord, 0, len(order))
	for _, key := range order {
		joined := byKey[key]
		joined.Delta = joined.Confirmed.Sub(joined.Declared)
		result = append(result, joined)
	}

	return result
}

// JoinResults joins the outcome of a dual fetch. A failed source
// contributes no records; the joined view degrades instead of aborting.
func JoinResults(declared, confirmed sources.FetchResult) []*models.JoinedRecord {
	declaredRecords := declared.Records
	if !declared.Available() {
		declaredRecords = nil
	}

	confirmedRecords := confirmed.Records
	if !confirmed.Available() {
		confirmedRecords = nil
	}

	return Join(declaredRecords, confirmedRecords)
}

// SortByPeriod sorts joined records chronologically in place, oldest
// first, with entity key as tie-break for stable cross-entity output.
func SortByPeriod(joined []*models.JoinedRecord) {
	sort.SliceStable(joined, func(i, j int) bool {
		if joined[i].Period != joined[j].Period {
			return joined[i].Period.Before(joined[j].Period)
		}
		return joined[i].EntityKey < joined[j].EntityKey
	})
}

// ByEntity groups joined records per entity, preserving each entity's
// record order and the order entities first appear.
func ByEntity(joined []*models.JoinedRecord) map[string][]*models.JoinedRecord {
	grouped := make(map[string][]*models.JoinedRecord)
	for _, record := range joined {
		grouped[record.EntityKey] = append(grouped[record.EntityKey], record)
	}
	return grouped
}
