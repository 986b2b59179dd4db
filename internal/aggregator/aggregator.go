// Package aggregator computes exclusion-aware totals, per-period
// discrepancies and progressive running balances over joined records.
// All functions are pure; the exclusion set is an explicit parameter,
// never ambient state.
package aggregator

import (
	"ledger-reconciliation/internal/matcher"
	"ledger-reconciliation/internal/models"

	"github.com/shopspring/decimal"
)

// Aggregate computes totals over the non-excluded partition. Filtering
// happens strictly before summation: an excluded period contributes
// nothing to any sum or to IncludedCount. TotalCount always counts every
// joined record regardless of exclusions.
func Aggregate(joined []*models.JoinedRecord, exclusions *models.ExclusionSet) models.AggregateTotals {
	totals := models.AggregateTotals{
		TotalCount:   len(joined),
		SumDeclared:  decimal.Zero,
		SumConfirmed: decimal.Zero,
		SumDelta:     decimal.Zero,
	}

	for _, record := range joined {
		if exclusions.Contains(record.Period) {
			continue
		}
		totals.IncludedCount++
		totals.SumDeclared = totals.SumDeclared.Add(record.Declared)
		totals.SumConfirmed = totals.SumConfirmed.Add(record.Confirmed)
		totals.SumDelta = totals.SumDelta.Add(record.Delta)
	}

	return totals
}

// DetectDiscrepancies flags joined records whose delta magnitude is
// strictly greater than the tolerance. A delta of exactly the tolerance
// is noise. Direction is carried for display only: positive means the
// confirmed side over-reports relative to the declared side.
func DetectDiscrepancies(joined []*models.JoinedRecord, tolerance decimal.Decimal) []models.Discrepancy {
	discrepancies := make([]models.Discrepancy, 0)

	for _, record := range joined {
		if models.WithinTolerance(record.Delta, tolerance) {
			continue
		}

		direction := 1
		if record.Delta.IsNegative() {
			direction = -1
		}

		discrepancies = append(discrepancies, models.Discrepancy{
			Period:    record.Period,
			Declared:  record.Declared,
			Confirmed: record.Confirmed,
			Delta:     record.Delta,
			Severity:  models.SeverityFlagged,
			Direction: direction,
		})
	}

	return discrepancies
}

// BalanceRow pairs a joined record with its progressive balance
type BalanceRow struct {
	Record  *models.JoinedRecord
	Balance decimal.Decimal
}

// RunningBalances computes progressive balances for one entity's joined
// records in the reverse convention downstream displays depend on: rows
// are ordered chronologically, and the balance at each row is the sum of
// deltas from that row through the most recent one. The oldest row
// therefore carries the cumulative total and the most recent row carries
// the balance nearest to zero. Do not "fix" this to a forward running
// total; it would silently alter every displayed historical balance.
func RunningBalances(joined []*models.JoinedRecord) []BalanceRow {
	ordered := make([]*models.JoinedRecord, len(joined))
	copy(ordered, joined)
	matcher.SortByPeriod(ordered)

	rows := make([]BalanceRow, len(ordered))
	balance := decimal.Zero
	for i := len(ordered) - 1; i >= 0; i-- {
		balance = balance.Add(ordered[i].Delta)
		rows[i] = BalanceRow{Record: ordered[i], Balance: balance}
	}

	return rows
}

// RunningBalancesByEntity computes per-entity running balances across a
// mixed-entity record set.
func RunningBalancesByEntity(joined []*models.JoinedRecord) map[string][]BalanceRow {
	balances := make(map[string][]BalanceRow)
	for entity, records := range matcher.ByEntity(joined) {
		balances[entity] = RunningBalances(records)
	}
	return balances
}
