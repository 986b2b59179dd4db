// Package repair scans raw records for known anomaly classes left behind
// by previous imports and removes or corrects them before totals are
// trusted. The pass is idempotent: running it on already-clean data
// reports zero changes.
package repair

import (
	"ledger-reconciliation/internal/models"
	"ledger-reconciliation/pkg/logger"
)

// Engine applies the client-side repair pass. It mirrors the server-side
// repair endpoint for display purposes; the session decides when to run
// it (once on first load of a view, then only on explicit request).
type Engine struct {
	log logger.Logger
}

// New creates a repair engine
func New() *Engine {
	return &Engine{
		log: logger.GetGlobalLogger().WithComponent("repair"),
	}
}

// Run applies all anomaly passes and returns the surviving records plus
// a report of what changed. Input records are not mutated; corrected
// records are copies.
//
// Anomaly classes, in order:
//   - empty rows (no observed amount, or an explicit zero) are removed
//   - negative amounts in fields that are non-negative by domain
//     convention are reclassified: absolute value, opposite bucket
//   - duplicate rows (same entity, period, amounts, description)
//     collapse to one; extras are removed
func (e *Engine) Run(records []*models.SourceRecord) ([]*models.SourceRecord, models.RepairReport) {
	var report models.RepairReport

	clean := make([]*models.SourceRecord, 0, len(records))
	seen := make(map[string]struct{}, len(records))

	for _, record := range records {
		if record.IsEmpty() {
			report.RowsRemoved++
			e.log.WithFields(logger.Fields{
				"record": record.ID,
				"reason": "empty_row",
			}).Debug("removing record")
			continue
		}

		record, corrected := reclassifyMisSigned(record)
		if corrected {
			report.CorrectionsApplied++
			e.log.WithFields(logger.Fields{
				"record": record.ID,
				"reason": "mis_signed_amount",
			}).Debug("correcting record")
		}

		fingerprint := duplicateFingerprint(record)
		if _, duplicate := seen[fingerprint]; duplicate {
			report.RowsRemoved++
			e.log.WithFields(logger.Fields{
				"record": record.ID,
				"reason": "duplicate_row",
			}).Debug("removing record")
			continue
		}
		seen[fingerprint] = struct{}{}

		clean = append(clean, record)
	}

	if !report.IsClean() {
		e.log.Infof("repair pass: %d rows removed, %d corrections applied",
			report.RowsRemoved, report.CorrectionsApplied)
	}

	return clean, report
}

// reclassifyMisSigned fixes records whose native amount is negative.
// Both feeds carry non-negative amounts by domain convention, so a
// negative value means the amount landed in the wrong signed bucket:
// it moves to the opposite side with its sign flipped.
func reclassifyMisSigned(record *models.SourceRecord) (*models.SourceRecord, bool) {
	amount, observed := record.NativeAmount()
	if !observed || !amount.IsNegative() {
		return record, false
	}

	corrected := *record
	corrected.Raw = record.Raw
	corrected.SourceTag = record.SourceTag.Opposite()
	corrected.Declared.Valid = false
	corrected.Confirmed.Valid = false

	fixed := amount.Abs()
	if corrected.SourceTag == models.SourceConfirmed {
		corrected.Confirmed.Decimal = fixed
		corrected.Confirmed.Valid = true
	} else {
		corrected.Declared.Decimal = fixed
		corrected.Declared.Valid = true
	}

	return &corrected, true
}

// duplicateFingerprint is the identity under which rows collapse:
// entity, period, both amount buckets and description. Record IDs are
// deliberately excluded; re-imported rows get fresh IDs.
func duplicateFingerprint(record *models.SourceRecord) string {
	declared := "-"
	if record.Declared.Valid {
		declared = record.Declared.Decimal.String()
	}
	confirmed := "-"
	if record.Confirmed.Valid {
		confirmed = record.Confirmed.Decimal.String()
	}
	return record.EntityKey + "|" + record.Period.Key() + "|" + declared + "|" + confirmed + "|" + record.Description
}
