// Package engine orchestrates one reconciliation view session: the dual
// fetch, the opportunistic repair pass, exclusion toggles and the
// progressive-recalculation round-trip that must confirm every toggle
// before totals are trusted.
package engine

import (
	"context"
	"sync"

	"ledger-reconciliation/internal/aggregator"
	"ledger-reconciliation/internal/matcher"
	"ledger-reconciliation/internal/models"
	"ledger-reconciliation/internal/repair"
	"ledger-reconciliation/internal/sources"
	pkgerrors "ledger-reconciliation/pkg/errors"
	"ledger-reconciliation/pkg/logger"

	"github.com/shopspring/decimal"
)

// View is one consistent snapshot of the reconciliation state: the
// joined records, the exclusion-aware totals derived from them, the
// flagged discrepancies and the report of the repair pass that ran
// before joining (zero-valued when none ran). Unavailable lists sources
// that failed on this load; their side of the join degraded to empty.
type View struct {
	Joined        []*models.JoinedRecord
	Totals        models.AggregateTotals
	Discrepancies []models.Discrepancy
	Repair        models.RepairReport
	Unavailable   []models.Source
}

// Session owns the mutable state of one logical reconciliation view:
// the exclusion set, the last-known-good view and the single-flight
// recalculation bookkeeping. External components never mutate that state
// directly, only through Session methods. One Session serves one view
// for its lifetime; a full reload of the host view means a new Session.
type Session struct {
	client    sources.Client
	repairer  *repair.Engine
	filter    sources.Filter
	tolerance decimal.Decimal
	log       logger.Logger

	mu sync.Mutex
	// exclusions is the committed set: every year in it has been
	// confirmed by a completed recalculation round-trip. pending carries
	// staged toggles that are still waiting on the server.
	exclusions *models.ExclusionSet
	pending    *models.ExclusionSet
	view       *View
	repaired   bool

	// Single-flight recalculation per session (one session = one entity
	// filter). A toggle arriving mid-flight coalesces into exactly one
	// follow-up run with the final exclusion state; in-flight work is
	// never cancelled and never raced against a second recalculation.
	recalcInFlight bool
	recalcFollowUp bool
}

// Option configures a Session
type Option func(*Session)

// WithTolerance overrides the one-currency-unit discrepancy tolerance
func WithTolerance(tolerance decimal.Decimal) Option {
	return func(s *Session) {
		s.tolerance = tolerance
	}
}

// WithFilter sets the period range and entity filter for every fetch
func WithFilter(filter sources.Filter) Option {
	return func(s *Session) {
		s.filter = filter
	}
}

// NewSession creates a session over the given collaborator client
func NewSession(client sources.Client, opts ...Option) *Session {
	s := &Session{
		client:     client,
		repairer:   repair.New(),
		tolerance:  models.DefaultTolerance,
		log:        logger.GetGlobalLogger().WithComponent("engine"),
		exclusions: models.NewExclusionSet(),
		pending:    models.NewExclusionSet(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Load fetches both sources, self-heals the data once per session, joins
// and recomputes the derived view. A failed source degrades that side to
// empty and is recorded in View.Unavailable; source outages never fail
// the load itself, even when both feeds are down.
func (s *Session) Load(ctx context.Context) (*View, error) {
	s.mu.Lock()
	firstLoad := !s.repaired
	s.repaired = true
	s.mu.Unlock()

	return s.reload(ctx, firstLoad)
}

// View returns the last-known-good snapshot, or nil before the first
// successful Load.
func (s *Session) View() *View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Exclusions returns a copy of the committed exclusion set
func (s *Session) Exclusions() *models.ExclusionSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exclusions.Clone()
}

// ToggleYear stages an exclusion toggle, asks the server to recompute
// the stored progressive balances, and only after that round-trip
// succeeds re-fetches and recomputes totals from server-confirmed data.
// On failure the stage is reverted and the previous view stays exactly
// as it was.
//
// If a recalculation is already in flight, the toggle is absorbed into
// the pending set and a single follow-up recalculation runs when the
// active one completes; the mid-flight caller gets the stale view and a
// nil error immediately, and the in-flight caller delivers the final
// state. Should that follow-up fail, the absorbed toggle is reverted
// with the rest of the stage and only the in-flight caller sees the
// error; callers that coalesced confirm their toggle via Exclusions.
func (s *Session) ToggleYear(ctx context.Context, year int) (*View, error) {
	s.mu.Lock()
	s.pending.Toggle(year)

	if s.recalcInFlight {
		s.recalcFollowUp = true
		view := s.view
		s.mu.Unlock()
		return view, nil
	}

	s.recalcInFlight = true
	s.mu.Unlock()

	return s.runRecalculation(ctx)
}

// ResetExclusions clears all staged and committed exclusions through the
// same recalculate-then-refetch pipeline as a toggle.
func (s *Session) ResetExclusions(ctx context.Context) (*View, error) {
	s.mu.Lock()
	s.pending.Reset()

	if s.recalcInFlight {
		s.recalcFollowUp = true
		view := s.view
		s.mu.Unlock()
		return view, nil
	}

	s.recalcInFlight = true
	s.mu.Unlock()

	return s.runRecalculation(ctx)
}

// runRecalculation drives the staged exclusion state through the remote
// recompute and, once every staged change is confirmed, reloads the view.
func (s *Session) runRecalculation(ctx context.Context) (*View, error) {
	defer func() {
		s.mu.Lock()
		s.recalcInFlight = false
		s.mu.Unlock()
	}()

	for {
		s.mu.Lock()
		staged := s.pending.Clone()
		s.recalcFollowUp = false
		s.mu.Unlock()

		err := s.client.RecalculateProgressive(ctx, staged.Years(), s.filter.EntityKey)
		if err != nil {
			s.mu.Lock()
			// Drop the staged toggles; committed state and the displayed
			// view stay untouched.
			s.pending = s.exclusions.Clone()
			s.recalcFollowUp = false
			view := s.view
			s.mu.Unlock()

			s.log.WithError(err).Warn("recalculation failed, keeping last confirmed totals")
			return view, pkgerrors.WrapIfNeeded(err,
				pkgerrors.CategoryRecalculation, pkgerrors.CodeRecalculationFailed,
				"progressive recalculation failed")
		}

		s.mu.Lock()
		s.exclusions = staged
		again := s.recalcFollowUp
		s.mu.Unlock()

		if !again {
			break
		}
	}

	return s.reload(ctx, false)
}

// RepairNow triggers the server-side repair pass and reloads with a
// fresh client-side pass. A failed remote repair surfaces a zero-count
// report and the error, but never blocks further use of the view.
func (s *Session) RepairNow(ctx context.Context) (*View, models.RepairReport, error) {
	remoteReport, err := s.client.TriggerRepair(ctx, s.scope())
	if err != nil {
		s.log.WithError(err).Warn("remote repair failed")
		view := s.View()
		return view, models.RepairReport{}, pkgerrors.WrapIfNeeded(err,
			pkgerrors.CategoryRepair, pkgerrors.CodeRepairFailed, "repair pass failed")
	}

	view, reloadErr := s.reload(ctx, true)
	if reloadErr != nil {
		return view, remoteReport, reloadErr
	}

	return view, remoteReport.Add(view.Repair), nil
}

// DeleteRecord removes one underlying record and re-fetches
func (s *Session) DeleteRecord(ctx context.Context, id string) (*View, error) {
	if err := s.client.DeleteRecord(ctx, id); err != nil {
		return s.View(), err
	}
	return s.reload(ctx, false)
}

// UpdateRecord patches one underlying record and re-fetches
func (s *Session) UpdateRecord(ctx context.Context, id string, patch map[string]string) (*View, error) {
	if err := s.client.UpdateRecord(ctx, id, patch); err != nil {
		return s.View(), err
	}
	return s.reload(ctx, false)
}

// reload performs one full read pass: concurrent dual fetch, optional
// client-side repair, join, aggregate, detect. The matcher always
// consumes one consistent snapshot of both sources; nothing is joined
// until both fetches have resolved.
func (s *Session) reload(ctx context.Context, withRepair bool) (*View, error) {
	declared, confirmed := sources.FetchBoth(ctx, s.client, s.filter)

	var unavailable []models.Source
	if !declared.Available() {
		s.log.WithError(declared.Err).Warn("declared source unavailable, degrading to empty")
		unavailable = append(unavailable, models.SourceDeclared)
	}
	if !confirmed.Available() {
		s.log.WithError(confirmed.Err).Warn("confirmed source unavailable, degrading to empty")
		unavailable = append(unavailable, models.SourceConfirmed)
	}

	var report models.RepairReport
	if withRepair {
		var declaredReport, confirmedReport models.RepairReport
		declared.Records, declaredReport = s.repairPass(declared)
		confirmed.Records, confirmedReport = s.repairPass(confirmed)
		report = declaredReport.Add(confirmedReport)
	}

	joined := matcher.JoinResults(declared, confirmed)

	s.mu.Lock()
	exclusions := s.exclusions.Clone()
	s.mu.Unlock()

	view := &View{
		Joined:        joined,
		Totals:        aggregator.Aggregate(joined, exclusions),
		Discrepancies: aggregator.DetectDiscrepancies(joined, s.tolerance),
		Repair:        report,
		Unavailable:   unavailable,
	}

	s.mu.Lock()
	s.view = view
	s.mu.Unlock()

	return view, nil
}

func (s *Session) repairPass(result sources.FetchResult) ([]*models.SourceRecord, models.RepairReport) {
	if !result.Available() {
		return nil, models.RepairReport{}
	}
	return s.repairer.Run(result.Records)
}

// RunningBalances exposes per-entity progressive balances for the
// current view in the engine's reverse-chronological convention.
func (s *Session) RunningBalances() map[string][]aggregator.BalanceRow {
	view := s.View()
	if view == nil {
		return nil
	}
	return aggregator.RunningBalancesByEntity(view.Joined)
}

func (s *Session) scope() string {
	if s.filter.EntityKey != "" {
		return s.filter.EntityKey
	}
	return "all"
}
