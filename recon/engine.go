// Package recon implements the reconciliation engine: the matcher that
// correlates source and target entities by tag, the orphan lifecycle with its
// missed-poll hysteresis, and the orchestrator that drives one complete,
// idempotent run across all configured targets.
package recon

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/copier/config"
	"github.com/rustyeddy/copier/pkg/id"
	"github.com/rustyeddy/copier/rules"
	"github.com/rustyeddy/copier/store"
	"github.com/rustyeddy/copier/terminal"
)

// CodeVenueReject marks a candidate the venue itself refused at submission.
const CodeVenueReject = "VENUE_REJECT"

// Target is one configured destination venue.
type Target struct {
	Name     string
	Terminal terminal.Terminal
	Config   config.TargetConfig
}

// Engine drives reconciliation runs. Targets are processed sequentially in
// name order: every venue session is an exclusive resource, and deterministic
// order keeps runs comparable.
type Engine struct {
	source  terminal.Terminal
	targets []Target
	ledger  store.Store
	log     *zap.Logger
}

func New(source terminal.Terminal, targets []Target, ledger store.Store, log *zap.Logger) *Engine {
	sorted := make([]Target, len(targets))
	copy(sorted, targets)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return &Engine{source: source, targets: sorted, ledger: ledger, log: log}
}

// Run executes exactly one reconciliation pass. The source snapshot is taken
// once and shared by every target so a run never acts on two different views
// of the source. A failure on one target is recorded and the next target is
// still processed; only an unreadable state store or an unreachable source
// aborts the run, and both happen before any mutating operation. Cancellation
// is honored at target boundaries only: a target's pass runs to completion or
// to a terminal per-target error.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	runID := id.New()
	log := e.log.With(zap.String("run_id", runID))

	state, err := e.ledger.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	src, err := e.fetchSnapshot(ctx, e.source)
	if err != nil {
		return nil, fmt.Errorf("fetch source snapshot: %w", err)
	}
	log.Info("source snapshot",
		zap.Int("orders", len(src.Orders)),
		zap.Int("positions", len(src.Positions)))

	rep := &Report{RunID: runID, Start: time.Now()}
	for _, t := range e.targets {
		if err := ctx.Err(); err != nil {
			rep.End = time.Now()
			return rep, err
		}
		tr, rels, commit := e.processTarget(ctx, runID, t, src, state[t.Name])
		if commit {
			if err := e.ledger.ReplaceVenue(t.Name, rels); err != nil {
				tr.Errors = append(tr.Errors, fmt.Sprintf("commit state: %v", err))
				tr.Failed = true
			}
		}
		log.Info("target processed",
			zap.String("venue", t.Name),
			zap.Int("created", tr.Created),
			zap.Int("updated", tr.Updated),
			zap.Int("orphans_flagged", tr.OrphansFlagged),
			zap.Int("orphans_cleared", tr.OrphansCleared),
			zap.Int("rejections", len(tr.Rejections)),
			zap.Int("errors", len(tr.Errors)),
			zap.Bool("failed", tr.Failed))
		rep.Targets = append(rep.Targets, tr)
	}
	rep.End = time.Now()

	log.Info("run complete",
		zap.Int("targets", len(rep.Targets)),
		zap.Bool("failed", rep.Failed()),
		zap.Duration("elapsed", rep.End.Sub(rep.Start)))
	return rep, nil
}

func (e *Engine) fetchSnapshot(ctx context.Context, t terminal.Terminal) (terminal.Snapshot, error) {
	orders, err := t.ListOrders(ctx)
	if err != nil {
		return terminal.Snapshot{}, fmt.Errorf("list orders: %w", err)
	}
	positions, err := t.ListPositions(ctx)
	if err != nil {
		return terminal.Snapshot{}, fmt.Errorf("list positions: %w", err)
	}
	return terminal.Snapshot{Orders: orders, Positions: positions}, nil
}

// processTarget runs one target's sub-pipeline: fetch, diff, admit, apply, in
// the fixed order create → update → orphan cleanup so a just-triggered
// position is never mistaken for an orphaned order within the same run. The
// returned relationship set replaces the venue's rows when commit is true; a
// failed snapshot fetch leaves prior state untouched.
func (e *Engine) processTarget(
	ctx context.Context,
	runID string,
	t Target,
	src terminal.Snapshot,
	rels map[int64]*store.Relationship,
) (TargetReport, []*store.Relationship, bool) {
	log := e.log.With(zap.String("run_id", runID), zap.String("venue", t.Name))
	tr := TargetReport{Venue: t.Name}
	if rels == nil {
		rels = make(map[int64]*store.Relationship)
	}

	tgt, err := e.fetchSnapshot(ctx, t.Terminal)
	if err != nil {
		log.Error("target snapshot failed", zap.Error(err))
		tr.Errors = append(tr.Errors, err.Error())
		tr.Failed = true
		return tr, nil, false
	}

	d := ComputeDiff(src, tgt, rels)

	srcLive := make(map[int64]bool, len(src.Orders)+len(src.Positions))
	for _, o := range src.Orders {
		srcLive[o.Ticket] = true
	}
	for _, p := range src.Positions {
		srcLive[p.Ticket] = true
	}
	tgtOrders := make(map[int64]terminal.Order)
	for _, o := range tgt.Orders {
		if o.Magic != 0 {
			tgtOrders[o.Magic] = o
		}
	}
	tgtPositions := make(map[int64]terminal.Position)
	for _, p := range tgt.Positions {
		if p.Magic != 0 {
			tgtPositions[p.Magic] = p
		}
	}

	// Bookkeeping before any venue operation: a tag alive on both sides
	// clears suspicion immediately, even mid-streak, and the relationship
	// follows the copy's current kind. A tag alive at the source whose copy
	// vanished is closed; the matcher excluded it from creation this run, so
	// it re-enters as a fresh copy on the next one.
	for tag, rel := range rels {
		if !srcLive[tag] {
			continue
		}
		if p, ok := tgtPositions[tag]; ok {
			seen(rel, true)
			rel.TargetTicket = p.Ticket
		} else if o, ok := tgtOrders[tag]; ok {
			seen(rel, false)
			rel.TargetTicket = o.Ticket
		} else {
			rel.State = store.StateClosed
		}
	}

	fail := func(stage string, err error) {
		log.Error("target pass aborted", zap.String("stage", stage), zap.Error(err))
		tr.Errors = append(tr.Errors, fmt.Sprintf("%s: %v", stage, err))
		tr.Failed = true
	}

	// Create
	rounder := lotRounder{ctx: ctx, term: t.Terminal}
	pending := len(tgt.Orders)
	for _, cand := range d.Create {
		dec := rules.AdmitCreate(cand, t.Config, pending, rounder)
		if !dec.Accepted {
			log.Warn("candidate rejected",
				zap.Int64("tag", cand.Ticket),
				zap.String("code", dec.Code),
				zap.String("reason", dec.Reason))
			tr.Rejections = append(tr.Rejections, Rejection{Tag: cand.Ticket, Code: dec.Code, Reason: dec.Reason})
			continue
		}
		if !dec.SymbolMapped {
			log.Debug("symbol passthrough", zap.Int64("tag", cand.Ticket), zap.String("symbol", dec.Order.Symbol))
		}
		ticket, err := t.Terminal.PlaceOrder(ctx, dec.Order)
		if err != nil {
			if terminal.IsReject(err) {
				tr.Rejections = append(tr.Rejections, Rejection{Tag: cand.Ticket, Code: CodeVenueReject, Reason: err.Error()})
				log.Warn("venue rejected create", zap.Int64("tag", cand.Ticket), zap.Error(err))
				continue
			}
			fail("create", err)
			return tr, flatten(rels, runID), true
		}
		pending++
		tr.Created++
		rels[cand.Ticket] = &store.Relationship{
			Venue:        t.Name,
			Tag:          cand.Ticket,
			Kind:         store.KindOrder,
			State:        store.StatePending,
			TargetTicket: ticket,
			Applied:      orderFingerprint(cand),
		}
		log.Info("order copied",
			zap.Int64("tag", cand.Ticket),
			zap.Int64("ticket", ticket),
			zap.String("symbol", dec.Order.Symbol),
			zap.Float64("volume", dec.Order.Volume))
	}

	// Update
	for _, u := range d.UpdateOrders {
		dec := rules.AdmitUpdate(u.Source.Type, false, t.Config)
		if !dec.Accepted {
			tr.Rejections = append(tr.Rejections, Rejection{Tag: u.Source.Ticket, Code: dec.Code, Reason: dec.Reason})
			continue
		}
		if err := t.Terminal.ModifyOrder(ctx, u.Target.Ticket, u.Changes); err != nil {
			if terminal.IsReject(err) {
				tr.Rejections = append(tr.Rejections, Rejection{Tag: u.Source.Ticket, Code: CodeVenueReject, Reason: err.Error()})
				continue
			}
			fail("update order", err)
			return tr, flatten(rels, runID), true
		}
		tr.Updated++
		rel := rels[u.Source.Ticket]
		if rel == nil {
			rel = &store.Relationship{Venue: t.Name, Tag: u.Source.Ticket}
			rels[u.Source.Ticket] = rel
		}
		rel.Kind = store.KindOrder
		rel.State = store.StatePending
		rel.MissingRuns = 0
		rel.TargetTicket = u.Target.Ticket
		rel.Applied = orderFingerprint(u.Source)
		log.Info("order updated", zap.Int64("tag", u.Source.Ticket), zap.Int64("ticket", u.Target.Ticket))
	}
	for _, u := range d.UpdatePositions {
		if err := t.Terminal.ModifyPosition(ctx, u.Target.Ticket, u.Changes); err != nil {
			if terminal.IsReject(err) {
				tr.Rejections = append(tr.Rejections, Rejection{Tag: u.Source.Ticket, Code: CodeVenueReject, Reason: err.Error()})
				continue
			}
			fail("update position", err)
			return tr, flatten(rels, runID), true
		}
		tr.Updated++
		rel := rels[u.Source.Ticket]
		if rel == nil {
			rel = &store.Relationship{Venue: t.Name, Tag: u.Source.Ticket}
			rels[u.Source.Ticket] = rel
		}
		rel.Kind = store.KindPosition
		rel.State = store.StateActive
		rel.MissingRuns = 0
		rel.TargetTicket = u.Target.Ticket
		rel.Applied = positionFingerprint(u.Source)
		log.Info("position updated", zap.Int64("tag", u.Source.Ticket), zap.Int64("ticket", u.Target.Ticket))
	}

	// Orphan lifecycle
	oe := orphanEngine{policy: t.Config.OrphanPolicy}
	for _, o := range d.OrphanOrders {
		rel := rels[o.Magic]
		if rel == nil {
			rel = &store.Relationship{Venue: t.Name, Tag: o.Magic, State: store.StateOrphanSuspected}
			rels[o.Magic] = rel
		}
		rel.Kind = store.KindOrder
		rel.TargetTicket = o.Ticket
		switch oe.missing(rel) {
		case OrphanCleanup:
			if err := t.Terminal.CancelOrder(ctx, o.Ticket); err != nil {
				if terminal.IsReject(err) {
					// Leave state untouched; the next run retries.
					tr.Errors = append(tr.Errors, fmt.Sprintf("cancel orphan %d: %v", o.Ticket, err))
					log.Warn("orphan cancel rejected", zap.Int64("tag", o.Magic), zap.Error(err))
					continue
				}
				fail("cancel orphan", err)
				return tr, flatten(rels, runID), true
			}
			rel.State = store.StateClosed
			tr.OrphansCleared++
			log.Info("orphan order cancelled",
				zap.Int64("tag", o.Magic),
				zap.Int64("ticket", o.Ticket),
				zap.Int("missing_runs", rel.MissingRuns))
		case OrphanFlagged:
			tr.OrphansFlagged++
			log.Warn("orphan order flagged",
				zap.Int64("tag", o.Magic),
				zap.Int("missing_runs", rel.MissingRuns),
				zap.Int("threshold", t.Config.OrphanPolicy.ThresholdRuns),
				zap.Bool("act", t.Config.OrphanPolicy.Act))
		}
	}
	for _, p := range d.OrphanPositions {
		rel := rels[p.Magic]
		if rel == nil {
			rel = &store.Relationship{Venue: t.Name, Tag: p.Magic, State: store.StateOrphanSuspected}
			rels[p.Magic] = rel
		}
		rel.Kind = store.KindPosition
		rel.TargetTicket = p.Ticket
		switch oe.missing(rel) {
		case OrphanCleanup:
			if err := t.Terminal.ClosePosition(ctx, p.Ticket); err != nil {
				if terminal.IsReject(err) {
					tr.Errors = append(tr.Errors, fmt.Sprintf("close orphan %d: %v", p.Ticket, err))
					log.Warn("orphan close rejected", zap.Int64("tag", p.Magic), zap.Error(err))
					continue
				}
				fail("close orphan", err)
				return tr, flatten(rels, runID), true
			}
			rel.State = store.StateClosed
			tr.OrphansCleared++
			log.Info("orphan position closed",
				zap.Int64("tag", p.Magic),
				zap.Int64("ticket", p.Ticket),
				zap.Int("missing_runs", rel.MissingRuns))
		case OrphanFlagged:
			tr.OrphansFlagged++
			log.Warn("orphan position flagged",
				zap.Int64("tag", p.Magic),
				zap.Int("missing_runs", rel.MissingRuns),
				zap.Int("threshold", t.Config.OrphanPolicy.ThresholdRuns),
				zap.Bool("act", t.Config.OrphanPolicy.Act))
		}
	}

	// Relationships whose tag is gone from both sides have nothing left to
	// manage; close them so the counter rows do not accumulate.
	for tag, rel := range rels {
		_, onTargetOrder := tgtOrders[tag]
		_, onTargetPos := tgtPositions[tag]
		if !srcLive[tag] && !onTargetOrder && !onTargetPos && rel.State != store.StateClosed {
			rel.State = store.StateClosed
			log.Debug("relationship retired", zap.Int64("tag", tag))
		}
	}

	return tr, flatten(rels, runID), true
}

// flatten stamps and orders the venue's relationships for the snapshot-replace
// write.
func flatten(rels map[int64]*store.Relationship, runID string) []*store.Relationship {
	now := time.Now().UTC()
	out := make([]*store.Relationship, 0, len(rels))
	for _, rel := range rels {
		rel.LastRunID = runID
		rel.UpdatedAt = now
		out = append(out, rel)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

func orderFingerprint(o terminal.Order) store.AppliedParams {
	return store.AppliedParams{
		Volume:     o.Volume,
		Price:      o.Price,
		StopLoss:   o.StopLoss,
		TakeProfit: o.TakeProfit,
		Expiry:     o.Expiry,
	}
}

func positionFingerprint(p terminal.Position) store.AppliedParams {
	return store.AppliedParams{
		Volume:     p.Volume,
		Price:      p.OpenPrice,
		StopLoss:   p.StopLoss,
		TakeProfit: p.TakeProfit,
	}
}

// lotRounder adapts the target gateway's step rounding to the pipeline's
// collaborator interface.
type lotRounder struct {
	ctx  context.Context
	term terminal.Terminal
}

func (l lotRounder) RoundLot(symbol string, lots float64) (float64, error) {
	return l.term.NormalizeLots(l.ctx, symbol, lots)
}

// IsStateCorrupt reports whether a run failed because the persisted ledger is
// unreadable, the one failure that must stop the process rather than be
// retried on the next tick.
func IsStateCorrupt(err error) bool {
	return errors.Is(err, store.ErrCorrupt)
}
