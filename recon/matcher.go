package recon

import (
	"math"
	"sort"

	"github.com/rustyeddy/copier/store"
	"github.com/rustyeddy/copier/terminal"
)

// tolerance for price and volume comparison; venue round-trips through float
// quote precision make exact equality useless.
const tolerance = 1e-5

func closeEnough(a, b float64) bool {
	return math.Abs(a-b) <= tolerance
}

// OrderUpdate pairs a source order with its target copy and the minimal field
// set that must change to bring the copy back in line.
type OrderUpdate struct {
	Source  terminal.Order
	Target  terminal.Order
	Changes terminal.Changes
}

// PositionUpdate is the position analogue: only stop-loss and take-profit are
// comparable once a copy has triggered.
type PositionUpdate struct {
	Source  terminal.Position
	Target  terminal.Position
	Changes terminal.Changes
}

// Diff is the three-way result of correlating one source snapshot with one
// target snapshot by tag.
type Diff struct {
	Create          []terminal.Order
	UpdateOrders    []OrderUpdate
	UpdatePositions []PositionUpdate
	OrphanOrders    []terminal.Order
	OrphanPositions []terminal.Position
}

// ComputeDiff correlates source and target entities by exact id equality: a
// source entity's ticket against a target entity's magic. There is no fuzzy
// fallback on instrument, side or size. A ticket that appears as an order on
// one side and a position on the other is the same relationship mid-trigger,
// not two entities, so presence on either side in either kind counts as live.
//
// rels holds the target's non-closed tracked relationships; a tag with a live
// relationship is never re-created, which is what preserves orphans the policy
// chose to keep.
func ComputeDiff(src, tgt terminal.Snapshot, rels map[int64]*store.Relationship) Diff {
	srcOrders := make(map[int64]terminal.Order, len(src.Orders))
	srcLive := make(map[int64]bool)
	for _, o := range src.Orders {
		srcOrders[o.Ticket] = o
		srcLive[o.Ticket] = true
	}
	srcPositions := make(map[int64]terminal.Position, len(src.Positions))
	for _, p := range src.Positions {
		srcPositions[p.Ticket] = p
		srcLive[p.Ticket] = true
	}

	tagged := make(map[int64]bool) // tags present on the target, any kind
	for _, o := range tgt.Orders {
		if o.Magic != 0 {
			tagged[o.Magic] = true
		}
	}
	for _, p := range tgt.Positions {
		if p.Magic != 0 {
			tagged[p.Magic] = true
		}
	}

	var d Diff

	for _, o := range src.Orders {
		if !tagged[o.Ticket] && rels[o.Ticket] == nil {
			d.Create = append(d.Create, o)
		}
	}
	sort.Slice(d.Create, func(i, j int) bool { return d.Create[i].Ticket < d.Create[j].Ticket })

	for _, t := range tgt.Orders {
		if t.Magic == 0 {
			// Not one of ours; manually placed entities are never managed.
			continue
		}
		if s, ok := srcOrders[t.Magic]; ok {
			if ch := orderChanges(s, t, rels[t.Magic]); !ch.Empty() {
				d.UpdateOrders = append(d.UpdateOrders, OrderUpdate{Source: s, Target: t, Changes: ch})
			}
			continue
		}
		if !srcLive[t.Magic] {
			d.OrphanOrders = append(d.OrphanOrders, t)
		}
	}

	for _, t := range tgt.Positions {
		if t.Magic == 0 {
			continue
		}
		if s, ok := srcPositions[t.Magic]; ok {
			if ch := positionChanges(s, t, rels[t.Magic]); !ch.Empty() {
				d.UpdatePositions = append(d.UpdatePositions, PositionUpdate{Source: s, Target: t, Changes: ch})
			}
			continue
		}
		if !srcLive[t.Magic] {
			d.OrphanPositions = append(d.OrphanPositions, t)
		}
	}

	sort.Slice(d.UpdateOrders, func(i, j int) bool {
		return d.UpdateOrders[i].Target.Ticket < d.UpdateOrders[j].Target.Ticket
	})
	sort.Slice(d.UpdatePositions, func(i, j int) bool {
		return d.UpdatePositions[i].Target.Ticket < d.UpdatePositions[j].Target.Ticket
	})
	sort.Slice(d.OrphanOrders, func(i, j int) bool {
		return d.OrphanOrders[i].Ticket < d.OrphanOrders[j].Ticket
	})
	sort.Slice(d.OrphanPositions, func(i, j int) bool {
		return d.OrphanPositions[i].Ticket < d.OrphanPositions[j].Ticket
	})

	return d
}

// orderChanges diffs a source order against the params last applied to its
// copy, falling back to the target's own fields when the relationship is
// unknown (state rebuilt from scratch). Only changed fields are carried so a
// modify never rewrites values that did not move. Price fields are source
// space on both sides; volume is excluded, the copy's size was fixed by the
// lot transform at creation.
func orderChanges(s, t terminal.Order, rel *store.Relationship) terminal.Changes {
	price, sl, tp, expiry := t.Price, t.StopLoss, t.TakeProfit, t.Expiry
	if rel != nil {
		price, sl, tp, expiry = rel.Applied.Price, rel.Applied.StopLoss,
			rel.Applied.TakeProfit, rel.Applied.Expiry
	}

	var ch terminal.Changes
	if !closeEnough(s.Price, price) {
		v := s.Price
		ch.Price = &v
	}
	if !closeEnough(s.StopLoss, sl) {
		v := s.StopLoss
		ch.StopLoss = &v
	}
	if !closeEnough(s.TakeProfit, tp) {
		v := s.TakeProfit
		ch.TakeProfit = &v
	}
	if !s.Expiry.Equal(expiry) {
		v := s.Expiry
		ch.Expiry = &v
	}
	return ch
}

func positionChanges(s, t terminal.Position, rel *store.Relationship) terminal.Changes {
	sl, tp := t.StopLoss, t.TakeProfit
	if rel != nil {
		sl, tp = rel.Applied.StopLoss, rel.Applied.TakeProfit
	}

	var ch terminal.Changes
	if !closeEnough(s.StopLoss, sl) {
		v := s.StopLoss
		ch.StopLoss = &v
	}
	if !closeEnough(s.TakeProfit, tp) {
		v := s.TakeProfit
		ch.TakeProfit = &v
	}
	return ch
}
