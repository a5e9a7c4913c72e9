// Package rules is the per-target admission control for a proposed copy. It is
// a pure decision layer: it never talks to a venue except through the narrow
// LotRounder collaborator, and it performs no submissions itself.
package rules

import (
	"fmt"

	"github.com/rustyeddy/copier/config"
	"github.com/rustyeddy/copier/terminal"
)

// Rejection codes surfaced in run reports.
const (
	CodeTypeNotAllowed = "TYPE_NOT_ALLOWED"
	CodeLotNotPositive = "LOT_NOT_POSITIVE"
	CodeLotStep        = "LOT_STEP"
	CodeMaxPendingHit  = "MAX_PENDING_ORDERS"
)

// LotRounder rounds a lot size to the venue's step for a symbol. Rounding is a
// venue capability, not something the pipeline implements; the engine passes
// an adapter over the target's gateway.
type LotRounder interface {
	RoundLot(symbol string, lots float64) (float64, error)
}

// Decision is the outcome of running one candidate through the pipeline.
type Decision struct {
	Accepted bool
	Code     string // rejection code, empty when accepted
	Reason   string

	// Order is the translated request, populated when accepted.
	Order terminal.OrderRequest

	// SymbolMapped is false when the symbol passed through untranslated;
	// such candidates rely on the gateway's availability check at submit.
	SymbolMapped bool
}

func rejected(code, format string, args ...any) Decision {
	return Decision{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// AdmitCreate runs the full ordered pipeline for a new copy: order-type
// allow-list, symbol translation, lot transform, pending-order cardinality.
// Stages short-circuit on the first rejection. pendingCount is the target's
// current pending order count including copies created earlier in the run.
func AdmitCreate(o terminal.Order, cfg config.TargetConfig, pendingCount int, rounder LotRounder) Decision {
	if !cfg.AllowsType(o.Type) {
		return rejected(CodeTypeNotAllowed, "order type %s not allowed", o.Type)
	}

	symbol, mapped := cfg.MapSymbol(o.Symbol)

	lots := lotSize(o.Volume, cfg.LotMultiplier, cfg.MinLot, cfg.MaxLot)
	if lots <= 0 {
		return rejected(CodeLotNotPositive, "scaled lot %v is not positive", lots)
	}
	lots, err := rounder.RoundLot(symbol, lots)
	if err != nil {
		return rejected(CodeLotStep, "round lot for %s: %v", symbol, err)
	}
	if lots <= 0 {
		return rejected(CodeLotNotPositive, "lot rounds to %v on %s", lots, symbol)
	}

	if cfg.MaxPendingOrders.Enabled && pendingCount >= cfg.MaxPendingOrders.Limit {
		return rejected(CodeMaxPendingHit, "target has %d pending orders, limit %d",
			pendingCount, cfg.MaxPendingOrders.Limit)
	}

	return Decision{
		Accepted:     true,
		SymbolMapped: mapped,
		Order: terminal.OrderRequest{
			Symbol:     symbol,
			Type:       o.Type,
			Volume:     lots,
			Price:      o.Price,
			StopLoss:   o.StopLoss,
			TakeProfit: o.TakeProfit,
			Expiry:     o.Expiry,
			Magic:      o.Ticket,
			Comment:    fmt.Sprintf("copied from %d", o.Ticket),
		},
	}
}

// AdmitUpdate gates a modification of an existing copy. Only the order-type
// allow-list applies: the symbol and size were fixed at creation, and the
// cardinality cap governs creation only. Positions are always managed once
// tracked and pass unconditionally.
func AdmitUpdate(kind terminal.OrderType, isPosition bool, cfg config.TargetConfig) Decision {
	if isPosition {
		return Decision{Accepted: true}
	}
	if !cfg.AllowsType(kind) {
		return rejected(CodeTypeNotAllowed, "order type %s not allowed", kind)
	}
	return Decision{Accepted: true}
}
