// Package terminal defines the gateway contract to a single trading venue and
// the order/position model shared by the reconciliation engine. Concrete
// connectors (live venue sessions) implement Terminal; this repository ships
// an in-memory implementation under terminal/sim.
package terminal

import "context"

// Terminal is one venue session. Implementations own connection lifecycle,
// venue-native identifiers and retry-free I/O; retries are layered on with
// WithRetry. A session is a stateful, exclusive resource: callers must not
// issue concurrent calls on the same Terminal.
type Terminal interface {
	// Venue returns the configured name of this terminal, used as the key
	// for tracked relationships.
	Venue() string

	ListOrders(ctx context.Context) ([]Order, error)
	ListPositions(ctx context.Context) ([]Position, error)

	// PlaceOrder submits a pending order and returns the venue-assigned
	// ticket. Invalid symbol, invalid lot and disabled trading surface as
	// *RejectError.
	PlaceOrder(ctx context.Context, req OrderRequest) (int64, error)
	ModifyOrder(ctx context.Context, ticket int64, ch Changes) error
	CancelOrder(ctx context.Context, ticket int64) error

	ModifyPosition(ctx context.Context, ticket int64, ch Changes) error
	ClosePosition(ctx context.Context, ticket int64) error

	// NormalizeLots rounds a lot size to the venue's step for the given
	// symbol. An unknown symbol surfaces as *RejectError so that unmapped
	// passthrough symbols fail here rather than at submission.
	NormalizeLots(ctx context.Context, symbol string, lots float64) (float64, error)
}
