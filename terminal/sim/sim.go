// Package sim provides an in-memory Terminal used by the engine tests and the
// demo command. It keeps order and position books keyed by ticket and supports
// fault injection so failure paths can be exercised without a live venue.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/copier/terminal"
)

const defaultLotStep = 0.01

type Terminal struct {
	mu         sync.Mutex
	venue      string
	nextTicket int64
	orders     map[int64]terminal.Order
	positions  map[int64]terminal.Position
	symbols    map[string]float64 // symbol -> lot step

	failCalls      int  // next N calls fail with ErrConnection
	authFail       bool // all calls fail with ErrAuth
	rejectCleanups int  // next N cancel/close calls fail with RejectError
}

func New(venue string) *Terminal {
	return &Terminal{
		venue:      venue,
		nextTicket: 1000,
		orders:     make(map[int64]terminal.Order),
		positions:  make(map[int64]terminal.Position),
		symbols:    make(map[string]float64),
	}
}

// AddSymbol registers a tradable symbol. step <= 0 uses the default 0.01.
func (t *Terminal) AddSymbol(name string, step float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if step <= 0 {
		step = defaultLotStep
	}
	t.symbols[name] = step
}

// SeedOrder installs an order as venue state, assigning a ticket if unset.
func (t *Terminal) SeedOrder(o terminal.Order) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if o.Ticket == 0 {
		o.Ticket = t.allocTicket()
	}
	t.orders[o.Ticket] = o
	return o.Ticket
}

// SeedPosition installs a position as venue state, assigning a ticket if unset.
func (t *Terminal) SeedPosition(p terminal.Position) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p.Ticket == 0 {
		p.Ticket = t.allocTicket()
	}
	t.positions[p.Ticket] = p
	return p.Ticket
}

// RemoveOrder deletes an order without going through CancelOrder, simulating
// a fill or a manual cancellation on the venue.
func (t *Terminal) RemoveOrder(ticket int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.orders, ticket)
}

// Trigger converts a pending order into a position with the same ticket and
// magic, the way a venue fills a pending order once price reaches it.
func (t *Terminal) Trigger(ticket int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.orders[ticket]
	if !ok {
		return fmt.Errorf("trigger: order %d not found", ticket)
	}
	delete(t.orders, ticket)
	side := terminal.Buy
	switch o.Type {
	case terminal.SellLimit, terminal.SellStop, terminal.SellStopLimit:
		side = terminal.Sell
	}
	t.positions[ticket] = terminal.Position{
		Ticket:     ticket,
		Symbol:     o.Symbol,
		Side:       side,
		Volume:     o.Volume,
		OpenPrice:  o.Price,
		StopLoss:   o.StopLoss,
		TakeProfit: o.TakeProfit,
		Magic:      o.Magic,
		OpenTime:   time.Now(),
	}
	return nil
}

// FailNext makes the next n calls fail with ErrConnection.
func (t *Terminal) FailNext(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failCalls = n
}

// RejectCleanups makes the next n CancelOrder/ClosePosition calls fail with a
// RejectError, simulating a venue refusing cleanup.
func (t *Terminal) RejectCleanups(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rejectCleanups = n
}

// SetAuthFailing toggles ErrAuth on every call.
func (t *Terminal) SetAuthFailing(fail bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.authFail = fail
}

func (t *Terminal) allocTicket() int64 {
	t.nextTicket++
	return t.nextTicket
}

func (t *Terminal) gate() error {
	if t.authFail {
		return terminal.ErrAuth
	}
	if t.failCalls > 0 {
		t.failCalls--
		return terminal.ErrConnection
	}
	return nil
}

func (t *Terminal) Venue() string { return t.venue }

func (t *Terminal) ListOrders(ctx context.Context) ([]terminal.Order, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.gate(); err != nil {
		return nil, err
	}
	out := make([]terminal.Order, 0, len(t.orders))
	for _, o := range t.orders {
		out = append(out, o)
	}
	return out, nil
}

func (t *Terminal) ListPositions(ctx context.Context) ([]terminal.Position, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.gate(); err != nil {
		return nil, err
	}
	out := make([]terminal.Position, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, p)
	}
	return out, nil
}

func (t *Terminal) PlaceOrder(ctx context.Context, req terminal.OrderRequest) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.gate(); err != nil {
		return 0, err
	}
	if _, ok := t.symbols[req.Symbol]; !ok {
		return 0, &terminal.RejectError{Reason: fmt.Sprintf("unknown symbol %s", req.Symbol)}
	}
	if req.Volume <= 0 {
		return 0, &terminal.RejectError{Reason: fmt.Sprintf("invalid volume %v", req.Volume)}
	}
	if !req.Type.Valid() {
		return 0, &terminal.RejectError{Reason: fmt.Sprintf("invalid order type %v", req.Type)}
	}
	ticket := t.allocTicket()
	t.orders[ticket] = terminal.Order{
		Ticket:     ticket,
		Symbol:     req.Symbol,
		Type:       req.Type,
		Volume:     req.Volume,
		Price:      req.Price,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Expiry:     req.Expiry,
		Magic:      req.Magic,
		SetupTime:  time.Now(),
	}
	return ticket, nil
}

func (t *Terminal) ModifyOrder(ctx context.Context, ticket int64, ch terminal.Changes) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.gate(); err != nil {
		return err
	}
	o, ok := t.orders[ticket]
	if !ok {
		return &terminal.RejectError{Reason: fmt.Sprintf("order %d not found", ticket)}
	}
	if ch.Volume != nil {
		o.Volume = *ch.Volume
	}
	if ch.Price != nil {
		o.Price = *ch.Price
	}
	if ch.StopLoss != nil {
		o.StopLoss = *ch.StopLoss
	}
	if ch.TakeProfit != nil {
		o.TakeProfit = *ch.TakeProfit
	}
	if ch.Expiry != nil {
		o.Expiry = *ch.Expiry
	}
	t.orders[ticket] = o
	return nil
}

func (t *Terminal) CancelOrder(ctx context.Context, ticket int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.gate(); err != nil {
		return err
	}
	if t.rejectCleanups > 0 {
		t.rejectCleanups--
		return &terminal.RejectError{Reason: "cancel refused"}
	}
	if _, ok := t.orders[ticket]; !ok {
		return &terminal.RejectError{Reason: fmt.Sprintf("order %d not found", ticket)}
	}
	delete(t.orders, ticket)
	return nil
}

func (t *Terminal) ModifyPosition(ctx context.Context, ticket int64, ch terminal.Changes) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.gate(); err != nil {
		return err
	}
	p, ok := t.positions[ticket]
	if !ok {
		return &terminal.RejectError{Reason: fmt.Sprintf("position %d not found", ticket)}
	}
	if ch.StopLoss != nil {
		p.StopLoss = *ch.StopLoss
	}
	if ch.TakeProfit != nil {
		p.TakeProfit = *ch.TakeProfit
	}
	t.positions[ticket] = p
	return nil
}

func (t *Terminal) ClosePosition(ctx context.Context, ticket int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.gate(); err != nil {
		return err
	}
	if t.rejectCleanups > 0 {
		t.rejectCleanups--
		return &terminal.RejectError{Reason: "close refused"}
	}
	if _, ok := t.positions[ticket]; !ok {
		return &terminal.RejectError{Reason: fmt.Sprintf("position %d not found", ticket)}
	}
	delete(t.positions, ticket)
	return nil
}

func (t *Terminal) NormalizeLots(ctx context.Context, symbol string, lots float64) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.gate(); err != nil {
		return 0, err
	}
	step, ok := t.symbols[symbol]
	if !ok {
		return 0, &terminal.RejectError{Reason: fmt.Sprintf("unknown symbol %s", symbol)}
	}
	// Round down to the nearest step multiple so a copy never exceeds the
	// scaled source size.
	d := decimal.NewFromFloat(lots)
	s := decimal.NewFromFloat(step)
	rounded, _ := d.Div(s).Floor().Mul(s).Float64()
	return rounded, nil
}
