package terminal

import (
	"fmt"
	"time"
)

// OrderType is one of the six pending order variants. The numeric values are
// the MT5 wire codes, which start at 2 (0 and 1 are market buy/sell).
type OrderType int

const (
	BuyLimit OrderType = iota + 2
	SellLimit
	BuyStop
	SellStop
	BuyStopLimit
	SellStopLimit
)

var orderTypeNames = map[OrderType]string{
	BuyLimit:      "BUY_LIMIT",
	SellLimit:     "SELL_LIMIT",
	BuyStop:       "BUY_STOP",
	SellStop:      "SELL_STOP",
	BuyStopLimit:  "BUY_STOP_LIMIT",
	SellStopLimit: "SELL_STOP_LIMIT",
}

func (t OrderType) String() string {
	if name, ok := orderTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN_%d", int(t))
}

func (t OrderType) Valid() bool {
	_, ok := orderTypeNames[t]
	return ok
}

// ParseOrderType converts a config-style name ("BUY_LIMIT", ...) to its code.
func ParseOrderType(name string) (OrderType, error) {
	for t, n := range orderTypeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown order type %q", name)
}

// Order is a pending order as reported by a terminal. On a target venue Magic
// carries the originating source ticket; on the source venue Magic is zero.
// Tickets are venue-native and may be reused after closure.
type Order struct {
	Ticket     int64
	Symbol     string
	Type       OrderType
	Volume     float64
	Price      float64
	StopLoss   float64
	TakeProfit float64
	Expiry     time.Time // zero value means good-till-cancelled
	Magic      int64
	SetupTime  time.Time
}

// Side of a position.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Sell {
		return "SELL"
	}
	return "BUY"
}

// Position is an open position. A position that resulted from a copied pending
// order keeps the order's Magic, which is how it stays correlated after the
// trigger.
type Position struct {
	Ticket     int64
	Symbol     string
	Side       Side
	Volume     float64
	OpenPrice  float64
	StopLoss   float64
	TakeProfit float64
	Magic      int64
	OpenTime   time.Time
}

// Snapshot is one poll of a terminal: all pending orders and open positions at
// a single moment. Snapshots are read-only once taken.
type Snapshot struct {
	Orders    []Order
	Positions []Position
}

// OrderRequest describes a pending order to place on a target venue.
type OrderRequest struct {
	Symbol     string
	Type       OrderType
	Volume     float64
	Price      float64
	StopLoss   float64
	TakeProfit float64
	Expiry     time.Time
	Magic      int64
	Comment    string
}

// Changes is a partial modification of an order or position. Nil fields are
// left untouched on the venue.
type Changes struct {
	Volume     *float64
	Price      *float64
	StopLoss   *float64
	TakeProfit *float64
	Expiry     *time.Time
}

func (c Changes) Empty() bool {
	return c.Volume == nil && c.Price == nil && c.StopLoss == nil &&
		c.TakeProfit == nil && c.Expiry == nil
}
