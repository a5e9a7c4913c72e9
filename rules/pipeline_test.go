package rules

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rustyeddy/copier/config"
	"github.com/rustyeddy/copier/terminal"
)

// stubRounder stands in for the venue's lot-step capability.
type stubRounder struct {
	result float64
	err    error
	exact  bool // return the input unchanged
}

func (r stubRounder) RoundLot(symbol string, lots float64) (float64, error) {
	if r.err != nil {
		return 0, r.err
	}
	if r.exact {
		return lots, nil
	}
	return r.result, nil
}

func testTarget() config.TargetConfig {
	return config.TargetConfig{
		LotMultiplier:     0.5,
		MinLot:            0.01,
		MaxLot:            100.0,
		AllowedOrderTypes: []string{"BUY_LIMIT"},
	}
}

func limitOrder() terminal.Order {
	return terminal.Order{
		Ticket: 100,
		Symbol: "EURUSD",
		Type:   terminal.BuyLimit,
		Volume: 1.0,
		Price:  1.0850,
	}
}

func TestAdmitCreateScalesAndTags(t *testing.T) {
	t.Parallel()

	dec := AdmitCreate(limitOrder(), testTarget(), 0, stubRounder{exact: true})

	assert.True(t, dec.Accepted)
	assert.Equal(t, int64(100), dec.Order.Magic)
	assert.Equal(t, 0.5, dec.Order.Volume)
	assert.Equal(t, "EURUSD", dec.Order.Symbol)
	assert.False(t, dec.SymbolMapped, "no mapping entry means passthrough")
	assert.Equal(t, 1.0850, dec.Order.Price)
}

func TestAdmitCreateTypeFilter(t *testing.T) {
	t.Parallel()

	o := limitOrder()
	o.Type = terminal.SellStop

	dec := AdmitCreate(o, testTarget(), 0, stubRounder{exact: true})

	assert.False(t, dec.Accepted)
	assert.Equal(t, CodeTypeNotAllowed, dec.Code)
}

func TestAdmitCreateSymbolMapping(t *testing.T) {
	t.Parallel()

	cfg := testTarget()
	cfg.SymbolMapping = map[string]string{"EURUSD": "EURUSD.x"}

	dec := AdmitCreate(limitOrder(), cfg, 0, stubRounder{exact: true})

	assert.True(t, dec.Accepted)
	assert.True(t, dec.SymbolMapped)
	assert.Equal(t, "EURUSD.x", dec.Order.Symbol)
}

func TestAdmitCreateLotClamp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		volume     float64
		multiplier float64
		min, max   float64
		want       float64
	}{
		{"scaled", 1.0, 0.5, 0.01, 100, 0.5},
		{"clamped to max", 10, 2.0, 0.01, 1.0, 1.0},
		{"clamped to min", 0.02, 0.1, 0.01, 100, 0.01},
		{"exact tenth", 0.3, 0.1, 0.01, 100, 0.03},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testTarget()
			cfg.LotMultiplier = tt.multiplier
			cfg.MinLot = tt.min
			cfg.MaxLot = tt.max
			o := limitOrder()
			o.Volume = tt.volume

			dec := AdmitCreate(o, cfg, 0, stubRounder{exact: true})

			assert.True(t, dec.Accepted)
			assert.Equal(t, tt.want, dec.Order.Volume)
		})
	}
}

func TestAdmitCreateLotRoundsToZero(t *testing.T) {
	t.Parallel()

	// The venue's step rounding can floor a small lot to zero; such a
	// candidate must be rejected, never submitted.
	dec := AdmitCreate(limitOrder(), testTarget(), 0, stubRounder{result: 0})

	assert.False(t, dec.Accepted)
	assert.Equal(t, CodeLotNotPositive, dec.Code)
}

func TestAdmitCreateRounderFailure(t *testing.T) {
	t.Parallel()

	dec := AdmitCreate(limitOrder(), testTarget(), 0,
		stubRounder{err: errors.New("unknown symbol")})

	assert.False(t, dec.Accepted)
	assert.Equal(t, CodeLotStep, dec.Code)
}

func TestAdmitCreateCardinality(t *testing.T) {
	t.Parallel()

	cfg := testTarget()
	cfg.MaxPendingOrders = config.MaxPendingOrders{Enabled: true, Limit: 50}

	dec := AdmitCreate(limitOrder(), cfg, 50, stubRounder{exact: true})
	assert.False(t, dec.Accepted)
	assert.Equal(t, CodeMaxPendingHit, dec.Code)

	dec = AdmitCreate(limitOrder(), cfg, 49, stubRounder{exact: true})
	assert.True(t, dec.Accepted)
}

func TestAdmitCreateCardinalityDisabled(t *testing.T) {
	t.Parallel()

	cfg := testTarget()
	cfg.MaxPendingOrders = config.MaxPendingOrders{Enabled: false, Limit: 1}

	dec := AdmitCreate(limitOrder(), cfg, 500, stubRounder{exact: true})
	assert.True(t, dec.Accepted)
}

func TestAdmitUpdate(t *testing.T) {
	t.Parallel()

	cfg := testTarget()

	assert.True(t, AdmitUpdate(terminal.BuyLimit, false, cfg).Accepted)
	assert.False(t, AdmitUpdate(terminal.SellStop, false, cfg).Accepted)
	// Positions are never type-filtered once tracked.
	assert.True(t, AdmitUpdate(terminal.SellStop, true, cfg).Accepted)
}

func TestLotSizeExactArithmetic(t *testing.T) {
	t.Parallel()

	// 0.1 * 3 in binary floats is 0.30000000000000004; the pipeline must
	// produce the exact decimal product.
	assert.Equal(t, 0.3, lotSize(3, 0.1, 0.01, 100))
}
