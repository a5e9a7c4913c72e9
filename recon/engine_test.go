package recon

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rustyeddy/copier/config"
	"github.com/rustyeddy/copier/store"
	"github.com/rustyeddy/copier/terminal"
	"github.com/rustyeddy/copier/terminal/sim"
)

func newTestLedger(t *testing.T) *store.SQLite {
	t.Helper()
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "state.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func copyTarget() config.TargetConfig {
	tc := config.DefaultTarget()
	tc.Credentials = config.Credentials{Account: "1002", Server: "target-broker"}
	tc.LotMultiplier = 0.5
	tc.SymbolMapping = map[string]string{"EURUSD": "EURUSD.x"}
	tc.OrphanPolicy = config.OrphanPolicy{Act: true, ThresholdRuns: 3}
	return tc
}

// fixture wires one source and one target around a fresh ledger.
type fixture struct {
	source *sim.Terminal
	target *sim.Terminal
	ledger *store.SQLite
	engine *Engine
}

func newFixture(t *testing.T, tc config.TargetConfig) *fixture {
	t.Helper()
	source := sim.New("source")
	source.AddSymbol("EURUSD", 0.01)
	target := sim.New("t1")
	target.AddSymbol("EURUSD.x", 0.01)
	ledger := newTestLedger(t)
	eng := New(source, []Target{{Name: "t1", Terminal: target, Config: tc}}, ledger, zap.NewNop())
	return &fixture{source: source, target: target, ledger: ledger, engine: eng}
}

func (f *fixture) targetOrderByTag(t *testing.T, tag int64) (terminal.Order, bool) {
	t.Helper()
	orders, err := f.target.ListOrders(context.Background())
	require.NoError(t, err)
	for _, o := range orders {
		if o.Magic == tag {
			return o, true
		}
	}
	return terminal.Order{}, false
}

func TestEngineCreatesCopy(t *testing.T) {
	t.Parallel()

	f := newFixture(t, copyTarget())
	f.source.SeedOrder(srcOrder(100))

	rep, err := f.engine.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, rep.Targets, 1)
	assert.Equal(t, 1, rep.Targets[0].Created)
	assert.False(t, rep.Targets[0].Failed)

	o, ok := f.targetOrderByTag(t, 100)
	require.True(t, ok, "copy must carry the source ticket as magic")
	assert.Equal(t, "EURUSD.x", o.Symbol)
	assert.Equal(t, 0.5, o.Volume)
	assert.Equal(t, 1.0850, o.Price)

	state, err := f.ledger.Snapshot()
	require.NoError(t, err)
	rel := state["t1"][100]
	require.NotNil(t, rel)
	assert.Equal(t, store.StatePending, rel.State)
	assert.Equal(t, store.KindOrder, rel.Kind)
	assert.Equal(t, o.Ticket, rel.TargetTicket)
	assert.Equal(t, 1.0, rel.Applied.Volume, "fingerprint is source space")
	assert.NotEmpty(t, rel.LastRunID)
}

func TestEngineSecondRunIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, copyTarget())
	f.source.SeedOrder(srcOrder(100))
	ctx := context.Background()

	_, err := f.engine.Run(ctx)
	require.NoError(t, err)
	rep, err := f.engine.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, rep.Targets[0].Created)
	assert.Equal(t, 0, rep.Targets[0].Updated)
	orders, err := f.target.ListOrders(ctx)
	require.NoError(t, err)
	assert.Len(t, orders, 1, "no duplicate copy")
}

func TestEnginePropagatesOrderChange(t *testing.T) {
	t.Parallel()

	f := newFixture(t, copyTarget())
	f.source.SeedOrder(srcOrder(100))
	ctx := context.Background()

	_, err := f.engine.Run(ctx)
	require.NoError(t, err)

	sl := 1.0800
	require.NoError(t, f.source.ModifyOrder(ctx, 100, terminal.Changes{StopLoss: &sl}))

	rep, err := f.engine.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Targets[0].Updated)
	o, ok := f.targetOrderByTag(t, 100)
	require.True(t, ok)
	assert.Equal(t, 1.0800, o.StopLoss)
	assert.Equal(t, 0.5, o.Volume, "modify must not touch the copy's size")
}

func TestEngineOrphanHysteresis(t *testing.T) {
	t.Parallel()

	f := newFixture(t, copyTarget()) // act, threshold 3
	f.source.SeedOrder(srcOrder(100))
	ctx := context.Background()

	_, err := f.engine.Run(ctx)
	require.NoError(t, err)
	f.source.RemoveOrder(100)

	// Misses one and two only flag.
	for i := 1; i <= 2; i++ {
		rep, err := f.engine.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, rep.Targets[0].OrphansFlagged, "miss %d", i)
		assert.Equal(t, 0, rep.Targets[0].OrphansCleared)

		state, err := f.ledger.Snapshot()
		require.NoError(t, err)
		rel := state["t1"][100]
		require.NotNil(t, rel)
		assert.Equal(t, i, rel.MissingRuns)
		assert.Equal(t, store.StateOrphanSuspected, rel.State)
	}
	_, ok := f.targetOrderByTag(t, 100)
	assert.True(t, ok, "copy survives until the threshold")

	// Third consecutive miss crosses the threshold.
	rep, err := f.engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Targets[0].OrphansCleared)

	_, ok = f.targetOrderByTag(t, 100)
	assert.False(t, ok, "copy cancelled")
	state, err := f.ledger.Snapshot()
	require.NoError(t, err)
	assert.Nil(t, state["t1"][100], "closed relationship pruned on write")
}

func TestEngineReappearanceResetsCounter(t *testing.T) {
	t.Parallel()

	f := newFixture(t, copyTarget())
	f.source.SeedOrder(srcOrder(100))
	ctx := context.Background()

	_, err := f.engine.Run(ctx)
	require.NoError(t, err)

	f.source.RemoveOrder(100)
	rep, err := f.engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Targets[0].OrphansFlagged)

	// The source order comes back before the streak completes.
	f.source.SeedOrder(srcOrder(100))
	rep, err = f.engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Targets[0].OrphansFlagged)
	assert.Equal(t, 0, rep.Targets[0].Created, "existing copy is not re-created")

	state, err := f.ledger.Snapshot()
	require.NoError(t, err)
	rel := state["t1"][100]
	require.NotNil(t, rel)
	assert.Equal(t, 0, rel.MissingRuns)
	assert.Equal(t, store.StatePending, rel.State)
}

func TestEngineReportOnlyPolicy(t *testing.T) {
	t.Parallel()

	tc := copyTarget()
	tc.OrphanPolicy = config.OrphanPolicy{Act: false, ThresholdRuns: 2}
	f := newFixture(t, tc)
	f.source.SeedOrder(srcOrder(100))
	ctx := context.Background()

	_, err := f.engine.Run(ctx)
	require.NoError(t, err)
	f.source.RemoveOrder(100)

	for i := 0; i < 5; i++ {
		rep, err := f.engine.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, rep.Targets[0].OrphansFlagged)
		assert.Equal(t, 0, rep.Targets[0].OrphansCleared)
	}
	_, ok := f.targetOrderByTag(t, 100)
	assert.True(t, ok, "report-only policy never touches the copy")
}

func TestEngineCleanupRejectRetries(t *testing.T) {
	t.Parallel()

	tc := copyTarget()
	tc.OrphanPolicy = config.OrphanPolicy{Act: true, ThresholdRuns: 1}
	f := newFixture(t, tc)
	f.source.SeedOrder(srcOrder(100))
	ctx := context.Background()

	_, err := f.engine.Run(ctx)
	require.NoError(t, err)
	f.source.RemoveOrder(100)
	f.target.RejectCleanups(1)

	rep, err := f.engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Targets[0].OrphansCleared)
	assert.NotEmpty(t, rep.Targets[0].Errors)
	_, ok := f.targetOrderByTag(t, 100)
	assert.True(t, ok, "refused cleanup leaves the copy in place")

	// The threshold stays satisfied, so the next run retries and succeeds.
	rep, err = f.engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Targets[0].OrphansCleared)
	_, ok = f.targetOrderByTag(t, 100)
	assert.False(t, ok)
}

func TestEngineTriggerFollowsPosition(t *testing.T) {
	t.Parallel()

	f := newFixture(t, copyTarget())
	f.source.SeedOrder(srcOrder(100))
	ctx := context.Background()

	_, err := f.engine.Run(ctx)
	require.NoError(t, err)
	copyOrder, ok := f.targetOrderByTag(t, 100)
	require.True(t, ok)

	// Both books trigger; the tag moves kinds, nothing is orphaned.
	require.NoError(t, f.source.Trigger(100))
	require.NoError(t, f.target.Trigger(copyOrder.Ticket))

	rep, err := f.engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Targets[0].OrphansFlagged)
	assert.Equal(t, 0, rep.Targets[0].Created)

	state, err := f.ledger.Snapshot()
	require.NoError(t, err)
	rel := state["t1"][100]
	require.NotNil(t, rel)
	assert.Equal(t, store.KindPosition, rel.Kind)
	assert.Equal(t, store.StateActive, rel.State)

	// A stop-loss set on the source position reaches the copy.
	sl := 1.0700
	require.NoError(t, f.source.ModifyPosition(ctx, 100, terminal.Changes{StopLoss: &sl}))
	rep, err = f.engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Targets[0].Updated)

	positions, err := f.target.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 1.0700, positions[0].StopLoss)
}

func TestEngineMaxPendingOrders(t *testing.T) {
	t.Parallel()

	tc := copyTarget()
	tc.MaxPendingOrders = config.MaxPendingOrders{Enabled: true, Limit: 1}
	f := newFixture(t, tc)
	f.source.SeedOrder(srcOrder(100))
	f.source.SeedOrder(srcOrder(101))

	rep, err := f.engine.Run(context.Background())
	require.NoError(t, err)

	// Same-run creates count against the cap, so only the first fits.
	assert.Equal(t, 1, rep.Targets[0].Created)
	require.Len(t, rep.Targets[0].Rejections, 1)
	assert.Equal(t, "MAX_PENDING_ORDERS", rep.Targets[0].Rejections[0].Code)
	assert.Equal(t, int64(101), rep.Targets[0].Rejections[0].Tag)
}

func TestEngineVenueRejectRecorded(t *testing.T) {
	t.Parallel()

	tc := copyTarget()
	tc.SymbolMapping = nil // passthrough EURUSD, unknown on the target
	f := newFixture(t, tc)
	f.source.SeedOrder(srcOrder(100))

	rep, err := f.engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, rep.Targets[0].Created)
	require.Len(t, rep.Targets[0].Rejections, 1)
	assert.Equal(t, CodeVenueReject, rep.Targets[0].Rejections[0].Code)
	assert.False(t, rep.Targets[0].Failed, "a reject is not a target failure")
}

func TestEngineTargetIsolation(t *testing.T) {
	t.Parallel()

	source := sim.New("source")
	source.AddSymbol("EURUSD", 0.01)
	source.SeedOrder(srcOrder(100))

	flaky := sim.New("a-flaky")
	healthy := sim.New("b-healthy")
	healthy.AddSymbol("EURUSD.x", 0.01)
	flaky.FailNext(10)

	ledger := newTestLedger(t)
	eng := New(source, []Target{
		{Name: "a-flaky", Terminal: flaky, Config: copyTarget()},
		{Name: "b-healthy", Terminal: healthy, Config: copyTarget()},
	}, ledger, zap.NewNop())

	rep, err := eng.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, rep.Targets, 2)
	assert.True(t, rep.Targets[0].Failed, "unreachable target recorded as failed")
	assert.True(t, rep.Failed())
	assert.False(t, rep.Targets[1].Failed, "later target still processed")
	assert.Equal(t, 1, rep.Targets[1].Created)
}

func TestEngineAuthFailureAbortsTarget(t *testing.T) {
	t.Parallel()

	f := newFixture(t, copyTarget())
	f.source.SeedOrder(srcOrder(100))
	f.target.SetAuthFailing(true)

	rep, err := f.engine.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, rep.Targets[0].Failed)
	assert.Equal(t, 0, rep.Targets[0].Created)
}

func TestEngineUnreachableSourceAbortsRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t, copyTarget())
	f.source.FailNext(10)

	_, err := f.engine.Run(context.Background())
	assert.ErrorIs(t, err, terminal.ErrConnection)
}

func TestEngineCopyVanishedRecreatesNextRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t, copyTarget())
	f.source.SeedOrder(srcOrder(100))
	ctx := context.Background()

	_, err := f.engine.Run(ctx)
	require.NoError(t, err)
	copyOrder, ok := f.targetOrderByTag(t, 100)
	require.True(t, ok)

	// Someone cancels the copy on the target while the source stays live.
	f.target.RemoveOrder(copyOrder.Ticket)

	rep, err := f.engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Targets[0].Created, "closing run only retires the relationship")

	rep, err = f.engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Targets[0].Created, "fresh copy on the following run")
}
