package recon

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rustyeddy/copier/config"
	"github.com/rustyeddy/copier/store"
)

func TestOrphanMissingBelowThreshold(t *testing.T) {
	t.Parallel()

	oe := orphanEngine{policy: config.OrphanPolicy{Act: true, ThresholdRuns: 3}}
	rel := &store.Relationship{Tag: 100, Kind: store.KindOrder, State: store.StatePending}

	assert.Equal(t, OrphanFlagged, oe.missing(rel))
	assert.Equal(t, 1, rel.MissingRuns)
	assert.Equal(t, store.StateOrphanSuspected, rel.State)

	assert.Equal(t, OrphanFlagged, oe.missing(rel))
	assert.Equal(t, 2, rel.MissingRuns)
}

func TestOrphanCleanupAtThreshold(t *testing.T) {
	t.Parallel()

	oe := orphanEngine{policy: config.OrphanPolicy{Act: true, ThresholdRuns: 3}}
	rel := &store.Relationship{Tag: 100, State: store.StateOrphanSuspected, MissingRuns: 2}

	assert.Equal(t, OrphanCleanup, oe.missing(rel))
	assert.Equal(t, 3, rel.MissingRuns)
}

func TestOrphanNeverActsWhenPolicyDisabled(t *testing.T) {
	t.Parallel()

	oe := orphanEngine{policy: config.OrphanPolicy{Act: false, ThresholdRuns: 1}}
	rel := &store.Relationship{Tag: 100, State: store.StateActive}

	for i := 0; i < 10; i++ {
		assert.Equal(t, OrphanFlagged, oe.missing(rel))
	}
	assert.Equal(t, 10, rel.MissingRuns, "counter keeps advancing for reporting")
	assert.Equal(t, store.StateOrphanSuspected, rel.State)
}

func TestOrphanThresholdOne(t *testing.T) {
	t.Parallel()

	oe := orphanEngine{policy: config.OrphanPolicy{Act: true, ThresholdRuns: 1}}
	rel := &store.Relationship{Tag: 100, State: store.StatePending}

	assert.Equal(t, OrphanCleanup, oe.missing(rel), "first miss already meets threshold")
}

func TestSeenResetsSuspicion(t *testing.T) {
	t.Parallel()

	rel := &store.Relationship{
		Tag:         100,
		Kind:        store.KindOrder,
		State:       store.StateOrphanSuspected,
		MissingRuns: 2,
	}

	seen(rel, false)
	assert.Equal(t, 0, rel.MissingRuns)
	assert.Equal(t, store.StatePending, rel.State)
	assert.Equal(t, store.KindOrder, rel.Kind)
}

func TestSeenFollowsTrigger(t *testing.T) {
	t.Parallel()

	rel := &store.Relationship{Tag: 100, Kind: store.KindOrder, State: store.StatePending}

	seen(rel, true)
	assert.Equal(t, store.KindPosition, rel.Kind)
	assert.Equal(t, store.StateActive, rel.State)
}
