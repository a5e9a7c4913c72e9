package recon

import (
	"github.com/rustyeddy/copier/config"
	"github.com/rustyeddy/copier/store"
)

// OrphanDecision is what a run does about one orphaned target entity.
type OrphanDecision int

const (
	// OrphanFlagged: counted and reported, no venue operation this run.
	OrphanFlagged OrphanDecision = iota
	// OrphanCleanup: the confirmation threshold is met and the policy says
	// act; cancel the order or close the position.
	OrphanCleanup
)

// orphanEngine applies one target's orphan policy. Each run is a single noisy
// snapshot, so a tag must stay missing for ThresholdRuns consecutive polls
// before cleanup fires; a single dropped poll or transient disconnect clears
// without any action.
type orphanEngine struct {
	policy config.OrphanPolicy
}

// missing records one more poll without the source id and decides the action.
// The relationship moves to orphan-suspected on the first miss; the counter
// never decreases while the streak holds.
func (e orphanEngine) missing(rel *store.Relationship) OrphanDecision {
	rel.MissingRuns++
	if rel.State == store.StatePending || rel.State == store.StateActive {
		rel.State = store.StateOrphanSuspected
	}
	if e.policy.Act && rel.MissingRuns >= e.policy.ThresholdRuns {
		return OrphanCleanup
	}
	return OrphanFlagged
}

// seen clears suspicion the instant the source id is observed again, even mid
// streak. The relationship returns to pending or active depending on the
// current shape of the target copy.
func seen(rel *store.Relationship, isPosition bool) {
	rel.MissingRuns = 0
	if isPosition {
		rel.Kind = store.KindPosition
		rel.State = store.StateActive
	} else {
		rel.Kind = store.KindOrder
		rel.State = store.StatePending
	}
}
