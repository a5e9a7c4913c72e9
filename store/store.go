// Package store persists tracked source→target relationships between runs.
// The ledger is the only durable state the copier owns; everything else is
// re-derived from fresh terminal snapshots each run.
package store

import (
	"errors"
	"time"
)

// ErrCorrupt reports an unreadable or schema-mismatched state database. It is
// fatal for a run: the engine refuses to proceed rather than guess at tracked
// relationships.
var ErrCorrupt = errors.New("store: state corrupt")

// State is the lifecycle of a tracked relationship.
type State string

const (
	StatePending         State = "pending"          // target copy is a pending order
	StateActive          State = "active"           // target copy triggered into a position
	StateOrphanSuspected State = "orphan_suspected" // source id missing from the last snapshot
	StateClosed          State = "closed"           // target entity removed; row is pruned
)

// Kind distinguishes the current shape of the tracked target entity. A
// relationship transitions kind when its pending order triggers.
type Kind string

const (
	KindOrder    Kind = "order"
	KindPosition Kind = "position"
)

// AppliedParams is the source-space fingerprint of the values last pushed to
// the target. The matcher diffs fresh source snapshots against these fields;
// volume is recorded pre-multiplier so scaling never masks a source change.
type AppliedParams struct {
	Volume     float64
	Price      float64
	StopLoss   float64
	TakeProfit float64
	Expiry     time.Time
}

// Relationship tracks one source entity's copy on one target venue. For any
// venue at most one non-closed relationship exists per tag; closed rows are
// pruned on write, so the (venue, tag) primary key enforces the invariant.
type Relationship struct {
	Venue        string
	Tag          int64 // source ticket, carried as magic on the copy
	Kind         Kind
	State        State
	TargetTicket int64
	MissingRuns  int // consecutive runs the source id was absent
	Applied      AppliedParams
	LastRunID    string
	UpdatedAt    time.Time
}

// Store is the durable relationship ledger. Snapshot is read once per run
// before any mutating operation; ReplaceVenue commits one venue's rows
// atomically after that venue's operations have been applied.
type Store interface {
	Snapshot() (map[string]map[int64]*Relationship, error)
	ReplaceVenue(venue string, rels []*Relationship) error
	PruneVenues(active []string) error
	Close() error
}
