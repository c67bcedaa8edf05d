package roster

import (
	"errors"
	"sort"
	"sync"

	"github.com/thebakerswow/thebakers-front-sub000/internal/models"
)

// ErrRunLocked rejects roster mutations while the run is locked. Reads stay
// permitted.
var ErrRunLocked = errors.New("run is locked")

// TieBreak selects how buyers with equal status priority are ordered.
type TieBreak int

const (
	// TieArrival keeps the order buyers arrived in the source list.
	TieArrival TieBreak = iota
	// TiePaidFirst orders paid buyers ahead of unpaid within the same
	// status, falling back to arrival order. Used by the payment view.
	TiePaidFirst
)

// Snapshot is a consistent view of the roster: the sorted buyer list and the
// aggregates derived from exactly that list.
type Snapshot struct {
	Buyers         []models.Buyer
	Backups        int
	SlotsAvailable int
	PaidPot        int64
}

// Engine owns the in-memory roster of one run. All mutations recompute the
// sort order and aggregates before returning, so callers never observe a
// roster and aggregates from different generations.
type Engine struct {
	mu       sync.Mutex
	run      models.Run
	buyers   []models.Buyer
	policy   TieBreak
	revision int64
}

func NewEngine(run models.Run, buyers []models.Buyer, policy TieBreak) *Engine {
	e := &Engine{run: run, policy: policy}
	e.buyers = make([]models.Buyer, len(buyers))
	copy(e.buyers, buyers)
	e.sortLocked()
	return e
}

// Policy reports which tie-break ordering this engine applies.
func (e *Engine) Policy() TieBreak {
	return e.policy
}

// Run returns the owning run as last seen.
func (e *Engine) Run() models.Run {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run
}

// Leaders returns the current raid-leader set for tagging.
func (e *Engine) Leaders() []models.RaidLeader {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.RaidLeader, len(e.run.RaidLeaders))
	copy(out, e.run.RaidLeaders)
	return out
}

// SetLocked flips the run's lock flag. Locking is itself not a roster
// mutation, so it is permitted at any time.
func (e *Engine) SetLocked(locked bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.run.IsLocked = locked
}

// SetStatus updates one buyer's status and returns the recomputed snapshot.
// An unknown buyer id is a no-op returning the unchanged snapshot: a
// concurrent deletion may already have removed the buyer.
func (e *Engine) SetStatus(buyerID uint, status string) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.run.IsLocked {
		return e.snapshotLocked(), ErrRunLocked
	}
	for i := range e.buyers {
		if e.buyers[i].ID == buyerID {
			e.revision++
			e.buyers[i].Status = status
			e.buyers[i].Revision = e.revision
			e.sortLocked()
			break
		}
	}
	return e.snapshotLocked(), nil
}

// SetPaid toggles one buyer's paid flag. Status drives the sort order, so
// the roster is only re-sorted under the paid-first policy where the flag
// participates in the tie-break.
func (e *Engine) SetPaid(buyerID uint, paid bool) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.run.IsLocked {
		return e.snapshotLocked(), ErrRunLocked
	}
	for i := range e.buyers {
		if e.buyers[i].ID == buyerID {
			e.revision++
			e.buyers[i].Paid = paid
			e.buyers[i].Revision = e.revision
			if e.policy == TiePaidFirst {
				e.sortLocked()
			}
			break
		}
	}
	return e.snapshotLocked(), nil
}

// RollbackStatus undoes a failed optimistic status edit, but only while the
// buyer's revision still equals the one that edit produced. A newer local
// edit supersedes the failed one and must not be reverted. The buyer returns
// to server ownership either way the next time it is touched by a poll.
func (e *Engine) RollbackStatus(buyerID uint, status string, revision int64) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.buyers {
		if e.buyers[i].ID == buyerID && e.buyers[i].Revision == revision {
			e.buyers[i].Status = status
			e.buyers[i].Revision = 0
			e.sortLocked()
			break
		}
	}
	return e.snapshotLocked()
}

// RollbackPaid is the paid-flag counterpart of RollbackStatus.
func (e *Engine) RollbackPaid(buyerID uint, paid bool, revision int64) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.buyers {
		if e.buyers[i].ID == buyerID && e.buyers[i].Revision == revision {
			e.buyers[i].Paid = paid
			e.buyers[i].Revision = 0
			if e.policy == TiePaidFirst {
				e.sortLocked()
			}
			break
		}
	}
	return e.snapshotLocked()
}

// AckPersisted clears a buyer's optimistic revision once the backend has
// confirmed the write, provided no newer local edit landed in the meantime.
// From then on polled values own the buyer's fields again.
func (e *Engine) AckPersisted(buyerID uint, revision int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.buyers {
		if e.buyers[i].ID == buyerID && e.buyers[i].Revision == revision {
			e.buyers[i].Revision = 0
			return
		}
	}
}

// Snapshot returns the current sorted roster and aggregates without
// mutating anything.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// ReplaceAll reconciles a fresh backend poll against the working set. A
// polled buyer only overwrites the local one when the local copy carries no
// newer optimistic edit: local revisions strictly greater than the incoming
// one keep their status and paid flag until the backend catches up.
func (e *Engine) ReplaceAll(run models.Run, polled []models.Buyer) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	local := make(map[uint]models.Buyer, len(e.buyers))
	for _, b := range e.buyers {
		local[b.ID] = b
	}

	next := make([]models.Buyer, len(polled))
	copy(next, polled)
	for i := range next {
		if prev, ok := local[next[i].ID]; ok && prev.Revision > next[i].Revision {
			next[i].Status = prev.Status
			next[i].Paid = prev.Paid
			next[i].Revision = prev.Revision
		}
	}

	e.run = run
	e.buyers = next
	e.sortLocked()
	return e.snapshotLocked()
}

func (e *Engine) sortLocked() {
	buyers := e.buyers
	paidFirst := e.policy == TiePaidFirst
	sort.SliceStable(buyers, func(i, j int) bool {
		pi, pj := models.StatusPriority(buyers[i].Status), models.StatusPriority(buyers[j].Status)
		if pi != pj {
			return pi < pj
		}
		if paidFirst && buyers[i].Paid != buyers[j].Paid {
			return buyers[i].Paid
		}
		return false
	})
}

func (e *Engine) snapshotLocked() Snapshot {
	snap := Snapshot{Buyers: make([]models.Buyer, len(e.buyers))}
	copy(snap.Buyers, e.buyers)

	taken := 0
	for _, b := range e.buyers {
		switch {
		case b.Status == models.StatusBackup:
			snap.Backups++
		case models.CountsTowardSlots(b.Status):
			taken++
		}
		if b.Paid && (b.Status == models.StatusGroup || b.Status == models.StatusDone) {
			snap.PaidPot += b.Gold
		}
	}
	snap.SlotsAvailable = e.run.MaxBuyers - taken
	return snap
}
