package runview

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thebakerswow/thebakers-front-sub000/internal/alert"
	"github.com/thebakerswow/thebakers-front-sub000/internal/api"
	"github.com/thebakerswow/thebakers-front-sub000/internal/channel"
	"github.com/thebakerswow/thebakers-front-sub000/internal/models"
	"github.com/thebakerswow/thebakers-front-sub000/internal/roster"
)

const (
	defaultPollInterval = 10 * time.Second
	persistTimeout      = 10 * time.Second
)

// Backend is the slice of the api client one run view needs. Polling is the
// source of truth for full-roster correctness; the live channel is only a
// latency hint.
type Backend interface {
	FetchRoster(ctx context.Context, runID uint) (*api.RosterPayload, error)
	UpdateBuyerStatus(ctx context.Context, runID, buyerID uint, status string) error
	UpdateBuyerPaid(ctx context.Context, runID, buyerID uint, paid bool) error
}

// Options configures one run view.
type Options struct {
	PollInterval time.Duration
	Policy       roster.TieBreak
	// Channel is the view's live chat stream; closed together with the
	// view. May be nil for roster-only views.
	Channel *channel.Channel
	OnError func(detail string)
	// Dedup suppresses repeated identical error presentations. Optional.
	Dedup *alert.Dedup
}

// View coordinates one open run view: the roster engine, its polling loop
// and the live channel. Events for a view are processed one at a time; there
// is no parallelism inside a view beyond the background persistence calls.
type View struct {
	id      string
	runID   uint
	backend Backend
	engine  *roster.Engine
	opts    Options

	stopOnce sync.Once
	stopCh   chan struct{}
	pokeCh   chan struct{}
	persists sync.WaitGroup
}

// Open fetches the initial roster, builds the engine and starts the polling
// loop. A failed initial fetch fails the call with a retryable error.
func Open(ctx context.Context, runID uint, backend Backend, opts Options) (*View, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}

	payload, err := backend.FetchRoster(ctx, runID)
	if err != nil {
		return nil, err
	}

	v := &View{
		id:      uuid.NewString(),
		runID:   runID,
		backend: backend,
		engine:  roster.NewEngine(payload.Run, payload.Buyers, opts.Policy),
		opts:    opts,
		stopCh:  make(chan struct{}),
		pokeCh:  make(chan struct{}, 1),
	}

	go v.pollLoop()
	log.Printf("[RunView %s] opened for run %d", v.id, runID)
	return v, nil
}

// Engine exposes the roster engine for reads.
func (v *View) Engine() *roster.Engine {
	return v.engine
}

// Channel returns the live chat stream, if the view has one.
func (v *View) Channel() *channel.Channel {
	return v.opts.Channel
}

// Snapshot returns the current roster snapshot.
func (v *View) Snapshot() roster.Snapshot {
	return v.engine.Snapshot()
}

// SetStatus applies the edit optimistically and persists it in the
// background; a failed persistence call rolls the edit back and reports the
// failure.
func (v *View) SetStatus(buyerID uint, status string) (roster.Snapshot, error) {
	prev, found := v.currentBuyer(buyerID)
	snap, err := v.engine.SetStatus(buyerID, status)
	if err != nil || !found {
		return snap, err
	}

	rev := revisionOf(snap, buyerID)
	v.persists.Add(1)
	go func() {
		defer v.persists.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := v.backend.UpdateBuyerStatus(ctx, v.runID, buyerID, status); err != nil {
			// Revision-guarded: a newer edit that landed while this one
			// was in flight survives the rollback.
			v.engine.RollbackStatus(buyerID, prev.Status, rev)
			v.reportError("saving buyer status failed: " + err.Error())
			return
		}
		v.engine.AckPersisted(buyerID, rev)
	}()
	return snap, nil
}

// SetPaid is the paid-flag counterpart of SetStatus.
func (v *View) SetPaid(buyerID uint, paid bool) (roster.Snapshot, error) {
	prev, found := v.currentBuyer(buyerID)
	snap, err := v.engine.SetPaid(buyerID, paid)
	if err != nil || !found {
		return snap, err
	}

	rev := revisionOf(snap, buyerID)
	v.persists.Add(1)
	go func() {
		defer v.persists.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := v.backend.UpdateBuyerPaid(ctx, v.runID, buyerID, paid); err != nil {
			v.engine.RollbackPaid(buyerID, prev.Paid, rev)
			v.reportError("saving paid flag failed: " + err.Error())
			return
		}
		v.engine.AckPersisted(buyerID, rev)
	}()
	return snap, nil
}

// Poke requests an immediate re-poll. Used when a channel event hints that
// the roster changed; push never mutates the roster directly.
func (v *View) Poke() {
	select {
	case v.pokeCh <- struct{}{}:
	default:
	}
}

// Close stops the polling loop, waits for in-flight persistence calls and
// closes the live channel. No timers survive a closed view.
func (v *View) Close() {
	v.stopOnce.Do(func() {
		close(v.stopCh)
		v.persists.Wait()
		if v.opts.Channel != nil {
			v.opts.Channel.Close()
		}
		log.Printf("[RunView %s] closed", v.id)
	})
}

func (v *View) pollLoop() {
	ticker := time.NewTicker(v.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-v.stopCh:
			return
		case <-ticker.C:
		case <-v.pokeCh:
		}
		v.pollOnce()
	}
}

func (v *View) pollOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	payload, err := v.backend.FetchRoster(ctx, v.runID)
	if err != nil {
		v.reportError("roster poll failed: " + err.Error())
		return
	}
	v.engine.ReplaceAll(payload.Run, payload.Buyers)
}

func (v *View) currentBuyer(buyerID uint) (models.Buyer, bool) {
	for _, b := range v.engine.Snapshot().Buyers {
		if b.ID == buyerID {
			return b, true
		}
	}
	return models.Buyer{}, false
}

func revisionOf(snap roster.Snapshot, buyerID uint) int64 {
	for _, b := range snap.Buyers {
		if b.ID == buyerID {
			return b.Revision
		}
	}
	return 0
}

func (v *View) reportError(detail string) {
	if v.opts.Dedup != nil && !v.opts.Dedup.Allow(detail) {
		return
	}
	log.Printf("[RunView %s] %s", v.id, detail)
	if v.opts.OnError != nil {
		v.opts.OnError(detail)
	}
}
