package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/ohmynofan/b402-claimer/internal/app/claim"
	"github.com/ohmynofan/b402-claimer/internal/domain/model"
	"github.com/ohmynofan/b402-claimer/internal/platform/logger"
	"github.com/ohmynofan/b402-claimer/internal/platform/metrics"
	"github.com/ohmynofan/b402-claimer/pkg/utils"
)

const (
	DefaultPollInterval  = 2 * time.Second
	DefaultErrorInterval = 4 * time.Second
)

type BlockSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockWithTransactions(ctx context.Context, number uint64) (*model.Block, error)
}

type Claimer interface {
	Run(ctx context.Context, trigger string) (*claim.Result, error)
}

type Options struct {
	Window        time.Duration
	PollInterval  time.Duration
	ErrorInterval time.Duration
}

// Watcher polls for new blocks and runs the claimer when a watched sender
// shows up in a fresh block.
type Watcher struct {
	source  BlockSource
	claimer Claimer
	state   *State
	opts    Options
	metrics *metrics.Recorder
	status  *model.Status
	log     *logger.ClassLogger

	now func() time.Time
}

func NewWatcher(source BlockSource, claimer Claimer, state *State, opts Options, rec *metrics.Recorder, status *model.Status) *Watcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ErrorInterval <= 0 {
		opts.ErrorInterval = DefaultErrorInterval
	}
	w := &Watcher{
		source:  source,
		claimer: claimer,
		state:   state,
		opts:    opts,
		metrics: rec,
		status:  status,
		now:     time.Now,
	}
	w.log = logger.NewLogger(w, status)
	return w
}

// Run polls until ctx is done. Poll errors are logged and followed by the
// longer error interval.
func (w *Watcher) Run(ctx context.Context) error {
	w.log.Log(fmt.Sprintf("Watching distribution... (window %s)", w.opts.Window))
	w.setWatchState("WATCHING")
	defer w.setWatchState("STOPPED")

	for {
		delay := w.opts.PollInterval
		if err := w.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Log(fmt.Sprintf("Watcher error: %v", err))
			delay = w.opts.ErrorInterval
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Poll checks the head once and handles it when it is a new block. A block
// the node cannot return yet is retried on the next poll.
func (w *Watcher) Poll(ctx context.Context) error {
	number, err := w.source.LatestBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("latest block: %w", err)
	}
	if number <= w.state.LastSeen() {
		return nil
	}

	block, err := w.source.BlockWithTransactions(ctx, number)
	if err != nil {
		return fmt.Errorf("block %d: %w", number, err)
	}
	if block == nil {
		return nil
	}
	if !w.state.Advance(number) {
		return nil
	}
	w.status.Update(func(v *model.StatusView) { v.LastBlock = number })

	w.HandleBlock(ctx, block)
	return nil
}

// HandleBlock scans block in order and dispatches on the first qualifying
// transaction. It reports whether a claim run was started. Safe for
// concurrent use; a trigger seen while a run is in flight is dropped.
func (w *Watcher) HandleBlock(ctx context.Context, block *model.Block) bool {
	fresh := w.isFresh(block)
	for _, tx := range block.Transactions {
		if tx.From == "" || !w.state.Watched(tx.From) {
			continue
		}
		if !fresh {
			w.metrics.IncTrigger("stale")
			w.log.JustLog(fmt.Sprintf("Ignoring stale tx %s from %s in block %d", tx.Hash, tx.From, block.Number))
			continue
		}
		if !w.state.TryAcquire() {
			w.metrics.IncTrigger("dropped_busy")
			w.log.JustLog(fmt.Sprintf("Dropping tx %s from %s: claim already running", tx.Hash, tx.From))
			continue
		}

		w.metrics.IncTrigger("triggered")
		w.dispatch(ctx, block, tx)
		return true
	}
	return false
}

func (w *Watcher) dispatch(ctx context.Context, block *model.Block, tx model.Tx) {
	defer w.state.Release()
	w.setWatchState("DISPATCHING")
	defer w.setWatchState("WATCHING")

	w.log.Log(fmt.Sprintf("DISTRIBUTION TX DETECTED from %s in block %d", utils.ShortenAddress(tx.From), block.Number))
	res, err := w.claimer.Run(ctx, tx.Hash)
	if err != nil {
		w.log.Log(fmt.Sprintf("Claim flow error: %v", err))
	} else {
		success, failed := res.Counts()
		w.log.Log(fmt.Sprintf("Claim flow finished: %d success, %d failed", success, failed))
	}
	w.log.Log("Restarting watcher...")
}

// isFresh compares the block time with the wall clock in whole seconds, in
// either direction. A block without a timestamp counts as fresh.
func (w *Watcher) isFresh(block *model.Block) bool {
	now := w.now().Unix()
	ts := int64(block.Timestamp)
	if ts == 0 {
		ts = now
	}
	diff := now - ts
	if diff < 0 {
		diff = -diff
	}
	return time.Duration(diff)*time.Second <= w.opts.Window
}

func (w *Watcher) setWatchState(state string) {
	w.status.Update(func(v *model.StatusView) { v.WatchState = state })
}
