package watch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ohmynofan/b402-claimer/internal/app/claim"
	"github.com/ohmynofan/b402-claimer/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	watchedA = "0xAAA0000000000000000000000000000000000aAa"
	watchedB = "0x39dcdd14a0c40e19cd8c892fd00e9e7963cd49d3"
	stranger = "0x1111111111111111111111111111111111111111"
)

type fakeSource struct {
	mu      sync.Mutex
	latest  uint64
	blocks  map[uint64]*model.Block
	errs    []error
	fetches map[uint64]int
}

func (s *fakeSource) LatestBlockNumber(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return 0, err
	}
	return s.latest, nil
}

func (s *fakeSource) BlockWithTransactions(ctx context.Context, number uint64) (*model.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetches == nil {
		s.fetches = make(map[uint64]int)
	}
	s.fetches[number]++
	return s.blocks[number], nil
}

type fakeClaimer struct {
	calls    atomic.Int32
	triggers chan string
	hold     chan struct{}
	err      error
}

func newFakeClaimer() *fakeClaimer {
	return &fakeClaimer{triggers: make(chan string, 16)}
}

func (c *fakeClaimer) Run(ctx context.Context, trigger string) (*claim.Result, error) {
	c.calls.Add(1)
	c.triggers <- trigger
	if c.hold != nil {
		<-c.hold
	}
	if c.err != nil {
		return nil, c.err
	}
	return &claim.Result{Outcomes: []model.Outcome{{Index: 0, TxRef: "0xnft"}}}, nil
}

func newTestWatcher(source BlockSource, claimer Claimer, now time.Time) *Watcher {
	w := NewWatcher(source, claimer, NewState([]string{watchedA, watchedB}), Options{Window: 15 * time.Second}, nil, nil)
	w.now = func() time.Time { return now }
	return w
}

func block(number uint64, ts time.Time, txs ...model.Tx) *model.Block {
	return &model.Block{Number: number, Timestamp: uint64(ts.Unix()), Transactions: txs}
}

func TestCaseFoldedSenderTriggersOnce(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	claimer := newFakeClaimer()
	w := newTestWatcher(&fakeSource{}, claimer, now)

	b := block(10, now.Add(-3*time.Second),
		model.Tx{Hash: "0x01", From: stranger},
		model.Tx{Hash: "0x02", From: "0xaaa0000000000000000000000000000000000aaa"},
	)
	assert.True(t, w.HandleBlock(context.Background(), b))
	assert.EqualValues(t, 1, claimer.calls.Load())
	assert.Equal(t, "0x02", <-claimer.triggers)
	assert.False(t, w.state.Busy())
}

func TestNonWatchedSenderNeverTriggers(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	claimer := newFakeClaimer()
	w := newTestWatcher(&fakeSource{}, claimer, now)

	b := block(10, now, model.Tx{Hash: "0x01", From: stranger}, model.Tx{Hash: "0x02"})
	assert.False(t, w.HandleBlock(context.Background(), b))
	assert.EqualValues(t, 0, claimer.calls.Load())
}

func TestStaleBlockDoesNotTrigger(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	claimer := newFakeClaimer()
	w := newTestWatcher(&fakeSource{}, claimer, now)

	stale := block(10, now.Add(-16*time.Second), model.Tx{Hash: "0x01", From: watchedB})
	assert.False(t, w.HandleBlock(context.Background(), stale))

	edge := block(11, now.Add(-15*time.Second), model.Tx{Hash: "0x02", From: watchedB})
	assert.True(t, w.HandleBlock(context.Background(), edge))
	assert.EqualValues(t, 1, claimer.calls.Load())
}

func TestOnlyFirstQualifyingTxPerBlock(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	claimer := newFakeClaimer()
	w := newTestWatcher(&fakeSource{}, claimer, now)

	b := block(10, now,
		model.Tx{Hash: "0x01", From: watchedA},
		model.Tx{Hash: "0x02", From: watchedB},
	)
	assert.True(t, w.HandleBlock(context.Background(), b))
	assert.EqualValues(t, 1, claimer.calls.Load())
	assert.Equal(t, "0x01", <-claimer.triggers)
}

func TestTriggerWhileBusyIsDropped(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	claimer := newFakeClaimer()
	claimer.hold = make(chan struct{})
	w := newTestWatcher(&fakeSource{}, claimer, now)

	first := block(10, now, model.Tx{Hash: "0x01", From: watchedA})
	second := block(11, now, model.Tx{Hash: "0x02", From: watchedB})

	done := make(chan bool)
	go func() { done <- w.HandleBlock(context.Background(), first) }()

	select {
	case trig := <-claimer.triggers:
		assert.Equal(t, "0x01", trig)
	case <-time.After(2 * time.Second):
		t.Fatal("first claim never started")
	}
	assert.True(t, w.state.Busy())

	assert.False(t, w.HandleBlock(context.Background(), second))
	assert.EqualValues(t, 1, claimer.calls.Load())

	close(claimer.hold)
	assert.True(t, <-done)
	assert.False(t, w.state.Busy())
	assert.EqualValues(t, 1, claimer.calls.Load())

	third := block(12, now, model.Tx{Hash: "0x03", From: watchedB})
	assert.True(t, w.HandleBlock(context.Background(), third))
	assert.EqualValues(t, 2, claimer.calls.Load())
}

func TestClaimFailureReleasesBusyFlag(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	claimer := newFakeClaimer()
	claimer.err = errors.New("probe failed")
	w := newTestWatcher(&fakeSource{}, claimer, now)

	assert.True(t, w.HandleBlock(context.Background(), block(10, now, model.Tx{Hash: "0x01", From: watchedA})))
	assert.False(t, w.state.Busy())
}

func TestPollFetchesEachNewBlockOnce(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	source := &fakeSource{
		latest: 100,
		blocks: map[uint64]*model.Block{
			100: block(100, now, model.Tx{Hash: "0x01", From: stranger}),
			101: block(101, now, model.Tx{Hash: "0x02", From: watchedA}),
		},
	}
	claimer := newFakeClaimer()
	w := newTestWatcher(source, claimer, now)

	require.NoError(t, w.Poll(context.Background()))
	require.NoError(t, w.Poll(context.Background()))
	assert.Equal(t, 1, source.fetches[100])
	assert.EqualValues(t, 100, w.state.LastSeen())
	assert.EqualValues(t, 0, claimer.calls.Load())

	source.latest = 101
	require.NoError(t, w.Poll(context.Background()))
	assert.EqualValues(t, 101, w.state.LastSeen())
	assert.EqualValues(t, 1, claimer.calls.Load())
}

func TestPollRetriesUnavailableBlock(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	source := &fakeSource{latest: 7, blocks: map[uint64]*model.Block{}}
	w := newTestWatcher(source, newFakeClaimer(), now)

	require.NoError(t, w.Poll(context.Background()))
	assert.EqualValues(t, 0, w.state.LastSeen())

	source.blocks[7] = block(7, now)
	require.NoError(t, w.Poll(context.Background()))
	assert.EqualValues(t, 7, w.state.LastSeen())
	assert.Equal(t, 2, source.fetches[7])
}

func TestRunSurvivesErrorsAndStopsOnCancel(t *testing.T) {
	now := time.Now()
	source := &fakeSource{
		latest: 5,
		errs:   []error{errors.New("rpc down"), errors.New("rpc down")},
		blocks: map[uint64]*model.Block{5: block(5, now, model.Tx{Hash: "0x05", From: watchedA})},
	}
	claimer := newFakeClaimer()
	w := NewWatcher(source, claimer, NewState([]string{watchedA}), Options{
		Window:        time.Minute,
		PollInterval:  5 * time.Millisecond,
		ErrorInterval: 10 * time.Millisecond,
	}, nil, model.NewStatus())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	select {
	case trig := <-claimer.triggers:
		assert.Equal(t, "0x05", trig)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher never triggered")
	}

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not stop")
	}
	assert.EqualValues(t, 1, claimer.calls.Load())
	assert.Equal(t, "STOPPED", w.status.Snapshot().WatchState)
}
