package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xmhha/hellostorage-go/contract"
	"github.com/0xmhha/hellostorage-go/history"
	"github.com/0xmhha/hellostorage-go/internal/testutil"
	"github.com/0xmhha/hellostorage-go/storage"
)

// fakeChain is an in-memory HelloStorage deployment
type fakeChain struct {
	t  *testing.T
	mu sync.Mutex

	head    uint64
	value   string
	logs    []types.Log
	readErr error
	// failFrom makes every range query starting at that block fail
	failFrom map[uint64]bool
	// block, when set, parks range queries starting at that block until ctx is done
	block map[uint64]chan struct{}
	// gate, when set, holds every range query until it is closed or ctx is done
	gate    chan struct{}
	queries int

	writable  bool
	submitErr error
	submitted []string
}

func newFakeChain(t *testing.T) *fakeChain {
	return &fakeChain{
		t:        t,
		head:     1899,
		value:    "hello",
		writable: true,
		failFrom: make(map[uint64]bool),
		block:    make(map[uint64]chan struct{}),
	}
}

func (c *fakeChain) emit(block uint64, oldValue, newValue string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, testutil.NewMessageUpdatedLog(c.t, testutil.MessageUpdate{
		Sender:      testutil.TestSender,
		OldMessage:  oldValue,
		NewMessage:  newValue,
		Timestamp:   1700000000 + int64(block),
		BlockNumber: block,
	}))
	c.value = newValue
}

func (c *fakeChain) CurrentHeight(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

func (c *fakeChain) RangeEventQuery(ctx context.Context, from, to uint64) ([]types.Log, error) {
	c.mu.Lock()
	c.queries++
	gate := c.gate
	parked := c.block[from]
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if parked != nil {
		close(parked)
		<-ctx.Done()
		return nil, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failFrom[from] {
		return nil, errors.New("rate limited")
	}
	var out []types.Log
	for _, l := range c.logs {
		if l.BlockNumber >= from && l.BlockNumber <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

func (c *fakeChain) DecodeEvent(log types.Log) (history.Event, error) {
	return contract.DecodeMessageUpdated(log)
}

func (c *fakeChain) Address() common.Address { return testutil.TestContract }
func (c *fakeChain) CanWrite() bool          { return c.writable }
func (c *fakeChain) Account() common.Address { return testutil.TestSender }

func (c *fakeChain) CurrentValue(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return "", c.readErr
	}
	return c.value, nil
}

func (c *fakeChain) SubmitChange(ctx context.Context, newValue string) (*contract.Confirmation, error) {
	if c.submitErr != nil {
		return nil, c.submitErr
	}
	c.mu.Lock()
	old := c.value
	c.head++
	block := c.head
	c.submitted = append(c.submitted, newValue)
	c.mu.Unlock()

	c.emit(block, old, newValue)
	return &contract.Confirmation{
		TxHash:      testutil.TxHash(block, 0),
		BlockNumber: block,
		Status:      types.ReceiptStatusSuccessful,
	}, nil
}

// recordingNotifier collects notifications
type recordingNotifier struct {
	mu        sync.Mutex
	updates   []*MessageUpdate
	refreshed chan *HistoryView
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{refreshed: make(chan *HistoryView, 16)}
}

func (n *recordingNotifier) NotifyMessageUpdated(u *MessageUpdate) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, u)
}

func (n *recordingNotifier) NotifyHistoryRefreshed(v *HistoryView) {
	n.refreshed <- v
}

func newTestFetcher(t *testing.T, chain history.Source) *history.Fetcher {
	t.Helper()
	cfg := history.DefaultConfig()
	cfg.WindowDelay = 0
	cfg.RetryDelay = 0
	cfg.Location = time.UTC
	f, err := history.NewFetcher(chain, cfg, nil, nil)
	require.NoError(t, err)
	return f
}

func newTestStore(t *testing.T) *storage.PebbleStorage {
	t.Helper()
	store, err := storage.NewPebbleStorage(storage.DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestService(t *testing.T, chain *fakeChain, store storage.Storage) *Service {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DeploymentBlock = 1000
	svc, err := New(chain, newTestFetcher(t, chain), store, cfg, testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

func TestNew(t *testing.T) {
	chain := newFakeChain(t)
	_, err := New(nil, newTestFetcher(t, chain), nil, nil, nil)
	assert.Error(t, err)
	_, err = New(chain, nil, nil, nil, nil)
	assert.Error(t, err)

	svc, err := New(chain, newTestFetcher(t, chain), nil, nil, nil)
	require.NoError(t, err)
	defer svc.Close()
	assert.Equal(t, uint64(0), svc.Origin())
	assert.Nil(t, svc.Latest())
	assert.Equal(t, testutil.TestContract, svc.Contract())
	assert.Equal(t, testutil.TestSender, svc.Account())
	assert.True(t, svc.CanWrite())
}

func TestRefresh(t *testing.T) {
	chain := newFakeChain(t)
	chain.emit(1001, "", "first")
	chain.emit(1500, "first", "second")
	svc := newTestService(t, chain, nil)

	notifier := newRecordingNotifier()
	svc.SetNotifier(notifier)

	view, err := svc.Refresh(context.Background())
	require.NoError(t, err)

	assert.True(t, view.Complete)
	assert.False(t, view.Cached)
	assert.Empty(t, view.Notice)
	assert.Equal(t, uint64(1000), view.Origin)
	assert.Equal(t, uint64(1899), view.Target)
	require.Len(t, view.Entries, 2)
	assert.Equal(t, "second", view.Entries[0].NewValue)
	assert.Equal(t, "https://sepolia.etherscan.io/tx/"+testutil.TxHash(1500, 0).Hex(), view.Entries[0].ExplorerURL)

	assert.Same(t, view, svc.Latest())
	assert.Same(t, view, <-notifier.refreshed)
}

func TestRefreshDegraded(t *testing.T) {
	chain := newFakeChain(t)
	chain.emit(1001, "", "first")
	chain.failFrom[1451] = true
	svc := newTestService(t, chain, nil)

	view, err := svc.Refresh(context.Background())
	require.NoError(t, err)

	assert.False(t, view.Complete)
	assert.Len(t, view.Entries, 1)
	assert.Contains(t, view.Notice, "incomplete")
	assert.Contains(t, view.Notice, "rate limited")
}

func TestRefreshFallsBackToSnapshot(t *testing.T) {
	chain := newFakeChain(t)
	chain.emit(1001, "", "first")
	chain.emit(1600, "first", "second")
	store := newTestStore(t)
	svc := newTestService(t, chain, store)

	full, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	require.True(t, full.Complete)

	chain.failFrom[1451] = true
	view, err := svc.Refresh(context.Background())
	require.NoError(t, err)

	assert.True(t, view.Cached)
	assert.True(t, view.Complete)
	assert.Len(t, view.Entries, 2)
	assert.Contains(t, view.Notice, "cached")
}

func TestSetOriginSupersedesRunningSession(t *testing.T) {
	chain := newFakeChain(t)
	chain.emit(1001, "", "first")
	chain.emit(1600, "first", "second")
	parked := make(chan struct{})
	chain.block[1000] = parked
	svc := newTestService(t, chain, nil)

	notifier := newRecordingNotifier()
	svc.SetNotifier(notifier)

	staleErr := make(chan error, 1)
	go func() {
		_, err := svc.Refresh(context.Background())
		staleErr <- err
	}()
	<-parked

	view, err := svc.SetOrigin(context.Background(), 1500)
	require.NoError(t, err)

	select {
	case err := <-staleErr:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(5 * time.Second):
		t.Fatal("superseded session did not finish")
	}

	assert.Equal(t, uint64(1500), svc.Origin())
	assert.Equal(t, uint64(1500), view.Origin)
	assert.Equal(t, []string{"second"}, []string{view.Entries[0].NewValue})
	assert.Same(t, view, svc.Latest())

	// only the newest session was published
	assert.Same(t, view, <-notifier.refreshed)
	assert.Empty(t, notifier.refreshed)
}

func (c *fakeChain) queryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queries
}

func TestReadHistorySharesScan(t *testing.T) {
	chain := newFakeChain(t)
	chain.emit(1001, "", "first")
	chain.gate = make(chan struct{})
	svc := newTestService(t, chain, nil)

	type outcome struct {
		view *HistoryView
		err  error
	}
	results := make(chan outcome, 2)
	read := func() {
		view, err := svc.ReadHistory(context.Background(), 1000)
		results <- outcome{view, err}
	}

	go read()
	require.Eventually(t, func() bool { return chain.queryCount() == 1 }, 5*time.Second, time.Millisecond)
	go read()
	time.Sleep(50 * time.Millisecond)
	close(chain.gate)

	first, second := <-results, <-results
	require.NoError(t, first.err)
	require.NoError(t, second.err)
	assert.Same(t, first.view, second.view)
	assert.Len(t, first.view.Entries, 1)

	// [1000, 1450] and [1451, 1899], scanned once
	assert.Equal(t, 2, chain.queryCount())
}

func TestReadHistoryRejoinsSupersedingScan(t *testing.T) {
	chain := newFakeChain(t)
	chain.emit(1001, "", "first")
	chain.gate = make(chan struct{})
	svc := newTestService(t, chain, nil)

	readErr := make(chan error, 1)
	var read *HistoryView
	go func() {
		view, err := svc.ReadHistory(context.Background(), 1000)
		read = view
		readErr <- err
	}()
	require.Eventually(t, func() bool { return chain.queryCount() == 1 }, 5*time.Second, time.Millisecond)

	sessionErr := make(chan error, 1)
	go func() {
		_, err := svc.History(context.Background(), 1000)
		sessionErr <- err
	}()
	// the reader's scan, the superseding session and the reader's rejoined scan
	require.Eventually(t, func() bool { return chain.queryCount() >= 3 }, 5*time.Second, time.Millisecond)
	close(chain.gate)

	select {
	case err := <-readErr:
		require.NoError(t, err)
		assert.Same(t, read, svc.Latest())
	case <-time.After(5 * time.Second):
		t.Fatal("reader did not finish")
	}
	assert.ErrorIs(t, <-sessionErr, ErrSuperseded)
}

func TestReadHistoryCallerCancelled(t *testing.T) {
	chain := newFakeChain(t)
	chain.gate = make(chan struct{})
	svc := newTestService(t, chain, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := svc.ReadHistory(ctx, 1000)
		done <- err
	}()
	require.Eventually(t, func() bool { return chain.queryCount() == 1 }, 5*time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	// the shared scan keeps running for other readers
	close(chain.gate)
	view, err := svc.ReadHistory(context.Background(), 1000)
	require.NoError(t, err)
	assert.True(t, view.Complete)
}

func TestCurrentValue(t *testing.T) {
	chain := newFakeChain(t)
	store := newTestStore(t)
	svc := newTestService(t, chain, store)

	view, err := svc.CurrentValue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello", view.Message)
	assert.False(t, view.Stale)

	chain.readErr = errors.New("connection reset")
	view, err = svc.CurrentValue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello", view.Message)
	assert.True(t, view.Stale)
}

func TestCurrentValueWithoutCache(t *testing.T) {
	chain := newFakeChain(t)
	chain.readErr = errors.New("connection reset")
	svc := newTestService(t, chain, nil)

	_, err := svc.CurrentValue(context.Background())
	assert.ErrorContains(t, err, "connection reset")
}

func TestSubmitChangeRefreshes(t *testing.T) {
	chain := newFakeChain(t)
	svc := newTestService(t, chain, newTestStore(t))
	notifier := newRecordingNotifier()
	svc.SetNotifier(notifier)

	conf, err := svc.SubmitChange(context.Background(), "updated")
	require.NoError(t, err)
	assert.Equal(t, uint64(1900), conf.BlockNumber)

	select {
	case view := <-notifier.refreshed:
		require.Len(t, view.Entries, 1)
		assert.Equal(t, "updated", view.Entries[0].NewValue)
		assert.Equal(t, "hello", view.Entries[0].OldValue)
	case <-time.After(5 * time.Second):
		t.Fatal("history was not refreshed after the write")
	}
	svc.Wait()

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Len(t, notifier.updates, 1)
	assert.Equal(t, "updated", notifier.updates[0].Message)
	assert.Equal(t, testutil.TestSender, notifier.updates[0].From)
	assert.True(t, strings.HasSuffix(notifier.updates[0].ExplorerURL, conf.TxHash.Hex()))
}

func TestSubmitChangeRejects(t *testing.T) {
	chain := newFakeChain(t)
	svc := newTestService(t, chain, nil)

	_, err := svc.SubmitChange(context.Background(), strings.Repeat("x", 5000))
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = svc.SubmitChange(context.Background(), string([]byte{0xff, 0xfe}))
	assert.ErrorIs(t, err, ErrInvalidMessage)

	chain.submitErr = contract.ErrNoSigner
	_, err = svc.SubmitChange(context.Background(), "ok")
	assert.ErrorIs(t, err, contract.ErrNoSigner)
	assert.Empty(t, chain.submitted)
}

func TestCachedHistory(t *testing.T) {
	chain := newFakeChain(t)
	chain.emit(1200, "", "first")

	svcNoStore := newTestService(t, chain, nil)
	_, err := svcNoStore.CachedHistory(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoSnapshot)

	svc := newTestService(t, chain, newTestStore(t))
	_, err = svc.CachedHistory(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoSnapshot)

	_, err = svc.Refresh(context.Background())
	require.NoError(t, err)

	cached, err := svc.CachedHistory(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, cached.Cached)
	assert.Equal(t, uint64(1000), cached.Origin)
	require.Len(t, cached.Entries, 1)
	assert.NotEmpty(t, cached.Entries[0].ExplorerURL)

	origin := uint64(1000)
	_, err = svc.CachedHistory(context.Background(), &origin)
	require.NoError(t, err)

	other := uint64(5)
	_, err = svc.CachedHistory(context.Background(), &other)
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestClose(t *testing.T) {
	chain := newFakeChain(t)
	svc := newTestService(t, chain, nil)
	svc.Close()

	_, err := svc.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	_, err = svc.ReadHistory(context.Background(), 1000)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = svc.SubmitChange(context.Background(), "x")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSubmitChangeDuringClose(t *testing.T) {
	for i := 0; i < 50; i++ {
		chain := newFakeChain(t)
		svc := newTestService(t, chain, nil)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := svc.SubmitChange(context.Background(), "x")
			if err != nil {
				assert.ErrorIs(t, err, ErrClosed)
			}
		}()
		go func() {
			defer wg.Done()
			svc.Close()
		}()
		wg.Wait()

		// Close has returned, so no refresh may still be registered
		assert.False(t, svc.goBackground(func() { t.Error("background work ran after Close") }))
		svc.Wait()
	}
}
