package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/0xmhha/hellostorage-go/contract"
	"github.com/0xmhha/hellostorage-go/history"
	"github.com/0xmhha/hellostorage-go/internal/constants"
	"github.com/0xmhha/hellostorage-go/storage"
)

var (
	// ErrSuperseded is returned when a newer history session replaced this one
	ErrSuperseded = errors.New("history session superseded")

	// ErrNoSnapshot is returned when no cached history is available
	ErrNoSnapshot = errors.New("no cached history")

	// ErrInvalidMessage is returned for a message that cannot be submitted
	ErrInvalidMessage = errors.New("invalid message")

	// ErrClosed is returned after Close
	ErrClosed = errors.New("service closed")
)

// Chain is the contract access the service needs. *contract.HelloStorage implements it.
type Chain interface {
	history.Source
	Address() common.Address
	CanWrite() bool
	Account() common.Address
	CurrentValue(ctx context.Context) (string, error)
	SubmitChange(ctx context.Context, newValue string) (*contract.Confirmation, error)
}

// Notifier receives state changes, e.g. to push them to websocket clients
type Notifier interface {
	NotifyMessageUpdated(update *MessageUpdate)
	NotifyHistoryRefreshed(view *HistoryView)
}

// Config holds service configuration
type Config struct {
	// DeploymentBlock is the default history origin
	DeploymentBlock uint64

	// ExplorerTxURL prefixes transaction hashes in explorer links
	ExplorerTxURL string

	// MaxMessageBytes bounds submitted messages; zero means no bound
	MaxMessageBytes int
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		ExplorerTxURL:   constants.DefaultExplorerTxURL,
		MaxMessageBytes: constants.MaxMessageBytes,
	}
}

// HistoryEntry is a history entry with its explorer link
type HistoryEntry struct {
	history.Entry
	ExplorerURL string `json:"explorerUrl,omitempty"`
}

// HistoryView is a history result as presented to clients
type HistoryView struct {
	Contract  common.Address `json:"contract"`
	Entries   []HistoryEntry `json:"entries"`
	Complete  bool           `json:"complete"`
	Origin    uint64         `json:"origin"`
	Target    uint64         `json:"target"`
	Cached    bool           `json:"cached"`
	FetchedAt time.Time      `json:"fetched_at"`
	// Notice explains degraded data
	Notice string `json:"notice,omitempty"`
}

// ValueView is the stored value as presented to clients
type ValueView struct {
	Contract common.Address `json:"contract"`
	Message  string         `json:"message"`
	ReadAt   time.Time      `json:"read_at"`
	// Stale is set when the live read failed and the last stored value is served
	Stale bool `json:"stale"`
}

// MessageUpdate describes a confirmed change submitted through the service
type MessageUpdate struct {
	Contract     common.Address         `json:"contract"`
	From         common.Address         `json:"from"`
	Message      string                 `json:"message"`
	Confirmation *contract.Confirmation `json:"confirmation"`
	ExplorerURL  string                 `json:"explorerUrl,omitempty"`
}

// Service reads and updates the stored value and keeps its history
type Service struct {
	chain   Chain
	fetcher *history.Fetcher
	tracker *history.Tracker
	store   storage.Storage
	config  *Config
	logger  *zap.Logger

	mu       sync.RWMutex
	origin   uint64
	latest   *HistoryView
	notifier Notifier

	// flights shares one ReadHistory scan per origin
	flights singleflight.Group

	baseCtx context.Context
	cancel  context.CancelFunc

	// bgMu orders wg.Add against Close
	bgMu   sync.Mutex
	closed bool
	wg     sync.WaitGroup

	now func() time.Time
}

// New creates a new Service. store may be nil, which disables the snapshot cache.
func New(chain Chain, fetcher *history.Fetcher, store storage.Storage, config *Config, logger *zap.Logger) (*Service, error) {
	if chain == nil {
		return nil, fmt.Errorf("chain cannot be nil")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		chain:   chain,
		fetcher: fetcher,
		tracker: history.NewTracker(),
		store:   store,
		config:  config,
		logger:  logger,
		origin:  config.DeploymentBlock,
		baseCtx: ctx,
		cancel:  cancel,
		now:     time.Now,
	}, nil
}

// SetNotifier registers the receiver of state changes
func (s *Service) SetNotifier(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}

// Contract returns the contract address
func (s *Service) Contract() common.Address {
	return s.chain.Address()
}

// Account returns the signing account, or the zero address when read-only
func (s *Service) Account() common.Address {
	return s.chain.Account()
}

// CanWrite reports whether changes can be submitted
func (s *Service) CanWrite() bool {
	return s.chain.CanWrite()
}

// Origin returns the block history scans start from
func (s *Service) Origin() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.origin
}

// Latest returns the last published history, or nil
func (s *Service) Latest() *HistoryView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// CurrentValue reads the stored value. If the live read fails and a previous
// value is cached, that value is returned marked stale.
func (s *Service) CurrentValue(ctx context.Context) (*ValueView, error) {
	contractAddr := s.chain.Address()

	message, err := s.chain.CurrentValue(ctx)
	if err == nil {
		view := &ValueView{Contract: contractAddr, Message: message, ReadAt: s.now().UTC()}
		if s.store != nil {
			if err := s.store.PutValue(ctx, &storage.StoredValue{
				Contract: contractAddr,
				Value:    message,
				ReadAt:   view.ReadAt,
			}); err != nil {
				s.logger.Warn("Failed to cache value", zap.Error(err))
			}
		}
		return view, nil
	}

	if s.store != nil {
		if stored, serr := s.store.GetValue(ctx, contractAddr); serr == nil {
			s.logger.Warn("Serving cached value after failed read",
				zap.Time("read_at", stored.ReadAt),
				zap.Error(err),
			)
			return &ValueView{
				Contract: contractAddr,
				Message:  stored.Value,
				ReadAt:   stored.ReadAt,
				Stale:    true,
			}, nil
		}
	}
	return nil, fmt.Errorf("failed to read message: %w", err)
}

// SetOrigin changes the block history scans start from and refreshes the history.
// Any refresh still running is superseded.
func (s *Service) SetOrigin(ctx context.Context, origin uint64) (*HistoryView, error) {
	s.mu.Lock()
	s.origin = origin
	s.mu.Unlock()
	return s.History(ctx, origin)
}

// Refresh fetches the history from the current origin
func (s *Service) Refresh(ctx context.Context) (*HistoryView, error) {
	return s.History(ctx, s.Origin())
}

// History fetches the history from origin in a new session, superseding any
// session still running. Only the newest session publishes its result; an
// older one returns ErrSuperseded.
func (s *Service) History(ctx context.Context, origin uint64) (*HistoryView, error) {
	if err := s.baseCtx.Err(); err != nil {
		return nil, ErrClosed
	}

	// a session ends when either its caller or the service goes away
	parent, stop := mergeCancel(ctx, s.baseCtx)
	defer stop()

	sessionCtx, tok := s.tracker.Begin(parent)
	defer s.tracker.End(tok)

	logger := s.logger.With(zap.Uint64("session", uint64(tok)), zap.Uint64("origin", origin))

	result, err := s.fetcher.FetchHistory(sessionCtx, origin)
	if err != nil {
		if !s.tracker.IsCurrent(tok) {
			logger.Debug("History session superseded")
			return nil, ErrSuperseded
		}
		return nil, err
	}

	fetchedAt := s.now().UTC()
	view := s.newView(result.Entries, result, fetchedAt, false)

	if result.Complete {
		s.storeSnapshot(ctx, result, fetchedAt)
	} else {
		view = s.degraded(ctx, view, result)
	}

	var notifier Notifier
	published := s.tracker.Commit(tok, func() {
		s.mu.Lock()
		s.latest = view
		notifier = s.notifier
		s.mu.Unlock()
	})
	if !published {
		logger.Debug("Discarding stale history result")
		return nil, ErrSuperseded
	}

	if notifier != nil {
		notifier.NotifyHistoryRefreshed(view)
	}
	return view, nil
}

// maxRejoins bounds how often ReadHistory follows a superseded scan
const maxRejoins = 3

// ReadHistory returns the history from origin. A caller joins a scan of the same
// origin that is already running instead of superseding it; when that scan is
// superseded the caller joins the newer one. The scan itself runs until it
// finishes or the service closes, whatever happens to ctx.
func (s *Service) ReadHistory(ctx context.Context, origin uint64) (*HistoryView, error) {
	key := strconv.FormatUint(origin, 10)

	for attempt := 0; ; attempt++ {
		ch := s.flights.DoChan(key, func() (interface{}, error) {
			if !s.track() {
				return nil, ErrClosed
			}
			defer s.wg.Done()
			return s.History(s.baseCtx, origin)
		})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			if errors.Is(res.Err, ErrSuperseded) && attempt < maxRejoins {
				continue
			}
			if res.Err != nil {
				return nil, res.Err
			}
			return res.Val.(*HistoryView), nil
		}
	}
}

// degraded falls back to a cached snapshot of the same origin that holds
// more entries than an incomplete live result
func (s *Service) degraded(ctx context.Context, view *HistoryView, result *history.Result) *HistoryView {
	notice := "history may be incomplete"
	if result.Cause != nil {
		notice = fmt.Sprintf("%s: %v", notice, result.Cause)
	}
	view.Notice = notice

	if s.store == nil {
		return view
	}
	snapshot, err := s.store.GetSnapshot(ctx, s.chain.Address(), result.Origin)
	if err != nil || len(snapshot.Entries) <= len(result.Entries) {
		return view
	}

	s.logger.Warn("Live history incomplete, serving cached snapshot",
		zap.Uint64("origin", result.Origin),
		zap.Time("fetched_at", snapshot.FetchedAt),
		zap.Int("live_entries", len(result.Entries)),
		zap.Int("cached_entries", len(snapshot.Entries)),
	)
	cached := s.snapshotView(snapshot)
	cached.Notice = notice + "; showing cached history"
	return cached
}

func (s *Service) storeSnapshot(ctx context.Context, result *history.Result, fetchedAt time.Time) {
	if s.store == nil {
		return
	}
	if err := s.store.PutSnapshot(ctx, storage.NewSnapshot(s.chain.Address(), result, fetchedAt)); err != nil {
		s.logger.Warn("Failed to cache history snapshot", zap.Error(err))
	}
}

// CachedHistory returns the stored snapshot for origin, or the latest one when origin is nil
func (s *Service) CachedHistory(ctx context.Context, origin *uint64) (*HistoryView, error) {
	if s.store == nil {
		return nil, ErrNoSnapshot
	}

	var (
		snapshot *storage.Snapshot
		err      error
	)
	if origin != nil {
		snapshot, err = s.store.GetSnapshot(ctx, s.chain.Address(), *origin)
	} else {
		snapshot, err = s.store.LatestSnapshot(ctx, s.chain.Address())
	}
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoSnapshot
		}
		return nil, err
	}
	return s.snapshotView(snapshot), nil
}

// SubmitChange submits a new value and waits for confirmation. On success the
// value and history are refreshed in the background.
func (s *Service) SubmitChange(ctx context.Context, newValue string) (*contract.Confirmation, error) {
	if err := s.baseCtx.Err(); err != nil {
		return nil, ErrClosed
	}
	if !utf8.ValidString(newValue) {
		return nil, fmt.Errorf("%w: not valid UTF-8", ErrInvalidMessage)
	}
	if s.config.MaxMessageBytes > 0 && len(newValue) > s.config.MaxMessageBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrInvalidMessage, len(newValue), s.config.MaxMessageBytes)
	}

	confirmation, err := s.chain.SubmitChange(ctx, newValue)
	if err != nil {
		return confirmation, err
	}

	update := &MessageUpdate{
		Contract:     s.chain.Address(),
		From:         s.chain.Account(),
		Message:      newValue,
		Confirmation: confirmation,
		ExplorerURL:  s.ExplorerURL(confirmation.TxHash),
	}

	s.mu.RLock()
	notifier := s.notifier
	s.mu.RUnlock()
	if notifier != nil {
		notifier.NotifyMessageUpdated(update)
	}

	if !s.goBackground(s.refreshAfterWrite) {
		s.logger.Debug("Service closed, skipping refresh after write")
	}

	return confirmation, nil
}

// track registers work with Wait and Close. It reports false once Close has
// begun; on true the caller must call s.wg.Done.
func (s *Service) track() bool {
	s.bgMu.Lock()
	defer s.bgMu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

// goBackground runs fn on a goroutine tracked by Wait and Close. It reports
// false without running fn once Close has begun.
func (s *Service) goBackground(fn func()) bool {
	if !s.track() {
		return false
	}
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

func (s *Service) refreshAfterWrite() {
	ctx := s.baseCtx

	if _, err := s.CurrentValue(ctx); err != nil {
		s.logger.Warn("Failed to refresh value after write", zap.Error(err))
	}
	// readers still on a scan that started before the write move to this one
	origin := s.Origin()
	s.flights.Forget(strconv.FormatUint(origin, 10))
	if _, err := s.ReadHistory(ctx, origin); err != nil && !errors.Is(err, ErrSuperseded) && !errors.Is(err, ErrClosed) && !errors.Is(err, context.Canceled) {
		s.logger.Warn("Failed to refresh history after write", zap.Error(err))
	}
}

// Wait blocks until background refreshes finish
func (s *Service) Wait() {
	s.wg.Wait()
}

// Close cancels running sessions and waits for background work
func (s *Service) Close() {
	s.bgMu.Lock()
	s.closed = true
	s.bgMu.Unlock()

	s.cancel()
	s.tracker.Stop()
	s.wg.Wait()
}

func (s *Service) newView(entries []history.Entry, result *history.Result, fetchedAt time.Time, cached bool) *HistoryView {
	view := &HistoryView{
		Contract:  s.chain.Address(),
		Entries:   make([]HistoryEntry, 0, len(entries)),
		Complete:  result.Complete,
		Origin:    result.Origin,
		Target:    result.Target,
		Cached:    cached,
		FetchedAt: fetchedAt,
	}
	for _, e := range entries {
		view.Entries = append(view.Entries, HistoryEntry{Entry: e, ExplorerURL: s.ExplorerURL(e.TxHash)})
	}
	return view
}

func (s *Service) snapshotView(snapshot *storage.Snapshot) *HistoryView {
	return s.newView(snapshot.Entries, &history.Result{
		Complete: snapshot.Complete,
		Origin:   snapshot.Origin,
		Target:   snapshot.Target,
	}, snapshot.FetchedAt, true)
}

// ExplorerURL returns the explorer link for a transaction, or "" when links are disabled
func (s *Service) ExplorerURL(hash common.Hash) string {
	if s.config.ExplorerTxURL == "" {
		return ""
	}
	return s.config.ExplorerTxURL + hash.Hex()
}

// mergeCancel returns a context that is done when either a or b is done.
// Values come from a.
func mergeCancel(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
