package history

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// Fetcher reconstructs the change history of the stored value by scanning
// the chain in bounded windows from an origin block up to the head.
type Fetcher struct {
	source  Source
	config  *Config
	logger  *zap.Logger
	metrics *Metrics

	// wait blocks for d or until ctx is done
	wait func(ctx context.Context, d time.Duration) error
}

// NewFetcher creates a new Fetcher instance
func NewFetcher(source Source, config *Config, logger *zap.Logger, metrics *Metrics) (*Fetcher, error) {
	if source == nil {
		return nil, fmt.Errorf("source cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid history config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Fetcher{
		source:  source,
		config:  config,
		logger:  logger,
		metrics: metrics,
		wait:    sleepContext,
	}, nil
}

// FetchHistory scans [origin, head] and returns every value change, newest first.
//
// The head is read once; blocks produced during the scan are not included.
// A failed height query yields an empty, incomplete result and a nil error.
// A window that keeps failing ends the scan with the entries gathered so far.
// A log that cannot be decoded fails the whole call with ErrMalformedEvent.
// When ctx is cancelled the partial result is returned together with ctx.Err().
func (f *Fetcher) FetchHistory(ctx context.Context, origin uint64) (*Result, error) {
	start := time.Now()

	target, err := f.source.CurrentHeight(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			f.metrics.recordSession("cancelled", 0, 0, time.Since(start))
			return &Result{Origin: origin, Cursor: origin, State: StateAborted, Cause: ctxErr, Entries: []Entry{}}, ctxErr
		}
		f.logger.Warn("Failed to read chain height, returning empty history",
			zap.Uint64("origin", origin),
			zap.Error(err),
		)
		f.metrics.recordSession("aborted", 0, 0, time.Since(start))
		return &Result{
			Entries: []Entry{},
			Origin:  origin,
			Cursor:  origin,
			State:   StateAborted,
			Cause:   fmt.Errorf("height query: %w", err),
		}, nil
	}

	s := newSession(origin, target, f.config)
	logger := f.logger.With(
		zap.Uint64("origin", origin),
		zap.Uint64("target", target),
	)
	logger.Debug("Starting history fetch")

	cancelled := f.run(ctx, s, logger)

	entries, err := f.assemble(s)
	if err != nil {
		f.metrics.recordSession("failed", target, 0, time.Since(start))
		return nil, err
	}

	result := &Result{
		Entries:  entries,
		Complete: s.complete(),
		Origin:   origin,
		Target:   target,
		Cursor:   s.cursor,
		Windows:  s.windows,
		Queries:  s.queries,
		State:    s.state,
	}
	if !result.Complete {
		result.Cause = s.lastErr
	}

	outcome := s.state.String()
	if cancelled != nil {
		outcome = "cancelled"
	}
	f.metrics.recordSession(outcome, target, len(entries), time.Since(start))

	if cancelled != nil {
		return result, cancelled
	}

	if result.Complete {
		logger.Info("History fetch complete",
			zap.Int("entries", len(entries)),
			zap.Int("windows", s.windows),
			zap.Duration("duration", time.Since(start)),
		)
	} else {
		logger.Warn("History fetch incomplete",
			zap.Int("entries", len(entries)),
			zap.Uint64("cursor", s.cursor),
			zap.Error(s.lastErr),
		)
	}
	return result, nil
}

// run drives the session to a terminal state. It returns ctx.Err() if the
// caller went away before that.
func (f *Fetcher) run(ctx context.Context, s *session, logger *zap.Logger) error {
	for !s.state.Terminal() {
		switch s.state {
		case StateScanning:
			if s.delayBeforeQuery() {
				if err := f.wait(ctx, f.config.WindowDelay); err != nil {
					s.abort(err)
					return err
				}
			}

			w := s.window()
			queryStart := time.Now()
			logs, err := f.source.RangeEventQuery(ctx, w.Start, w.End)
			f.metrics.recordQuery(time.Since(queryStart), err)

			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					s.abort(ctxErr)
					return ctxErr
				}
				s.fail(fmt.Errorf("window [%d, %d]: %w", w.Start, w.End, err))
				logger.Warn("Range query failed",
					zap.Uint64("from", w.Start),
					zap.Uint64("to", w.End),
					zap.Int("attempt", s.failures),
					zap.Int("max_retries", s.maxRetries),
					zap.Error(err),
				)
				continue
			}

			s.succeed(w, logs)
			logger.Debug("Scanned window",
				zap.Uint64("from", w.Start),
				zap.Uint64("to", w.End),
				zap.Int("logs", len(logs)),
			)

		case StateRetrying:
			if s.exhausted() {
				s.abort(s.lastErr)
				continue
			}
			f.metrics.recordRetry()
			if err := f.wait(ctx, f.config.RetryDelay); err != nil {
				s.abort(err)
				return err
			}
			s.resume()
		}
	}
	return nil
}

// assemble decodes the gathered logs and orders them newest first
func (f *Fetcher) assemble(s *session) ([]Entry, error) {
	logs := s.logs
	// emission order: block, then position within the block
	slices.SortStableFunc(logs, func(a, b types.Log) int {
		if a.BlockNumber != b.BlockNumber {
			if a.BlockNumber < b.BlockNumber {
				return -1
			}
			return 1
		}
		switch {
		case a.Index < b.Index:
			return -1
		case a.Index > b.Index:
			return 1
		}
		return 0
	})

	loc := f.config.location()
	layout := f.config.layout()

	entries := make([]Entry, 0, len(logs))
	for _, log := range logs {
		ev, err := f.source.DecodeEvent(log)
		if err != nil {
			if !errors.Is(err, ErrMalformedEvent) {
				err = fmt.Errorf("%w: %w", ErrMalformedEvent, err)
			}
			return nil, fmt.Errorf("log %d in tx %s: %w", log.Index, log.TxHash.Hex(), err)
		}
		entries = append(entries, Entry{
			Sender:      ev.Sender,
			OldValue:    ev.OldValue,
			NewValue:    ev.NewValue,
			Timestamp:   ev.Timestamp,
			Time:        time.Unix(ev.Timestamp, 0).In(loc).Format(layout),
			TxHash:      log.TxHash,
			BlockNumber: log.BlockNumber,
			LogIndex:    log.Index,
		})
	}

	slices.Reverse(entries)
	return entries, nil
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
