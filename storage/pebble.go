package storage

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// schemaVersion is bumped whenever the encoding of stored values changes
const schemaVersion uint64 = 1

// PebbleStorage implements Storage interface using PebbleDB
type PebbleStorage struct {
	db     *pebble.DB
	config *Config
	logger *zap.Logger
	closed atomic.Bool
}

var _ Storage = (*PebbleStorage)(nil)

// NewPebbleStorage creates a new PebbleDB storage
func NewPebbleStorage(cfg *Config) (*PebbleStorage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cache := pebble.NewCache(int64(cfg.Cache) << 20) // Convert MB to bytes
	defer cache.Unref()

	opts := &pebble.Options{
		Cache:        cache,
		MaxOpenFiles: cfg.MaxOpenFiles,
		MemTableSize: uint64(cfg.WriteBuffer) << 20,
		ReadOnly:     cfg.ReadOnly,
	}

	db, err := pebble.Open(cfg.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	storage := &PebbleStorage{
		db:     db,
		config: cfg,
		logger: zap.NewNop(),
	}

	if err := storage.checkSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return storage, nil
}

// SetLogger sets the logger for the storage
func (s *PebbleStorage) SetLogger(logger *zap.Logger) {
	s.logger = logger
}

// checkSchema stamps a fresh database and rejects one written by another schema
func (s *PebbleStorage) checkSchema() error {
	value, closer, err := s.db.Get(SchemaVersionKey())
	if errors.Is(err, pebble.ErrNotFound) {
		if s.config.ReadOnly {
			return nil
		}
		return s.db.Set(SchemaVersionKey(), EncodeUint64(schemaVersion), pebble.Sync)
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	defer closer.Close()

	version, err := DecodeUint64(value)
	if err != nil {
		return fmt.Errorf("failed to decode schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("unsupported schema version %d (want %d)", version, schemaVersion)
	}
	return nil
}

// ensureNotClosed checks if storage is closed
func (s *PebbleStorage) ensureNotClosed() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// ensureWritable checks if storage is open and writable
func (s *PebbleStorage) ensureWritable() error {
	if err := s.ensureNotClosed(); err != nil {
		return err
	}
	if s.config.ReadOnly {
		return ErrReadOnly
	}
	return nil
}

// Close closes the storage and releases resources
func (s *PebbleStorage) Close() error {
	if s.closed.Swap(true) {
		return nil // Already closed
	}

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// get reads a key and copies the value out of pebble's buffer
func (s *PebbleStorage) get(key []byte) ([]byte, error) {
	value, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()

	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// PutSnapshot stores a snapshot and marks it as the latest for its contract
func (s *PebbleStorage) PutSnapshot(ctx context.Context, snapshot *Snapshot) error {
	if err := s.ensureWritable(); err != nil {
		return err
	}

	data, err := EncodeSnapshot(snapshot)
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(SnapshotKey(snapshot.Contract, snapshot.Origin), data, nil); err != nil {
		return fmt.Errorf("failed to set snapshot: %w", err)
	}
	if err := batch.Set(LatestSnapshotKey(snapshot.Contract), EncodeUint64(snapshot.Origin), nil); err != nil {
		return fmt.Errorf("failed to set latest snapshot: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}

	s.logger.Debug("Stored history snapshot",
		zap.String("contract", snapshot.Contract.Hex()),
		zap.Uint64("origin", snapshot.Origin),
		zap.Int("entries", len(snapshot.Entries)),
		zap.Bool("complete", snapshot.Complete),
	)
	return nil
}

// GetSnapshot returns the snapshot for contract scanned from origin
func (s *PebbleStorage) GetSnapshot(ctx context.Context, contract common.Address, origin uint64) (*Snapshot, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}

	data, err := s.get(SnapshotKey(contract, origin))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return DecodeSnapshot(data)
}

// LatestSnapshot returns the most recently stored snapshot for contract
func (s *PebbleStorage) LatestSnapshot(ctx context.Context, contract common.Address) (*Snapshot, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}

	data, err := s.get(LatestSnapshotKey(contract))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}

	origin, err := DecodeUint64(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidData, err)
	}
	return s.GetSnapshot(ctx, contract, origin)
}

// ListSnapshots returns every snapshot of contract ordered by origin
func (s *PebbleStorage) ListSnapshots(ctx context.Context, contract common.Address) ([]*Snapshot, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}

	prefix := SnapshotKeyPrefix(contract)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	var snapshots []*Snapshot
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		snapshot, err := DecodeSnapshot(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", iter.Key(), err)
		}
		snapshots = append(snapshots, snapshot)
	}

	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterator error: %w", err)
	}
	return snapshots, nil
}

// DeleteSnapshots removes every snapshot of contract
func (s *PebbleStorage) DeleteSnapshots(ctx context.Context, contract common.Address) error {
	if err := s.ensureWritable(); err != nil {
		return err
	}

	prefix := SnapshotKeyPrefix(contract)

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.DeleteRange(prefix, prefixUpperBound(prefix), nil); err != nil {
		return fmt.Errorf("failed to delete snapshots: %w", err)
	}
	if err := batch.Delete(LatestSnapshotKey(contract), nil); err != nil {
		return fmt.Errorf("failed to delete latest snapshot: %w", err)
	}
	return batch.Commit(pebble.Sync)
}

// PutValue stores the last read value of a contract
func (s *PebbleStorage) PutValue(ctx context.Context, value *StoredValue) error {
	if err := s.ensureWritable(); err != nil {
		return err
	}

	data, err := EncodeValue(value)
	if err != nil {
		return err
	}
	if err := s.db.Set(ValueKey(value.Contract), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to set value: %w", err)
	}
	return nil
}

// GetValue returns the last stored value of contract
func (s *PebbleStorage) GetValue(ctx context.Context, contract common.Address) (*StoredValue, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}

	data, err := s.get(ValueKey(contract))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get value: %w", err)
	}
	return DecodeValue(data)
}
