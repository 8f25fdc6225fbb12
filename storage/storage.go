package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xmhha/hellostorage-go/history"
	"github.com/0xmhha/hellostorage-go/internal/constants"
)

// Common errors
var (
	// ErrNotFound is returned when a key is not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidData is returned when data cannot be decoded
	ErrInvalidData = errors.New("invalid data")

	// ErrClosed is returned when operating on a closed storage
	ErrClosed = errors.New("storage closed")

	// ErrReadOnly is returned when attempting to write to a read-only storage
	ErrReadOnly = errors.New("storage is read-only")
)

// Snapshot is a stored history result for one contract and origin
type Snapshot struct {
	Contract  common.Address  `json:"contract"`
	Origin    uint64          `json:"origin"`
	Target    uint64          `json:"target"`
	Complete  bool            `json:"complete"`
	Entries   []history.Entry `json:"entries"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// NewSnapshot captures a history result
func NewSnapshot(contract common.Address, result *history.Result, fetchedAt time.Time) *Snapshot {
	return &Snapshot{
		Contract:  contract,
		Origin:    result.Origin,
		Target:    result.Target,
		Complete:  result.Complete,
		Entries:   result.Entries,
		FetchedAt: fetchedAt.UTC(),
	}
}

// StoredValue is the last value read from the contract
type StoredValue struct {
	Contract common.Address `json:"contract"`
	Value    string         `json:"value"`
	ReadAt   time.Time      `json:"read_at"`
}

// Reader provides read-only access to cached data
type Reader interface {
	// GetSnapshot returns the snapshot for contract scanned from origin
	GetSnapshot(ctx context.Context, contract common.Address, origin uint64) (*Snapshot, error)

	// LatestSnapshot returns the most recently stored snapshot for contract
	LatestSnapshot(ctx context.Context, contract common.Address) (*Snapshot, error)

	// ListSnapshots returns every snapshot of contract ordered by origin
	ListSnapshots(ctx context.Context, contract common.Address) ([]*Snapshot, error)

	// GetValue returns the last stored value of contract
	GetValue(ctx context.Context, contract common.Address) (*StoredValue, error)
}

// Writer provides write access to cached data
type Writer interface {
	// PutSnapshot stores a snapshot and marks it as the latest for its contract
	PutSnapshot(ctx context.Context, snapshot *Snapshot) error

	// DeleteSnapshots removes every snapshot of contract
	DeleteSnapshots(ctx context.Context, contract common.Address) error

	// PutValue stores the last read value of a contract
	PutValue(ctx context.Context, value *StoredValue) error
}

// Storage combines Reader and Writer interfaces
type Storage interface {
	Reader
	Writer

	// Close closes the storage and releases resources
	Close() error
}

// Config holds storage configuration
type Config struct {
	// Path to the database directory
	Path string

	// Cache size in MB
	Cache int

	// MaxOpenFiles is the maximum number of open files
	MaxOpenFiles int

	// WriteBuffer size in MB
	WriteBuffer int

	// ReadOnly opens the database in read-only mode
	ReadOnly bool
}

// DefaultConfig returns a default configuration
func DefaultConfig(path string) *Config {
	return &Config{
		Path:         path,
		Cache:        constants.DefaultCacheSize,
		MaxOpenFiles: constants.DefaultMaxOpenFiles,
		WriteBuffer:  constants.DefaultWriteBuffer,
		ReadOnly:     false,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Path == "" {
		return errors.New("path cannot be empty")
	}
	if c.Cache < 0 {
		return errors.New("cache size cannot be negative")
	}
	if c.MaxOpenFiles < 0 {
		return errors.New("max open files cannot be negative")
	}
	if c.WriteBuffer < 0 {
		return errors.New("write buffer size cannot be negative")
	}
	return nil
}
