package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xmhha/hellostorage-go/history"
)

var (
	testContract  = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	otherContract = common.HexToAddress("0x0000000000000000000000000000000000000abc")
)

// setupTestStorage creates a temporary PebbleDB storage for testing
func setupTestStorage(t *testing.T) (*PebbleStorage, string) {
	t.Helper()

	dir := t.TempDir()
	storage, err := NewPebbleStorage(DefaultConfig(dir))
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { storage.Close() })

	return storage, dir
}

func createTestSnapshot(contract common.Address, origin uint64, values ...string) *Snapshot {
	entries := make([]history.Entry, 0, len(values))
	for i, v := range values {
		entries = append(entries, history.Entry{
			Sender:      common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
			NewValue:    v,
			Timestamp:   1700000000 + int64(i),
			Time:        "2023-11-14 22:13:20",
			TxHash:      common.BigToHash(common.Big1),
			BlockNumber: origin + uint64(i),
			LogIndex:    uint(i),
		})
	}
	return NewSnapshot(contract, &history.Result{
		Entries:  entries,
		Complete: true,
		Origin:   origin,
		Target:   origin + 1000,
	}, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
}

func TestNewPebbleStorage(t *testing.T) {
	if _, err := NewPebbleStorage(nil); err == nil {
		t.Error("NewPebbleStorage(nil) should fail")
	}
	if _, err := NewPebbleStorage(&Config{}); err == nil {
		t.Error("NewPebbleStorage() with empty path should fail")
	}

	storage, _ := setupTestStorage(t)
	if storage == nil {
		t.Fatal("NewPebbleStorage() returned nil")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	storage, _ := setupTestStorage(t)
	ctx := context.Background()

	if _, err := storage.GetSnapshot(ctx, testContract, 1000); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetSnapshot() on empty storage error = %v, want ErrNotFound", err)
	}

	want := createTestSnapshot(testContract, 1000, "b", "a")
	if err := storage.PutSnapshot(ctx, want); err != nil {
		t.Fatalf("PutSnapshot() error = %v", err)
	}

	got, err := storage.GetSnapshot(ctx, testContract, 1000)
	if err != nil {
		t.Fatalf("GetSnapshot() error = %v", err)
	}
	if got.Origin != 1000 || got.Target != 2000 || !got.Complete {
		t.Errorf("GetSnapshot() = %+v, want origin 1000 target 2000 complete", got)
	}
	if len(got.Entries) != 2 || got.Entries[0].NewValue != "b" || got.Entries[1].NewValue != "a" {
		t.Errorf("GetSnapshot() entries = %+v", got.Entries)
	}
	if got.Entries[0].Sender != want.Entries[0].Sender || got.Entries[0].TxHash != want.Entries[0].TxHash {
		t.Errorf("GetSnapshot() entry identity not preserved")
	}
	if !got.FetchedAt.Equal(want.FetchedAt) {
		t.Errorf("FetchedAt = %v, want %v", got.FetchedAt, want.FetchedAt)
	}
}

func TestLatestSnapshot(t *testing.T) {
	storage, _ := setupTestStorage(t)
	ctx := context.Background()

	if _, err := storage.LatestSnapshot(ctx, testContract); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LatestSnapshot() error = %v, want ErrNotFound", err)
	}

	for _, origin := range []uint64{2000, 1000} {
		if err := storage.PutSnapshot(ctx, createTestSnapshot(testContract, origin, "x")); err != nil {
			t.Fatalf("PutSnapshot(%d) error = %v", origin, err)
		}
	}

	latest, err := storage.LatestSnapshot(ctx, testContract)
	if err != nil {
		t.Fatalf("LatestSnapshot() error = %v", err)
	}
	if latest.Origin != 1000 {
		t.Errorf("LatestSnapshot() origin = %d, want 1000", latest.Origin)
	}

	if _, err := storage.LatestSnapshot(ctx, otherContract); !errors.Is(err, ErrNotFound) {
		t.Errorf("LatestSnapshot() for another contract error = %v, want ErrNotFound", err)
	}
}

func TestListAndDeleteSnapshots(t *testing.T) {
	storage, _ := setupTestStorage(t)
	ctx := context.Background()

	for _, origin := range []uint64{30, 5, 1000} {
		if err := storage.PutSnapshot(ctx, createTestSnapshot(testContract, origin)); err != nil {
			t.Fatalf("PutSnapshot() error = %v", err)
		}
	}
	if err := storage.PutSnapshot(ctx, createTestSnapshot(otherContract, 7)); err != nil {
		t.Fatalf("PutSnapshot() error = %v", err)
	}

	list, err := storage.ListSnapshots(ctx, testContract)
	if err != nil {
		t.Fatalf("ListSnapshots() error = %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("ListSnapshots() returned %d snapshots, want 3", len(list))
	}
	for i, want := range []uint64{5, 30, 1000} {
		if list[i].Origin != want {
			t.Errorf("ListSnapshots()[%d].Origin = %d, want %d", i, list[i].Origin, want)
		}
	}

	if err := storage.DeleteSnapshots(ctx, testContract); err != nil {
		t.Fatalf("DeleteSnapshots() error = %v", err)
	}
	list, err = storage.ListSnapshots(ctx, testContract)
	if err != nil {
		t.Fatalf("ListSnapshots() error = %v", err)
	}
	if len(list) != 0 {
		t.Errorf("ListSnapshots() after delete returned %d snapshots", len(list))
	}
	if _, err := storage.LatestSnapshot(ctx, testContract); !errors.Is(err, ErrNotFound) {
		t.Errorf("LatestSnapshot() after delete error = %v, want ErrNotFound", err)
	}

	// other contracts are untouched
	if _, err := storage.GetSnapshot(ctx, otherContract, 7); err != nil {
		t.Errorf("GetSnapshot() for other contract error = %v", err)
	}
}

func TestValueRoundTrip(t *testing.T) {
	storage, _ := setupTestStorage(t)
	ctx := context.Background()

	if _, err := storage.GetValue(ctx, testContract); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetValue() error = %v, want ErrNotFound", err)
	}

	readAt := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	if err := storage.PutValue(ctx, &StoredValue{Contract: testContract, Value: "hello", ReadAt: readAt}); err != nil {
		t.Fatalf("PutValue() error = %v", err)
	}

	got, err := storage.GetValue(ctx, testContract)
	if err != nil {
		t.Fatalf("GetValue() error = %v", err)
	}
	if got.Value != "hello" || !got.ReadAt.Equal(readAt) {
		t.Errorf("GetValue() = %+v", got)
	}
}

func TestClosedStorage(t *testing.T) {
	storage, _ := setupTestStorage(t)
	ctx := context.Background()

	if err := storage.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	// closing twice is a no-op
	if err := storage.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	if err := storage.PutSnapshot(ctx, createTestSnapshot(testContract, 1)); !errors.Is(err, ErrClosed) {
		t.Errorf("PutSnapshot() after close error = %v, want ErrClosed", err)
	}
	if _, err := storage.GetSnapshot(ctx, testContract, 1); !errors.Is(err, ErrClosed) {
		t.Errorf("GetSnapshot() after close error = %v, want ErrClosed", err)
	}
	if _, err := storage.GetValue(ctx, testContract); !errors.Is(err, ErrClosed) {
		t.Errorf("GetValue() after close error = %v, want ErrClosed", err)
	}
}

func TestReadOnlyStorage(t *testing.T) {
	storage, dir := setupTestStorage(t)
	ctx := context.Background()

	if err := storage.PutSnapshot(ctx, createTestSnapshot(testContract, 1, "kept")); err != nil {
		t.Fatalf("PutSnapshot() error = %v", err)
	}
	storage.Close()

	cfg := DefaultConfig(dir)
	cfg.ReadOnly = true
	ro, err := NewPebbleStorage(cfg)
	if err != nil {
		t.Fatalf("NewPebbleStorage(read-only) error = %v", err)
	}
	defer ro.Close()

	if _, err := ro.GetSnapshot(ctx, testContract, 1); err != nil {
		t.Errorf("GetSnapshot() on read-only storage error = %v", err)
	}
	if err := ro.PutSnapshot(ctx, createTestSnapshot(testContract, 2)); !errors.Is(err, ErrReadOnly) {
		t.Errorf("PutSnapshot() on read-only storage error = %v, want ErrReadOnly", err)
	}
	if err := ro.DeleteSnapshots(ctx, testContract); !errors.Is(err, ErrReadOnly) {
		t.Errorf("DeleteSnapshots() on read-only storage error = %v, want ErrReadOnly", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"empty path", func(c *Config) { c.Path = "" }, true},
		{"negative cache", func(c *Config) { c.Cache = -1 }, true},
		{"negative open files", func(c *Config) { c.MaxOpenFiles = -1 }, true},
		{"negative write buffer", func(c *Config) { c.WriteBuffer = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("/tmp/hellostorage")
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
