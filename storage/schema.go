package storage

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Key prefixes for different data types
const (
	prefixMeta    = "/meta/"
	prefixHistory = "/data/history/"
	prefixValue   = "/data/value/"
	prefixLatest  = "/meta/history/latest/"
)

// SchemaVersionKey returns the key of the on-disk schema version
func SchemaVersionKey() []byte {
	return []byte(prefixMeta + "schema_version")
}

// SnapshotKey returns the key for the snapshot of contract scanned from origin.
// The origin is zero padded so keys sort by origin.
func SnapshotKey(contract common.Address, origin uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", prefixHistory, contract.Hex(), origin))
}

// SnapshotKeyPrefix returns the key prefix of every snapshot of contract
func SnapshotKeyPrefix(contract common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s/", prefixHistory, contract.Hex()))
}

// LatestSnapshotKey returns the key holding the origin of the latest snapshot
func LatestSnapshotKey(contract common.Address) []byte {
	return []byte(prefixLatest + contract.Hex())
}

// ValueKey returns the key of the last stored value of contract
func ValueKey(contract common.Address) []byte {
	return []byte(prefixValue + contract.Hex())
}

// ParseSnapshotKey extracts the contract and origin from a snapshot key
func ParseSnapshotKey(key []byte) (common.Address, uint64, error) {
	keyStr := string(key)
	if !strings.HasPrefix(keyStr, prefixHistory) {
		return common.Address{}, 0, fmt.Errorf("invalid snapshot key prefix: %s", keyStr)
	}

	parts := strings.Split(strings.TrimPrefix(keyStr, prefixHistory), "/")
	if len(parts) != 2 || !common.IsHexAddress(parts[0]) {
		return common.Address{}, 0, fmt.Errorf("invalid snapshot key format: %s", keyStr)
	}

	origin, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return common.Address{}, 0, fmt.Errorf("invalid origin in key: %w", err)
	}
	return common.HexToAddress(parts[0]), origin, nil
}

// prefixUpperBound returns the exclusive upper bound of a prefix scan
func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix), len(prefix)+1)
	copy(upper, prefix)
	return append(upper, 0xff)
}

// EncodeUint64 encodes uint64 to bytes in big-endian format
func EncodeUint64(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}

// DecodeUint64 decodes bytes to uint64 in big-endian format
func DecodeUint64(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("invalid uint64 data length: %d", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}
