package storage

import (
	"encoding/json"
	"fmt"
)

// EncodeSnapshot encodes a snapshot as JSON
func EncodeSnapshot(snapshot *Snapshot) ([]byte, error) {
	if snapshot == nil {
		return nil, fmt.Errorf("snapshot cannot be nil")
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot decodes a snapshot from JSON
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: data cannot be empty", ErrInvalidData)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("%w: failed to decode snapshot: %w", ErrInvalidData, err)
	}
	return &snapshot, nil
}

// EncodeValue encodes a stored value as JSON
func EncodeValue(value *StoredValue) ([]byte, error) {
	if value == nil {
		return nil, fmt.Errorf("value cannot be nil")
	}

	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	return data, nil
}

// DecodeValue decodes a stored value from JSON
func DecodeValue(data []byte) (*StoredValue, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: data cannot be empty", ErrInvalidData)
	}

	var value StoredValue
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("%w: failed to decode value: %w", ErrInvalidData, err)
	}
	return &value, nil
}
