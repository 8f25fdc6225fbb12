package history

import (
	"context"

	"github.com/ethereum/go-ethereum/core/types"
)

// HeightSource reports the latest block height of the chain
type HeightSource interface {
	CurrentHeight(ctx context.Context) (uint64, error)
}

// EventSource returns the value-change logs emitted in [from, to], inclusive.
// Logs are expected in emission order. A range the endpoint refuses is an error.
type EventSource interface {
	RangeEventQuery(ctx context.Context, from, to uint64) ([]types.Log, error)
}

// Decoder turns a raw value-change log into its payload
type Decoder interface {
	DecodeEvent(log types.Log) (Event, error)
}

// Source bundles the collaborators a Fetcher depends on
type Source interface {
	HeightSource
	EventSource
	Decoder
}
