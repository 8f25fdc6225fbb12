package history

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

// ErrMalformedEvent is returned when a raw log cannot be turned into an Entry.
// It fails the whole fetch; no partial salvage is attempted.
var ErrMalformedEvent = errors.New("malformed history event")

// Event is the decoded payload of one value-change log
type Event struct {
	Sender    common.Address
	OldValue  string
	NewValue  string
	Timestamp int64
}

// Entry is one change of the stored value, as presented to callers
type Entry struct {
	Sender      common.Address `json:"sender"`
	OldValue    string         `json:"oldValue"`
	NewValue    string         `json:"newValue"`
	Timestamp   int64          `json:"timestamp"`
	Time        string         `json:"time"`
	TxHash      common.Hash    `json:"txHash"`
	BlockNumber uint64         `json:"blockNumber"`
	LogIndex    uint           `json:"logIndex"`
}

// Window is an inclusive block sub-range queried in a single request
type Window struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// Span returns the number of blocks covered by the window
func (w Window) Span() uint64 {
	return w.End - w.Start + 1
}

// State is the position of a fetch session in its state machine
type State int

const (
	// StateScanning means the next window is about to be queried
	StateScanning State = iota
	// StateRetrying means the current window failed and will be queried again
	StateRetrying
	// StateDone means every block up to the target was scanned
	StateDone
	// StateAborted means the retry budget ran out, the height query failed or the caller went away
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateScanning:
		return "scanning"
	case StateRetrying:
		return "retrying"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}

// Result is the outcome of one fetch session.
// Entries are ordered most recent first. Complete is false when the scan stopped
// before reaching Target; Entries then hold everything gathered until that point.
type Result struct {
	Entries  []Entry `json:"entries"`
	Complete bool    `json:"complete"`
	Origin   uint64  `json:"origin"`
	Target   uint64  `json:"target"`
	// Cursor is the first block that was not scanned
	Cursor  uint64 `json:"cursor"`
	Windows int    `json:"windows"`
	Queries int    `json:"queries"`
	State   State  `json:"-"`
	// Cause explains an incomplete result
	Cause error `json:"-"`
}
