package testutil

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// Well-known development accounts
var (
	TestContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	TestSender   = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
)

// TestPrivateKey is the private key of TestSender
const TestPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// MessageUpdatedSignature is the canonical signature of the value-change event
const MessageUpdatedSignature = "MessageUpdated(address,string,string,uint256)"

// NewTestLogger creates a logger that writes through t.Log
func NewTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	return zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))
}

// MessageUpdate describes one MessageUpdated log to build
type MessageUpdate struct {
	Contract    common.Address
	Sender      common.Address
	OldMessage  string
	NewMessage  string
	Timestamp   int64
	BlockNumber uint64
	LogIndex    uint
}

// NewMessageUpdatedLog ABI-encodes a MessageUpdated log the way the contract emits it
func NewMessageUpdatedLog(t *testing.T, u MessageUpdate) types.Log {
	t.Helper()

	stringType, err := abi.NewType("string", "", nil)
	if err != nil {
		t.Fatalf("Failed to create string type: %v", err)
	}
	uintType, err := abi.NewType("uint256", "", nil)
	if err != nil {
		t.Fatalf("Failed to create uint256 type: %v", err)
	}

	args := abi.Arguments{
		{Name: "oldMessage", Type: stringType},
		{Name: "newMessage", Type: stringType},
		{Name: "timestamp", Type: uintType},
	}
	data, err := args.Pack(u.OldMessage, u.NewMessage, big.NewInt(u.Timestamp))
	if err != nil {
		t.Fatalf("Failed to pack MessageUpdated data: %v", err)
	}

	contract := u.Contract
	if contract == (common.Address{}) {
		contract = TestContract
	}

	return types.Log{
		Address: contract,
		Topics: []common.Hash{
			crypto.Keccak256Hash([]byte(MessageUpdatedSignature)),
			common.BytesToHash(u.Sender.Bytes()),
		},
		Data:        data,
		BlockNumber: u.BlockNumber,
		TxHash:      TxHash(u.BlockNumber, u.LogIndex),
		Index:       u.LogIndex,
	}
}

// TxHash derives a deterministic transaction hash for a log position
func TxHash(blockNumber uint64, logIndex uint) common.Hash {
	return crypto.Keccak256Hash(
		common.BigToHash(new(big.Int).SetUint64(blockNumber)).Bytes(),
		common.BigToHash(new(big.Int).SetUint64(uint64(logIndex))).Bytes(),
	)
}

// NewTestReceipt creates a test receipt for the given transaction hash
func NewTestReceipt(txHash common.Hash, blockNumber uint64, status uint64) *types.Receipt {
	return &types.Receipt{
		Type:              types.DynamicFeeTxType,
		Status:            status,
		CumulativeGasUsed: 28000,
		BlockNumber:       new(big.Int).SetUint64(blockNumber),
		TxHash:            txHash,
		GasUsed:           28000,
		Logs:              []*types.Log{},
	}
}
