package contract

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/0xmhha/hellostorage-go/history"
	"github.com/0xmhha/hellostorage-go/internal/constants"
)

var (
	// ErrRangeQuery wraps a failed ranged event query
	ErrRangeQuery = errors.New("range event query failed")

	// ErrTxReverted is returned when a submitted change is mined but reverted
	ErrTxReverted = errors.New("transaction reverted")
)

// Backend is the chain access HelloStorage needs. *client.Client implements it.
type Backend interface {
	GetLatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	LatestBaseFee(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	WaitMined(ctx context.Context, hash common.Hash, interval time.Duration) (*types.Receipt, error)
}

// Config holds HelloStorage binding configuration
type Config struct {
	Address common.Address

	// Signer is optional; without it the binding is read-only
	Signer *Signer

	// ConfirmTimeout bounds the wait for a receipt; zero waits as long as ctx allows
	ConfirmTimeout time.Duration

	// PollInterval is the receipt polling interval
	PollInterval time.Duration

	// GasLimitMultiplier scales the gas estimate, in percent
	GasLimitMultiplier uint64
}

// Confirmation describes a mined value change
type Confirmation struct {
	TxHash      common.Hash `json:"tx_hash"`
	BlockNumber uint64      `json:"block_number"`
	Status      uint64      `json:"status"`
	GasUsed     uint64      `json:"gas_used"`
}

// HelloStorage binds one deployed HelloStorage contract
type HelloStorage struct {
	backend Backend
	config  *Config
	logger  *zap.Logger
}

var _ history.Source = (*HelloStorage)(nil)

// NewHelloStorage creates a new binding
func NewHelloStorage(backend Backend, config *Config, logger *zap.Logger) (*HelloStorage, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.Address == (common.Address{}) {
		return nil, fmt.Errorf("contract address cannot be zero")
	}
	if config.PollInterval <= 0 {
		config.PollInterval = constants.DefaultReceiptPollInterval
	}
	if config.GasLimitMultiplier == 0 {
		config.GasLimitMultiplier = constants.DefaultGasLimitMultiplier
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HelloStorage{
		backend: backend,
		config:  config,
		logger:  logger,
	}, nil
}

// Address returns the contract address
func (h *HelloStorage) Address() common.Address {
	return h.config.Address
}

// CanWrite reports whether a signer is configured
func (h *HelloStorage) CanWrite() bool {
	return h.config.Signer != nil
}

// Account returns the signer account, or the zero address when read-only
func (h *HelloStorage) Account() common.Address {
	if h.config.Signer == nil {
		return common.Address{}
	}
	return h.config.Signer.Address()
}

// CurrentHeight returns the latest block number
func (h *HelloStorage) CurrentHeight(ctx context.Context) (uint64, error) {
	return h.backend.GetLatestBlockNumber(ctx)
}

// RangeEventQuery returns the MessageUpdated logs emitted in [from, to].
// Logs removed by a reorg are dropped.
func (h *HelloStorage) RangeEventQuery(ctx context.Context, from, to uint64) ([]types.Log, error) {
	if from > to {
		return nil, fmt.Errorf("%w: invalid range [%d, %d]", ErrRangeQuery, from, to)
	}

	logs, err := h.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{h.config.Address},
		Topics:    [][]common.Hash{{MessageUpdatedTopic}},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: [%d, %d]: %w", ErrRangeQuery, from, to, err)
	}

	kept := logs[:0]
	for _, log := range logs {
		if log.Removed {
			continue
		}
		kept = append(kept, log)
	}
	return kept, nil
}

// DecodeEvent decodes a MessageUpdated log
func (h *HelloStorage) DecodeEvent(log types.Log) (history.Event, error) {
	return DecodeMessageUpdated(log)
}

// DecodeMessageUpdated decodes a MessageUpdated log into a history event
func DecodeMessageUpdated(log types.Log) (history.Event, error) {
	if len(log.Topics) == 0 {
		return history.Event{}, fmt.Errorf("%w: log has no topics", history.ErrMalformedEvent)
	}
	if log.Topics[0] != MessageUpdatedTopic {
		return history.Event{}, fmt.Errorf("%w: unexpected topic %s", history.ErrMalformedEvent, log.Topics[0].Hex())
	}

	event := parsedABI.Events[eventUpdated]
	args := make(map[string]interface{})

	var indexed abi.Arguments
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}

	// Deployments that do not index sender carry every field in data.
	// The topic hash is the same either way.
	data := event.Inputs.NonIndexed()
	switch len(log.Topics) - 1 {
	case len(indexed):
		if err := abi.ParseTopicsIntoMap(args, indexed, log.Topics[1:]); err != nil {
			return history.Event{}, fmt.Errorf("%w: indexed parameters: %w", history.ErrMalformedEvent, err)
		}
	case 0:
		data = unindexed(event.Inputs)
	default:
		return history.Event{}, fmt.Errorf("%w: expected %d indexed topics, got %d",
			history.ErrMalformedEvent, len(indexed), len(log.Topics)-1)
	}

	if err := data.UnpackIntoMap(args, log.Data); err != nil {
		return history.Event{}, fmt.Errorf("%w: data: %w", history.ErrMalformedEvent, err)
	}

	sender, ok := args["sender"].(common.Address)
	if !ok {
		return history.Event{}, fmt.Errorf("%w: sender missing", history.ErrMalformedEvent)
	}
	oldMessage, ok := args["oldMessage"].(string)
	if !ok {
		return history.Event{}, fmt.Errorf("%w: oldMessage missing", history.ErrMalformedEvent)
	}
	newMessage, ok := args["newMessage"].(string)
	if !ok {
		return history.Event{}, fmt.Errorf("%w: newMessage missing", history.ErrMalformedEvent)
	}
	timestamp, ok := args["timestamp"].(*big.Int)
	if !ok || timestamp == nil {
		return history.Event{}, fmt.Errorf("%w: timestamp missing", history.ErrMalformedEvent)
	}
	if !timestamp.IsInt64() {
		return history.Event{}, fmt.Errorf("%w: timestamp %s out of range", history.ErrMalformedEvent, timestamp)
	}

	return history.Event{
		Sender:    sender,
		OldValue:  oldMessage,
		NewValue:  newMessage,
		Timestamp: timestamp.Int64(),
	}, nil
}

// unindexed returns a copy of args with every argument stored in data
func unindexed(args abi.Arguments) abi.Arguments {
	out := make(abi.Arguments, len(args))
	for i, arg := range args {
		arg.Indexed = false
		out[i] = arg
	}
	return out
}

// CurrentValue reads message() at the latest block
func (h *HelloStorage) CurrentValue(ctx context.Context) (string, error) {
	input, err := parsedABI.Pack(methodMessage)
	if err != nil {
		return "", fmt.Errorf("failed to pack %s: %w", methodMessage, err)
	}

	to := h.config.Address
	out, err := h.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input})
	if err != nil {
		return "", err
	}
	if len(out) == 0 {
		return "", fmt.Errorf("no contract code at %s", to.Hex())
	}

	values, err := parsedABI.Unpack(methodMessage, out)
	if err != nil {
		return "", fmt.Errorf("failed to unpack %s: %w", methodMessage, err)
	}
	message, ok := values[0].(string)
	if !ok {
		return "", fmt.Errorf("unexpected %s result type %T", methodMessage, values[0])
	}
	return message, nil
}

// SubmitChange sends setMessage(newValue) and waits until it is mined
func (h *HelloStorage) SubmitChange(ctx context.Context, newValue string) (*Confirmation, error) {
	signer := h.config.Signer
	if signer == nil {
		return nil, ErrNoSigner
	}

	input, err := parsedABI.Pack(methodSetMessage, newValue)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", methodSetMessage, err)
	}

	tx, err := h.buildTx(ctx, signer.Address(), signer.ChainID(), input)
	if err != nil {
		return nil, err
	}
	signed, err := signer.SignTx(tx)
	if err != nil {
		return nil, err
	}

	if err := h.backend.SendTransaction(ctx, signed); err != nil {
		return nil, err
	}

	logger := h.logger.With(zap.String("tx_hash", signed.Hash().Hex()))
	logger.Info("Submitted message change",
		zap.String("from", signer.Address().Hex()),
		zap.Uint64("nonce", signed.Nonce()),
		zap.Uint64("gas", signed.Gas()),
	)

	waitCtx := ctx
	if h.config.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, h.config.ConfirmTimeout)
		defer cancel()
	}

	receipt, err := h.backend.WaitMined(waitCtx, signed.Hash(), h.config.PollInterval)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm %s: %w", signed.Hash().Hex(), err)
	}

	confirmation := &Confirmation{
		TxHash:  signed.Hash(),
		Status:  receipt.Status,
		GasUsed: receipt.GasUsed,
	}
	if receipt.BlockNumber != nil {
		confirmation.BlockNumber = receipt.BlockNumber.Uint64()
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		logger.Warn("Message change reverted", zap.Uint64("block", confirmation.BlockNumber))
		return confirmation, fmt.Errorf("%w: %s", ErrTxReverted, signed.Hash().Hex())
	}

	logger.Info("Message change confirmed",
		zap.Uint64("block", confirmation.BlockNumber),
		zap.Uint64("gas_used", receipt.GasUsed),
	)
	return confirmation, nil
}

// buildTx assembles an unsigned EIP-1559 call to the contract
func (h *HelloStorage) buildTx(ctx context.Context, from common.Address, chainID *big.Int, input []byte) (*types.Transaction, error) {
	to := h.config.Address

	nonce, err := h.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, err
	}
	tip, err := h.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, err
	}
	baseFee, err := h.backend.LatestBaseFee(ctx)
	if err != nil {
		return nil, err
	}
	// room for the base fee to double before the tx becomes unmineable
	feeCap := new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), tip)

	gas, err := h.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:      from,
		To:        &to,
		GasFeeCap: feeCap,
		GasTipCap: tip,
		Data:      input,
	})
	if err != nil {
		return nil, err
	}
	gas = gas * h.config.GasLimitMultiplier / 100

	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     big.NewInt(0),
		Data:      input,
	}), nil
}
