package contract

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// HelloStorageABI is the JSON ABI of the HelloStorage contract
const HelloStorageABI = `[
	{
		"inputs": [],
		"name": "message",
		"outputs": [{"internalType": "string", "name": "", "type": "string"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "string", "name": "newMessage", "type": "string"}],
		"name": "setMessage",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "address", "name": "sender", "type": "address"},
			{"indexed": false, "internalType": "string", "name": "oldMessage", "type": "string"},
			{"indexed": false, "internalType": "string", "name": "newMessage", "type": "string"},
			{"indexed": false, "internalType": "uint256", "name": "timestamp", "type": "uint256"}
		],
		"name": "MessageUpdated",
		"type": "event"
	}
]`

const (
	methodMessage    = "message"
	methodSetMessage = "setMessage"
	eventUpdated     = "MessageUpdated"
)

var (
	parsedABI = mustParseABI(HelloStorageABI)

	// MessageUpdatedTopic is topic0 of MessageUpdated logs
	MessageUpdatedTopic common.Hash = parsedABI.Events[eventUpdated].ID
)

func mustParseABI(abiJSON string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		panic(fmt.Sprintf("failed to parse HelloStorage ABI: %v", err))
	}
	return parsed
}
