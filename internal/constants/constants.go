package constants

import "time"

// API Server Constants
const (
	// DefaultAPIHost is the default API server host
	DefaultAPIHost = "localhost"

	// DefaultAPIPort is the default API server port
	DefaultAPIPort = 8080

	// MinPort is the minimum valid port number
	MinPort = 1

	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// DefaultReadTimeout is the default HTTP read timeout
	DefaultReadTimeout = 15 * time.Second

	// DefaultWriteTimeout is the default HTTP write timeout.
	// A history refresh scans the whole range inside the request, so this is
	// wider than a plain read would need.
	DefaultWriteTimeout = 2 * time.Minute

	// DefaultIdleTimeout is the default HTTP idle timeout
	DefaultIdleTimeout = 60 * time.Second

	// DefaultShutdownTimeout is the default graceful shutdown timeout
	DefaultShutdownTimeout = 30 * time.Second

	// DefaultMaxHeaderBytes is the default maximum request header size (1 MB)
	DefaultMaxHeaderBytes = 1 << 20

	// DefaultRateLimitPerSecond is the default rate limit (requests per second)
	DefaultRateLimitPerSecond = 20

	// DefaultRateLimitBurst is the default rate limit burst size
	DefaultRateLimitBurst = 40

	// MaxMessageBytes caps the size of a submitted message
	MaxMessageBytes = 4096
)

// API Paths
const (
	DefaultGraphQLPath           = "/graphql"
	DefaultGraphQLPlaygroundPath = "/playground"
	DefaultWebSocketPath         = "/ws"
)

// History Fetcher Constants
const (
	// DefaultMaxBlockRange is the widest span a single eth_getLogs call may cover.
	// Public endpoints reject larger spans.
	DefaultMaxBlockRange = 450

	// DefaultHistoryMaxRetries is the number of consecutive failures tolerated per window
	DefaultHistoryMaxRetries = 3

	// DefaultWindowDelay is the pause between successful windows
	DefaultWindowDelay = 500 * time.Millisecond

	// DefaultRetryDelay is the pause before retrying a failed window
	DefaultRetryDelay = 1000 * time.Millisecond

	// DefaultTimeLayout is the layout used to render entry timestamps
	DefaultTimeLayout = "2006-01-02 15:04:05"
)

// RPC Constants
const (
	// DefaultRPCTimeout is the default timeout for dialing and single RPC calls
	DefaultRPCTimeout = 30 * time.Second

	// DefaultReceiptPollInterval is how often a pending transaction receipt is polled
	DefaultReceiptPollInterval = 2 * time.Second

	// DefaultConfirmTimeout bounds the wait for a submitted transaction to be mined
	DefaultConfirmTimeout = 5 * time.Minute

	// DefaultGasLimitMultiplier pads estimated gas (percent)
	DefaultGasLimitMultiplier = 120
)

// Contract Constants
const (
	// DefaultExplorerTxURL is the transaction URL prefix used for explorer links
	DefaultExplorerTxURL = "https://sepolia.etherscan.io/tx/"

	// DefaultChainID is Sepolia
	DefaultChainID = 11155111
)

// Storage Constants
const (
	// DefaultCacheSize is the default cache size in MB for PebbleDB
	DefaultCacheSize = 16

	// DefaultMaxOpenFiles is the default maximum number of open files for PebbleDB
	DefaultMaxOpenFiles = 256

	// DefaultWriteBuffer is the default write buffer size in MB for PebbleDB
	DefaultWriteBuffer = 8
)

// WebSocket Constants
const (
	// DefaultWSReadBufferSize is the default WebSocket read buffer size
	DefaultWSReadBufferSize = 1024

	// DefaultWSWriteBufferSize is the default WebSocket write buffer size
	DefaultWSWriteBufferSize = 1024

	// DefaultWSPingInterval is the default WebSocket ping interval
	DefaultWSPingInterval = 54 * time.Second

	// DefaultWSPongTimeout is the default WebSocket pong timeout
	DefaultWSPongTimeout = 60 * time.Second

	// DefaultWSWriteTimeout is the default WebSocket write timeout
	DefaultWSWriteTimeout = 10 * time.Second

	// DefaultWSSendBuffer is the per-client outbound message buffer
	DefaultWSSendBuffer = 256
)
