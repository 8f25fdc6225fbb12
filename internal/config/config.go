package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/0xmhha/hellostorage-go/internal/constants"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	RPC      RPCConfig      `yaml:"rpc"`
	Contract ContractConfig `yaml:"contract"`
	Signer   SignerConfig   `yaml:"signer"`
	History  HistoryConfig  `yaml:"history"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	API      APIConfig      `yaml:"api"`
}

// RPCConfig holds RPC client configuration
type RPCConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ContractConfig identifies the HelloStorage deployment
type ContractConfig struct {
	// Address is the hex address of the deployed contract
	Address string `yaml:"address"`
	// DeploymentBlock is the block the contract was created in; history scans start here
	DeploymentBlock uint64 `yaml:"deployment_block"`
	// ChainID is the expected chain id of the RPC endpoint
	ChainID uint64 `yaml:"chain_id"`
	// ExplorerTxURL is prefixed to transaction hashes to build explorer links
	ExplorerTxURL string `yaml:"explorer_tx_url"`
}

// SignerConfig holds the key used to submit setMessage transactions.
// An empty key leaves the application read-only.
type SignerConfig struct {
	PrivateKey     string        `yaml:"private_key"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

// HistoryConfig holds the bounded-range fetcher policy
type HistoryConfig struct {
	// MaxBlockRange is the widest span a single log query may cover
	MaxBlockRange uint64 `yaml:"max_block_range"`
	// MaxRetries is the number of consecutive failures tolerated per window
	MaxRetries int `yaml:"max_retries"`
	// WindowDelay is the pause between successful windows
	WindowDelay time.Duration `yaml:"window_delay"`
	// RetryDelay is the pause before retrying a failed window
	RetryDelay time.Duration `yaml:"retry_delay"`
	// TimeLayout renders entry timestamps
	TimeLayout string `yaml:"time_layout"`
	// TimeZone is an IANA zone name; empty means the process local zone
	TimeZone string `yaml:"time_zone"`
}

// DatabaseConfig holds snapshot cache configuration
type DatabaseConfig struct {
	// Path of the pebble directory; empty disables the cache
	Path     string `yaml:"path"`
	ReadOnly bool   `yaml:"readonly"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// APIConfig holds API server configuration
type APIConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Host               string   `yaml:"host"`
	Port               int      `yaml:"port"`
	EnableGraphQL      bool     `yaml:"enable_graphql"`
	EnableWebSocket    bool     `yaml:"enable_websocket"`
	EnableCORS         bool     `yaml:"enable_cors"`
	AllowedOrigins     []string `yaml:"allowed_origins"`
	EnableRateLimit    bool     `yaml:"enable_rate_limit"`
	RateLimitPerSecond float64  `yaml:"rate_limit_per_second"`
	RateLimitBurst     int      `yaml:"rate_limit_burst"`
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills zero values with defaults
func (c *Config) SetDefaults() {
	if c.RPC.Timeout == 0 {
		c.RPC.Timeout = constants.DefaultRPCTimeout
	}

	if c.Contract.ChainID == 0 {
		c.Contract.ChainID = constants.DefaultChainID
	}
	if c.Contract.ExplorerTxURL == "" {
		c.Contract.ExplorerTxURL = constants.DefaultExplorerTxURL
	}

	if c.Signer.ConfirmTimeout == 0 {
		c.Signer.ConfirmTimeout = constants.DefaultConfirmTimeout
	}
	if c.Signer.PollInterval == 0 {
		c.Signer.PollInterval = constants.DefaultReceiptPollInterval
	}

	if c.History.MaxBlockRange == 0 {
		c.History.MaxBlockRange = constants.DefaultMaxBlockRange
	}
	if c.History.MaxRetries == 0 {
		c.History.MaxRetries = constants.DefaultHistoryMaxRetries
	}
	if c.History.WindowDelay == 0 {
		c.History.WindowDelay = constants.DefaultWindowDelay
	}
	if c.History.RetryDelay == 0 {
		c.History.RetryDelay = constants.DefaultRetryDelay
	}
	if c.History.TimeLayout == "" {
		c.History.TimeLayout = constants.DefaultTimeLayout
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	if c.API.Host == "" {
		c.API.Host = constants.DefaultAPIHost
	}
	if c.API.Port == 0 {
		c.API.Port = constants.DefaultAPIPort
	}
	if c.API.AllowedOrigins == nil {
		c.API.AllowedOrigins = []string{"*"}
	}
	if c.API.RateLimitPerSecond == 0 {
		c.API.RateLimitPerSecond = constants.DefaultRateLimitPerSecond
	}
	if c.API.RateLimitBurst == 0 {
		c.API.RateLimitBurst = constants.DefaultRateLimitBurst
	}
}

// envLookup returns the first non-empty value among the given variable names
func envLookup(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// LoadFromEnv overrides configuration with HELLOSTORAGE_* environment variables.
// The NEXT_PUBLIC_* names used by the web front-end are honoured as fallbacks.
func (c *Config) LoadFromEnv() error {
	// RPC configuration
	if endpoint := envLookup("HELLOSTORAGE_RPC_ENDPOINT", "NEXT_PUBLIC_RPC_URL"); endpoint != "" {
		c.RPC.Endpoint = endpoint
	}
	if timeout := os.Getenv("HELLOSTORAGE_RPC_TIMEOUT"); timeout != "" {
		duration, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("invalid HELLOSTORAGE_RPC_TIMEOUT: %w", err)
		}
		c.RPC.Timeout = duration
	}

	// Contract configuration
	if addr := envLookup("HELLOSTORAGE_CONTRACT_ADDRESS", "NEXT_PUBLIC_CONTRACT_ADDRESS"); addr != "" {
		c.Contract.Address = addr
	}
	if block := envLookup("HELLOSTORAGE_DEPLOYMENT_BLOCK", "NEXT_PUBLIC_DEPLOYMENT_BLOCK"); block != "" {
		val, err := strconv.ParseUint(block, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid deployment block %q: %w", block, err)
		}
		c.Contract.DeploymentBlock = val
	}
	if chainID := envLookup("HELLOSTORAGE_CHAIN_ID", "NEXT_PUBLIC_CHAIN_ID"); chainID != "" {
		val, err := parseChainID(chainID)
		if err != nil {
			return err
		}
		c.Contract.ChainID = val
	}
	if explorer := os.Getenv("HELLOSTORAGE_EXPLORER_TX_URL"); explorer != "" {
		c.Contract.ExplorerTxURL = explorer
	}

	// Signer configuration
	if key := os.Getenv("HELLOSTORAGE_PRIVATE_KEY"); key != "" {
		c.Signer.PrivateKey = key
	}
	if timeout := os.Getenv("HELLOSTORAGE_CONFIRM_TIMEOUT"); timeout != "" {
		duration, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("invalid HELLOSTORAGE_CONFIRM_TIMEOUT: %w", err)
		}
		c.Signer.ConfirmTimeout = duration
	}

	// History configuration
	if maxRange := os.Getenv("HELLOSTORAGE_HISTORY_MAX_BLOCK_RANGE"); maxRange != "" {
		val, err := strconv.ParseUint(maxRange, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid HELLOSTORAGE_HISTORY_MAX_BLOCK_RANGE: %w", err)
		}
		c.History.MaxBlockRange = val
	}
	if retries := os.Getenv("HELLOSTORAGE_HISTORY_MAX_RETRIES"); retries != "" {
		val, err := strconv.Atoi(retries)
		if err != nil {
			return fmt.Errorf("invalid HELLOSTORAGE_HISTORY_MAX_RETRIES: %w", err)
		}
		c.History.MaxRetries = val
	}
	if delay := os.Getenv("HELLOSTORAGE_HISTORY_WINDOW_DELAY"); delay != "" {
		duration, err := time.ParseDuration(delay)
		if err != nil {
			return fmt.Errorf("invalid HELLOSTORAGE_HISTORY_WINDOW_DELAY: %w", err)
		}
		c.History.WindowDelay = duration
	}
	if delay := os.Getenv("HELLOSTORAGE_HISTORY_RETRY_DELAY"); delay != "" {
		duration, err := time.ParseDuration(delay)
		if err != nil {
			return fmt.Errorf("invalid HELLOSTORAGE_HISTORY_RETRY_DELAY: %w", err)
		}
		c.History.RetryDelay = duration
	}
	if zone := os.Getenv("HELLOSTORAGE_HISTORY_TIME_ZONE"); zone != "" {
		c.History.TimeZone = zone
	}

	// Database configuration
	if path := os.Getenv("HELLOSTORAGE_DB_PATH"); path != "" {
		c.Database.Path = path
	}

	// Log configuration
	if level := os.Getenv("HELLOSTORAGE_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if format := os.Getenv("HELLOSTORAGE_LOG_FORMAT"); format != "" {
		c.Log.Format = format
	}

	// API configuration
	if enabled := os.Getenv("HELLOSTORAGE_API_ENABLED"); enabled != "" {
		val, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid HELLOSTORAGE_API_ENABLED: %w", err)
		}
		c.API.Enabled = val
	}
	if host := os.Getenv("HELLOSTORAGE_API_HOST"); host != "" {
		c.API.Host = host
	}
	if port := os.Getenv("HELLOSTORAGE_API_PORT"); port != "" {
		val, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid HELLOSTORAGE_API_PORT: %w", err)
		}
		c.API.Port = val
	}
	if allowedOrigins := os.Getenv("HELLOSTORAGE_API_CORS_ALLOWED_ORIGINS"); allowedOrigins != "" {
		origins := make([]string, 0)
		for _, origin := range strings.Split(allowedOrigins, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				origins = append(origins, origin)
			}
		}
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		c.API.AllowedOrigins = origins
		c.API.EnableCORS = true
	}

	return nil
}

// parseChainID accepts both decimal ("11155111") and hex ("0xaa36a7") chain ids;
// wallet_switchEthereumChain style configuration uses the hex form.
func parseChainID(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		val, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid chain id %q: %w", s, err)
		}
		return val, nil
	}
	val, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chain id %q: %w", s, err)
	}
	return val, nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.RPC.Endpoint == "" {
		return fmt.Errorf("RPC endpoint is required")
	}
	if c.RPC.Timeout <= 0 {
		return fmt.Errorf("RPC timeout must be positive")
	}

	if !common.IsHexAddress(c.Contract.Address) {
		return fmt.Errorf("invalid contract address %q", c.Contract.Address)
	}

	if c.History.MaxBlockRange == 0 {
		return fmt.Errorf("history max block range must be positive")
	}
	if c.History.MaxRetries <= 0 {
		return fmt.Errorf("history max retries must be positive")
	}
	if c.History.WindowDelay < 0 || c.History.RetryDelay < 0 {
		return fmt.Errorf("history delays cannot be negative")
	}
	if c.History.TimeZone != "" {
		if _, err := time.LoadLocation(c.History.TimeZone); err != nil {
			return fmt.Errorf("invalid history time zone %q: %w", c.History.TimeZone, err)
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, console", c.Log.Format)
	}

	if c.API.Enabled {
		if c.API.Port < constants.MinPort || c.API.Port > constants.MaxPort {
			return fmt.Errorf("invalid API port %d", c.API.Port)
		}
		if c.API.EnableRateLimit && (c.API.RateLimitPerSecond <= 0 || c.API.RateLimitBurst <= 0) {
			return fmt.Errorf("rate limit and burst must be positive when rate limiting is enabled")
		}
	}

	return nil
}

// Location resolves the configured time zone
func (h HistoryConfig) Location() *time.Location {
	if h.TimeZone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(h.TimeZone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Load loads configuration in the following order:
// 1. Set defaults
// 2. Load from file (if provided)
// 3. Load from environment variables (override file)
// 4. Validate
func Load(configFile string) (*Config, error) {
	cfg := NewConfig()

	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	// The file may have zeroed fields explicitly
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
