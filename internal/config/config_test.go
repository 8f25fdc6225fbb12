package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testContract = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

func validConfig() *Config {
	cfg := NewConfig()
	cfg.RPC.Endpoint = "http://localhost:8545"
	cfg.Contract.Address = testContract
	return cfg
}

// TestNewConfig tests creating a config with defaults
func TestNewConfig(t *testing.T) {
	cfg := NewConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, uint64(450), cfg.History.MaxBlockRange)
	assert.Equal(t, 3, cfg.History.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.History.WindowDelay)
	assert.Equal(t, time.Second, cfg.History.RetryDelay)
	assert.Equal(t, uint64(11155111), cfg.Contract.ChainID)
	assert.Equal(t, []string{"*"}, cfg.API.AllowedOrigins)
}

// TestConfigValidation tests configuration validation
func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "missing RPC endpoint", mutate: func(c *Config) { c.RPC.Endpoint = "" }, wantErr: "RPC endpoint"},
		{name: "bad contract address", mutate: func(c *Config) { c.Contract.Address = "0x1234" }, wantErr: "contract address"},
		{name: "zero range", mutate: func(c *Config) { c.History.MaxBlockRange = 0 }, wantErr: "max block range"},
		{name: "zero retries", mutate: func(c *Config) { c.History.MaxRetries = 0 }, wantErr: "max retries"},
		{name: "negative delay", mutate: func(c *Config) { c.History.RetryDelay = -time.Second }, wantErr: "negative"},
		{name: "bad zone", mutate: func(c *Config) { c.History.TimeZone = "Mars/Olympus" }, wantErr: "time zone"},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "trace" }, wantErr: "log level"},
		{name: "bad log format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: "log format"},
		{
			name: "bad api port",
			mutate: func(c *Config) {
				c.API.Enabled = true
				c.API.Port = 70000
			},
			wantErr: "API port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// TestLoadFromFile tests loading configuration from YAML file
func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
rpc:
  endpoint: "https://rpc.sepolia.org"
  timeout: 10s
contract:
  address: "` + testContract + `"
  deployment_block: 5000000
  chain_id: 11155111
history:
  max_block_range: 1000
  max_retries: 5
  window_delay: 250ms
  retry_delay: 2s
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg := NewConfig()
	require.NoError(t, cfg.LoadFromFile(path))

	assert.Equal(t, "https://rpc.sepolia.org", cfg.RPC.Endpoint)
	assert.Equal(t, 10*time.Second, cfg.RPC.Timeout)
	assert.Equal(t, uint64(5000000), cfg.Contract.DeploymentBlock)
	assert.Equal(t, uint64(1000), cfg.History.MaxBlockRange)
	assert.Equal(t, 5, cfg.History.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.History.WindowDelay)
	assert.Equal(t, 2*time.Second, cfg.History.RetryDelay)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())

	assert.Error(t, cfg.LoadFromFile(filepath.Join(dir, "missing.yaml")))
}

// TestLoadFromEnv tests environment overrides and front-end fallbacks
func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HELLOSTORAGE_RPC_ENDPOINT", "http://node:8545")
	t.Setenv("NEXT_PUBLIC_CONTRACT_ADDRESS", testContract)
	t.Setenv("NEXT_PUBLIC_DEPLOYMENT_BLOCK", "1234")
	t.Setenv("NEXT_PUBLIC_CHAIN_ID", "0xaa36a7")
	t.Setenv("HELLOSTORAGE_HISTORY_MAX_RETRIES", "7")
	t.Setenv("HELLOSTORAGE_HISTORY_WINDOW_DELAY", "1s")
	t.Setenv("HELLOSTORAGE_API_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg := NewConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "http://node:8545", cfg.RPC.Endpoint)
	assert.Equal(t, testContract, cfg.Contract.Address)
	assert.Equal(t, uint64(1234), cfg.Contract.DeploymentBlock)
	assert.Equal(t, uint64(11155111), cfg.Contract.ChainID)
	assert.Equal(t, 7, cfg.History.MaxRetries)
	assert.Equal(t, time.Second, cfg.History.WindowDelay)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.API.AllowedOrigins)
	assert.True(t, cfg.API.EnableCORS)
}

func TestLoadFromEnvInvalid(t *testing.T) {
	t.Setenv("HELLOSTORAGE_DEPLOYMENT_BLOCK", "genesis")
	assert.Error(t, NewConfig().LoadFromEnv())
}

func TestPreferredEnvWinsOverFallback(t *testing.T) {
	t.Setenv("HELLOSTORAGE_DEPLOYMENT_BLOCK", "10")
	t.Setenv("NEXT_PUBLIC_DEPLOYMENT_BLOCK", "20")

	cfg := NewConfig()
	require.NoError(t, cfg.LoadFromEnv())
	assert.Equal(t, uint64(10), cfg.Contract.DeploymentBlock)
}

func TestParseChainID(t *testing.T) {
	v, err := parseChainID("0xaa36a7")
	require.NoError(t, err)
	assert.Equal(t, uint64(11155111), v)

	v, err = parseChainID("31337")
	require.NoError(t, err)
	assert.Equal(t, uint64(31337), v)

	_, err = parseChainID("0xzz")
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	t.Setenv("HELLOSTORAGE_RPC_ENDPOINT", "http://node:8545")
	t.Setenv("HELLOSTORAGE_CONTRACT_ADDRESS", testContract)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://node:8545", cfg.RPC.Endpoint)

	_, err = Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestHistoryLocation(t *testing.T) {
	assert.Equal(t, time.Local, HistoryConfig{}.Location())
	assert.Equal(t, "UTC", HistoryConfig{TimeZone: "UTC"}.Location().String())
}
