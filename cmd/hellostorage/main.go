package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/0xmhha/hellostorage-go/api"
	"github.com/0xmhha/hellostorage-go/client"
	"github.com/0xmhha/hellostorage-go/contract"
	"github.com/0xmhha/hellostorage-go/history"
	"github.com/0xmhha/hellostorage-go/internal/config"
	"github.com/0xmhha/hellostorage-go/internal/constants"
	"github.com/0xmhha/hellostorage-go/internal/logger"
	"github.com/0xmhha/hellostorage-go/service"
	"github.com/0xmhha/hellostorage-go/storage"
)

var (
	// Version information (injected at build time)
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// flags holds command-line overrides; zero values leave the configuration untouched
type flags struct {
	configFile  string
	showVersion bool
	rpcEndpoint string
	contract    string
	origin      uint64
	dbPath      string
	logLevel    string
	logFormat   string
	enableAPI   bool
	apiHost     string
	apiPort     int

	printHistory bool
	cached       bool
	setMessage   string
}

func parseFlags(fs *flag.FlagSet, args []string) (*flags, error) {
	f := &flags{}
	fs.StringVar(&f.configFile, "config", "", "Path to configuration file (YAML)")
	fs.BoolVar(&f.showVersion, "version", false, "Show version information and exit")
	fs.StringVar(&f.rpcEndpoint, "rpc", "", "Ethereum RPC endpoint URL")
	fs.StringVar(&f.contract, "contract", "", "HelloStorage contract address")
	fs.Uint64Var(&f.origin, "origin", 0, "Block to start the history scan from (default: deployment block)")
	fs.StringVar(&f.dbPath, "db", "", "Snapshot cache path")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.logFormat, "log-format", "", "Log format (json, console)")
	fs.BoolVar(&f.enableAPI, "api", false, "Enable API server")
	fs.StringVar(&f.apiHost, "api-host", "", "API server host")
	fs.IntVar(&f.apiPort, "api-port", 0, "API server port")
	fs.BoolVar(&f.printHistory, "history", false, "Print the message history as JSON and exit")
	fs.BoolVar(&f.cached, "cached", false, "With -history, print the stored snapshot instead of scanning")
	fs.StringVar(&f.setMessage, "set", "", "Submit a new message, wait for it to be mined and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

func main() {
	f, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	if f.showVersion {
		fmt.Printf("hellostorage version %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", buildTime)
		os.Exit(0)
	}

	cfg, err := loadConfig(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, f, log); err != nil {
		log.Error("hellostorage stopped with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

// loadConfig resolves configuration: defaults, YAML file, environment (.env included), flags
func loadConfig(f *flags) (*config.Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg := config.NewConfig()
	if f.configFile != "" {
		if err := cfg.LoadFromFile(f.configFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	applyFlags(cfg, f)
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadDotEnv() error {
	info, err := os.Stat(".env")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat .env: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf(".env exists but is a directory")
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

func applyFlags(cfg *config.Config, f *flags) {
	if f.rpcEndpoint != "" {
		cfg.RPC.Endpoint = f.rpcEndpoint
	}
	if f.contract != "" {
		cfg.Contract.Address = f.contract
	}
	if f.origin > 0 {
		cfg.Contract.DeploymentBlock = f.origin
	}
	if f.dbPath != "" {
		cfg.Database.Path = f.dbPath
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Log.Format = f.logFormat
	}
	if f.enableAPI {
		cfg.API.Enabled = true
	}
	if f.apiHost != "" {
		cfg.API.Host = f.apiHost
	}
	if f.apiPort > 0 {
		cfg.API.Port = f.apiPort
	}
}

func historyConfig(cfg *config.Config) *history.Config {
	hc := history.DefaultConfig()
	hc.MaxRange = cfg.History.MaxBlockRange
	hc.MaxRetries = cfg.History.MaxRetries
	hc.WindowDelay = cfg.History.WindowDelay
	hc.RetryDelay = cfg.History.RetryDelay
	hc.TimeLayout = cfg.History.TimeLayout
	hc.Location = cfg.History.Location()
	return hc
}

func apiConfig(cfg *config.Config) *api.Config {
	ac := api.DefaultConfig()
	ac.Host = cfg.API.Host
	ac.Port = cfg.API.Port
	ac.EnableGraphQL = cfg.API.EnableGraphQL
	ac.EnableWebSocket = cfg.API.EnableWebSocket
	ac.EnableCORS = cfg.API.EnableCORS
	ac.AllowedOrigins = cfg.API.AllowedOrigins
	ac.EnableRateLimit = cfg.API.EnableRateLimit
	ac.RateLimitPerSecond = cfg.API.RateLimitPerSecond
	ac.RateLimitBurst = cfg.API.RateLimitBurst
	return ac
}

// newSigner builds the optional signer; an empty key means read-only
func newSigner(cfg *config.Config) (*contract.Signer, error) {
	if cfg.Signer.PrivateKey == "" {
		return nil, nil
	}
	return contract.NewSigner(cfg.Signer.PrivateKey, new(big.Int).SetUint64(cfg.Contract.ChainID))
}

func run(ctx context.Context, cfg *config.Config, f *flags, log *zap.Logger) error {
	log.Info("Starting hellostorage",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("rpc_endpoint", cfg.RPC.Endpoint),
		zap.String("contract", cfg.Contract.Address),
		zap.Uint64("deployment_block", cfg.Contract.DeploymentBlock),
	)

	ethClient, err := client.NewClient(&client.Config{
		Endpoint: cfg.RPC.Endpoint,
		Timeout:  cfg.RPC.Timeout,
		Logger:   logger.WithComponent(log, "client"),
	})
	if err != nil {
		return fmt.Errorf("failed to create Ethereum client: %w", err)
	}
	defer ethClient.Close()

	chainID, err := ethClient.GetChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to get chain ID: %w", err)
	}
	if chainID.Uint64() != cfg.Contract.ChainID {
		return fmt.Errorf("endpoint is on chain %s, expected %d", chainID, cfg.Contract.ChainID)
	}
	log.Info("Connected to chain", zap.String("chain_id", chainID.String()))

	signer, err := newSigner(cfg)
	if err != nil {
		return err
	}
	if signer != nil {
		log.Info("Signer configured", zap.String("account", signer.Address().Hex()))
	} else {
		log.Info("No signer configured, running read-only")
	}

	binding, err := contract.NewHelloStorage(ethClient, &contract.Config{
		Address:            common.HexToAddress(cfg.Contract.Address),
		Signer:             signer,
		ConfirmTimeout:     cfg.Signer.ConfirmTimeout,
		PollInterval:       cfg.Signer.PollInterval,
		GasLimitMultiplier: constants.DefaultGasLimitMultiplier,
	}, logger.WithComponent(log, "contract"))
	if err != nil {
		return err
	}

	metrics := history.NewMetrics(prometheus.DefaultRegisterer, "")
	fetcher, err := history.NewFetcher(binding, historyConfig(cfg), logger.WithComponent(log, "history"), metrics)
	if err != nil {
		return err
	}

	var store storage.Storage
	if cfg.Database.Path != "" {
		storageConfig := storage.DefaultConfig(cfg.Database.Path)
		storageConfig.ReadOnly = cfg.Database.ReadOnly
		pebbleStore, err := storage.NewPebbleStorage(storageConfig)
		if err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		pebbleStore.SetLogger(logger.WithComponent(log, "storage"))
		defer func() {
			if err := pebbleStore.Close(); err != nil {
				log.Error("Failed to close storage", zap.Error(err))
			}
		}()
		store = pebbleStore
		log.Info("Snapshot cache initialized", zap.String("path", cfg.Database.Path))
	}

	svc, err := service.New(binding, fetcher, store, &service.Config{
		DeploymentBlock: cfg.Contract.DeploymentBlock,
		ExplorerTxURL:   cfg.Contract.ExplorerTxURL,
		MaxMessageBytes: constants.MaxMessageBytes,
	}, logger.WithComponent(log, "service"))
	if err != nil {
		return err
	}
	defer svc.Close()

	switch {
	case f.setMessage != "":
		return runSet(ctx, svc, f.setMessage)
	case f.printHistory:
		return runHistory(ctx, svc, f.cached)
	default:
		return runServer(ctx, cfg, svc, log)
	}
}

func runSet(ctx context.Context, svc *service.Service, message string) error {
	confirmation, err := svc.SubmitChange(ctx, message)
	if err != nil {
		return err
	}
	// let the post-write refresh land in the cache before exiting
	svc.Wait()
	return printJSON(struct {
		*contract.Confirmation
		ExplorerURL string `json:"explorerUrl,omitempty"`
	}{confirmation, svc.ExplorerURL(confirmation.TxHash)})
}

func runHistory(ctx context.Context, svc *service.Service, cached bool) error {
	var (
		view *service.HistoryView
		err  error
	)
	if cached {
		view, err = svc.CachedHistory(ctx, nil)
	} else {
		view, err = svc.Refresh(ctx)
	}
	if err != nil {
		return err
	}
	return printJSON(view)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runServer(ctx context.Context, cfg *config.Config, svc *service.Service, log *zap.Logger) error {
	if !cfg.API.Enabled {
		return fmt.Errorf("nothing to do: enable the API server (-api) or pass -history or -set")
	}

	apiServer, err := api.NewServer(apiConfig(cfg), logger.WithComponent(log, "api"), svc, prometheus.DefaultGatherer)
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- apiServer.Start()
	}()

	// Prime the cache and the websocket subscribers
	go func() {
		if _, err := svc.Refresh(ctx); err != nil && !errors.Is(err, service.ErrSuperseded) && !errors.Is(err, context.Canceled) {
			log.Warn("Initial history refresh failed", zap.Error(err))
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Received shutdown signal")
	case err := <-errChan:
		if err != nil {
			return err
		}
	}

	log.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultShutdownTimeout)
	defer cancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop API server gracefully", zap.Error(err))
	}

	log.Info("hellostorage stopped")
	return nil
}
