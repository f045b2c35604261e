package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/novix-pay/novix-go/pkg/chain/evm"
	"github.com/novix-pay/novix-go/pkg/facilitator"
	"github.com/novix-pay/novix-go/pkg/network"
	"github.com/novix-pay/novix-go/pkg/types"
)

// Config holds the application configuration
type Config struct {
	Host          string
	Port          string
	EVMPrivateKey string
	RPCURLs       map[types.Network]string

	// Scheduler settings
	LedgerContract     common.Address
	LedgerNetwork      types.Network
	SchedulerPollEvery time.Duration

	// Optional receipt persistence
	DatabaseURL string

	// LogFormat is either "text" or "json"
	LogFormat string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Host:               getEnvOrDefault("HOST", "0.0.0.0"),
		Port:               getEnvOrDefault("PORT", "8080"),
		EVMPrivateKey:      os.Getenv("EVM_PRIVATE_KEY"),
		RPCURLs:            make(map[types.Network]string),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		LogFormat:          getEnvOrDefault("LOG_FORMAT", "text"),
		SchedulerPollEvery: 30 * time.Second,
	}

	// Load RPC URLs
	rpcMapping := map[types.Network]string{
		types.NetworkEtherlink:        "RPC_URL_ETHERLINK",
		types.NetworkEtherlinkTestnet: "RPC_URL_ETHERLINK_TESTNET",
		types.NetworkBaseSepolia:      "RPC_URL_BASE_SEPOLIA",
		types.NetworkBase:             "RPC_URL_BASE",
		types.NetworkAvalancheFuji:    "RPC_URL_AVALANCHE_FUJI",
		types.NetworkAvalanche:        "RPC_URL_AVALANCHE",
		types.NetworkPolygonAmoy:      "RPC_URL_POLYGON_AMOY",
		types.NetworkPolygon:          "RPC_URL_POLYGON",
	}

	for net, envKey := range rpcMapping {
		if url := os.Getenv(envKey); url != "" {
			cfg.RPCURLs[net] = url
		}
	}

	if addr := os.Getenv("LEDGER_CONTRACT_ADDRESS"); addr != "" {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("LEDGER_CONTRACT_ADDRESS is not a valid address: %s", addr)
		}
		cfg.LedgerContract = common.HexToAddress(addr)
	}
	cfg.LedgerNetwork = types.Network(getEnvOrDefault("LEDGER_NETWORK", string(types.NetworkEtherlinkTestnet)))

	if raw := os.Getenv("SCHEDULER_POLL_INTERVAL"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return nil, fmt.Errorf("SCHEDULER_POLL_INTERVAL must be a positive number of seconds: %s", raw)
		}
		cfg.SchedulerPollEvery = time.Duration(seconds) * time.Second
	}

	return cfg, nil
}

// InitializeFacilitator creates a facilitator from the configuration
func (c *Config) InitializeFacilitator() (*facilitator.LocalFacilitator, error) {
	fac := facilitator.NewLocalFacilitator()

	if c.EVMPrivateKey == "" {
		return nil, fmt.Errorf("no EVM private key configured")
	}

	for net, rpcURL := range c.RPCURLs {
		netInfo, err := network.GetNetworkInfo(net)
		if err != nil {
			return nil, fmt.Errorf("failed to get network info for %s: %w", net, err)
		}

		backend, err := evm.Dial(rpcURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s RPC: %w", net, err)
		}

		chainID, err := network.ChainIDBig(net)
		if err != nil {
			return nil, err
		}

		session, err := evm.NewSigningSession(backend, chainID, c.EVMPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create signing session for %s: %w", net, err)
		}

		provider, err := evm.NewProvider(backend, chainID, net, session)
		if err != nil {
			return nil, fmt.Errorf("failed to create EVM provider for %s: %w", net, err)
		}

		fac.AddProvider(net, provider)
		fmt.Printf("Initialized EVM provider for %s (chain ID: %d) at %s\n", netInfo.Name, chainID, rpcURL)
	}

	return fac, nil
}

// InitializeLedgerClient connects the scheduler to the deployed ledger
// contract on the configured network.
func (c *Config) InitializeLedgerClient() (*evm.SigningSession, evm.Backend, error) {
	if c.EVMPrivateKey == "" {
		return nil, nil, fmt.Errorf("no EVM private key configured")
	}
	if c.LedgerContract == (common.Address{}) {
		return nil, nil, fmt.Errorf("LEDGER_CONTRACT_ADDRESS is not set")
	}

	rpcURL, ok := c.RPCURLs[c.LedgerNetwork]
	if !ok {
		return nil, nil, fmt.Errorf("no RPC URL configured for ledger network %s", c.LedgerNetwork)
	}

	backend, err := evm.Dial(rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s RPC: %w", c.LedgerNetwork, err)
	}

	chainID, err := network.ChainIDBig(c.LedgerNetwork)
	if err != nil {
		return nil, nil, err
	}

	session, err := evm.NewSigningSession(backend, chainID, c.EVMPrivateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create signing session: %w", err)
	}

	return session, backend, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
