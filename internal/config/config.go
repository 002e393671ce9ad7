// Package config gathers the service settings from the environment and the
// optional genesis file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"gopkg.in/yaml.v2"

	"github.com/atmx/curve-engine/internal/model"
)

var ErrInvalid = errors.New("config: invalid value")

// Config holds the service settings.
type Config struct {
	Port        string
	DatabaseURL string // empty: in-memory store and ledger
	RedisURL    string // empty: no cache
	CacheTTL    time.Duration
	GenesisFile string

	// GaugeSyncInterval is how often the active pool gauge is recounted
	// from the store.
	GaugeSyncInterval time.Duration

	BoundaryPolicy string
	SellAccounting string

	// DevFaucet enables reserve airdrops. Only honoured with the in-memory
	// ledger.
	DevFaucet bool
}

// Load reads the settings from the process environment.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom reads the settings through getenv.
func LoadFrom(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		Port:              getenv("PORT"),
		DatabaseURL:       getenv("DATABASE_URL"),
		RedisURL:          getenv("REDIS_URL"),
		CacheTTL:          30 * time.Second,
		GenesisFile:       getenv("GENESIS_FILE"),
		GaugeSyncInterval: 30 * time.Second,
		BoundaryPolicy:    getenv("BOUNDARY_POLICY"),
		SellAccounting:    getenv("SELL_ACCOUNTING"),
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if v := getenv("CACHE_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil || ttl <= 0 {
			return nil, fmt.Errorf("%w: CACHE_TTL=%q", ErrInvalid, v)
		}
		cfg.CacheTTL = ttl
	}
	if v := getenv("GAUGE_SYNC_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("%w: GAUGE_SYNC_INTERVAL=%q", ErrInvalid, v)
		}
		cfg.GaugeSyncInterval = d
	}
	if v := getenv("DEV_FAUCET"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%w: DEV_FAUCET=%q", ErrInvalid, v)
		}
		cfg.DevFaucet = on
	}
	return cfg, nil
}

// Genesis is the on-disk form of the issuer config.
type Genesis struct {
	// Base58 identity of the protocol owner. (required)
	Owner string `yaml:"owner"`
	// Base58 identity receiving migrated liquidity. Defaults to the owner.
	SaleTarget string `yaml:"sale_target,omitempty"`
	// Units minted into every pool; zero takes the default supply.
	TotalSupplyToMint     uint64 `yaml:"total_supply_to_mint"`
	InitialVirtualReserve uint64 `yaml:"initial_virtual_reserve"`
	InitialVirtualAsset   uint64 `yaml:"initial_virtual_asset"`
}

// LoadGenesis reads and parses a YAML genesis file.
func LoadGenesis(path string) (*model.IssuerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	return ParseGenesis(data)
}

// ParseGenesis decodes YAML into an issuer config.
func ParseGenesis(data []byte) (*model.IssuerConfig, error) {
	var g Genesis
	if err := yaml.UnmarshalStrict(data, &g); err != nil {
		return nil, fmt.Errorf("%w: genesis: %v", ErrInvalid, err)
	}

	owner, err := solana.PublicKeyFromBase58(g.Owner)
	if err != nil {
		return nil, fmt.Errorf("%w: genesis owner %q: %v", ErrInvalid, g.Owner, err)
	}
	cfg := &model.IssuerConfig{
		Owner:                 owner,
		SaleTarget:            owner,
		TotalSupplyToMint:     g.TotalSupplyToMint,
		InitialVirtualReserve: g.InitialVirtualReserve,
		InitialVirtualAsset:   g.InitialVirtualAsset,
	}
	if g.SaleTarget != "" {
		if cfg.SaleTarget, err = solana.PublicKeyFromBase58(g.SaleTarget); err != nil {
			return nil, fmt.Errorf("%w: genesis sale_target %q: %v", ErrInvalid, g.SaleTarget, err)
		}
	}
	return cfg, nil
}
