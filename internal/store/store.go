// Package store defines the persistence interface for the curve engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/atmx/curve-engine/internal/model"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Protocol ---

	// CreateIssuerConfig persists the protocol singleton. A second call
	// fails with ErrAlreadyExists.
	CreateIssuerConfig(ctx context.Context, cfg *model.IssuerConfig) error

	// GetIssuerConfig returns the protocol singleton or ErrNotFound.
	GetIssuerConfig(ctx context.Context) (*model.IssuerConfig, error)

	// --- Pools ---

	// CreatePool persists a newly launched pool.
	CreatePool(ctx context.Context, pool *model.Pool) error

	// GetPool retrieves a pool by its asset identity.
	GetPool(ctx context.Context, asset model.Address) (*model.Pool, error)

	// ListPools returns all pools, newest first.
	ListPools(ctx context.Context) ([]model.Pool, error)

	// CommitTrade writes the post-trade pool state and appends the trade
	// record as one unit: both land or neither does.
	CommitTrade(ctx context.Context, pool *model.Pool, rec *model.TradeRecord) error

	// --- Trade history ---

	// GetTradesByPool returns all records for an asset, oldest first.
	GetTradesByPool(ctx context.Context, asset model.Address) ([]model.TradeRecord, error)

	// GetTradesByTrader returns all records for a trader, oldest first.
	GetTradesByTrader(ctx context.Context, trader model.Address) ([]model.TradeRecord, error)
}
