// Package store defines the persistence interface for wallet portfolios.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// The engine calls SavePortfolio only at checkpoints after a completed
// mutation — never mid-mutation — so a stored portfolio is always a
// consistent snapshot.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/tokensentry/risk-engine/internal/model"
)

// ErrNotFound is returned when no portfolio exists for a wallet.
var ErrNotFound = errors.New("store: portfolio not found")

// MaxHistorySamples caps the per-wallet value history; older samples are
// truncated on append.
const MaxHistorySamples = 1000

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// SavePortfolio upserts a full portfolio snapshot (positions included).
	SavePortfolio(ctx context.Context, pf *model.Portfolio) error

	// LoadPortfolio retrieves a wallet's portfolio, or ErrNotFound.
	LoadPortfolio(ctx context.Context, wallet string) (*model.Portfolio, error)

	// DeletePortfolio removes a wallet's portfolio and history.
	DeletePortfolio(ctx context.Context, wallet string) error

	// ListWallets returns all tracked wallet addresses.
	ListWallets(ctx context.Context) ([]string, error)

	// AppendValueSample records one (timestamp, total value) history point,
	// truncating to MaxHistorySamples.
	AppendValueSample(ctx context.Context, wallet string, sample model.ValueSample) error

	// GetValueHistory returns history samples within [start, end] in
	// ascending time order.
	GetValueHistory(ctx context.Context, wallet string, start, end time.Time) ([]model.ValueSample, error)
}
