package app

import (
	"context"
	"io"

	"cardops/internal/core"
)

// ApplicationService is the single interface all UI adapters (CLI, Web) call.
// It decouples presentation from business logic. Implementations must contain
// no fmt.Println and no display logic of any kind.
type ApplicationService interface {
	// IngestCSV reads a bulk upload and runs every row through the pipeline.
	// On cancellation the partial result is returned along with an error
	// wrapping core.ErrCancelled.
	IngestCSV(ctx context.Context, req IngestRequest) (*IngestResult, error)

	// AddLot records a single manually entered lot through the same pipeline.
	AddLot(ctx context.Context, req AddLotRequest) (*AddLotResult, error)

	// StockLevels returns on-hand quantity and cost basis per variant.
	StockLevels(ctx context.Context, req StockRequest) (*StockResult, error)

	// History returns the newest inventory transactions for a variant.
	History(ctx context.Context, variantID int64, limit int) (*HistoryResult, error)

	// Reconcile pushes database quantities to the storefront where they differ.
	Reconcile(ctx context.Context, dryRun bool) (*core.ReconcileReport, error)

	// UpdatePrices recalculates list prices from market data.
	UpdatePrices(ctx context.Context) (*core.PriceReport, error)

	// SeedCatalog upserts cards and variants from a catalog file.
	SeedCatalog(ctx context.Context, r io.Reader) (*SeedResult, error)
}
