package core

import (
	"context"
	"errors"
	"fmt"
)

// LedgerReader is the read side of the inventory ledger.
type LedgerReader interface {
	AdditionHistory
	ListVariants(ctx context.Context, filter StockFilter) ([]StockLevel, error)
	ListTransactions(ctx context.Context, variantID int64, limit int) ([]InventoryTransaction, error)
}

// InventoryService manages card stock levels and cost basis.
// Writes go through the Orchestrator so single entries and CSV batches share one pipeline.
type InventoryService interface {
	// ReceiveLot records one manually entered lot. The outcome is returned even when err is non-nil.
	ReceiveLot(ctx context.Context, raw RawRecord) (Outcome, error)
	// ReceiveBatch records every row of a bulk upload. The report is returned even when err is non-nil.
	ReceiveBatch(ctx context.Context, records []RawRecord) (*BatchReport, error)

	GetStockLevels(ctx context.Context, filter StockFilter) ([]StockLevel, error)
	// GetTransactions returns the newest transactions for a variant first.
	GetTransactions(ctx context.Context, variantID int64, limit int) ([]InventoryTransaction, error)
}

type inventoryService struct {
	reader       LedgerReader
	orchestrator *Orchestrator
}

func NewInventoryService(reader LedgerReader, orchestrator *Orchestrator) InventoryService {
	return &inventoryService{reader: reader, orchestrator: orchestrator}
}

// ── Writes ────────────────────────────────────────────────────────────────────

func (s *inventoryService) ReceiveLot(ctx context.Context, raw RawRecord) (Outcome, error) {
	if raw.Line == 0 {
		raw.Line = 1
	}
	out, err := s.orchestrator.RunOne(ctx, raw)
	if err != nil {
		return out, fmt.Errorf("failed to receive lot: %w", err)
	}
	return out, nil
}

func (s *inventoryService) ReceiveBatch(ctx context.Context, records []RawRecord) (*BatchReport, error) {
	report, err := s.orchestrator.Run(ctx, records)
	if err != nil {
		return report, fmt.Errorf("failed to complete batch: %w", err)
	}
	return report, nil
}

// ── Reads ─────────────────────────────────────────────────────────────────────

func (s *inventoryService) GetStockLevels(ctx context.Context, filter StockFilter) ([]StockLevel, error) {
	levels, err := s.reader.ListVariants(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock levels: %w", err)
	}
	return levels, nil
}

func (s *inventoryService) GetTransactions(ctx context.Context, variantID int64, limit int) ([]InventoryTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	txns, err := s.reader.ListTransactions(ctx, variantID, limit)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("variant %d: %w", variantID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	return txns, nil
}
