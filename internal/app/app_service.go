package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cardops/internal/adapters/csvfile"
	"cardops/internal/config"
	"cardops/internal/core"

	"github.com/sirupsen/logrus"
)

// Store is everything the application needs from a database backend. Both
// db.PostgresStore and db.SQLiteStore satisfy it.
type Store interface {
	core.CardCatalog
	core.TxRunner
	core.LedgerReader
	core.PriceStore
	UpsertCard(ctx context.Context, c core.PricedCard) (core.Card, error)
	UpsertVariant(ctx context.Context, v core.Variant) (core.Variant, error)
}

// Deps are the collaborators NewAppService wires together. Storefront and
// Market may be nil when they are not configured.
type Deps struct {
	Store      Store
	Locker     core.Locker
	Storefront core.Storefront
	Market     core.MarketPrices
	Config     *config.Config
	Log        logrus.FieldLogger
}

type appService struct {
	store      Store
	inventory  core.InventoryService
	reconciler *core.Reconciler
	pricer     *core.PriceUpdater
	log        logrus.FieldLogger
}

// NewAppService constructs an appService that satisfies ApplicationService.
func NewAppService(d Deps) ApplicationService {
	cfg := d.Config
	if cfg == nil {
		cfg = config.Default()
	}
	log := d.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	validator := core.NewValidator()
	matcher := core.NewMatcher(d.Store, cfg.MatchThreshold, cfg.MatchSuggestions)
	ledger := core.NewLedger(d.Store, d.Locker)
	notifier := core.NewNotifier(d.Storefront, cfg.SyncTimeout, log)
	orchestrator := core.NewOrchestrator(validator, matcher, ledger, notifier, d.Store, core.OrchestratorConfig{
		Workers:         cfg.BatchWorkers,
		DuplicateWindow: cfg.DuplicateWindow,
	}, log)

	s := &appService{
		store:      d.Store,
		inventory:  core.NewInventoryService(d.Store, orchestrator),
		reconciler: core.NewReconciler(d.Store, d.Storefront, d.Locker, cfg.BatchWorkers, log),
		log:        log,
	}
	if d.Market != nil {
		s.pricer = core.NewPriceUpdater(d.Store, d.Market, d.Storefront, d.Locker, core.PricingConfig{
			USDToCAD: cfg.USDToCAD,
			Markup:   cfg.Markup,
		}, log)
	}
	return s
}

// IngestCSV parses the upload and runs the batch.
func (s *appService) IngestCSV(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	records, header, err := csvfile.ReadRecords(req.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", nameOr(req.Name, "upload"), err)
	}
	s.log.WithFields(logrus.Fields{"file": req.Name, "records": len(records)}).Info("ingesting upload")

	report, err := s.inventory.ReceiveBatch(ctx, records)
	if report == nil {
		return nil, err
	}
	return &IngestResult{Report: report, Header: header}, err
}

// AddLot records one lot. A rejected lot is not an error: the outcome says why.
func (s *appService) AddLot(ctx context.Context, req AddLotRequest) (*AddLotResult, error) {
	out, err := s.inventory.ReceiveLot(ctx, req.raw())
	if err != nil {
		return nil, err
	}
	return &AddLotResult{Outcome: out}, nil
}

func (s *appService) StockLevels(ctx context.Context, req StockRequest) (*StockResult, error) {
	levels, err := s.inventory.GetStockLevels(ctx, core.StockFilter{SetCode: req.SetCode, InStockOnly: req.InStockOnly})
	if err != nil {
		return nil, err
	}
	res := &StockResult{Levels: levels}
	for _, l := range levels {
		res.TotalUnits += l.OnHand
	}
	return res, nil
}

func (s *appService) History(ctx context.Context, variantID int64, limit int) (*HistoryResult, error) {
	txns, err := s.inventory.GetTransactions(ctx, variantID, limit)
	if err != nil {
		return nil, err
	}
	return &HistoryResult{VariantID: variantID, Transactions: txns}, nil
}

func (s *appService) Reconcile(ctx context.Context, dryRun bool) (*core.ReconcileReport, error) {
	return s.reconciler.Run(ctx, dryRun)
}

func (s *appService) UpdatePrices(ctx context.Context) (*core.PriceReport, error) {
	if s.pricer == nil {
		return nil, errors.New("market price source is not configured")
	}
	return s.pricer.Run(ctx)
}

// SeedCatalog upserts every row. Cards are keyed by (set_code, number) and
// variants by (card, condition), so a catalog file can be loaded repeatedly.
func (s *appService) SeedCatalog(ctx context.Context, r io.Reader) (*SeedResult, error) {
	rows, err := csvfile.ReadCatalog(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	res := &SeedResult{}
	cardIDs := make(map[string]int64)
	for _, row := range rows {
		key := row.Card.SetCode + "\x00" + row.Card.Number
		id, ok := cardIDs[key]
		if !ok {
			card, err := s.store.UpsertCard(ctx, row.Card)
			if err != nil {
				return res, fmt.Errorf("card %s-%s: %w", row.Card.SetCode, row.Card.Number, err)
			}
			id = card.ID
			cardIDs[key] = id
			res.Cards++
		}
		v := row.Variant
		v.CardID = id
		if _, err := s.store.UpsertVariant(ctx, v); err != nil {
			return res, fmt.Errorf("variant %s: %w", v.SKU, err)
		}
		res.Variants++
	}
	s.log.WithFields(logrus.Fields{"cards": res.Cards, "variants": res.Variants}).Info("catalog seeded")
	return res, nil
}

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
