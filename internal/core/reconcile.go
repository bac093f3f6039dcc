package core

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// StorefrontLockKey names the lock that serializes storefront writes made by
// the reconcile and price jobs.
const StorefrontLockKey = "storefront"

// Drift is a variant whose storefront quantity differs from the ledger.
type Drift struct {
	VariantID  int64     `json:"variant_id"`
	SKU        string    `json:"sku"`
	CardName   string    `json:"card_name"`
	Condition  Condition `json:"condition"`
	ExternalID string    `json:"external_id"`
	Database   int64     `json:"database_qty"`
	Storefront int64     `json:"storefront_qty"`
	Applied    bool      `json:"applied"`
}

type ReconcileError struct {
	VariantID  int64  `json:"variant_id"`
	ExternalID string `json:"external_id"`
	Message    string `json:"message"`
}

type ReconcileReport struct {
	DryRun  bool             `json:"dry_run"`
	Checked int              `json:"checked"`
	InSync  int              `json:"in_sync"`
	Updated int              `json:"updated"`
	Drifted []Drift          `json:"drifted"`
	Errors  []ReconcileError `json:"errors"`
}

// Reconciler pushes ledger quantities to the storefront wherever the two
// disagree. It is how failed syncs from earlier batches get repaired.
type Reconciler struct {
	reader     LedgerReader
	storefront Storefront
	locker     Locker
	workers    int
	log        logrus.FieldLogger
}

func NewReconciler(reader LedgerReader, storefront Storefront, locker Locker, workers int, log logrus.FieldLogger) *Reconciler {
	if workers <= 0 {
		workers = DefaultBatchWorkers
	}
	return &Reconciler{reader: reader, storefront: storefront, locker: locker, workers: workers, log: log}
}

// Run compares every published variant. With dryRun set nothing is written and
// the drift is only reported.
func (r *Reconciler) Run(ctx context.Context, dryRun bool) (*ReconcileReport, error) {
	if r.storefront == nil {
		return nil, fmt.Errorf("storefront is not configured")
	}
	levels, err := r.reader.ListVariants(ctx, StockFilter{WithExternal: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}

	report := &ReconcileReport{DryRun: dryRun, Checked: len(levels)}
	var mu sync.Mutex
	fail := func(sl StockLevel, err error) {
		mu.Lock()
		defer mu.Unlock()
		report.Errors = append(report.Errors, ReconcileError{VariantID: sl.VariantID, ExternalID: sl.ExternalID, Message: err.Error()})
		r.log.WithFields(logrus.Fields{"variant_id": sl.VariantID, "external_id": sl.ExternalID}).WithError(err).Warn("reconcile failed")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, sl := range levels {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			remote, err := r.storefront.InventoryLevel(gctx, sl.ExternalID)
			if err != nil {
				fail(sl, fmt.Errorf("failed to read storefront level: %w", err))
				return nil
			}
			if remote == sl.OnHand {
				mu.Lock()
				report.InSync++
				mu.Unlock()
				return nil
			}

			d := Drift{
				VariantID:  sl.VariantID,
				SKU:        sl.SKU,
				CardName:   sl.CardName,
				Condition:  sl.Condition,
				ExternalID: sl.ExternalID,
				Database:   sl.OnHand,
				Storefront: remote,
			}
			if !dryRun {
				if err := r.push(gctx, sl); err != nil {
					fail(sl, err)
				} else {
					d.Applied = true
				}
			}

			mu.Lock()
			report.Drifted = append(report.Drifted, d)
			if d.Applied {
				report.Updated++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, fmt.Errorf("reconcile interrupted: %w", err)
	}

	sort.Slice(report.Drifted, func(i, j int) bool { return report.Drifted[i].VariantID < report.Drifted[j].VariantID })
	sort.Slice(report.Errors, func(i, j int) bool { return report.Errors[i].VariantID < report.Errors[j].VariantID })
	return report, nil
}

func (r *Reconciler) push(ctx context.Context, sl StockLevel) error {
	unlock, err := r.locker.Lock(ctx, StorefrontLockKey)
	if err != nil {
		return fmt.Errorf("failed to take storefront lock: %w", err)
	}
	defer unlock()
	if err := r.storefront.SetInventoryLevel(ctx, sl.ExternalID, sl.OnHand); err != nil {
		return fmt.Errorf("failed to set storefront level: %w", err)
	}
	return nil
}
