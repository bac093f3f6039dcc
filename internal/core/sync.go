package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const DefaultSyncTimeout = 10 * time.Second

// Storefront is the hosted shop platform. Variants are addressed by their
// external id.
type Storefront interface {
	SetInventoryLevel(ctx context.Context, externalID string, quantity int64) error
	InventoryLevel(ctx context.Context, externalID string) (int64, error)
	SetPrice(ctx context.Context, externalID string, price decimal.Decimal) error
}

type SyncStatus string

const (
	SyncSynced  SyncStatus = "synced"
	SyncSkipped SyncStatus = "skipped"
	SyncFailed  SyncStatus = "failed"
)

// SyncResult is the outcome of one storefront push. Warning is set only when
// Status is SyncFailed.
type SyncResult struct {
	Status   SyncStatus    `json:"status"`
	Warning  *SyncWarning  `json:"warning,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Notifier pushes committed quantities to the storefront. It makes one
// attempt per call, bounded by its timeout, and never returns an error: a
// failed push becomes a SyncWarning.
type Notifier struct {
	storefront Storefront
	timeout    time.Duration
	log        logrus.FieldLogger
}

// NewNotifier returns a Notifier. A nil storefront makes every call a skip.
func NewNotifier(storefront Storefront, timeout time.Duration, log logrus.FieldLogger) *Notifier {
	if timeout <= 0 {
		timeout = DefaultSyncTimeout
	}
	return &Notifier{storefront: storefront, timeout: timeout, log: log}
}

func (n *Notifier) Notify(ctx context.Context, v Variant, quantity int64) SyncResult {
	if n.storefront == nil || v.ExternalID == "" {
		return SyncResult{Status: SyncSkipped}
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	start := time.Now()
	err := n.storefront.SetInventoryLevel(ctx, v.ExternalID, quantity)
	elapsed := time.Since(start)
	if err != nil {
		w := &SyncWarning{
			VariantID:  v.ID,
			ExternalID: v.ExternalID,
			Quantity:   quantity,
			Message:    err.Error(),
		}
		n.log.WithFields(logrus.Fields{
			"variant_id":  v.ID,
			"external_id": v.ExternalID,
			"quantity":    quantity,
		}).WithError(err).Warn("storefront inventory sync failed")
		return SyncResult{Status: SyncFailed, Warning: w, Duration: elapsed}
	}
	return SyncResult{Status: SyncSynced, Duration: elapsed}
}
