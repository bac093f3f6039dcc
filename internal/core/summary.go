package core

import (
	"github.com/shopspring/decimal"
)

// StageCounts counts rejected records by the stage they were rejected at.
type StageCounts struct {
	Validating int `json:"validating"`
	Matching   int `json:"matching"`
	Accounting int `json:"accounting"`
	Persisting int `json:"persisting"`
	Cancelled  int `json:"cancelled"`
}

// BatchSummary is the end-of-batch report handed to external reporting.
// TotalCost is the sum of quantity × unit cost of persisted lots, and
// TotalValue the same quantities at the variants' list price.
type BatchSummary struct {
	BatchID           string          `json:"batch_id"`
	Processed         int             `json:"processed"`
	Persisted         int             `json:"persisted"`
	Rejected          int             `json:"rejected"`
	RejectedByStage   StageCounts     `json:"rejected_by_stage"`
	FuzzyMatches      int             `json:"fuzzy_matches"`
	DuplicateSuspects int             `json:"duplicate_suspects"`
	Synced            int             `json:"synced"`
	SyncSkipped       int             `json:"sync_skipped"`
	SyncWarnings      int             `json:"sync_warnings"`
	TotalQuantity     int64           `json:"total_quantity"`
	TotalCost         decimal.Decimal `json:"total_cost"`
	TotalValue        decimal.Decimal `json:"total_value"`
}

// RejectionRate is the share of processed records that were rejected, in [0, 1].
// An empty batch has rate 0.
func (s BatchSummary) RejectionRate() float64 {
	if s.Processed == 0 {
		return 0
	}
	return float64(s.Rejected) / float64(s.Processed)
}

func Summarize(batchID string, outcomes []Outcome) BatchSummary {
	s := BatchSummary{
		BatchID:    batchID,
		Processed:  len(outcomes),
		TotalCost:  decimal.Zero,
		TotalValue: decimal.Zero,
	}
	for _, o := range outcomes {
		if o.Match != nil && o.Match.Fuzzy {
			s.FuzzyMatches++
		}
		if o.Duplicate {
			s.DuplicateSuspects++
		}

		switch o.State {
		case StateRejected:
			s.Rejected++
			switch o.Stage {
			case StageValidating:
				s.RejectedByStage.Validating++
			case StageMatching:
				s.RejectedByStage.Matching++
			case StageAccounting:
				s.RejectedByStage.Accounting++
			case StagePersisting:
				s.RejectedByStage.Persisting++
			case StageCancelled:
				s.RejectedByStage.Cancelled++
			}
		case StateDone:
			s.Persisted++
			p := o.Persisted
			qty := decimal.NewFromInt(p.Transaction.Quantity)
			s.TotalQuantity += p.Transaction.Quantity
			s.TotalCost = s.TotalCost.Add(qty.Mul(p.Transaction.UnitCost))
			s.TotalValue = s.TotalValue.Add(qty.Mul(p.Variant.PriceCAD))
			if o.Sync != nil {
				switch o.Sync.Status {
				case SyncSynced:
					s.Synced++
				case SyncSkipped:
					s.SyncSkipped++
				case SyncFailed:
					s.SyncWarnings++
				}
			}
		}
	}
	s.TotalCost = s.TotalCost.RoundBank(moneyPlaces)
	s.TotalValue = s.TotalValue.RoundBank(moneyPlaces)
	return s
}
