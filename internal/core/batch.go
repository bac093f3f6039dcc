package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// State is a record's position in the ingestion pipeline.
type State string

const (
	StatePending    State = "pending"
	StateValidating State = "validating"
	StateMatching   State = "matching"
	StateAccounting State = "accounting"
	StatePersisting State = "persisting"
	StateSyncing    State = "syncing"
	StateDone       State = "done"
	StateRejected   State = "rejected"
)

// Stage names where a rejected record left the pipeline.
type Stage string

const (
	StageValidating Stage = "validating"
	StageMatching   Stage = "matching"
	StageAccounting Stage = "accounting"
	StagePersisting Stage = "persisting"
	StageCancelled  Stage = "cancelled"
)

const (
	DefaultBatchWorkers    = 4
	DefaultDuplicateWindow = 24 * time.Hour
)

// AdditionHistory finds earlier additions to a variant. RecentAddition returns
// ErrNotFound when there is none since the given time.
type AdditionHistory interface {
	RecentAddition(ctx context.Context, variantID int64, since time.Time) (*InventoryTransaction, error)
}

// Outcome is the result of one record. State is StateDone or StateRejected.
// A Done outcome may still carry warnings: fuzzy match, suspected duplicate or
// a failed storefront sync.
type Outcome struct {
	Line      int              `json:"line"`
	Raw       RawRecord        `json:"raw"`
	State     State            `json:"state"`
	Stage     Stage            `json:"stage,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	Err       error            `json:"-"`
	Rejection *Rejection       `json:"rejection,omitempty"`
	Match     *MatchResult     `json:"match,omitempty"`
	Persisted *PersistedResult `json:"persisted,omitempty"`
	Sync      *SyncResult      `json:"sync,omitempty"`
	Duplicate bool             `json:"duplicate_suspect,omitempty"`
	Warnings  []string         `json:"warnings,omitempty"`

	record ValidRecord
}

// BatchReport holds every outcome of a run, in input order.
type BatchReport struct {
	BatchID    string       `json:"batch_id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Outcomes   []Outcome    `json:"outcomes"`
	Summary    BatchSummary `json:"summary"`
}

// ValidationErrors returns the records rejected by the Validator.
func (r *BatchReport) ValidationErrors() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.State == StateRejected && o.Stage == StageValidating {
			out = append(out, o)
		}
	}
	return out
}

// FailedRows returns the valid records that did not reach the ledger. They can
// be re-submitted as a new batch without duplicating anything already persisted.
func (r *BatchReport) FailedRows() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.State == StateRejected && o.Stage != StageValidating {
			out = append(out, o)
		}
	}
	return out
}

type OrchestratorConfig struct {
	Workers         int
	DuplicateWindow time.Duration
}

// Orchestrator drives records through validate → match → account → persist →
// sync. It is the only component that deals with more than one record.
type Orchestrator struct {
	validator *Validator
	matcher   *Matcher
	ledger    *Ledger
	notifier  *Notifier
	history   AdditionHistory
	workers   int
	dupWindow time.Duration
	log       logrus.FieldLogger
	now       func() time.Time
}

// NewOrchestrator wires the pipeline. history may be nil, which disables the
// duplicate check.
func NewOrchestrator(validator *Validator, matcher *Matcher, ledger *Ledger, notifier *Notifier,
	history AdditionHistory, cfg OrchestratorConfig, log logrus.FieldLogger) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultBatchWorkers
	}
	if cfg.DuplicateWindow < 0 {
		cfg.DuplicateWindow = 0
	}
	return &Orchestrator{
		validator: validator,
		matcher:   matcher,
		ledger:    ledger,
		notifier:  notifier,
		history:   history,
		workers:   cfg.Workers,
		dupWindow: cfg.DuplicateWindow,
		log:       log,
		now:       time.Now,
	}
}

// RunOne is the single-entry flow: the same pipeline with one record. The
// outcome is returned even when the error reports cancellation.
func (o *Orchestrator) RunOne(ctx context.Context, raw RawRecord) (Outcome, error) {
	report, err := o.Run(ctx, []RawRecord{raw})
	return report.Outcomes[0], err
}

// Run processes records and always returns a complete report, one outcome per
// record in input order. A rejected record never affects another.
//
// Cancellation is honoured between records only: a record that has started
// runs to Done or Rejected, and records not yet started are rejected as
// cancelled. Run returns an error wrapping ErrCancelled in that case, along with
// the report.
func (o *Orchestrator) Run(ctx context.Context, records []RawRecord) (*BatchReport, error) {
	report := &BatchReport{
		BatchID:   uuid.NewString(),
		StartedAt: o.now().UTC(),
		Outcomes:  make([]Outcome, len(records)),
	}
	log := o.log.WithField("batch_id", report.BatchID)
	log.WithField("records", len(records)).Info("batch started")

	for i, raw := range records {
		report.Outcomes[i] = Outcome{Line: raw.Line, Raw: raw, State: StatePending}
	}

	// Records that have started must finish, whatever happens to ctx.
	work := context.WithoutCancel(ctx)

	var front errgroup.Group
	front.SetLimit(o.workers)
	for i := range report.Outcomes {
		out := &report.Outcomes[i]
		front.Go(func() error {
			if ctx.Err() != nil {
				o.cancel(out)
				return nil
			}
			o.validateAndMatch(work, log, out)
			return nil
		})
	}
	_ = front.Wait()

	// Group matched records per variant, keeping input order inside each queue.
	var order []int64
	queues := make(map[int64][]int)
	for i, out := range report.Outcomes {
		if out.State != StateAccounting {
			continue
		}
		id := out.Match.Variant.ID
		if _, ok := queues[id]; !ok {
			order = append(order, id)
		}
		queues[id] = append(queues[id], i)
	}

	var syncs sync.WaitGroup
	var back errgroup.Group
	back.SetLimit(o.workers)
	for _, id := range order {
		idx := queues[id]
		back.Go(func() error {
			var prevSync chan struct{}
			for _, i := range idx {
				out := &report.Outcomes[i]
				if ctx.Err() != nil {
					o.cancel(out)
					continue
				}
				if !o.persist(work, log, report.BatchID, out) {
					continue
				}
				done := make(chan struct{})
				syncs.Add(1)
				go o.sync(work, log, out, prevSync, done, &syncs)
				prevSync = done
			}
			return nil
		})
	}
	_ = back.Wait()
	syncs.Wait()

	report.FinishedAt = o.now().UTC()
	report.Summary = Summarize(report.BatchID, report.Outcomes)
	log.WithFields(logrus.Fields{
		"processed": report.Summary.Processed,
		"persisted": report.Summary.Persisted,
		"rejected":  report.Summary.Rejected,
	}).Info("batch finished")

	if n := report.Summary.RejectedByStage.Cancelled; n > 0 {
		return report, fmt.Errorf("%w: %d of %d records not processed", ErrCancelled, n, len(records))
	}
	return report, nil
}

func (o *Orchestrator) validateAndMatch(ctx context.Context, log logrus.FieldLogger, out *Outcome) {
	rlog := log.WithField("line", out.Line)

	out.State = StateValidating
	rec, rej := o.validator.Validate(out.Raw)
	if rej != nil {
		out.Rejection = rej
		o.reject(rlog, out, StageValidating, &ValidationError{Rejection: *rej})
		return
	}

	out.record = rec

	out.State = StateMatching
	m, err := o.matcher.Match(ctx, rec)
	if err != nil {
		o.reject(rlog, out, StageMatching, err)
		return
	}
	out.Match = &m
	if m.NameMismatch {
		out.Warnings = append(out.Warnings, fmt.Sprintf("name mismatch: %q recorded against %s #%s by set and number (%.0f%%)",
			rec.CardName, m.Card.Name, m.Card.Number, m.Similarity*100))
	} else if m.Fuzzy {
		out.Warnings = append(out.Warnings, fmt.Sprintf("fuzzy match: %q matched %s #%s (%.0f%%)",
			rec.CardName, m.Card.Name, m.Card.Number, m.Similarity*100))
	}

	o.checkDuplicate(ctx, rlog, out, m.Variant.ID)

	out.State = StateAccounting
	rlog.WithFields(logrus.Fields{"stage": StateMatching, "variant_id": m.Variant.ID}).Debug("record matched")
}

// checkDuplicate flags a record whose variant already took a lot inside the
// duplicate window. It runs before any lot of the batch is written, so rows of
// one upload never flag each other.
func (o *Orchestrator) checkDuplicate(ctx context.Context, rlog logrus.FieldLogger, out *Outcome, variantID int64) {
	if o.history == nil || o.dupWindow <= 0 {
		return
	}
	prev, err := o.history.RecentAddition(ctx, variantID, o.now().Add(-o.dupWindow))
	switch {
	case err == nil:
		out.Duplicate = true
		out.Warnings = append(out.Warnings, fmt.Sprintf(
			"duplicate-suspect: variant %d already received %d @ %s at %s",
			variantID, prev.Quantity, prev.UnitCost.StringFixed(2), prev.CreatedAt.Format(time.RFC3339)))
	case errors.Is(err, ErrNotFound):
	default:
		rlog.WithError(err).Warn("duplicate check failed")
	}
}

// persist runs the accounting and ledger stages. It reports whether the lot
// was committed.
func (o *Orchestrator) persist(ctx context.Context, log logrus.FieldLogger, batchID string, out *Outcome) bool {
	variantID := out.Match.Variant.ID
	rlog := log.WithFields(logrus.Fields{"line": out.Line, "variant_id": variantID})

	rec := out.record

	out.State = StatePersisting
	res, err := o.ledger.Persist(ctx, variantID, IncomingLot{
		Quantity: rec.Quantity,
		UnitCost: rec.UnitCost,
		Source:   rec.Source,
		Note:     rec.Notes,
		BatchID:  batchID,
	})
	if err != nil {
		stage := StagePersisting
		if errors.Is(err, ErrInvalidLot) || errors.Is(err, ErrCorruptSnapshot) {
			stage = StageAccounting
		}
		o.reject(rlog, out, stage, err)
		return false
	}

	out.Persisted = &res
	out.State = StateSyncing
	rlog.WithFields(logrus.Fields{
		"stage":    StatePersisting,
		"quantity": res.After.Quantity,
		"cost":     res.After.CostBasisAvg.String(),
	}).Debug("lot persisted")
	return true
}

// sync pushes the committed quantity. Pushes for one variant are chained so an
// older quantity never lands after a newer one.
func (o *Orchestrator) sync(ctx context.Context, log logrus.FieldLogger, out *Outcome,
	prev <-chan struct{}, done chan<- struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	defer close(done)
	if prev != nil {
		<-prev
	}

	v := out.Persisted.Variant
	res := o.notifier.Notify(ctx, v, v.InventoryQty)
	out.Sync = &res
	if res.Warning != nil {
		out.Warnings = append(out.Warnings, res.Warning.String())
	}
	out.State = StateDone
	log.WithFields(logrus.Fields{
		"line":       out.Line,
		"stage":      StateSyncing,
		"variant_id": v.ID,
		"sync":       res.Status,
	}).Debug("record done")
}

func (o *Orchestrator) cancel(out *Outcome) {
	out.State = StateRejected
	out.Stage = StageCancelled
	out.Err = ErrCancelled
	out.Reason = ErrCancelled.Error()
}

func (o *Orchestrator) reject(log logrus.FieldLogger, out *Outcome, stage Stage, err error) {
	out.State = StateRejected
	out.Stage = stage
	out.Err = err
	out.Reason = err.Error()
	log.WithFields(logrus.Fields{"stage": stage}).WithError(err).Info("record rejected")
}
