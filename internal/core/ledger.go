package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Tx is the store surface the ledger needs inside one atomic write.
type Tx interface {
	// LockVariant reads the variant and holds a row lock on it until the
	// transaction ends. Returns ErrNotFound if the variant does not exist.
	LockVariant(ctx context.Context, variantID int64) (*Variant, error)
	UpdateVariantStock(ctx context.Context, variantID int64, u VariantUpdate) error
	AppendTransaction(ctx context.Context, t InventoryTransaction) (InventoryTransaction, error)
}

// TxRunner runs fn inside a single store transaction. The transaction commits
// if fn returns nil and is rolled back on every other path.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Locker provides named mutual exclusion. The returned func releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// PersistedResult is what a successful Persist hands back to callers.
type PersistedResult struct {
	Before      VariantSnapshot      `json:"before"`
	After       VariantUpdate        `json:"after"`
	Variant     Variant              `json:"variant"`
	Transaction InventoryTransaction `json:"transaction"`
}

// Ledger applies lots to variants and appends the audit row, atomically.
type Ledger struct {
	store  TxRunner
	locker Locker
	now    func() time.Time
}

func NewLedger(store TxRunner, locker Locker) *Ledger {
	return &Ledger{store: store, locker: locker, now: time.Now}
}

// VariantLockKey is the lock name used to serialize writes to one variant.
func VariantLockKey(variantID int64) string {
	return fmt.Sprintf("variant:%d", variantID)
}

// Persist applies lot to the variant and records it:
//
//  1. take the per-variant lock
//  2. begin a store transaction and read the variant FOR UPDATE
//  3. compute the new state with ApplyLot
//  4. write the rounded state and append an addition transaction
//  5. commit
//
// ErrInvalidLot and ErrCorruptSnapshot are returned unwrapped from the
// accounting step. Store faults are returned as *PersistenceError.
func (l *Ledger) Persist(ctx context.Context, variantID int64, lot IncomingLot) (PersistedResult, error) {
	unlock, err := l.locker.Lock(ctx, VariantLockKey(variantID))
	if err != nil {
		return PersistedResult{}, &PersistenceError{Op: "lock variant", VariantID: variantID, Err: err}
	}
	defer unlock()

	lot.VariantID = variantID

	var (
		res        PersistedResult
		accountErr error
	)
	err = l.store.WithinTx(ctx, func(tx Tx) error {
		v, err := tx.LockVariant(ctx, variantID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrVariantMissing
			}
			return fmt.Errorf("failed to lock variant: %w", err)
		}

		snap := v.Snapshot()
		update, err := ApplyLot(snap, lot)
		if err != nil {
			accountErr = err
			return err
		}
		update = update.Rounded()

		if err := tx.UpdateVariantStock(ctx, variantID, update); err != nil {
			return fmt.Errorf("failed to update variant: %w", err)
		}

		txn, err := tx.AppendTransaction(ctx, InventoryTransaction{
			VariantID: variantID,
			Type:      TransactionAddition,
			Quantity:  lot.Quantity,
			UnitCost:  lot.UnitCost.RoundBank(moneyPlaces),
			Source:    lot.Source,
			Note:      lot.Note,
			BatchID:   lot.BatchID,
			CreatedAt: l.now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("failed to append transaction: %w", err)
		}

		v.InventoryQty = update.Quantity
		v.CostBasisAvg = update.CostBasisAvg
		v.TotalUnitsPurchased = update.TotalUnitsPurchased
		res = PersistedResult{Before: snap, After: update, Variant: *v, Transaction: txn}
		return nil
	})
	if accountErr != nil {
		return PersistedResult{}, accountErr
	}
	if err != nil {
		return PersistedResult{}, &PersistenceError{Op: "persist lot", VariantID: variantID, Err: err}
	}
	return res, nil
}
