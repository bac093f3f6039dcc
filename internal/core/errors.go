package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned by stores when a card, variant or row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidLot is a precondition violation: the lot quantity must be > 0 and
	// the unit cost >= 0. The Validator excludes such lots before they get here.
	ErrInvalidLot = errors.New("invalid lot")
	// ErrCorruptSnapshot means the stored variant violates the stock/cost invariants.
	ErrCorruptSnapshot = errors.New("corrupt variant snapshot")
	// ErrVariantMissing means a matched variant disappeared before it could be persisted.
	ErrVariantMissing = errors.New("variant missing at persist time")
	// ErrCancelled marks records that were never started because the batch was cancelled.
	ErrCancelled = errors.New("batch cancelled before record was processed")
)

// ValidationError wraps a Rejection produced by the Validator.
type ValidationError struct {
	Rejection Rejection
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Rejection.String()
}

// MatchFailureKind distinguishes the two ways matching can fail.
type MatchFailureKind string

const (
	VariantNotFound MatchFailureKind = "variant_not_found"
	CardNotFound    MatchFailureKind = "card_not_found"
)

// MatchFailure is returned by the Matcher. CardNotFound failures carry the
// nearest candidates for operator correction.
type MatchFailure struct {
	Kind        MatchFailureKind
	CardName    string
	SetCode     string
	CardNumber  string
	Condition   Condition
	Suggestions []Suggestion
}

func (e *MatchFailure) Error() string {
	switch e.Kind {
	case VariantNotFound:
		return fmt.Sprintf("no %s variant for %s (%s-%s)", e.Condition, e.CardName, e.SetCode, e.CardNumber)
	default:
		msg := fmt.Sprintf("card %q not found in set %s (number %s)", e.CardName, e.SetCode, e.CardNumber)
		if len(e.Suggestions) > 0 {
			names := make([]string, len(e.Suggestions))
			for i, s := range e.Suggestions {
				names[i] = fmt.Sprintf("%s #%s (%.0f%%)", s.Card.Name, s.Card.Number, s.Similarity*100)
			}
			msg += "; did you mean: " + strings.Join(names, ", ")
		}
		return msg
	}
}

// PersistenceError is a store fault. The record can be retried by re-submitting it.
type PersistenceError struct {
	Op        string
	VariantID int64
	Err       error
}

func (e *PersistenceError) Error() string {
	if e.VariantID != 0 {
		return fmt.Sprintf("persistence failure during %s (variant %d): %v", e.Op, e.VariantID, e.Err)
	}
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// SyncWarning reports a storefront push that did not land. The ledger write it
// follows is already committed and stays committed.
type SyncWarning struct {
	VariantID  int64  `json:"variant_id"`
	ExternalID string `json:"external_id"`
	Quantity   int64  `json:"quantity"`
	Message    string `json:"message"`
}

func (w SyncWarning) String() string {
	return fmt.Sprintf("storefront sync failed for variant %d (external %s, qty %d): %s",
		w.VariantID, w.ExternalID, w.Quantity, w.Message)
}
