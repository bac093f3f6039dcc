package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const (
	DefaultMatchThreshold = 0.80
	DefaultMaxSuggestions = 5
)

// CardCatalog is the reference-card lookup the Matcher resolves against.
// FindCard and FindVariant return ErrNotFound when nothing matches.
type CardCatalog interface {
	FindCard(ctx context.Context, setCode, number string) (*Card, error)
	SearchCardsByName(ctx context.Context, setCode, name string) ([]Card, error)
	FindVariant(ctx context.Context, cardID int64, condition Condition) (*Variant, error)
}

// MatchResult is a resolved variant. Fuzzy is set whenever the card was not an
// exact identity match, so the outcome can warn the operator.
type MatchResult struct {
	Card       Card    `json:"card"`
	Variant    Variant `json:"variant"`
	Fuzzy      bool    `json:"fuzzy"`
	Similarity float64 `json:"similarity"`
	// NameMismatch marks a card found by set and number whose name scored
	// below the match threshold against the record's name.
	NameMismatch bool `json:"name_mismatch,omitempty"`
}

// Suggestion is a near-miss candidate returned with CardNotFound.
type Suggestion struct {
	Card       Card    `json:"card"`
	Similarity float64 `json:"similarity"`
}

// Matcher resolves a validated record to a storefront variant.
type Matcher struct {
	catalog        CardCatalog
	threshold      float64
	maxSuggestions int
}

// NewMatcher builds a Matcher. Non-positive threshold or maxSuggestions fall
// back to the defaults.
func NewMatcher(catalog CardCatalog, threshold float64, maxSuggestions int) *Matcher {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultMatchThreshold
	}
	if maxSuggestions <= 0 {
		maxSuggestions = DefaultMaxSuggestions
	}
	return &Matcher{catalog: catalog, threshold: threshold, maxSuggestions: maxSuggestions}
}

// Match resolves rec to a variant. A card found by the exact (set_code, number)
// identity is always used; a name that differs from it only flags the match.
// Without an identity hit it falls back to name similarity within the set.
//
// Returns *MatchFailure for unknown cards or variants and *PersistenceError when
// the catalog itself fails.
func (m *Matcher) Match(ctx context.Context, rec ValidRecord) (MatchResult, error) {
	card, err := m.catalog.FindCard(ctx, rec.SetCode, rec.CardNumber)
	switch {
	case err == nil:
		sim := Similarity(rec.CardName, card.Name)
		res, err := m.resolveVariant(ctx, rec, *card, sim < 1, sim)
		res.NameMismatch = err == nil && sim < m.threshold
		return res, err
	case errors.Is(err, ErrNotFound):
	default:
		return MatchResult{}, &PersistenceError{Op: "find card", Err: err}
	}

	candidates, err := m.catalog.SearchCardsByName(ctx, rec.SetCode, rec.CardName)
	if err != nil {
		return MatchResult{}, &PersistenceError{Op: "search cards", Err: err}
	}

	ranked := rankCandidates(rec.CardName, candidates)
	var cleared []Suggestion
	for _, s := range ranked {
		if s.Similarity >= m.threshold {
			cleared = append(cleared, s)
		}
	}
	if len(cleared) == 1 {
		return m.resolveVariant(ctx, rec, cleared[0].Card, true, cleared[0].Similarity)
	}

	if len(ranked) > m.maxSuggestions {
		ranked = ranked[:m.maxSuggestions]
	}
	return MatchResult{}, &MatchFailure{
		Kind:        CardNotFound,
		CardName:    rec.CardName,
		SetCode:     rec.SetCode,
		CardNumber:  rec.CardNumber,
		Condition:   rec.Condition,
		Suggestions: ranked,
	}
}

func (m *Matcher) resolveVariant(ctx context.Context, rec ValidRecord, card Card, fuzzy bool, sim float64) (MatchResult, error) {
	v, err := m.catalog.FindVariant(ctx, card.ID, rec.Condition)
	if errors.Is(err, ErrNotFound) {
		return MatchResult{}, &MatchFailure{
			Kind:       VariantNotFound,
			CardName:   card.Name,
			SetCode:    card.SetCode,
			CardNumber: card.Number,
			Condition:  rec.Condition,
		}
	}
	if err != nil {
		return MatchResult{}, &PersistenceError{Op: "find variant", Err: fmt.Errorf("card %d %s: %w", card.ID, rec.Condition, err)}
	}
	return MatchResult{Card: card, Variant: *v, Fuzzy: fuzzy, Similarity: sim}, nil
}

// rankCandidates scores every candidate and orders them by similarity
// descending, then name, then number, so ties break the same way every run.
func rankCandidates(name string, candidates []Card) []Suggestion {
	out := make([]Suggestion, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, Suggestion{Card: c, Similarity: Similarity(name, c.Name)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		if out[i].Card.Name != out[j].Card.Name {
			return out[i].Card.Name < out[j].Card.Name
		}
		return out[i].Card.Number < out[j].Card.Number
	})
	return out
}

// Similarity returns a score in [0, 1] between two card names: one minus the
// Levenshtein distance over the longer name's length, after NFC normalization,
// case folding and whitespace collapsing.
func Similarity(a, b string) float64 {
	na, nb := NormalizeName(a), NormalizeName(b)
	if na == nb {
		return 1
	}
	longest := utf8.RuneCountInString(na)
	if n := utf8.RuneCountInString(nb); n > longest {
		longest = n
	}
	if longest == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(na, nb)
	return 1 - float64(d)/float64(longest)
}

// NormalizeName folds a card name into the form used for comparison.
func NormalizeName(s string) string {
	s = norm.NFC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}
