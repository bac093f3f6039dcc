package core_test

import (
	"context"
	"errors"
	"testing"

	"cardops/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type matcherFixture struct {
	store     *memStore
	charizard core.Variant
	mewtwo    core.Variant
}

func newMatcherFixture() matcherFixture {
	store := newMemStore()
	charizard := store.addCard("Charizard VMAX", "swsh1", "142")
	mewtwo := store.addCard("Mewtwo", "swsh1", "50")
	store.addCard("Pikachu VM", "swsh4", "43")
	store.addCard("Pikachu VX", "swsh4", "44")
	store.addCard("Pikachu", "swsh4", "45")
	return matcherFixture{
		store:     store,
		charizard: store.addVariant(charizard.ID, core.ConditionNM, "gid://1", 0, "0", 0),
		mewtwo:    store.addVariant(mewtwo.ID, core.ConditionNM, "", 0, "0", 0),
	}
}

func validRecord(name, setCode, number string, cond core.Condition) core.ValidRecord {
	return core.ValidRecord{
		CardName:   name,
		SetCode:    setCode,
		CardNumber: number,
		Condition:  cond,
		Quantity:   1,
		UnitCost:   dec("1.00"),
		Source:     core.SourceBuylist,
	}
}

func TestMatcher_ExactIdentity(t *testing.T) {
	f := newMatcherFixture()
	m := core.NewMatcher(f.store, 0, 0)

	res, err := m.Match(context.Background(), validRecord("charizard  vmax", "swsh1", "142", core.ConditionNM))
	require.NoError(t, err)
	assert.Equal(t, f.charizard.ID, res.Variant.ID)
	assert.Equal(t, "Charizard VMAX", res.Card.Name)
	assert.False(t, res.Fuzzy)
	assert.Equal(t, 1.0, res.Similarity)
}

func TestMatcher_TypoOnIdentityIsFuzzy(t *testing.T) {
	f := newMatcherFixture()
	m := core.NewMatcher(f.store, 0, 0)

	res, err := m.Match(context.Background(), validRecord("Charizrd VMAX", "swsh1", "142", core.ConditionNM))
	require.NoError(t, err)
	assert.Equal(t, f.charizard.ID, res.Variant.ID)
	assert.True(t, res.Fuzzy)
	assert.InDelta(t, 1-1.0/14, res.Similarity, 1e-9)
}

func TestMatcher_WrongNumberFallsBackToName(t *testing.T) {
	f := newMatcherFixture()
	m := core.NewMatcher(f.store, 0, 0)

	res, err := m.Match(context.Background(), validRecord("Charizrd VMAX", "swsh1", "999", core.ConditionNM))
	require.NoError(t, err)
	assert.Equal(t, f.charizard.ID, res.Variant.ID)
	assert.True(t, res.Fuzzy)
}

func TestMatcher_IdentityWinsOverName(t *testing.T) {
	f := newMatcherFixture()
	m := core.NewMatcher(f.store, 0, 0)

	tests := []struct {
		name     string
		mismatch bool
	}{
		{"Charizard V", true},
		{"Charizard", true},
		{"Mewtwo", true},
		{"Charizard VMX", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := m.Match(context.Background(), validRecord(tt.name, "swsh1", "142", core.ConditionNM))
			require.NoError(t, err)
			assert.Equal(t, f.charizard.ID, res.Variant.ID)
			assert.True(t, res.Fuzzy)
			assert.Equal(t, tt.mismatch, res.NameMismatch)
		})
	}
}

func TestMatcher_AmbiguousNameIsNotGuessed(t *testing.T) {
	f := newMatcherFixture()
	m := core.NewMatcher(f.store, 0, 2)

	_, err := m.Match(context.Background(), validRecord("Pikachu V", "swsh4", "999", core.ConditionNM))

	var mf *core.MatchFailure
	require.ErrorAs(t, err, &mf)
	assert.Equal(t, core.CardNotFound, mf.Kind)
	require.Len(t, mf.Suggestions, 2)
	assert.Equal(t, "Pikachu VM", mf.Suggestions[0].Card.Name)
	assert.Equal(t, "Pikachu VX", mf.Suggestions[1].Card.Name)
	assert.InDelta(t, 0.9, mf.Suggestions[0].Similarity, 1e-9)
	assert.Contains(t, err.Error(), "did you mean: Pikachu VM #43 (90%), Pikachu VX #44 (90%)")
}

func TestMatcher_UnknownCard(t *testing.T) {
	f := newMatcherFixture()
	m := core.NewMatcher(f.store, 0, 0)

	_, err := m.Match(context.Background(), validRecord("Blastoise", "swsh1", "999", core.ConditionNM))

	var mf *core.MatchFailure
	require.ErrorAs(t, err, &mf)
	assert.Equal(t, core.CardNotFound, mf.Kind)
	assert.Len(t, mf.Suggestions, 2)

	_, err = m.Match(context.Background(), validRecord("Blastoise", "base1", "2", core.ConditionNM))
	require.ErrorAs(t, err, &mf)
	assert.Empty(t, mf.Suggestions)
}

func TestMatcher_VariantNotFound(t *testing.T) {
	f := newMatcherFixture()
	m := core.NewMatcher(f.store, 0, 0)

	_, err := m.Match(context.Background(), validRecord("Charizard VMAX", "swsh1", "142", core.ConditionDMG))

	var mf *core.MatchFailure
	require.ErrorAs(t, err, &mf)
	assert.Equal(t, core.VariantNotFound, mf.Kind)
	assert.Equal(t, core.ConditionDMG, mf.Condition)
	assert.Equal(t, "no DMG variant for Charizard VMAX (swsh1-142)", err.Error())
}

func TestMatcher_CatalogFault(t *testing.T) {
	f := newMatcherFixture()
	f.store.findErr = errors.New("connection refused")
	m := core.NewMatcher(f.store, 0, 0)

	_, err := m.Match(context.Background(), validRecord("Charizard VMAX", "swsh1", "142", core.ConditionNM))

	var pe *core.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "find card", pe.Op)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, core.Similarity("CHARIZARD  vmax", "Charizard VMAX"))
	assert.Equal(t, 1.0, core.Similarity("Flabe\u0301be\u0301", "Flab\u00e9b\u00e9"))
	assert.Equal(t, 1.0, core.Similarity("", " "))
	assert.Equal(t, 0.0, core.Similarity("abc", "xyz"))
	assert.InDelta(t, 0.9, core.Similarity("Pikachu V", "Pikachu VX"), 1e-9)
}
