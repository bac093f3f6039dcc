package core_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"cardops/internal/core"
	"cardops/internal/lock"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/mock"
)

// memStore is an in-memory catalog and ledger. Transactions buffer their
// writes and apply them on commit, but nothing serializes two transactions:
// that is the ledger lock's job.
type memStore struct {
	mu       sync.Mutex
	cards    []core.Card
	variants map[int64]core.Variant
	txns     []core.InventoryTransaction
	nextID   int64

	findErr     error
	appendErr   error
	lockDelay   time.Duration
	afterCommit func()
}

func newMemStore() *memStore {
	return &memStore{variants: make(map[int64]core.Variant)}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) addCard(name, setCode, number string) core.Card {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := core.Card{ID: s.id(), Name: name, SetCode: setCode, Number: number}
	s.cards = append(s.cards, c)
	return c
}

func (s *memStore) addVariant(cardID int64, cond core.Condition, externalID string, qty int64, cost string, lifetime int64) core.Variant {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := core.Variant{
		ID:                  s.id(),
		CardID:              cardID,
		Condition:           cond,
		SKU:                 "SKU-" + string(cond),
		ExternalID:          externalID,
		InventoryQty:        qty,
		CostBasisAvg:        decimal.RequireFromString(cost),
		TotalUnitsPurchased: lifetime,
		PriceCAD:            decimal.NewFromInt(10),
	}
	s.variants[v.ID] = v
	return v
}

func (s *memStore) variant(id int64) core.Variant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.variants[id]
}

func (s *memStore) transactionsFor(variantID int64) []core.InventoryTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.InventoryTransaction
	for _, t := range s.txns {
		if t.VariantID == variantID {
			out = append(out, t)
		}
	}
	return out
}

// ── CardCatalog ───────────────────────────────────────────────────────────────

func (s *memStore) FindCard(_ context.Context, setCode, number string) (*core.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	for _, c := range s.cards {
		if c.SetCode == setCode && c.Number == number {
			c := c
			return &c, nil
		}
	}
	return nil, core.ErrNotFound
}

func (s *memStore) SearchCardsByName(_ context.Context, setCode, _ string) ([]core.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Card
	for _, c := range s.cards {
		if c.SetCode == setCode {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memStore) FindVariant(_ context.Context, cardID int64, condition core.Condition) (*core.Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.variants {
		if v.CardID == cardID && v.Condition == condition {
			v := v
			return &v, nil
		}
	}
	return nil, core.ErrNotFound
}

// ── TxRunner ──────────────────────────────────────────────────────────────────

type memTx struct {
	s       *memStore
	updates map[int64]core.VariantUpdate
	txns    []core.InventoryTransaction
}

func (s *memStore) WithinTx(ctx context.Context, fn func(tx core.Tx) error) error {
	tx := &memTx{s: s, updates: make(map[int64]core.VariantUpdate)}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	for id, u := range tx.updates {
		v := s.variants[id]
		v.InventoryQty = u.Quantity
		v.CostBasisAvg = u.CostBasisAvg
		v.TotalUnitsPurchased = u.TotalUnitsPurchased
		s.variants[id] = v
	}
	s.txns = append(s.txns, tx.txns...)
	hook := s.afterCommit
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

func (t *memTx) LockVariant(_ context.Context, variantID int64) (*core.Variant, error) {
	t.s.mu.Lock()
	v, ok := t.s.variants[variantID]
	delay := t.s.lockDelay
	t.s.mu.Unlock()
	if !ok {
		return nil, core.ErrNotFound
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	return &v, nil
}

func (t *memTx) UpdateVariantStock(_ context.Context, variantID int64, u core.VariantUpdate) error {
	t.updates[variantID] = u
	return nil
}

func (t *memTx) AppendTransaction(_ context.Context, in core.InventoryTransaction) (core.InventoryTransaction, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.appendErr != nil {
		return core.InventoryTransaction{}, t.s.appendErr
	}
	in.ID = t.s.id()
	t.txns = append(t.txns, in)
	return in, nil
}

// ── LedgerReader ──────────────────────────────────────────────────────────────

func (s *memStore) RecentAddition(_ context.Context, variantID int64, since time.Time) (*core.InventoryTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.txns) - 1; i >= 0; i-- {
		t := s.txns[i]
		if t.VariantID == variantID && !t.CreatedAt.Before(since) {
			return &t, nil
		}
	}
	return nil, core.ErrNotFound
}

func (s *memStore) ListVariants(_ context.Context, filter core.StockFilter) ([]core.StockLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cards := make(map[int64]core.Card, len(s.cards))
	for _, c := range s.cards {
		cards[c.ID] = c
	}
	var out []core.StockLevel
	for _, v := range s.variants {
		c := cards[v.CardID]
		if filter.SetCode != "" && c.SetCode != filter.SetCode {
			continue
		}
		if filter.InStockOnly && v.InventoryQty <= 0 {
			continue
		}
		if filter.WithExternal && v.ExternalID == "" {
			continue
		}
		out = append(out, core.StockLevel{
			VariantID:           v.ID,
			SKU:                 v.SKU,
			CardName:            c.Name,
			SetCode:             c.SetCode,
			Number:              c.Number,
			Condition:           v.Condition,
			OnHand:              v.InventoryQty,
			CostBasisAvg:        v.CostBasisAvg,
			TotalUnitsPurchased: v.TotalUnitsPurchased,
			PriceCAD:            v.PriceCAD,
			ExternalID:          v.ExternalID,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariantID < out[j].VariantID })
	return out, nil
}

func (s *memStore) ListTransactions(_ context.Context, variantID int64, limit int) ([]core.InventoryTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.variants[variantID]; !ok {
		return nil, core.ErrNotFound
	}
	var out []core.InventoryTransaction
	for i := len(s.txns) - 1; i >= 0 && len(out) < limit; i-- {
		if s.txns[i].VariantID == variantID {
			out = append(out, s.txns[i])
		}
	}
	return out, nil
}

// ── Storefront ────────────────────────────────────────────────────────────────

type storefrontMock struct {
	mock.Mock
}

func (m *storefrontMock) SetInventoryLevel(ctx context.Context, externalID string, quantity int64) error {
	return m.Called(ctx, externalID, quantity).Error(0)
}

func (m *storefrontMock) InventoryLevel(ctx context.Context, externalID string) (int64, error) {
	args := m.Called(ctx, externalID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *storefrontMock) SetPrice(ctx context.Context, externalID string, price decimal.Decimal) error {
	return m.Called(ctx, externalID, price).Error(0)
}

// pushedQuantities lists the quantities sent with SetInventoryLevel, in call order.
func (m *storefrontMock) pushedQuantities() []int64 {
	var out []int64
	for _, c := range m.Calls {
		if c.Method == "SetInventoryLevel" {
			out = append(out, c.Arguments.Get(2).(int64))
		}
	}
	return out
}

// ── Pipeline ──────────────────────────────────────────────────────────────────

type pipelineOpts struct {
	storefront core.Storefront
	dupWindow  time.Duration
	workers    int
}

func newOrchestrator(store *memStore, opts pipelineOpts) *core.Orchestrator {
	log, _ := test.NewNullLogger()
	workers := opts.workers
	if workers == 0 {
		workers = 4
	}
	return core.NewOrchestrator(
		core.NewValidator(),
		core.NewMatcher(store, 0, 0),
		core.NewLedger(store, lock.NewKeyed()),
		core.NewNotifier(opts.storefront, time.Second, log),
		store,
		core.OrchestratorConfig{Workers: workers, DuplicateWindow: opts.dupWindow},
		log,
	)
}

func raw(line int, name, setCode, number, cond, qty, cost, source string) core.RawRecord {
	return core.RawRecord{
		Line:       line,
		CardName:   name,
		SetCode:    setCode,
		CardNumber: number,
		Condition:  cond,
		Quantity:   qty,
		UnitCost:   cost,
		Source:     source,
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
