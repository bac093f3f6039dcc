package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	DefaultUSDToCAD = decimal.RequireFromString("1.35")
	DefaultMarkup   = decimal.RequireFromString("1.10")

	minChangeDollars = decimal.RequireFromString("0.50")
	minChangePercent = decimal.NewFromInt(5)
	bigChangeDollars = decimal.NewFromInt(10)
	bigChangePercent = decimal.NewFromInt(20)
)

// ConditionMultipliers scale the NM selling price down to each condition.
var ConditionMultipliers = map[Condition]decimal.Decimal{
	ConditionNM:  decimal.RequireFromString("1.00"),
	ConditionLP:  decimal.RequireFromString("0.80"),
	ConditionMP:  decimal.RequireFromString("0.65"),
	ConditionHP:  decimal.RequireFromString("0.50"),
	ConditionDMG: decimal.RequireFromString("0.35"),
}

// PricedCard is a published card with its market-data reference.
type PricedCard struct {
	Card
	MarketRef string `json:"market_ref"`
}

// PriceChange is one variant whose list price moved far enough to be written.
type PriceChange struct {
	VariantID  int64           `json:"variant_id"`
	ExternalID string          `json:"external_id,omitempty"`
	CardName   string          `json:"card_name"`
	Condition  Condition       `json:"condition"`
	Old        decimal.Decimal `json:"old_price"`
	New        decimal.Decimal `json:"new_price"`
}

// Big reports a change of at least $10 and 20%.
func (c PriceChange) Big() bool {
	if c.Old.IsZero() {
		return false
	}
	diff := c.New.Sub(c.Old).Abs()
	pct := diff.Div(c.Old).Mul(decimal.NewFromInt(100))
	return diff.GreaterThanOrEqual(bigChangeDollars) && pct.GreaterThanOrEqual(bigChangePercent)
}

// PriceStore is the persistence the price job needs.
type PriceStore interface {
	ListPricedCards(ctx context.Context) ([]PricedCard, error)
	ListCardVariants(ctx context.Context, cardID int64) ([]Variant, error)
	// UpdateVariantPrices writes every change for one card in one transaction.
	UpdateVariantPrices(ctx context.Context, marketCAD decimal.Decimal, changes []PriceChange) error
}

// MarketPrices returns a card's market price in USD, or ErrNotFound when the
// provider has none.
type MarketPrices interface {
	MarketPriceUSD(ctx context.Context, ref string) (decimal.Decimal, error)
}

// NMPrice converts a USD market price to the NM list price in CAD, rounded up
// to the next 50 cents.
func NMPrice(usd, fx, markup decimal.Decimal) decimal.Decimal {
	two := decimal.NewFromInt(2)
	return usd.Mul(fx).Mul(markup).Mul(two).Ceil().Div(two).Round(2)
}

// TierPrice is the list price for condition given the NM price.
func TierPrice(nm decimal.Decimal, condition Condition) decimal.Decimal {
	if condition == ConditionNM {
		return nm
	}
	mult, ok := ConditionMultipliers[condition]
	if !ok {
		return nm
	}
	return nm.Mul(mult).RoundBank(2)
}

// ShouldUpdatePrice reports whether a price move is worth writing:
// at least 5% and at least $0.50. Unpriced variants always update.
func ShouldUpdatePrice(oldPrice, newPrice decimal.Decimal) bool {
	if oldPrice.IsZero() {
		return !newPrice.IsZero()
	}
	diff := newPrice.Sub(oldPrice).Abs()
	pct := diff.Div(oldPrice).Mul(decimal.NewFromInt(100))
	return diff.GreaterThanOrEqual(minChangeDollars) && pct.GreaterThanOrEqual(minChangePercent)
}

type PriceReport struct {
	Cards            int           `json:"cards"`
	CardsUpdated     int           `json:"cards_updated"`
	VariantsUpdated  int           `json:"variants_updated"`
	StorefrontSynced int           `json:"storefront_synced"`
	Increases        int           `json:"increases"`
	Decreases        int           `json:"decreases"`
	NoChange         int           `json:"no_change"`
	Failed           int           `json:"failed"`
	BigChanges       []PriceChange `json:"big_changes"`
}

type PricingConfig struct {
	USDToCAD decimal.Decimal
	Markup   decimal.Decimal
	Workers  int
}

// PriceUpdater recalculates list prices from market data. Cards are processed
// by a bounded worker pool; storefront writes are serialized by one named lock.
type PriceUpdater struct {
	store      PriceStore
	market     MarketPrices
	storefront Storefront
	locker     Locker
	cfg        PricingConfig
	log        logrus.FieldLogger
}

// NewPriceUpdater builds a PriceUpdater. storefront may be nil, in which case
// only the database is updated.
func NewPriceUpdater(store PriceStore, market MarketPrices, storefront Storefront, locker Locker,
	cfg PricingConfig, log logrus.FieldLogger) *PriceUpdater {
	if cfg.USDToCAD.IsZero() {
		cfg.USDToCAD = DefaultUSDToCAD
	}
	if cfg.Markup.IsZero() {
		cfg.Markup = DefaultMarkup
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	return &PriceUpdater{store: store, market: market, storefront: storefront, locker: locker, cfg: cfg, log: log}
}

func (p *PriceUpdater) Run(ctx context.Context) (*PriceReport, error) {
	cards, err := p.store.ListPricedCards(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}

	report := &PriceReport{Cards: len(cards)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for _, card := range cards {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			changes, synced, err := p.updateCard(gctx, card)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Failed++
				p.log.WithFields(logrus.Fields{"card_id": card.ID, "card": card.Name}).WithError(err).Warn("price update failed")
			case len(changes) == 0:
				report.NoChange++
			default:
				report.CardsUpdated++
				report.VariantsUpdated += len(changes)
				report.StorefrontSynced += synced
				for _, c := range changes {
					if c.New.GreaterThan(c.Old) {
						report.Increases++
					} else {
						report.Decreases++
					}
					if c.Big() {
						report.BigChanges = append(report.BigChanges, c)
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, fmt.Errorf("price update interrupted: %w", err)
	}
	sort.Slice(report.BigChanges, func(i, j int) bool { return report.BigChanges[i].VariantID < report.BigChanges[j].VariantID })
	return report, nil
}

func (p *PriceUpdater) updateCard(ctx context.Context, card PricedCard) ([]PriceChange, int, error) {
	if card.MarketRef == "" {
		return nil, 0, fmt.Errorf("card %d has no market reference", card.ID)
	}
	usd, err := p.market.MarketPriceUSD(ctx, card.MarketRef)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, 0, fmt.Errorf("no market price for %s", card.MarketRef)
		}
		return nil, 0, fmt.Errorf("failed to fetch market price: %w", err)
	}

	marketCAD := usd.Mul(p.cfg.USDToCAD)
	nm := NMPrice(usd, p.cfg.USDToCAD, p.cfg.Markup)

	variants, err := p.store.ListCardVariants(ctx, card.ID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list variants: %w", err)
	}
	var changes []PriceChange
	for _, v := range variants {
		newPrice := TierPrice(nm, v.Condition)
		if !ShouldUpdatePrice(v.PriceCAD, newPrice) {
			continue
		}
		changes = append(changes, PriceChange{
			VariantID:  v.ID,
			ExternalID: v.ExternalID,
			CardName:   card.Name,
			Condition:  v.Condition,
			Old:        v.PriceCAD,
			New:        newPrice,
		})
	}
	if len(changes) == 0 {
		return nil, 0, nil
	}
	if err := p.store.UpdateVariantPrices(ctx, marketCAD.RoundBank(2), changes); err != nil {
		return nil, 0, fmt.Errorf("failed to update prices: %w", err)
	}
	return changes, p.pushPrices(ctx, changes), nil
}

// pushPrices sends changed prices to the storefront under the storefront lock
// and returns how many landed. Failures are logged, the database keeps the new price.
func (p *PriceUpdater) pushPrices(ctx context.Context, changes []PriceChange) int {
	if p.storefront == nil {
		return 0
	}
	unlock, err := p.locker.Lock(ctx, StorefrontLockKey)
	if err != nil {
		p.log.WithError(err).Warn("failed to take storefront lock")
		return 0
	}
	defer unlock()

	synced := 0
	for _, c := range changes {
		if c.ExternalID == "" {
			continue
		}
		if err := p.storefront.SetPrice(ctx, c.ExternalID, c.New); err != nil {
			p.log.WithFields(logrus.Fields{"variant_id": c.VariantID, "external_id": c.ExternalID}).WithError(err).Warn("storefront price push failed")
			continue
		}
		synced++
	}
	return synced
}
