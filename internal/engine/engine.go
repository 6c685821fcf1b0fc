package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultNearMissWindow is the largest item shortfall reported as a near-miss.
const DefaultNearMissWindow = 2

// ErrCampaignFetch wraps any failure of the campaign source. Callers treat it as
// "no campaign applies" and carry on.
var ErrCampaignFetch = errors.New("campaign fetch failed")

// CampaignSource returns the campaigns live at now, ordered by priority descending.
// The engine relies on that order and never re-sorts it.
type CampaignSource interface {
	ActiveCampaigns(ctx context.Context, now time.Time) ([]Campaign, error)
}

type Options struct {
	Clock func() time.Time
	// Precision is the number of decimal places discounts are rounded to. nil means
	// DefaultPrecision; 0 is valid for currencies without minor units.
	Precision      *int32
	NearMissWindow int
	Logger         *zerolog.Logger
}

// Engine selects the campaign to apply to a cart. It holds no mutable state and is
// safe for concurrent use.
type Engine struct {
	source    CampaignSource
	now       func() time.Time
	precision int32
	window    int
	log       zerolog.Logger
}

func New(source CampaignSource, opts Options) *Engine {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	precision := DefaultPrecision
	if opts.Precision != nil && *opts.Precision >= 0 {
		precision = *opts.Precision
	}
	window := opts.NearMissWindow
	if window <= 0 {
		window = DefaultNearMissWindow
	}
	lg := log.Logger
	if opts.Logger != nil {
		lg = *opts.Logger
	}
	return &Engine{
		source:    source,
		now:       func() time.Time { return clock().UTC() },
		precision: precision,
		window:    window,
		log:       lg.With().Str("component", "discount_engine").Logger(),
	}
}

func (e *Engine) fetch(ctx context.Context) ([]Campaign, error) {
	cs, err := e.source.ActiveCampaigns(ctx, e.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCampaignFetch, err)
	}
	return cs, nil
}

// FindBestCampaign returns the highest-priority campaign whose rules all hold for the cart,
// with its computed discount. ok is false when nothing applies.
//
// A non-nil error only reports that the source could not be read; ok is then false and
// the caller should proceed without a discount.
func (e *Engine) FindBestCampaign(ctx context.Context, cart CartData) (AppliedCampaign, bool, error) {
	if len(cart.Items) == 0 {
		return AppliedCampaign{}, false, nil
	}

	cs, err := e.fetch(ctx)
	if err != nil {
		return AppliedCampaign{}, false, err
	}

	matched := eligible(cs, cart)
	if len(matched) == 0 {
		return AppliedCampaign{}, false, nil
	}

	// source order is priority order; ties keep the source's secondary order
	best := matched[0]
	if best.Action == nil {
		e.log.Debug().Str("campaign_id", best.ID).Msg("best campaign has no action")
		return AppliedCampaign{}, false, nil
	}

	discount := CalculateDiscount(*best.Action, cart, e.precision)
	e.log.Debug().
		Str("campaign_id", best.ID).
		Int("eligible", len(matched)).
		Str("discount", discount.String()).
		Msg("campaign selected")

	return AppliedCampaign{
		ID:           best.ID,
		Name:         best.Name,
		Discount:     discount,
		DiscountType: best.Action.DiscountType,
	}, true, nil
}

// FindNearestCampaign returns the first campaign whose item-count threshold the cart misses
// by at least one and at most the near-miss window. Only min_items rules are considered.
func (e *Engine) FindNearestCampaign(ctx context.Context, cart CartData) (NearMiss, bool, error) {
	cs, err := e.fetch(ctx)
	if err != nil {
		return NearMiss{}, false, err
	}

	total := cart.TotalQuantity()
	for _, c := range cs {
		if !c.autoApplied() {
			continue
		}
		required, ok := requiredItems(c)
		if !ok {
			continue
		}
		shortfall := required - total
		if shortfall <= 0 || shortfall > e.window {
			continue
		}
		nm := NearMiss{CampaignID: c.ID, CampaignName: c.Name, ItemsNeeded: shortfall}
		if c.Action != nil {
			nm.DiscountType = c.Action.DiscountType
			nm.DiscountValue = c.Action.DiscountValue
			nm.MaxDiscount = c.Action.MaxDiscount
		}
		return nm, true, nil
	}
	return NearMiss{}, false, nil
}

// requiredItems returns the item count the campaign's first min_items rule asks for.
// Ceiling operators (< and <=) have no "more items" threshold.
func requiredItems(c Campaign) (int, bool) {
	for _, r := range c.Rules {
		v, ok := r.Value.(MinItemsValue)
		if !ok {
			continue
		}
		switch r.Operator {
		case OpGte, OpEq:
			return v.Count, true
		case OpGt:
			return v.Count + 1, true
		default:
			return 0, false
		}
	}
	return 0, false
}
