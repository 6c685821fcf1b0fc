//go:build property
// +build property

package engine

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
)

// cents turns a generated integer into a two-place monetary amount.
func cents(n int64) decimal.Decimal { return decimal.New(n, -2) }

func TestDiscountBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("capped percentage never exceeds cap or subtotal", prop.ForAll(
		func(subtotal, pct, maxDiscount int64) bool {
			cart := CartData{Subtotal: cents(subtotal)}
			capAmt := cents(maxDiscount)
			a := Action{DiscountType: DiscountPercentage, DiscountValue: decimal.NewFromInt(pct), MaxDiscount: &capAmt}
			got := CalculateDiscount(a, cart, DefaultPrecision)
			return got.LessThanOrEqual(capAmt) && got.LessThanOrEqual(cart.Subtotal) && !got.IsNegative()
		},
		gen.Int64Range(0, 10_000_000),
		gen.Int64Range(0, 200),
		gen.Int64Range(0, 1_000_000),
	))

	properties.Property("flat never exceeds subtotal", prop.ForAll(
		func(subtotal, value int64) bool {
			cart := CartData{Subtotal: cents(subtotal)}
			a := Action{DiscountType: DiscountFlat, DiscountValue: cents(value)}
			got := CalculateDiscount(a, cart, DefaultPrecision)
			return got.LessThanOrEqual(cart.Subtotal) && !got.IsNegative()
		},
		gen.Int64Range(0, 10_000_000),
		gen.Int64Range(-1_000, 20_000_000),
	))

	properties.Property("result carries at most the requested places", prop.ForAll(
		func(subtotal int64, pct int64) bool {
			cart := CartData{Subtotal: decimal.New(subtotal, -3)}
			a := Action{DiscountType: DiscountPercentage, DiscountValue: decimal.New(pct, -1)}
			got := CalculateDiscount(a, cart, DefaultPrecision)
			return got.Equal(got.Round(DefaultPrecision))
		},
		gen.Int64Range(0, 10_000_000),
		gen.Int64Range(0, 1000),
	))

	properties.TestingRun(t)
}

func TestMatcherProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("campaign without rules never matches", prop.ForAll(
		func(subtotal int64, quantities []int) bool {
			cart := CartData{Subtotal: cents(subtotal)}
			for _, q := range quantities {
				cart.Items = append(cart.Items, CartItem{ProductID: "p", CategoryID: "c", CollectionID: "k", Quantity: q})
			}
			return !CampaignMatches(Campaign{Status: StatusActive}, cart)
		},
		gen.Int64Range(0, 1_000_000),
		gen.SliceOf(gen.IntRange(0, 50)),
	))

	properties.Property("selection is idempotent", prop.ForAll(
		func(subtotal int64, threshold int64, pct int64) bool {
			src := &fakeSource{campaigns: []Campaign{
				campaign("p10", 10, minCartValue(cents(threshold).String()), percent(decimal.NewFromInt(pct).String())),
				campaign("p5", 5, minCartValue("0"), percent("1")),
			}}
			eng := newTestEngine(src)
			cart := CartData{Subtotal: cents(subtotal), Items: []CartItem{{ProductID: "p", Quantity: 1}}}

			a, okA, errA := eng.FindBestCampaign(context.Background(), cart)
			b, okB, errB := eng.FindBestCampaign(context.Background(), cart)
			if errA != nil || errB != nil || okA != okB {
				return false
			}
			if !okA {
				return true
			}
			if cart.Subtotal.GreaterThanOrEqual(cents(threshold)) && a.ID != "p10" {
				return false
			}
			return a.ID == b.ID && a.Discount.Equal(b.Discount)
		},
		gen.Int64Range(0, 1_000_000),
		gen.Int64Range(0, 1_000_000),
		gen.Int64Range(0, 100),
	))

	properties.TestingRun(t)
}
