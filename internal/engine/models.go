package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusDraft    Status = "draft"
)

// Mode controls how a campaign is applied. Only auto campaigns are considered by the engine.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeCoupon Mode = "coupon"
)

type DiscountType string

const (
	DiscountFlat       DiscountType = "flat"
	DiscountPercentage DiscountType = "percentage"
)

// Campaign is a named promotion with its eligibility rules and primary action.
type Campaign struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Status   Status     `json:"status"`
	Priority int        `json:"priority"`
	StartAt  time.Time  `json:"start_at"`
	EndAt    *time.Time `json:"end_at,omitempty"`
	Mode     Mode       `json:"mode,omitempty"`
	Rules    []Rule     `json:"rules"`
	Action   *Action    `json:"action,omitempty"` // nil => inert
}

// LiveAt reports whether the campaign is active and its window contains now.
func (c Campaign) LiveAt(now time.Time) bool {
	if c.Status != StatusActive {
		return false
	}
	if now.Before(c.StartAt) {
		return false
	}
	return c.EndAt == nil || !now.After(*c.EndAt)
}

func (c Campaign) autoApplied() bool {
	return c.Mode == "" || c.Mode == ModeAuto
}

// Action is the discount effect of a campaign. MaxDiscount only applies to percentage discounts.
type Action struct {
	DiscountType  DiscountType     `json:"discount_type"`
	DiscountValue decimal.Decimal  `json:"discount_value"`
	MaxDiscount   *decimal.Decimal `json:"max_discount,omitempty"`
	AppliesTo     string           `json:"applies_to,omitempty"`
}

type CartItem struct {
	ProductID    string          `json:"product_id"`
	CategoryID   string          `json:"category_id"`
	CollectionID string          `json:"collection_id"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
}

// CartData is the caller-owned cart snapshot. The engine never mutates it.
type CartData struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Items    []CartItem      `json:"items"`
}

// TotalQuantity sums item quantities.
func (c CartData) TotalQuantity() int {
	n := 0
	for _, it := range c.Items {
		n += it.Quantity
	}
	return n
}

type AppliedCampaign struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Discount     decimal.Decimal `json:"discount"`
	DiscountType DiscountType    `json:"discount_type"`
}

// NearMiss describes a campaign the cart is a few items short of.
type NearMiss struct {
	CampaignID    string           `json:"campaign_id"`
	CampaignName  string           `json:"campaign_name"`
	ItemsNeeded   int              `json:"items_needed"`
	DiscountType  DiscountType     `json:"discount_type,omitempty"`
	DiscountValue decimal.Decimal  `json:"discount_value"`
	MaxDiscount   *decimal.Decimal `json:"max_discount,omitempty"`
}
