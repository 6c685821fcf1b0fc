package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"campaign-discount-engine/internal/engine"
)

// campaignNamespace seeds stable ids for fixture campaigns that do not declare one.
var campaignNamespace = uuid.MustParse("6f1c2a4e-4b8e-4c57-9a0f-5d1c7e9b2a31")

type fixtureFile struct {
	Campaigns []fixtureCampaign `yaml:"campaigns"`
}

type fixtureCampaign struct {
	ID       string          `yaml:"id"`
	Name     string          `yaml:"name"`
	Status   string          `yaml:"status"`
	Priority int             `yaml:"priority"`
	StartAt  time.Time       `yaml:"start_at"`
	EndAt    *time.Time      `yaml:"end_at"`
	Mode     string          `yaml:"mode"`
	Rules    []fixtureRule   `yaml:"rules"`
	Actions  []fixtureAction `yaml:"actions"`
}

type fixtureRule struct {
	Kind     string         `yaml:"kind"`
	Operator string         `yaml:"operator"`
	Value    map[string]any `yaml:"value"`
}

type fixtureAction struct {
	DiscountType  string  `yaml:"discount_type"`
	DiscountValue string  `yaml:"discount_value"`
	MaxDiscount   *string `yaml:"max_discount"`
	AppliesTo     string  `yaml:"applies_to"`
}

// LoadFixtures reads campaigns from a yaml file. Campaigns are returned ordered by
// priority descending; file order breaks ties.
func LoadFixtures(path string) ([]engine.Campaign, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixtures %s: %w", path, err)
	}
	defer f.Close()

	var ff fixtureFile
	if err := yaml.NewDecoder(f).Decode(&ff); err != nil {
		return nil, fmt.Errorf("decode fixtures %s: %w", path, err)
	}

	out := make([]engine.Campaign, 0, len(ff.Campaigns))
	for i, fc := range ff.Campaigns {
		c, err := fc.campaign()
		if err != nil {
			return nil, fmt.Errorf("fixture campaign %d (%s): %w", i, fc.Name, err)
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}

func (fc fixtureCampaign) campaign() (engine.Campaign, error) {
	id := strings.TrimSpace(fc.ID)
	if id == "" {
		id = uuid.NewSHA1(campaignNamespace, []byte(fc.Name)).String()
	}
	status := engine.Status(strings.ToLower(fc.Status))
	if status == "" {
		status = engine.StatusActive
	}
	c := engine.Campaign{
		ID:       id,
		Name:     fc.Name,
		Status:   status,
		Priority: fc.Priority,
		StartAt:  fc.StartAt.UTC(),
		Mode:     engine.Mode(strings.ToLower(fc.Mode)),
	}
	if fc.EndAt != nil {
		end := fc.EndAt.UTC()
		c.EndAt = &end
	}

	for _, fr := range fc.Rules {
		raw, err := json.Marshal(fr.Value)
		if err != nil {
			return engine.Campaign{}, fmt.Errorf("rule %s value: %w", fr.Kind, err)
		}
		c.Rules = append(c.Rules, engine.Rule{
			Operator: engine.Operator(strings.TrimSpace(fr.Operator)),
			Value:    engine.DecodeRuleValue(engine.RuleKind(fr.Kind), raw),
		})
	}

	// only the primary action is used
	if len(fc.Actions) > 0 {
		fa := fc.Actions[0]
		value, err := decimal.NewFromString(fa.DiscountValue)
		if err != nil {
			return engine.Campaign{}, fmt.Errorf("discount_value: %w", err)
		}
		a := &engine.Action{
			DiscountType:  engine.DiscountType(strings.ToLower(fa.DiscountType)),
			DiscountValue: value,
			AppliesTo:     fa.AppliesTo,
		}
		if fa.MaxDiscount != nil {
			m, err := decimal.NewFromString(*fa.MaxDiscount)
			if err != nil {
				return engine.Campaign{}, fmt.Errorf("max_discount: %w", err)
			}
			a.MaxDiscount = &m
		}
		c.Action = a
	}
	return c, nil
}

// StaticSource serves a fixed campaign list, applying status and windows at read time.
type StaticSource struct {
	campaigns []engine.Campaign
}

func NewStaticSource(campaigns []engine.Campaign) *StaticSource {
	return &StaticSource{campaigns: campaigns}
}

func (s *StaticSource) ActiveCampaigns(_ context.Context, now time.Time) ([]engine.Campaign, error) {
	out := make([]engine.Campaign, 0, len(s.campaigns))
	for _, c := range s.campaigns {
		if c.LiveAt(now) {
			out = append(out, c)
		}
	}
	return out, nil
}
