package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campaign-discount-engine/internal/engine"
)

var now = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

type MockLoader struct {
	mu        sync.Mutex
	campaigns []engine.Campaign
	err       error
	calls     int
}

func (m *MockLoader) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockLoader) LoadActiveCampaigns(ctx context.Context) ([]engine.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.campaigns, nil
}

func snapshot(c *Cache) []engine.Campaign {
	cs, _ := c.snap.Load()
	return cs
}

func liveAndExpired() []engine.Campaign {
	ended := now.Add(-time.Hour)
	return []engine.Campaign{
		{ID: "live", Status: engine.StatusActive, Priority: 5, StartAt: now.Add(-24 * time.Hour)},
		{ID: "expired", Status: engine.StatusActive, Priority: 4, StartAt: now.Add(-48 * time.Hour), EndAt: &ended},
		{ID: "future", Status: engine.StatusActive, Priority: 3, StartAt: now.Add(time.Hour)},
	}
}

func ids(cs []engine.Campaign) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.ID)
	}
	return out
}

func TestCache_ActiveCampaigns(t *testing.T) {
	tests := []struct {
		name    string
		loader  *MockLoader
		want    []string
		wantErr bool
	}{
		{"filters by window", &MockLoader{campaigns: liveAndExpired()}, []string{"live"}, false},
		{"cold cache load error", &MockLoader{err: context.DeadlineExceeded}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCache(tt.loader)
			got, err := c.ActiveCampaigns(context.Background(), now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))

			// warm: no further loads
			_, err = c.ActiveCampaigns(context.Background(), now.Add(2*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, 1, tt.loader.calls)
		})
	}
}

func TestCache_WindowOpensWithoutRefresh(t *testing.T) {
	c := NewCache(&MockLoader{campaigns: liveAndExpired()})
	got, err := c.ActiveCampaigns(context.Background(), now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"live", "future"}, ids(got))
}

func TestCache_RefreshKeepsPreviousOnError(t *testing.T) {
	loader := &MockLoader{campaigns: liveAndExpired()}
	c := NewCache(loader)
	require.NoError(t, c.Refresh(context.Background()))

	loader.err = errors.New("db down")
	assert.Error(t, c.Refresh(context.Background()))
	assert.Len(t, snapshot(c), 3)
}

func TestCache_Age(t *testing.T) {
	c := NewCache(&MockLoader{campaigns: liveAndExpired()})
	_, ok := c.Age(time.Now())
	assert.False(t, ok)

	require.NoError(t, c.Refresh(context.Background()))
	age, ok := c.Age(time.Now().Add(time.Minute))
	require.True(t, ok)
	assert.GreaterOrEqual(t, age, time.Minute)
}

func TestCache_StartRefresher(t *testing.T) {
	tests := []struct {
		name         string
		loader       *MockLoader
		wantCampaign int
	}{
		{"successful refresh updates cache", &MockLoader{campaigns: liveAndExpired()}, 3},
		{"error refresh leaves cache empty", &MockLoader{err: context.DeadlineExceeded}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			c := NewCache(tt.loader)
			c.StartRefresher(ctx, 10*time.Millisecond)
			time.Sleep(100 * time.Millisecond)

			assert.Len(t, snapshot(c), tt.wantCampaign)
		})
	}
}

func TestCampaignRow_Campaign(t *testing.T) {
	str := func(s string) *string { return &s }
	end := now.Add(time.Hour)

	row := CampaignRow{
		ID:            "c1",
		Name:          "Summer",
		Status:        " ACTIVE ",
		Priority:      7,
		StartAt:       now,
		EndAt:         &end,
		Mode:          "auto",
		Rules:         []byte(`[{"kind":"min_items","operator":">=","value":{"count":3}},{"kind":"category","operator":null,"value":{"category_id":12}},{"kind":"loyalty","operator":"=","value":{}}]`),
		DiscountType:  str("Percentage"),
		DiscountValue: str("10.00"),
		MaxDiscount:   str("50"),
		AppliesTo:     str("order"),
	}

	c := row.Campaign()
	assert.Equal(t, engine.StatusActive, c.Status)
	assert.Equal(t, engine.ModeAuto, c.Mode)
	require.Len(t, c.Rules, 3)
	assert.Equal(t, engine.Rule{Operator: engine.OpGte, Value: engine.MinItemsValue{Count: 3}}, c.Rules[0])
	assert.Equal(t, engine.CategoryValue{CategoryID: "12"}, c.Rules[1].Value)
	assert.IsType(t, engine.MalformedValue{}, c.Rules[2].Value)
	require.NotNil(t, c.Action)
	assert.Equal(t, engine.DiscountPercentage, c.Action.DiscountType)
	assert.Equal(t, "10", c.Action.DiscountValue.String())
	assert.Equal(t, "50", c.Action.MaxDiscount.String())
}

func TestCampaignRow_BadPayloadsFailClosed(t *testing.T) {
	str := func(s string) *string { return &s }

	tests := []struct {
		name       string
		row        CampaignRow
		wantAction bool
	}{
		{"no action", CampaignRow{Rules: []byte(`[]`)}, false},
		{"unknown discount type", CampaignRow{DiscountType: str("bogo"), DiscountValue: str("1")}, false},
		{"bad value", CampaignRow{DiscountType: str("flat"), DiscountValue: str("ten")}, false},
		{"bad cap", CampaignRow{DiscountType: str("percentage"), DiscountValue: str("5"), MaxDiscount: str("x")}, false},
		{"flat", CampaignRow{DiscountType: str("flat"), DiscountValue: str("200")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.row.Campaign()
			assert.Equal(t, tt.wantAction, c.Action != nil)
		})
	}

	c := CampaignRow{Rules: []byte(`{not json`)}.Campaign()
	require.Len(t, c.Rules, 1)
	assert.False(t, engine.CampaignMatches(c, engine.CartData{Items: []engine.CartItem{{Quantity: 1}}}))
}

const fixtureYAML = `
campaigns:
  - name: Weekend five
    priority: 5
    start_at: 2026-01-01T00:00:00Z
    rules:
      - kind: min_items
        operator: ">="
        value: {count: 5}
    actions:
      - discount_type: flat
        discount_value: "200"
        applies_to: order
  - id: big-basket
    name: Big basket
    priority: 10
    start_at: 2026-01-01T00:00:00Z
    end_at: 2026-12-31T23:59:59Z
    rules:
      - kind: min_cart_value
        operator: ">="
        value: {amount: 1000}
    actions:
      - discount_type: percentage
        discount_value: 10
        max_discount: "50"
      - discount_type: flat
        discount_value: 999
  - name: Draft
    status: draft
    priority: 99
    rules:
      - kind: product
        value: {product_id: p1}
`

func writeFixture(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "campaigns.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadFixtures(t *testing.T) {
	cs, err := LoadFixtures(writeFixture(t, fixtureYAML))
	require.NoError(t, err)
	require.Len(t, cs, 3)

	assert.Equal(t, "Draft", cs[0].Name)
	assert.Equal(t, "big-basket", cs[1].ID)
	assert.Equal(t, "Weekend five", cs[2].Name)

	// generated ids are stable across loads
	again, err := LoadFixtures(writeFixture(t, fixtureYAML))
	require.NoError(t, err)
	assert.Equal(t, cs[2].ID, again[2].ID)
	assert.Len(t, cs[2].ID, 36)

	require.NotNil(t, cs[1].Action)
	assert.Equal(t, "10", cs[1].Action.DiscountValue.String())
	assert.Equal(t, "50", cs[1].Action.MaxDiscount.String())

	src := NewStaticSource(cs)
	live, err := src.ActiveCampaigns(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, []string{"big-basket", cs[2].ID}, ids(live))

	eng := engine.New(src, engine.Options{Clock: func() time.Time { return now }})
	cart := engine.CartData{
		Subtotal: decimal.RequireFromString("1000"),
		Items:    []engine.CartItem{{ProductID: "p1", Quantity: 1}},
	}
	applied, ok, err := eng.FindBestCampaign(context.Background(), cart)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "big-basket", applied.ID)
	assert.Equal(t, "50", applied.Discount.String())
}

func TestLoadFixtures_Errors(t *testing.T) {
	_, err := LoadFixtures(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadFixtures(writeFixture(t, "campaigns:\n  - name: x\n    actions:\n      - discount_type: flat\n        discount_value: lots\n"))
	assert.Error(t, err)
}

func unreachableRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestRedisCache_FallsBackToLoader(t *testing.T) {
	client := unreachableRedis()
	defer client.Close()

	loader := &MockLoader{campaigns: liveAndExpired()}
	c := NewRedisCache(client, loader, "test:campaigns", time.Second)
	assert.Equal(t, "test:campaigns:active", c.Key())

	got, err := c.ActiveCampaigns(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, []string{"live"}, ids(got))
	assert.Equal(t, 1, loader.calls)

	assert.Error(t, c.Refresh(context.Background()))
}

func TestRedisCache_LoaderError(t *testing.T) {
	client := unreachableRedis()
	defer client.Close()

	c := NewRedisCache(client, &MockLoader{err: errors.New("db down")}, "test", 0)
	_, err := c.ActiveCampaigns(context.Background(), now)
	assert.EqualError(t, err, "db down")
}
