package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"campaign-discount-engine/internal/config"
	"campaign-discount-engine/internal/engine"
)

var errNoPool = errors.New("pgx pool is nil")

type Store struct {
	pool    *pgxpool.Pool
	channel string
}

// CampaignRow is one campaign as read from the database, before payload decoding.
type CampaignRow struct {
	ID            string
	Name          string
	Status        string
	Priority      int
	StartAt       time.Time
	EndAt         *time.Time
	Mode          string
	Rules         []byte // json array of {kind, operator, value}
	DiscountType  *string
	DiscountValue *string
	MaxDiscount   *string
	AppliesTo     *string
}

func New(ctx context.Context, cfg config.Config) (*Store, error) {
	dsn := cfg.DSN()
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Postgres.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.Postgres.MaxIdleConns)
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	return &Store{pool: pool, channel: cfg.Listener.Channel}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Rules are aggregated per campaign and only the first action is joined, so one round trip
// returns everything the engine needs regardless of rule count.
const campaignsQuery = `
	SELECT c.id::text, c.name, c.status, c.priority, c.start_at, c.end_at, COALESCE(c.application_mode, 'auto'),
	       COALESCE(r.rules, '[]'::json),
	       a.discount_type, a.discount_value::text, a.max_discount::text, a.applies_to
	FROM campaigns c
	LEFT JOIN LATERAL (
		SELECT json_agg(json_build_object(
		           'kind', cr.rule_type, 'operator', cr.operator, 'value', cr.value)
		       ORDER BY cr.created_at, cr.id) AS rules
		FROM campaign_rules cr
		WHERE cr.campaign_id = c.id
	) r ON true
	LEFT JOIN LATERAL (
		SELECT ca.discount_type, ca.discount_value, ca.max_discount, ca.applies_to
		FROM campaign_actions ca
		WHERE ca.campaign_id = c.id
		ORDER BY ca.created_at, ca.id
		LIMIT 1
	) a ON true
	WHERE c.status = 'active'
	  AND ($1::timestamptz IS NULL OR (c.start_at <= $1 AND (c.end_at IS NULL OR c.end_at >= $1)))
	ORDER BY c.priority DESC, c.created_at ASC, c.id ASC
`

// ActiveCampaigns loads campaigns that are active and live at now, highest priority first.
func (s *Store) ActiveCampaigns(ctx context.Context, now time.Time) ([]engine.Campaign, error) {
	return s.query(ctx, &now)
}

// LoadActiveCampaigns loads every campaign with status active regardless of its window.
// Used to fill the in-process snapshot, which applies the window at read time.
func (s *Store) LoadActiveCampaigns(ctx context.Context) ([]engine.Campaign, error) {
	return s.query(ctx, nil)
}

func (s *Store) query(ctx context.Context, now *time.Time) ([]engine.Campaign, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.pool.Query(ctx, campaignsQuery, now)
	if err != nil {
		return nil, fmt.Errorf("query campaigns: %w", err)
	}
	defer rows.Close()

	var out []engine.Campaign
	for rows.Next() {
		var r CampaignRow
		if err := rows.Scan(
			&r.ID, &r.Name, &r.Status, &r.Priority, &r.StartAt, &r.EndAt, &r.Mode,
			&r.Rules, &r.DiscountType, &r.DiscountValue, &r.MaxDiscount, &r.AppliesTo,
		); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, r.Campaign())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read campaigns: %w", err)
	}
	return out, nil
}

// Campaign decodes the row. Undecodable rule payloads become malformed rules and an
// undecodable action leaves the campaign inert; neither is an error.
func (r CampaignRow) Campaign() engine.Campaign {
	c := engine.Campaign{
		ID:       r.ID,
		Name:     r.Name,
		Status:   engine.Status(strings.ToLower(strings.TrimSpace(r.Status))),
		Priority: r.Priority,
		StartAt:  r.StartAt.UTC(),
		Mode:     engine.Mode(strings.ToLower(strings.TrimSpace(r.Mode))),
	}
	if r.EndAt != nil {
		end := r.EndAt.UTC()
		c.EndAt = &end
	}

	if len(r.Rules) > 0 {
		if err := json.Unmarshal(r.Rules, &c.Rules); err != nil {
			log.Warn().Err(err).Str("campaign_id", r.ID).Msg("undecodable campaign rules")
			c.Rules = []engine.Rule{{Value: engine.MalformedValue{Reason: "undecodable rules", Raw: r.Rules}}}
		}
	}

	action, err := r.action()
	if err != nil {
		log.Warn().Err(err).Str("campaign_id", r.ID).Msg("undecodable campaign action")
	}
	c.Action = action
	return c
}

func (r CampaignRow) action() (*engine.Action, error) {
	if r.DiscountType == nil || r.DiscountValue == nil {
		return nil, nil
	}
	typ := engine.DiscountType(strings.ToLower(strings.TrimSpace(*r.DiscountType)))
	if typ != engine.DiscountFlat && typ != engine.DiscountPercentage {
		return nil, fmt.Errorf("unknown discount type %q", *r.DiscountType)
	}
	value, err := decimal.NewFromString(strings.TrimSpace(*r.DiscountValue))
	if err != nil {
		return nil, fmt.Errorf("discount value: %w", err)
	}
	a := &engine.Action{DiscountType: typ, DiscountValue: value}
	if r.MaxDiscount != nil {
		m, err := decimal.NewFromString(strings.TrimSpace(*r.MaxDiscount))
		if err != nil {
			return nil, fmt.Errorf("max discount: %w", err)
		}
		a.MaxDiscount = &m
	}
	if r.AppliesTo != nil {
		a.AppliesTo = *r.AppliesTo
	}
	return a, nil
}

func (s *Store) ListenChannel() string {
	if s.channel == "" {
		return "campaign_data_change"
	}
	return s.channel
}

func (s *Store) PgxPool() *pgxpool.Pool {
	if s.pool == nil {
		panic(errNoPool)
	}
	return s.pool
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.pool == nil {
		return errNoPool
	}
	return s.pool.Ping(ctx)
}
