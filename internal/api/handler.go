package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"campaign-discount-engine/internal/engine"
	"campaign-discount-engine/internal/observability"
)

const maxBodyBytes = 1 << 20

var errNegativeQuantity = errors.New("item quantity must not be negative")

// Pinger checks a backing dependency for readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

type DiscountHandler struct {
	Eng *engine.Engine
	// DB is nil when campaigns are served from fixtures.
	DB Pinger
}

func NewDiscountHandler(eng *engine.Engine, db Pinger) *DiscountHandler {
	return &DiscountHandler{Eng: eng, DB: db}
}

// Ready reports 503 while the campaign database is unreachable. Evaluation itself keeps
// answering with no discount in that state.
func (h *DiscountHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if err := h.DB.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("readiness check failed")
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "database unavailable"})
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// EvaluateResponse is the order-total view of an evaluation. Campaign is null when nothing applies.
type EvaluateResponse struct {
	Campaign *engine.AppliedCampaign `json:"campaign"`
	Subtotal decimal.Decimal         `json:"subtotal"`
	Discount decimal.Decimal         `json:"discount"`
	Payable  decimal.Decimal         `json:"payable"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeCart(w http.ResponseWriter, r *http.Request) (engine.CartData, error) {
	var cart engine.CartData
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&cart); err != nil {
		return engine.CartData{}, err
	}
	for _, it := range cart.Items {
		if it.Quantity < 0 {
			return engine.CartData{}, errNegativeQuantity
		}
	}
	return cart, nil
}

// Evaluate picks the campaign to apply to the posted cart. A campaign fetch failure is
// logged and answered as "no discount" so checkout is never blocked.
func (h *DiscountHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	cart, err := decodeCart(w, r)
	if err != nil {
		observability.RequestErrors.WithLabelValues("decode").Inc()
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	ctx := r.Context()
	resp := EvaluateResponse{Subtotal: cart.Subtotal, Discount: decimal.Zero, Payable: cart.Subtotal}

	applied, ok, err := h.Eng.FindBestCampaign(ctx, cart)
	switch {
	case err != nil:
		observability.Evaluations.WithLabelValues(observability.OutcomeFetchError).Inc()
		log.Warn().Err(err).Str("request_id", middleware.GetReqID(ctx)).Msg("campaign fetch failed; no discount applied")
	case len(cart.Items) == 0:
		observability.Evaluations.WithLabelValues(observability.OutcomeEmptyCart).Inc()
	case !ok:
		observability.Evaluations.WithLabelValues(observability.OutcomeNone).Inc()
	default:
		observability.Evaluations.WithLabelValues(observability.OutcomeApplied).Inc()
		observability.DiscountAmount.Observe(applied.Discount.InexactFloat64())
		resp.Campaign = &applied
		resp.Discount = applied.Discount
		resp.Payable = cart.Subtotal.Sub(applied.Discount)
		log.Debug().
			Str("request_id", middleware.GetReqID(ctx)).
			Str("campaign_id", applied.ID).
			Str("discount", applied.Discount.String()).
			Msg("campaign applied")
	}

	writeJSON(w, http.StatusOK, resp)
}

// Nearest reports a campaign the cart is a few items short of, or 204 when there is none.
func (h *DiscountHandler) Nearest(w http.ResponseWriter, r *http.Request) {
	cart, err := decodeCart(w, r)
	if err != nil {
		observability.RequestErrors.WithLabelValues("decode").Inc()
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	ctx := r.Context()
	nm, ok, err := h.Eng.FindNearestCampaign(ctx, cart)
	if err != nil {
		observability.NearMisses.WithLabelValues(observability.OutcomeFetchError).Inc()
		log.Warn().Err(err).Str("request_id", middleware.GetReqID(ctx)).Msg("campaign fetch failed; no near-miss")
	}
	if !ok {
		if err == nil {
			observability.NearMisses.WithLabelValues(observability.OutcomeNone).Inc()
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	observability.NearMisses.WithLabelValues("found").Inc()
	writeJSON(w, http.StatusOK, nm)
}
