// Package portfolio aggregates a wallet's positions into a consistent
// snapshot: total value, per-token weights and aggregate P&L.
//
// Every mutating helper recomputes the portfolio total before returning,
// so callers never observe a stale total across a mutation boundary.
//
// All monetary values use shopspring/decimal — never float64 for money.
package portfolio

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tokensentry/risk-engine/internal/model"
)

var hundred = decimal.NewFromInt(100)

// AddPosition inserts a position into the portfolio and synchronously
// recomputes the total value.
func AddPosition(pf *model.Portfolio, p *model.Position) {
	pf.Positions[p.TokenAddress] = p
	UpdateTotalValue(pf)
}

// RemovePosition deletes the token's position (active or closed) and
// synchronously recomputes the total value.
func RemovePosition(pf *model.Portfolio, token string) {
	delete(pf.Positions, token)
	UpdateTotalValue(pf)
}

// UpdateTotalValue recomputes total value as the sum of active position
// current values and bumps the updated-at timestamp. O(n) in positions.
func UpdateTotalValue(pf *model.Portfolio) {
	pf.TotalValue = TotalValue(pf)
	pf.UpdatedAt = time.Now().UTC()
}

// TotalValue is a pure read: Σ current value over active positions.
func TotalValue(pf *model.Portfolio) decimal.Decimal {
	total := decimal.Zero
	for _, p := range pf.Positions {
		if p.Active() {
			total = total.Add(p.CurrentValue())
		}
	}
	return total
}

// TotalPnL is a pure read: Σ unrealized P&L over active positions.
func TotalPnL(pf *model.Portfolio) decimal.Decimal {
	total := decimal.Zero
	for _, p := range pf.Positions {
		if p.Active() {
			total = total.Add(p.PnLValue())
		}
	}
	return total
}

// Weights returns each active token's share of the portfolio as a
// percentage (current value / total * 100). When the total value is zero
// all weights are zero, not undefined.
func Weights(pf *model.Portfolio) map[string]decimal.Decimal {
	weights := make(map[string]decimal.Decimal)
	total := TotalValue(pf)

	for _, p := range pf.Positions {
		if !p.Active() {
			continue
		}
		if total.IsPositive() {
			weights[p.TokenAddress] = p.CurrentValue().Div(total).Mul(hundred)
		} else {
			weights[p.TokenAddress] = decimal.Zero
		}
	}
	return weights
}

// HistoryBetween filters externally recorded value samples to the
// [start, end] window and returns them in ascending time order. The
// aggregator does not retain history itself — samples come from the
// persistence collaborator.
func HistoryBetween(samples []model.ValueSample, start, end time.Time) []model.ValueSample {
	out := make([]model.ValueSample, 0, len(samples))
	for _, s := range samples {
		if s.Timestamp.Before(start) || s.Timestamp.After(end) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// EquityCurve extracts the total-value series from ordered samples, for
// drawdown and return calculations.
func EquityCurve(samples []model.ValueSample) []decimal.Decimal {
	curve := make([]decimal.Decimal, 0, len(samples))
	for _, s := range samples {
		curve = append(curve, s.TotalValue)
	}
	return curve
}
