// Package rebalance computes minimal adjustment trades that move a
// portfolio toward a target weight distribution, plus an estimated fee
// cost. Planning is a pure read over current state: it never executes
// trades, and two consecutive plans against unchanged state are identical.
//
// All monetary values use shopspring/decimal — never float64 for money.
package rebalance

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/tokensentry/risk-engine/internal/model"
	"github.com/tokensentry/risk-engine/internal/portfolio"
)

var (
	// ErrNegativeTarget is returned when any target weight is negative.
	ErrNegativeTarget = errors.New("rebalance: target weights must be non-negative")

	// ErrEmptyTargets is returned when the target weights are absent or
	// sum to zero, leaving nothing to normalize against.
	ErrEmptyTargets = errors.New("rebalance: target weights sum to zero")
)

var hundred = decimal.NewFromInt(100)

// Adjustment is one signed rebalance instruction: a positive amount means
// buy that much portfolio value of the token, negative means sell.
type Adjustment struct {
	TokenAddress  string          `json:"token_address"`
	CurrentWeight decimal.Decimal `json:"current_weight"`
	TargetWeight  decimal.Decimal `json:"target_weight"`
	Amount        decimal.Decimal `json:"amount"`
}

// Plan computes per-token adjustments toward the target weights. Targets
// are interpreted relative and normalized to 100 internally; tokens held
// but absent from the targets get a zero target (full exit), and target
// tokens not yet held produce pure entries. Instructions come back in
// token order so repeated calls over unchanged state are identical.
//
// An empty portfolio (zero total value) yields an empty plan.
func Plan(pf *model.Portfolio, targetWeights map[string]decimal.Decimal) ([]Adjustment, error) {
	sum := decimal.Zero
	for _, w := range targetWeights {
		if w.IsNegative() {
			return nil, ErrNegativeTarget
		}
		sum = sum.Add(w)
	}
	if !sum.IsPositive() {
		return nil, ErrEmptyTargets
	}

	total := portfolio.TotalValue(pf)
	if !total.IsPositive() {
		return nil, nil
	}

	currentWeights := portfolio.Weights(pf)

	tokens := make(map[string]struct{}, len(targetWeights)+len(currentWeights))
	for token := range targetWeights {
		tokens[token] = struct{}{}
	}
	for token := range currentWeights {
		tokens[token] = struct{}{}
	}
	ordered := make([]string, 0, len(tokens))
	for token := range tokens {
		ordered = append(ordered, token)
	}
	sort.Strings(ordered)

	adjustments := make([]Adjustment, 0, len(ordered))
	for _, token := range ordered {
		target := targetWeights[token].Div(sum).Mul(hundred)
		current := currentWeights[token]
		amount := target.Sub(current).Div(hundred).Mul(total)
		if amount.IsZero() {
			continue
		}
		adjustments = append(adjustments, Adjustment{
			TokenAddress:  token,
			CurrentWeight: current,
			TargetWeight:  target,
			Amount:        amount,
		})
	}
	return adjustments, nil
}

// EstimateCost returns the fee cost of executing the adjustments:
// Σ |amount| * feeRate.
func EstimateCost(adjustments []Adjustment, feeRate decimal.Decimal) decimal.Decimal {
	cost := decimal.Zero
	for _, a := range adjustments {
		cost = cost.Add(a.Amount.Abs().Mul(feeRate))
	}
	return cost
}
