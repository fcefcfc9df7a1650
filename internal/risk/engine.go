// Package risk evaluates portfolio risk against configured limits and
// computes forward-looking risk statistics and position sizing.
//
// Every check is read-only: the engine never mutates portfolio or position
// state, it only returns verdicts for a trade-admission gate to act on.
// Historical return and correlation series are injected by the caller —
// the engine never fetches or stores market data.
//
// All monetary values use shopspring/decimal — never float64 for money.
package risk

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tokensentry/risk-engine/internal/calc"
	"github.com/tokensentry/risk-engine/internal/model"
	"github.com/tokensentry/risk-engine/internal/portfolio"
)

var (
	// ErrInvalidStopLossPct is returned by position sizing when the
	// stop-loss percentage is zero.
	ErrInvalidStopLossPct = errors.New("risk: stop loss percentage must be non-zero")

	// ErrZeroPortfolioValue is returned where a formula would divide by a
	// zero portfolio value and no documented zero-fallback applies.
	ErrZeroPortfolioValue = errors.New("risk: portfolio value is zero")
)

// Verdict keys returned by CheckPortfolioLimits.
const (
	LimitConcentration = "concentration"
	LimitLeverage      = "leverage"
	LimitDrawdown      = "drawdown"
	LimitCorrelation   = "correlation"
)

var hundred = decimal.NewFromInt(100)

// Engine evaluates risk limits and statistics for one set of configured
// limits. It is stateless apart from configuration and safe for
// concurrent use.
type Engine struct {
	limits     model.RiskLimits
	confidence decimal.Decimal // VaR/CVaR confidence level, fraction in (0, 1)
}

// NewEngine creates a risk engine. A non-positive confidence falls back
// to 0.95.
func NewEngine(limits model.RiskLimits, confidence decimal.Decimal) *Engine {
	if !confidence.IsPositive() || confidence.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		confidence = decimal.NewFromFloat(0.95)
	}
	return &Engine{limits: limits, confidence: confidence}
}

// Limits returns the configured limit set.
func (e *Engine) Limits() model.RiskLimits {
	return e.limits
}

// PositionRiskPct returns the position's capital at risk as a percentage
// of portfolio value. With a stop-loss configured the potential loss is
// current value minus the stop exit value; without one the full position
// is at risk.
func (e *Engine) PositionRiskPct(p *model.Position, portfolioValue decimal.Decimal) (decimal.Decimal, error) {
	if !portfolioValue.IsPositive() {
		return decimal.Zero, ErrZeroPortfolioValue
	}
	potentialLoss := p.CurrentValue()
	if p.HasStopLoss() {
		potentialLoss = p.CurrentValue().Sub(p.Amount.Mul(p.StopLoss))
	}
	return potentialLoss.Div(portfolioValue).Mul(hundred), nil
}

// PortfolioRiskPct sums position risk percentages over all active
// positions. Intentionally additive, not netted, and not capped. Zero for
// an empty or zero-value portfolio.
func (e *Engine) PortfolioRiskPct(pf *model.Portfolio) decimal.Decimal {
	total := portfolio.TotalValue(pf)
	if !total.IsPositive() {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, p := range pf.ActivePositions() {
		riskPct, err := e.PositionRiskPct(p, total)
		if err != nil {
			continue
		}
		sum = sum.Add(riskPct)
	}
	return sum
}

// OptimalPositionSize proposes a position size such that hitting the stop
// loses exactly the configured risk-per-trade fraction of the portfolio:
// size = (portfolioValue * riskPerTrade%) / stopLossPct%.
func (e *Engine) OptimalPositionSize(portfolioValue, stopLossPct decimal.Decimal) (decimal.Decimal, error) {
	if stopLossPct.IsZero() {
		return decimal.Zero, ErrInvalidStopLossPct
	}
	riskAmount := portfolioValue.Mul(e.limits.RiskPerTrade).Div(hundred)
	return riskAmount.Div(stopLossPct.Div(hundred)), nil
}

// CheckPositionLimits verdicts a single proposed trade: would adding
// proposedValue of the token keep its weight within the maximum position
// weight? Read-only.
func (e *Engine) CheckPositionLimits(pf *model.Portfolio, token string, proposedValue decimal.Decimal) bool {
	current := decimal.Zero
	if p, ok := pf.Positions[token]; ok && p.Active() {
		current = p.CurrentValue()
	}
	newTotal := portfolio.TotalValue(pf).Add(proposedValue)
	if !newTotal.IsPositive() {
		return true
	}
	newWeight := current.Add(proposedValue).Div(newTotal).Mul(hundred)
	return newWeight.LessThanOrEqual(e.limits.MaxPositionWeight)
}

// CheckConcentrationLimits returns a per-token verdict: true when the
// token's weight is within the maximum position weight.
func (e *Engine) CheckConcentrationLimits(pf *model.Portfolio) map[string]bool {
	verdicts := make(map[string]bool)
	for token, w := range portfolio.Weights(pf) {
		verdicts[token] = w.LessThanOrEqual(e.limits.MaxPositionWeight)
	}
	return verdicts
}

// CheckLeverageLimits verdicts gross exposure against account equity.
// With non-positive equity the check passes vacuously rather than
// dividing by zero.
func (e *Engine) CheckLeverageLimits(pf *model.Portfolio, equity decimal.Decimal) bool {
	if !equity.IsPositive() {
		return true
	}
	leverage := portfolio.TotalValue(pf).Div(equity)
	return leverage.LessThanOrEqual(e.limits.MaxLeverage)
}

// CheckDrawdownLimits verdicts the equity curve's maximum drawdown
// against the configured limit.
func (e *Engine) CheckDrawdownLimits(equityCurve []decimal.Decimal) bool {
	return calc.MaxDrawdown(equityCurve).LessThanOrEqual(e.limits.MaxDrawdown)
}

// CheckCorrelationLimits verdicts the highest pairwise correlation among
// the supplied per-token return series against the configured maximum.
// Passes when fewer than two series are supplied.
func (e *Engine) CheckCorrelationLimits(returnsByToken map[string][]decimal.Decimal) bool {
	tokens := make([]string, 0, len(returnsByToken))
	for token := range returnsByToken {
		tokens = append(tokens, token)
	}
	for i := 0; i < len(tokens); i++ {
		for j := i + 1; j < len(tokens); j++ {
			corr := calc.Correlation(returnsByToken[tokens[i]], returnsByToken[tokens[j]])
			if corr.Abs().GreaterThan(e.limits.MaxCorrelation) {
				return false
			}
		}
	}
	return true
}

// LimitInput bundles the externally supplied series the standing limit
// checks need: account equity, the portfolio equity curve, and per-token
// historical returns.
type LimitInput struct {
	Equity         decimal.Decimal
	EquityCurve    []decimal.Decimal
	ReturnsByToken map[string][]decimal.Decimal
}

// CheckPortfolioLimits runs every standing limit check and returns a map
// of named boolean verdicts. Read-only.
func (e *Engine) CheckPortfolioLimits(pf *model.Portfolio, in LimitInput) map[string]bool {
	concentrationOK := true
	for _, ok := range e.CheckConcentrationLimits(pf) {
		if !ok {
			concentrationOK = false
			break
		}
	}
	return map[string]bool{
		LimitConcentration: concentrationOK,
		LimitLeverage:      e.CheckLeverageLimits(pf, in.Equity),
		LimitDrawdown:      e.CheckDrawdownLimits(in.EquityCurve),
		LimitCorrelation:   e.CheckCorrelationLimits(in.ReturnsByToken),
	}
}

// MetricsInput bundles the injected series for a full metrics snapshot.
// Returns is the portfolio-level historical return series used for
// VaR/CVaR.
type MetricsInput struct {
	Returns []decimal.Decimal
	LimitInput
}

// Metrics assembles a full RiskMetrics snapshot from the current portfolio
// and injected history. Pure function of its inputs; nothing is persisted.
func (e *Engine) Metrics(pf *model.Portfolio, in MetricsInput) model.RiskMetrics {
	total := portfolio.TotalValue(pf)

	positionRisks := make(map[string]decimal.Decimal)
	for _, p := range pf.ActivePositions() {
		riskPct, err := e.PositionRiskPct(p, total)
		if err != nil {
			riskPct = decimal.Zero
		}
		positionRisks[p.TokenAddress] = riskPct
	}

	weights := portfolio.Weights(pf)
	weightList := make([]decimal.Decimal, 0, len(weights))
	for _, w := range weights {
		weightList = append(weightList, w)
	}

	return model.RiskMetrics{
		WalletAddress:      pf.WalletAddress,
		PortfolioRiskPct:   e.PortfolioRiskPct(pf),
		ValueAtRisk:        calc.ValueAtRisk(in.Returns, e.confidence),
		ExpectedShortfall:  calc.ExpectedShortfall(in.Returns, e.confidence),
		DiversityScore:     calc.HHIDiversity(weightList),
		PositionRisks:      positionRisks,
		ConcentrationFlags: e.CheckConcentrationLimits(pf),
		LeverageOK:         e.CheckLeverageLimits(pf, in.Equity),
		DrawdownOK:         e.CheckDrawdownLimits(in.EquityCurve),
		ComputedAt:         time.Now().UTC(),
	}
}
