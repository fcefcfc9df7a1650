package risk

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tokensentry/risk-engine/internal/model"
)

const tokenA = "So11111111111111111111111111111111111111112"
const tokenB = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func ds(fs ...float64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(fs))
	for i, f := range fs {
		out[i] = d(f)
	}
	return out
}

func defaultEngine() *Engine {
	return NewEngine(model.DefaultRiskLimits(), d(0.95))
}

func position(token string, amount, entry, current, stop float64) *model.Position {
	return &model.Position{
		TokenAddress: token,
		Amount:       d(amount),
		EntryPrice:   d(entry),
		CurrentPrice: d(current),
		StopLoss:     d(stop),
		Status:       model.StatusActive,
	}
}

func portfolioWith(positions ...*model.Position) *model.Portfolio {
	pf := model.NewPortfolio("7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU")
	for _, p := range positions {
		pf.Positions[p.TokenAddress] = p
	}
	return pf
}

// --- Position risk ---

func TestPositionRiskPct_WithStop(t *testing.T) {
	e := defaultEngine()
	// Value 100, stop exit value 80: 20 at risk of a 1000 portfolio → 2%.
	p := position(tokenA, 10, 10, 10, 8)
	riskPct, err := e.PositionRiskPct(p, d(1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !riskPct.Equal(d(2)) {
		t.Errorf("expected risk 2%%, got %s", riskPct)
	}
}

func TestPositionRiskPct_WithoutStop(t *testing.T) {
	e := defaultEngine()
	// No stop: the whole value is at risk. 100 of 1000 → 10%.
	p := position(tokenA, 10, 10, 10, 0)
	riskPct, err := e.PositionRiskPct(p, d(1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !riskPct.Equal(d(10)) {
		t.Errorf("expected risk 10%%, got %s", riskPct)
	}
}

func TestPositionRiskPct_ZeroPortfolio(t *testing.T) {
	e := defaultEngine()
	p := position(tokenA, 10, 10, 10, 8)
	if _, err := e.PositionRiskPct(p, decimal.Zero); !errors.Is(err, ErrZeroPortfolioValue) {
		t.Errorf("expected ErrZeroPortfolioValue, got %v", err)
	}
}

func TestPortfolioRiskPct_Additive(t *testing.T) {
	e := defaultEngine()
	pf := portfolioWith(
		position(tokenA, 10, 10, 10, 8), // value 100, risk 20
		position(tokenB, 10, 10, 10, 9), // value 100, risk 10
	)
	// Total 200; (20+10)/200 → 15%.
	riskPct := e.PortfolioRiskPct(pf)
	if !riskPct.Equal(d(15)) {
		t.Errorf("expected portfolio risk 15%%, got %s", riskPct)
	}
}

func TestPortfolioRiskPct_Empty(t *testing.T) {
	e := defaultEngine()
	if !e.PortfolioRiskPct(portfolioWith()).IsZero() {
		t.Error("expected zero risk for empty portfolio")
	}
}

// --- Position sizing ---

func TestOptimalPositionSize(t *testing.T) {
	e := defaultEngine()
	// 2% of 10000 = 200 at risk; 5% stop → 4000 position.
	size, err := e.OptimalPositionSize(d(10000), d(5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !size.Equal(d(4000)) {
		t.Errorf("expected size 4000, got %s", size)
	}
}

func TestOptimalPositionSize_ZeroStop(t *testing.T) {
	e := defaultEngine()
	if _, err := e.OptimalPositionSize(d(10000), decimal.Zero); !errors.Is(err, ErrInvalidStopLossPct) {
		t.Errorf("expected ErrInvalidStopLossPct, got %v", err)
	}
}

// --- Trade admission gate ---

func TestCheckPositionLimits_WithinLimit(t *testing.T) {
	e := defaultEngine()
	pf := portfolioWith(position(tokenA, 10, 10, 10, 0)) // total 100
	// Adding 30 of tokenB: weight 30/130 ≈ 23% < 25%.
	if !e.CheckPositionLimits(pf, tokenB, d(30)) {
		t.Error("expected trade within limit to pass")
	}
}

func TestCheckPositionLimits_Breach(t *testing.T) {
	e := defaultEngine()
	pf := portfolioWith(position(tokenA, 10, 10, 10, 0)) // total 100
	// Adding 50 of tokenB: weight 50/150 ≈ 33% > 25%.
	if e.CheckPositionLimits(pf, tokenB, d(50)) {
		t.Error("expected trade over limit to fail")
	}
}

func TestCheckPositionLimits_CountsExistingExposure(t *testing.T) {
	e := defaultEngine()
	pf := portfolioWith(
		position(tokenA, 2, 10, 10, 0), // 20
		position(tokenB, 8, 10, 10, 0), // 80
	)
	// tokenA already holds 20 of 100; adding 15 → 35/115 ≈ 30% > 25%.
	if e.CheckPositionLimits(pf, tokenA, d(15)) {
		t.Error("existing exposure must count toward the limit")
	}
}

func TestCheckPositionLimits_EmptyPortfolio(t *testing.T) {
	e := defaultEngine()
	// First position is always 100% of the portfolio; the gate still
	// verdicts it against the configured maximum.
	if e.CheckPositionLimits(portfolioWith(), tokenA, d(100)) {
		t.Error("expected 100%% weight to breach the 25%% limit")
	}
}

// --- Standing limit checks ---

func TestCheckConcentrationLimits(t *testing.T) {
	e := defaultEngine()
	pf := portfolioWith(
		position(tokenA, 6, 10, 10, 0), // 60%
		position(tokenB, 4, 10, 10, 0), // 40%
	)
	verdicts := e.CheckConcentrationLimits(pf)
	if verdicts[tokenA] {
		t.Error("60%% weight must breach the 25%% limit")
	}
	if verdicts[tokenB] {
		t.Error("40%% weight must breach the 25%% limit")
	}
}

func TestCheckLeverageLimits(t *testing.T) {
	e := defaultEngine()
	pf := portfolioWith(position(tokenA, 10, 10, 10, 0)) // exposure 100

	if !e.CheckLeverageLimits(pf, d(50)) { // 2x ≤ 3x
		t.Error("2x leverage should pass a 3x limit")
	}
	if e.CheckLeverageLimits(pf, d(25)) { // 4x > 3x
		t.Error("4x leverage should fail a 3x limit")
	}
}

func TestCheckLeverageLimits_ZeroEquityVacuous(t *testing.T) {
	e := defaultEngine()
	pf := portfolioWith(position(tokenA, 10, 10, 10, 0))
	if !e.CheckLeverageLimits(pf, decimal.Zero) {
		t.Error("zero equity must pass vacuously, not divide by zero")
	}
}

func TestCheckDrawdownLimits(t *testing.T) {
	e := defaultEngine()
	if !e.CheckDrawdownLimits(ds(100, 110, 95)) { // ~13.6% ≤ 20%
		t.Error("13.6%% drawdown should pass a 20%% limit")
	}
	if e.CheckDrawdownLimits(ds(100, 120, 90)) { // 25% > 20%
		t.Error("25%% drawdown should fail a 20%% limit")
	}
}

func TestCheckCorrelationLimits(t *testing.T) {
	e := defaultEngine()
	identical := ds(0.01, 0.02, -0.01, 0.03)
	if e.CheckCorrelationLimits(map[string][]decimal.Decimal{
		tokenA: identical,
		tokenB: identical,
	}) {
		t.Error("perfectly correlated series should fail a 0.8 limit")
	}
	if !e.CheckCorrelationLimits(map[string][]decimal.Decimal{
		tokenA: identical,
	}) {
		t.Error("a single series has nothing to correlate and must pass")
	}
}

func TestCheckPortfolioLimits_AllVerdictsPresent(t *testing.T) {
	e := defaultEngine()
	pf := portfolioWith(position(tokenA, 10, 10, 10, 0))
	verdicts := e.CheckPortfolioLimits(pf, LimitInput{Equity: d(100)})
	for _, key := range []string{LimitConcentration, LimitLeverage, LimitDrawdown, LimitCorrelation} {
		if _, ok := verdicts[key]; !ok {
			t.Errorf("missing verdict %q", key)
		}
	}
}

// --- Metrics snapshot ---

func TestMetrics_Snapshot(t *testing.T) {
	e := defaultEngine()
	pf := portfolioWith(
		position(tokenA, 5, 10, 12, 0), // 60
		position(tokenB, 10, 3, 4, 0),  // 40
	)
	m := e.Metrics(pf, MetricsInput{
		Returns: ds(-0.05, -0.02, 0.01, 0.03, -0.01),
		LimitInput: LimitInput{
			Equity:      d(100),
			EquityCurve: ds(90, 100),
		},
	})

	if m.WalletAddress != pf.WalletAddress {
		t.Error("wallet address not carried into snapshot")
	}
	// floor(5*0.05)=0 → worst loss.
	if !m.ValueAtRisk.Equal(d(0.05)) {
		t.Errorf("expected VaR 0.05, got %s", m.ValueAtRisk)
	}
	// Weights 60/40 → 1 - (0.36+0.16) = 0.48.
	if !m.DiversityScore.Equal(d(0.48)) {
		t.Errorf("expected diversity 0.48, got %s", m.DiversityScore)
	}
	if len(m.PositionRisks) != 2 {
		t.Errorf("expected 2 position risks, got %d", len(m.PositionRisks))
	}
	if !m.LeverageOK {
		t.Error("1x leverage must pass")
	}
	if !m.DrawdownOK {
		t.Error("rising curve must pass drawdown")
	}
	if m.ComputedAt.IsZero() {
		t.Error("snapshot must be timestamped")
	}
}

func TestNewEngine_ConfidenceFallback(t *testing.T) {
	e := NewEngine(model.DefaultRiskLimits(), decimal.Zero)
	if !e.confidence.Equal(d(0.95)) {
		t.Errorf("expected fallback confidence 0.95, got %s", e.confidence)
	}
	e = NewEngine(model.DefaultRiskLimits(), d(1.5))
	if !e.confidence.Equal(d(0.95)) {
		t.Errorf("expected fallback for confidence > 1, got %s", e.confidence)
	}
}
