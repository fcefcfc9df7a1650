package model

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// --- Address validation ---

func TestValidateAddress_Valid(t *testing.T) {
	valid := []string{
		"So11111111111111111111111111111111111111112",
		"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		"7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU",
	}
	for _, addr := range valid {
		if err := ValidateAddress(addr); err != nil {
			t.Errorf("expected %q to validate, got %v", addr, err)
		}
	}
}

func TestValidateAddress_Invalid(t *testing.T) {
	invalid := []string{
		"",
		"short",
		"0OIl000000000000000000000000000000000000000",           // non-base58 chars
		"So111111111111111111111111111111111111111111111111112", // too long
	}
	for _, addr := range invalid {
		err := ValidateAddress(addr)
		if !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("expected ErrInvalidAddress for %q, got %v", addr, err)
		}
	}
}

// --- Position derived values ---

func TestPosition_DerivedValues(t *testing.T) {
	p := &Position{
		Amount:       d(5),
		EntryPrice:   d(10),
		CurrentPrice: d(12),
		Status:       StatusActive,
	}
	if !p.CurrentValue().Equal(d(60)) {
		t.Errorf("expected current value 60, got %s", p.CurrentValue())
	}
	if !p.EntryValue().Equal(d(50)) {
		t.Errorf("expected entry value 50, got %s", p.EntryValue())
	}
	if !p.PnLValue().Equal(d(10)) {
		t.Errorf("expected pnl 10, got %s", p.PnLValue())
	}
	if !p.PnLPct().Equal(d(0.2)) {
		t.Errorf("expected pnl pct 0.2, got %s", p.PnLPct())
	}
}

func TestPosition_PnLPctZeroEntry(t *testing.T) {
	p := &Position{Amount: decimal.Zero, EntryPrice: d(10), CurrentPrice: d(12)}
	if !p.PnLPct().IsZero() {
		t.Errorf("expected zero pct for zero entry value, got %s", p.PnLPct())
	}
}

func TestPosition_HasStopLoss(t *testing.T) {
	p := &Position{StopLoss: decimal.Zero}
	if p.HasStopLoss() {
		t.Error("zero stop level means no stop configured")
	}
	p.StopLoss = d(9)
	if !p.HasStopLoss() {
		t.Error("positive stop level should report configured")
	}
}

func TestPosition_CloneIsDeep(t *testing.T) {
	p := &Position{
		TokenAddress: "So11111111111111111111111111111111111111112",
		Amount:       d(5),
		TakeProfits:  []TakeProfitLevel{{Price: d(12)}},
		Status:       StatusActive,
	}
	cp := p.Clone()
	cp.TakeProfits[0].Hit = true
	cp.Amount = d(1)

	if p.TakeProfits[0].Hit {
		t.Error("clone shares take-profit storage with original")
	}
	if !p.Amount.Equal(d(5)) {
		t.Error("clone mutation leaked into original amount")
	}
}

// --- Portfolio ---

func TestNewPortfolio(t *testing.T) {
	pf := NewPortfolio("7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU")
	if pf.Positions == nil {
		t.Fatal("positions map must be initialized")
	}
	if !pf.TotalValue.IsZero() {
		t.Errorf("expected zero total, got %s", pf.TotalValue)
	}
	if pf.CreatedAt.IsZero() {
		t.Error("created_at must be set")
	}
}

func TestPortfolio_ActivePositions(t *testing.T) {
	pf := NewPortfolio("7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU")
	pf.Positions["a"] = &Position{Status: StatusActive}
	pf.Positions["b"] = &Position{Status: StatusClosed}
	if got := len(pf.ActivePositions()); got != 1 {
		t.Errorf("expected 1 active position, got %d", got)
	}
}

func TestPortfolio_CloneIsDeep(t *testing.T) {
	pf := NewPortfolio("7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU")
	pf.Positions["a"] = &Position{Amount: d(5), Status: StatusActive}

	cp := pf.Clone()
	cp.Positions["a"].Amount = d(99)
	cp.Positions["b"] = &Position{Status: StatusActive}

	if !pf.Positions["a"].Amount.Equal(d(5)) {
		t.Error("clone mutation leaked into original position")
	}
	if len(pf.Positions) != 1 {
		t.Error("clone map insertion leaked into original")
	}
}

func TestDefaultRiskLimits(t *testing.T) {
	limits := DefaultRiskLimits()
	if !limits.MaxPositionWeight.Equal(d(25)) {
		t.Errorf("expected max weight 25, got %s", limits.MaxPositionWeight)
	}
	if !limits.RiskPerTrade.Equal(d(2)) {
		t.Errorf("expected risk per trade 2, got %s", limits.RiskPerTrade)
	}
}
