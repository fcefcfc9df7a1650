// Package model defines the core domain types shared across the risk engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// Position status values.
const (
	StatusActive = "active"
	StatusClosed = "closed"
)

// addressRegex matches base58-encoded wallet/token addresses (32-44 chars,
// no 0, O, I, l — the base58 alphabet).
var addressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

// ErrInvalidAddress is returned when a wallet or token address fails
// base58 validation.
var ErrInvalidAddress = errors.New("model: invalid address format")

// ValidateAddress checks that addr is a well-formed base58 address.
func ValidateAddress(addr string) error {
	if !addressRegex.MatchString(addr) {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	return nil
}

// TakeProfitLevel is one exit threshold above the entry price. Hit is set
// the first time the level is reported and never cleared: each level fires
// at most once over the position's lifetime.
type TakeProfitLevel struct {
	Price decimal.Decimal `json:"price"`
	Hit   bool            `json:"hit"`
}

// Position is one open or closed holding of a token within a wallet.
// A closed position is immutable and excluded from portfolio aggregation.
type Position struct {
	TokenAddress string            `json:"token_address" db:"token_address"`
	Amount       decimal.Decimal   `json:"amount" db:"amount"`
	EntryPrice   decimal.Decimal   `json:"entry_price" db:"entry_price"`
	CurrentPrice decimal.Decimal   `json:"current_price" db:"current_price"`
	TakeProfits  []TakeProfitLevel `json:"take_profits,omitempty"`
	StopLoss     decimal.Decimal   `json:"stop_loss"` // zero = no stop configured
	StopFired    bool              `json:"stop_fired"`
	Status       string            `json:"status" db:"status"`
	RealizedPnL  decimal.Decimal   `json:"realized_pnl" db:"realized_pnl"`
	OpenedAt     time.Time         `json:"opened_at" db:"opened_at"`
	UpdatedAt    time.Time         `json:"updated_at" db:"updated_at"`
	ClosedAt     time.Time         `json:"closed_at,omitempty" db:"closed_at"`
}

// Active reports whether the position still participates in aggregation.
func (p *Position) Active() bool {
	return p.Status == StatusActive
}

// HasStopLoss reports whether a stop-loss level is configured.
func (p *Position) HasStopLoss() bool {
	return p.StopLoss.IsPositive()
}

// CurrentValue returns amount * current price.
func (p *Position) CurrentValue() decimal.Decimal {
	return p.Amount.Mul(p.CurrentPrice)
}

// EntryValue returns amount * entry price.
func (p *Position) EntryValue() decimal.Decimal {
	return p.Amount.Mul(p.EntryPrice)
}

// PnLValue returns current value minus entry value.
func (p *Position) PnLValue() decimal.Decimal {
	return p.CurrentValue().Sub(p.EntryValue())
}

// PnLPct returns the unrealized P&L as a fraction of the entry value
// (0.1 = +10%). Zero when the entry value is zero.
func (p *Position) PnLPct() decimal.Decimal {
	entry := p.EntryValue()
	if entry.IsZero() {
		return decimal.Zero
	}
	return p.PnLValue().Div(entry)
}

// Clone returns a deep copy. Used for snapshot reads so callers never
// observe a partially mutated position.
func (p *Position) Clone() *Position {
	cp := *p
	if p.TakeProfits != nil {
		cp.TakeProfits = make([]TakeProfitLevel, len(p.TakeProfits))
		copy(cp.TakeProfits, p.TakeProfits)
	}
	return &cp
}

// Portfolio is the aggregate view of one wallet's positions. TotalValue is
// derived and recomputed synchronously after every mutation; it is never
// read stale across a mutation boundary.
type Portfolio struct {
	WalletAddress string               `json:"wallet_address" db:"wallet_address"`
	Positions     map[string]*Position `json:"positions"`
	TotalValue    decimal.Decimal      `json:"total_value" db:"total_value"`
	CreatedAt     time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at" db:"updated_at"`
}

// NewPortfolio creates an empty portfolio for a wallet.
func NewPortfolio(wallet string) *Portfolio {
	now := time.Now().UTC()
	return &Portfolio{
		WalletAddress: wallet,
		Positions:     make(map[string]*Position),
		TotalValue:    decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// ActivePositions returns the active positions in no particular order.
func (pf *Portfolio) ActivePositions() []*Position {
	out := make([]*Position, 0, len(pf.Positions))
	for _, p := range pf.Positions {
		if p.Active() {
			out = append(out, p)
		}
	}
	return out
}

// Clone returns a deep copy of the portfolio and all its positions.
func (pf *Portfolio) Clone() *Portfolio {
	cp := *pf
	cp.Positions = make(map[string]*Position, len(pf.Positions))
	for token, p := range pf.Positions {
		cp.Positions[token] = p.Clone()
	}
	return &cp
}

// RiskLimits is the externally supplied limit configuration. Percentages
// are expressed 0-100; MaxCorrelation is a coefficient in [0, 1].
type RiskLimits struct {
	MaxPositionWeight decimal.Decimal `json:"max_position_weight"`
	MaxLeverage       decimal.Decimal `json:"max_leverage"`
	MaxDrawdown       decimal.Decimal `json:"max_drawdown"`
	MaxCorrelation    decimal.Decimal `json:"max_correlation"`
	RiskPerTrade      decimal.Decimal `json:"risk_per_trade"`
}

// DefaultRiskLimits returns conservative limits used when none are configured.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxPositionWeight: decimal.NewFromInt(25),
		MaxLeverage:       decimal.NewFromInt(3),
		MaxDrawdown:       decimal.NewFromInt(20),
		MaxCorrelation:    decimal.NewFromFloat(0.8),
		RiskPerTrade:      decimal.NewFromInt(2),
	}
}

// RiskMetrics is a derived snapshot of portfolio risk. It is never
// persisted — always recomputed from the current portfolio plus injected
// historical returns.
type RiskMetrics struct {
	WalletAddress      string                     `json:"wallet_address"`
	PortfolioRiskPct   decimal.Decimal            `json:"portfolio_risk_pct"`
	ValueAtRisk        decimal.Decimal            `json:"value_at_risk"`
	ExpectedShortfall  decimal.Decimal            `json:"expected_shortfall"`
	DiversityScore     decimal.Decimal            `json:"diversity_score"`
	PositionRisks      map[string]decimal.Decimal `json:"position_risks"`
	ConcentrationFlags map[string]bool            `json:"concentration_flags"`
	LeverageOK         bool                       `json:"leverage_ok"`
	DrawdownOK         bool                       `json:"drawdown_ok"`
	ComputedAt         time.Time                  `json:"computed_at"`
}

// ValueSample is one externally recorded (timestamp, total value) point of
// a wallet's portfolio history.
type ValueSample struct {
	Timestamp  time.Time       `json:"timestamp" db:"timestamp"`
	TotalValue decimal.Decimal `json:"total_value" db:"total_value"`
}
