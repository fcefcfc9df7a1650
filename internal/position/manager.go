// Package position manages the lifecycle of token positions within a
// wallet's portfolio: entry, price updates, take-profit / stop-loss
// thresholds, size adjustments and closing.
//
// All operations validate their inputs before touching state: a failed
// call leaves the portfolio exactly as it was. Callers are responsible for
// serializing access per wallet and for recomputing the portfolio total
// after a successful mutation.
//
// All monetary values use shopspring/decimal — never float64 for money.
package position

import (
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tokensentry/risk-engine/internal/model"
)

var (
	// ErrInvalidAmount is returned when a position amount is not positive
	// (or negative, for size adjustments).
	ErrInvalidAmount = errors.New("position: amount must be positive")

	// ErrInvalidPrice is returned when an entry or current price is not positive.
	ErrInvalidPrice = errors.New("position: price must be positive")

	// ErrInvalidStopLoss is returned when a stop-loss level is not strictly
	// below the entry price.
	ErrInvalidStopLoss = errors.New("position: stop loss must be below entry price")

	// ErrInvalidTakeProfit is returned when a take-profit level is not
	// strictly above the entry price, or duplicates an existing level.
	ErrInvalidTakeProfit = errors.New("position: take profit must be above entry price")

	// ErrNotFound is returned when no position exists for the token.
	ErrNotFound = errors.New("position: not found")

	// ErrPositionExists is returned when opening a token that already has
	// an active position in the wallet.
	ErrPositionExists = errors.New("position: active position already exists")

	// ErrPositionClosed is returned when mutating a closed position.
	// Closed positions are terminal and immutable.
	ErrPositionClosed = errors.New("position: position is closed")
)

// Triggers reports exit signals detected by a price update. Each
// take-profit level appears at most once over a position's lifetime, and
// the stop-loss fires once until its level is reset.
type Triggers struct {
	TakeProfits []decimal.Decimal
	StopLoss    bool
}

// Any reports whether at least one exit signal fired.
func (t *Triggers) Any() bool {
	return t.StopLoss || len(t.TakeProfits) > 0
}

// active fetches the active position for token, mapping absence and the
// closed state to the proper sentinel.
func active(pf *model.Portfolio, token string) (*model.Position, error) {
	p, ok := pf.Positions[token]
	if !ok {
		return nil, ErrNotFound
	}
	if !p.Active() {
		return nil, ErrPositionClosed
	}
	return p, nil
}

// Open creates a new active position. takeProfits may be empty; stopLoss
// zero means no stop is configured. Levels are validated against the entry
// price and stored sorted ascending.
func Open(pf *model.Portfolio, token string, amount, entryPrice, currentPrice decimal.Decimal,
	takeProfits []decimal.Decimal, stopLoss decimal.Decimal) (*model.Position, error) {

	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if !entryPrice.IsPositive() || !currentPrice.IsPositive() {
		return nil, ErrInvalidPrice
	}
	if stopLoss.IsPositive() && stopLoss.GreaterThanOrEqual(entryPrice) {
		return nil, ErrInvalidStopLoss
	}
	for _, tp := range takeProfits {
		if tp.LessThanOrEqual(entryPrice) {
			return nil, ErrInvalidTakeProfit
		}
	}
	if existing, ok := pf.Positions[token]; ok && existing.Active() {
		return nil, ErrPositionExists
	}

	levels := make([]model.TakeProfitLevel, 0, len(takeProfits))
	for _, tp := range takeProfits {
		levels = append(levels, model.TakeProfitLevel{Price: tp})
	}
	sort.Slice(levels, func(i, j int) bool {
		return levels[i].Price.LessThan(levels[j].Price)
	})

	now := time.Now().UTC()
	p := &model.Position{
		TokenAddress: token,
		Amount:       amount,
		EntryPrice:   entryPrice,
		CurrentPrice: currentPrice,
		TakeProfits:  levels,
		StopLoss:     stopLoss,
		Status:       model.StatusActive,
		OpenedAt:     now,
		UpdatedAt:    now,
	}
	pf.Positions[token] = p
	return p, nil
}

// UpdatePrice applies a price tick to the token's active position and
// evaluates take-profit and stop-loss triggers against the new price.
func UpdatePrice(pf *model.Portfolio, token string, price decimal.Decimal) (*Triggers, error) {
	if !price.IsPositive() {
		return nil, ErrInvalidPrice
	}
	p, err := active(pf, token)
	if err != nil {
		return nil, err
	}

	p.CurrentPrice = price
	p.UpdatedAt = time.Now().UTC()

	trig := &Triggers{}
	trig.TakeProfits = consumeTakeProfits(p)
	trig.StopLoss = consumeStopLoss(p)
	return trig, nil
}

// TakeProfitHits returns the configured levels at or below the current
// price that have not yet been reported, marking them consumed. A level
// fires at most once over the position's lifetime.
func TakeProfitHits(pf *model.Portfolio, token string) ([]decimal.Decimal, error) {
	p, err := active(pf, token)
	if err != nil {
		return nil, err
	}
	return consumeTakeProfits(p), nil
}

// StopLossHit reports true exactly once when the current price first
// reaches or falls below the configured stop level. It stays false until
// the level is reset via SetStopLoss.
func StopLossHit(pf *model.Portfolio, token string) (bool, error) {
	p, err := active(pf, token)
	if err != nil {
		return false, err
	}
	return consumeStopLoss(p), nil
}

func consumeTakeProfits(p *model.Position) []decimal.Decimal {
	var hits []decimal.Decimal
	for i := range p.TakeProfits {
		lvl := &p.TakeProfits[i]
		if !lvl.Hit && p.CurrentPrice.GreaterThanOrEqual(lvl.Price) {
			lvl.Hit = true
			hits = append(hits, lvl.Price)
		}
	}
	return hits
}

func consumeStopLoss(p *model.Position) bool {
	if !p.HasStopLoss() || p.StopFired {
		return false
	}
	if p.CurrentPrice.LessThanOrEqual(p.StopLoss) {
		p.StopFired = true
		return true
	}
	return false
}

// AddTakeProfit appends a new take-profit level, keeping levels sorted.
// The level must be above the entry price and not already configured.
func AddTakeProfit(pf *model.Portfolio, token string, level decimal.Decimal) error {
	p, err := active(pf, token)
	if err != nil {
		return err
	}
	if level.LessThanOrEqual(p.EntryPrice) {
		return ErrInvalidTakeProfit
	}
	for _, tp := range p.TakeProfits {
		if tp.Price.Equal(level) {
			return ErrInvalidTakeProfit
		}
	}
	p.TakeProfits = append(p.TakeProfits, model.TakeProfitLevel{Price: level})
	sort.Slice(p.TakeProfits, func(i, j int) bool {
		return p.TakeProfits[i].Price.LessThan(p.TakeProfits[j].Price)
	})
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// RemoveTakeProfit deletes a configured level. ErrNotFound if the level is
// not configured.
func RemoveTakeProfit(pf *model.Portfolio, token string, level decimal.Decimal) error {
	p, err := active(pf, token)
	if err != nil {
		return err
	}
	for i, tp := range p.TakeProfits {
		if tp.Price.Equal(level) {
			p.TakeProfits = append(p.TakeProfits[:i], p.TakeProfits[i+1:]...)
			p.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return ErrNotFound
}

// SetStopLoss sets (or replaces) the stop-loss level and re-arms the
// trigger. The level must be strictly below the entry price.
func SetStopLoss(pf *model.Portfolio, token string, level decimal.Decimal) error {
	p, err := active(pf, token)
	if err != nil {
		return err
	}
	if !level.IsPositive() || level.GreaterThanOrEqual(p.EntryPrice) {
		return ErrInvalidStopLoss
	}
	p.StopLoss = level
	p.StopFired = false
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// RemoveStopLoss clears the stop-loss configuration.
func RemoveStopLoss(pf *model.Portfolio, token string) error {
	p, err := active(pf, token)
	if err != nil {
		return err
	}
	p.StopLoss = decimal.Zero
	p.StopFired = false
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// AdjustSize changes the position amount (partial exit or add). Adjusting
// to zero closes the position and records the exit P&L. The mutation is
// all-or-nothing: validation happens before any field changes.
func AdjustSize(pf *model.Portfolio, token string, newAmount decimal.Decimal) error {
	if newAmount.IsNegative() {
		return ErrInvalidAmount
	}
	p, err := active(pf, token)
	if err != nil {
		return err
	}
	if newAmount.IsZero() {
		closePosition(p)
		return nil
	}
	p.Amount = newAmount
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Close force-closes an active position (stop-loss exit path), recording
// the exit P&L at the current price.
func Close(pf *model.Portfolio, token string) error {
	p, err := active(pf, token)
	if err != nil {
		return err
	}
	closePosition(p)
	return nil
}

func closePosition(p *model.Position) {
	now := time.Now().UTC()
	p.RealizedPnL = p.PnLValue()
	p.Amount = decimal.Zero
	p.Status = model.StatusClosed
	p.UpdatedAt = now
	p.ClosedAt = now
}

// UnrealizedPnL returns the P&L value and fraction for the token's
// position. ok is false when no position exists for the token.
func UnrealizedPnL(pf *model.Portfolio, token string) (value, pct decimal.Decimal, ok bool) {
	p, found := pf.Positions[token]
	if !found {
		return decimal.Zero, decimal.Zero, false
	}
	if !p.Active() {
		return p.RealizedPnL, decimal.Zero, true
	}
	return p.PnLValue(), p.PnLPct(), true
}
