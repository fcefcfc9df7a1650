// Package engine exposes the risk engine to collaborators: a command API
// for position mutations and price updates, a query API for snapshots and
// risk verdicts, and a WebSocket hub for event notifications.
//
// One wallet's portfolio is the unit of serialization: every operation on
// a wallet runs inside that wallet's critical section, so mutations never
// interleave and reads observe either the pre- or post-mutation state,
// never a partial one. Different wallets proceed fully in parallel.
//
// All monetary values use shopspring/decimal — never float64 for money.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tokensentry/risk-engine/internal/metrics"
	"github.com/tokensentry/risk-engine/internal/model"
	"github.com/tokensentry/risk-engine/internal/portfolio"
	"github.com/tokensentry/risk-engine/internal/position"
	"github.com/tokensentry/risk-engine/internal/risk"
	"github.com/tokensentry/risk-engine/internal/store"
)

// Service coordinates the position manager, portfolio aggregator, risk
// engine and rebalance coordinator for all tracked wallets, persisting a
// checkpoint after every completed mutation.
type Service struct {
	store store.Store
	risk  *risk.Engine
	hub   *Hub // optional event hub; nil disables notifications

	mu      sync.Mutex
	wallets map[string]*walletState
}

// walletState holds one wallet's authoritative in-memory portfolio and
// its exclusive critical section.
type walletState struct {
	mu sync.Mutex
	pf *model.Portfolio
}

// NewService creates the engine service. Pass nil for hub if event
// notifications are not needed.
func NewService(st store.Store, riskEngine *risk.Engine, hub *Hub) *Service {
	return &Service{
		store:   st,
		risk:    riskEngine,
		hub:     hub,
		wallets: make(map[string]*walletState),
	}
}

// Risk exposes the configured risk engine (read-only checks).
func (s *Service) Risk() *risk.Engine {
	return s.risk
}

func (s *Service) walletState(wallet string) *walletState {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.wallets[wallet]
	if !ok {
		ws = &walletState{}
		s.wallets[wallet] = ws
	}
	return ws
}

// ensureLoaded populates ws.pf from the store on first access. When
// create is true a missing portfolio is initialized fresh.
func (s *Service) ensureLoaded(ctx context.Context, ws *walletState, wallet string, create bool) error {
	if ws.pf != nil {
		return nil
	}
	pf, err := s.store.LoadPortfolio(ctx, wallet)
	switch {
	case err == nil:
		ws.pf = pf
	case errors.Is(err, store.ErrNotFound):
		if !create {
			return err
		}
		ws.pf = model.NewPortfolio(wallet)
	default:
		return err
	}
	return nil
}

// read runs fn inside the wallet's critical section without persisting.
func (s *Service) read(ctx context.Context, wallet string, fn func(pf *model.Portfolio) error) error {
	ws := s.walletState(wallet)
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if err := s.ensureLoaded(ctx, ws, wallet, false); err != nil {
		return err
	}
	return fn(ws.pf)
}

// mutate runs fn inside the wallet's critical section and, on success,
// recomputes the total and persists a checkpoint plus a history sample.
// On failure the portfolio is left untouched.
func (s *Service) mutate(ctx context.Context, wallet string, create bool, fn func(pf *model.Portfolio) error) error {
	ws := s.walletState(wallet)
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if err := s.ensureLoaded(ctx, ws, wallet, create); err != nil {
		return err
	}
	if err := fn(ws.pf); err != nil {
		metrics.RejectedMutationsTotal.Inc()
		return err
	}

	portfolio.UpdateTotalValue(ws.pf)
	return s.checkpoint(ctx, ws.pf)
}

// checkpoint persists the completed mutation. Called only with the wallet
// lock held and a fully consistent portfolio.
func (s *Service) checkpoint(ctx context.Context, pf *model.Portfolio) error {
	if err := s.store.SavePortfolio(ctx, pf); err != nil {
		return err
	}
	return s.store.AppendValueSample(ctx, pf.WalletAddress, model.ValueSample{
		Timestamp:  pf.UpdatedAt,
		TotalValue: pf.TotalValue,
	})
}

// OpenPosition creates a new active position. The proposed value is
// verdicted against the maximum position weight first; a breach is
// reported (metric plus limit_breached event) but the decision to reject
// belongs to the trade-admission caller, so the open still proceeds.
func (s *Service) OpenPosition(ctx context.Context, wallet, token string,
	amount, entryPrice, currentPrice decimal.Decimal,
	takeProfits []decimal.Decimal, stopLoss decimal.Decimal) (*model.Position, error) {

	var opened *model.Position
	var breached bool
	err := s.mutate(ctx, wallet, true, func(pf *model.Portfolio) error {
		breached = !s.risk.CheckPositionLimits(pf, token, amount.Mul(currentPrice))
		p, err := position.Open(pf, token, amount, entryPrice, currentPrice, takeProfits, stopLoss)
		if err != nil {
			return err
		}
		opened = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	if breached {
		metrics.LimitBreachesTotal.WithLabelValues(risk.LimitConcentration).Inc()
		s.emit(Event{Type: EventLimitBreached, WalletAddress: wallet, TokenAddress: token, Kind: risk.LimitConcentration})
	}
	metrics.ActivePositions.Inc()
	s.emit(Event{Type: EventPositionOpened, WalletAddress: wallet, TokenAddress: token,
		Amount: opened.Amount.String(), Price: opened.EntryPrice.String()})
	return opened.Clone(), nil
}

// UpdatePrice applies a price tick, evaluates take-profit/stop-loss
// triggers, and force-closes the position when the stop fires.
func (s *Service) UpdatePrice(ctx context.Context, wallet, token string, price decimal.Decimal) (*position.Triggers, error) {
	var trig *position.Triggers
	var closed bool
	err := s.mutate(ctx, wallet, false, func(pf *model.Portfolio) error {
		t, err := position.UpdatePrice(pf, token, price)
		if err != nil {
			return err
		}
		trig = t
		if t.StopLoss {
			// Stop-loss forced exit: active → closed.
			if err := position.Close(pf, token); err != nil {
				return err
			}
			closed = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.PriceUpdatesTotal.Inc()
	s.reportTriggers(wallet, token, trig)
	if closed {
		metrics.ActivePositions.Dec()
		s.emit(Event{Type: EventPositionClosed, WalletAddress: wallet, TokenAddress: token})
	}
	return trig, nil
}

// reportTriggers records metrics and emits events for consumed exit
// triggers. Every path that evaluates triggers (price ticks and fills)
// reports through here so a consumed trigger is never silent.
func (s *Service) reportTriggers(wallet, token string, trig *position.Triggers) {
	if trig == nil {
		return
	}
	for _, level := range trig.TakeProfits {
		metrics.ExitTriggersTotal.WithLabelValues("take_profit").Inc()
		s.emit(Event{Type: EventTakeProfitHit, WalletAddress: wallet, TokenAddress: token, Level: level.String()})
	}
	if trig.StopLoss {
		metrics.ExitTriggersTotal.WithLabelValues("stop_loss").Inc()
		s.emit(Event{Type: EventStopLossHit, WalletAddress: wallet, TokenAddress: token})
	}
}

// AdjustSize changes a position's size; zero closes it.
func (s *Service) AdjustSize(ctx context.Context, wallet, token string, newAmount decimal.Decimal) error {
	closing := newAmount.IsZero()
	err := s.mutate(ctx, wallet, false, func(pf *model.Portfolio) error {
		return position.AdjustSize(pf, token, newAmount)
	})
	if err != nil {
		return err
	}
	if closing {
		metrics.ActivePositions.Dec()
		s.emit(Event{Type: EventPositionClosed, WalletAddress: wallet, TokenAddress: token})
	}
	return nil
}

// ClosePosition force-closes an active position at its current price,
// recording the exit P&L.
func (s *Service) ClosePosition(ctx context.Context, wallet, token string) error {
	err := s.mutate(ctx, wallet, false, func(pf *model.Portfolio) error {
		return position.Close(pf, token)
	})
	if err != nil {
		return err
	}
	metrics.ActivePositions.Dec()
	s.emit(Event{Type: EventPositionClosed, WalletAddress: wallet, TokenAddress: token})
	return nil
}

// ApplyFill applies one confirmed trade execution: positive amounts add
// to the position (opening it if needed), negative amounts reduce it, and
// a fill that zeroes the position closes it. This is also the second phase
// of the rebalance protocol — each fill is applied atomically and the
// portfolio is recomputed before the next one.
//
// The fill price is a real observation of the market, so it evaluates
// take-profit and stop-loss triggers exactly like a price tick: hits are
// returned and reported, and a fill at or below the stop level is a
// forced exit of the whole position.
func (s *Service) ApplyFill(ctx context.Context, wallet, token string, filledAmount, filledPrice decimal.Decimal) (*position.Triggers, error) {
	if !filledPrice.IsPositive() {
		return nil, position.ErrInvalidPrice
	}

	var opened, closed bool
	var trig *position.Triggers
	err := s.mutate(ctx, wallet, true, func(pf *model.Portfolio) error {
		p, ok := pf.Positions[token]
		if !ok || !p.Active() {
			if !filledAmount.IsPositive() {
				return position.ErrNotFound
			}
			if _, err := position.Open(pf, token, filledAmount, filledPrice, filledPrice, nil, decimal.Zero); err != nil {
				return err
			}
			opened = true
			return nil
		}

		newAmount := p.Amount.Add(filledAmount)
		if newAmount.IsNegative() {
			return position.ErrInvalidAmount
		}
		t, err := position.UpdatePrice(pf, token, filledPrice)
		if err != nil {
			return err
		}
		trig = t
		if t.StopLoss {
			// Stop-loss forced exit overrides the size adjustment.
			if err := position.Close(pf, token); err != nil {
				return err
			}
			closed = true
			return nil
		}
		if err := position.AdjustSize(pf, token, newAmount); err != nil {
			return err
		}
		closed = newAmount.IsZero()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if opened {
		metrics.ActivePositions.Inc()
		s.emit(Event{Type: EventPositionOpened, WalletAddress: wallet, TokenAddress: token,
			Amount: filledAmount.String(), Price: filledPrice.String()})
	}
	s.reportTriggers(wallet, token, trig)
	if closed {
		metrics.ActivePositions.Dec()
		s.emit(Event{Type: EventPositionClosed, WalletAddress: wallet, TokenAddress: token})
	}
	if trig == nil {
		trig = &position.Triggers{}
	}
	return trig, nil
}

// Snapshot returns a deep copy of the wallet's portfolio.
func (s *Service) Snapshot(ctx context.Context, wallet string) (*model.Portfolio, error) {
	var snap *model.Portfolio
	err := s.read(ctx, wallet, func(pf *model.Portfolio) error {
		snap = pf.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// StopTracking removes the wallet's portfolio from memory and the store.
func (s *Service) StopTracking(ctx context.Context, wallet string) error {
	ws := s.walletState(wallet)
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if err := s.store.DeletePortfolio(ctx, wallet); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	ws.pf = nil

	s.mu.Lock()
	delete(s.wallets, wallet)
	s.mu.Unlock()
	return nil
}

// History returns the wallet's recorded value samples in [start, end].
func (s *Service) History(ctx context.Context, wallet string, start, end time.Time) ([]model.ValueSample, error) {
	return s.store.GetValueHistory(ctx, wallet, start, end)
}

func (s *Service) emit(ev Event) {
	if s.hub == nil {
		return
	}
	ev.ID = uuid.New().String()
	ev.Timestamp = time.Now().UTC()
	s.hub.Broadcast(ev)
}
