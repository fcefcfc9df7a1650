package engine

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tokensentry/risk-engine/internal/metrics"
	"github.com/tokensentry/risk-engine/internal/model"
	"github.com/tokensentry/risk-engine/internal/portfolio"
	"github.com/tokensentry/risk-engine/internal/position"
	"github.com/tokensentry/risk-engine/internal/rebalance"
	"github.com/tokensentry/risk-engine/internal/risk"
	"github.com/tokensentry/risk-engine/internal/store"
)

// Routes mounts the engine's HTTP API on the given router.
func (s *Service) Routes(r chi.Router) {
	r.Get("/wallets", s.handleListWallets)
	r.Delete("/wallets/{wallet}", s.handleStopTracking)

	r.Post("/wallets/{wallet}/positions", s.handleOpenPosition)
	r.Get("/wallets/{wallet}/positions", s.handleListPositions)
	r.Delete("/wallets/{wallet}/positions/{token}", s.handleClosePosition)
	r.Put("/wallets/{wallet}/positions/{token}/price", s.handleUpdatePrice)
	r.Put("/wallets/{wallet}/positions/{token}/size", s.handleAdjustSize)
	r.Post("/wallets/{wallet}/positions/{token}/take-profits", s.handleAddTakeProfit)
	r.Delete("/wallets/{wallet}/positions/{token}/take-profits", s.handleRemoveTakeProfit)
	r.Put("/wallets/{wallet}/positions/{token}/stop-loss", s.handleSetStopLoss)
	r.Delete("/wallets/{wallet}/positions/{token}/stop-loss", s.handleRemoveStopLoss)

	r.Post("/wallets/{wallet}/fills", s.handleApplyFill)

	r.Get("/wallets/{wallet}/portfolio", s.handleGetPortfolio)
	r.Get("/wallets/{wallet}/weights", s.handleGetWeights)
	r.Get("/wallets/{wallet}/history", s.handleGetHistory)

	r.Post("/wallets/{wallet}/risk/metrics", s.handleRiskMetrics)
	r.Post("/wallets/{wallet}/risk/limits", s.handleRiskLimits)
	r.Post("/wallets/{wallet}/risk/position-size", s.handlePositionSize)

	r.Post("/wallets/{wallet}/rebalance", s.handleRebalancePlan)
	r.Post("/wallets/{wallet}/rebalance/fills", s.handleRebalanceFills)
}

// --- Request/Response types ---

// OpenPositionRequest is the JSON body for opening a position.
type OpenPositionRequest struct {
	TokenAddress string            `json:"token_address"`
	Amount       decimal.Decimal   `json:"amount"`
	EntryPrice   decimal.Decimal   `json:"entry_price"`
	CurrentPrice decimal.Decimal   `json:"current_price"` // 0 → entry price
	TakeProfits  []decimal.Decimal `json:"take_profits,omitempty"`
	StopLoss     decimal.Decimal   `json:"stop_loss,omitempty"`
}

// PriceUpdateRequest carries one price tick.
type PriceUpdateRequest struct {
	Price decimal.Decimal `json:"price"`
}

// PriceUpdateResponse reports the applied tick and any exit triggers.
type PriceUpdateResponse struct {
	TokenAddress string            `json:"token_address"`
	Price        decimal.Decimal   `json:"price"`
	TakeProfits  []decimal.Decimal `json:"take_profit_hits,omitempty"`
	StopLossHit  bool              `json:"stop_loss_hit"`
}

// SizeRequest adjusts a position's amount; zero closes it.
type SizeRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// LevelRequest carries a take-profit or stop-loss threshold.
type LevelRequest struct {
	Level decimal.Decimal `json:"level"`
}

// FillRequest is one confirmed trade execution.
type FillRequest struct {
	TokenAddress string          `json:"token_address"`
	FilledAmount decimal.Decimal `json:"filled_amount"`
	FilledPrice  decimal.Decimal `json:"filled_price"`
}

// PortfolioResponse is the snapshot returned by the query API.
type PortfolioResponse struct {
	*model.Portfolio
	TotalPnL decimal.Decimal `json:"total_pnl"`
}

// RiskSeriesRequest carries the externally supplied series risk
// computations need. The portfolio equity curve comes from stored history.
type RiskSeriesRequest struct {
	Returns        []decimal.Decimal            `json:"returns,omitempty"`
	Equity         decimal.Decimal              `json:"equity,omitempty"`
	ReturnsByToken map[string][]decimal.Decimal `json:"returns_by_token,omitempty"`
}

// PositionSizeRequest asks for an optimal size given a stop-loss distance.
type PositionSizeRequest struct {
	StopLossPct decimal.Decimal `json:"stop_loss_pct"`
}

// RebalanceRequest carries relative target weights and an optional fee rate.
type RebalanceRequest struct {
	TargetWeights map[string]decimal.Decimal `json:"target_weights"`
	FeeRate       decimal.Decimal            `json:"fee_rate,omitempty"`
}

// RebalanceResponse is the computed instruction set plus estimated cost.
type RebalanceResponse struct {
	Adjustments   []rebalance.Adjustment `json:"adjustments"`
	EstimatedCost decimal.Decimal        `json:"estimated_cost"`
}

// RebalanceFillsRequest reports observed fills back after execution.
type RebalanceFillsRequest struct {
	Fills []FillRequest `json:"fills"`
}

// --- Command handlers ---

func (s *Service) handleOpenPosition(w http.ResponseWriter, r *http.Request) {
	wallet := chi.URLParam(r, "wallet")
	var req OpenPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !validAddresses(w, wallet, req.TokenAddress) {
		return
	}

	current := req.CurrentPrice
	if current.IsZero() {
		current = req.EntryPrice
	}

	p, err := s.OpenPosition(r.Context(), wallet, req.TokenAddress,
		req.Amount, req.EntryPrice, current, req.TakeProfits, req.StopLoss)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	slog.Info("position opened",
		"wallet", wallet,
		"token", req.TokenAddress,
		"amount", p.Amount.String(),
		"entry_price", p.EntryPrice.String(),
	)

	writeJSON(w, http.StatusCreated, p)
}

func (s *Service) handleUpdatePrice(w http.ResponseWriter, r *http.Request) {
	wallet := chi.URLParam(r, "wallet")
	token := chi.URLParam(r, "token")
	var req PriceUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !validAddresses(w, wallet, token) {
		return
	}

	trig, err := s.UpdatePrice(r.Context(), wallet, token, req.Price)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, PriceUpdateResponse{
		TokenAddress: token,
		Price:        req.Price,
		TakeProfits:  trig.TakeProfits,
		StopLossHit:  trig.StopLoss,
	})
}

func (s *Service) handleAdjustSize(w http.ResponseWriter, r *http.Request) {
	wallet := chi.URLParam(r, "wallet")
	token := chi.URLParam(r, "token")
	var req SizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !validAddresses(w, wallet, token) {
		return
	}

	if err := s.AdjustSize(r.Context(), wallet, token, req.Amount); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	wallet := chi.URLParam(r, "wallet")
	token := chi.URLParam(r, "token")
	if !validAddresses(w, wallet, token) {
		return
	}
	if err := s.ClosePosition(r.Context(), wallet, token); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleAddTakeProfit(w http.ResponseWriter, r *http.Request) {
	s.handleThreshold(w, r, func(pf *model.Portfolio, token string, level decimal.Decimal) error {
		return position.AddTakeProfit(pf, token, level)
	})
}

func (s *Service) handleRemoveTakeProfit(w http.ResponseWriter, r *http.Request) {
	s.handleThreshold(w, r, func(pf *model.Portfolio, token string, level decimal.Decimal) error {
		return position.RemoveTakeProfit(pf, token, level)
	})
}

func (s *Service) handleSetStopLoss(w http.ResponseWriter, r *http.Request) {
	s.handleThreshold(w, r, func(pf *model.Portfolio, token string, level decimal.Decimal) error {
		return position.SetStopLoss(pf, token, level)
	})
}

func (s *Service) handleRemoveStopLoss(w http.ResponseWriter, r *http.Request) {
	wallet := chi.URLParam(r, "wallet")
	token := chi.URLParam(r, "token")
	if !validAddresses(w, wallet, token) {
		return
	}
	err := s.mutate(r.Context(), wallet, false, func(pf *model.Portfolio) error {
		return position.RemoveStopLoss(pf, token)
	})
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleThreshold(w http.ResponseWriter, r *http.Request,
	apply func(pf *model.Portfolio, token string, level decimal.Decimal) error) {

	wallet := chi.URLParam(r, "wallet")
	token := chi.URLParam(r, "token")
	var req LevelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !validAddresses(w, wallet, token) {
		return
	}

	err := s.mutate(r.Context(), wallet, false, func(pf *model.Portfolio) error {
		return apply(pf, token, req.Level)
	})
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleApplyFill(w http.ResponseWriter, r *http.Request) {
	wallet := chi.URLParam(r, "wallet")
	var req FillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !validAddresses(w, wallet, req.TokenAddress) {
		return
	}

	trig, err := s.ApplyFill(r.Context(), wallet, req.TokenAddress, req.FilledAmount, req.FilledPrice)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, PriceUpdateResponse{
		TokenAddress: req.TokenAddress,
		Price:        req.FilledPrice,
		TakeProfits:  trig.TakeProfits,
		StopLossHit:  trig.StopLoss,
	})
}

func (s *Service) handleStopTracking(w http.ResponseWriter, r *http.Request) {
	wallet := chi.URLParam(r, "wallet")
	if !validAddresses(w, wallet) {
		return
	}
	if err := s.StopTracking(r.Context(), wallet); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Query handlers ---

func (s *Service) handleListWallets(w http.ResponseWriter, r *http.Request) {
	wallets, err := s.store.ListWallets(r.Context())
	if err != nil {
		writeError(w, "failed to list wallets", http.StatusInternalServerError)
		return
	}
	if wallets == nil {
		wallets = []string{}
	}
	writeJSON(w, http.StatusOK, wallets)
}

func (s *Service) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	wallet := chi.URLParam(r, "wallet")
	snap, err := s.Snapshot(r.Context(), wallet)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, PortfolioResponse{
		Portfolio: snap,
		TotalPnL:  portfolio.TotalPnL(snap),
	})
}

func (s *Service) handleListPositions(w http.ResponseWriter, r *http.Request) {
	wallet := chi.URLParam(r, "wallet")
	snap, err := s.Snapshot(r.Context(), wallet)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	positions := snap.ActivePositions()
	if positions == nil {
		positions = []*model.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *Service) handleGetWeights(w http.ResponseWriter, r *http.Request) {
	wallet := chi.URLParam(r, "wallet")
	snap, err := s.Snapshot(r.Context(), wallet)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, portfolio.Weights(snap))
}

func (s *Service) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	wallet := chi.URLParam(r, "wallet")
	start, end, err := parseTimeRange(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	samples, err := s.History(r.Context(), wallet, start, end)
	if err != nil {
		writeError(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	if samples == nil {
		samples = []model.ValueSample{}
	}
	writeJSON(w, http.StatusOK, samples)
}

func (s *Service) handleRiskMetrics(w http.ResponseWriter, r *http.Request) {
	wallet := chi.URLParam(r, "wallet")
	var req RiskSeriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	curve, err := s.equityCurve(r, wallet)
	if err != nil {
		writeError(w, "failed to load history", http.StatusInternalServerError)
		return
	}

	var result model.RiskMetrics
	err = s.read(r.Context(), wallet, func(pf *model.Portfolio) error {
		result = s.risk.Metrics(pf, risk.MetricsInput{
			Returns: req.Returns,
			LimitInput: risk.LimitInput{
				Equity:         req.Equity,
				EquityCurve:    curve,
				ReturnsByToken: req.ReturnsByToken,
			},
		})
		return nil
	})
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Service) handleRiskLimits(w http.ResponseWriter, r *http.Request) {
	wallet := chi.URLParam(r, "wallet")
	var req RiskSeriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	curve, err := s.equityCurve(r, wallet)
	if err != nil {
		writeError(w, "failed to load history", http.StatusInternalServerError)
		return
	}

	var verdicts map[string]bool
	err = s.read(r.Context(), wallet, func(pf *model.Portfolio) error {
		verdicts = s.risk.CheckPortfolioLimits(pf, risk.LimitInput{
			Equity:         req.Equity,
			EquityCurve:    curve,
			ReturnsByToken: req.ReturnsByToken,
		})
		return nil
	})
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	for kind, ok := range verdicts {
		if !ok {
			metrics.LimitBreachesTotal.WithLabelValues(kind).Inc()
			s.emit(Event{Type: EventLimitBreached, WalletAddress: wallet, Kind: kind})
		}
	}
	writeJSON(w, http.StatusOK, verdicts)
}

func (s *Service) handlePositionSize(w http.ResponseWriter, r *http.Request) {
	wallet := chi.URLParam(r, "wallet")
	var req PositionSizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var size decimal.Decimal
	err := s.read(r.Context(), wallet, func(pf *model.Portfolio) error {
		var err error
		size, err = s.risk.OptimalPositionSize(portfolio.TotalValue(pf), req.StopLossPct)
		return err
	})
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"size": size})
}

func (s *Service) handleRebalancePlan(w http.ResponseWriter, r *http.Request) {
	wallet := chi.URLParam(r, "wallet")
	var req RebalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var resp RebalanceResponse
	err := s.read(r.Context(), wallet, func(pf *model.Portfolio) error {
		adjustments, err := rebalance.Plan(pf, req.TargetWeights)
		if err != nil {
			return err
		}
		if adjustments == nil {
			adjustments = []rebalance.Adjustment{}
		}
		resp = RebalanceResponse{
			Adjustments:   adjustments,
			EstimatedCost: rebalance.EstimateCost(adjustments, req.FeeRate),
		}
		return nil
	})
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	metrics.RebalancePlansTotal.Inc()
	writeJSON(w, http.StatusOK, resp)
}

// handleRebalanceFills applies confirmed fills one by one; each fill is
// atomic and the portfolio is recomputed between fills, so an external
// failure midway leaves a valid state with the remaining fills unapplied.
func (s *Service) handleRebalanceFills(w http.ResponseWriter, r *http.Request) {
	wallet := chi.URLParam(r, "wallet")
	var req RebalanceFillsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if !validAddresses(w, wallet) {
		return
	}
	for _, fill := range req.Fills {
		if !validAddresses(w, fill.TokenAddress) {
			return
		}
		if _, err := s.ApplyFill(r.Context(), wallet, fill.TokenAddress, fill.FilledAmount, fill.FilledPrice); err != nil {
			writeError(w, err.Error(), statusFor(err))
			return
		}
	}

	snap, err := s.Snapshot(r.Context(), wallet)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, PortfolioResponse{
		Portfolio: snap,
		TotalPnL:  portfolio.TotalPnL(snap),
	})
}

// --- Helpers ---

// validAddresses writes a 400 and returns false when any address is
// malformed. Mutating handlers call this before taking the wallet lock.
func validAddresses(w http.ResponseWriter, addrs ...string) bool {
	for _, addr := range addrs {
		if err := model.ValidateAddress(addr); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return false
		}
	}
	return true
}

func (s *Service) equityCurve(r *http.Request, wallet string) ([]decimal.Decimal, error) {
	samples, err := s.store.GetValueHistory(r.Context(), wallet, time.Time{}, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return portfolio.EquityCurve(samples), nil
}

func parseTimeRange(r *http.Request) (time.Time, time.Time, error) {
	start := time.Time{}
	end := time.Now().UTC()

	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return start, end, errors.New("invalid start time, expected RFC3339")
		}
		start = t
	}
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return start, end, errors.New("invalid end time, expected RFC3339")
		}
		end = t
	}
	return start, end, nil
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, position.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, position.ErrPositionClosed),
		errors.Is(err, position.ErrPositionExists):
		return http.StatusConflict
	case errors.Is(err, position.ErrInvalidAmount),
		errors.Is(err, position.ErrInvalidPrice),
		errors.Is(err, position.ErrInvalidStopLoss),
		errors.Is(err, position.ErrInvalidTakeProfit),
		errors.Is(err, risk.ErrInvalidStopLossPct),
		errors.Is(err, risk.ErrZeroPortfolioValue),
		errors.Is(err, rebalance.ErrNegativeTarget),
		errors.Is(err, rebalance.ErrEmptyTargets),
		errors.Is(err, model.ErrInvalidAddress):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
