// Package risk composes the circuit breaker, portfolio limits, stop-loss
// protection, Kelly sizing and correlation analytics into the single
// validate/protect/close surface the trading loop consumes. The manager owns
// every cross-component callback, so each component keeps single ownership
// of its own state.
package risk

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ducminhle1904/crypto-risk-guard/internal/analytics"
	"github.com/ducminhle1904/crypto-risk-guard/internal/errors"
	"github.com/ducminhle1904/crypto-risk-guard/internal/exchange"
	"github.com/ducminhle1904/crypto-risk-guard/internal/journal"
	"github.com/ducminhle1904/crypto-risk-guard/internal/logger"
	"github.com/ducminhle1904/crypto-risk-guard/internal/monitoring"
	"github.com/ducminhle1904/crypto-risk-guard/internal/notifications"
	"github.com/ducminhle1904/crypto-risk-guard/internal/portfolio"
	"github.com/ducminhle1904/crypto-risk-guard/internal/protection"
	"github.com/ducminhle1904/crypto-risk-guard/internal/safety"
	"github.com/ducminhle1904/crypto-risk-guard/internal/sizing"
	"github.com/ducminhle1904/crypto-risk-guard/pkg/types"
)

// Names of the validation checks owned by the coordinator. The portfolio
// manager owns position_count, position_size and total_exposure.
const (
	CheckCircuitBreaker = "circuit_breaker"
	CheckConfidence     = "confidence"
	CheckLeverage       = "leverage"
	CheckStopLoss       = "stop_loss"
)

// closeTimeout bounds a single emergency close at the exchange.
const closeTimeout = 30 * time.Second

// Config aggregates the validation bounds and the settings of every
// component the manager constructs.
type Config struct {
	MinConfidence  float64 `json:"min_confidence"`
	MinStopLossPct float64 `json:"min_stop_loss_pct"`
	MaxStopLossPct float64 `json:"max_stop_loss_pct"`

	Limits      portfolio.Limits            `json:"limits"`
	Tiers       portfolio.Tiers             `json:"leverage_tiers"`
	Breaker     safety.Config               `json:"circuit_breaker"`
	Protection  protection.Config           `json:"protection"`
	Sizing      sizing.Config               `json:"sizing"`
	Correlation analytics.CorrelationConfig `json:"correlation"`
}

// DefaultConfig returns the production risk settings.
func DefaultConfig() Config {
	return Config{
		MinConfidence:  0.60,
		MinStopLossPct: 0.005,
		MaxStopLossPct: 0.10,
		Limits:         portfolio.DefaultLimits(),
		Tiers:          portfolio.DefaultTiers(),
		Breaker:        safety.DefaultConfig(),
		Protection:     protection.DefaultConfig(),
		Sizing:         sizing.DefaultConfig(),
		Correlation:    analytics.DefaultCorrelationConfig(),
	}
}

// SnapshotStore persists breaker state across restarts.
type SnapshotStore interface {
	SaveBreaker(snap safety.Snapshot) error
}

// Manager is the risk coordinator.
type Manager struct {
	cfg       Config
	log       *logrus.Entry
	execution exchange.ExecutionClient
	market    exchange.MarketDataClient
	history   exchange.TradeHistoryClient
	journal   journal.Journal
	notifier  notifications.Notifier
	store     SnapshotStore

	breaker     *safety.CircuitBreaker
	portfolio   *portfolio.Manager
	protection  *protection.Manager
	sizer       *sizing.Sizer
	correlation *analytics.Analyzer
}

// NewManager wires the full risk stack around the given collaborators.
// equity seeds both the breaker's day-start balance and the portfolio
// denominator. jrnl, notifier and store may be nil.
func NewManager(cfg Config, equity float64, execution exchange.ExecutionClient, market exchange.MarketDataClient, history exchange.TradeHistoryClient, jrnl journal.Journal, notifier notifications.Notifier, store SnapshotStore, log *logger.Logger) *Manager {
	def := DefaultConfig()
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = def.MinConfidence
	}
	if cfg.MinStopLossPct <= 0 {
		cfg.MinStopLossPct = def.MinStopLossPct
	}
	if cfg.MaxStopLossPct <= 0 {
		cfg.MaxStopLossPct = def.MaxStopLossPct
	}
	if cfg.Sizing.MaxPositionPct <= 0 && cfg.Limits.MaxSinglePositionPct > 0 {
		// A Kelly recommendation above the single-position limit would never
		// survive validation, so the sizer inherits the portfolio bound.
		cfg.Sizing.MaxPositionPct = cfg.Limits.MaxSinglePositionPct
	}
	if log == nil {
		log = logger.NewNop()
	}
	if jrnl == nil {
		jrnl = journal.Nop{}
	}

	m := &Manager{
		cfg:       cfg,
		log:       log.WithComponent("risk"),
		execution: execution,
		market:    market,
		history:   history,
		journal:   jrnl,
		notifier:  notifier,
		store:     store,
	}

	m.portfolio = portfolio.NewManager(cfg.Limits, equity, log)
	m.breaker = safety.NewCircuitBreaker(cfg.Breaker, equity, m.EmergencyCloseAll, log, notifier, jrnl)
	m.protection = protection.NewManager(cfg.Protection, execution, market, m.handleProtectiveClose, log)
	m.sizer = sizing.NewSizer(cfg.Sizing)
	m.correlation = analytics.NewAnalyzer(market, cfg.Correlation)
	return m
}

// ValidateSignal runs the fixed check sequence against a proposed trade and
// returns the full ordered result. It never errors: every outcome, including
// an internal inability to evaluate, resolves to check results (failing
// closed where needed). HOLD and CLOSE open no exposure and bypass the entry
// checks, so closing out stays possible while the breaker is tripped.
func (m *Manager) ValidateSignal(signal types.TradingSignal) *types.RiskValidation {
	v := &types.RiskValidation{
		Signal:      signal,
		ValidatedAt: time.Now().UTC(),
	}

	if !signal.Decision.IsEntry() {
		v.Status = types.ValidationApproved
		v.Checks = []types.RiskCheckResult{{
			Name:    "decision",
			Status:  types.CheckPassed,
			Message: fmt.Sprintf("%s opens no new exposure, entry checks skipped", signal.Decision),
		}}
		m.recordValidation(v)
		return v
	}

	candidateValue := signal.SizePct * m.portfolio.Equity()
	limitChecks := m.portfolio.CheckPositionLimits(candidateValue)

	checks := make([]types.RiskCheckResult, 0, 7)
	checks = append(checks, m.breakerCheck())
	checks = append(checks, limitChecks[0]) // position count
	checks = append(checks, m.confidenceCheck(signal))
	checks = append(checks, limitChecks[1], limitChecks[2]) // size, exposure
	checks = append(checks, m.leverageCheck(signal))
	checks = append(checks, m.stopLossCheck(signal))

	v.Checks = checks
	v.Status = types.ValidationApproved
	for _, c := range checks {
		switch c.Status {
		case types.CheckFailed:
			v.Status = types.ValidationRejected
		case types.CheckWarning:
			if v.Status == types.ValidationApproved {
				v.Status = types.ValidationWithWarnings
			}
		}
	}

	m.recordValidation(v)
	return v
}

func (m *Manager) breakerCheck() types.RiskCheckResult {
	st := m.breaker.CheckStatus()
	res := types.RiskCheckResult{
		Name:  CheckCircuitBreaker,
		Value: st.DailyLossPct,
		Limit: st.LimitPct,
	}
	if m.breaker.Allows() {
		res.Status = types.CheckPassed
		res.Message = fmt.Sprintf("circuit breaker %s, daily PnL %.2f%%", st.State, st.DailyLossPct*100)
		return res
	}
	res.Status = types.CheckFailed
	res.Message = fmt.Sprintf("circuit breaker %s blocks new entries", st.State)
	return res
}

func (m *Manager) confidenceCheck(signal types.TradingSignal) types.RiskCheckResult {
	res := types.RiskCheckResult{
		Name:  CheckConfidence,
		Value: signal.Confidence,
		Limit: m.cfg.MinConfidence,
	}
	if signal.Confidence >= m.cfg.MinConfidence {
		res.Status = types.CheckPassed
		res.Message = fmt.Sprintf("confidence %.2f meets minimum %.2f", signal.Confidence, m.cfg.MinConfidence)
		return res
	}
	res.Status = types.CheckFailed
	res.Message = fmt.Sprintf("confidence %.2f below minimum %.2f", signal.Confidence, m.cfg.MinConfidence)
	return res
}

func (m *Manager) leverageCheck(signal types.TradingSignal) types.RiskCheckResult {
	minLev := m.cfg.Tiers.MinLeverage()
	maxLev := m.cfg.Tiers.MaxFor(signal.Symbol)
	res := types.RiskCheckResult{
		Name:  CheckLeverage,
		Value: signal.Leverage,
		Limit: maxLev,
	}
	switch {
	case signal.Leverage < minLev:
		res.Status = types.CheckFailed
		res.Message = fmt.Sprintf("leverage %.0fx below minimum %.0fx", signal.Leverage, minLev)
	case signal.Leverage > maxLev:
		res.Status = types.CheckFailed
		res.Message = fmt.Sprintf("leverage %.0fx exceeds %s cap %.0fx", signal.Leverage, signal.Symbol, maxLev)
	default:
		res.Status = types.CheckPassed
		res.Message = fmt.Sprintf("leverage %.0fx within [%.0fx, %.0fx]", signal.Leverage, minLev, maxLev)
	}
	return res
}

// stopLossCheck treats an absent stop as a warning rather than a rejection.
// Validation stays permissive for operator override; the execution boundary
// closes any position that arrives without a stop (zero tolerance).
func (m *Manager) stopLossCheck(signal types.TradingSignal) types.RiskCheckResult {
	res := types.RiskCheckResult{
		Name:  CheckStopLoss,
		Value: signal.StopLossPct,
		Limit: m.cfg.MaxStopLossPct,
	}
	switch {
	case signal.StopLossPct == 0:
		res.Status = types.CheckWarning
		res.Message = "signal carries no stop loss; execution enforces zero tolerance"
	case signal.StopLossPct < m.cfg.MinStopLossPct:
		res.Status = types.CheckFailed
		res.Message = fmt.Sprintf("stop loss %.2f%% below minimum %.2f%%", signal.StopLossPct*100, m.cfg.MinStopLossPct*100)
	case signal.StopLossPct > m.cfg.MaxStopLossPct:
		res.Status = types.CheckFailed
		res.Message = fmt.Sprintf("stop loss %.2f%% above maximum %.2f%%", signal.StopLossPct*100, m.cfg.MaxStopLossPct*100)
	default:
		res.Status = types.CheckPassed
		res.Message = fmt.Sprintf("stop loss %.2f%% within bounds", signal.StopLossPct*100)
	}
	return res
}

func (m *Manager) recordValidation(v *types.RiskValidation) {
	if err := m.journal.RecordValidation(*v); err != nil {
		m.log.WithError(err).Warn("failed to journal validation")
	}
	monitoring.RecordValidation(string(v.Status))

	entry := m.log.WithFields(logrus.Fields{
		"symbol":   v.Signal.Symbol,
		"decision": string(v.Signal.Decision),
		"status":   string(v.Status),
	})
	if v.Status != types.ValidationRejected {
		entry.Info("signal validated")
		return
	}

	names := make([]string, 0, len(v.Checks))
	for _, c := range v.Failures() {
		names = append(names, c.Name)
	}
	entry.WithField("failed_checks", strings.Join(names, ",")).Warn("signal rejected")
	m.alert("warning", fmt.Sprintf("Signal %s %s REJECTED: %s",
		v.Signal.Decision, v.Signal.Symbol, strings.Join(names, ", ")))
}

// RegisterPosition admits an opened position into the portfolio and arms its
// protection. A protection failure unwinds the portfolio insert, so a
// position is never tracked without protection: by the time the error
// returns, the protection manager has already closed it at the exchange.
func (m *Manager) RegisterPosition(ctx context.Context, pos types.PositionInfo) error {
	if err := m.portfolio.AddPosition(pos); err != nil {
		return err
	}

	if _, err := m.protection.StartMultiLayerProtection(ctx, pos); err != nil {
		if _, rmErr := m.portfolio.RemovePosition(pos.ID); rmErr != nil && !errors.Is(rmErr, errors.ErrPositionNotFound) {
			m.log.WithError(rmErr).WithField("position_id", pos.ID).
				Error("failed to unwind portfolio insert after protection failure")
		}
		return err
	}

	if err := m.journal.RecordPositionOpened(pos); err != nil {
		m.log.WithError(err).Warn("failed to journal position open")
	}
	m.publishGauges()
	m.log.WithFields(logrus.Fields{
		"position_id": pos.ID,
		"symbol":      pos.Symbol,
		"side":        string(pos.Side),
		"value":       pos.PositionValue,
	}).Info("position registered and protected")
	return nil
}

// StopProtection tears down the monitors for a position without closing it.
// Used when the trading loop closes a position through its normal path.
func (m *Manager) StopProtection(positionID string) error {
	err := m.protection.StopProtection(positionID)
	m.publishGauges()
	return err
}

// EmergencyClosePosition force-closes one position outside the normal
// validate/approve flow. It is idempotent: an unknown or already-closed
// position is a no-op success.
func (m *Manager) EmergencyClosePosition(ctx context.Context, positionID, reason string) error {
	pos, ok := m.portfolio.GetPosition(positionID)
	if !ok {
		// Nothing tracked; clear any stray monitors and succeed.
		_ = m.protection.StopProtection(positionID)
		return nil
	}

	// Monitors go first so no layer races the close below.
	_ = m.protection.StopProtection(positionID)

	exitPrice := m.exitPriceFor(ctx, pos)

	closeCtx, cancel := context.WithTimeout(ctx, closeTimeout)
	defer cancel()
	_, err := m.execution.ClosePosition(closeCtx, pos, reason)
	if err != nil && !errors.Is(err, exchange.ErrPositionNotFound) {
		m.log.WithError(err).WithField("position_id", positionID).
			Error("emergency close failed, position may still be open")
		m.alert("error", fmt.Sprintf("Emergency close FAILED for %s: %v", positionID, err))
		return errors.NewExchangeError("risk", "emergency_close", err)
	}

	// The position leaves the portfolio before the breaker sees its PnL, so
	// a trip's close-all never targets the position this call already closed.
	if _, rmErr := m.portfolio.RemovePosition(positionID); rmErr != nil && !errors.Is(rmErr, errors.ErrPositionNotFound) {
		m.log.WithError(rmErr).WithField("position_id", positionID).Warn("portfolio removal failed")
	}
	pnl := pos.UnrealizedPnL(exitPrice)
	m.portfolio.RecordRealizedPnL(pnl)
	st, pnlErr := m.breaker.RecordPnL(ctx, pnl)
	if pnlErr != nil {
		m.log.WithError(pnlErr).Error("recording emergency-close PnL tripped the breaker and close-all failed")
	}
	m.persistIfAbnormal(st)

	if err := m.journal.RecordPositionClosed(pos, "EMERGENCY", pnl); err != nil {
		m.log.WithError(err).Warn("failed to journal emergency close")
	}
	monitoring.RecordEmergencyClose("EMERGENCY")
	m.publishGauges()
	m.log.WithFields(logrus.Fields{
		"position_id": positionID,
		"reason":      reason,
		"exit_price":  exitPrice,
		"pnl":         pnl,
	}).Warn("position emergency closed")
	m.alert("warning", fmt.Sprintf("Emergency close %s: %s (PnL %.2f)", positionID, reason, pnl))
	return nil
}

// EmergencyCloseAll closes every tracked position. It serves as the
// breaker's close-all callback, so it must never record PnL in a way that
// could re-trip: RecordPnL inside is safe because the breaker is already
// out of ACTIVE by the time this runs.
func (m *Manager) EmergencyCloseAll(ctx context.Context, reason string) error {
	positions := m.portfolio.Positions()
	if len(positions) == 0 {
		return nil
	}

	m.log.WithFields(logrus.Fields{
		"count":  len(positions),
		"reason": reason,
	}).Warn("emergency closing all positions")

	failed := 0
	var lastErr error
	for _, pos := range positions {
		if err := m.EmergencyClosePosition(ctx, pos.ID, reason); err != nil {
			failed++
			lastErr = err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d positions failed to close: %w", failed, len(positions), lastErr)
	}
	return nil
}

// CheckDailyLossLimit feeds a realized PnL delta into the circuit breaker,
// including all trip side effects.
func (m *Manager) CheckDailyLossLimit(ctx context.Context, delta float64) (*safety.Status, error) {
	st, err := m.breaker.RecordPnL(ctx, delta)
	m.persistIfAbnormal(st)
	m.publishGauges()
	return st, err
}

// ResetCircuitBreaker re-arms a tripped breaker with the operator token.
func (m *Manager) ResetCircuitBreaker(token string) error {
	if err := m.breaker.Reset(token); err != nil {
		return err
	}
	m.persistBreaker()
	m.publishGauges()
	return nil
}

// RestoreBreakerSnapshot adopts persisted breaker state at boot. A snapshot
// from a previous UTC day is rolled over against fresh equity, which re-arms
// a plain TRIPPED state but preserves MANUAL_RESET_REQUIRED.
func (m *Manager) RestoreBreakerSnapshot(snap safety.Snapshot, freshEquity float64) error {
	if err := m.breaker.RestoreSnapshot(snap); err != nil {
		return err
	}
	today := time.Now().UTC().Format("2006-01-02")
	if m.breaker.Day() != today {
		m.breaker.RolloverDay(freshEquity)
	}
	m.persistBreaker()
	m.publishGauges()
	return nil
}

// GetPortfolioStatus returns the portfolio snapshot.
func (m *Manager) GetPortfolioStatus() portfolio.Status {
	return m.portfolio.Snapshot()
}

// BreakerStatus returns the circuit breaker snapshot.
func (m *Manager) BreakerStatus() safety.Status {
	return m.breaker.CheckStatus()
}

// ProtectionStatus returns every protection record.
func (m *Manager) ProtectionStatus() []protection.Protection {
	return m.protection.ActiveProtections()
}

// SizeRecommendation derives a fractional-Kelly size for the symbol from
// recently closed trades. An empty symbol sizes from all recent trades.
func (m *Manager) SizeRecommendation(ctx context.Context, symbol string) (sizing.Recommendation, error) {
	trades, err := m.history.RecentTrades(ctx, symbol, m.cfg.Sizing.FullSampleSize)
	if err != nil {
		return sizing.Recommendation{}, errors.NewExchangeError("risk", "size_recommendation", err)
	}
	return m.sizer.FromHistory(trades, m.portfolio.Equity()), nil
}

// CorrelationReport measures pairwise return correlation across the symbols
// currently held.
func (m *Manager) CorrelationReport(ctx context.Context) (*analytics.Matrix, error) {
	pf := m.portfolio.Snapshot()
	symbols := make([]string, 0, len(pf.BySymbol))
	for sym := range pf.BySymbol {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return m.correlation.AnalyzePortfolio(ctx, symbols)
}

// Start launches the daily rollover scheduler. The breaker day-start and the
// portfolio equity denominator rebase together at each midnight.
func (m *Manager) Start(ctx context.Context) {
	m.breaker.StartDailyRollover(ctx, func(rctx context.Context) (float64, error) {
		equity, err := m.execution.AccountEquity(rctx)
		if err != nil {
			return 0, err
		}
		m.portfolio.SetEquity(equity)
		return equity, nil
	})
	m.publishGauges()
	m.log.Info("risk manager started")
}

// Stop tears down every monitor and persists the breaker state. Exchange
// stops stay armed on purpose: layer 1 outlives the process.
func (m *Manager) Stop() {
	m.protection.StopAll()
	m.persistBreaker()
	m.log.Info("risk manager stopped")
}

// handleProtectiveClose is the protection manager's reporter. It runs on a
// monitor goroutine and must not call back into the protection manager.
func (m *Manager) handleProtectiveClose(ev protection.CloseEvent) {
	if ev.Err != nil {
		m.log.WithError(ev.Err).WithFields(logrus.Fields{
			"position_id": ev.Position.ID,
			"trigger":     string(ev.Trigger),
		}).Error("protective close failed, position may still be open")
		m.alert("error", fmt.Sprintf("Protective close FAILED for %s (%s): %v. Position may still be open.",
			ev.Position.ID, ev.Trigger, ev.Err))
		monitoring.RecordCloseFailure(string(ev.Trigger))
		return
	}

	// The position leaves the portfolio before the breaker sees its PnL, so
	// a trip's close-all never targets the position this event closed.
	if _, err := m.portfolio.RemovePosition(ev.Position.ID); err != nil && !errors.Is(err, errors.ErrPositionNotFound) {
		m.log.WithError(err).WithField("position_id", ev.Position.ID).Warn("portfolio removal failed")
	}
	m.portfolio.RecordRealizedPnL(ev.PnL)
	st, err := m.breaker.RecordPnL(context.Background(), ev.PnL)
	if err != nil {
		m.log.WithError(err).Error("recording protective-close PnL tripped the breaker and close-all failed")
	}
	m.persistIfAbnormal(st)

	if err := m.journal.RecordPositionClosed(ev.Position, string(ev.Trigger), ev.PnL); err != nil {
		m.log.WithError(err).Warn("failed to journal protective close")
	}
	monitoring.RecordEmergencyClose(string(ev.Trigger))
	m.publishGauges()
	m.alert("warning", fmt.Sprintf("Position %s closed by %s at %.4f (PnL %.2f): %s",
		ev.Position.ID, ev.Trigger, ev.ExitPrice, ev.PnL, ev.Reason))
}

func (m *Manager) exitPriceFor(ctx context.Context, pos types.PositionInfo) float64 {
	priceCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if p, err := m.market.GetMarkPrice(priceCtx, pos.Symbol); err == nil && p > 0 {
		return p
	}
	return pos.EntryPrice
}

func (m *Manager) persistBreaker() {
	if m.store == nil {
		return
	}
	if err := m.store.SaveBreaker(m.breaker.SnapshotState()); err != nil {
		m.log.WithError(err).Warn("failed to persist breaker snapshot")
	}
}

func (m *Manager) persistIfAbnormal(st *safety.Status) {
	if st != nil && st.State != safety.StateActive {
		m.persistBreaker()
	}
}

func (m *Manager) publishGauges() {
	pf := m.portfolio.Snapshot()
	st := m.breaker.CheckStatus()
	monitoring.SetOpenPositions(pf.OpenPositions)
	monitoring.SetExposurePct(pf.TotalExposurePct)
	monitoring.SetDailyLossPct(st.DailyLossPct)
	monitoring.SetBreakerState(st.State.String())
	monitoring.SetActiveProtections(len(m.protection.ActiveProtections()))
}

func (m *Manager) alert(level, message string) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.SendAlert(level, message); err != nil {
		m.log.WithError(err).Warn("alert delivery failed")
	}
}
