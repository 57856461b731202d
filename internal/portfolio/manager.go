package portfolio

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ducminhle1904/crypto-risk-guard/internal/errors"
	"github.com/ducminhle1904/crypto-risk-guard/internal/logger"
	"github.com/ducminhle1904/crypto-risk-guard/pkg/types"
)

// Names of the portfolio limit checks, shared with the validation pipeline.
const (
	CheckPositionCount = "position_count"
	CheckPositionSize  = "position_size"
	CheckTotalExposure = "total_exposure"
)

// limitEpsilon absorbs float artifacts so a position sized exactly at a
// limit passes it.
const limitEpsilon = 1e-9

// Limits bound the open-position set relative to account equity.
type Limits struct {
	MaxOpenPositions     int     `json:"max_open_positions"`
	MaxSinglePositionPct float64 `json:"max_single_position_pct"`
	MaxTotalExposurePct  float64 `json:"max_total_exposure_pct"`
}

// DefaultLimits returns the production defaults: at most 3 concurrent
// positions, 20% of equity each, 80% of equity in total.
func DefaultLimits() Limits {
	return Limits{
		MaxOpenPositions:     3,
		MaxSinglePositionPct: 0.20,
		MaxTotalExposurePct:  0.80,
	}
}

// Status is a point-in-time view of the portfolio used by the status
// surface and the validation pipeline.
type Status struct {
	Equity           float64              `json:"equity"`
	OpenPositions    int                  `json:"open_positions"`
	MaxPositions     int                  `json:"max_positions"`
	TotalExposure    float64              `json:"total_exposure"`
	TotalExposurePct float64              `json:"total_exposure_pct"`
	ExposureHeadroom float64              `json:"exposure_headroom"`
	RealizedPnL      float64              `json:"realized_pnl"`
	BySymbol         map[string]float64   `json:"by_symbol"`
	Positions        []types.PositionInfo `json:"positions"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

// Manager owns the open-position set. Limit checks and mutations happen
// under one lock, so a position admitted by AddPosition was checked against
// the set it joined.
type Manager struct {
	mu        sync.RWMutex
	limits    Limits
	log       *logrus.Entry
	equity    float64
	realized  float64
	positions map[string]types.PositionInfo
}

// NewManager creates a portfolio manager tracking exposure against equity.
func NewManager(limits Limits, equity float64, log *logger.Logger) *Manager {
	if limits.MaxOpenPositions <= 0 {
		limits.MaxOpenPositions = DefaultLimits().MaxOpenPositions
	}
	if limits.MaxSinglePositionPct <= 0 {
		limits.MaxSinglePositionPct = DefaultLimits().MaxSinglePositionPct
	}
	if limits.MaxTotalExposurePct <= 0 {
		limits.MaxTotalExposurePct = DefaultLimits().MaxTotalExposurePct
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &Manager{
		limits:    limits,
		log:       log.WithComponent("portfolio"),
		equity:    equity,
		positions: make(map[string]types.PositionInfo),
	}
}

// AddPosition admits a position after re-checking every limit against the
// current set under the write lock. On any violation nothing is mutated.
func (m *Manager) AddPosition(pos types.PositionInfo) error {
	if pos.ID == "" || pos.Symbol == "" {
		return errors.NewPortfolioError("portfolio", "add_position", "position needs an ID and symbol")
	}
	if pos.PositionValue <= 0 {
		return errors.NewPortfolioError("portfolio", "add_position", "position value must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.positions[pos.ID]; exists {
		return errors.Wrap(errors.ErrDuplicatePosition, errors.ErrorCategoryPortfolio, "portfolio", "add_position").
			WithContext("position_id", pos.ID)
	}

	for _, check := range m.evaluateLocked(pos.PositionValue) {
		if check.Status == types.CheckFailed {
			return errors.Wrap(errors.ErrPortfolioLimitBreach, errors.ErrorCategoryPortfolio, "portfolio", "add_position").
				WithContext("check", check.Name).
				WithContext("detail", check.Message)
		}
	}

	m.positions[pos.ID] = pos
	m.log.WithFields(logrus.Fields{
		"position_id": pos.ID,
		"symbol":      pos.Symbol,
		"side":        string(pos.Side),
		"value":       pos.PositionValue,
		"open_count":  len(m.positions),
	}).Info("position admitted to portfolio")
	return nil
}

// RemovePosition drops a position and returns it. Unknown IDs return
// ErrPositionNotFound so racing close paths can treat removal as benign.
func (m *Manager) RemovePosition(id string) (*types.PositionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, exists := m.positions[id]
	if !exists {
		return nil, errors.Wrap(errors.ErrPositionNotFound, errors.ErrorCategoryPortfolio, "portfolio", "remove_position").
			WithContext("position_id", id)
	}

	delete(m.positions, id)
	m.log.WithFields(logrus.Fields{
		"position_id": id,
		"open_count":  len(m.positions),
	}).Info("position removed from portfolio")
	return &pos, nil
}

// GetPosition returns a copy of one position.
func (m *Manager) GetPosition(id string) (types.PositionInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positions[id]
	return pos, ok
}

// Positions returns a copy of the open set ordered by open time.
func (m *Manager) Positions() []types.PositionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.positionsLocked()
}

// OpenCount returns the number of open positions.
func (m *Manager) OpenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.positions)
}

// CheckPositionLimits evaluates the limits a candidate position of the
// given notional value would face, in the same order AddPosition enforces
// them. The result is advisory: the set can change before AddPosition runs.
func (m *Manager) CheckPositionLimits(candidateValue float64) []types.RiskCheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.evaluateLocked(candidateValue)
}

// Snapshot returns the full portfolio status.
func (m *Manager) Snapshot() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := m.totalExposureLocked()
	status := Status{
		Equity:        m.equity,
		OpenPositions: len(m.positions),
		MaxPositions:  m.limits.MaxOpenPositions,
		TotalExposure: total,
		RealizedPnL:   m.realized,
		BySymbol:      make(map[string]float64, len(m.positions)),
		Positions:     m.positionsLocked(),
		UpdatedAt:     time.Now().UTC(),
	}
	for _, pos := range m.positions {
		status.BySymbol[pos.Symbol] += pos.PositionValue
	}
	if m.equity > 0 {
		status.TotalExposurePct = total / m.equity
		headroom := m.limits.MaxTotalExposurePct*m.equity - total
		if headroom < 0 {
			headroom = 0
		}
		status.ExposureHeadroom = headroom
	}
	return status
}

// SetEquity replaces the equity denominator used by all percentage limits.
func (m *Manager) SetEquity(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equity = v
}

// Equity returns the current equity denominator.
func (m *Manager) Equity() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.equity
}

// RecordRealizedPnL folds a realized result into equity so subsequent limit
// checks see the shrunken (or grown) account.
func (m *Manager) RecordRealizedPnL(delta float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equity += delta
	m.realized += delta
}

func (m *Manager) positionsLocked() []types.PositionInfo {
	out := make([]types.PositionInfo, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

func (m *Manager) totalExposureLocked() float64 {
	total := 0.0
	for _, pos := range m.positions {
		total += pos.PositionValue
	}
	return total
}

// evaluateLocked runs the three portfolio limit checks for a candidate
// notional value. Percentages are reported as fractions of equity. With no
// usable equity the percentage checks fail closed.
func (m *Manager) evaluateLocked(candidateValue float64) []types.RiskCheckResult {
	results := make([]types.RiskCheckResult, 0, 3)

	count := len(m.positions)
	countCheck := types.RiskCheckResult{
		Name:    CheckPositionCount,
		Status:  types.CheckPassed,
		Message: fmt.Sprintf("%d of %d positions open", count, m.limits.MaxOpenPositions),
		Value:   float64(count),
		Limit:   float64(m.limits.MaxOpenPositions),
	}
	if count >= m.limits.MaxOpenPositions {
		countCheck.Status = types.CheckFailed
		countCheck.Message = fmt.Sprintf("position limit reached: %d of %d open", count, m.limits.MaxOpenPositions)
	}
	results = append(results, countCheck)

	sizeCheck := types.RiskCheckResult{
		Name:   CheckPositionSize,
		Status: types.CheckPassed,
		Limit:  m.limits.MaxSinglePositionPct,
	}
	exposureCheck := types.RiskCheckResult{
		Name:   CheckTotalExposure,
		Status: types.CheckPassed,
		Limit:  m.limits.MaxTotalExposurePct,
	}

	if m.equity <= 0 {
		sizeCheck.Status = types.CheckFailed
		sizeCheck.Message = "equity unknown, cannot size position"
		exposureCheck.Status = types.CheckFailed
		exposureCheck.Message = "equity unknown, cannot bound exposure"
		return append(results, sizeCheck, exposureCheck)
	}

	sizeFrac := candidateValue / m.equity
	sizeCheck.Value = sizeFrac
	sizeCheck.Message = fmt.Sprintf("position is %.1f%% of equity (limit %.0f%%)",
		sizeFrac*100, m.limits.MaxSinglePositionPct*100)
	if sizeFrac > m.limits.MaxSinglePositionPct+limitEpsilon {
		sizeCheck.Status = types.CheckFailed
		sizeCheck.Message = fmt.Sprintf("position %.1f%% of equity exceeds %.0f%% limit",
			sizeFrac*100, m.limits.MaxSinglePositionPct*100)
	}
	results = append(results, sizeCheck)

	projected := (m.totalExposureLocked() + candidateValue) / m.equity
	exposureCheck.Value = projected
	exposureCheck.Message = fmt.Sprintf("projected exposure %.1f%% of equity (limit %.0f%%)",
		projected*100, m.limits.MaxTotalExposurePct*100)
	if projected > m.limits.MaxTotalExposurePct+limitEpsilon {
		exposureCheck.Status = types.CheckFailed
		exposureCheck.Message = fmt.Sprintf("projected exposure %.1f%% of equity exceeds %.0f%% limit",
			projected*100, m.limits.MaxTotalExposurePct*100)
	}
	return append(results, exposureCheck)
}
