package safety

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ducminhle1904/crypto-risk-guard/internal/errors"
	"github.com/ducminhle1904/crypto-risk-guard/internal/journal"
	"github.com/ducminhle1904/crypto-risk-guard/internal/logger"
	"github.com/ducminhle1904/crypto-risk-guard/internal/notifications"
)

// State represents the trading-permission state of the circuit breaker
type State int

const (
	StateActive State = iota
	StateTripped
	StateManualResetRequired
	StateRecovering
)

// String returns the string representation of the breaker state
func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateTripped:
		return "TRIPPED"
	case StateManualResetRequired:
		return "MANUAL_RESET_REQUIRED"
	case StateRecovering:
		return "RECOVERING"
	default:
		return "UNKNOWN"
	}
}

// ParseState converts a persisted state string back into a State
func ParseState(s string) (State, error) {
	switch s {
	case "ACTIVE":
		return StateActive, nil
	case "TRIPPED":
		return StateTripped, nil
	case "MANUAL_RESET_REQUIRED":
		return StateManualResetRequired, nil
	case "RECOVERING":
		return StateRecovering, nil
	default:
		return StateActive, fmt.Errorf("unknown breaker state %q", s)
	}
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseState(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Config holds circuit breaker configuration
type Config struct {
	DailyLossLimitPct  float64 `json:"daily_loss_limit_pct"`
	RequireManualReset bool    `json:"require_manual_reset"`
}

// DefaultConfig returns the production defaults: 7% daily loss limit with
// manual reset required after a trip.
func DefaultConfig() Config {
	return Config{
		DailyLossLimitPct:  0.07,
		RequireManualReset: true,
	}
}

// Status is a point-in-time view of the breaker. The reset token is not part
// of the status surface; it reaches the operator through logs, alerts and the
// persisted snapshot only.
type Status struct {
	State           State     `json:"state"`
	DayStartBalance float64   `json:"day_start_balance"`
	CurrentBalance  float64   `json:"current_balance"`
	DailyPnL        float64   `json:"daily_pnl"`
	DailyLossPct    float64   `json:"daily_loss_pct"`
	LimitPct        float64   `json:"limit_pct"`
	TrippedAt       time.Time `json:"tripped_at"`
	TripReason      string    `json:"trip_reason,omitempty"`
}

// Snapshot is the persistable form of the breaker. It carries the reset
// token so a restart never silently un-trips the breaker.
type Snapshot struct {
	State           State     `json:"state"`
	DayStartBalance float64   `json:"day_start_balance"`
	CurrentBalance  float64   `json:"current_balance"`
	Day             string    `json:"day"`
	ResetToken      string    `json:"reset_token,omitempty"`
	TrippedAt       time.Time `json:"tripped_at"`
	TripReason      string    `json:"trip_reason,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CloseAllFunc closes every open position. Invoked synchronously when the
// breaker trips; it must not call back into the breaker.
type CloseAllFunc func(ctx context.Context, reason string) error

// CircuitBreaker halts all new entries once the day's realized loss crosses
// the configured fraction of day-start balance. ACTIVE and RECOVERING allow
// trading; TRIPPED and MANUAL_RESET_REQUIRED do not. RECOVERING is reserved
// for staged re-entry and is never entered automatically.
type CircuitBreaker struct {
	cfg      Config
	closeAll CloseAllFunc
	log      *logrus.Entry
	notifier notifications.Notifier
	journal  journal.Journal

	mu              sync.RWMutex
	state           State
	dayStartBalance float64
	currentBalance  float64
	day             string
	resetToken      string
	trippedAt       time.Time
	tripReason      string
}

// NewCircuitBreaker creates an ACTIVE breaker tracking losses against
// dayStartBalance. notifier and jrnl may be nil.
func NewCircuitBreaker(cfg Config, dayStartBalance float64, closeAll CloseAllFunc, log *logger.Logger, notifier notifications.Notifier, jrnl journal.Journal) *CircuitBreaker {
	if cfg.DailyLossLimitPct <= 0 {
		cfg.DailyLossLimitPct = DefaultConfig().DailyLossLimitPct
	}
	if log == nil {
		log = logger.NewNop()
	}
	if jrnl == nil {
		jrnl = journal.Nop{}
	}

	return &CircuitBreaker{
		cfg:             cfg,
		closeAll:        closeAll,
		log:             log.WithComponent("circuit_breaker"),
		notifier:        notifier,
		journal:         jrnl,
		state:           StateActive,
		dayStartBalance: dayStartBalance,
		currentBalance:  dayStartBalance,
		day:             dayKey(time.Now().UTC()),
	}
}

// RecordPnL applies a realized PnL delta and trips the breaker when the
// daily loss moves strictly beyond the limit. The trip is exactly once: the
// state flips, a reset token is minted and the close-all callback runs
// before RecordPnL returns. A close-all failure does not un-trip; it is
// reported as a breaker error so the caller can escalate.
func (cb *CircuitBreaker) RecordPnL(ctx context.Context, delta float64) (*Status, error) {
	cb.mu.Lock()
	cb.currentBalance += delta
	lossPct := cb.lossPctLocked()

	tripping := (cb.state == StateActive || cb.state == StateRecovering) &&
		cb.dayStartBalance > 0 &&
		lossPct < -cb.cfg.DailyLossLimitPct

	var reason, token string
	if tripping {
		cb.state = StateTripped
		cb.resetToken = uuid.NewString()
		cb.trippedAt = time.Now().UTC()
		reason = fmt.Sprintf("daily loss %.2f%% exceeded limit %.2f%%",
			-lossPct*100, cb.cfg.DailyLossLimitPct*100)
		cb.tripReason = reason
		token = cb.resetToken
	}
	status := cb.statusLocked()
	cb.mu.Unlock()

	if !tripping {
		return &status, nil
	}

	cb.log.WithFields(logrus.Fields{
		"daily_loss_pct": lossPct,
		"limit_pct":      cb.cfg.DailyLossLimitPct,
		"reset_token":    token,
	}).Error("circuit breaker tripped, closing all positions")
	cb.alert("error", fmt.Sprintf("Circuit breaker TRIPPED: %s. Reset token: %s", reason, token))
	if err := cb.journal.RecordBreakerEvent("TRIP", reason, lossPct); err != nil {
		cb.log.WithError(err).Warn("failed to journal breaker trip")
	}

	var closeErr error
	if cb.closeAll != nil {
		closeErr = cb.closeAll(ctx, reason)
	}

	cb.mu.Lock()
	// Guard against a racing valid reset while close-all was running.
	if cb.cfg.RequireManualReset && cb.state == StateTripped {
		cb.state = StateManualResetRequired
	}
	status = cb.statusLocked()
	cb.mu.Unlock()

	if closeErr != nil {
		cb.log.WithError(closeErr).Error("close-all after breaker trip failed")
		cb.alert("error", fmt.Sprintf("Close-all after breaker trip FAILED: %v", closeErr))
		return &status, errors.Wrap(closeErr, errors.ErrorCategoryBreaker, "circuit_breaker", "close_all")
	}
	return &status, nil
}

// Allows reports whether new entries may be opened. A breaker without a
// positive day-start balance cannot evaluate its limit and fails closed.
func (cb *CircuitBreaker) Allows() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if cb.dayStartBalance <= 0 {
		return false
	}
	return cb.state == StateActive || cb.state == StateRecovering
}

// CheckStatus returns a snapshot of the breaker state and counters
func (cb *CircuitBreaker) CheckStatus() Status {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.statusLocked()
}

// Reset re-arms a tripped breaker when the presented token matches the one
// minted at trip time. Counters rebase to the current balance so the
// residual loss does not immediately re-trip. Any mismatch leaves the state
// untouched.
func (cb *CircuitBreaker) Reset(token string) error {
	cb.mu.Lock()
	if (cb.state != StateTripped && cb.state != StateManualResetRequired) || cb.resetToken == "" {
		cb.mu.Unlock()
		return errors.ErrInvalidResetToken
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(cb.resetToken)) != 1 {
		cb.mu.Unlock()
		return errors.ErrInvalidResetToken
	}

	cb.state = StateActive
	cb.dayStartBalance = cb.currentBalance
	cb.resetToken = ""
	cb.trippedAt = time.Time{}
	cb.tripReason = ""
	cb.mu.Unlock()

	cb.log.Warn("circuit breaker manually reset, trading re-enabled")
	cb.alert("warning", "Circuit breaker manually reset; trading re-enabled")
	if err := cb.journal.RecordBreakerEvent("RESET", "manual reset with valid token", 0); err != nil {
		cb.log.WithError(err).Warn("failed to journal breaker reset")
	}
	return nil
}

// RolloverDay rebases the daily counters for a new UTC trading day. A plain
// TRIPPED breaker re-arms; MANUAL_RESET_REQUIRED survives the rollover
// because the operator demanded intervention that outlives the day. A
// non-positive newBalance rebases from the tracked balance instead.
func (cb *CircuitBreaker) RolloverDay(newBalance float64) Status {
	cb.mu.Lock()
	if newBalance > 0 {
		cb.currentBalance = newBalance
	}
	cb.dayStartBalance = cb.currentBalance
	cb.day = dayKey(time.Now().UTC())

	untripped := false
	if cb.state == StateTripped {
		cb.state = StateActive
		cb.resetToken = ""
		cb.trippedAt = time.Time{}
		cb.tripReason = ""
		untripped = true
	}
	status := cb.statusLocked()
	day := cb.day
	cb.mu.Unlock()

	cb.log.WithFields(logrus.Fields{
		"day":               day,
		"day_start_balance": status.DayStartBalance,
		"state":             status.State.String(),
	}).Info("daily rollover complete")
	if untripped {
		cb.alert("info", "New trading day: circuit breaker re-armed")
	}
	if err := cb.journal.RecordBreakerEvent("ROLLOVER", "new trading day "+day, 0); err != nil {
		cb.log.WithError(err).Warn("failed to journal breaker rollover")
	}
	return status
}

// StartDailyRollover runs RolloverDay at every 00:00 UTC until ctx is
// cancelled. balanceFn provides fresh equity for the rebase; when it fails
// the rollover still happens from the tracked balance.
func (cb *CircuitBreaker) StartDailyRollover(ctx context.Context, balanceFn func(context.Context) (float64, error)) {
	go func() {
		for {
			now := time.Now().UTC()
			midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
			timer := time.NewTimer(midnight.Sub(now))

			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				var balance float64
				if balanceFn != nil {
					b, err := balanceFn(ctx)
					if err != nil {
						cb.log.WithError(err).Warn("equity fetch at rollover failed, rebasing from tracked balance")
					} else {
						balance = b
					}
				}
				cb.RolloverDay(balance)
			}
		}
	}()
}

// SnapshotState returns the persistable state including the reset token
func (cb *CircuitBreaker) SnapshotState() Snapshot {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return Snapshot{
		State:           cb.state,
		DayStartBalance: cb.dayStartBalance,
		CurrentBalance:  cb.currentBalance,
		Day:             cb.day,
		ResetToken:      cb.resetToken,
		TrippedAt:       cb.trippedAt,
		TripReason:      cb.tripReason,
		UpdatedAt:       time.Now().UTC(),
	}
}

// RestoreSnapshot adopts a persisted snapshot wholesale, including a tripped
// state and its reset token. The caller decides whether the snapshot's day
// is stale and rolls over afterwards.
func (cb *CircuitBreaker) RestoreSnapshot(snap Snapshot) error {
	switch snap.State {
	case StateActive, StateTripped, StateManualResetRequired, StateRecovering:
	default:
		return errors.NewStateError("circuit_breaker", "restore_snapshot",
			fmt.Errorf("snapshot carries unknown state %d", snap.State))
	}
	if snap.DayStartBalance < 0 || snap.CurrentBalance < 0 {
		return errors.NewStateError("circuit_breaker", "restore_snapshot",
			fmt.Errorf("snapshot carries negative balance"))
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = snap.State
	cb.dayStartBalance = snap.DayStartBalance
	cb.currentBalance = snap.CurrentBalance
	if snap.Day != "" {
		cb.day = snap.Day
	}
	cb.resetToken = snap.ResetToken
	cb.trippedAt = snap.TrippedAt
	cb.tripReason = snap.TripReason
	return nil
}

// Day returns the UTC day key the current counters belong to
func (cb *CircuitBreaker) Day() string {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.day
}

func (cb *CircuitBreaker) statusLocked() Status {
	return Status{
		State:           cb.state,
		DayStartBalance: cb.dayStartBalance,
		CurrentBalance:  cb.currentBalance,
		DailyPnL:        cb.currentBalance - cb.dayStartBalance,
		DailyLossPct:    cb.lossPctLocked(),
		LimitPct:        cb.cfg.DailyLossLimitPct,
		TrippedAt:       cb.trippedAt,
		TripReason:      cb.tripReason,
	}
}

func (cb *CircuitBreaker) lossPctLocked() float64 {
	if cb.dayStartBalance <= 0 {
		return 0
	}
	return (cb.currentBalance - cb.dayStartBalance) / cb.dayStartBalance
}

func (cb *CircuitBreaker) alert(level, message string) {
	if cb.notifier == nil {
		return
	}
	if err := cb.notifier.SendAlert(level, message); err != nil {
		cb.log.WithError(err).Warn("failed to send breaker alert")
	}
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
