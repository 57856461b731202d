// Package protection arms three independent stop-loss layers for every open
// position: a stop resting on the exchange, an application-side price
// monitor, and a catastrophic-move emergency monitor. Any surviving layer is
// enough to get a losing position closed.
package protection

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ducminhle1904/crypto-risk-guard/internal/errors"
	"github.com/ducminhle1904/crypto-risk-guard/internal/exchange"
	"github.com/ducminhle1904/crypto-risk-guard/internal/logger"
	"github.com/ducminhle1904/crypto-risk-guard/internal/monitoring"
	"github.com/ducminhle1904/crypto-risk-guard/pkg/types"
)

// Layer identifies which protection layer acted.
type Layer string

const (
	LayerExchange   Layer = "EXCHANGE"
	LayerAppMonitor Layer = "APP_MONITOR"
	LayerEmergency  Layer = "EMERGENCY"
)

// Status of one protection record.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusTriggered Status = "TRIGGERED"
	StatusStopped   Status = "STOPPED"
)

// closeTimeout bounds a protective close. It is deliberately detached from
// monitor contexts so a breach close finishes even while monitors shut down.
const closeTimeout = 30 * time.Second

// Config controls monitor cadence and the catastrophic backstop.
type Config struct {
	MonitorInterval     time.Duration `json:"monitor_interval"`
	EmergencyInterval   time.Duration `json:"emergency_interval"`
	CatastrophicLossPct float64       `json:"catastrophic_loss_pct"`
	MaxMonitorFailures  int           `json:"max_monitor_failures"`
}

// DefaultConfig returns the production cadence: 2s app monitor, 1s
// emergency monitor, 15% catastrophic move, close after 3 blind ticks.
func DefaultConfig() Config {
	return Config{
		MonitorInterval:     2 * time.Second,
		EmergencyInterval:   1 * time.Second,
		CatastrophicLossPct: 0.15,
		MaxMonitorFailures:  3,
	}
}

// Protection is the public view of one protected position.
type Protection struct {
	PositionID     string             `json:"position_id"`
	Symbol         string             `json:"symbol"`
	Position       types.PositionInfo `json:"position"`
	StopPrice      float64            `json:"stop_price"`
	EmergencyPrice float64            `json:"emergency_price"`
	StopOrderRef   string             `json:"stop_order_ref,omitempty"`
	Layers         []Layer            `json:"layers"`
	Status         Status             `json:"status"`
	TriggeredBy    Layer              `json:"triggered_by,omitempty"`
	StartedAt      time.Time          `json:"started_at"`
	TriggeredAt    time.Time          `json:"triggered_at"`
}

// CloseEvent reports the outcome of a protective close to the coordinator.
// Err is non-nil when the close itself failed and the position may still be
// open. The reporter must not call back into the Manager.
type CloseEvent struct {
	Position  types.PositionInfo
	Trigger   Layer
	Reason    string
	ExitPrice float64
	PnL       float64
	OrderID   string
	Err       error
}

// CloseReporter receives the outcome of every protective close.
type CloseReporter func(ev CloseEvent)

// watch is the internal per-position record. closeOnce makes the protective
// close exactly-once no matter which layer wins the race.
type watch struct {
	position       types.PositionInfo
	stopPrice      float64
	emergencyPrice float64
	stopRef        string
	startedAt      time.Time

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	mu          sync.Mutex
	status      Status
	armed       []Layer
	triggeredBy Layer
	triggeredAt time.Time
}

func (w *watch) setTriggered(layer Layer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = StatusTriggered
	w.triggeredBy = layer
	w.triggeredAt = time.Now().UTC()
}

func (w *watch) setStopped() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status == StatusActive {
		w.status = StatusStopped
	}
}

func (w *watch) view(id string) Protection {
	w.mu.Lock()
	defer w.mu.Unlock()

	layers := make([]Layer, len(w.armed))
	copy(layers, w.armed)
	return Protection{
		PositionID:     id,
		Symbol:         w.position.Symbol,
		Position:       w.position,
		StopPrice:      w.stopPrice,
		EmergencyPrice: w.emergencyPrice,
		StopOrderRef:   w.stopRef,
		Layers:         layers,
		Status:         w.status,
		TriggeredBy:    w.triggeredBy,
		StartedAt:      w.startedAt,
		TriggeredAt:    w.triggeredAt,
	}
}

// Manager arms and supervises the protection layers. It owns the protective
// close; the coordinator only receives the outcome through the reporter.
type Manager struct {
	cfg       Config
	execution exchange.ExecutionClient
	market    exchange.MarketDataClient
	reporter  CloseReporter
	log       *logrus.Entry

	mu      sync.Mutex
	watches map[string]*watch
}

// NewManager creates a protection manager. reporter may be nil.
func NewManager(cfg Config, execution exchange.ExecutionClient, market exchange.MarketDataClient, reporter CloseReporter, log *logger.Logger) *Manager {
	def := DefaultConfig()
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = def.MonitorInterval
	}
	if cfg.EmergencyInterval <= 0 {
		cfg.EmergencyInterval = def.EmergencyInterval
	}
	if cfg.CatastrophicLossPct <= 0 {
		cfg.CatastrophicLossPct = def.CatastrophicLossPct
	}
	if cfg.MaxMonitorFailures <= 0 {
		cfg.MaxMonitorFailures = def.MaxMonitorFailures
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &Manager{
		cfg:       cfg,
		execution: execution,
		market:    market,
		reporter:  reporter,
		log:       log.WithComponent("protection"),
		watches:   make(map[string]*watch),
	}
}

// StartMultiLayerProtection arms all three layers for a position. A
// position without a stop distance is closed immediately instead of being
// watched: unprotected exposure is never tolerated. A failed exchange stop
// placement also closes the position and reports an error; a record only
// exists once layer 1 rests on the exchange.
func (m *Manager) StartMultiLayerProtection(ctx context.Context, pos types.PositionInfo) (*Protection, error) {
	if pos.ID == "" || pos.Symbol == "" || pos.EntryPrice <= 0 || pos.Quantity <= 0 {
		return nil, errors.NewProtectionError("protection", "start",
			fmt.Errorf("position %q is missing id, symbol, entry price or quantity", pos.ID))
	}

	if pos.StopLossPct <= 0 {
		m.log.WithField("position_id", pos.ID).Error("position has no stop loss, closing immediately")
		m.closeUnprotected(pos, "no stop loss configured, zero tolerance close")
		return nil, errors.NewProtectionError("protection", "start",
			fmt.Errorf("position %s has no stop loss", pos.ID))
	}

	stopPrice := pos.StopPrice()
	emergencyPrice := emergencyPriceFor(pos, m.cfg.CatastrophicLossPct)

	monitorCtx, cancel := context.WithCancel(context.Background())
	w := &watch{
		position:       pos,
		stopPrice:      stopPrice,
		emergencyPrice: emergencyPrice,
		startedAt:      time.Now().UTC(),
		cancel:         cancel,
		status:         StatusActive,
	}

	m.mu.Lock()
	if _, exists := m.watches[pos.ID]; exists {
		m.mu.Unlock()
		cancel()
		return nil, errors.Wrap(errors.ErrProtectionExists, errors.ErrorCategoryProtection, "protection", "start").
			WithContext("position_id", pos.ID)
	}
	m.watches[pos.ID] = w
	m.mu.Unlock()

	// Layer 1: the stop that survives this process dying.
	stopRef, err := m.execution.PlaceStopOrder(ctx, pos, stopPrice)
	if err != nil {
		m.remove(pos.ID)
		cancel()
		m.log.WithError(err).WithField("position_id", pos.ID).
			Error("exchange stop placement failed, closing position")
		m.closeUnprotected(pos, "exchange stop placement failed")
		return nil, errors.NewProtectionError("protection", "place_stop", err)
	}

	w.mu.Lock()
	w.stopRef = stopRef
	w.armed = []Layer{LayerExchange, LayerAppMonitor, LayerEmergency}
	w.mu.Unlock()

	w.wg.Add(2)
	go m.runAppMonitor(monitorCtx, pos.ID, w)
	go m.runEmergencyMonitor(monitorCtx, pos.ID, w)

	m.log.WithFields(logrus.Fields{
		"position_id":     pos.ID,
		"symbol":          pos.Symbol,
		"side":            string(pos.Side),
		"stop_price":      stopPrice,
		"emergency_price": emergencyPrice,
		"stop_ref":        stopRef,
	}).Info("multi-layer protection armed")

	view := w.view(pos.ID)
	return &view, nil
}

// StopProtection cancels the monitors for a position and removes the
// record. It does not close the position; callers stop protection after
// they have dealt with the position themselves. Unknown IDs are a no-op.
func (m *Manager) StopProtection(positionID string) error {
	m.mu.Lock()
	w, ok := m.watches[positionID]
	if ok {
		delete(m.watches, positionID)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}

	w.cancel()
	w.wg.Wait()
	w.setStopped()
	m.log.WithField("position_id", positionID).Info("protection stopped")
	return nil
}

// StopAll stops every protection. Used on shutdown; exchange stops remain
// armed, which is the point of layer 1.
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.watches))
	for id := range m.watches {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.StopProtection(id)
	}
}

// ActiveProtections returns a snapshot of every protection record, ordered
// by position ID.
func (m *Manager) ActiveProtections() []Protection {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Protection, 0, len(m.watches))
	for id, w := range m.watches {
		out = append(out, w.view(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PositionID < out[j].PositionID })
	return out
}

// runAppMonitor polls the mark price on the monitor cadence and closes the
// position when the stop price is breached. Blind ticks (errors, insane
// prices) are counted; too many in a row means the market cannot be seen
// and the position is closed conservatively.
func (m *Manager) runAppMonitor(ctx context.Context, id string, w *watch) {
	defer w.wg.Done()

	ticker := time.NewTicker(m.cfg.MonitorInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			price, err := m.fetchPrice(ctx, w.position.Symbol, m.cfg.MonitorInterval)
			if err != nil || !saneMark(price) {
				failures++
				monitoring.RecordMonitorFailure(w.position.Symbol)
				m.log.WithFields(logrus.Fields{
					"position_id": id,
					"consecutive": failures,
					"max":         m.cfg.MaxMonitorFailures,
				}).Warn("stop monitor tick failed")
				if failures >= m.cfg.MaxMonitorFailures {
					m.trigger(w, id, LayerAppMonitor, 0,
						fmt.Sprintf("market data blind for %d ticks, conservative close", failures))
					return
				}
				continue
			}
			failures = 0

			if stopBreached(w.position.Side, w.stopPrice, price) {
				m.trigger(w, id, LayerAppMonitor, price,
					fmt.Sprintf("stop price %.4f breached at %.4f", w.stopPrice, price))
				return
			}
		}
	}
}

// runEmergencyMonitor is the fast backstop: it ignores the configured stop
// and closes on a catastrophic adverse move. Fetch errors are skipped; the
// app monitor owns blindness accounting.
func (m *Manager) runEmergencyMonitor(ctx context.Context, id string, w *watch) {
	defer w.wg.Done()

	ticker := time.NewTicker(m.cfg.EmergencyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			price, err := m.fetchPrice(ctx, w.position.Symbol, m.cfg.EmergencyInterval)
			if err != nil || !saneMark(price) {
				continue
			}

			if adverse := w.position.AdverseMovePct(price); adverse >= m.cfg.CatastrophicLossPct {
				m.trigger(w, id, LayerEmergency, price,
					fmt.Sprintf("catastrophic move %.1f%% against position", adverse*100))
				return
			}
		}
	}
}

// trigger runs the exactly-once protective close. The losing layer's call
// is a no-op.
func (m *Manager) trigger(w *watch, id string, layer Layer, markPrice float64, reason string) {
	w.closeOnce.Do(func() {
		w.setTriggered(layer)
		m.log.WithFields(logrus.Fields{
			"position_id": id,
			"layer":       string(layer),
			"reason":      reason,
		}).Warn("protection triggered")
		m.closeWatch(w, id, layer, markPrice, reason)
	})
}

// closeWatch closes the position on its own context, estimates the realized
// PnL and reports the outcome. On success the record is removed; on failure
// it stays visible so operators can see the stranded position.
func (m *Manager) closeWatch(w *watch, id string, layer Layer, markPrice float64, reason string) {
	ctx, cancelClose := context.WithTimeout(context.Background(), closeTimeout)
	defer cancelClose()

	// Stop the sibling monitor; the close proceeds on its own context.
	w.cancel()

	exitPrice := markPrice
	if !saneMark(exitPrice) {
		if p, err := m.fetchPrice(ctx, w.position.Symbol, closeTimeout); err == nil && saneMark(p) {
			exitPrice = p
		} else {
			// Blind close: assume the stop level as the exit estimate.
			exitPrice = w.stopPrice
		}
	}
	pnl := w.position.UnrealizedPnL(exitPrice)

	orderID, err := m.execution.ClosePosition(ctx, w.position, reason)
	if err != nil && errors.Is(err, exchange.ErrPositionNotFound) {
		// The exchange stop or a racing close already flattened it.
		err = nil
	}

	if err != nil {
		m.log.WithError(err).WithFields(logrus.Fields{
			"position_id": id,
			"layer":       string(layer),
		}).Error("protective close failed, position may still be open")
	} else {
		m.remove(id)
		m.log.WithFields(logrus.Fields{
			"position_id": id,
			"layer":       string(layer),
			"exit_price":  exitPrice,
			"pnl":         pnl,
		}).Info("protective close complete")
	}

	if m.reporter != nil {
		m.reporter(CloseEvent{
			Position:  w.position,
			Trigger:   layer,
			Reason:    reason,
			ExitPrice: exitPrice,
			PnL:       pnl,
			OrderID:   orderID,
			Err:       err,
		})
	}
}

// closeUnprotected closes a position that never got a protection record.
func (m *Manager) closeUnprotected(pos types.PositionInfo, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	exitPrice := pos.EntryPrice
	if p, err := m.fetchPrice(ctx, pos.Symbol, closeTimeout); err == nil && saneMark(p) {
		exitPrice = p
	}
	pnl := pos.UnrealizedPnL(exitPrice)

	orderID, err := m.execution.ClosePosition(ctx, pos, reason)
	if err != nil && errors.Is(err, exchange.ErrPositionNotFound) {
		err = nil
	}
	if err != nil {
		m.log.WithError(err).WithField("position_id", pos.ID).
			Error("emergency close of unprotected position failed")
	}

	if m.reporter != nil {
		m.reporter(CloseEvent{
			Position:  pos,
			Trigger:   LayerEmergency,
			Reason:    reason,
			ExitPrice: exitPrice,
			PnL:       pnl,
			OrderID:   orderID,
			Err:       err,
		})
	}
}

func (m *Manager) fetchPrice(ctx context.Context, symbol string, budget time.Duration) (float64, error) {
	tickCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	return m.market.GetMarkPrice(tickCtx, symbol)
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.watches, id)
	m.mu.Unlock()
}

// stopBreached is the side-aware stop test: longs stop below, shorts above.
func stopBreached(side types.PositionSide, stopPrice, price float64) bool {
	if side == types.SideShort {
		return price >= stopPrice
	}
	return price <= stopPrice
}

// emergencyPriceFor is where the catastrophic backstop sits for a position.
func emergencyPriceFor(pos types.PositionInfo, lossPct float64) float64 {
	if pos.Side == types.SideShort {
		return pos.EntryPrice * (1 + lossPct)
	}
	return pos.EntryPrice * (1 - lossPct)
}

func saneMark(price float64) bool {
	return !math.IsNaN(price) && !math.IsInf(price, 0) && price > 0
}
