// Package service wires the risk subsystem into a runnable process: the
// Bybit clients, the audit journal, breaker persistence, alerting and the
// monitoring endpoint assembled around one risk manager.
package service

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/sirupsen/logrus"

	"github.com/ducminhle1904/crypto-risk-guard/internal/config"
	"github.com/ducminhle1904/crypto-risk-guard/internal/exchange/bybit"
	"github.com/ducminhle1904/crypto-risk-guard/internal/journal"
	"github.com/ducminhle1904/crypto-risk-guard/internal/logger"
	"github.com/ducminhle1904/crypto-risk-guard/internal/monitoring"
	"github.com/ducminhle1904/crypto-risk-guard/internal/notifications"
	"github.com/ducminhle1904/crypto-risk-guard/internal/risk"
	"github.com/ducminhle1904/crypto-risk-guard/internal/safety"
	"github.com/ducminhle1904/crypto-risk-guard/internal/state"
)

const (
	bootTimeout     = 15 * time.Second
	shutdownTimeout = 10 * time.Second
	healthInterval  = 15 * time.Second
)

// Service is the long-running risk guard process. The embedding trading loop
// reaches the risk core through Manager(); everything else here is lifecycle
// plumbing.
type Service struct {
	cfg     *config.Config
	log     *logger.Logger
	client  *bybit.Client
	jrnl    journal.Journal
	files   *state.FileStore
	manager *risk.Manager
	health  *monitoring.HealthChecker
	monitor *monitoring.Server

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New assembles the service from configuration. It reaches the exchange once
// to establish account equity; a guard that cannot see the account must not
// start.
func New(cfg *config.Config) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("service configuration is required")
	}

	log, err := logger.New(cfg.Logging.Options())
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	client := bybit.NewClient(*cfg.Exchange.Bybit)

	var jrnl journal.Journal = journal.Nop{}
	if cfg.Journal.Path != "" {
		sq, err := journal.NewSQLite(cfg.Journal.Path)
		if err != nil {
			log.Close()
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		jrnl = sq
	}

	var notifier notifications.Notifier
	if n := cfg.Notifications; n != nil && n.Enabled {
		notifier = notifications.NewTelegramNotifier(n.TelegramToken, n.TelegramChat)
	} else {
		notifier = notifications.NewLogNotifier(log)
	}

	// The store stays a concrete pointer here; handing a nil *FileStore to
	// the manager through the interface would defeat its nil check.
	var files *state.FileStore
	var store risk.SnapshotStore
	if cfg.State.Path != "" {
		files, err = state.NewFileStore(cfg.State.Path, log)
		if err != nil {
			closeQuietly(jrnl, log)
			return nil, fmt.Errorf("failed to open state store: %w", err)
		}
		store = files
	}

	ctx, cancel := context.WithTimeout(context.Background(), bootTimeout)
	defer cancel()
	equity, err := client.AccountEquity(ctx)
	if err != nil {
		closeQuietly(jrnl, log)
		return nil, fmt.Errorf("failed to fetch account equity: %w", err)
	}

	svc := &Service{
		cfg:     cfg,
		log:     log,
		client:  client,
		jrnl:    jrnl,
		files:   files,
		manager: risk.NewManager(cfg.Risk, equity, client, client, client, jrnl, notifier, store, log),
		health:  monitoring.NewHealthChecker(),
	}
	if cfg.Monitoring.Enabled {
		svc.monitor = monitoring.NewServer(cfg.Monitoring.ListenAddr, svc.health)
	}
	return svc, nil
}

// Manager exposes the risk core for the embedding trading loop.
func (s *Service) Manager() *risk.Manager {
	return s.manager
}

// Start restores persisted breaker state, re-arms protection for positions
// that survived a restart and launches the background loops.
func (s *Service) Start(ctx context.Context) error {
	if err := s.restoreBreaker(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if err := s.adoptOpenPositions(runCtx); err != nil {
		cancel()
		return err
	}

	s.manager.Start(runCtx)

	if s.monitor != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.monitor.Start(); err != nil {
				s.log.WithError(err).Error("monitoring server failed")
				s.health.RecordError(fmt.Sprintf("monitoring server: %v", err))
			}
		}()
	}

	s.refreshHealth()
	s.wg.Add(1)
	go s.healthLoop(runCtx)

	s.printStartupInfo()
	s.printRiskLimits()
	return nil
}

// Stop drains the background loops and persists breaker state. Exchange-side
// stop orders stay armed: they are the layer that outlives the process.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}

		if s.monitor != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := s.monitor.Shutdown(ctx); err != nil {
				s.log.WithError(err).Warn("monitoring server shutdown failed")
			}
			cancel()
		}

		s.manager.Stop()
		s.wg.Wait()

		if err := s.jrnl.Close(); err != nil {
			s.log.WithError(err).Warn("journal close failed")
		}
		s.log.Close()
	})
}

// restoreBreaker replays the persisted breaker snapshot. A snapshot that
// exists but cannot be read aborts the boot: running with unknown breaker
// state could silently un-trip a halt.
func (s *Service) restoreBreaker(ctx context.Context) error {
	if s.files == nil {
		return nil
	}

	snap, ok, err := s.files.LoadBreaker()
	if err != nil {
		return fmt.Errorf("cannot determine persisted breaker state: %w", err)
	}
	if !ok {
		return nil
	}

	equity, err := s.accountEquity(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch account equity for breaker restore: %w", err)
	}
	if err := s.manager.RestoreBreakerSnapshot(*snap, equity); err != nil {
		return fmt.Errorf("failed to restore breaker snapshot: %w", err)
	}

	if st := s.manager.BreakerStatus(); st.State != safety.StateActive {
		s.log.WithField("state", st.State.String()).Warn("circuit breaker restored in non-active state")
		if st.State == safety.StateTripped || st.State == safety.StateManualResetRequired {
			fmt.Printf("⚠️ Circuit breaker restored as %s - new entries are blocked\n", st.State)
		}
	}
	return nil
}

// adoptOpenPositions re-arms protection for positions already open at the
// exchange. A position that cannot be adopted is reported unhealthy: it is
// live with nobody watching it.
func (s *Service) adoptOpenPositions(ctx context.Context) error {
	listCtx, cancel := context.WithTimeout(ctx, bootTimeout)
	defer cancel()
	positions, err := s.client.ListPositions(listCtx)
	if err != nil {
		return fmt.Errorf("failed to list open positions: %w", err)
	}

	adopted := 0
	for _, pos := range positions {
		if err := s.manager.RegisterPosition(ctx, pos); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"position_id": pos.ID,
				"symbol":      pos.Symbol,
			}).Error("failed to adopt open position")
			s.health.RecordError(fmt.Sprintf("position %s not adopted: %v", pos.ID, err))
			continue
		}
		adopted++
	}

	if len(positions) > 0 {
		s.log.WithFields(logrus.Fields{
			"found":   len(positions),
			"adopted": adopted,
		}).Info("existing positions adopted under protection")
		fmt.Printf("🔄 Adopted %d of %d existing position(s) under protection\n", adopted, len(positions))
	} else {
		fmt.Printf("✅ No existing positions found - starting with a clean book\n")
	}
	return nil
}

func (s *Service) healthLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshHealth()
		}
	}
}

func (s *Service) refreshHealth() {
	breaker := s.manager.BreakerStatus()
	pf := s.manager.GetPortfolioStatus()
	s.health.Refresh(breaker.State.String(), pf.OpenPositions, len(s.manager.ProtectionStatus()))
}

func (s *Service) accountEquity(ctx context.Context) (float64, error) {
	rctx, cancel := context.WithTimeout(ctx, bootTimeout)
	defer cancel()
	return s.client.AccountEquity(rctx)
}

func (s *Service) printStartupInfo() {
	journalPath := s.cfg.Journal.Path
	if journalPath == "" {
		journalPath = "disabled"
	}
	statePath := s.cfg.State.Path
	if statePath == "" {
		statePath = "disabled"
	}
	monitorAddr := "disabled"
	if s.cfg.Monitoring.Enabled {
		monitorAddr = s.cfg.Monitoring.ListenAddr
	}
	alerts := "log"
	if n := s.cfg.Notifications; n != nil && n.Enabled {
		alerts = "telegram"
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("RISK GUARD INITIALIZATION")
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"🏪 Exchange", fmt.Sprintf("bybit (%s)", s.client.Environment())},
		{"💰 Equity", fmt.Sprintf("$%.2f", s.manager.GetPortfolioStatus().Equity)},
		{"🚦 Breaker", s.manager.BreakerStatus().State.String()},
		{"📔 Journal", journalPath},
		{"💾 Breaker State", statePath},
		{"📡 Monitoring", monitorAddr},
		{"🔔 Alerts", alerts},
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, WidthMax: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 30, WidthMax: 40, Align: text.AlignLeft},
	})

	t.Render()
	fmt.Println()
}

func (s *Service) printRiskLimits() {
	r := s.cfg.Risk

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("RISK LIMITS")
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"🎯 Min Confidence", fmt.Sprintf("%.0f%%", r.MinConfidence*100)},
		{"🛑 Stop Loss Range", fmt.Sprintf("%.2f%% - %.2f%%", r.MinStopLossPct*100, r.MaxStopLossPct*100)},
		{"📊 Max Positions", fmt.Sprintf("%d", r.Limits.MaxOpenPositions)},
		{"📏 Max Position Size", fmt.Sprintf("%.0f%% of equity", r.Limits.MaxSinglePositionPct*100)},
		{"📈 Max Exposure", fmt.Sprintf("%.0f%% of equity", r.Limits.MaxTotalExposurePct*100)},
		{"⚡ Leverage Cap", fmt.Sprintf("up to %.0fx (symbol tiers apply)", r.Tiers.Default)},
	})

	t.AppendSeparator()

	resetMode := "auto re-arm next day"
	if r.Breaker.RequireManualReset {
		resetMode = "manual reset"
	}
	t.AppendRows([]table.Row{
		{"🚨 Daily Loss Limit", fmt.Sprintf("%.1f%% (%s)", r.Breaker.DailyLossLimitPct*100, resetMode)},
		{"💥 Catastrophic Move", fmt.Sprintf("%.0f%%", r.Protection.CatastrophicLossPct*100)},
		{"🧮 Kelly Fraction", fmt.Sprintf("%.2f", r.Sizing.FractionalKelly)},
		{"🔗 Correlation Warn", fmt.Sprintf("%.2f", r.Correlation.Threshold)},
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 20, WidthMax: 20, Align: text.AlignLeft},
		{Number: 2, WidthMin: 28, WidthMax: 38, Align: text.AlignLeft},
	})

	t.Render()
	fmt.Println()
}

func closeQuietly(jrnl journal.Journal, log *logger.Logger) {
	_ = jrnl.Close()
	log.Close()
}
