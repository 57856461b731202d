package journal

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ducminhle1904/crypto-risk-guard/pkg/types"
)

// SQLite stores the audit trail in a single local database file.
type SQLite struct {
	db *sql.DB
}

var _ Journal = (*SQLite)(nil)

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	// The journal is written from monitor goroutines and the validation
	// path at once; sqlite handles one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordValidation(v types.RiskValidation) error {
	checks, err := json.Marshal(v.Checks)
	if err != nil {
		return err
	}

	_, err = j.db.Exec(`
		INSERT INTO validations
		(time, symbol, decision, confidence, size_pct, leverage, status, checks)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ValidatedAt, v.Signal.Symbol, string(v.Signal.Decision),
		v.Signal.Confidence, v.Signal.SizePct, v.Signal.Leverage,
		string(v.Status), string(checks),
	)
	return err
}

func (j *SQLite) RecordPositionOpened(pos types.PositionInfo) error {
	_, err := j.db.Exec(`
		INSERT INTO positions
		(position_id, symbol, side, quantity, entry_price, leverage, position_value, stop_loss_pct, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pos.ID, pos.Symbol, string(pos.Side), pos.Quantity, pos.EntryPrice,
		pos.Leverage, pos.PositionValue, pos.StopLossPct, pos.OpenedAt,
	)
	return err
}

func (j *SQLite) RecordPositionClosed(pos types.PositionInfo, trigger string, pnl float64) error {
	_, err := j.db.Exec(`
		INSERT INTO closes
		(position_id, symbol, trigger, realized_pnl, closed_at)
		VALUES (?, ?, ?, ?, ?)`,
		pos.ID, pos.Symbol, trigger, pnl, time.Now().UTC(),
	)
	return err
}

func (j *SQLite) RecordBreakerEvent(event, reason string, dailyLossPct float64) error {
	_, err := j.db.Exec(`
		INSERT INTO breaker_events
		(time, event, reason, daily_loss_pct)
		VALUES (?, ?, ?, ?)`,
		time.Now().UTC(), event, reason, dailyLossPct,
	)
	return err
}

// ListClosesBetween returns closed trades with closed_at in [start, end),
// oldest first.
func (j *SQLite) ListClosesBetween(start, end time.Time) ([]types.TradeResult, error) {
	rows, err := j.db.Query(`
		SELECT symbol, realized_pnl, closed_at
		FROM closes
		WHERE closed_at >= ? AND closed_at < ?
		ORDER BY closed_at ASC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.TradeResult
	for rows.Next() {
		var tr types.TradeResult
		if err := rows.Scan(&tr.Symbol, &tr.PnL, &tr.ClosedAt); err != nil {
			return nil, err
		}
		tr.Win = tr.PnL > 0
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
