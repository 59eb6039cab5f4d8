package execution

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"tradebot-v1/internal/model"
	"tradebot-v1/internal/state"
)

// Journal persists trade records and recovery events to SQLite for audit and
// for restoring the ledger window on restart.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string, log *zap.Logger) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id    TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		side        TEXT NOT NULL,
		price       REAL NOT NULL,
		quantity    REAL NOT NULL,
		fee         REAL DEFAULT 0,
		mode        TEXT NOT NULL,
		pnl         REAL DEFAULT 0,
		pnl_percent REAL DEFAULT 0,
		status      TEXT NOT NULL,
		forced      INTEGER DEFAULT 0,
		traded_at   TEXT NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
	CREATE INDEX IF NOT EXISTS idx_trades_traded_at ON trades(traded_at);

	CREATE TABLE IF NOT EXISTS recovery_events (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		action      TEXT NOT NULL,
		kind        TEXT NOT NULL,
		symbol      TEXT,
		reason      TEXT,
		applied     INTEGER DEFAULT 0,
		detail      TEXT,
		at          TEXT NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: schema: %w", err)
	}

	log.Info("opened trade journal", zap.String("path", dbPath))
	return &Journal{db: db}, nil
}

// RecordTrade persists a trade record.
func (j *Journal) RecordTrade(rec model.TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	forced := 0
	if rec.Forced {
		forced = 1
	}
	_, err := j.db.Exec(
		`INSERT INTO trades (order_id, symbol, side, price, quantity, fee, mode, pnl, pnl_percent, status, forced, traded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.OrderID,
		rec.Symbol,
		string(rec.Side),
		rec.Price,
		rec.Quantity,
		rec.Fee,
		string(rec.Mode),
		rec.PnL,
		rec.PnLPercent,
		string(rec.Status),
		forced,
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// RecordRecovery persists an applied recovery action.
func (j *Journal) RecordRecovery(ev state.RecoveryEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	applied := 0
	if ev.Applied {
		applied = 1
	}
	_, err := j.db.Exec(
		`INSERT INTO recovery_events (action, kind, symbol, reason, applied, detail, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(ev.Action.Type),
		string(ev.Action.Kind),
		ev.Action.Symbol,
		ev.Action.Reason,
		applied,
		ev.Detail,
		ev.At.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// RecentTrades returns the last limit FILLED trades, oldest first, ready for
// portfolio.Ledger.Restore. Failed submits stay in the journal only.
func (j *Journal) RecentTrades(limit int) ([]model.TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT order_id, symbol, side, price, quantity, fee, mode, pnl, pnl_percent, status, forced, traded_at
		 FROM (SELECT * FROM trades WHERE status = ? ORDER BY id DESC LIMIT ?) ORDER BY id ASC`,
		string(model.TradeFilled), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.TradeRecord
	for rows.Next() {
		var (
			t              model.TradeRecord
			side, mode, st string
			forced         int
			ts             string
		)
		if err := rows.Scan(&t.OrderID, &t.Symbol, &side, &t.Price, &t.Quantity, &t.Fee,
			&mode, &t.PnL, &t.PnLPercent, &st, &forced, &ts); err != nil {
			return nil, err
		}
		t.Side, t.Mode, t.Status, t.Forced = model.Side(side), model.Mode(mode), model.TradeStatus(st), forced == 1
		if t.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("journal: trade time %q: %w", ts, err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// RecoveryCount returns the number of stored recovery events.
func (j *Journal) RecoveryCount() (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var n int
	err := j.db.QueryRow(`SELECT COUNT(*) FROM recovery_events`).Scan(&n)
	return n, err
}

// DB exposes the handle for health probes.
func (j *Journal) DB() *sql.DB { return j.db }

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
