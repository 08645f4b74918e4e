package recorder

import (
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"LegSentinel/internal/model"
)

var log = logrus.WithField("component", "recorder")

// SQLiteRecorder persists the trade journal to a SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "set WAL mode")
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate")
	}

	log.WithField("path", dbPath).Info("sqlite recorder opened")
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp  INTEGER NOT NULL,
			date       TEXT,
			event_type TEXT NOT NULL,
			leg_id     TEXT,
			symbol     TEXT,
			side       TEXT,
			quantity   INTEGER,
			price      REAL,
			pnl        REAL,
			order_id   TEXT,
			note       TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_date ON trades(date)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp          INTEGER NOT NULL,
			date               TEXT,
			reason             TEXT,
			booked_pnl         REAL,
			lock_level         REAL,
			trade_history      TEXT,
			completed_legs     TEXT,
			recoveries_started INTEGER,
			recoveries_opened  INTEGER,
			recoveries_skipped INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_date ON sessions(date)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return errors.Wrapf(err, "exec %q", s[:40])
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordTrade(evt *TradeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := evt.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := r.db.Exec(`INSERT INTO trades
		(timestamp, date, event_type, leg_id, symbol, side, quantity, price, pnl, order_id, note)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		ts.Unix(), evt.Date, evt.Type, evt.LegID, evt.Symbol, string(evt.Side),
		evt.Quantity, evt.Price, evt.PnL, evt.OrderID, evt.Note,
	)
	return errors.Wrap(err, "insert trade")
}

func (r *SQLiteRecorder) RecordSession(sum *model.Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	completed := make([]string, 0, len(sum.Exits))
	for _, e := range sum.Exits {
		completed = append(completed, e.LegID+":"+string(e.Status))
	}
	ts := sum.FinishedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := r.db.Exec(`INSERT INTO sessions
		(timestamp, date, reason, booked_pnl, lock_level, trade_history, completed_legs,
		 recoveries_started, recoveries_opened, recoveries_skipped)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		ts.Unix(), sum.Date, sum.Reason, sum.BookedPnL, sum.LockLevel,
		strings.Join(sum.TradeHistory, ","), strings.Join(completed, ","),
		sum.RecoveriesStarted, sum.RecoveriesOpened, sum.RecoveriesSkipped,
	)
	return errors.Wrap(err, "insert session")
}

func (r *SQLiteRecorder) Close() error {
	log.Info("closing sqlite recorder")
	return r.db.Close()
}
