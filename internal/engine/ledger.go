package engine

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/meridianlab/gobacktest/internal/logger"
	"github.com/meridianlab/gobacktest/internal/types"
	"github.com/meridianlab/gobacktest/pkg/errors"
	"go.uber.org/zap"
)

// Ledger is the append-only record of one run: every order, fill and risk
// rejection lands here in event order. It is backed by an in-memory DuckDB
// database so finished runs can be queried with SQL and exported to Parquet.
// The live portfolio never reads from the ledger during replay.
type Ledger struct {
	db     *sql.DB
	logger *logger.Logger
	sq     squirrel.StatementBuilderType
	// seq orders same-timestamp events deterministically.
	seq int64
}

// NewLedger opens an in-memory ledger database and creates its tables.
func NewLedger(log *logger.Logger) (*Ledger, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeLedgerFailed, "failed to open ledger database", err)
	}

	ledger := &Ledger{
		db:     db,
		logger: log,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}

	if err := ledger.initialize(); err != nil {
		db.Close()

		return nil, err
	}

	return ledger, nil
}

func (l *Ledger) initialize() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS orders (
			order_id TEXT PRIMARY KEY,
			symbol TEXT,
			side TEXT,
			order_type TEXT,
			quantity DOUBLE,
			requested_price DOUBLE,
			limit_price DOUBLE,
			stop_price DOUBLE,
			status TEXT,
			reason TEXT,
			message TEXT,
			strategy_name TEXT,
			created_at TIMESTAMP,
			filled_quantity DOUBLE,
			avg_fill_price DOUBLE,
			fees DOUBLE
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeLedgerFailed, "failed to create orders table", err)
	}

	_, err = l.db.Exec(`
		CREATE TABLE IF NOT EXISTS trades (
			seq BIGINT,
			order_id TEXT,
			symbol TEXT,
			side TEXT,
			quantity DOUBLE,
			price DOUBLE,
			fee DOUBLE,
			executed_at TIMESTAMP,
			reason TEXT,
			message TEXT,
			entry_price DOUBLE,
			entry_time TIMESTAMP,
			pnl DOUBLE
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeLedgerFailed, "failed to create trades table", err)
	}

	_, err = l.db.Exec(`
		CREATE TABLE IF NOT EXISTS rejections (
			seq BIGINT,
			rejected_at TIMESTAMP,
			symbol TEXT,
			action TEXT,
			kind TEXT,
			detail TEXT
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeLedgerFailed, "failed to create rejections table", err)
	}

	return nil
}

// RecordOrder inserts or replaces the order's current state.
func (l *Ledger) RecordOrder(order types.Order) error {
	// DuckDB upsert keeps one row per order across status transitions.
	_, err := l.db.Exec(`
		INSERT OR REPLACE INTO orders (
			order_id, symbol, side, order_type, quantity, requested_price,
			limit_price, stop_price, status, reason, message, strategy_name,
			created_at, filled_quantity, avg_fill_price, fees
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.Symbol, string(order.Side), string(order.Type),
		order.Quantity, order.RequestedPrice, order.LimitPrice, order.StopPrice,
		string(order.Status), order.Reason.Reason, order.Reason.Message,
		order.StrategyName, order.CreatedAt, order.FilledQuantity,
		order.AvgFillPrice, order.Fees,
	)
	if err != nil {
		return errors.Wrap(errors.ErrCodeLedgerFailed, "failed to record order", err)
	}

	return nil
}

// RecordTrade appends one executed fill.
func (l *Ledger) RecordTrade(trade types.Trade) error {
	l.seq++

	insertQuery := l.sq.
		Insert("trades").
		Columns(
			"seq", "order_id", "symbol", "side", "quantity", "price", "fee",
			"executed_at", "reason", "message", "entry_price", "entry_time", "pnl",
		).
		Values(
			l.seq, trade.OrderID, trade.Symbol, string(trade.Side), trade.Quantity,
			trade.Price, trade.Fee, trade.ExecutedAt, trade.Reason.Reason,
			trade.Reason.Message, trade.EntryPrice, trade.EntryTime, trade.PnL,
		).
		RunWith(l.db)

	if _, err := insertQuery.Exec(); err != nil {
		return errors.Wrap(errors.ErrCodeLedgerFailed, "failed to record trade", err)
	}

	return nil
}

// RecordRejection appends one risk rejection.
func (l *Ledger) RecordRejection(rejection types.RiskRejection) error {
	l.seq++

	insertQuery := l.sq.
		Insert("rejections").
		Columns("seq", "rejected_at", "symbol", "action", "kind", "detail").
		Values(l.seq, rejection.Time, rejection.Symbol, string(rejection.Action),
			string(rejection.Kind), rejection.Detail).
		RunWith(l.db)

	if _, err := insertQuery.Exec(); err != nil {
		return errors.Wrap(errors.ErrCodeLedgerFailed, "failed to record rejection", err)
	}

	return nil
}

// Trades returns all recorded fills in execution order.
func (l *Ledger) Trades() ([]types.Trade, error) {
	selectQuery := l.sq.
		Select(
			"order_id", "symbol", "side", "quantity", "price", "fee",
			"executed_at", "reason", "message", "entry_price", "entry_time", "pnl",
		).
		From("trades").
		OrderBy("seq ASC").
		RunWith(l.db)

	rows, err := selectQuery.Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeLedgerFailed, "failed to query trades", err)
	}
	defer rows.Close()

	var trades []types.Trade

	for rows.Next() {
		var trade types.Trade

		var side string

		err := rows.Scan(
			&trade.OrderID, &trade.Symbol, &side, &trade.Quantity,
			&trade.Price, &trade.Fee, &trade.ExecutedAt, &trade.Reason.Reason,
			&trade.Reason.Message, &trade.EntryPrice, &trade.EntryTime, &trade.PnL,
		)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeLedgerFailed, "failed to scan trade", err)
		}

		trade.Side = types.OrderSide(side)
		trades = append(trades, trade)
	}

	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeLedgerFailed, "error iterating trades", err)
	}

	return trades, nil
}

// Rejections returns all recorded risk rejections in event order.
func (l *Ledger) Rejections() ([]types.RiskRejection, error) {
	selectQuery := l.sq.
		Select("rejected_at", "symbol", "action", "kind", "detail").
		From("rejections").
		OrderBy("seq ASC").
		RunWith(l.db)

	rows, err := selectQuery.Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeLedgerFailed, "failed to query rejections", err)
	}
	defer rows.Close()

	var rejections []types.RiskRejection

	for rows.Next() {
		var rejection types.RiskRejection

		var action, kind string

		err := rows.Scan(&rejection.Time, &rejection.Symbol, &action, &kind, &rejection.Detail)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeLedgerFailed, "failed to scan rejection", err)
		}

		rejection.Action = types.SignalAction(action)
		rejection.Kind = types.RejectionKind(kind)
		rejections = append(rejections, rejection)
	}

	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeLedgerFailed, "error iterating rejections", err)
	}

	return rejections, nil
}

// TotalFees sums the fees across all recorded fills.
func (l *Ledger) TotalFees() (float64, error) {
	row := l.sq.
		Select("COALESCE(SUM(fee), 0)").
		From("trades").
		RunWith(l.db).
		QueryRow()

	var total float64
	if err := row.Scan(&total); err != nil {
		return 0, errors.Wrap(errors.ErrCodeLedgerFailed, "failed to sum fees", err)
	}

	return total, nil
}

// Write exports the ledger tables to Parquet files in the given directory.
func (l *Ledger) Write(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return errors.Wrap(errors.ErrCodeLedgerFailed, "failed to create output directory", err)
	}

	// Raw SQL: squirrel has no COPY syntax.
	for _, table := range []string{"orders", "trades", "rejections"} {
		target := filepath.Join(path, table+".parquet")

		_, err := l.db.Exec(fmt.Sprintf(`COPY %s TO '%s' (FORMAT PARQUET)`, table, target))
		if err != nil {
			return errors.Wrapf(errors.ErrCodeLedgerFailed, err, "failed to export %s to Parquet", table)
		}
	}

	l.logger.Info("exported ledger to Parquet", zap.String("path", path))

	return nil
}

// Cleanup drops and recreates the ledger tables.
func (l *Ledger) Cleanup() error {
	_, err := l.db.Exec(`
		DROP TABLE IF EXISTS trades;
		DROP TABLE IF EXISTS orders;
		DROP TABLE IF EXISTS rejections;
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeLedgerFailed, "failed to drop ledger tables", err)
	}

	return l.initialize()
}

// Close releases the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
