package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"quantfolio/internal/ledger"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders_journal (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    cycle_time    TIMESTAMP NOT NULL,
    ticker        TEXT      NOT NULL,
    quantity      REAL      NOT NULL,
    style         TEXT      NOT NULL,
    stop_price    REAL,
    time_in_force TEXT      NOT NULL,
    created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS transactions_journal (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    trade_id    TEXT      NOT NULL UNIQUE,
    executed_at TIMESTAMP NOT NULL,
    contract    TEXT      NOT NULL,
    quantity    REAL      NOT NULL,
    price       REAL      NOT NULL,
    commission  REAL      NOT NULL,
    created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_orders_journal_cycle ON orders_journal (cycle_time);
CREATE INDEX IF NOT EXISTS idx_transactions_journal_contract ON transactions_journal (contract, executed_at);
`

// Journal 把每个周期生成的订单与回账的成交写入 SQLite，
// 供复盘与对账使用。写入失败不应中断调仓周期，由调用方决定如何处理。
type Journal struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewJournal 基于已打开的存储创建流水记录器。
func NewJournal(s *Store, logger *zap.Logger) *Journal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Journal{db: s.DB(), logger: logger}
}

// RecordOrders 记录一个周期提交的全部订单。
func (j *Journal) RecordOrders(ctx context.Context, cycleTime time.Time, orders []ledger.Order) error {
	if len(orders) == 0 {
		return nil
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: 开启事务失败: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO orders_journal (cycle_time, ticker, quantity, style, stop_price, time_in_force)
        VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: 预编译订单流水失败: %w", err)
	}
	defer stmt.Close()

	for _, order := range orders {
		var stopPrice any
		if order.Style.Kind == ledger.StyleStop {
			stopPrice = order.Style.StopPrice
		}
		if _, err := stmt.ExecContext(ctx,
			cycleTime, order.Ticker.ID(), order.Quantity,
			string(order.Style.Kind), stopPrice, string(order.TIF),
		); err != nil {
			return fmt.Errorf("store: 写入订单流水失败: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: 提交订单流水失败: %w", err)
	}
	j.logger.Debug("订单流水已写入", zap.Int("count", len(orders)))
	return nil
}

// RecordTransactions 记录回账的成交。trade_id 唯一，重复回放同一批
// 成交会被约束拒绝。
func (j *Journal) RecordTransactions(ctx context.Context, transactions []ledger.Transaction) error {
	if len(transactions) == 0 {
		return nil
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: 开启事务失败: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO transactions_journal (trade_id, executed_at, contract, quantity, price, commission)
        VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: 预编译成交流水失败: %w", err)
	}
	defer stmt.Close()

	for _, transaction := range transactions {
		if _, err := stmt.ExecContext(ctx,
			transaction.TradeID, transaction.Time, transaction.Contract.Key(),
			transaction.Quantity, transaction.Price, transaction.Commission,
		); err != nil {
			return fmt.Errorf("store: 写入成交流水失败: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: 提交成交流水失败: %w", err)
	}
	j.logger.Debug("成交流水已写入", zap.Int("count", len(transactions)))
	return nil
}

// OrderRecord 为复盘接口返回的订单流水行。
type OrderRecord struct {
	CycleTime   time.Time `json:"cycle_time"`
	Ticker      string    `json:"ticker"`
	Quantity    float64   `json:"quantity"`
	Style       string    `json:"style"`
	StopPrice   *float64  `json:"stop_price,omitempty"`
	TimeInForce string    `json:"time_in_force"`
}

// TransactionRecord 为复盘接口返回的成交流水行。
type TransactionRecord struct {
	TradeID    string    `json:"trade_id"`
	ExecutedAt time.Time `json:"executed_at"`
	Contract   string    `json:"contract"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Commission float64   `json:"commission"`
}

// ListOrders 返回最近提交的订单，按周期时间倒序。
func (j *Journal) ListOrders(ctx context.Context, limit int) ([]OrderRecord, error) {
	if limit <= 0 {
		limit = 200
	}

	rows, err := j.db.QueryContext(ctx, `
        SELECT cycle_time, ticker, quantity, style, stop_price, time_in_force
        FROM orders_journal ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: 查询订单流水失败: %w", err)
	}
	defer rows.Close()

	var out []OrderRecord
	for rows.Next() {
		var record OrderRecord
		var stopPrice sql.NullFloat64
		if err := rows.Scan(&record.CycleTime, &record.Ticker, &record.Quantity,
			&record.Style, &stopPrice, &record.TimeInForce); err != nil {
			return nil, fmt.Errorf("store: 扫描订单流水失败: %w", err)
		}
		if stopPrice.Valid {
			record.StopPrice = &stopPrice.Float64
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// ListTransactions 返回最近回账的成交，按成交时间倒序。
func (j *Journal) ListTransactions(ctx context.Context, limit int) ([]TransactionRecord, error) {
	if limit <= 0 {
		limit = 200
	}

	rows, err := j.db.QueryContext(ctx, `
        SELECT trade_id, executed_at, contract, quantity, price, commission
        FROM transactions_journal ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: 查询成交流水失败: %w", err)
	}
	defer rows.Close()

	var out []TransactionRecord
	for rows.Next() {
		var record TransactionRecord
		if err := rows.Scan(&record.TradeID, &record.ExecutedAt, &record.Contract,
			&record.Quantity, &record.Price, &record.Commission); err != nil {
			return nil, fmt.Errorf("store: 扫描成交流水失败: %w", err)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}
