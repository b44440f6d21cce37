// Package store 实现成交记录的 SQLite 持久化。
// 用于离线复盘与重启后的绩效回填；写入失败只记录日志，不影响交易周期。
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"grid-strategy-engine/internal/core/model"
)

// Repository 成交记录仓库
type Repository interface {
	// Init 建表（幂等）
	Init(ctx context.Context) error
	// InsertTrade 写入一条成交记录
	InsertTrade(ctx context.Context, rec model.TradeRecord) error
	// RecentTrades 按时间倒序读取最近 limit 条成交
	RecentTrades(ctx context.Context, symbol string, limit int) ([]model.TradeRecord, error)
	// Close 关闭底层连接
	Close() error
}

// SQLiteRepository 基于 SQLite 的成交记录仓库
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository 创建 SQLite 仓库
// 参数 path: 数据库文件路径（目录不存在时自动创建）
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开 SQLite 失败: %w", err)
	}

	// modernc/sqlite 单写者限制
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &SQLiteRepository{db: db}, nil
}

// Close 关闭底层连接
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Init 建表（幂等）
func (r *SQLiteRepository) Init(ctx context.Context) error {
	stmt := `CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		price REAL NOT NULL,
		quote_amount REAL NOT NULL,
		base_amount REAL NOT NULL,
		realized_profit REAL NOT NULL,
		reason TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol_time ON trades(symbol, created_at DESC);`

	if _, err := r.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("初始化 trades 表失败: %w", err)
	}
	return nil
}

// InsertTrade 写入一条成交记录
func (r *SQLiteRepository) InsertTrade(ctx context.Context, rec model.TradeRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO trades (id, symbol, side, price, quote_amount, base_amount, realized_profit, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Symbol, rec.Side, rec.Price, rec.QuoteAmount, rec.BaseAmount,
		rec.RealizedProfit, rec.Reason, rec.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("写入成交记录失败: %w", err)
	}
	return nil
}

// RecentTrades 按时间倒序读取最近 limit 条成交
func (r *SQLiteRepository) RecentTrades(ctx context.Context, symbol string, limit int) ([]model.TradeRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, symbol, side, price, quote_amount, base_amount, realized_profit, reason, created_at
		 FROM trades WHERE symbol = ? ORDER BY created_at DESC LIMIT ?`,
		symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("查询成交记录失败: %w", err)
	}
	defer rows.Close()

	var out []model.TradeRecord
	for rows.Next() {
		var rec model.TradeRecord
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.Symbol, &rec.Side, &rec.Price, &rec.QuoteAmount,
			&rec.BaseAmount, &rec.RealizedProfit, &rec.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("扫描成交记录失败: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			rec.CreatedAt = ts
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
