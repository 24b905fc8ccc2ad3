package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tradepilot/internal/store"
)

// StrategyRecord 对应 strategies 表中的一行策略配置。
// 交易对、周期、指标声明等细节编码在 ParametersJSON 中。
type StrategyRecord struct {
	ID             int64
	Name           string
	PluginName     string
	ParametersJSON string
	IsActive       bool
	UpdatedAt      time.Time
}

// StrategyRepository 提供调度器需要的策略配置读取能力。
type StrategyRepository interface {
	GetActiveStrategies(ctx context.Context) ([]StrategyRecord, error)
}

// SQLiteStrategyRepository 基于 sqlite 的策略配置仓库。
type SQLiteStrategyRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ StrategyRepository = (*SQLiteStrategyRepository)(nil)

// NewSQLiteStrategyRepository 初始化仓库并创建所需表结构。
func NewSQLiteStrategyRepository(store *store.Store, logger *zap.Logger) (*SQLiteStrategyRepository, error) {
	if store == nil {
		return nil, fmt.Errorf("repository: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &SQLiteStrategyRepository{
		db:     store.DB(),
		logger: logger,
	}

	if err := r.initSchema(); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *SQLiteStrategyRepository) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS strategies (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	plugin_name TEXT NOT NULL,
	parameters_json TEXT NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_strategies_active ON strategies(is_active);
`
	if _, err := r.db.Exec(stmt); err != nil {
		return fmt.Errorf("repository: 初始化表失败: %w", err)
	}
	return nil
}

// GetActiveStrategies 返回全部启用中的策略配置。
func (r *SQLiteStrategyRepository) GetActiveStrategies(ctx context.Context) ([]StrategyRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, plugin_name, parameters_json, is_active, updated_at
		 FROM strategies WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("repository: 查询策略失败: %w", err)
	}
	defer rows.Close()

	var records []StrategyRecord
	for rows.Next() {
		var (
			rec       StrategyRecord
			active    int
			updatedAt string
		)
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.PluginName, &rec.ParametersJSON, &active, &updatedAt); err != nil {
			return nil, fmt.Errorf("repository: 解析策略行失败: %w", err)
		}
		rec.IsActive = active != 0
		if ts, perr := time.Parse(time.RFC3339, updatedAt); perr == nil {
			rec.UpdatedAt = ts
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: 遍历策略行失败: %w", err)
	}

	return records, nil
}

// UpsertStrategy 按名称插入或更新一条策略配置，用于初始化和工具脚本。
func (r *SQLiteStrategyRepository) UpsertStrategy(ctx context.Context, rec StrategyRecord) error {
	if rec.Name == "" || rec.PluginName == "" {
		return fmt.Errorf("repository: 策略名称与插件名不能为空")
	}
	active := 0
	if rec.IsActive {
		active = 1
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO strategies (name, plugin_name, parameters_json, is_active, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			plugin_name = excluded.plugin_name,
			parameters_json = excluded.parameters_json,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		rec.Name, rec.PluginName, rec.ParametersJSON, active, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("repository: 写入策略失败: %w", err)
	}
	return nil
}
