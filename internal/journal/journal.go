package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tradepilot/internal/risk"
	"tradepilot/internal/store"
	"tradepilot/internal/trading"
)

// EventType 标识事件类别。
type EventType string

const (
	EventRiskEvaluation    EventType = "risk_evaluation"
	EventStrategyExecution EventType = "strategy_execution"
	EventOrderSubmitted    EventType = "order_submitted"
)

// Event 为待持久化的单条事件。
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   interface{}
}

// ExecutionPayload 记录一次策略运行的结果摘要。
type ExecutionPayload struct {
	StrategyKey string `json:"strategy_key"`
	Symbol      string `json:"symbol"`
	Timeframe   string `json:"timeframe"`
	Action      string `json:"action"`
	Strength    string `json:"strength"`
	DryRun      bool   `json:"dry_run"`
	Error       string `json:"error,omitempty"`
}

// Journal 把风控评估与策略执行事件写入 sqlite。
type Journal struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ risk.Recorder = (*Journal)(nil)

// New 初始化事件日志，创建所需表结构。
func New(store *store.Store, logger *zap.Logger) (*Journal, error) {
	if store == nil {
		return nil, fmt.Errorf("journal: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	j := &Journal{
		db:     store.DB(),
		logger: logger,
	}

	if err := j.initSchema(); err != nil {
		return nil, err
	}

	return j, nil
}

func (j *Journal) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS journal_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_journal_events_type ON journal_events(event_type);
`
	if _, err := j.db.Exec(stmt); err != nil {
		return fmt.Errorf("journal: 初始化表失败: %w", err)
	}
	return nil
}

// Record 写入单个事件。
func (j *Journal) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("journal: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = j.db.ExecContext(ctx,
		`INSERT INTO journal_events (event_type, payload, created_at) VALUES (?, ?, ?)`,
		string(event.Type), string(payload), event.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("journal: 写入事件失败: %w", err)
	}

	return nil
}

// RecordEvaluation 记录一条风控评估，失败只告警不向监控循环传播。
func (j *Journal) RecordEvaluation(ctx context.Context, ev risk.Evaluation) {
	payload := map[string]interface{}{
		"evaluation_id":   ev.ID,
		"action":          string(ev.Action),
		"reason":          ev.Reason,
		"triggered_rules": ev.TriggeredRules,
		"metadata":        ev.Metadata,
		"evaluated_at":    ev.EvaluatedAt.UTC().Format(time.RFC3339),
	}
	if ev.Position != nil {
		payload["position"] = ev.Position.Key()
	}
	if err := j.Record(ctx, Event{
		Type:      EventRiskEvaluation,
		Timestamp: ev.EvaluatedAt,
		Payload:   payload,
	}); err != nil {
		j.logger.Warn("记录风控评估失败", zap.Error(err))
	}
}

// RecordExecution 记录一次策略运行结束。
func (j *Journal) RecordExecution(ctx context.Context, payload ExecutionPayload) {
	if err := j.Record(ctx, Event{
		Type:      EventStrategyExecution,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}); err != nil {
		j.logger.Warn("记录策略执行失败", zap.Error(err))
	}
}

// RecordOrder 记录一笔已提交订单。
func (j *Journal) RecordOrder(ctx context.Context, order trading.Order) {
	if err := j.Record(ctx, Event{
		Type:      EventOrderSubmitted,
		Timestamp: order.CreatedAt,
		Payload: map[string]interface{}{
			"order_id":  order.ID,
			"exchange":  order.Exchange,
			"symbol":    order.Symbol,
			"side":      string(order.Side),
			"type":      string(order.Type),
			"status":    order.Status,
			"quantity":  order.Quantity.String(),
			"price":     order.Price.String(),
			"simulated": order.Simulated,
		},
	}); err != nil {
		j.logger.Warn("记录订单事件失败", zap.Error(err))
	}
}
