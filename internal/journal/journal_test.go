package journal

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradepilot/internal/config"
	"tradepilot/internal/position"
	"tradepilot/internal/risk"
	"tradepilot/internal/store"
	"tradepilot/internal/trading"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	st, err := store.NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 1, MaxIdleConns: 1})
	if err != nil {
		t.Fatalf("初始化内存库失败: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	j, err := New(st, nil)
	if err != nil {
		t.Fatalf("journal.New 失败: %v", err)
	}
	return j
}

func countEvents(t *testing.T, j *Journal, eventType EventType) int {
	t.Helper()
	var count int
	err := j.db.QueryRow(
		`SELECT COUNT(*) FROM journal_events WHERE event_type = ?`, string(eventType),
	).Scan(&count)
	if err != nil {
		t.Fatalf("统计事件失败: %v", err)
	}
	return count
}

func lastPayload(t *testing.T, j *Journal, eventType EventType) map[string]interface{} {
	t.Helper()
	var raw string
	err := j.db.QueryRow(
		`SELECT payload FROM journal_events WHERE event_type = ? ORDER BY id DESC LIMIT 1`,
		string(eventType),
	).Scan(&raw)
	if err != nil {
		t.Fatalf("读取事件失败: %v", err)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("事件载荷不是合法 JSON: %v", err)
	}
	return payload
}

func TestRecordEvaluation_PersistsRuleAndPosition(t *testing.T) {
	j := newTestJournal(t)
	pos := position.Position{Symbol: "BTC/USDT", Exchange: "binance", Side: position.SideBuy}
	ev := risk.Evaluation{
		ID:             7,
		Action:         risk.ActionClosePosition,
		Reason:         "止损触发",
		TriggeredRules: []string{risk.RuleStopLoss},
		Position:       &pos,
		EvaluatedAt:    time.Now().UTC(),
	}

	j.RecordEvaluation(context.Background(), ev)

	if got := countEvents(t, j, EventRiskEvaluation); got != 1 {
		t.Fatalf("期望 1 条评估事件, got %d", got)
	}
	payload := lastPayload(t, j, EventRiskEvaluation)
	if payload["action"] != string(risk.ActionClosePosition) {
		t.Fatalf("动作字段错误: %v", payload["action"])
	}
	if payload["position"] != "binance:BTC/USDT" {
		t.Fatalf("仓位字段错误: %v", payload["position"])
	}
	if payload["evaluation_id"] != float64(7) {
		t.Fatalf("评估 ID 错误: %v", payload["evaluation_id"])
	}
}

func TestRecordExecution_PersistsSummary(t *testing.T) {
	j := newTestJournal(t)

	j.RecordExecution(context.Background(), ExecutionPayload{
		StrategyKey: "1:BTC/USDT:1m",
		Symbol:      "BTC/USDT",
		Timeframe:   "1m",
		Action:      "buy",
		Strength:    "0.8",
		DryRun:      true,
	})

	payload := lastPayload(t, j, EventStrategyExecution)
	if payload["strategy_key"] != "1:BTC/USDT:1m" || payload["dry_run"] != true {
		t.Fatalf("执行摘要字段错误: %v", payload)
	}
	if _, exists := payload["error"]; exists {
		t.Fatal("无错误时 error 字段应当省略")
	}
}

func TestRecordOrder_PersistsDecimalAsString(t *testing.T) {
	j := newTestJournal(t)

	j.RecordOrder(context.Background(), trading.Order{
		ID:        "sim-1",
		Exchange:  "binance",
		Symbol:    "BTC/USDT",
		Side:      trading.OrderSideBuy,
		Type:      trading.OrderTypeMarket,
		Status:    "filled",
		Quantity:  decimal.NewFromFloat(0.5),
		Price:     decimal.NewFromInt(50000),
		CreatedAt: time.Now().UTC(),
		Simulated: true,
	})

	payload := lastPayload(t, j, EventOrderSubmitted)
	if payload["quantity"] != "0.5" {
		t.Fatalf("数量应当以字符串存储: %v", payload["quantity"])
	}
	if payload["simulated"] != true {
		t.Fatalf("模拟标记丢失: %v", payload)
	}
}

func TestRecord_RejectsUnserializablePayload(t *testing.T) {
	j := newTestJournal(t)

	err := j.Record(context.Background(), Event{
		Type:    EventStrategyExecution,
		Payload: func() {},
	})
	if err == nil {
		t.Fatal("不可序列化的载荷应当报错")
	}
}
