package risk

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradepilot/internal/config"
	"tradepilot/internal/position"
)

type recordingRecorder struct {
	mu   sync.Mutex
	seen []Evaluation
}

func (r *recordingRecorder) RecordEvaluation(_ context.Context, ev Evaluation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, ev)
}

func (r *recordingRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func newTestMonitor(t *testing.T, cfg config.RiskConfig, opts MonitorOptions) *Monitor {
	t.Helper()
	engine := newTestEngine(t, cfg)
	return NewMonitor(engine, cfg, nil, opts)
}

func TestMonitor_StartStopIdempotent(t *testing.T) {
	m := newTestMonitor(t, baseRiskConfig(), MonitorOptions{})

	m.Start()
	if !m.Running() {
		t.Fatalf("expected running after Start")
	}

	// 重复启动与重复停止都应当是无害的空操作
	m.Start()

	m.Stop()
	if m.Running() {
		t.Fatalf("expected stopped after Stop")
	}
	m.Stop()
}

func TestMonitor_TickDispatchesCallbacks(t *testing.T) {
	cfg := baseRiskConfig()
	cfg.CheckInterval = 10 * time.Millisecond

	provider := func(ctx context.Context) ([]position.Position, error) {
		return []position.Position{buyPosition("BTC/USDT", "binance", 50000, 48000, 0.1)}, nil
	}

	m := newTestMonitor(t, cfg, MonitorOptions{PositionProvider: provider})

	fired := make(chan Evaluation, 8)
	m.RegisterCallback(ActionClosePosition, func(ctx context.Context, ev Evaluation) {
		fired <- ev
	})

	m.Start()
	defer m.Stop()

	select {
	case ev := <-fired:
		if ev.TriggeredRules[0] != RuleStopLoss {
			t.Fatalf("expected stop_loss trigger, got %v", ev.TriggeredRules)
		}
		if ev.ID == 0 {
			t.Fatalf("expected evaluation ID assigned on record")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("callback was not invoked within deadline")
	}
}

func TestMonitor_CallbackPanicDoesNotKillLoop(t *testing.T) {
	cfg := baseRiskConfig()
	cfg.CheckInterval = 10 * time.Millisecond

	provider := func(ctx context.Context) ([]position.Position, error) {
		return []position.Position{buyPosition("BTC/USDT", "binance", 50000, 48000, 0.1)}, nil
	}

	m := newTestMonitor(t, cfg, MonitorOptions{PositionProvider: provider})
	m.RegisterCallback(ActionClosePosition, func(ctx context.Context, ev Evaluation) {
		panic("boom")
	})

	m.Start()
	time.Sleep(50 * time.Millisecond)
	if !m.Running() {
		t.Fatalf("expected monitor to survive panicking callback")
	}
	m.Stop()
}

func TestMonitor_CheckNewTradeRecords(t *testing.T) {
	recorder := &recordingRecorder{}
	m := newTestMonitor(t, baseRiskConfig(), MonitorOptions{Recorder: recorder})

	existing := buyPosition("BTC/USDT", "binance", 50000, 50000, 0.15)
	existing.Value = decimal.NewFromFloat(7500)
	m.Engine().UpdatePosition(existing)

	evs := m.CheckNewTrade(context.Background(), "BTC/USDT", "binance", decimal.NewFromFloat(3000))
	if len(evs) == 0 {
		t.Fatalf("expected at least one violation")
	}
	if evs[0].Action != ActionBlockNewTrade {
		t.Fatalf("expected BLOCK_NEW_TRADE, got %s", evs[0].Action)
	}
	if recorder.count() != len(evs) {
		t.Fatalf("expected %d recorded evaluations, got %d", len(evs), recorder.count())
	}
	if len(m.History()) != len(evs) {
		t.Fatalf("expected history length %d, got %d", len(evs), len(m.History()))
	}
}

func TestMonitor_HistoryBounded(t *testing.T) {
	m := newTestMonitor(t, baseRiskConfig(), MonitorOptions{})

	ctx := context.Background()
	total := historyCapacity + 50
	for i := 0; i < total; i++ {
		m.record(ctx, Evaluation{
			Action: ActionBlockNewTrade,
			Reason: fmt.Sprintf("violation %d", i),
		})
	}

	history := m.History()
	if len(history) != historyCapacity {
		t.Fatalf("expected history capped at %d, got %d", historyCapacity, len(history))
	}
	// 最早的 50 条应被淘汰
	if history[0].Reason != "violation 50" {
		t.Fatalf("expected oldest entries dropped, first reason %q", history[0].Reason)
	}
	last := history[len(history)-1]
	if last.ID != int64(total) {
		t.Fatalf("expected monotonically assigned IDs, last=%d want %d", last.ID, total)
	}
}
