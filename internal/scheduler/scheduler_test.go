package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"tradepilot/internal/config"
	"tradepilot/internal/market"
	"tradepilot/internal/repository"
	"tradepilot/internal/strategy"
)

type fakeRepo struct {
	records []repository.StrategyRecord
	err     error
}

func (r *fakeRepo) GetActiveStrategies(_ context.Context) ([]repository.StrategyRecord, error) {
	return r.records, r.err
}

func schedulerConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		MaxConcurrentStrategies: 4,
		MaxRetries:              3,
		MaxConsecutiveErrors:    3,
		CandleLimit:             50,
	}
}

func TestTimeframeSeconds(t *testing.T) {
	cases := map[string]int64{
		"1m":      60,
		"5m":      300,
		"1h":      3600,
		"1d":      86400,
		"unknown": 60,
		"":        60,
	}
	for tf, want := range cases {
		if got := TimeframeSeconds(tf); got != want {
			t.Errorf("TimeframeSeconds(%q)=%d want %d", tf, got, want)
		}
	}
}

func TestParseParams(t *testing.T) {
	raw := `{
		"exchange": "binance",
		"symbol": "BTC/USDT",
		"timeframe": "1h",
		"dry_run": true,
		"quantity": "0.25",
		"indicators": [
			{"name": "ema", "alias": "ema_fast", "params": {"period": 12}},
			{"name": "ema", "alias": "ema_slow", "params": {"period": 26}}
		],
		"strategy": {"fast_key": "ema_fast", "slow_key": "ema_slow"}
	}`

	params, err := ParseParams(raw)
	if err != nil {
		t.Fatalf("ParseParams returned error: %v", err)
	}
	if params.Exchange != "binance" || params.Symbol != "BTC/USDT" || params.Timeframe != "1h" {
		t.Fatalf("unexpected identity fields: %+v", params)
	}
	if !params.DryRun {
		t.Fatalf("expected dry_run=true")
	}
	if len(params.Indicators) != 2 || params.Indicators[0].Key() != "ema_fast" {
		t.Fatalf("unexpected indicators: %+v", params.Indicators)
	}

	qty, err := params.OrderQuantity(strategy.Hold())
	if err != nil {
		t.Fatalf("OrderQuantity returned error: %v", err)
	}
	if qty.String() != "0.25" {
		t.Fatalf("expected quantity 0.25, got %s", qty)
	}
}

func TestParseParams_MissingExchange(t *testing.T) {
	if _, err := ParseParams(`{"symbol": "BTC/USDT"}`); err == nil {
		t.Fatalf("expected error for missing exchange")
	}
}

func TestOrderQuantity_SignalOverride(t *testing.T) {
	params := Params{Quantity: "1.0"}
	sig := strategy.Signal{Action: strategy.ActionBuy, Metadata: map[string]string{"quantity": "0.1"}}

	qty, err := params.OrderQuantity(sig)
	if err != nil {
		t.Fatalf("OrderQuantity returned error: %v", err)
	}
	if qty.String() != "0.1" {
		t.Fatalf("expected signal metadata to win, got %s", qty)
	}
}

func TestScheduler_ReadinessByTimeframe(t *testing.T) {
	s := NewScheduler(schedulerConfig(), &fakeRepo{}, market.NewRegistry(), strategy.NewRegistry(), nil, nil)

	t0 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ec := &ExecutionContext{
		Record: repository.StrategyRecord{ID: 1},
		Params: Params{Symbol: "BTC/USDT", Timeframe: "1h"},
	}
	s.states[ec.Key()] = &jobState{lastRun: t0}

	s.now = func() time.Time { return t0.Add(1800 * time.Second) }
	if s.ready(ec) {
		t.Fatalf("1h strategy must not be ready after 1800s")
	}

	s.now = func() time.Time { return t0.Add(3600 * time.Second) }
	if !s.ready(ec) {
		t.Fatalf("1h strategy must be ready after 3600s")
	}
}

func TestScheduler_NeverRunIsReadyImmediately(t *testing.T) {
	s := NewScheduler(schedulerConfig(), &fakeRepo{}, market.NewRegistry(), strategy.NewRegistry(), nil, nil)
	ec := &ExecutionContext{
		Record: repository.StrategyRecord{ID: 7},
		Params: Params{Symbol: "ETH/USDT", Timeframe: "1d"},
	}
	if !s.ready(ec) {
		t.Fatalf("strategy without prior run must be ready")
	}
}

func TestScheduler_CircuitBreakerCountsAndResets(t *testing.T) {
	s := NewScheduler(schedulerConfig(), &fakeRepo{}, market.NewRegistry(), strategy.NewRegistry(), nil, nil)
	ec := &ExecutionContext{
		Record: repository.StrategyRecord{ID: 1},
		Params: Params{Symbol: "BTC/USDT", Timeframe: "1m"},
	}

	for i := 0; i < 3; i++ {
		ec.Err = errors.New("fetch failed")
		s.finish(ec)
	}
	if got := s.ErrorCount(ec.Key()); got != 3 {
		t.Fatalf("expected error count 3, got %d", got)
	}
	if !s.CircuitOpen(ec.Key()) {
		t.Fatalf("expected circuit open after 3 consecutive errors")
	}

	ec.Err = nil
	s.finish(ec)
	if got := s.ErrorCount(ec.Key()); got != 0 {
		t.Fatalf("expected counter reset on clean run, got %d", got)
	}
	if s.CircuitOpen(ec.Key()) {
		t.Fatalf("expected circuit closed after clean run")
	}
}

func TestScheduler_StartTwiceFails(t *testing.T) {
	s := NewScheduler(schedulerConfig(), &fakeRepo{}, market.NewRegistry(), strategy.NewRegistry(), newIdleRunner(t), nil)

	if err := s.Start(); err != nil {
		t.Fatalf("first Start returned error: %v", err)
	}
	if err := s.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	s.Stop()
	if s.Running() {
		t.Fatalf("expected not running after Stop")
	}

	// 停止后可以重新启动
	if err := s.Start(); err != nil {
		t.Fatalf("restart returned error: %v", err)
	}
	s.Stop()
}

func TestScheduler_DispatchesReadyStrategy(t *testing.T) {
	gateway := &fakeGateway{}
	gateways := market.NewRegistry()
	gateways.Register("binance", gateway)

	strategies := strategy.NewRegistry()
	strategies.Register("stub", func() strategy.Strategy {
		return &stubStrategy{signal: strategy.Signal{Action: strategy.ActionBuy, Strength: 0.7}}
	})

	repo := &fakeRepo{records: []repository.StrategyRecord{{
		ID:         1,
		Name:       "btc-test",
		PluginName: "stub",
		ParametersJSON: `{"exchange":"binance","symbol":"BTC/USDT","timeframe":"1m","quantity":"0.5"}`,
		IsActive:   true,
	}}}

	trader := &fakeTrader{}
	runner := newTestRunner(t, trader, nil)

	s := NewScheduler(schedulerConfig(), repo, gateways, strategies, runner, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for trader.requestCount() == 0 {
		select {
		case <-deadline:
			t.Fatalf("strategy was not dispatched within deadline")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func newIdleRunner(t *testing.T) *Runner {
	t.Helper()
	return newTestRunner(t, &fakeTrader{}, nil)
}
