package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"tradepilot/internal/config"
	"tradepilot/internal/indicator"
	"tradepilot/internal/journal"
	"tradepilot/internal/market"
	"tradepilot/internal/repository"
	"tradepilot/internal/risk"
	"tradepilot/internal/strategy"
	"tradepilot/internal/trading"
)

type fakeGateway struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (g *fakeGateway) Initialize(_ context.Context) error { return nil }

func (g *fakeGateway) FetchOHLCV(_ context.Context, _, _ string, limit int) ([]market.Candle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	call := g.calls
	g.calls++
	if call < len(g.errs) && g.errs[call] != nil {
		return nil, g.errs[call]
	}
	candles := make([]market.Candle, 0, limit)
	base := time.UnixMilli(1700000000000)
	for i := 0; i < limit; i++ {
		price := 50000 + float64(i)
		candles = append(candles, market.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      price,
			High:      price + 10,
			Low:       price - 10,
			Close:     price + 5,
			Volume:    1,
		})
	}
	return candles, nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeTrader struct {
	mu       sync.Mutex
	requests []trading.OrderRequest
	err      error
}

func (t *fakeTrader) CreateOrder(_ context.Context, req trading.OrderRequest) (trading.Order, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return trading.Order{}, t.err
	}
	t.requests = append(t.requests, req)
	return trading.Order{
		ID:       fmt.Sprintf("order-%d", len(t.requests)),
		Exchange: req.Exchange,
		Symbol:   req.Symbol,
		Side:     req.Side,
		Type:     req.Type,
		Status:   "submitted",
		Quantity: req.Quantity,
	}, nil
}

func (t *fakeTrader) requestCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests)
}

type stubStrategy struct {
	signal strategy.Signal
	err    error
}

func (s *stubStrategy) Name() string                                     { return "stub" }
func (s *stubStrategy) ValidateParams(_ map[string]interface{}) error    { return nil }
func (s *stubStrategy) ResetState()                                      {}
func (s *stubStrategy) GenerateSignal(_ context.Context, _ market.Table, _ map[string][]float64, _ map[string]interface{}) (strategy.Signal, error) {
	return s.signal, s.err
}

func newTestRunner(t *testing.T, trader trading.Service, monitor *risk.Monitor) *Runner {
	t.Helper()
	runner, err := NewRunner(RunnerOptions{
		Indicators:  indicator.NewRegistry(),
		Cache:       indicator.NewMemoryCache(0),
		Trader:      trader,
		Monitor:     monitor,
		MaxRetries:  3,
		CandleLimit: 50,
	}, nil)
	if err != nil {
		t.Fatalf("NewRunner returned error: %v", err)
	}
	runner.backoff = func(int) time.Duration { return time.Millisecond }
	return runner
}

func newBuyContext(gateway market.Gateway, plugin strategy.Strategy) *ExecutionContext {
	return &ExecutionContext{
		Record: repository.StrategyRecord{ID: 1, Name: "test", PluginName: "stub"},
		Params: Params{
			Exchange:  "binance",
			Symbol:    "BTC/USDT",
			Timeframe: "1m",
			Quantity:  "0.5",
		},
		Plugin:  plugin,
		Gateway: gateway,
	}
}

func TestRunner_ValidationErrorNotRetried(t *testing.T) {
	gateway := &fakeGateway{errs: []error{
		fmt.Errorf("%w: bad symbol", market.ErrValidation),
	}}
	runner := newTestRunner(t, &fakeTrader{}, nil)

	ec := newBuyContext(gateway, &stubStrategy{signal: strategy.Hold()})
	runner.Run(context.Background(), ec)

	if ec.Err == nil {
		t.Fatalf("expected error on context")
	}
	if !errors.Is(ec.Err, market.ErrValidation) {
		t.Fatalf("expected validation error, got %v", ec.Err)
	}
	if gateway.callCount() != 1 {
		t.Fatalf("validation error must not be retried, got %d calls", gateway.callCount())
	}
}

func TestRunner_TransientErrorsRetriedThenSucceed(t *testing.T) {
	gateway := &fakeGateway{errs: []error{
		errors.New("connection reset"),
		errors.New("connection reset"),
	}}
	runner := newTestRunner(t, &fakeTrader{}, nil)

	ec := newBuyContext(gateway, &stubStrategy{signal: strategy.Hold()})
	runner.Run(context.Background(), ec)

	if ec.Err != nil {
		t.Fatalf("expected clean run after retries, got %v", ec.Err)
	}
	if gateway.callCount() != 3 {
		t.Fatalf("expected 3 fetch attempts, got %d", gateway.callCount())
	}
	if ec.Table.Len() != 50 {
		t.Fatalf("expected 50 candles in table, got %d", ec.Table.Len())
	}
}

func TestRunner_ExhaustedRetriesFail(t *testing.T) {
	gateway := &fakeGateway{errs: []error{
		errors.New("down"), errors.New("down"), errors.New("down"), errors.New("down"),
	}}
	runner := newTestRunner(t, &fakeTrader{}, nil)

	ec := newBuyContext(gateway, &stubStrategy{signal: strategy.Hold()})
	runner.Run(context.Background(), ec)

	if ec.Err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	// 首次尝试 + 3 次重试
	if gateway.callCount() != 4 {
		t.Fatalf("expected 4 fetch attempts, got %d", gateway.callCount())
	}
}

func TestRunner_HoldSignalDoesNotTrade(t *testing.T) {
	trader := &fakeTrader{}
	runner := newTestRunner(t, trader, nil)

	ec := newBuyContext(&fakeGateway{}, &stubStrategy{signal: strategy.Hold()})
	runner.Run(context.Background(), ec)

	if ec.Err != nil {
		t.Fatalf("expected clean run, got %v", ec.Err)
	}
	if trader.requestCount() != 0 {
		t.Fatalf("hold signal must not create orders")
	}
}

func TestRunner_DryRunSkipsOrder(t *testing.T) {
	trader := &fakeTrader{}
	runner := newTestRunner(t, trader, nil)

	ec := newBuyContext(&fakeGateway{}, &stubStrategy{signal: strategy.Signal{Action: strategy.ActionBuy, Strength: 0.8}})
	ec.Params.DryRun = true
	runner.Run(context.Background(), ec)

	if ec.Err != nil {
		t.Fatalf("expected clean run, got %v", ec.Err)
	}
	if trader.requestCount() != 0 {
		t.Fatalf("dry run must not create orders")
	}
}

func TestRunner_BuySignalSubmitsMarketOrder(t *testing.T) {
	trader := &fakeTrader{}
	runner := newTestRunner(t, trader, nil)

	ec := newBuyContext(&fakeGateway{}, &stubStrategy{signal: strategy.Signal{Action: strategy.ActionBuy, Strength: 0.8}})
	runner.Run(context.Background(), ec)

	if ec.Err != nil {
		t.Fatalf("expected clean run, got %v", ec.Err)
	}
	if trader.requestCount() != 1 {
		t.Fatalf("expected single order, got %d", trader.requestCount())
	}
	req := trader.requests[0]
	if req.Type != trading.OrderTypeMarket || req.Side != trading.OrderSideBuy {
		t.Fatalf("expected market buy, got %s %s", req.Type, req.Side)
	}
	if req.Quantity.String() != "0.5" {
		t.Fatalf("expected quantity 0.5, got %s", req.Quantity)
	}
	if ec.Order == nil || ec.Order.ID == "" {
		t.Fatalf("expected order on context")
	}
}

func TestRunner_TradeFailureDoesNotAbortRecording(t *testing.T) {
	trader := &fakeTrader{err: errors.New("exchange rejected")}
	runner := newTestRunner(t, trader, nil)

	ec := newBuyContext(&fakeGateway{}, &stubStrategy{signal: strategy.Signal{Action: strategy.ActionSell, Strength: 0.6}})
	runner.Run(context.Background(), ec)

	if ec.Err == nil {
		t.Fatalf("expected trade failure on context for breaker accounting")
	}
	if ec.Order != nil {
		t.Fatalf("expected no order after failure")
	}
}

func TestRunner_RiskCheckBlocksOrder(t *testing.T) {
	cfg := riskTestConfig()
	engine, err := risk.NewEngine(cfg, nil)
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}
	engine.PauseTrading()
	monitor := risk.NewMonitor(engine, cfg, nil, risk.MonitorOptions{})

	trader := &fakeTrader{}
	runner := newTestRunner(t, trader, monitor)

	ec := newBuyContext(&fakeGateway{}, &stubStrategy{signal: strategy.Signal{Action: strategy.ActionBuy, Strength: 0.9}})
	runner.Run(context.Background(), ec)

	if ec.Err != nil {
		t.Fatalf("blocked trade is not an error, got %v", ec.Err)
	}
	if trader.requestCount() != 0 {
		t.Fatalf("blocked trade must not reach the trading service")
	}
	if len(monitor.History()) == 0 {
		t.Fatalf("expected block evaluation recorded in history")
	}
}

func TestRunner_UnknownIndicatorSkipped(t *testing.T) {
	trader := &fakeTrader{}
	runner := newTestRunner(t, trader, nil)

	ec := newBuyContext(&fakeGateway{}, &stubStrategy{signal: strategy.Hold()})
	ec.Params.Indicators = []IndicatorSpec{
		{Name: "nonexistent", Params: map[string]interface{}{"period": 14}},
		{Name: "sma", Alias: "sma_20", Params: map[string]interface{}{"period": 20}},
	}
	runner.Run(context.Background(), ec)

	if ec.Err != nil {
		t.Fatalf("indicator failure must not abort the run, got %v", ec.Err)
	}
	if _, ok := ec.Indicators["nonexistent"]; ok {
		t.Fatalf("failed indicator should not appear in results")
	}
	if _, ok := ec.Indicators["sma_20"]; !ok {
		t.Fatalf("expected sma_20 computed, got %v", ec.Indicators)
	}
}

func TestBackoffDelay_Capped(t *testing.T) {
	cases := map[int]time.Duration{
		1: 2 * time.Second,
		2: 4 * time.Second,
		4: 16 * time.Second,
		5: 30 * time.Second,
		8: 30 * time.Second,
	}
	for attempt, want := range cases {
		if got := backoffDelay(attempt); got != want {
			t.Errorf("backoffDelay(%d)=%s want %s", attempt, got, want)
		}
	}
}

var _ ExecutionRecorder = (*journal.Journal)(nil)

func riskTestConfig() config.RiskConfig {
	return config.RiskConfig{
		StopLoss:   config.StopLossConfig{Enabled: true, Percentage: 2.0},
		TakeProfit: config.TakeProfitConfig{Enabled: true, Percentage: 5.0},
		ExposureLimit: config.ExposureLimitConfig{
			Enabled:        true,
			MaxPerAsset:    10000,
			MaxPerExchange: 30000,
			MaxTotal:       50000,
		},
		MaxConcurrentTrades: config.MaxConcurrentTradesConfig{
			Enabled:        true,
			MaxPerAsset:    2,
			MaxPerExchange: 5,
			MaxTrades:      10,
		},
		DrawdownControl: config.DrawdownControlConfig{
			Enabled:                 true,
			MaxDrawdownPercentage:   15.0,
			PauseOnBreach:           true,
			EmergencyExitEnabled:    true,
			EmergencyExitPercentage: 20.0,
		},
		CheckInterval: 30 * time.Second,
	}
}
