package risk

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradepilot/internal/config"
	"tradepilot/internal/position"
)

const historyCapacity = 1000

// Callback 在评估给出非空动作时被调用。
type Callback func(ctx context.Context, ev Evaluation)

// PositionProvider 拉取当前持仓列表，通常来自交易所账户。
type PositionProvider func(ctx context.Context) ([]position.Position, error)

// PriceProvider 查询最新价格。
type PriceProvider func(ctx context.Context, exchange, symbol string) (decimal.Decimal, error)

// Recorder 将评估结果落盘，由 journal 包实现。
type Recorder interface {
	RecordEvaluation(ctx context.Context, ev Evaluation)
}

// MonitorOptions 注入监控循环的可选协作方。
type MonitorOptions struct {
	PositionProvider PositionProvider
	PriceProvider    PriceProvider
	Recorder         Recorder
}

// Monitor 周期性刷新仓位并驱动风控引擎，按动作分发回调。
type Monitor struct {
	engine *Engine
	cfg    config.RiskConfig
	logger *zap.Logger
	opts   MonitorOptions

	cbMu      sync.RWMutex
	callbacks map[Action][]Callback

	histMu  sync.Mutex
	history []Evaluation
	evalSeq atomic.Int64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewMonitor 创建风控监控器。
func NewMonitor(engine *Engine, cfg config.RiskConfig, logger *zap.Logger, opts MonitorOptions) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		engine:    engine,
		cfg:       cfg,
		logger:    logger,
		opts:      opts,
		callbacks: make(map[Action][]Callback),
		history:   make([]Evaluation, 0, historyCapacity),
	}
}

// Engine 返回底层风控引擎。
func (m *Monitor) Engine() *Engine {
	return m.engine
}

// RegisterCallback 为指定动作注册回调，动作集合封闭。
func (m *Monitor) RegisterCallback(action Action, cb Callback) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.callbacks[action] = append(m.callbacks[action], cb)
}

// Start 启动后台轮询任务。重复启动仅记录警告。
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		m.logger.Warn("风控监控已在运行，忽略重复启动")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.running = true

	m.wg.Add(1)
	go m.loop(ctx)

	m.logger.Info("风控监控已启动", zap.Duration("interval", m.cfg.CheckInterval))
}

// Stop 取消轮询并等待在途回调结束。未启动时仅记录警告。
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		m.logger.Warn("风控监控未在运行，忽略停止请求")
		return
	}
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()

	m.logger.Info("风控监控已停止")
}

// Running 报告监控循环是否存活。
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	interval := m.cfg.CheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.tick(ctx); err != nil {
				// 单次失败不终止循环，下一个周期继续。
				m.logger.Error("风控巡检失败", zap.Error(err))
			}
		}
	}
}

func (m *Monitor) tick(ctx context.Context) error {
	if m.cfg.EmergencyOnlyMode {
		m.handle(ctx, m.engine.CheckDrawdown())
		return nil
	}

	if m.opts.PositionProvider != nil {
		positions, err := m.opts.PositionProvider(ctx)
		if err != nil {
			return err
		}
		for _, pos := range positions {
			if m.opts.PriceProvider != nil {
				price, priceErr := m.opts.PriceProvider(ctx, pos.Exchange, pos.Symbol)
				if priceErr != nil {
					m.logger.Warn("刷新价格失败",
						zap.String("exchange", pos.Exchange),
						zap.String("symbol", pos.Symbol),
						zap.Error(priceErr),
					)
				} else if price.IsPositive() {
					pos.CurrentPrice = price
					pos.Value = price.Mul(pos.Quantity)
				}
			}
			m.engine.UpdatePosition(pos)
		}
	}

	for _, pos := range m.engine.Positions() {
		for _, ev := range m.engine.EvaluatePositionRisk(pos) {
			m.handle(ctx, ev)
		}
	}

	m.handle(ctx, m.engine.CheckDrawdown())
	return nil
}

// CheckNewTrade 同步执行准入检查并记录结果，不依赖轮询节奏。
func (m *Monitor) CheckNewTrade(ctx context.Context, symbol, exchange string, proposedValue decimal.Decimal) []Evaluation {
	evaluations := m.engine.EvaluateNewTradeRisk(symbol, exchange, proposedValue)
	for i := range evaluations {
		evaluations[i] = m.record(ctx, evaluations[i])
	}
	return evaluations
}

// History 返回已记录评估的副本，最多保留最近 1000 条。
func (m *Monitor) History() []Evaluation {
	m.histMu.Lock()
	defer m.histMu.Unlock()

	out := make([]Evaluation, len(m.history))
	copy(out, m.history)
	return out
}

func (m *Monitor) handle(ctx context.Context, ev Evaluation) {
	if !ev.Triggered() {
		return
	}

	ev = m.record(ctx, ev)
	m.dispatch(ctx, ev)
}

func (m *Monitor) record(ctx context.Context, ev Evaluation) Evaluation {
	ev.ID = m.evalSeq.Add(1)
	if ev.EvaluatedAt.IsZero() {
		ev.EvaluatedAt = time.Now().UTC()
	}

	m.histMu.Lock()
	m.history = append(m.history, ev)
	if overflow := len(m.history) - historyCapacity; overflow > 0 {
		m.history = m.history[overflow:]
	}
	m.histMu.Unlock()

	if m.opts.Recorder != nil {
		m.opts.Recorder.RecordEvaluation(ctx, ev)
	}

	return ev
}

// dispatch 并发调用该动作的全部回调；回调的 panic 被捕获并记录，
// 永远不会传播到监控循环。
func (m *Monitor) dispatch(ctx context.Context, ev Evaluation) {
	m.cbMu.RLock()
	callbacks := m.callbacks[ev.Action]
	m.cbMu.RUnlock()

	for _, cb := range callbacks {
		cb := cb
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("风控回调异常",
						zap.String("action", string(ev.Action)),
						zap.Any("panic", r),
					)
				}
			}()
			cb(ctx, ev)
		}()
	}
}
