package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradepilot/internal/indicator"
	"tradepilot/internal/journal"
	"tradepilot/internal/market"
	"tradepilot/internal/risk"
	"tradepilot/internal/strategy"
	"tradepilot/internal/trading"
)

// ExecutionRecorder 持久化运行结束事件与已提交订单。
type ExecutionRecorder interface {
	RecordExecution(ctx context.Context, payload journal.ExecutionPayload)
	RecordOrder(ctx context.Context, order trading.Order)
}

// Runner 按固定顺序执行一次策略运行：
// 拉取行情 → 计算指标 → 生成信号 → 条件下单。
type Runner struct {
	indicators  *indicator.Registry
	cache       indicator.Cache
	trader      trading.Service
	monitor     *risk.Monitor
	recorder    ExecutionRecorder
	logger      *zap.Logger
	maxRetries  int
	candleLimit int
	backoff     func(attempt int) time.Duration
}

// RunnerOptions 组合 Runner 依赖。monitor 与 recorder 可为空。
type RunnerOptions struct {
	Indicators  *indicator.Registry
	Cache       indicator.Cache
	Trader      trading.Service
	Monitor     *risk.Monitor
	Recorder    ExecutionRecorder
	MaxRetries  int
	CandleLimit int
}

// NewRunner 创建执行流水线。
func NewRunner(opts RunnerOptions, logger *zap.Logger) (*Runner, error) {
	if opts.Indicators == nil {
		return nil, fmt.Errorf("scheduler: 指标注册表不能为空")
	}
	if opts.Trader == nil {
		return nil, fmt.Errorf("scheduler: 下单服务不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Cache == nil {
		opts.Cache = indicator.NewMemoryCache(0)
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.CandleLimit <= 0 {
		opts.CandleLimit = 200
	}
	return &Runner{
		indicators:  opts.Indicators,
		cache:       opts.Cache,
		trader:      opts.Trader,
		monitor:     opts.Monitor,
		recorder:    opts.Recorder,
		logger:      logger,
		maxRetries:  opts.MaxRetries,
		candleLimit: opts.CandleLimit,
		backoff:     backoffDelay,
	}, nil
}

// Run 执行一次策略运行。任何失败写入 ec.Err，由调度器统计。
func (r *Runner) Run(ctx context.Context, ec *ExecutionContext) {
	logger := r.logger.With(zap.String("strategy_key", ec.Key()))

	table, err := r.fetchTable(ctx, ec)
	if err != nil {
		ec.Err = err
		logger.Error("拉取行情失败", zap.Error(err))
		r.recordRun(ctx, ec)
		return
	}
	ec.Table = table

	ec.Indicators = r.computeIndicators(ec, logger)

	if err := ec.Plugin.ValidateParams(ec.Params.Strategy); err != nil {
		ec.Err = fmt.Errorf("scheduler: 策略参数校验失败: %w", err)
		logger.Error("策略参数校验失败", zap.Error(err))
		r.recordRun(ctx, ec)
		return
	}

	sig, err := ec.Plugin.GenerateSignal(ctx, ec.Table, ec.Indicators, ec.Params.Strategy)
	if err != nil {
		ec.Err = fmt.Errorf("scheduler: 生成信号失败: %w", err)
		logger.Error("生成信号失败", zap.Error(err))
		r.recordRun(ctx, ec)
		return
	}
	ec.Signal = sig

	logger.Info("策略信号",
		zap.String("action", string(sig.Action)),
		zap.Float64("strength", sig.Strength))

	if sig.Action == strategy.ActionBuy || sig.Action == strategy.ActionSell {
		r.executeTrade(ctx, ec, logger)
	}

	r.recordRun(ctx, ec)
}

// fetchTable 带退避重试拉取行情。校验类错误直接失败不重试。
func (r *Runner) fetchTable(ctx context.Context, ec *ExecutionContext) (market.Table, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			wait := r.backoff(attempt)
			r.logger.Warn("拉取行情失败，准备重试",
				zap.String("strategy_key", ec.Key()),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return market.Table{}, ctx.Err()
			case <-time.After(wait):
			}
		}

		candles, err := ec.Gateway.FetchOHLCV(ctx, ec.Params.Symbol, ec.Params.Timeframe, r.candleLimit)
		if err == nil {
			return market.NewTable(ec.Params.Symbol, ec.Params.Timeframe, candles), nil
		}

		classified := market.ClassifyError(err)
		if errors.Is(classified, market.ErrValidation) {
			return market.Table{}, fmt.Errorf("scheduler: 拉取行情参数错误: %w", classified)
		}
		lastErr = classified
	}
	return market.Table{}, fmt.Errorf("scheduler: 重试后仍拉取行情失败: %w", lastErr)
}

// backoffDelay 返回第 attempt 次重试前的等待时间，上限 30 秒。
func backoffDelay(attempt int) time.Duration {
	seconds := int64(1) << uint(attempt)
	if seconds > 30 {
		seconds = 30
	}
	return time.Duration(seconds) * time.Second
}

// computeIndicators 逐个计算声明的指标。单个指标失败只记录并跳过。
func (r *Runner) computeIndicators(ec *ExecutionContext, logger *zap.Logger) map[string][]float64 {
	results := make(map[string][]float64, len(ec.Params.Indicators))
	for _, spec := range ec.Params.Indicators {
		key := indicator.CacheKey(spec.Name, ec.Table, spec.Params)
		if values, ok := r.cache.Get(key); ok {
			results[spec.Key()] = values
			continue
		}

		ind, err := r.indicators.Resolve(spec.Name)
		if err != nil {
			logger.Warn("指标未注册，跳过", zap.String("indicator", spec.Name), zap.Error(err))
			continue
		}
		if err := ind.ValidateParams(spec.Params); err != nil {
			logger.Warn("指标参数无效，跳过", zap.String("indicator", spec.Name), zap.Error(err))
			continue
		}
		values, err := ind.Calculate(ec.Table, spec.Params)
		if err != nil {
			logger.Warn("指标计算失败，跳过", zap.String("indicator", spec.Name), zap.Error(err))
			continue
		}

		r.cache.Set(key, values)
		results[spec.Key()] = values
	}
	return results
}

// executeTrade 执行下单步骤。下单失败写入 ec.Err 但不再向外传播。
func (r *Runner) executeTrade(ctx context.Context, ec *ExecutionContext, logger *zap.Logger) {
	qty, err := ec.Params.OrderQuantity(ec.Signal)
	if err != nil {
		ec.Err = err
		logger.Error("解析下单数量失败", zap.Error(err))
		return
	}

	lastClose := decimal.NewFromFloat(ec.Table.LastClose())
	proposedValue := qty.Mul(lastClose)

	if ec.Params.DryRun {
		logger.Info("模拟运行，跳过下单",
			zap.String("side", string(ec.Signal.Action)),
			zap.String("quantity", qty.String()),
			zap.String("proposed_value", proposedValue.String()))
		return
	}

	if r.monitor != nil {
		violations := r.monitor.CheckNewTrade(ctx, ec.Params.Symbol, ec.Params.Exchange, proposedValue)
		if len(violations) > 0 {
			rules := make([]string, 0, len(violations))
			for _, v := range violations {
				rules = append(rules, v.TriggeredRules...)
			}
			logger.Warn("开仓被风控拦截",
				zap.String("rules", strings.Join(rules, ",")),
				zap.String("proposed_value", proposedValue.String()))
			return
		}
	}

	req := trading.OrderRequest{
		Exchange: ec.Params.Exchange,
		Symbol:   ec.Params.Symbol,
		Side:     trading.OrderSide(ec.Signal.Action),
		Type:     trading.OrderTypeMarket,
		Quantity: qty,
	}
	if raw, ok := ec.Signal.Metadata["price"]; ok && raw != "" {
		price, perr := decimal.NewFromString(raw)
		if perr != nil {
			ec.Err = fmt.Errorf("scheduler: 信号价格无效 %q: %w", raw, perr)
			logger.Error("解析信号价格失败", zap.Error(ec.Err))
			return
		}
		req.Type = trading.OrderTypeLimit
		req.Price = price
	}

	order, err := r.trader.CreateOrder(ctx, req)
	if err != nil {
		ec.Err = fmt.Errorf("scheduler: 下单失败: %w", err)
		logger.Error("下单失败", zap.Error(err))
		return
	}
	ec.Order = &order
	if r.recorder != nil {
		r.recorder.RecordOrder(ctx, order)
	}
}

func (r *Runner) recordRun(ctx context.Context, ec *ExecutionContext) {
	if r.recorder == nil {
		return
	}
	payload := journal.ExecutionPayload{
		StrategyKey: ec.Key(),
		Symbol:      ec.Params.Symbol,
		Timeframe:   ec.Params.Timeframe,
		Action:      string(ec.Signal.Action),
		Strength:    fmt.Sprintf("%.4f", ec.Signal.Strength),
		DryRun:      ec.Params.DryRun,
	}
	if ec.Err != nil {
		payload.Error = ec.Err.Error()
	}
	r.recorder.RecordExecution(ctx, payload)
}
