package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradepilot/internal/config"
	"tradepilot/internal/indicator"
	"tradepilot/internal/journal"
	"tradepilot/internal/market"
	"tradepilot/internal/position"
	"tradepilot/internal/repository"
	"tradepilot/internal/risk"
	"tradepilot/internal/scheduler"
	"tradepilot/internal/store"
	"tradepilot/internal/strategy"
	"tradepilot/internal/trading"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 组装各组件并阻塞运行，收到取消信号后按序优雅退出。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("交易系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.Int("exchanges", len(a.cfg.Exchanges)),
		zap.Bool("dry_run", a.cfg.Trading.DryRun),
	)

	eventJournal, err := journal.New(a.store, a.logger)
	if err != nil {
		return fmt.Errorf("初始化事件日志失败: %w", err)
	}

	strategyRepo, err := repository.NewSQLiteStrategyRepository(a.store, a.logger)
	if err != nil {
		return fmt.Errorf("初始化策略仓库失败: %w", err)
	}

	gateways := market.NewRegistry()
	for _, exCfg := range a.cfg.Exchanges {
		gw, err := market.NewCCXTGateway(exCfg, a.logger)
		if err != nil {
			return fmt.Errorf("初始化行情网关失败 (%s): %w", exCfg.Name, err)
		}
		if err := gw.Initialize(ctx); err != nil {
			return fmt.Errorf("加载交易所市场失败 (%s): %w", exCfg.Name, err)
		}
		gateways.Register(strings.ToLower(exCfg.Name), gw)
	}

	riskEngine, err := risk.NewEngine(a.cfg.Risk, a.logger)
	if err != nil {
		return fmt.Errorf("初始化风控引擎失败: %w", err)
	}

	// 持仓提供方回读引擎自身的注册表，配合价格提供方在每个
	// 巡检周期刷新现价后写回。
	monitor := risk.NewMonitor(riskEngine, a.cfg.Risk, a.logger, risk.MonitorOptions{
		PositionProvider: func(ctx context.Context) ([]position.Position, error) {
			return riskEngine.Positions(), nil
		},
		PriceProvider: newGatewayPriceProvider(gateways),
		Recorder:      eventJournal,
	})

	var trader trading.Service
	if a.cfg.Trading.DryRun {
		a.logger.Info("下单服务处于模拟模式")
		trader = trading.NewSimulatedService(a.logger)
	} else {
		svc, err := trading.NewCCXTService(a.cfg.Exchanges, a.logger)
		if err != nil {
			return fmt.Errorf("初始化下单服务失败: %w", err)
		}
		trader = svc
	}

	var tradingEngine trading.Engine
	if len(a.cfg.Exchanges) == 0 {
		a.logger.Warn("未配置交易所，风控动作仅记录日志")
		tradingEngine = trading.NewLogOnlyEngine(riskEngine, a.logger)
	} else {
		engine, err := trading.NewOrderEngine(trader, riskEngine, a.logger)
		if err != nil {
			return fmt.Errorf("初始化交易引擎失败: %w", err)
		}
		tradingEngine = engine
	}
	dispatcher := trading.NewDispatcher(tradingEngine, a.logger)
	for _, action := range []risk.Action{
		risk.ActionClosePosition,
		risk.ActionReducePosition,
		risk.ActionEmergencyExitAll,
		risk.ActionPauseTrading,
	} {
		monitor.RegisterCallback(action, dispatcher.Callback())
	}

	indicators := indicator.NewRegistry()
	strategies := strategy.NewRegistry()
	if a.cfg.OpenAI.APIKey != "" {
		advisor, err := strategy.NewAIAdvisor(a.cfg.OpenAI, a.logger)
		if err != nil {
			return fmt.Errorf("初始化AI策略失败: %w", err)
		}
		strategies.Register(advisor.Name(), func() strategy.Strategy { return advisor })
	}

	runner, err := scheduler.NewRunner(scheduler.RunnerOptions{
		Indicators:  indicators,
		Cache:       indicator.NewMemoryCache(0),
		Trader:      trader,
		Monitor:     monitor,
		Recorder:    eventJournal,
		MaxRetries:  a.cfg.Scheduler.MaxRetries,
		CandleLimit: a.cfg.Scheduler.CandleLimit,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("初始化执行流水线失败: %w", err)
	}

	sched := scheduler.NewScheduler(a.cfg.Scheduler, strategyRepo, gateways, strategies, runner, a.logger)

	monitor.Start()
	defer monitor.Stop()

	if err := sched.Start(); err != nil {
		return fmt.Errorf("启动调度器失败: %w", err)
	}
	defer sched.Stop()

	<-ctx.Done()
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", err)
	}
	a.logger.Info("系统收到退出信号，正在停止")
	return nil
}

// newGatewayPriceProvider 用行情网关的最新收盘价刷新持仓现价。
func newGatewayPriceProvider(gateways *market.Registry) risk.PriceProvider {
	return func(ctx context.Context, exchange, symbol string) (decimal.Decimal, error) {
		gw, err := gateways.Resolve(strings.ToLower(exchange))
		if err != nil {
			return decimal.Zero, err
		}
		candles, err := gw.FetchOHLCV(ctx, symbol, "1m", 1)
		if err != nil {
			return decimal.Zero, err
		}
		if len(candles) == 0 {
			return decimal.Zero, fmt.Errorf("app: %s %s 无可用行情", exchange, symbol)
		}
		return decimal.NewFromFloat(candles[len(candles)-1].Close), nil
	}
}
