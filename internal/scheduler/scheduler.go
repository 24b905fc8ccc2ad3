package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"tradepilot/internal/config"
	"tradepilot/internal/market"
	"tradepilot/internal/repository"
	"tradepilot/internal/strategy"
)

// ErrAlreadyRunning 表示调度循环已经启动。
var ErrAlreadyRunning = errors.New("scheduler: 调度循环已在运行")

// loopErrorPause 为取数或解析阶段出错后循环的暂停时长。
const loopErrorPause = 10 * time.Second

// jobState 保存单个调度键的运行状态。
type jobState struct {
	lastRun     time.Time
	errorCount  int
	circuitOpen bool
}

// Scheduler 轮询启用中的策略配置，按周期就绪情况并发调度执行。
type Scheduler struct {
	cfg        config.SchedulerConfig
	repo       repository.StrategyRepository
	gateways   *market.Registry
	strategies *strategy.Registry
	runner     *Runner
	logger     *zap.Logger
	sem        *semaphore.Weighted

	mu      sync.Mutex
	states  map[string]*jobState
	plugins map[string]strategy.Strategy
	running bool
	cancel  context.CancelFunc

	wg  sync.WaitGroup
	now func() time.Time
}

// NewScheduler 创建调度器。
func NewScheduler(cfg config.SchedulerConfig, repo repository.StrategyRepository, gateways *market.Registry, strategies *strategy.Registry, runner *Runner, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxConcurrent := cfg.MaxConcurrentStrategies
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Scheduler{
		cfg:        cfg,
		repo:       repo,
		gateways:   gateways,
		strategies: strategies,
		runner:     runner,
		logger:     logger,
		sem:        semaphore.NewWeighted(maxConcurrent),
		states:     make(map[string]*jobState),
		plugins:    make(map[string]strategy.Strategy),
		now:        time.Now,
	}
}

// Start 启动调度循环，重复启动返回 ErrAlreadyRunning。
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.Info("策略调度器已启动",
		zap.Int64("max_concurrent", s.cfg.MaxConcurrentStrategies))
	return nil
}

// Stop 取消循环并等待所有在途运行结束后返回。
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.logger.Warn("调度器未在运行，忽略停止请求")
		return
	}
	s.running = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("策略调度器已停止")
}

// Running 报告调度循环是否在运行。
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ErrorCount 返回调度键当前的连续错误计数，供宿主观测熔断状态。
func (s *Scheduler) ErrorCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[key]; ok {
		return st.errorCount
	}
	return 0
}

// CircuitOpen 报告调度键是否处于熔断状态。
func (s *Scheduler) CircuitOpen(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[key]; ok {
		return st.circuitOpen
	}
	return false
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		contexts, err := s.collect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("收集策略配置失败，暂停后继续", zap.Error(err))
			if !s.sleep(ctx, loopErrorPause) {
				return
			}
			continue
		}

		s.dispatch(ctx, contexts)

		if !s.sleep(ctx, s.nextSleep(contexts)) {
			return
		}
	}
}

// collect 拉取启用策略并构建执行上下文。
// 单个策略解析失败只告警跳过，不影响其余策略。
func (s *Scheduler) collect(ctx context.Context) ([]*ExecutionContext, error) {
	records, err := s.repo.GetActiveStrategies(ctx)
	if err != nil {
		return nil, err
	}

	contexts := make([]*ExecutionContext, 0, len(records))
	for _, rec := range records {
		params, err := ParseParams(rec.ParametersJSON)
		if err != nil {
			s.logger.Warn("策略参数无效，跳过",
				zap.Int64("strategy_id", rec.ID),
				zap.String("strategy", rec.Name),
				zap.Error(err))
			continue
		}

		gateway, err := s.gateways.Resolve(params.Exchange)
		if err != nil {
			s.logger.Warn("交易所网关未注册，跳过",
				zap.Int64("strategy_id", rec.ID),
				zap.String("exchange", params.Exchange),
				zap.Error(err))
			continue
		}

		ec := &ExecutionContext{
			Record:  rec,
			Params:  params,
			Gateway: gateway,
		}

		plugin, err := s.pluginFor(ec.Key(), rec.PluginName)
		if err != nil {
			s.logger.Warn("策略插件未注册，跳过",
				zap.Int64("strategy_id", rec.ID),
				zap.String("plugin", rec.PluginName),
				zap.Error(err))
			continue
		}
		ec.Plugin = plugin

		contexts = append(contexts, ec)
	}

	return contexts, nil
}

// pluginFor 返回调度键对应的策略实例。实例跨运行持有内部状态，
// 因此按键缓存，而非每次解析新实例。
func (s *Scheduler) pluginFor(key, pluginName string) (strategy.Strategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if plugin, ok := s.plugins[key]; ok {
		return plugin, nil
	}
	plugin, err := s.strategies.Resolve(pluginName)
	if err != nil {
		return nil, err
	}
	s.plugins[key] = plugin
	return plugin, nil
}

// dispatch 并发执行本轮就绪的策略，整批等待后返回。
func (s *Scheduler) dispatch(ctx context.Context, contexts []*ExecutionContext) {
	var batch sync.WaitGroup
	for _, ec := range contexts {
		if !s.ready(ec) {
			continue
		}
		if err := s.sem.Acquire(ctx, 1); err != nil {
			break
		}
		batch.Add(1)
		go func(ec *ExecutionContext) {
			defer batch.Done()
			defer s.sem.Release(1)
			s.runner.Run(ctx, ec)
			s.finish(ec)
		}(ec)
	}
	batch.Wait()
}

// ready 判断策略是否到达下一个执行时点。
func (s *Scheduler) ready(ec *ExecutionContext) bool {
	interval := time.Duration(TimeframeSeconds(ec.Params.Timeframe)) * time.Second

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[ec.Key()]
	if !ok {
		return true
	}
	return s.now().Sub(st.lastRun) >= interval
}

// finish 在一次运行结束后维护错误计数与熔断状态。
func (s *Scheduler) finish(ec *ExecutionContext) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[ec.Key()]
	if !ok {
		st = &jobState{}
		s.states[ec.Key()] = st
	}

	if ec.Err == nil {
		st.lastRun = s.now()
		st.errorCount = 0
		st.circuitOpen = false
		return
	}

	st.errorCount++
	if st.errorCount >= s.cfg.MaxConsecutiveErrors && !st.circuitOpen {
		st.circuitOpen = true
		s.logger.Warn("策略连续失败达到阈值，标记熔断",
			zap.String("strategy_key", ec.Key()),
			zap.Int("error_count", st.errorCount))
	}
}

// nextSleep 计算距最早就绪策略的等待时间，收敛到 [1,60] 秒。
func (s *Scheduler) nextSleep(contexts []*ExecutionContext) time.Duration {
	if len(contexts) == 0 {
		return 60 * time.Second
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	earliest := now.Add(60 * time.Second)
	for _, ec := range contexts {
		interval := time.Duration(TimeframeSeconds(ec.Params.Timeframe)) * time.Second
		next := now
		if st, ok := s.states[ec.Key()]; ok {
			next = st.lastRun.Add(interval)
		}
		if next.Before(earliest) {
			earliest = next
		}
	}

	sleep := earliest.Sub(now)
	if sleep < time.Second {
		sleep = time.Second
	}
	if sleep > 60*time.Second {
		sleep = 60 * time.Second
	}
	return sleep
}

// sleep 可被取消地等待，返回 false 表示循环应当退出。
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
