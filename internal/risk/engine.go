package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradepilot/internal/config"
	"tradepilot/internal/position"
)

// Engine 是有状态的风控规则评估器。仓位注册表、冷却时间戳与
// 权益水位都在单一互斥锁之后，读取方拿到的都是副本。
type Engine struct {
	cfg    config.RiskConfig
	logger *zap.Logger

	mu            sync.Mutex
	positions     map[string]position.Position
	cooldowns     map[string]time.Time
	tradingPaused bool
	peakEquity    decimal.Decimal
	currentEquity decimal.Decimal

	now func() time.Time
}

// NewEngine 创建风控引擎，构造时强制校验配置约束。
func NewEngine(cfg config.RiskConfig, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("risk: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		cfg:       cfg,
		logger:    logger,
		positions: make(map[string]position.Position),
		cooldowns: make(map[string]time.Time),
		now:       time.Now,
	}, nil
}

// UpdatePosition 写入或替换仓位。买向持仓的 HighestPrice 单调不减，
// 卖向持仓复用该字段追踪最优（最低）价格且单调不增。
func (e *Engine) UpdatePosition(pos position.Position) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := pos.Key()
	tracked := pos.HighestPrice
	if tracked.IsZero() {
		tracked = pos.CurrentPrice
	}

	if existing, ok := e.positions[key]; ok && !existing.HighestPrice.IsZero() {
		switch pos.Side {
		case position.SideBuy:
			if existing.HighestPrice.GreaterThan(tracked) {
				tracked = existing.HighestPrice
			}
		case position.SideSell:
			if existing.HighestPrice.LessThan(tracked) {
				tracked = existing.HighestPrice
			}
		}
	}
	if pos.Side == position.SideBuy && pos.CurrentPrice.GreaterThan(tracked) {
		tracked = pos.CurrentPrice
	}
	if pos.Side == position.SideSell && !pos.CurrentPrice.IsZero() && pos.CurrentPrice.LessThan(tracked) {
		tracked = pos.CurrentPrice
	}

	pos.HighestPrice = tracked
	e.positions[key] = pos
}

// RemovePosition 删除仓位，key 不存在时为空操作。
func (e *Engine) RemovePosition(exchange, symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.positions, position.MakeKey(exchange, symbol))
}

// Position 返回仓位副本。
func (e *Engine) Position(exchange, symbol string) (position.Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, ok := e.positions[position.MakeKey(exchange, symbol)]
	return pos, ok
}

// Positions 返回全部仓位的副本切片，迭代不会与写入方竞态。
func (e *Engine) Positions() []position.Position {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]position.Position, 0, len(e.positions))
	for _, pos := range e.positions {
		out = append(out, pos)
	}
	return out
}

// UpdateEquity 更新当前权益并维护历史峰值。
func (e *Engine) UpdateEquity(equity decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.currentEquity = equity
	if equity.GreaterThan(e.peakEquity) {
		e.peakEquity = equity
	}
}

// IsTradingPaused 报告交易是否被回撤控制暂停。
func (e *Engine) IsTradingPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tradingPaused
}

// PauseTrading 暂停新开仓，幂等。已有持仓不受影响。
func (e *Engine) PauseTrading() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tradingPaused = true
}

// ResumeTrading 无条件恢复交易，幂等。
func (e *Engine) ResumeTrading() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tradingPaused = false
}

// cooldownReady 检查规则冷却并在放行时立即盖章，检查与盖章是
// 单个原子步骤，避免连续评估重复触发动作。
func (e *Engine) cooldownReady(rule, symbol string, seconds int) bool {
	if seconds <= 0 {
		return true
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	key := fmt.Sprintf("%s_%s", rule, symbol)
	now := e.now()
	if last, ok := e.cooldowns[key]; ok {
		if now.Sub(last) < time.Duration(seconds)*time.Second {
			return false
		}
	}
	e.cooldowns[key] = now
	return true
}

// CheckStopLoss 评估止损规则。
func (e *Engine) CheckStopLoss(pos position.Position) Evaluation {
	if !e.cfg.StopLoss.Enabled {
		return none()
	}

	threshold := decimal.NewFromFloat(e.cfg.StopLoss.Percentage)
	lossPct := pos.LossPercent()
	if lossPct.LessThan(threshold) {
		return none()
	}
	if !e.cooldownReady(RuleStopLoss, pos.Symbol, e.cfg.StopLoss.CooldownSeconds) {
		return none()
	}

	posCopy := pos
	return Evaluation{
		Action:         ActionClosePosition,
		Reason:         fmt.Sprintf("止损触发: %s 亏损 %s%% 达到阈值 %.2f%%", pos.Symbol, lossPct.StringFixed(2), e.cfg.StopLoss.Percentage),
		TriggeredRules: []string{RuleStopLoss},
		Position:       &posCopy,
		EvaluatedAt:    e.now(),
	}
}

// CheckTakeProfit 评估止盈规则，配置减仓时给出 REDUCE_POSITION。
func (e *Engine) CheckTakeProfit(pos position.Position) Evaluation {
	if !e.cfg.TakeProfit.Enabled {
		return none()
	}

	threshold := decimal.NewFromFloat(e.cfg.TakeProfit.Percentage)
	profitPct := pos.ProfitPercent()
	if profitPct.LessThan(threshold) {
		return none()
	}
	if !e.cooldownReady(RuleTakeProfit, pos.Symbol, e.cfg.TakeProfit.CooldownSeconds) {
		return none()
	}

	posCopy := pos
	if e.cfg.TakeProfit.PartialClose {
		return Evaluation{
			Action:         ActionReducePosition,
			Reason:         fmt.Sprintf("止盈触发: %s 盈利 %s%% 达到阈值 %.2f%%，执行部分减仓", pos.Symbol, profitPct.StringFixed(2), e.cfg.TakeProfit.Percentage),
			TriggeredRules: []string{RuleTakeProfit},
			Position:       &posCopy,
			Metadata: map[string]string{
				MetadataPartialClose: decimal.NewFromFloat(e.cfg.TakeProfit.PartialClosePercentage).String(),
			},
			EvaluatedAt: e.now(),
		}
	}

	return Evaluation{
		Action:         ActionClosePosition,
		Reason:         fmt.Sprintf("止盈触发: %s 盈利 %s%% 达到阈值 %.2f%%", pos.Symbol, profitPct.StringFixed(2), e.cfg.TakeProfit.Percentage),
		TriggeredRules: []string{RuleTakeProfit},
		Position:       &posCopy,
		EvaluatedAt:    e.now(),
	}
}

// CheckTrailingStop 评估移动止损。盈利越过激活阈值后，
// 从最优价回撤超过 trailing_percentage 即触发平仓。
func (e *Engine) CheckTrailingStop(pos position.Position) Evaluation {
	if !e.cfg.TrailingStop.Enabled {
		return none()
	}
	if pos.EntryPrice.IsZero() || pos.HighestPrice.IsZero() {
		return none()
	}

	hundred := decimal.NewFromInt(100)

	var peakProfitPct, retracePct decimal.Decimal
	switch pos.Side {
	case position.SideSell:
		peakProfitPct = pos.EntryPrice.Sub(pos.HighestPrice).Div(pos.EntryPrice).Mul(hundred)
		retracePct = pos.CurrentPrice.Sub(pos.HighestPrice).Div(pos.HighestPrice).Mul(hundred)
	default:
		peakProfitPct = pos.HighestPrice.Sub(pos.EntryPrice).Div(pos.EntryPrice).Mul(hundred)
		retracePct = pos.HighestPrice.Sub(pos.CurrentPrice).Div(pos.HighestPrice).Mul(hundred)
	}

	if peakProfitPct.LessThan(decimal.NewFromFloat(e.cfg.TrailingStop.ActivationPercentage)) {
		return none()
	}
	if retracePct.LessThan(decimal.NewFromFloat(e.cfg.TrailingStop.TrailingPercentage)) {
		return none()
	}
	if !e.cooldownReady(RuleTrailingStop, pos.Symbol, e.cfg.TrailingStop.CooldownSeconds) {
		return none()
	}

	posCopy := pos
	return Evaluation{
		Action:         ActionClosePosition,
		Reason:         fmt.Sprintf("移动止损触发: %s 自最优价回撤 %s%% 超过 %.2f%%", pos.Symbol, retracePct.StringFixed(2), e.cfg.TrailingStop.TrailingPercentage),
		TriggeredRules: []string{RuleTrailingStop},
		Position:       &posCopy,
		EvaluatedAt:    e.now(),
	}
}

// CheckExposureLimits 评估拟新增名义敞口是否突破任一上限，
// TriggeredRules 列出所有被突破的限额。
func (e *Engine) CheckExposureLimits(symbol, exchange string, proposedValue decimal.Decimal) Evaluation {
	if !e.cfg.ExposureLimit.Enabled {
		return none()
	}

	asset := position.AssetFromSymbol(symbol)

	e.mu.Lock()
	var assetExposure, exchangeExposure, totalExposure decimal.Decimal
	for _, pos := range e.positions {
		totalExposure = totalExposure.Add(pos.Value)
		if pos.Exchange == exchange {
			exchangeExposure = exchangeExposure.Add(pos.Value)
		}
		if pos.Asset() == asset {
			assetExposure = assetExposure.Add(pos.Value)
		}
	}
	e.mu.Unlock()

	var violated []string
	if assetExposure.Add(proposedValue).GreaterThan(decimal.NewFromFloat(e.cfg.ExposureLimit.MaxPerAsset)) {
		violated = append(violated, RuleExposurePerAsset)
	}
	if exchangeExposure.Add(proposedValue).GreaterThan(decimal.NewFromFloat(e.cfg.ExposureLimit.MaxPerExchange)) {
		violated = append(violated, RuleExposurePerExchange)
	}
	if totalExposure.Add(proposedValue).GreaterThan(decimal.NewFromFloat(e.cfg.ExposureLimit.MaxTotal)) {
		violated = append(violated, RuleExposureTotal)
	}
	if len(violated) == 0 {
		return none()
	}

	return Evaluation{
		Action:         ActionBlockNewTrade,
		Reason:         fmt.Sprintf("敞口限制: %s@%s 新增 %s 将突破限额", symbol, exchange, proposedValue.String()),
		TriggeredRules: violated,
		EvaluatedAt:    e.now(),
	}
}

// CheckMaxConcurrentTrades 评估并发持仓数量是否已达上限。
func (e *Engine) CheckMaxConcurrentTrades(symbol, exchange string) Evaluation {
	if !e.cfg.MaxConcurrentTrades.Enabled {
		return none()
	}

	asset := position.AssetFromSymbol(symbol)

	e.mu.Lock()
	var assetCount, exchangeCount, totalCount int
	for _, pos := range e.positions {
		totalCount++
		if pos.Exchange == exchange {
			exchangeCount++
		}
		if pos.Asset() == asset {
			assetCount++
		}
	}
	e.mu.Unlock()

	var violated []string
	if assetCount >= e.cfg.MaxConcurrentTrades.MaxPerAsset {
		violated = append(violated, RuleMaxTradesPerAsset)
	}
	if exchangeCount >= e.cfg.MaxConcurrentTrades.MaxPerExchange {
		violated = append(violated, RuleMaxTradesPerExchange)
	}
	if totalCount >= e.cfg.MaxConcurrentTrades.MaxTrades {
		violated = append(violated, RuleMaxTradesTotal)
	}
	if len(violated) == 0 {
		return none()
	}

	return Evaluation{
		Action:         ActionBlockNewTrade,
		Reason:         fmt.Sprintf("并发持仓限制: %s@%s 已达数量上限", symbol, exchange),
		TriggeredRules: violated,
		EvaluatedAt:    e.now(),
	}
}

// CheckDrawdown 评估组合回撤。达到紧急阈值时要求全部清仓，
// 达到最大回撤阈值且配置了暂停时，置位 tradingPaused。
func (e *Engine) CheckDrawdown() Evaluation {
	if !e.cfg.DrawdownControl.Enabled {
		return none()
	}

	e.mu.Lock()
	peak := e.peakEquity
	current := e.currentEquity
	e.mu.Unlock()

	if peak.IsZero() || !peak.IsPositive() {
		return none()
	}

	hundred := decimal.NewFromInt(100)
	drawdownPct := peak.Sub(current).Div(peak).Mul(hundred)

	if e.cfg.DrawdownControl.EmergencyExitEnabled &&
		drawdownPct.GreaterThanOrEqual(decimal.NewFromFloat(e.cfg.DrawdownControl.EmergencyExitPercentage)) {
		e.logger.Error("组合回撤达到紧急阈值",
			zap.String("drawdown_pct", drawdownPct.StringFixed(2)),
			zap.Float64("emergency_pct", e.cfg.DrawdownControl.EmergencyExitPercentage),
		)
		return Evaluation{
			Action:         ActionEmergencyExitAll,
			Reason:         fmt.Sprintf("紧急退出: 回撤 %s%% 达到紧急阈值 %.2f%%", drawdownPct.StringFixed(2), e.cfg.DrawdownControl.EmergencyExitPercentage),
			TriggeredRules: []string{RuleEmergencyExit},
			EvaluatedAt:    e.now(),
		}
	}

	if e.cfg.DrawdownControl.PauseOnBreach &&
		drawdownPct.GreaterThanOrEqual(decimal.NewFromFloat(e.cfg.DrawdownControl.MaxDrawdownPercentage)) {
		e.mu.Lock()
		e.tradingPaused = true
		e.mu.Unlock()

		e.logger.Warn("组合回撤超过最大阈值，暂停交易",
			zap.String("drawdown_pct", drawdownPct.StringFixed(2)),
			zap.Float64("max_pct", e.cfg.DrawdownControl.MaxDrawdownPercentage),
		)
		return Evaluation{
			Action:         ActionPauseTrading,
			Reason:         fmt.Sprintf("暂停交易: 回撤 %s%% 超过最大阈值 %.2f%%", drawdownPct.StringFixed(2), e.cfg.DrawdownControl.MaxDrawdownPercentage),
			TriggeredRules: []string{RuleMaxDrawdown},
			EvaluatedAt:    e.now(),
		}
	}

	return none()
}

// EvaluatePositionRisk 按序执行止损、止盈、移动止损，返回全部非空结果。
func (e *Engine) EvaluatePositionRisk(pos position.Position) []Evaluation {
	checks := []Evaluation{
		e.CheckStopLoss(pos),
		e.CheckTakeProfit(pos),
		e.CheckTrailingStop(pos),
	}

	out := make([]Evaluation, 0, len(checks))
	for _, ev := range checks {
		if ev.Triggered() {
			out = append(out, ev)
		}
	}
	return out
}

// EvaluateNewTradeRisk 对拟新增交易做准入检查。交易处于暂停状态时
// 直接短路返回单个 BLOCK_NEW_TRADE，不再执行其余检查。
func (e *Engine) EvaluateNewTradeRisk(symbol, exchange string, proposedValue decimal.Decimal) []Evaluation {
	if e.IsTradingPaused() {
		return []Evaluation{{
			Action:         ActionBlockNewTrade,
			Reason:         "交易已被回撤控制暂停",
			TriggeredRules: []string{RuleTradingPaused},
			EvaluatedAt:    e.now(),
		}}
	}

	checks := []Evaluation{
		e.CheckExposureLimits(symbol, exchange, proposedValue),
		e.CheckMaxConcurrentTrades(symbol, exchange),
		e.CheckDrawdown(),
	}

	out := make([]Evaluation, 0, len(checks))
	for _, ev := range checks {
		if ev.Triggered() {
			out = append(out, ev)
		}
	}
	return out
}
