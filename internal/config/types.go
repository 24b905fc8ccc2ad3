package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App       AppConfig        `mapstructure:"app"`
	Exchanges []ExchangeConfig `mapstructure:"exchanges"`
	Scheduler SchedulerConfig  `mapstructure:"scheduler"`
	Risk      RiskConfig       `mapstructure:"risk"`
	Trading   TradingConfig    `mapstructure:"trading"`
	OpenAI    OpenAIConfig     `mapstructure:"openai"`
	Database  DatabaseConfig   `mapstructure:"database"`
	Logging   LoggingConfig    `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ExchangeConfig 描述单个交易所的连接信息。
type ExchangeConfig struct {
	Name       string `mapstructure:"name"`
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	APIPass    string `mapstructure:"api_password"`
	UseSandbox bool   `mapstructure:"use_sandbox"`
}

// SchedulerConfig 控制策略调度循环。
type SchedulerConfig struct {
	MaxConcurrentStrategies int64 `mapstructure:"max_concurrent_strategies"`
	MaxRetries              int   `mapstructure:"max_retries"`
	MaxConsecutiveErrors    int   `mapstructure:"max_consecutive_errors"`
	CandleLimit             int   `mapstructure:"candle_limit"`
}

// StopLossConfig 控制止损规则。
type StopLossConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	Percentage      float64 `mapstructure:"percentage"`
	CooldownSeconds int     `mapstructure:"cooldown_seconds"`
}

// TakeProfitConfig 控制止盈规则。
type TakeProfitConfig struct {
	Enabled                bool    `mapstructure:"enabled"`
	Percentage             float64 `mapstructure:"percentage"`
	PartialClose           bool    `mapstructure:"partial_close"`
	PartialClosePercentage float64 `mapstructure:"partial_close_percentage"`
	CooldownSeconds        int     `mapstructure:"cooldown_seconds"`
}

// TrailingStopConfig 控制移动止损规则。
type TrailingStopConfig struct {
	Enabled              bool    `mapstructure:"enabled"`
	TrailingPercentage   float64 `mapstructure:"trailing_percentage"`
	ActivationPercentage float64 `mapstructure:"activation_percentage"`
	CooldownSeconds      int     `mapstructure:"cooldown_seconds"`
}

// ExposureLimitConfig 控制名义敞口上限。
type ExposureLimitConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	MaxPerAsset    float64 `mapstructure:"max_per_asset"`
	MaxPerExchange float64 `mapstructure:"max_per_exchange"`
	MaxTotal       float64 `mapstructure:"max_total"`
}

// MaxConcurrentTradesConfig 控制并发持仓数量上限。
type MaxConcurrentTradesConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	MaxPerAsset    int  `mapstructure:"max_per_asset"`
	MaxPerExchange int  `mapstructure:"max_per_exchange"`
	MaxTrades      int  `mapstructure:"max_trades"`
}

// DrawdownControlConfig 控制回撤保护。
type DrawdownControlConfig struct {
	Enabled                 bool    `mapstructure:"enabled"`
	MaxDrawdownPercentage   float64 `mapstructure:"max_drawdown_percentage"`
	PauseOnBreach           bool    `mapstructure:"pause_on_breach"`
	EmergencyExitEnabled    bool    `mapstructure:"emergency_exit_enabled"`
	EmergencyExitPercentage float64 `mapstructure:"emergency_exit_percentage"`
}

// RiskConfig 聚合全部风控规则参数。
type RiskConfig struct {
	StopLoss            StopLossConfig            `mapstructure:"stop_loss"`
	TakeProfit          TakeProfitConfig          `mapstructure:"take_profit"`
	TrailingStop        TrailingStopConfig        `mapstructure:"trailing_stop"`
	ExposureLimit       ExposureLimitConfig       `mapstructure:"exposure_limit"`
	MaxConcurrentTrades MaxConcurrentTradesConfig `mapstructure:"max_concurrent_trades"`
	DrawdownControl     DrawdownControlConfig     `mapstructure:"drawdown_control"`
	CheckInterval       time.Duration             `mapstructure:"check_interval"`
	EmergencyOnlyMode   bool                      `mapstructure:"emergency_only_mode"`
}

// TradingConfig 控制下单行为。
type TradingConfig struct {
	DryRun   bool    `mapstructure:"dry_run"`
	Slippage float64 `mapstructure:"slippage"`
}

// OpenAIConfig 描述 ai_advisor 策略使用的大模型参数。
type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 校验风控规则之间的约束关系。
func (c *RiskConfig) Validate() error {
	var err error

	if c.StopLoss.Enabled && c.StopLoss.Percentage <= 0 {
		err = multierr.Append(err, errors.New("risk.stop_loss.percentage 必须大于0"))
	}
	if c.TakeProfit.Enabled && c.TakeProfit.Percentage <= 0 {
		err = multierr.Append(err, errors.New("risk.take_profit.percentage 必须大于0"))
	}
	if c.StopLoss.Enabled && c.TakeProfit.Enabled && c.StopLoss.Percentage >= c.TakeProfit.Percentage {
		err = multierr.Append(err, errors.New("risk.stop_loss.percentage 必须小于 take_profit.percentage"))
	}
	if c.TakeProfit.PartialClose && (c.TakeProfit.PartialClosePercentage <= 0 || c.TakeProfit.PartialClosePercentage >= 100) {
		err = multierr.Append(err, errors.New("risk.take_profit.partial_close_percentage 必须位于(0,100)"))
	}
	if c.TrailingStop.Enabled {
		if c.TrailingStop.TrailingPercentage <= 0 {
			err = multierr.Append(err, errors.New("risk.trailing_stop.trailing_percentage 必须大于0"))
		}
		if c.TrailingStop.ActivationPercentage <= c.TrailingStop.TrailingPercentage {
			err = multierr.Append(err, errors.New("risk.trailing_stop.activation_percentage 必须大于 trailing_percentage"))
		}
	}
	if c.ExposureLimit.Enabled {
		if c.ExposureLimit.MaxPerAsset <= 0 || c.ExposureLimit.MaxPerExchange <= 0 || c.ExposureLimit.MaxTotal <= 0 {
			err = multierr.Append(err, errors.New("risk.exposure_limit 各上限必须大于0"))
		}
		if c.ExposureLimit.MaxPerAsset > c.ExposureLimit.MaxPerExchange {
			err = multierr.Append(err, errors.New("risk.exposure_limit.max_per_asset 不能大于 max_per_exchange"))
		}
		if c.ExposureLimit.MaxPerExchange > c.ExposureLimit.MaxTotal {
			err = multierr.Append(err, errors.New("risk.exposure_limit.max_per_exchange 不能大于 max_total"))
		}
	}
	if c.MaxConcurrentTrades.Enabled {
		if c.MaxConcurrentTrades.MaxPerAsset <= 0 || c.MaxConcurrentTrades.MaxPerExchange <= 0 || c.MaxConcurrentTrades.MaxTrades <= 0 {
			err = multierr.Append(err, errors.New("risk.max_concurrent_trades 各上限必须大于0"))
		}
		if c.MaxConcurrentTrades.MaxPerAsset > c.MaxConcurrentTrades.MaxPerExchange {
			err = multierr.Append(err, errors.New("risk.max_concurrent_trades.max_per_asset 不能大于 max_per_exchange"))
		}
		if c.MaxConcurrentTrades.MaxPerExchange > c.MaxConcurrentTrades.MaxTrades {
			err = multierr.Append(err, errors.New("risk.max_concurrent_trades.max_per_exchange 不能大于 max_trades"))
		}
	}
	if c.DrawdownControl.Enabled {
		if c.DrawdownControl.MaxDrawdownPercentage <= 0 {
			err = multierr.Append(err, errors.New("risk.drawdown_control.max_drawdown_percentage 必须大于0"))
		}
		if c.DrawdownControl.EmergencyExitEnabled &&
			c.DrawdownControl.EmergencyExitPercentage <= c.DrawdownControl.MaxDrawdownPercentage {
			err = multierr.Append(err, errors.New("risk.drawdown_control.emergency_exit_percentage 必须大于 max_drawdown_percentage"))
		}
	}
	if c.CheckInterval <= 0 {
		err = multierr.Append(err, errors.New("risk.check_interval 必须大于0"))
	}

	return err
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if len(c.Exchanges) == 0 {
		err = multierr.Append(err, errors.New("exchanges 至少配置一个交易所"))
	}
	for i, ex := range c.Exchanges {
		if ex.Name == "" {
			err = multierr.Append(err, fmt.Errorf("exchanges[%d].name 不能为空", i))
		}
	}
	if c.Scheduler.MaxConcurrentStrategies <= 0 {
		err = multierr.Append(err, errors.New("scheduler.max_concurrent_strategies 必须大于0"))
	}
	if c.Scheduler.MaxRetries < 0 {
		err = multierr.Append(err, errors.New("scheduler.max_retries 不能为负"))
	}
	if c.Scheduler.MaxConsecutiveErrors <= 0 {
		err = multierr.Append(err, errors.New("scheduler.max_consecutive_errors 必须大于0"))
	}
	if c.Scheduler.CandleLimit <= 0 {
		err = multierr.Append(err, errors.New("scheduler.candle_limit 必须大于0"))
	}
	if riskErr := c.Risk.Validate(); riskErr != nil {
		err = multierr.Append(err, riskErr)
	}
	if c.Trading.Slippage < 0 || c.Trading.Slippage > 0.2 {
		err = multierr.Append(err, errors.New("trading.slippage 应位于[0,0.2]"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
