package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "tradepilot"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("scheduler.max_concurrent_strategies", 8)
	v.SetDefault("scheduler.max_retries", 3)
	v.SetDefault("scheduler.max_consecutive_errors", 5)
	v.SetDefault("scheduler.candle_limit", 200)

	v.SetDefault("risk.stop_loss.enabled", true)
	v.SetDefault("risk.stop_loss.percentage", 2.0)
	v.SetDefault("risk.stop_loss.cooldown_seconds", 60)
	v.SetDefault("risk.take_profit.enabled", true)
	v.SetDefault("risk.take_profit.percentage", 5.0)
	v.SetDefault("risk.take_profit.partial_close", false)
	v.SetDefault("risk.take_profit.partial_close_percentage", 50.0)
	v.SetDefault("risk.take_profit.cooldown_seconds", 60)
	v.SetDefault("risk.trailing_stop.enabled", false)
	v.SetDefault("risk.trailing_stop.trailing_percentage", 1.5)
	v.SetDefault("risk.trailing_stop.activation_percentage", 3.0)
	v.SetDefault("risk.trailing_stop.cooldown_seconds", 60)
	v.SetDefault("risk.exposure_limit.enabled", true)
	v.SetDefault("risk.exposure_limit.max_per_asset", 10000.0)
	v.SetDefault("risk.exposure_limit.max_per_exchange", 30000.0)
	v.SetDefault("risk.exposure_limit.max_total", 50000.0)
	v.SetDefault("risk.max_concurrent_trades.enabled", true)
	v.SetDefault("risk.max_concurrent_trades.max_per_asset", 2)
	v.SetDefault("risk.max_concurrent_trades.max_per_exchange", 5)
	v.SetDefault("risk.max_concurrent_trades.max_trades", 10)
	v.SetDefault("risk.drawdown_control.enabled", true)
	v.SetDefault("risk.drawdown_control.max_drawdown_percentage", 15.0)
	v.SetDefault("risk.drawdown_control.pause_on_breach", true)
	v.SetDefault("risk.drawdown_control.emergency_exit_enabled", true)
	v.SetDefault("risk.drawdown_control.emergency_exit_percentage", 20.0)
	v.SetDefault("risk.check_interval", "30s")
	v.SetDefault("risk.emergency_only_mode", false)

	v.SetDefault("trading.dry_run", true)
	v.SetDefault("trading.slippage", 0.01)

	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4.1")
	v.SetDefault("openai.timeout", "15s")

	v.SetDefault("database.path", "data/tradepilot.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
