package indicator

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"tradepilot/internal/market"
)

// Indicator 抽象一个按名称解析的技术指标插件。
type Indicator interface {
	Name() string
	ValidateParams(params map[string]interface{}) error
	Calculate(table market.Table, params map[string]interface{}) ([]float64, error)
}

// Registry 保存按名称注册的指标插件。
type Registry struct {
	indicators map[string]Indicator
}

// NewRegistry 创建注册表并注册内置指标。
func NewRegistry() *Registry {
	r := &Registry{indicators: make(map[string]Indicator)}
	for _, ind := range builtins() {
		r.Register(ind)
	}
	return r
}

// Register 注册指标插件，同名覆盖。
func (r *Registry) Register(ind Indicator) {
	r.indicators[strings.ToLower(ind.Name())] = ind
}

// Resolve 按名称解析指标插件。
func (r *Registry) Resolve(name string) (Indicator, error) {
	ind, ok := r.indicators[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("indicator: 未注册的指标 %q", name)
	}
	return ind, nil
}

// CacheKey 由指标名、行情表标识与参数共同组成。
func CacheKey(name string, table market.Table, params map[string]interface{}) string {
	return fmt.Sprintf("%s|%s|%s", strings.ToLower(name), table.Identity(), canonicalParams(params))
}

func canonicalParams(params map[string]interface{}) string {
	if len(params) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return strings.Join(parts, ",")
}

// intParam 从参数表解析整型参数，缺失时返回默认值。
func intParam(params map[string]interface{}, key string, fallback int) (int, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return fallback, nil
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("indicator: 参数 %s 必须为整数", key)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("indicator: 参数 %s 类型无效 (%T)", key, raw)
	}
}

func requirePositivePeriod(params map[string]interface{}, fallback int) (int, error) {
	period, err := intParam(params, "period", fallback)
	if err != nil {
		return 0, err
	}
	if period <= 0 {
		return 0, fmt.Errorf("indicator: period 必须大于0")
	}
	return period, nil
}
