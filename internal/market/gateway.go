package market

import (
	"context"
	"fmt"
	"sort"
)

// Gateway 抽象行情来源。具体实现负责与交易所的线协议交互。
type Gateway interface {
	Initialize(ctx context.Context) error
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
}

// Registry 保存按名称注册的交易所网关，组合阶段一次性构建。
type Registry struct {
	gateways map[string]Gateway
}

// NewRegistry 创建空的网关注册表。
func NewRegistry() *Registry {
	return &Registry{gateways: make(map[string]Gateway)}
}

// Register 注册网关，同名覆盖。
func (r *Registry) Register(name string, gw Gateway) {
	r.gateways[name] = gw
}

// Resolve 按名称解析网关。
func (r *Registry) Resolve(name string) (Gateway, error) {
	gw, ok := r.gateways[name]
	if !ok {
		return nil, fmt.Errorf("market: 未注册的交易所 %q", name)
	}
	return gw, nil
}

// Names 返回已注册的交易所名称，按字典序。
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
