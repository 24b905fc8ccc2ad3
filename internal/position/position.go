package position

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side 表示持仓方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide 解析方向字符串，未知值回落为 buy。
func ParseSide(raw string) Side {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sell", "short":
		return SideSell
	default:
		return SideBuy
	}
}

// Position 表示某交易所上的一个持仓。
// 金额与数量统一使用 decimal，避免与阈值比较时出现浮点漂移。
type Position struct {
	Symbol        string
	Exchange      string
	Side          Side
	EntryPrice    decimal.Decimal
	CurrentPrice  decimal.Decimal
	Quantity      decimal.Decimal
	Value         decimal.Decimal
	UnrealizedPnl decimal.Decimal
	RealizedPnl   decimal.Decimal
	EntryTime     time.Time
	// HighestPrice 仅被移动止损使用，买向持仓上单调不减。零值表示尚未记录。
	HighestPrice decimal.Decimal
}

// Key 返回仓位的唯一标识 exchange:symbol。
func (p Position) Key() string {
	return MakeKey(p.Exchange, p.Symbol)
}

// MakeKey 组合仓位标识。
func MakeKey(exchange, symbol string) string {
	return fmt.Sprintf("%s:%s", exchange, symbol)
}

// Asset 返回交易对的基础资产，如 BTC/USDT -> BTC。
func (p Position) Asset() string {
	return AssetFromSymbol(p.Symbol)
}

// AssetFromSymbol 从交易对符号提取基础资产。
func AssetFromSymbol(symbol string) string {
	s := strings.TrimSpace(symbol)
	if idx := strings.Index(s, "/"); idx > 0 {
		s = s[:idx]
	}
	if idx := strings.Index(s, ":"); idx > 0 {
		s = s[:idx]
	}
	return strings.ToUpper(s)
}

// ProfitPercent 返回按方向计算的盈利百分比，亏损时为负。
func (p Position) ProfitPercent() decimal.Decimal {
	if p.EntryPrice.IsZero() {
		return decimal.Zero
	}
	hundred := decimal.NewFromInt(100)
	diff := p.CurrentPrice.Sub(p.EntryPrice)
	if p.Side == SideSell {
		diff = p.EntryPrice.Sub(p.CurrentPrice)
	}
	return diff.Div(p.EntryPrice).Mul(hundred)
}

// LossPercent 返回按方向计算的亏损百分比，盈利时为负。
func (p Position) LossPercent() decimal.Decimal {
	return p.ProfitPercent().Neg()
}
