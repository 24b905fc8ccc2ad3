package trading

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide 表示下单方向。
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType 表示订单类型。
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderRequest 抽象一笔待提交的委托。Price 仅对限价单有意义。
type OrderRequest struct {
	Exchange string
	Symbol   string
	Side     OrderSide
	Type     OrderType
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Params   map[string]interface{}
}

// Order 为交易所返回的订单摘要。
type Order struct {
	ID             string
	Symbol         string
	Exchange       string
	Side           OrderSide
	Type           OrderType
	Status         string
	Quantity       decimal.Decimal
	FilledQuantity decimal.Decimal
	Price          decimal.Decimal
	CreatedAt      time.Time
	Simulated      bool
}

// Service 抽象下单通道，方便切换真实或模拟实现。
type Service interface {
	CreateOrder(ctx context.Context, req OrderRequest) (Order, error)
}
