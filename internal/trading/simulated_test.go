package trading

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
)

func TestSimulatedService_FillsImmediately(t *testing.T) {
	svc := NewSimulatedService(nil)

	order, err := svc.CreateOrder(context.Background(), OrderRequest{
		Exchange: "binance",
		Symbol:   "BTC/USDT",
		Side:     OrderSideBuy,
		Type:     OrderTypeMarket,
		Quantity: decimal.NewFromFloat(0.5),
	})
	if err != nil {
		t.Fatalf("CreateOrder 失败: %v", err)
	}
	if order.ID != "sim-1" {
		t.Fatalf("订单 ID 应当按序号生成, got %s", order.ID)
	}
	if order.Status != "filled" || !order.Simulated {
		t.Fatalf("模拟订单应当立即成交: %+v", order)
	}
	if !order.FilledQuantity.Equal(order.Quantity) {
		t.Fatal("模拟成交数量应当等于请求数量")
	}

	if got := svc.Orders(); len(got) != 1 {
		t.Fatalf("期望记录 1 笔订单, got %d", len(got))
	}
}

func TestSimulatedService_RejectsNonPositiveQuantity(t *testing.T) {
	svc := NewSimulatedService(nil)

	_, err := svc.CreateOrder(context.Background(), OrderRequest{
		Symbol:   "BTC/USDT",
		Side:     OrderSideBuy,
		Type:     OrderTypeMarket,
		Quantity: decimal.Zero,
	})
	if err == nil {
		t.Fatal("零数量订单应当被拒绝")
	}
	if len(svc.Orders()) != 0 {
		t.Fatal("被拒绝的订单不应入账")
	}
}

func TestSimulatedService_HonorsContextCancellation(t *testing.T) {
	svc := NewSimulatedService(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := svc.CreateOrder(ctx, OrderRequest{
		Symbol:   "BTC/USDT",
		Side:     OrderSideSell,
		Type:     OrderTypeMarket,
		Quantity: decimal.NewFromInt(1),
	}); err == nil {
		t.Fatal("已取消的上下文应当中止下单")
	}
}
