package trading

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SimulatedService 不触达交易所，仅记录订单，用于模拟盘运行。
type SimulatedService struct {
	logger *zap.Logger

	mu     sync.Mutex
	seq    int64
	orders []Order
}

var _ Service = (*SimulatedService)(nil)

// NewSimulatedService 创建模拟下单服务。
func NewSimulatedService(logger *zap.Logger) *SimulatedService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimulatedService{logger: logger}
}

// CreateOrder 立即按请求数量模拟成交。
func (s *SimulatedService) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		return Order{}, fmt.Errorf("trading: 订单数量必须为正: %s", req.Quantity)
	}

	s.mu.Lock()
	s.seq++
	order := Order{
		ID:             fmt.Sprintf("sim-%d", s.seq),
		Exchange:       req.Exchange,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Type:           req.Type,
		Status:         "filled",
		Quantity:       req.Quantity,
		FilledQuantity: req.Quantity,
		Price:          req.Price,
		CreatedAt:      time.Now(),
		Simulated:      true,
	}
	s.orders = append(s.orders, order)
	s.mu.Unlock()

	s.logger.Info("模拟订单成交",
		zap.String("order_id", order.ID),
		zap.String("exchange", req.Exchange),
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.String("quantity", req.Quantity.String()))
	return order, nil
}

// Orders 返回已记录订单的副本。
func (s *SimulatedService) Orders() []Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Order, len(s.orders))
	copy(out, s.orders)
	return out
}
