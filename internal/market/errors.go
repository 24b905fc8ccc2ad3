package market

import (
	"context"
	"errors"
	"fmt"
	"net"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

var (
	// ErrValidation 表示参数或请求本身不合法，重试没有意义。
	ErrValidation = errors.New("market validation error")
	// ErrMaintenance 表示交易所处于维护状态，需要上层跳过本轮。
	ErrMaintenance = errors.New("exchange on maintenance")
)

// ClassifyError 将交易所错误归一化。校验类错误被包装为 ErrValidation，
// 上层据此决定是否重试。
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.BadRequestErrType,
			ccxt.BadSymbolErrType,
			ccxt.ArgumentsRequiredErrType,
			ccxt.AuthenticationErrorErrType,
			ccxt.InvalidOrderErrType:
			return fmt.Errorf("%w: %v", ErrValidation, err)
		case ccxt.OnMaintenanceErrType:
			return fmt.Errorf("%w: %v", ErrMaintenance, err)
		}
	}

	return err
}

// IsRetryable 判断错误是否属于瞬时故障。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrMaintenance) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
