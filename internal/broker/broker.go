// Package broker 定义券商协作方的边界契约，并提供内存撮合的模拟实现。
// 订单提交在周期内按“即发即忘”处理，成交以 Transaction 形式回账。
package broker

import (
	"context"
	"errors"

	"quantfolio/internal/ledger"
	"quantfolio/internal/position"
)

// ErrOrderNotFound 表示撤单时找不到指定订单。
var ErrOrderNotFound = errors.New("broker: 找不到指定订单")

// OpenOrder 为留存在券商侧的未成交订单。
type OpenOrder struct {
	ID    string
	Order ledger.Order
}

// Broker 抽象券商能力，允许在模拟与实盘之间切换。
type Broker interface {
	GetPositions(ctx context.Context) ([]*position.Position, error)
	GetPortfolioValue(ctx context.Context) (float64, error)
	GetOpenOrders(ctx context.Context) ([]OpenOrder, error)
	PlaceOrders(ctx context.Context, orders []ledger.Order) ([]string, error)
	CancelOrder(ctx context.Context, orderID string) error
	CancelAllOpenOrders(ctx context.Context) error
}
