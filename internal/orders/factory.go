// Package orders 将目标数量、金额或组合比例转换为具体订单。
// 所有计算同步完成，除读取当前持仓与最新价格外没有副作用。
package orders

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"quantfolio/internal/broker"
	"quantfolio/internal/ledger"
	"quantfolio/internal/market"
)

var (
	// ErrMissingPrecision 表示向零截断的标的未声明数量精度。
	ErrMissingPrecision = errors.New("orders: 标的未声明数量精度")
	// ErrInvalidTolerance 表示容差比例不在 [0,1) 区间。
	ErrInvalidTolerance = errors.New("orders: tolerance 必须位于 [0,1)")
)

// Factory 将调仓意图转换为订单列表。取整开关在构造时显式传入，
// 不使用任何进程级可变状态。
type Factory struct {
	broker          broker.Broker
	data            market.DataProvider
	mapper          ledger.ContractMapper
	disableRounding bool
	logger          *zap.Logger
}

// NewFactory 创建订单工厂。disableRounding 为真时跳过数量取整（回测模式）。
func NewFactory(b broker.Broker, data market.DataProvider, mapper ledger.ContractMapper, disableRounding bool, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{
		broker:          b,
		data:            data,
		mapper:          mapper,
		disableRounding: disableRounding,
		logger:          logger,
	}
}

// Orders 为每个非零数量生成一条订单，并按带符号数量升序排列，
// 使卖单先于买单提交（同步券商需要先释放资金）。
func (f *Factory) Orders(quantities map[ledger.Ticker]float64, style ledger.ExecutionStyle, tif ledger.TimeInForce) []ledger.Order {
	out := make([]ledger.Order, 0, len(quantities))
	for ticker, quantity := range quantities {
		if quantity == 0 {
			continue
		}
		out = append(out, ledger.Order{
			Ticker:   ticker,
			Quantity: quantity,
			Style:    style,
			TIF:      tif,
		})
	}
	sortOrders(out)
	return out
}

// TargetOrders 将目标持仓数量转换为增量订单。期货家族标的先解析为
// 当前具体合约；增量按标的声明的取整策略处理，并套用无交易容差带。
func (f *Factory) TargetOrders(ctx context.Context, targets map[ledger.Ticker]float64, tolerances map[ledger.Ticker]float64, style ledger.ExecutionStyle, tif ledger.TimeInForce) ([]ledger.Order, error) {
	current, err := f.currentQuantities(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]ledger.Order, 0, len(targets))
	for ticker, target := range targets {
		specific, err := resolveSpecific(ticker)
		if err != nil {
			return nil, err
		}

		delta := target - current[specific.ID()]
		rounded, err := f.roundDelta(specific, delta)
		if err != nil {
			return nil, err
		}

		if !f.shouldEmit(specific, rounded, tolerances[ticker]) {
			continue
		}

		out = append(out, ledger.Order{
			Ticker:   specific,
			Quantity: rounded,
			Style:    style,
			TIF:      tif,
		})
	}
	sortOrders(out)
	return out, nil
}

// ValueOrders 按目标金额换算股数后生成订单（增量语义）。
func (f *Factory) ValueOrders(ctx context.Context, values map[ledger.Ticker]float64, style ledger.ExecutionStyle, tif ledger.TimeInForce, tolerancePercentage float64) ([]ledger.Order, error) {
	quantities, tolerances, err := f.valuesToQuantities(ctx, values, tolerancePercentage)
	if err != nil {
		return nil, err
	}

	out := make([]ledger.Order, 0, len(quantities))
	for ticker, quantity := range quantities {
		rounded, err := f.roundDelta(ticker, quantity)
		if err != nil {
			return nil, err
		}
		if !f.shouldEmit(ticker, rounded, tolerances[ticker]) {
			continue
		}
		out = append(out, ledger.Order{
			Ticker:   ticker,
			Quantity: rounded,
			Style:    style,
			TIF:      tif,
		})
	}
	sortOrders(out)
	return out, nil
}

// PercentOrders 按组合净值比例下单（增量语义）。
func (f *Factory) PercentOrders(ctx context.Context, percentages map[ledger.Ticker]float64, style ledger.ExecutionStyle, tif ledger.TimeInForce, tolerancePercentage float64) ([]ledger.Order, error) {
	values, err := f.percentagesToValues(ctx, percentages)
	if err != nil {
		return nil, err
	}
	return f.ValueOrders(ctx, values, style, tif, tolerancePercentage)
}

// TargetValueOrders 将目标持仓金额转换为增量订单。
func (f *Factory) TargetValueOrders(ctx context.Context, values map[ledger.Ticker]float64, style ledger.ExecutionStyle, tif ledger.TimeInForce, tolerancePercentage float64) ([]ledger.Order, error) {
	quantities, tolerances, err := f.valuesToQuantities(ctx, values, tolerancePercentage)
	if err != nil {
		return nil, err
	}
	return f.TargetOrders(ctx, quantities, tolerances, style, tif)
}

// TargetPercentOrders 将目标组合比例转换为增量订单。
// 容差以目标数量的比例表示，构成围绕目标配置的无交易带。
func (f *Factory) TargetPercentOrders(ctx context.Context, percentages map[ledger.Ticker]float64, style ledger.ExecutionStyle, tif ledger.TimeInForce, tolerancePercentage float64) ([]ledger.Order, error) {
	values, err := f.percentagesToValues(ctx, percentages)
	if err != nil {
		return nil, err
	}
	return f.TargetValueOrders(ctx, values, style, tif, tolerancePercentage)
}

func (f *Factory) percentagesToValues(ctx context.Context, percentages map[ledger.Ticker]float64) (map[ledger.Ticker]float64, error) {
	portfolioValue, err := f.broker.GetPortfolioValue(ctx)
	if err != nil {
		return nil, fmt.Errorf("orders: 读取组合净值失败: %w", err)
	}

	values := make(map[ledger.Ticker]float64, len(percentages))
	for ticker, percentage := range percentages {
		values[ticker] = percentage * portfolioValue
	}
	return values, nil
}

// valuesToQuantities 将金额换算为目标股数：quantity = value / (price × point_value)。
// 返回的容差为目标数量绝对值乘以容差比例。
func (f *Factory) valuesToQuantities(ctx context.Context, values map[ledger.Ticker]float64, tolerancePercentage float64) (map[ledger.Ticker]float64, map[ledger.Ticker]float64, error) {
	if tolerancePercentage < 0 || tolerancePercentage >= 1 {
		return nil, nil, fmt.Errorf("%w: 当前为 %f", ErrInvalidTolerance, tolerancePercentage)
	}

	specifics := make(map[ledger.Ticker]ledger.Ticker, len(values))
	lookup := make([]ledger.Ticker, 0, len(values))
	for ticker := range values {
		specific, err := resolveSpecific(ticker)
		if err != nil {
			return nil, nil, err
		}
		specifics[ticker] = specific
		lookup = append(lookup, specific)
	}

	prices, err := f.data.LastAvailablePrice(ctx, lookup)
	if err != nil {
		return nil, nil, err
	}

	quantities := make(map[ledger.Ticker]float64, len(values))
	tolerances := make(map[ledger.Ticker]float64, len(values))
	for ticker, value := range values {
		specific := specifics[ticker]
		price := prices[specific]
		if price <= 0 {
			return nil, nil, fmt.Errorf("%w: %s 价格非正", market.ErrPriceUnavailable, specific.ID())
		}
		quantity := value / (price * specific.PointValue())
		quantities[ticker] = quantity
		tolerances[ticker] = math.Abs(quantity) * tolerancePercentage
	}
	return quantities, tolerances, nil
}

// roundDelta 按标的声明的策略取整增量。
func (f *Factory) roundDelta(t ledger.Ticker, delta float64) (float64, error) {
	if f.disableRounding {
		return delta, nil
	}
	policy := t.Rounding()
	switch policy.Kind {
	case ledger.RoundTowardZero:
		if !policy.Declared {
			return 0, fmt.Errorf("%w: %s", ErrMissingPrecision, t.ID())
		}
		factor := math.Pow(10, float64(policy.Precision))
		return math.Trunc(delta*factor) / factor, nil
	default:
		return math.Floor(delta), nil
	}
}

// shouldEmit 套用无交易容差带：调整量落在容差内时抑制订单，
// 避免价格噪声引起的频繁换手。
func (f *Factory) shouldEmit(t ledger.Ticker, quantity, tolerance float64) bool {
	if math.Abs(quantity) <= tolerance {
		return false
	}
	if t.Rounding().Kind == ledger.RoundTowardZero {
		return !isClose(quantity, 0)
	}
	return quantity != 0
}

// isClose 为相对+绝对误差的近似相等判断。
func isClose(a, b float64) bool {
	return math.Abs(a-b) <= 1e-8+1e-5*math.Abs(b)
}

func resolveSpecific(t ledger.Ticker) (ledger.Ticker, error) {
	future, ok := t.(ledger.FutureTicker)
	if !ok {
		return t, nil
	}
	specific, err := future.CurrentTicker()
	if err != nil {
		return nil, fmt.Errorf("orders: 解析 %s 当前合约失败: %w", t.ID(), err)
	}
	return specific, nil
}

func (f *Factory) currentQuantities(ctx context.Context) (map[string]float64, error) {
	positions, err := f.broker.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("orders: 读取当前持仓失败: %w", err)
	}

	current := make(map[string]float64, len(positions))
	for _, pos := range positions {
		ticker, err := f.mapper.ContractToTicker(pos.Contract())
		if err != nil {
			return nil, fmt.Errorf("orders: 持仓合约映射失败: %w", err)
		}
		current[ticker.ID()] += pos.Quantity()
	}
	return current, nil
}

func sortOrders(orders []ledger.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].Quantity != orders[j].Quantity {
			return orders[i].Quantity < orders[j].Quantity
		}
		return orders[i].Ticker.ID() < orders[j].Ticker.ID()
	})
}
