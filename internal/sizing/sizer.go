package sizing

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"quantfolio/internal/broker"
	"quantfolio/internal/ledger"
	"quantfolio/internal/market"
	"quantfolio/internal/orders"
	"quantfolio/internal/position"
)

var (
	// ErrTooManyPositions 表示同一标的匹配到的持仓数量超出允许值。
	// 普通标的最多 1 个，期货家族在移仓窗口内最多 2 个。
	ErrTooManyPositions = errors.New("sizing: 同一标的持仓数量超限")
	// ErrUnexpectedOrders 表示工厂为单个标的产生了多于一条市价单。
	ErrUnexpectedOrders = errors.New("sizing: 单个标的市价单数量异常")
)

// Sizer 执行共享的信号定量流程：校验信号、解析当前持仓、
// 计算目标比例、生成市价单，并在启用止损时附加保护性止损单。
type Sizer struct {
	factory       *orders.Factory
	broker        broker.Broker
	data          market.DataProvider
	mapper        ledger.ContractMapper
	calculator    TargetCalculator
	useStopLosses bool
	tolerance     float64
	tif           ledger.TimeInForce
	logger        *zap.Logger
}

// NewSizer 创建仓位定量器。useStopLosses 为假时完全不生成止损单。
func NewSizer(factory *orders.Factory, b broker.Broker, data market.DataProvider, mapper ledger.ContractMapper, calculator TargetCalculator, useStopLosses bool, tolerance float64, tif ledger.TimeInForce, logger *zap.Logger) *Sizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sizer{
		factory:       factory,
		broker:        b,
		data:          data,
		mapper:        mapper,
		calculator:    calculator,
		useStopLosses: useStopLosses,
		tolerance:     tolerance,
		tif:           tif,
		logger:        logger,
	}
}

// SizeSignals 将一批信号转换为订单列表。市价单在前、止损单在后，
// 调用方按顺序提交即可。任一信号非法时整批拒绝。
func (s *Sizer) SizeSignals(ctx context.Context, signals []ledger.Signal) ([]ledger.Order, error) {
	var invalid error
	for _, signal := range signals {
		invalid = multierr.Append(invalid, signal.Validate())
	}
	if invalid != nil {
		return nil, fmt.Errorf("sizing: 信号校验失败: %w", invalid)
	}

	// 先读取尚未撤销的止损单，保证止损价只收紧不放松。
	openStops, err := s.openStopOrders(ctx)
	if err != nil {
		return nil, err
	}

	positions, err := s.broker.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("sizing: 读取持仓失败: %w", err)
	}

	existing := make(map[string]float64, len(signals))
	for _, signal := range signals {
		quantity, err := s.matchingQuantity(signal.Ticker, positions)
		if err != nil {
			return nil, err
		}
		existing[signal.Ticker.ID()] = quantity
	}

	percentages := make(map[ledger.Ticker]float64, len(signals))
	for _, signal := range signals {
		target, err := s.calculator.TargetPercent(ctx, signal)
		if err != nil {
			return nil, err
		}
		percentages[signal.Ticker] = target
	}

	marketOrders, err := s.factory.TargetPercentOrders(ctx, percentages, ledger.MarketStyle(), s.tif, s.tolerance)
	if err != nil {
		return nil, err
	}

	out := append([]ledger.Order(nil), marketOrders...)
	if !s.useStopLosses {
		return out, nil
	}

	stops, err := s.stopOrders(ctx, signals, marketOrders, existing, openStops)
	if err != nil {
		return nil, err
	}
	return append(out, stops...), nil
}

// stopOrders 为每个非 OUT 信号计算保护性止损单。止损数量恰好抵消
// 市价单成交后的持仓，触发即完全离场。
func (s *Sizer) stopOrders(ctx context.Context, signals []ledger.Signal, marketOrders []ledger.Order, existing map[string]float64, openStops map[string]float64) ([]ledger.Order, error) {
	active := make([]ledger.Signal, 0, len(signals))
	lookup := make([]ledger.Ticker, 0, len(signals))
	specifics := make(map[string]ledger.Ticker, len(signals))
	for _, signal := range signals {
		if signal.SuggestedExposure == ledger.Out {
			continue
		}
		specific, err := resolveSpecific(signal.Ticker)
		if err != nil {
			return nil, err
		}
		active = append(active, signal)
		lookup = append(lookup, specific)
		specifics[signal.Ticker.ID()] = specific
	}
	if len(active) == 0 {
		return nil, nil
	}

	prices, err := s.data.LastAvailablePrice(ctx, lookup)
	if err != nil {
		return nil, err
	}

	stops := make([]ledger.Order, 0, len(active))
	for _, signal := range active {
		specific := specifics[signal.Ticker.ID()]

		marketQuantity, err := marketOrderQuantity(marketOrders, specific)
		if err != nil {
			return nil, err
		}

		stopQuantity := -(existing[signal.Ticker.ID()] + marketQuantity)
		if stopQuantity == 0 {
			continue
		}

		sign := signal.SuggestedExposure.Value()
		stopPrice := prices[specific] * (1 - signal.FractionAtRisk*sign)

		// 持仓未归零时止损价只能更紧：多头取更高者，空头取更低者。
		if previous, ok := openStops[specific.ID()]; ok {
			if sign > 0 && previous > stopPrice {
				stopPrice = previous
			}
			if sign < 0 && previous < stopPrice {
				stopPrice = previous
			}
		}

		stops = append(stops, ledger.Order{
			Ticker:   specific,
			Quantity: stopQuantity,
			Style:    ledger.StopStyle(stopPrice),
			TIF:      ledger.TIFGTC,
		})
	}
	return stops, nil
}

// matchingQuantity 汇总与信号标的匹配的持仓数量，并断言持仓个数
// 不超过允许值。期货家族按 BelongsToFamily 匹配，移仓期间允许 2 个。
func (s *Sizer) matchingQuantity(ticker ledger.Ticker, positions []*position.Position) (float64, error) {
	future, isFuture := ticker.(ledger.FutureTicker)
	allowed := 1
	if isFuture {
		allowed = 2
	}

	count := 0
	quantity := 0.0
	for _, pos := range positions {
		posTicker, err := s.mapper.ContractToTicker(pos.Contract())
		if err != nil {
			return 0, fmt.Errorf("sizing: 持仓合约映射失败: %w", err)
		}

		matched := false
		if isFuture {
			matched = future.BelongsToFamily(posTicker)
		} else {
			matched = posTicker.ID() == ticker.ID()
		}
		if !matched {
			continue
		}

		count++
		quantity += pos.Quantity()
	}

	if count > allowed {
		return 0, fmt.Errorf("%w: %s 匹配到 %d 个持仓，上限 %d", ErrTooManyPositions, ticker.ID(), count, allowed)
	}
	return quantity, nil
}

// openStopOrders 按具体标的收集当前挂起的止损价。
func (s *Sizer) openStopOrders(ctx context.Context) (map[string]float64, error) {
	open, err := s.broker.GetOpenOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("sizing: 读取未成交订单失败: %w", err)
	}

	stops := make(map[string]float64)
	for _, openOrder := range open {
		order := openOrder.Order
		if order.Style.Kind != ledger.StyleStop {
			continue
		}
		stops[order.Ticker.ID()] = order.Style.StopPrice
	}
	return stops, nil
}

func marketOrderQuantity(marketOrders []ledger.Order, specific ledger.Ticker) (float64, error) {
	quantity := 0.0
	count := 0
	for _, order := range marketOrders {
		if order.Ticker.ID() != specific.ID() {
			continue
		}
		count++
		quantity = order.Quantity
	}
	if count > 1 {
		return 0, fmt.Errorf("%w: %s 出现 %d 条市价单", ErrUnexpectedOrders, specific.ID(), count)
	}
	return quantity, nil
}

func resolveSpecific(t ledger.Ticker) (ledger.Ticker, error) {
	future, ok := t.(ledger.FutureTicker)
	if !ok {
		return t, nil
	}
	specific, err := future.CurrentTicker()
	if err != nil {
		return nil, fmt.Errorf("sizing: 解析 %s 当前合约失败: %w", t.ID(), err)
	}
	return specific, nil
}
