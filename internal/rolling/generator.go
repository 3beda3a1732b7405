// Package rolling 为过期的期货具体合约生成平仓订单。
package rolling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"quantfolio/internal/broker"
	"quantfolio/internal/ledger"
	"quantfolio/internal/orders"
)

// Generator 检查每个跟踪中的期货家族，对不再是当前合约的持仓
// 生成目标比例为零的平仓单。平仓单必须先于新合约的建仓单提交。
type Generator struct {
	factory  *orders.Factory
	broker   broker.Broker
	mapper   ledger.ContractMapper
	families []ledger.FutureTicker
	clock    func() time.Time
	logger   *zap.Logger
}

// NewGenerator 创建移仓订单生成器。
func NewGenerator(factory *orders.Factory, b broker.Broker, mapper ledger.ContractMapper, families []ledger.FutureTicker, clock func() time.Time, logger *zap.Logger) *Generator {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		factory:  factory,
		broker:   b,
		mapper:   mapper,
		families: families,
		clock:    clock,
		logger:   logger,
	}
}

// RollOrders 返回过期合约的平仓订单（市价、GTC）。任何家族的当前
// 合约都不会被平仓，即便它恰好匹配另一个家族。
func (g *Generator) RollOrders(ctx context.Context) ([]ledger.Order, error) {
	// 链上已无有效合约的家族按“无当前合约”处理，不视为错误。
	current := make(map[string]bool, len(g.families))
	for _, family := range g.families {
		specific, err := family.CurrentTicker()
		if err != nil {
			if errors.Is(err, ledger.ErrNoValidTicker) {
				g.logger.Warn("期货家族没有有效的当前合约", zap.String("family", family.ID()))
				continue
			}
			return nil, fmt.Errorf("rolling: 解析 %s 当前合约失败: %w", family.ID(), err)
		}
		current[specific.ID()] = true
	}

	positions, err := g.broker.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("rolling: 读取持仓失败: %w", err)
	}

	expired := make(map[ledger.Ticker]float64)
	for _, pos := range positions {
		ticker, err := g.mapper.ContractToTicker(pos.Contract())
		if err != nil {
			return nil, fmt.Errorf("rolling: 持仓合约映射失败: %w", err)
		}
		if current[ticker.ID()] {
			continue
		}

		family := g.familyOf(ticker)
		if family == nil {
			continue
		}

		g.checkOfficialExpiration(family, ticker)
		expired[ticker] = 0
	}

	if len(expired) == 0 {
		return nil, nil
	}
	return g.factory.TargetPercentOrders(ctx, expired, ledger.MarketStyle(), ledger.TIFGTC, 0)
}

func (g *Generator) familyOf(ticker ledger.Ticker) ledger.FutureTicker {
	for _, family := range g.families {
		if family.BelongsToFamily(ticker) {
			return family
		}
	}
	return nil
}

// checkOfficialExpiration 核对过期合约的官方到期日。合约在官方
// 到期后仍有持仓说明之前的移仓失败，记录错误但不中断。
func (g *Generator) checkOfficialExpiration(family ledger.FutureTicker, ticker ledger.Ticker) {
	now := g.clock()
	for _, entry := range family.ExpirationDates() {
		if entry.Ticker.ID() != ticker.ID() {
			continue
		}
		if !entry.ExpirationDate.After(now) {
			g.logger.Error("合约已过官方到期日仍有持仓",
				zap.String("ticker", ticker.ID()),
				zap.Time("expiration", entry.ExpirationDate),
				zap.Time("now", now),
			)
		}
		return
	}
	g.logger.Error("缺少合约的官方到期日", zap.String("ticker", ticker.ID()))
}
