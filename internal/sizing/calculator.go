// Package sizing 将信号转换为市价调仓单与保护性止损单。
// 目标比例计算与止损价计算为独立的小策略对象，通过组合注入。
package sizing

import (
	"context"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
	"go.uber.org/zap"

	"quantfolio/internal/broker"
	"quantfolio/internal/ledger"
	"quantfolio/internal/market"
)

// TargetCalculator 计算单个信号的目标组合比例（带符号）。
type TargetCalculator interface {
	TargetPercent(ctx context.Context, signal ledger.Signal) (float64, error)
}

// SimpleTarget 直接使用建议敞口方向满仓（±100%）。
type SimpleTarget struct{}

var _ TargetCalculator = SimpleTarget{}

func (SimpleTarget) TargetPercent(_ context.Context, signal ledger.Signal) (float64, error) {
	return signal.SuggestedExposure.Value(), nil
}

// InitialRiskTarget 按初始风险预算反推仓位：比例 = initial_risk / fraction_at_risk，
// 止损越远仓位越小，使单笔最大亏损近似恒定。
type InitialRiskTarget struct {
	InitialRisk         float64
	MaxTargetPercentage float64
}

var _ TargetCalculator = InitialRiskTarget{}

func (c InitialRiskTarget) TargetPercent(_ context.Context, signal ledger.Signal) (float64, error) {
	target := c.InitialRisk / signal.FractionAtRisk
	if target > c.MaxTargetPercentage {
		target = c.MaxTargetPercentage
	}
	return target * signal.SuggestedExposure.Value(), nil
}

// InitialRiskWithVolumeTarget 在初始风险仓位之上再按近期平均成交量设上限，
// 避免仓位相对市场流动性过大。组合 InitialRiskTarget 而非继承。
type InitialRiskWithVolumeTarget struct {
	Risk              InitialRiskTarget
	Broker            broker.Broker
	Data              market.DataProvider
	VolumeCapFraction float64
	VolumeBars        int
	Logger            *zap.Logger
}

var _ TargetCalculator = (*InitialRiskWithVolumeTarget)(nil)

func (c *InitialRiskWithVolumeTarget) TargetPercent(ctx context.Context, signal ledger.Signal) (float64, error) {
	target, err := c.Risk.TargetPercent(ctx, signal)
	if err != nil {
		return 0, err
	}

	volumes, err := c.Data.VolumeHistory(ctx, signal.Ticker, c.VolumeBars)
	if err != nil {
		return 0, fmt.Errorf("sizing: 读取 %s 成交量失败: %w", signal.Ticker.ID(), err)
	}
	if len(volumes) == 0 {
		if c.Logger != nil {
			c.Logger.Warn("成交量序列为空，跳过流动性上限", zap.String("ticker", signal.Ticker.ID()))
		}
		return target, nil
	}

	averageVolume := lastValue(talib.Sma(volumes, len(volumes)))

	prices, err := c.Data.LastAvailablePrice(ctx, []ledger.Ticker{signal.Ticker})
	if err != nil {
		return 0, err
	}
	portfolioValue, err := c.Broker.GetPortfolioValue(ctx)
	if err != nil {
		return 0, fmt.Errorf("sizing: 读取组合净值失败: %w", err)
	}

	capNotional := averageVolume * c.VolumeCapFraction * prices[signal.Ticker] * signal.Ticker.PointValue()
	capPercent := capNotional / portfolioValue
	if math.Abs(target) > capPercent {
		target = math.Copysign(capPercent, target)
	}
	return target, nil
}

// FixedPercentageTarget 按固定的组合比例建仓。
type FixedPercentageTarget struct {
	Percentage float64
}

var _ TargetCalculator = FixedPercentageTarget{}

func (c FixedPercentageTarget) TargetPercent(_ context.Context, signal ledger.Signal) (float64, error) {
	return signal.SuggestedExposure.Value() * c.Percentage, nil
}

func lastValue(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}
