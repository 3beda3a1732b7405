// Package report 基于周期末组合净值与已平仓仓位计算绩效指标。
package report

import (
	"math"
	"time"

	"quantfolio/internal/position"
)

// Metrics 记录组合绩效指标。
type Metrics struct {
	TotalReturn float64
	MaxDrawdown float64
	SharpeRatio float64
}

// TradeStats 汇总已平仓仓位的交易表现。
type TradeStats struct {
	ClosedTrades int
	Winners      int
	RealizedPnL  float64
}

// Tracker 逐周期记录组合净值。非并发安全，由调仓会话单线程驱动。
type Tracker struct {
	cycleInterval time.Duration
	equity        []float64
}

// NewTracker 创建净值跟踪器。cycleInterval 用于夏普比率年化。
func NewTracker(cycleInterval time.Duration) *Tracker {
	if cycleInterval <= 0 {
		cycleInterval = 24 * time.Hour
	}
	return &Tracker{cycleInterval: cycleInterval}
}

// Observe 记录一个周期结束时的组合净值。
func (t *Tracker) Observe(value float64) {
	t.equity = append(t.equity, value)
}

// Metrics 基于已记录的净值序列计算绩效指标。
func (t *Tracker) Metrics() Metrics {
	if len(t.equity) == 0 {
		return Metrics{}
	}

	initial := t.equity[0]
	final := t.equity[len(t.equity)-1]
	totalReturn := 0.0
	if initial > 0 {
		totalReturn = final/initial - 1
	}

	return Metrics{
		TotalReturn: totalReturn,
		MaxDrawdown: computeDrawdown(t.equity),
		SharpeRatio: computeSharpe(t.returns(), t.cycleInterval),
	}
}

func (t *Tracker) returns() []float64 {
	if len(t.equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(t.equity)-1)
	for i := 1; i < len(t.equity); i++ {
		if t.equity[i-1] <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, t.equity[i]/t.equity[i-1]-1)
	}
	return out
}

// Summarize 统计已平仓仓位的胜率与累计已实现盈亏。
func Summarize(positions []*position.Position) TradeStats {
	var stats TradeStats
	for _, pos := range positions {
		if !pos.IsClosed() {
			continue
		}
		stats.ClosedTrades++
		stats.RealizedPnL += pos.RealizedPnL()
		if pos.RealizedPnL() > 0 {
			stats.Winners++
		}
	}
	return stats
}

func computeDrawdown(equity []float64) float64 {
	var peak float64
	maxDD := 0.0
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		dd := (v - peak) / peak
		if dd < maxDD {
			maxDD = dd
		}
	}
	return math.Abs(maxDD)
}

func computeSharpe(returns []float64, cycleInterval time.Duration) float64 {
	if len(returns) == 0 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		diff := r - mean
		variance += diff * diff
	}
	if len(returns) > 1 {
		variance /= float64(len(returns) - 1)
	}

	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}

	// 按周期间隔换算年化因子
	cyclesPerYear := float64(365*24*time.Hour) / float64(cycleInterval)
	return (mean / std) * math.Sqrt(cyclesPerYear)
}
