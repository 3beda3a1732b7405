// Package limits 在定量之前限制同时持有的逻辑仓位数量。
package limits

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"go.uber.org/zap"

	"quantfolio/internal/broker"
	"quantfolio/internal/ledger"
)

// Enforcer 保证定量后的组合不超过最大仓位数。超出部分从新开仓信号中
// 降级为 OUT；已有仓位的信号永远不被降级。纯转换，不返回错误。
type Enforcer struct {
	broker           broker.Broker
	mapper           ledger.ContractMapper
	maxOpenPositions int
	clock            func() time.Time
	logger           *zap.Logger
}

// NewEnforcer 创建仓位数量限制器。maxOpenPositions 小于等于 0 时不做限制。
func NewEnforcer(b broker.Broker, mapper ledger.ContractMapper, maxOpenPositions int, clock func() time.Time, logger *zap.Logger) *Enforcer {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enforcer{
		broker:           b,
		mapper:           mapper,
		maxOpenPositions: maxOpenPositions,
		clock:            clock,
		logger:           logger,
	}
}

// Apply 返回可能被降级过的信号副本。随机源以当前模拟时间为种子，
// 同一时间点重复运行得到相同结果，且不会系统性偏向任何标的。
func (e *Enforcer) Apply(ctx context.Context, signals []ledger.Signal) []ledger.Signal {
	out := append([]ledger.Signal(nil), signals...)
	if e.maxOpenPositions <= 0 {
		return out
	}

	held := e.heldTickers(ctx)

	openCount := 0
	candidates := make([]int, 0, len(out))
	for i, signal := range out {
		if e.hasOpenPosition(signal.Ticker, held) {
			openCount++
			continue
		}
		if signal.SuggestedExposure != ledger.Out {
			candidates = append(candidates, i)
		}
	}

	excess := openCount + len(candidates) - e.maxOpenPositions
	if excess <= 0 {
		return out
	}
	if excess > len(candidates) {
		// 已持仓位自身就超过上限时只能降级全部新开仓候选，
		// 持仓信号永不降级。
		excess = len(candidates)
	}

	// 候选先按风险升序排定基准顺序，再做均匀随机置换挑选降级对象。
	sort.Slice(candidates, func(a, b int) bool {
		left, right := out[candidates[a]], out[candidates[b]]
		if left.FractionAtRisk != right.FractionAtRisk {
			return left.FractionAtRisk < right.FractionAtRisk
		}
		return left.Ticker.ID() < right.Ticker.ID()
	})

	rng := rand.New(rand.NewSource(e.clock().UnixNano()))
	for _, pick := range rng.Perm(len(candidates))[:excess] {
		index := candidates[pick]
		out[index].SuggestedExposure = ledger.Out
		e.logger.Info("仓位数量超限，信号降级为 OUT",
			zap.String("ticker", out[index].Ticker.ID()),
			zap.Float64("fraction_at_risk", out[index].FractionAtRisk),
			zap.Int("max_open_positions", e.maxOpenPositions),
		)
	}
	return out
}

// heldTickers 收集当前持仓对应的标的。映射失败按数据质量问题记录，
// 该持仓不占用仓位额度。
func (e *Enforcer) heldTickers(ctx context.Context) []ledger.Ticker {
	positions, err := e.broker.GetPositions(ctx)
	if err != nil {
		e.logger.Error("读取持仓失败，按无持仓处理", zap.Error(err))
		return nil
	}

	held := make([]ledger.Ticker, 0, len(positions))
	for _, pos := range positions {
		ticker, err := e.mapper.ContractToTicker(pos.Contract())
		if err != nil {
			e.logger.Error("持仓合约映射失败", zap.String("contract", pos.Contract().Key()), zap.Error(err))
			continue
		}
		held = append(held, ticker)
	}
	return held
}

// hasOpenPosition 判断信号标的是否已有持仓。期货家族的多个具体合约
// 折叠为一个逻辑仓位。
func (e *Enforcer) hasOpenPosition(ticker ledger.Ticker, held []ledger.Ticker) bool {
	future, isFuture := ticker.(ledger.FutureTicker)
	for _, h := range held {
		if isFuture {
			if future.BelongsToFamily(h) {
				return true
			}
			continue
		}
		if h.ID() == ticker.ID() {
			return true
		}
	}
	return false
}
