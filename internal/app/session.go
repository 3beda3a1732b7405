package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"quantfolio/internal/alpha"
	"quantfolio/internal/broker"
	"quantfolio/internal/ledger"
	"quantfolio/internal/limits"
	"quantfolio/internal/market"
	"quantfolio/internal/report"
	"quantfolio/internal/rolling"
	"quantfolio/internal/sizing"
	"quantfolio/internal/store"
)

// stopTrigger 由模拟券商实现，在行情推进后触发挂起的止损单。
type stopTrigger interface {
	TriggerStops(ctx context.Context) error
}

// fillDrainer 由模拟券商实现，取走周期内产生的成交用于流水落库。
type fillDrainer interface {
	DrainFills() []ledger.Transaction
}

// Session 驱动单个调仓周期。整个流水线单线程同步执行，
// 一个周期完整结束后才允许下一个周期开始。
type Session struct {
	broker     broker.Broker
	source     alpha.SignalSource
	enforcer   *limits.Enforcer
	sizer      *sizing.Sizer
	roller     *rolling.Generator
	prefetch   *market.Service
	journal    *store.Journal
	tracker    *report.Tracker
	tickers    []ledger.Ticker
	volumeBars int
	clock      func() time.Time
	logger     *zap.Logger
}

// NewSession 创建调仓会话。journal 为空时不落库，tracker 为空时不记净值。
func NewSession(b broker.Broker, source alpha.SignalSource, enforcer *limits.Enforcer, sizer *sizing.Sizer, roller *rolling.Generator, prefetch *market.Service, journal *store.Journal, tracker *report.Tracker, tickers []ledger.Ticker, volumeBars int, clock func() time.Time, logger *zap.Logger) *Session {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		broker:     b,
		source:     source,
		enforcer:   enforcer,
		sizer:      sizer,
		roller:     roller,
		prefetch:   prefetch,
		journal:    journal,
		tracker:    tracker,
		tickers:    tickers,
		volumeBars: volumeBars,
		clock:      clock,
		logger:     logger,
	}
}

// RunCycle 执行一个完整的调仓周期：触发止损、生成信号、限制仓位数量、
// 定量、生成移仓平仓单，随后撤销全部旧订单并按先平仓后建仓的顺序提交。
// 任何前置条件违规都会中断周期，避免错误账目向后累积。
func (s *Session) RunCycle(ctx context.Context) error {
	cycleStart := s.clock()

	if trigger, ok := s.broker.(stopTrigger); ok {
		if err := trigger.TriggerStops(ctx); err != nil {
			return fmt.Errorf("app: 触发止损失败: %w", err)
		}
	}

	// 预取成功后本周期的价格与成交量都从快照读取。
	if s.prefetch != nil {
		if _, err := s.prefetch.Prefetch(ctx, s.tickers, s.volumeBars); err != nil {
			s.logger.Warn("行情预取失败，本周期读取全部回源", zap.Error(err))
		}
	}

	signals, err := s.source.Signals(ctx, s.tickers)
	if err != nil {
		return fmt.Errorf("app: 生成信号失败: %w", err)
	}
	signals = s.enforcer.Apply(ctx, signals)

	// 定量必须先于撤单：止损价只收紧的约束依赖读取尚在挂起的止损单。
	sized, err := s.sizer.SizeSignals(ctx, signals)
	if err != nil {
		s.logSignals(signals)
		return fmt.Errorf("app: 信号定量失败: %w", err)
	}

	rolls, err := s.roller.RollOrders(ctx)
	if err != nil {
		return fmt.Errorf("app: 生成移仓订单失败: %w", err)
	}

	if err := s.broker.CancelAllOpenOrders(ctx); err != nil {
		return fmt.Errorf("app: 撤销旧订单失败: %w", err)
	}

	// 先提交移仓平仓单，避免新旧合约同时持仓造成瞬时超额敞口。
	if _, err := s.broker.PlaceOrders(ctx, rolls); err != nil {
		return fmt.Errorf("app: 提交移仓订单失败: %w", err)
	}
	if _, err := s.broker.PlaceOrders(ctx, sized); err != nil {
		return fmt.Errorf("app: 提交调仓订单失败: %w", err)
	}

	submitted := append(append([]ledger.Order(nil), rolls...), sized...)
	s.record(ctx, cycleStart, submitted)
	s.observeEquity(ctx)

	s.logger.Info("调仓周期完成",
		zap.Time("cycle_start", cycleStart),
		zap.Int("signals", len(signals)),
		zap.Int("roll_orders", len(rolls)),
		zap.Int("sizing_orders", len(sized)),
	)
	return nil
}

func (s *Session) record(ctx context.Context, cycleStart time.Time, submitted []ledger.Order) {
	if s.journal == nil {
		return
	}

	if err := s.journal.RecordOrders(ctx, cycleStart, submitted); err != nil {
		s.logger.Error("订单流水落库失败", zap.Error(err))
	}

	if drainer, ok := s.broker.(fillDrainer); ok {
		fills := drainer.DrainFills()
		if err := s.journal.RecordTransactions(ctx, fills); err != nil {
			s.logger.Error("成交流水落库失败", zap.Error(err))
		}
	}
}

func (s *Session) observeEquity(ctx context.Context) {
	if s.tracker == nil {
		return
	}
	value, err := s.broker.GetPortfolioValue(ctx)
	if err != nil {
		s.logger.Warn("周期末净值读取失败", zap.Error(err))
		return
	}
	s.tracker.Observe(value)
}

func (s *Session) logSignals(signals []ledger.Signal) {
	for _, signal := range signals {
		s.logger.Error("中断周期时的信号快照",
			zap.String("ticker", signal.Ticker.ID()),
			zap.String("exposure", signal.SuggestedExposure.String()),
			zap.Float64("fraction_at_risk", signal.FractionAtRisk),
			zap.Float64("confidence", signal.Confidence),
			zap.String("source", signal.Source),
		)
	}
}
