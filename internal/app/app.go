package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"quantfolio/internal/alpha"
	"quantfolio/internal/broker"
	"quantfolio/internal/config"
	"quantfolio/internal/exchange"
	"quantfolio/internal/ledger"
	"quantfolio/internal/limits"
	"quantfolio/internal/market"
	"quantfolio/internal/orders"
	"quantfolio/internal/report"
	"quantfolio/internal/rolling"
	"quantfolio/internal/sizing"
	"quantfolio/internal/store"
)

// Universe 描述交易范围：标的、合约映射、期货家族，以及可选的
// 信号源与行情源。行情源在回测模式下必填，实盘模式留空时走交易所。
type Universe struct {
	Tickers  []ledger.Ticker
	Mapper   ledger.ContractMapper
	Families []ledger.FutureTicker
	Source   alpha.SignalSource
	Data     market.DataProvider
}

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     *store.Store
	universe  Universe
	tracker   *report.Tracker
	simulated *broker.Simulated
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, st *store.Store, universe Universe) *App {
	return &App{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		universe: universe,
	}
}

// Run 组装调仓流水线并按配置的周期驱动。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("组合系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("mode", a.cfg.App.Mode),
		zap.Int("tickers", len(a.universe.Tickers)),
		zap.Int("future_families", len(a.universe.Families)),
	)

	session, err := a.buildSession()
	if err != nil {
		return err
	}

	if a.cfg.Review.Enabled && a.store != nil {
		startReviewServer(ctx, store.NewJournal(a.store, a.logger), a.cfg.Review.Port, a.logger)
	}

	cycleInterval := a.cfg.Scheduler.CycleInterval
	if cycleInterval <= 0 {
		cycleInterval = 24 * time.Hour
	}

	if err = session.RunCycle(ctx); err != nil {
		a.logger.Error("首个调仓周期失败", zap.Error(err))
	}

	ticker := time.NewTicker(cycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("系统异常退出: %w", err)
			}
			a.logger.Info("系统收到退出信号，正在停止")
			a.logSummary()
			return nil
		case <-ticker.C:
			if err = session.RunCycle(ctx); err != nil {
				a.logger.Error("调仓周期失败", zap.Error(err))
			}
		}
	}
}

func (a *App) buildSession() (*Session, error) {
	clock := func() time.Time { return time.Now().UTC() }

	data, brokerImpl, err := a.buildBrokerage(clock)
	if err != nil {
		return nil, err
	}

	source := a.universe.Source
	if source == nil {
		if !a.cfg.OpenAI.Enabled {
			return nil, errors.New("app: 未提供信号源且 openai 未启用")
		}
		source, err = alpha.NewOpenAISource(a.cfg.OpenAI, clock, a.logger)
		if err != nil {
			return nil, fmt.Errorf("初始化模型信号源失败: %w", err)
		}
	}

	// 周期内的价格与成交量读取都经过预取服务，命中快照时不再回源。
	prefetch := market.NewService(data, a.logger)

	calculator, err := a.buildCalculator(brokerImpl, prefetch)
	if err != nil {
		return nil, err
	}

	factory := orders.NewFactory(brokerImpl, prefetch, a.universe.Mapper, a.cfg.Orders.DisableRounding, a.logger)
	sizer := sizing.NewSizer(
		factory, brokerImpl, prefetch, a.universe.Mapper, calculator,
		a.cfg.Sizing.UseStopLosses, a.cfg.Sizing.TolerancePercentage,
		ledger.TimeInForce(a.cfg.Sizing.TimeInForce), a.logger,
	)
	enforcer := limits.NewEnforcer(brokerImpl, a.universe.Mapper, a.cfg.Limits.MaxOpenPositions, clock, a.logger)
	roller := rolling.NewGenerator(factory, brokerImpl, a.universe.Mapper, a.universe.Families, clock, a.logger)

	var journal *store.Journal
	if a.store != nil {
		journal = store.NewJournal(a.store, a.logger)
	}

	volumeBars := 0
	if a.cfg.Sizing.Strategy == config.StrategyInitialRiskVolume {
		volumeBars = a.cfg.Sizing.VolumeBars
	}

	return NewSession(
		brokerImpl, source, enforcer, sizer, roller, prefetch, journal, a.tracker,
		a.universe.Tickers, volumeBars, clock, a.logger,
	), nil
}

func (a *App) buildBrokerage(clock func() time.Time) (market.DataProvider, broker.Broker, error) {
	if a.cfg.App.Mode == "live" {
		client, err := exchange.NewClient(a.cfg.Exchange, a.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("初始化交易所客户端失败: %w", err)
		}
		data := exchange.NewData(client, a.universe.Mapper, a.logger)
		live := exchange.NewLive(client, a.universe.Mapper, a.cfg.Exchange.Quote, a.logger)
		return data, live, nil
	}

	if a.universe.Data == nil {
		return nil, nil, errors.New("app: 回测模式需要提供行情源")
	}
	simulated := broker.NewSimulated(
		a.universe.Data, a.universe.Mapper,
		a.cfg.Portfolio.InitialCash, a.cfg.Portfolio.CommissionPerShare,
		clock, a.logger,
	)
	a.simulated = simulated
	a.tracker = report.NewTracker(a.cfg.Scheduler.CycleInterval)
	return a.universe.Data, simulated, nil
}

// logSummary 在回测结束时输出绩效汇总。实盘模式不记净值序列。
func (a *App) logSummary() {
	if a.tracker == nil || a.simulated == nil {
		return
	}
	metrics := a.tracker.Metrics()
	stats := report.Summarize(a.simulated.Book().All())
	a.logger.Info("回测绩效汇总",
		zap.Float64("total_return", metrics.TotalReturn),
		zap.Float64("max_drawdown", metrics.MaxDrawdown),
		zap.Float64("sharpe_ratio", metrics.SharpeRatio),
		zap.Int("closed_trades", stats.ClosedTrades),
		zap.Int("winners", stats.Winners),
		zap.Float64("realized_pnl", stats.RealizedPnL),
		zap.Float64("cash", a.simulated.Cash()),
	)
}

func (a *App) buildCalculator(b broker.Broker, data market.DataProvider) (sizing.TargetCalculator, error) {
	switch a.cfg.Sizing.Strategy {
	case config.StrategySimple:
		return sizing.SimpleTarget{}, nil
	case config.StrategyInitialRisk:
		return sizing.InitialRiskTarget{
			InitialRisk:         a.cfg.Sizing.InitialRisk,
			MaxTargetPercentage: a.cfg.Sizing.MaxTargetPercentage,
		}, nil
	case config.StrategyInitialRiskVolume:
		return &sizing.InitialRiskWithVolumeTarget{
			Risk: sizing.InitialRiskTarget{
				InitialRisk:         a.cfg.Sizing.InitialRisk,
				MaxTargetPercentage: a.cfg.Sizing.MaxTargetPercentage,
			},
			Broker:            b,
			Data:              data,
			VolumeCapFraction: a.cfg.Sizing.VolumeCapFraction,
			VolumeBars:        a.cfg.Sizing.VolumeBars,
			Logger:            a.logger,
		}, nil
	case config.StrategyFixedPercentage:
		return sizing.FixedPercentageTarget{
			Percentage: a.cfg.Sizing.FixedPercentage,
		}, nil
	default:
		return nil, fmt.Errorf("app: 不支持的定量策略 %q", a.cfg.Sizing.Strategy)
	}
}
