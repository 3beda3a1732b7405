package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"quantfolio/internal/app"
	"quantfolio/internal/config"
	"quantfolio/internal/exchange"
	"quantfolio/internal/ledger"
	"quantfolio/internal/log"
	"quantfolio/internal/store"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	sqliteStore, err := store.NewSQLite(cfg.Database)
	if err != nil {
		logger.Error("初始化数据库失败", zap.Error(err))
		os.Exit(1)
	}
	defer func() {
		if closeErr := sqliteStore.Close(); closeErr != nil {
			logger.Warn("关闭数据库失败", zap.Error(closeErr))
		}
	}()

	universe, err := buildUniverse(cfg, logger)
	if err != nil {
		logger.Error("构建交易范围失败", zap.Error(err))
		os.Exit(1)
	}

	portfolioApp := app.New(cfg, logger, sqliteStore, universe)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := portfolioApp.Run(ctx); err != nil {
		logger.Error("系统运行异常", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("系统已安全退出")
}

// buildUniverse 根据配置组装标的与合约映射。回测模式同样使用
// 交易所行情源，模拟券商按真实最新价撮合。
func buildUniverse(cfg *config.Config, logger *zap.Logger) (app.Universe, error) {
	mapper := ledger.NewStaticMapper()
	tickers := make([]ledger.Ticker, 0, len(cfg.Universe.Instruments))

	for _, instrument := range cfg.Universe.Instruments {
		var ticker ledger.Ticker
		contract := ledger.Contract{
			Symbol:   instrument.ContractSymbol,
			Exchange: instrument.Exchange,
		}
		if contract.Symbol == "" {
			contract.Symbol = instrument.Symbol
		}
		if contract.Exchange == "" {
			contract.Exchange = cfg.Exchange.Name
		}

		switch instrument.Type {
		case "crypto":
			ticker = ledger.NewCryptoTicker(instrument.Symbol, instrument.Precision)
			contract.SecType = ledger.SecurityTypeCrypto
		default:
			ticker = ledger.StockTicker{Symbol: instrument.Symbol}
			contract.SecType = ledger.SecurityTypeStock
		}

		mapper.Register(ticker, contract)
		tickers = append(tickers, ticker)
	}

	client, err := exchange.NewClient(cfg.Exchange, logger)
	if err != nil {
		return app.Universe{}, fmt.Errorf("初始化交易所客户端失败: %w", err)
	}

	return app.Universe{
		Tickers: tickers,
		Mapper:  mapper,
		Data:    exchange.NewData(client, mapper, logger),
	}, nil
}
