package exchange

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"quantfolio/internal/ledger"
	"quantfolio/internal/market"
)

// Data 基于交易所客户端提供行情读取，标的先经映射表换算为交易对符号。
type Data struct {
	client *Client
	mapper ledger.ContractMapper
	logger *zap.Logger
}

var _ market.DataProvider = (*Data)(nil)

// NewData 创建交易所行情源。
func NewData(client *Client, mapper ledger.ContractMapper, logger *zap.Logger) *Data {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Data{
		client: client,
		mapper: mapper,
		logger: logger,
	}
}

// LastAvailablePrice 并发拉取各标的最新成交价。
func (d *Data) LastAvailablePrice(ctx context.Context, tickers []ledger.Ticker) (map[ledger.Ticker]float64, error) {
	out := make(map[ledger.Ticker]float64, len(tickers))

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)

	for _, ticker := range tickers {
		group.Go(func() error {
			symbol, err := d.symbolFor(ticker)
			if err != nil {
				return err
			}

			price, err := d.client.FetchLastPrice(groupCtx, symbol)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", market.ErrPriceUnavailable, ticker.ID(), err)
			}

			mu.Lock()
			out[ticker] = price
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// VolumeHistory 返回标的最近 bars 根日线的成交量序列。
func (d *Data) VolumeHistory(ctx context.Context, ticker ledger.Ticker, bars int) ([]float64, error) {
	symbol, err := d.symbolFor(ticker)
	if err != nil {
		return nil, err
	}

	candles, err := d.client.FetchDailyCandles(ctx, symbol, int64(bars))
	if err != nil {
		return nil, fmt.Errorf("exchange: 获取 %s 日线失败: %w", ticker.ID(), err)
	}

	volumes := make([]float64, 0, len(candles))
	for _, candle := range candles {
		volumes = append(volumes, candle.Volume)
	}
	return volumes, nil
}

func (d *Data) symbolFor(ticker ledger.Ticker) (string, error) {
	contract, err := d.mapper.TickerToContract(ticker)
	if err != nil {
		return "", fmt.Errorf("exchange: 标的 %s 映射交易对失败: %w", ticker.ID(), err)
	}
	return contract.Symbol, nil
}
