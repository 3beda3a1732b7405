// Package market 定义行情协作方的边界契约。本核心不缓存价格，
// 每个调仓周期重新读取。
package market

import (
	"context"
	"errors"

	"quantfolio/internal/ledger"
)

// ErrPriceUnavailable 表示无法取得标的的最新价格。
var ErrPriceUnavailable = errors.New("market: 无法取得最新价格")

// DataProvider 提供同步的行情读取能力。
type DataProvider interface {
	// LastAvailablePrice 返回各标的最新可用价格；任一标的缺价时
	// 返回包装了 ErrPriceUnavailable 的错误。
	LastAvailablePrice(ctx context.Context, tickers []ledger.Ticker) (map[ledger.Ticker]float64, error)
	// VolumeHistory 返回标的最近 bars 根K线的成交量序列（时间升序）。
	VolumeHistory(ctx context.Context, ticker ledger.Ticker, bars int) ([]float64, error)
}
