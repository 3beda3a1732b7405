package market

import (
	"context"
	"fmt"
	"sync"

	"quantfolio/internal/ledger"
)

// Static 为内存行情源，用于模拟撮合与测试。
type Static struct {
	mu      sync.RWMutex
	prices  map[string]float64
	volumes map[string][]float64
}

var _ DataProvider = (*Static)(nil)

// NewStatic 创建空的内存行情源。
func NewStatic() *Static {
	return &Static{
		prices:  make(map[string]float64),
		volumes: make(map[string][]float64),
	}
}

// SetPrice 设置标的最新价格。
func (s *Static) SetPrice(t ledger.Ticker, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[t.ID()] = price
}

// SetVolumes 设置标的成交量序列。
func (s *Static) SetVolumes(t ledger.Ticker, volumes []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dst := make([]float64, len(volumes))
	copy(dst, volumes)
	s.volumes[t.ID()] = dst
}

func (s *Static) LastAvailablePrice(_ context.Context, tickers []ledger.Ticker) (map[ledger.Ticker]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[ledger.Ticker]float64, len(tickers))
	for _, t := range tickers {
		price, ok := s.prices[t.ID()]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrPriceUnavailable, t.ID())
		}
		out[t] = price
	}
	return out, nil
}

func (s *Static) VolumeHistory(_ context.Context, ticker ledger.Ticker, bars int) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	volumes, ok := s.volumes[ticker.ID()]
	if !ok {
		return nil, fmt.Errorf("market: 缺少 %s 的成交量数据", ticker.ID())
	}
	if bars > 0 && len(volumes) > bars {
		volumes = volumes[len(volumes)-bars:]
	}
	dst := make([]float64, len(volumes))
	copy(dst, volumes)
	return dst, nil
}
