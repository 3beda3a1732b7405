package market

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"quantfolio/internal/ledger"
)

// Snapshot 汇总一个调仓周期所需的行情数据。
type Snapshot struct {
	Prices      map[ledger.Ticker]float64
	Volumes     map[ledger.Ticker][]float64
	RetrievedAt time.Time
}

// Service 并发预取价格与成交量，并在周期内以快照供读。
// 快照未覆盖的标的或更长的成交量窗口回源到底层行情源。
type Service struct {
	provider DataProvider
	logger   *zap.Logger

	mu          sync.RWMutex
	snapshot    Snapshot
	fetchedBars int
}

var _ DataProvider = (*Service)(nil)

// NewService 创建行情预取服务。
func NewService(provider DataProvider, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		provider: provider,
		logger:   logger,
	}
}

// Prefetch 拉取全部标的的最新价格，volumeBars 大于 0 时同时拉取成交量序列。
// 成功后替换周期快照；失败时清空快照，后续读取全部回源，避免跨周期用旧价。
func (s *Service) Prefetch(ctx context.Context, tickers []ledger.Ticker, volumeBars int) (Snapshot, error) {
	snapshot := Snapshot{
		Volumes: make(map[ledger.Ticker][]float64, len(tickers)),
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		prices, err := s.provider.LastAvailablePrice(groupCtx, tickers)
		if err != nil {
			return err
		}
		snapshot.Prices = prices
		return nil
	})

	var mu sync.Mutex
	if volumeBars > 0 {
		for _, ticker := range tickers {
			group.Go(func() error {
				volumes, err := s.provider.VolumeHistory(groupCtx, ticker, volumeBars)
				if err != nil {
					return err
				}
				mu.Lock()
				snapshot.Volumes[ticker] = volumes
				mu.Unlock()
				return nil
			})
		}
	}

	if err := group.Wait(); err != nil {
		s.mu.Lock()
		s.snapshot = Snapshot{}
		s.fetchedBars = 0
		s.mu.Unlock()
		return Snapshot{}, err
	}

	snapshot.RetrievedAt = time.Now().UTC()
	s.mu.Lock()
	s.snapshot = snapshot
	s.fetchedBars = volumeBars
	s.mu.Unlock()

	s.logger.Debug("行情预取完成",
		zap.Int("tickers", len(tickers)),
		zap.Int("volume_bars", volumeBars),
		zap.Time("retrieved_at", snapshot.RetrievedAt),
	)
	return snapshot, nil
}

// LastAvailablePrice 优先从周期快照取价；任一标的未命中时整批回源。
func (s *Service) LastAvailablePrice(ctx context.Context, tickers []ledger.Ticker) (map[ledger.Ticker]float64, error) {
	s.mu.RLock()
	out := make(map[ledger.Ticker]float64, len(tickers))
	complete := len(s.snapshot.Prices) > 0
	for _, ticker := range tickers {
		price, ok := s.snapshot.Prices[ticker]
		if !ok {
			complete = false
			break
		}
		out[ticker] = price
	}
	s.mu.RUnlock()

	if complete {
		return out, nil
	}
	return s.provider.LastAvailablePrice(ctx, tickers)
}

// VolumeHistory 当快照覆盖该标的且预取窗口不小于请求窗口时从快照取尾段，
// 否则回源。
func (s *Service) VolumeHistory(ctx context.Context, ticker ledger.Ticker, bars int) ([]float64, error) {
	s.mu.RLock()
	cached, ok := s.snapshot.Volumes[ticker]
	fetched := s.fetchedBars
	s.mu.RUnlock()

	if ok && bars > 0 && bars <= fetched {
		if len(cached) > bars {
			cached = cached[len(cached)-bars:]
		}
		dst := make([]float64, len(cached))
		copy(dst, cached)
		return dst, nil
	}
	return s.provider.VolumeHistory(ctx, ticker, bars)
}
