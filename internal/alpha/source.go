// Package alpha 产生调仓周期的输入信号。
package alpha

import (
	"context"

	"quantfolio/internal/ledger"
)

// SignalSource 为每个交易标的产出一条信号。信号在每个周期重新生成，
// 产出后不再修改（仓位数量限制的降级除外）。
type SignalSource interface {
	Signals(ctx context.Context, tickers []ledger.Ticker) ([]ledger.Signal, error)
}

// StaticSource 返回预先设定的信号，用于回测与测试。
type StaticSource struct {
	signals []ledger.Signal
}

var _ SignalSource = (*StaticSource)(nil)

// NewStaticSource 创建固定信号源。
func NewStaticSource(signals []ledger.Signal) *StaticSource {
	return &StaticSource{signals: append([]ledger.Signal(nil), signals...)}
}

// Set 替换下一周期返回的信号。
func (s *StaticSource) Set(signals []ledger.Signal) {
	s.signals = append([]ledger.Signal(nil), signals...)
}

func (s *StaticSource) Signals(_ context.Context, _ []ledger.Ticker) ([]ledger.Signal, error) {
	return append([]ledger.Signal(nil), s.signals...), nil
}
