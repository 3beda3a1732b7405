package ledger

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrNoValidTicker 表示合约链在当前时间没有可用的具体合约。
var ErrNoValidTicker = errors.New("ledger: 当前时间没有有效的具体合约")

// FutureContractTicker 表示一个具体到期月份的期货合约。
type FutureContractTicker struct {
	Symbol   string
	PointVal float64
}

func (t FutureContractTicker) ID() string { return t.Symbol }

func (t FutureContractTicker) PointValue() float64 {
	if t.PointVal > 0 {
		return t.PointVal
	}
	return 1
}

func (t FutureContractTicker) Rounding() RoundingPolicy {
	return RoundingPolicy{Kind: RoundFloor}
}

// ContractExpiration 记录具体合约与其官方（未前移）到期日。
type ContractExpiration struct {
	Ticker         Ticker
	ExpirationDate time.Time
}

// FutureTicker 表示期货连续合约族：在给定时间解析为恰好一个当前具体合约。
type FutureTicker interface {
	Ticker
	// CurrentTicker 返回当前具体合约，合约链耗尽时返回 ErrNoValidTicker。
	CurrentTicker() (Ticker, error)
	// BelongsToFamily 判断给定具体合约是否属于本家族。
	BelongsToFamily(t Ticker) bool
	// ExpirationDates 返回按到期日升序排列的合约链。
	ExpirationDates() []ContractExpiration
}

// ChainFutureTicker 基于到期日程表与注入时钟解析当前具体合约。
// 换月提前量 daysBeforeExpiration 表示在官方到期日前 N 天切换到下一合约。
type ChainFutureTicker struct {
	familyID             string
	chain                []ContractExpiration
	pointValue           float64
	daysBeforeExpiration int
	now                  func() time.Time
}

var _ FutureTicker = (*ChainFutureTicker)(nil)

// NewChainFutureTicker 创建连续合约族标识。
func NewChainFutureTicker(familyID string, chain []ContractExpiration, pointValue float64, daysBeforeExpiration int, now func() time.Time) *ChainFutureTicker {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	sorted := make([]ContractExpiration, len(chain))
	copy(sorted, chain)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ExpirationDate.Before(sorted[j].ExpirationDate)
	})
	return &ChainFutureTicker{
		familyID:             familyID,
		chain:                sorted,
		pointValue:           pointValue,
		daysBeforeExpiration: daysBeforeExpiration,
		now:                  now,
	}
}

func (f *ChainFutureTicker) ID() string { return f.familyID }

func (f *ChainFutureTicker) PointValue() float64 {
	if f.pointValue > 0 {
		return f.pointValue
	}
	return 1
}

func (f *ChainFutureTicker) Rounding() RoundingPolicy {
	return RoundingPolicy{Kind: RoundFloor}
}

// CurrentTicker 返回第一个尚未进入换月窗口的具体合约。
func (f *ChainFutureTicker) CurrentTicker() (Ticker, error) {
	now := f.now()
	for _, entry := range f.chain {
		rollDate := entry.ExpirationDate.AddDate(0, 0, -f.daysBeforeExpiration)
		if now.Before(rollDate) {
			return entry.Ticker, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoValidTicker, f.familyID)
}

func (f *ChainFutureTicker) BelongsToFamily(t Ticker) bool {
	if t == nil {
		return false
	}
	for _, entry := range f.chain {
		if entry.Ticker.ID() == t.ID() {
			return true
		}
	}
	return false
}

func (f *ChainFutureTicker) ExpirationDates() []ContractExpiration {
	out := make([]ContractExpiration, len(f.chain))
	copy(out, f.chain)
	return out
}
