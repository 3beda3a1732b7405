// Package position 维护按合约划分的成交账本，并在其上推导数量、
// 方向与已实现/未实现盈亏。账本是整个系统中唯一的共享可变状态。
package position

import (
	"errors"
	"fmt"
	"math"

	"quantfolio/internal/ledger"
)

var (
	// ErrClosedPosition 表示试图向已平仓仓位追加成交。
	ErrClosedPosition = errors.New("position: 仓位已平仓，拒绝追加成交")
	// ErrSignFlip 表示单笔成交试图直接反向而未恰好归零。
	ErrSignFlip = errors.New("position: 单笔成交不允许越过零点直接反向")
)

// Position 为单一合约的成交账本。采用加权平均成本法：
// 加仓手续费计入成本，减仓手续费从已实现盈亏中扣除。
type Position struct {
	contract     ledger.Contract
	transactions []ledger.Transaction
	quantity     float64
	avgCost      float64 // 每股加权平均成本（价格口径）
	realized     float64
	closed       bool
}

// New 创建空仓位。首笔成交通过 Apply 记入。
func New(contract ledger.Contract) *Position {
	return &Position{contract: contract}
}

// Apply 将一笔成交记入账本。违反仓位不变式时返回错误，
// 调用方应将其视为致命问题并中止当前调仓周期。
func (p *Position) Apply(tx ledger.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	if p.closed {
		return fmt.Errorf("%w: %s", ErrClosedPosition, p.contract.Symbol)
	}
	if tx.Contract.Key() != p.contract.Key() {
		return fmt.Errorf("position %s: 成交合约 %s 不匹配", p.contract.Symbol, tx.Contract.Symbol)
	}

	newQuantity := p.quantity + tx.Quantity
	multiplier := p.contract.PointValue()

	if p.quantity == 0 || sameSign(p.quantity, tx.Quantity) {
		// 开仓或加仓：手续费折算进每股成本。
		absOld := math.Abs(p.quantity)
		absAdd := math.Abs(tx.Quantity)
		totalCost := p.avgCost*absOld + tx.Price*absAdd + tx.Commission/multiplier
		p.avgCost = totalCost / (absOld + absAdd)
	} else {
		if newQuantity != 0 && !sameSign(newQuantity, p.quantity) {
			return fmt.Errorf("%w: %s 持仓 %f，成交 %f", ErrSignFlip, p.contract.Symbol, p.quantity, tx.Quantity)
		}
		closedQuantity := math.Abs(tx.Quantity)
		direction := math.Copysign(1, p.quantity)
		p.realized += (tx.Price-p.avgCost)*closedQuantity*direction*multiplier - tx.Commission
	}

	p.quantity = newQuantity
	p.transactions = append(p.transactions, tx)

	if p.quantity == 0 {
		p.closed = true
		p.avgCost = 0
	}
	return nil
}

// Contract 返回账本对应的合约。
func (p *Position) Contract() ledger.Contract { return p.contract }

// Quantity 返回当前带符号持仓数量。
func (p *Position) Quantity() float64 { return p.quantity }

// Direction 返回当前持仓方向。
func (p *Position) Direction() ledger.Exposure {
	return ledger.ExposureFromQuantity(p.quantity)
}

// IsClosed 在数量精确归零后为真，此后仓位拒绝任何成交。
func (p *Position) IsClosed() bool { return p.closed }

// AvgCostPerShare 返回每股加权平均成本。
func (p *Position) AvgCostPerShare() float64 { return p.avgCost }

// CostBasis 返回当前持仓的成本基础（含合约乘数）。
func (p *Position) CostBasis() float64 {
	return p.avgCost * p.quantity * p.contract.PointValue()
}

// RealizedPnL 返回累计已实现盈亏。
func (p *Position) RealizedPnL() float64 { return p.realized }

// UnrealizedPnL 按给定标记价计算未实现盈亏。
func (p *Position) UnrealizedPnL(markPrice float64) float64 {
	if p.quantity == 0 {
		return 0
	}
	return (markPrice - p.avgCost) * p.quantity * p.contract.PointValue()
}

// Value 返回按标记价计的持仓市值（带方向）。
func (p *Position) Value(markPrice float64) float64 {
	return markPrice * p.quantity * p.contract.PointValue()
}

// Transactions 返回成交记录副本。
func (p *Position) Transactions() []ledger.Transaction {
	out := make([]ledger.Transaction, len(p.transactions))
	copy(out, p.transactions)
	return out
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
