package ledger

import (
	"errors"
	"fmt"
)

// ErrNoMapping 表示 ticker 与券商合约之间不存在映射。
var ErrNoMapping = errors.New("ledger: 找不到 ticker 与合约的映射")

// SecurityType 描述合约的证券类别。
type SecurityType string

const (
	SecurityTypeStock  SecurityType = "STK"
	SecurityTypeFuture SecurityType = "FUT"
	SecurityTypeCrypto SecurityType = "CRYPTO"
)

// Contract 为面向券商的合约标识。
type Contract struct {
	Symbol     string
	SecType    SecurityType
	Exchange   string
	Multiplier float64
}

// PointValue 返回合约乘数，未声明时按 1 处理。
func (c Contract) PointValue() float64 {
	if c.Multiplier > 0 {
		return c.Multiplier
	}
	return 1
}

// Key 返回用于索引的稳定标识串。
func (c Contract) Key() string {
	return fmt.Sprintf("%s:%s:%s", c.Symbol, c.SecType, c.Exchange)
}

// ContractMapper 在 Ticker 与 Contract 之间双向转换。
type ContractMapper interface {
	TickerToContract(t Ticker) (Contract, error)
	ContractToTicker(c Contract) (Ticker, error)
}

// StaticMapper 基于预注册映射表实现 ContractMapper。
type StaticMapper struct {
	byTicker   map[string]Contract
	byContract map[string]Ticker
}

var _ ContractMapper = (*StaticMapper)(nil)

// NewStaticMapper 创建空的静态映射表。
func NewStaticMapper() *StaticMapper {
	return &StaticMapper{
		byTicker:   make(map[string]Contract),
		byContract: make(map[string]Ticker),
	}
}

// Register 登记一组双向映射。
func (m *StaticMapper) Register(t Ticker, c Contract) {
	m.byTicker[t.ID()] = c
	m.byContract[c.Key()] = t
}

func (m *StaticMapper) TickerToContract(t Ticker) (Contract, error) {
	if t == nil {
		return Contract{}, fmt.Errorf("%w: ticker 为空", ErrNoMapping)
	}
	contract, ok := m.byTicker[t.ID()]
	if !ok {
		return Contract{}, fmt.Errorf("%w: %s", ErrNoMapping, t.ID())
	}
	return contract, nil
}

func (m *StaticMapper) ContractToTicker(c Contract) (Ticker, error) {
	ticker, ok := m.byContract[c.Key()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoMapping, c.Key())
	}
	return ticker, nil
}
