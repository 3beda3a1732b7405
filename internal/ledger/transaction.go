package ledger

import (
	"fmt"
	"time"
)

// Transaction 为应用到仓位账本上的最小成交单元，只增不改。
type Transaction struct {
	Time       time.Time
	Contract   Contract
	Quantity   float64 // 带方向，不为 0
	Price      float64 // 必须为正
	Commission float64
	TradeID    string
}

// Validate 校验成交前置条件。
func (t Transaction) Validate() error {
	if t.Quantity == 0 {
		return fmt.Errorf("transaction %s: 数量不能为 0", t.Contract.Symbol)
	}
	if t.Price <= 0 {
		return fmt.Errorf("transaction %s: 价格必须为正，当前为 %f", t.Contract.Symbol, t.Price)
	}
	return nil
}
