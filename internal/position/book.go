package position

import (
	"go.uber.org/zap"

	"quantfolio/internal/ledger"
)

// Book 按合约维护全部仓位。首笔成交创建仓位；
// 平仓后仓位移入存档而非销毁，同一合约再次成交会开启新仓位。
type Book struct {
	open     map[string]*Position
	openKeys []string // 保持创建顺序，保证遍历确定性
	archive  []*Position
	logger   *zap.Logger
}

// NewBook 创建空账本。
func NewBook(logger *zap.Logger) *Book {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Book{
		open:   make(map[string]*Position),
		logger: logger,
	}
}

// Apply 将成交路由到对应仓位，必要时创建新仓位。
func (b *Book) Apply(tx ledger.Transaction) error {
	key := tx.Contract.Key()
	pos, ok := b.open[key]
	if !ok {
		pos = New(tx.Contract)
		b.open[key] = pos
		b.openKeys = append(b.openKeys, key)
		b.logger.Debug("新建仓位账本", zap.String("contract", tx.Contract.Symbol))
	}

	if err := pos.Apply(tx); err != nil {
		return err
	}

	if pos.IsClosed() {
		b.archive = append(b.archive, pos)
		delete(b.open, key)
		b.removeKey(key)
		b.logger.Debug("仓位已平仓",
			zap.String("contract", tx.Contract.Symbol),
			zap.Float64("realized_pnl", pos.RealizedPnL()),
		)
	}
	return nil
}

// Get 返回合约当前未平仓仓位。
func (b *Book) Get(c ledger.Contract) (*Position, bool) {
	pos, ok := b.open[c.Key()]
	return pos, ok
}

// Open 返回全部未平仓仓位，顺序稳定。
func (b *Book) Open() []*Position {
	out := make([]*Position, 0, len(b.openKeys))
	for _, key := range b.openKeys {
		out = append(out, b.open[key])
	}
	return out
}

// All 返回历史与当前全部仓位。
func (b *Book) All() []*Position {
	out := make([]*Position, 0, len(b.archive)+len(b.openKeys))
	out = append(out, b.archive...)
	for _, key := range b.openKeys {
		out = append(out, b.open[key])
	}
	return out
}

func (b *Book) removeKey(key string) {
	for i, k := range b.openKeys {
		if k == key {
			b.openKeys = append(b.openKeys[:i], b.openKeys[i+1:]...)
			return
		}
	}
}
