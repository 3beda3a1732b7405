package broker

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quantfolio/internal/ledger"
	"quantfolio/internal/market"
	"quantfolio/internal/position"
)

// Simulated 为内存撮合的模拟券商：市价单与收盘市价单立即按最新价成交，
// 止损单保持挂起直到触发或被撤销。产生的成交通过 DrainFills 交给会话回账。
type Simulated struct {
	data               market.DataProvider
	mapper             ledger.ContractMapper
	book               *position.Book
	cash               float64
	commissionPerShare float64
	open               map[string]OpenOrder
	openIDs            []string // 保持下单顺序
	fills              []ledger.Transaction
	clock              func() time.Time
	logger             *zap.Logger
}

var _ Broker = (*Simulated)(nil)

// NewSimulated 创建模拟券商。
func NewSimulated(data market.DataProvider, mapper ledger.ContractMapper, initialCash, commissionPerShare float64, clock func() time.Time, logger *zap.Logger) *Simulated {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulated{
		data:               data,
		mapper:             mapper,
		book:               position.NewBook(logger),
		cash:               initialCash,
		commissionPerShare: commissionPerShare,
		open:               make(map[string]OpenOrder),
		clock:              clock,
		logger:             logger,
	}
}

func (b *Simulated) GetPositions(_ context.Context) ([]*position.Position, error) {
	return b.book.Open(), nil
}

func (b *Simulated) GetPortfolioValue(ctx context.Context) (float64, error) {
	positions := b.book.Open()
	if len(positions) == 0 {
		return b.cash, nil
	}

	tickers := make([]ledger.Ticker, 0, len(positions))
	for _, pos := range positions {
		ticker, err := b.mapper.ContractToTicker(pos.Contract())
		if err != nil {
			return 0, fmt.Errorf("broker: 计算组合净值失败: %w", err)
		}
		tickers = append(tickers, ticker)
	}

	prices, err := b.data.LastAvailablePrice(ctx, tickers)
	if err != nil {
		return 0, fmt.Errorf("broker: 计算组合净值失败: %w", err)
	}

	value := b.cash
	for i, pos := range positions {
		value += pos.Value(prices[tickers[i]])
	}
	return value, nil
}

func (b *Simulated) GetOpenOrders(_ context.Context) ([]OpenOrder, error) {
	out := make([]OpenOrder, 0, len(b.openIDs))
	for _, id := range b.openIDs {
		out = append(out, b.open[id])
	}
	return out, nil
}

func (b *Simulated) PlaceOrders(ctx context.Context, orders []ledger.Order) ([]string, error) {
	ids := make([]string, 0, len(orders))
	for _, order := range orders {
		if order.Quantity == 0 {
			return ids, fmt.Errorf("broker: 数量为 0 的订单无效 (%s)", order.Ticker.ID())
		}

		id := uuid.NewString()
		switch order.Style.Kind {
		case ledger.StyleMarket, ledger.StyleMarketOnClose:
			prices, err := b.data.LastAvailablePrice(ctx, []ledger.Ticker{order.Ticker})
			if err != nil {
				return ids, fmt.Errorf("broker: 市价成交失败: %w", err)
			}
			if err := b.fill(order, prices[order.Ticker]); err != nil {
				return ids, err
			}
		case ledger.StyleStop:
			b.open[id] = OpenOrder{ID: id, Order: order}
			b.openIDs = append(b.openIDs, id)
		default:
			return ids, fmt.Errorf("broker: 不支持的执行方式 %s", order.Style.Kind)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (b *Simulated) CancelOrder(_ context.Context, orderID string) error {
	if _, ok := b.open[orderID]; !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	delete(b.open, orderID)
	b.removeID(orderID)
	return nil
}

func (b *Simulated) CancelAllOpenOrders(_ context.Context) error {
	b.open = make(map[string]OpenOrder)
	b.openIDs = nil
	return nil
}

// TriggerStops 检查挂起的止损单，触发价被穿越时按止损价成交。
// 由调度方在行情推进后调用。
func (b *Simulated) TriggerStops(ctx context.Context) error {
	for _, id := range append([]string(nil), b.openIDs...) {
		openOrder, ok := b.open[id]
		if !ok {
			continue
		}
		order := openOrder.Order

		prices, err := b.data.LastAvailablePrice(ctx, []ledger.Ticker{order.Ticker})
		if err != nil {
			return fmt.Errorf("broker: 止损检查失败: %w", err)
		}
		price := prices[order.Ticker]

		triggered := (order.Quantity < 0 && price <= order.Style.StopPrice) ||
			(order.Quantity > 0 && price >= order.Style.StopPrice)
		if !triggered {
			continue
		}

		if err := b.fill(order, order.Style.StopPrice); err != nil {
			return err
		}
		delete(b.open, id)
		b.removeID(id)
		b.logger.Info("止损单触发",
			zap.String("ticker", order.Ticker.ID()),
			zap.Float64("stop_price", order.Style.StopPrice),
			zap.Float64("quantity", order.Quantity),
		)
	}
	return nil
}

// DrainFills 取走自上次调用以来产生的全部成交。
func (b *Simulated) DrainFills() []ledger.Transaction {
	fills := b.fills
	b.fills = nil
	return fills
}

// Book 返回底层仓位账本。
func (b *Simulated) Book() *position.Book { return b.book }

// Cash 返回当前现金余额。
func (b *Simulated) Cash() float64 { return b.cash }

func (b *Simulated) fill(order ledger.Order, price float64) error {
	contract, err := b.mapper.TickerToContract(order.Ticker)
	if err != nil {
		return fmt.Errorf("broker: 成交映射合约失败: %w", err)
	}

	tx := ledger.Transaction{
		Time:       b.clock(),
		Contract:   contract,
		Quantity:   order.Quantity,
		Price:      price,
		Commission: b.commissionPerShare * math.Abs(order.Quantity),
		TradeID:    uuid.NewString(),
	}

	if err := b.book.Apply(tx); err != nil {
		return fmt.Errorf("broker: 成交回账失败: %w", err)
	}

	b.cash -= order.Quantity*price*contract.PointValue() + tx.Commission
	b.fills = append(b.fills, tx)

	b.logger.Debug("订单成交",
		zap.String("contract", contract.Symbol),
		zap.Float64("quantity", order.Quantity),
		zap.Float64("price", price),
	)
	return nil
}

func (b *Simulated) removeID(id string) {
	for i, existing := range b.openIDs {
		if existing == id {
			b.openIDs = append(b.openIDs[:i], b.openIDs[i+1:]...)
			return
		}
	}
}
