package exchange

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"quantfolio/internal/broker"
	"quantfolio/internal/ledger"
	"quantfolio/internal/position"
)

// Live 将交易所账户适配为券商接口。现货账户没有成交明细推送，
// 持仓按余额快照重建：每个非计价资产合成一笔按最新价的建仓成交。
type Live struct {
	client *Client
	mapper ledger.ContractMapper
	quote  string
	logger *zap.Logger

	// 记录本进程提交订单的交易对，撤单时需要
	symbols map[string]string
}

var _ broker.Broker = (*Live)(nil)

// NewLive 创建实盘券商适配器。quote 为计价货币代码，如 USDT。
func NewLive(client *Client, mapper ledger.ContractMapper, quote string, logger *zap.Logger) *Live {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Live{
		client:  client,
		mapper:  mapper,
		quote:   strings.ToUpper(quote),
		logger:  logger,
		symbols: make(map[string]string),
	}
}

func (l *Live) GetPositions(ctx context.Context) ([]*position.Position, error) {
	balances, err := l.client.FetchBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("exchange: 获取账户余额失败: %w", err)
	}

	book := position.NewBook(l.logger)
	now := time.Now().UTC()

	for asset, total := range balances.Total {
		if total == nil || *total == 0 || strings.EqualFold(asset, l.quote) {
			continue
		}

		symbol := fmt.Sprintf("%s/%s", strings.ToUpper(asset), l.quote)
		contract := ledger.Contract{
			Symbol:   symbol,
			SecType:  ledger.SecurityTypeCrypto,
			Exchange: l.client.cfg.Name,
		}

		price, err := l.client.FetchLastPrice(ctx, symbol)
		if err != nil {
			l.logger.Warn("余额资产无法定价，跳过",
				zap.String("asset", asset),
				zap.Error(err),
			)
			continue
		}

		tx := ledger.Transaction{
			Time:     now,
			Contract: contract,
			Quantity: *total,
			Price:    price,
			TradeID:  "snapshot-" + uuid.NewString(),
		}
		if err := book.Apply(tx); err != nil {
			return nil, fmt.Errorf("exchange: 重建持仓失败: %w", err)
		}
	}

	return book.Open(), nil
}

func (l *Live) GetPortfolioValue(ctx context.Context) (float64, error) {
	balances, err := l.client.FetchBalance(ctx)
	if err != nil {
		return 0, fmt.Errorf("exchange: 获取账户余额失败: %w", err)
	}

	value := 0.0
	for asset, total := range balances.Total {
		if total == nil || *total == 0 {
			continue
		}
		if strings.EqualFold(asset, l.quote) {
			value += *total
			continue
		}

		symbol := fmt.Sprintf("%s/%s", strings.ToUpper(asset), l.quote)
		price, err := l.client.FetchLastPrice(ctx, symbol)
		if err != nil {
			l.logger.Warn("余额资产无法定价，计入净值时跳过",
				zap.String("asset", asset),
				zap.Error(err),
			)
			continue
		}
		value += *total * price
	}
	return value, nil
}

func (l *Live) GetOpenOrders(ctx context.Context) ([]broker.OpenOrder, error) {
	raw, err := l.client.FetchOpenOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("exchange: 获取未成交订单失败: %w", err)
	}

	out := make([]broker.OpenOrder, 0, len(raw))
	for _, item := range raw {
		converted, ok := l.convertOrder(item)
		if !ok {
			continue
		}
		out = append(out, converted)
	}
	return out, nil
}

func (l *Live) PlaceOrders(ctx context.Context, orders []ledger.Order) ([]string, error) {
	ids := make([]string, 0, len(orders))
	for _, order := range orders {
		if order.Quantity == 0 {
			return ids, fmt.Errorf("exchange: 数量为 0 的订单无效 (%s)", order.Ticker.ID())
		}

		contract, err := l.mapper.TickerToContract(order.Ticker)
		if err != nil {
			return ids, fmt.Errorf("exchange: 下单映射交易对失败: %w", err)
		}

		side := "buy"
		if order.Quantity < 0 {
			side = "sell"
		}

		params := map[string]interface{}{
			"timeInForce": string(order.TIF),
		}
		switch order.Style.Kind {
		case ledger.StyleMarket:
		case ledger.StyleMarketOnClose:
			// 现货交易所没有收盘市价单，按普通市价单提交。
			l.logger.Debug("收盘市价单降级为市价单", zap.String("ticker", order.Ticker.ID()))
		case ledger.StyleStop:
			params["stopPrice"] = order.Style.StopPrice
		default:
			return ids, fmt.Errorf("exchange: 不支持的执行方式 %s", order.Style.Kind)
		}

		id, err := l.client.PlaceOrder(ctx, contract.Symbol, "market", side, math.Abs(order.Quantity), params)
		if err != nil {
			return ids, fmt.Errorf("exchange: 下单失败 (%s): %w", order.Ticker.ID(), err)
		}

		l.symbols[id] = contract.Symbol
		ids = append(ids, id)
	}
	return ids, nil
}

func (l *Live) CancelOrder(ctx context.Context, orderID string) error {
	symbol, ok := l.symbols[orderID]
	if !ok {
		open, err := l.client.FetchOpenOrders(ctx)
		if err != nil {
			return fmt.Errorf("exchange: 撤单前查询失败: %w", err)
		}
		for _, item := range open {
			if item.Id != nil && *item.Id == orderID && item.Symbol != nil {
				symbol = *item.Symbol
				break
			}
		}
		if symbol == "" {
			return fmt.Errorf("%w: %s", broker.ErrOrderNotFound, orderID)
		}
	}

	if err := l.client.Cancel(ctx, orderID, symbol); err != nil {
		return fmt.Errorf("exchange: 撤单失败 (%s): %w", orderID, err)
	}
	delete(l.symbols, orderID)
	return nil
}

func (l *Live) CancelAllOpenOrders(ctx context.Context) error {
	open, err := l.client.FetchOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("exchange: 获取未成交订单失败: %w", err)
	}

	for _, item := range open {
		if item.Id == nil || item.Symbol == nil {
			continue
		}
		if err := l.client.Cancel(ctx, *item.Id, *item.Symbol); err != nil {
			return fmt.Errorf("exchange: 撤单失败 (%s): %w", *item.Id, err)
		}
		delete(l.symbols, *item.Id)
	}
	return nil
}

func (l *Live) convertOrder(item ccxt.Order) (broker.OpenOrder, bool) {
	if item.Id == nil || item.Symbol == nil || item.Amount == nil {
		return broker.OpenOrder{}, false
	}

	contract := ledger.Contract{
		Symbol:   *item.Symbol,
		SecType:  ledger.SecurityTypeCrypto,
		Exchange: l.client.cfg.Name,
	}
	ticker, err := l.mapper.ContractToTicker(contract)
	if err != nil {
		l.logger.Warn("未成交订单映射标的失败",
			zap.String("symbol", *item.Symbol),
			zap.Error(err),
		)
		return broker.OpenOrder{}, false
	}

	quantity := *item.Amount
	if item.Side != nil && strings.EqualFold(*item.Side, "sell") {
		quantity = -quantity
	}

	style := ledger.MarketStyle()
	if item.StopPrice != nil && *item.StopPrice > 0 {
		style = ledger.StopStyle(*item.StopPrice)
	}

	tif := ledger.TIFGTC
	if item.TimeInForce != nil && *item.TimeInForce != "" {
		tif = ledger.TimeInForce(strings.ToUpper(*item.TimeInForce))
	}

	return broker.OpenOrder{
		ID: *item.Id,
		Order: ledger.Order{
			Ticker:   ticker,
			Quantity: quantity,
			Style:    style,
			TIF:      tif,
		},
	}, true
}
