package ledger

import "fmt"

// StyleKind 描述订单执行方式的类别。
type StyleKind string

const (
	StyleMarket        StyleKind = "market"
	StyleMarketOnClose StyleKind = "market_on_close"
	StyleStop          StyleKind = "stop"
)

// ExecutionStyle 为订单执行方式。可直接比较：
// 两个 Stop 样式当且仅当止损价相同时相等。
type ExecutionStyle struct {
	Kind      StyleKind
	StopPrice float64
}

// MarketStyle 返回市价执行方式。
func MarketStyle() ExecutionStyle {
	return ExecutionStyle{Kind: StyleMarket}
}

// MarketOnCloseStyle 返回收盘市价执行方式。
func MarketOnCloseStyle() ExecutionStyle {
	return ExecutionStyle{Kind: StyleMarketOnClose}
}

// StopStyle 返回指定触发价的止损执行方式。
func StopStyle(stopPrice float64) ExecutionStyle {
	return ExecutionStyle{Kind: StyleStop, StopPrice: stopPrice}
}

func (s ExecutionStyle) String() string {
	if s.Kind == StyleStop {
		return fmt.Sprintf("stop@%.6f", s.StopPrice)
	}
	return string(s.Kind)
}

// TimeInForce 表示订单有效期。
type TimeInForce string

const (
	TIFDay  TimeInForce = "DAY"
	TIFGTC  TimeInForce = "GTC" // Good-Till-Cancelled
	TIFOpen TimeInForce = "OPG" // 仅开盘集合竞价有效
)

// Order 为一条不可变的委托指令：数量带方向且不为 0。
// 订单列表是整个调仓流水线的唯一产出。
type Order struct {
	Ticker   Ticker
	Quantity float64
	Style    ExecutionStyle
	TIF      TimeInForce
}
