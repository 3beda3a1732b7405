package exchange

import "time"

const (
	// Timeframe1d 为成交量统计使用的日线周期。
	Timeframe1d = "1d"
)

// Candle 代表单根K线。
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}
