package ledger

// RoundingKind 描述订单数量的取整方式。
type RoundingKind string

const (
	// RoundFloor 向负无穷取整，适用于股票与期货。
	RoundFloor RoundingKind = "floor"
	// RoundTowardZero 按声明精度向零截断，适用于加密资产。
	RoundTowardZero RoundingKind = "toward_zero"
)

// RoundingPolicy 为标的声明的数量取整策略。
// Declared 仅对 RoundTowardZero 有意义：未声明精度属于配置错误。
type RoundingPolicy struct {
	Kind      RoundingKind
	Precision int
	Declared  bool
}

// Ticker 标识一个可交易标的。等价性由标识串与具体类型共同决定，
// 同一调仓周期内同一标的应复用同一个实例。
type Ticker interface {
	ID() string
	PointValue() float64
	Rounding() RoundingPolicy
}

// StockTicker 表示股票类标的。
type StockTicker struct {
	Symbol string
}

func (t StockTicker) ID() string { return t.Symbol }

func (t StockTicker) PointValue() float64 { return 1 }

func (t StockTicker) Rounding() RoundingPolicy {
	return RoundingPolicy{Kind: RoundFloor}
}

// CryptoTicker 表示加密资产标的，携带下单数量精度。
type CryptoTicker struct {
	Symbol            string
	Precision         int
	PrecisionDeclared bool
}

// NewCryptoTicker 创建声明了数量精度的加密资产标的。
func NewCryptoTicker(symbol string, precision int) CryptoTicker {
	return CryptoTicker{
		Symbol:            symbol,
		Precision:         precision,
		PrecisionDeclared: true,
	}
}

func (t CryptoTicker) ID() string { return t.Symbol }

func (t CryptoTicker) PointValue() float64 { return 1 }

func (t CryptoTicker) Rounding() RoundingPolicy {
	return RoundingPolicy{
		Kind:      RoundTowardZero,
		Precision: t.Precision,
		Declared:  t.PrecisionDeclared,
	}
}
