package ledger

// Exposure 表示标的的持仓方向，与数量符号一一对应。
type Exposure int

const (
	Short Exposure = -1
	Out   Exposure = 0
	Long  Exposure = 1
)

// Value 返回方向对应的符号值。
func (e Exposure) Value() float64 {
	return float64(e)
}

func (e Exposure) String() string {
	switch e {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	default:
		return "OUT"
	}
}

// ExposureFromQuantity 由带符号数量推导持仓方向。
func ExposureFromQuantity(quantity float64) Exposure {
	switch {
	case quantity > 0:
		return Long
	case quantity < 0:
		return Short
	default:
		return Out
	}
}
