package ledger

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Signal 表示单个标的在一个调仓周期内的交易信号。
// 每个周期重新生成；产出后视为不可变，仅允许仓位数量限制器将方向降级为 Out。
type Signal struct {
	Ticker            Ticker
	SuggestedExposure Exposure
	FractionAtRisk    float64 // 止损距离占价格的比例，必须为正
	Confidence        float64 // [0,1]
	ExpectedMove      float64 // 可选，0 表示未给出
	Source            string  // 产生信号的模型标识
	CreatedAt         time.Time
}

// Validate 校验信号前置条件，汇总全部问题后一次返回。
func (s Signal) Validate() error {
	var err error
	if s.Ticker == nil {
		err = multierr.Append(err, errors.New("signal 缺少 ticker"))
		return err
	}
	if s.FractionAtRisk <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s: fraction_at_risk 必须大于0，当前为 %f", s.Ticker.ID(), s.FractionAtRisk))
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		err = multierr.Append(err, fmt.Errorf("%s: confidence 必须位于 [0,1]，当前为 %f", s.Ticker.ID(), s.Confidence))
	}
	return err
}
