package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// 定量策略名称。
const (
	StrategySimple            = "simple"
	StrategyInitialRisk       = "initial_risk"
	StrategyInitialRiskVolume = "initial_risk_volume"
	StrategyFixedPercentage   = "fixed_percentage"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Portfolio PortfolioConfig `mapstructure:"portfolio"`
	Sizing    SizingConfig    `mapstructure:"sizing"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Orders    OrdersConfig    `mapstructure:"orders"`
	Universe  UniverseConfig  `mapstructure:"universe"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Review    ReviewConfig    `mapstructure:"review"`
}

// AppConfig 控制应用级参数。Mode 决定使用模拟券商还是实盘券商。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
	Mode        string `mapstructure:"mode"`
}

// PortfolioConfig 描述模拟账户的初始状态。
type PortfolioConfig struct {
	InitialCash        float64 `mapstructure:"initial_cash"`
	CommissionPerShare float64 `mapstructure:"commission_per_share"`
}

// SizingConfig 控制仓位定量策略及其参数。
type SizingConfig struct {
	Strategy            string  `mapstructure:"strategy"`
	InitialRisk         float64 `mapstructure:"initial_risk"`
	MaxTargetPercentage float64 `mapstructure:"max_target_percentage"`
	FixedPercentage     float64 `mapstructure:"fixed_percentage"`
	VolumeCapFraction   float64 `mapstructure:"volume_cap_fraction"`
	VolumeBars          int     `mapstructure:"volume_bars"`
	UseStopLosses       bool    `mapstructure:"use_stop_losses"`
	TolerancePercentage float64 `mapstructure:"tolerance_percentage"`
	TimeInForce         string  `mapstructure:"time_in_force"`
}

// LimitsConfig 控制同时持有的逻辑仓位上限。0 表示不限制。
type LimitsConfig struct {
	MaxOpenPositions int `mapstructure:"max_open_positions"`
}

// OrdersConfig 控制订单工厂行为。回测中可关闭数量取整。
type OrdersConfig struct {
	DisableRounding bool `mapstructure:"disable_rounding"`
}

// UniverseConfig 列出交易范围内的标的。
type UniverseConfig struct {
	Instruments []InstrumentConfig `mapstructure:"instruments"`
}

// InstrumentConfig 描述单个标的及其券商合约映射。
type InstrumentConfig struct {
	Symbol         string `mapstructure:"symbol"`
	Type           string `mapstructure:"type"` // stock 或 crypto
	Precision      int    `mapstructure:"precision"`
	Exchange       string `mapstructure:"exchange"`
	ContractSymbol string `mapstructure:"contract_symbol"`
}

// ExchangeConfig 描述实盘交易所连接信息。
type ExchangeConfig struct {
	Name       string      `mapstructure:"name"`
	Quote      string      `mapstructure:"quote"`
	APIKey     string      `mapstructure:"api_key"`
	APISecret  string      `mapstructure:"api_secret"`
	APIPass    string      `mapstructure:"api_password"`
	UseSandbox bool        `mapstructure:"use_sandbox"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// OpenAIConfig 描述信号生成所用的大模型参数。Enabled 为假时不接入。
type OpenAIConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// SchedulerConfig 控制调仓周期节奏。
type SchedulerConfig struct {
	CycleInterval time.Duration `mapstructure:"cycle_interval"`
}

// ReviewConfig 控制只读的流水复盘 HTTP 接口。
type ReviewConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.App.Mode != "backtest" && c.App.Mode != "live" {
		err = multierr.Append(err, errors.New("app.mode 必须为 backtest 或 live"))
	}
	if c.Portfolio.InitialCash <= 0 {
		err = multierr.Append(err, errors.New("portfolio.initial_cash 必须大于0"))
	}
	if c.Portfolio.CommissionPerShare < 0 {
		err = multierr.Append(err, errors.New("portfolio.commission_per_share 不能为负"))
	}

	switch c.Sizing.Strategy {
	case StrategySimple:
	case StrategyInitialRisk, StrategyInitialRiskVolume:
		if c.Sizing.InitialRisk <= 0 || c.Sizing.InitialRisk > 1 {
			err = multierr.Append(err, errors.New("sizing.initial_risk 必须位于(0,1]"))
		}
		if c.Sizing.MaxTargetPercentage <= 0 {
			err = multierr.Append(err, errors.New("sizing.max_target_percentage 必须大于0"))
		}
		if c.Sizing.Strategy == StrategyInitialRiskVolume {
			if c.Sizing.VolumeCapFraction <= 0 {
				err = multierr.Append(err, errors.New("sizing.volume_cap_fraction 必须大于0"))
			}
			if c.Sizing.VolumeBars <= 0 {
				err = multierr.Append(err, errors.New("sizing.volume_bars 必须大于0"))
			}
		}
	case StrategyFixedPercentage:
		if c.Sizing.FixedPercentage <= 0 || c.Sizing.FixedPercentage > 1 {
			err = multierr.Append(err, errors.New("sizing.fixed_percentage 必须位于(0,1]"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("sizing.strategy 不支持: %q", c.Sizing.Strategy))
	}
	if c.Sizing.TolerancePercentage < 0 || c.Sizing.TolerancePercentage >= 1 {
		err = multierr.Append(err, errors.New("sizing.tolerance_percentage 必须位于[0,1)"))
	}
	switch c.Sizing.TimeInForce {
	case "DAY", "GTC", "OPG":
	default:
		err = multierr.Append(err, fmt.Errorf("sizing.time_in_force 不支持: %q", c.Sizing.TimeInForce))
	}

	for i, instrument := range c.Universe.Instruments {
		if instrument.Symbol == "" {
			err = multierr.Append(err, fmt.Errorf("universe.instruments[%d].symbol 不能为空", i))
		}
		switch instrument.Type {
		case "stock":
		case "crypto":
			if instrument.Precision < 0 {
				err = multierr.Append(err, fmt.Errorf("universe.instruments[%d].precision 不能为负", i))
			}
		default:
			err = multierr.Append(err, fmt.Errorf("universe.instruments[%d].type 不支持: %q", i, instrument.Type))
		}
	}

	if c.Limits.MaxOpenPositions < 0 {
		err = multierr.Append(err, errors.New("limits.max_open_positions 不能为负"))
	}

	if c.App.Mode == "live" {
		if c.Exchange.Name == "" {
			err = multierr.Append(err, errors.New("exchange.name 不能为空"))
		}
		if c.Exchange.Retry.MaxAttempts <= 0 {
			err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
		}
		if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
			err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
		}
		if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
			err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
		}
	}

	if c.OpenAI.Enabled {
		if c.OpenAI.APIKey == "" {
			err = multierr.Append(err, errors.New("openai.api_key 不能为空"))
		}
		if c.OpenAI.Model == "" {
			err = multierr.Append(err, errors.New("openai.model 不能为空"))
		}
		if c.OpenAI.Timeout <= 0 {
			err = multierr.Append(err, errors.New("openai.timeout 必须大于0"))
		}
	}

	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Scheduler.CycleInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.cycle_interval 必须大于0"))
	}
	if c.Review.Enabled && (c.Review.Port <= 0 || c.Review.Port > 65535) {
		err = multierr.Append(err, errors.New("review.port 必须位于 (0,65535]"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
