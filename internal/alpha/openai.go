package alpha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"quantfolio/internal/config"
	"quantfolio/internal/ledger"
)

// OpenAISource 调用大模型为每个标的生成信号。
type OpenAISource struct {
	cfg    config.OpenAIConfig
	logger *zap.Logger
	sdk    *openai.Client
	clock  func() time.Time
}

var _ SignalSource = (*OpenAISource)(nil)

// NewOpenAISource 使用给定配置创建模型信号源。
func NewOpenAISource(cfg config.OpenAIConfig, clock func() time.Time, logger *zap.Logger) (*OpenAISource, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api_key 不能为空")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{
		Timeout: cfg.Timeout + 5*time.Second,
	}

	return &OpenAISource{
		cfg:    cfg,
		logger: logger,
		sdk:    openai.NewClientWithConfig(clientConfig),
		clock:  clock,
	}, nil
}

// verdict 表示模型对单个标的的判断。
type verdict struct {
	Ticker         string  `json:"ticker"`
	Exposure       string  `json:"exposure"`
	FractionAtRisk float64 `json:"fraction_at_risk"`
	Confidence     float64 `json:"confidence"`
	ExpectedMove   float64 `json:"expected_move"`
}

type verdictEnvelope struct {
	Verdicts []verdict `json:"verdicts"`
}

func (v verdict) validate() error {
	if strings.TrimSpace(v.Ticker) == "" {
		return errors.New("ticker 不能为空")
	}
	switch strings.ToUpper(strings.TrimSpace(v.Exposure)) {
	case "LONG", "SHORT", "OUT":
	default:
		return fmt.Errorf("exposure 字段取值非法: %s", v.Exposure)
	}
	if v.FractionAtRisk <= 0 {
		return fmt.Errorf("fraction_at_risk 必须大于0，当前为 %f", v.FractionAtRisk)
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return fmt.Errorf("confidence 必须在 [0,1] 区间，目前为 %f", v.Confidence)
	}
	return nil
}

// Signals 请求模型对全部标的给出判断并转换为信号。
// 模型未覆盖的标的跳过并告警，不阻断整个周期。
func (s *OpenAISource) Signals(ctx context.Context, tickers []ledger.Ticker) ([]ledger.Signal, error) {
	if s.cfg.Model == "" {
		return nil, errors.New("openai model 不能为空")
	}
	if len(tickers) == 0 {
		return nil, nil
	}

	response, err := s.sdk.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildPrompt(tickers),
			},
		},
		Temperature: 0,
	})
	if err != nil {
		s.logger.Error("调用OpenAI失败", zap.Error(err))
		return nil, fmt.Errorf("调用OpenAI失败: %w", err)
	}

	if len(response.Choices) == 0 {
		return nil, errors.New("OpenAI 返回结果为空")
	}
	rawContent := strings.TrimSpace(response.Choices[0].Message.Content)
	if rawContent == "" {
		return nil, errors.New("OpenAI 返回内容为空")
	}

	envelope, err := parseVerdicts(rawContent)
	if err != nil {
		s.logger.Error("解析模型判断失败",
			zap.Error(err),
			zap.String("raw_content", rawContent),
		)
		return nil, err
	}

	byID := make(map[string]verdict, len(envelope.Verdicts))
	for _, v := range envelope.Verdicts {
		if err := v.validate(); err != nil {
			return nil, fmt.Errorf("模型判断非法: %w", err)
		}
		byID[strings.ToUpper(strings.TrimSpace(v.Ticker))] = v
	}

	now := s.clock()
	source := "openai:" + s.cfg.Model

	signals := make([]ledger.Signal, 0, len(tickers))
	for _, ticker := range tickers {
		v, ok := byID[strings.ToUpper(ticker.ID())]
		if !ok {
			s.logger.Warn("模型未覆盖标的，跳过", zap.String("ticker", ticker.ID()))
			continue
		}

		signals = append(signals, ledger.Signal{
			Ticker:            ticker,
			SuggestedExposure: exposureFromString(v.Exposure),
			FractionAtRisk:    v.FractionAtRisk,
			Confidence:        v.Confidence,
			ExpectedMove:      v.ExpectedMove,
			Source:            source,
			CreatedAt:         now,
		})
	}

	s.logger.Info("模型信号生成完成",
		zap.Int("requested", len(tickers)),
		zap.Int("produced", len(signals)),
	)
	return signals, nil
}

func buildPrompt(tickers []ledger.Ticker) string {
	ids := make([]string, 0, len(tickers))
	for _, ticker := range tickers {
		ids = append(ids, ticker.ID())
	}

	var b strings.Builder
	b.WriteString("You are a portfolio signal generator. For each instrument below, output a JSON object\n")
	b.WriteString(`{"verdicts":[{"ticker":"...","exposure":"LONG|SHORT|OUT","fraction_at_risk":0.05,"confidence":0.7,"expected_move":0.02}]}` + "\n")
	b.WriteString("fraction_at_risk is the stop distance as a positive fraction of price. Respond with JSON only.\n")
	b.WriteString("Instruments: ")
	b.WriteString(strings.Join(ids, ", "))
	return b.String()
}

func parseVerdicts(content string) (verdictEnvelope, error) {
	jsonPayload, err := extractJSON(content)
	if err != nil {
		return verdictEnvelope{}, err
	}

	var envelope verdictEnvelope
	if err = json.Unmarshal(jsonPayload, &envelope); err != nil {
		return verdictEnvelope{}, fmt.Errorf("解析判断JSON失败: %w", err)
	}
	return envelope, nil
}

func extractJSON(content string) ([]byte, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")

	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("模型输出未找到有效JSON: %s", content)
	}

	return []byte(content[start : end+1]), nil
}

func exposureFromString(value string) ledger.Exposure {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "LONG":
		return ledger.Long
	case "SHORT":
		return ledger.Short
	default:
		return ledger.Out
	}
}
