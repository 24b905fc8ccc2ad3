package strategy

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

	"tradepilot/internal/config"
	"tradepilot/internal/market"
)

// AIAdvisor 将最近行情与指标摘要交给大模型，由模型给出买卖建议。
type AIAdvisor struct {
	cfg    config.OpenAIConfig
	logger *zap.Logger
	sdk    *openai.Client
}

// NewAIAdvisor 使用给定配置创建 AI 顾问策略。
func NewAIAdvisor(cfg config.OpenAIConfig, logger *zap.Logger) (*AIAdvisor, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("strategy: openai api_key 不能为空")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sdkCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		sdkCfg.BaseURL = cfg.BaseURL
	}
	sdkCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout + 5*time.Second}

	return &AIAdvisor{
		cfg:    cfg,
		logger: logger,
		sdk:    openai.NewClientWithConfig(sdkCfg),
	}, nil
}

// Name 返回插件名称。
func (s *AIAdvisor) Name() string { return "ai_advisor" }

// ValidateParams 校验策略参数。
func (s *AIAdvisor) ValidateParams(params map[string]interface{}) error {
	if s.cfg.Model == "" {
		return errors.New("strategy: openai model 不能为空")
	}
	lookback, err := floatParam(params, "lookback", 20)
	if err != nil {
		return err
	}
	if lookback < 2 {
		return fmt.Errorf("strategy: ai_advisor lookback 至少为2")
	}
	return nil
}

type advisorVerdict struct {
	Action    string  `json:"action"`
	Strength  float64 `json:"strength"`
	Reasoning string  `json:"reasoning"`
}

func (v advisorVerdict) validate() error {
	action := strings.ToLower(strings.TrimSpace(v.Action))
	switch action {
	case "buy", "sell", "hold":
	default:
		return fmt.Errorf("strategy: action 字段取值非法: %s", v.Action)
	}
	if v.Strength < 0 || v.Strength > 1 {
		return fmt.Errorf("strategy: strength 必须位于[0,1]，当前为 %f", v.Strength)
	}
	return nil
}

// GenerateSignal 构建行情摘要提示词并解析模型返回的JSON建议。
func (s *AIAdvisor) GenerateSignal(ctx context.Context, table market.Table, indicators map[string][]float64, params map[string]interface{}) (Signal, error) {
	lookbackF, err := floatParam(params, "lookback", 20)
	if err != nil {
		return Hold(), err
	}

	prompt := buildAdvisorPrompt(table, indicators, int(lookbackF))

	response, err := s.sdk.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: 0,
	})
	if err != nil {
		return Hold(), fmt.Errorf("strategy: 调用OpenAI失败: %w", err)
	}
	if len(response.Choices) == 0 {
		return Hold(), errors.New("strategy: OpenAI 返回结果为空")
	}

	raw := strings.TrimSpace(response.Choices[0].Message.Content)
	verdict, err := parseAdvisorVerdict(raw)
	if err != nil {
		s.logger.Error("解析模型建议失败", zap.Error(err), zap.String("raw_content", raw))
		return Hold(), err
	}

	s.logger.Info("AI 建议生成成功",
		zap.String("symbol", table.Symbol),
		zap.String("action", verdict.Action),
		zap.Float64("strength", verdict.Strength),
	)

	return Signal{
		Action:   SignalAction(strings.ToLower(strings.TrimSpace(verdict.Action))),
		Strength: clampStrength(verdict.Strength),
		Metadata: map[string]string{"reasoning": verdict.Reasoning},
	}, nil
}

// ResetState 无会话状态，空实现。
func (s *AIAdvisor) ResetState() {}

func parseAdvisorVerdict(content string) (advisorVerdict, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end <= start {
		return advisorVerdict{}, fmt.Errorf("strategy: 模型输出未找到有效JSON: %s", content)
	}

	var verdict advisorVerdict
	if err := json.Unmarshal([]byte(content[start:end+1]), &verdict); err != nil {
		return advisorVerdict{}, fmt.Errorf("strategy: 解析建议JSON失败: %w", err)
	}
	if err := verdict.validate(); err != nil {
		return advisorVerdict{}, err
	}
	return verdict, nil
}

func buildAdvisorPrompt(table market.Table, indicators map[string][]float64, lookback int) string {
	var b strings.Builder

	b.WriteString("你是一个量化交易助手。根据以下行情与指标摘要，输出JSON：")
	b.WriteString(`{"action":"buy|sell|hold","strength":0.0,"reasoning":"..."}`)
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "交易对: %s 周期: %s\n", table.Symbol, table.Timeframe)

	n := table.Len()
	if lookback < 2 {
		lookback = 2
	}
	if n > 0 {
		startIdx := n - lookback
		if startIdx < 0 {
			startIdx = 0
		}
		first := table.Close[startIdx]
		last := table.Close[n-1]
		changePct := 0.0
		if first > 0 {
			changePct = (last - first) / first * 100
		}
		fmt.Fprintf(&b, "最新收盘: %.6f 近%d根涨跌: %.2f%%\n", last, n-startIdx, changePct)
	}

	for name, values := range indicators {
		if len(values) == 0 {
			continue
		}
		fmt.Fprintf(&b, "指标 %s 最新值: %.6f\n", name, values[len(values)-1])
	}

	b.WriteString("\n只输出JSON，不要输出其他内容。")
	return b.String()
}
