package model

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/qwen"
	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"llmqa-console/internal/config"
	"llmqa-console/internal/utils"
	"llmqa-console/pkg/logger"
)

const (
	ProviderEcho   = "echo"
	ProviderQwen   = "qwen"
	ProviderArk    = "ark"
	ProviderOpenAI = "openai"
)

// NewChatModel 按 provider 创建开发后端使用的对话模型
func NewChatModel(ctx context.Context, cfg config.DevServerConfig) (einoModel.BaseChatModel, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderEcho:
		logger.Info("Using offline echo model")
		return NewEchoModel(), nil
	case ProviderQwen:
		return createQwenModel(ctx, cfg)
	case ProviderArk:
		return createArkModel(ctx, cfg)
	case ProviderOpenAI:
		logger.Infof("Using OpenAI Model: %s", cfg.Model)
		return newOpenAIChatModel(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.Provider)
	}
}

func createQwenModel(ctx context.Context, cfg config.DevServerConfig) (einoModel.BaseChatModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("qwen provider requires devserver.api_key")
	}
	logger.Infof("Using Qwen Model: %s, BaseURL: %s", cfg.Model, cfg.BaseURL)

	maxTokens := cfg.MaxTokens
	temperature := cfg.Temperature
	chatModel, err := qwen.NewChatModel(ctx, &qwen.ChatModelConfig{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
		Timeout:     cfg.Timeout,
		HTTPClient:  utils.NewHTTPClient(cfg.Timeout),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qwen model: %w", err)
	}
	return chatModel, nil
}

func createArkModel(ctx context.Context, cfg config.DevServerConfig) (einoModel.BaseChatModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("ark provider requires devserver.api_key")
	}
	logger.Infof("Using Ark Model: %s", cfg.Model)

	chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		APIKey: cfg.APIKey,
		Model:  cfg.Model,
		CustomHeader: map[string]string{
			"X-Ark-Thinking-Mode": "disable",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ark model: %w", err)
	}
	return chatModel, nil
}

// EchoModel 离线模型：不访问任何外部服务，复述最后一条用户消息
type EchoModel struct{}

func NewEchoModel() *EchoModel {
	return &EchoModel{}
}

func (m *EchoModel) Generate(ctx context.Context, messages []*schema.Message, opts ...einoModel.Option) (*schema.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var question string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == schema.User {
			question = strings.TrimSpace(messages[i].Content)
			break
		}
	}
	if question == "" {
		return nil, fmt.Errorf("no user message to answer")
	}
	return schema.AssistantMessage(fmt.Sprintf("（离线模式）已收到您的问题：%s", question), nil), nil
}

func (m *EchoModel) Stream(ctx context.Context, messages []*schema.Message, opts ...einoModel.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, messages, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}
