package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MaxRequestTimeout 问答接口允许配置的最大超时
const MaxRequestTimeout = 45 * time.Second

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	CORS      CORSConfig      `mapstructure:"cors"`
	QA        QAConfig        `mapstructure:"qa"`
	Request   RequestConfig   `mapstructure:"request"`
	Context   ContextConfig   `mapstructure:"context"`
	UI        UIConfig        `mapstructure:"ui"`
	Features  FeaturesConfig  `mapstructure:"features"`
	Session   SessionConfig   `mapstructure:"session"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	DevServer DevServerConfig `mapstructure:"devserver"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// QAConfig 远端问答服务地址。路径是配置而不是契约，{sessionId} 会被替换
type QAConfig struct {
	BaseURL              string `mapstructure:"base_url"`
	Token                string `mapstructure:"token"`
	AskPath              string `mapstructure:"ask_path"`
	HistoryPath          string `mapstructure:"history_path"`
	StatisticsPath       string `mapstructure:"statistics_path"`
	GlobalStatisticsPath string `mapstructure:"global_statistics_path"`
	SessionPath          string `mapstructure:"session_path"`
	StatusPath           string `mapstructure:"status_path"`
	HotQuestionsPath     string `mapstructure:"hot_questions_path"`
}

type RequestConfig struct {
	MaxResults        int           `mapstructure:"max_results"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RetryCount        int           `mapstructure:"retry_count"`
	MaxQuestionLength int           `mapstructure:"max_question_length"`
}

type ContextConfig struct {
	MaxHistoryLength int `mapstructure:"max_history_length"`
	MaxMessageLength int `mapstructure:"max_message_length"`
}

type UIConfig struct {
	MaxErrorMessages    int     `mapstructure:"max_error_messages"`
	AutoScrollThreshold float64 `mapstructure:"auto_scroll_threshold"`
	EnableSmoothScroll  bool    `mapstructure:"enable_smooth_scroll"`
}

type FeaturesConfig struct {
	EnableHotQuestions   bool `mapstructure:"enable_hot_questions"`
	EnableServiceCheck   bool `mapstructure:"enable_service_check"`
	EnableQuickQuestions bool `mapstructure:"enable_quick_questions"`
}

type SessionConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// DevServerConfig 本地开发用问答后端
type DevServerConfig struct {
	Port         int           `mapstructure:"port"`
	Provider     string        `mapstructure:"provider"`
	Model        string        `mapstructure:"model"`
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxTokens    int           `mapstructure:"max_tokens"`
	Temperature  float32       `mapstructure:"temperature"`
	SystemPrompt string        `mapstructure:"system_prompt"`
	HotQuestions []string      `mapstructure:"hot_questions"`
}

var cfg *Config

// Default 返回唯一的默认配置快照
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8090,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   60 * time.Second,
			MaxHeaderBytes: 1 << 20,
		},
		Log: LogConfig{Level: "info", Format: "text"},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
			MaxAge:         3600,
		},
		QA: QAConfig{
			BaseURL:              "http://localhost:8091",
			AskPath:              "/llm/qa/ask",
			HistoryPath:          "/llm/qa/session/{sessionId}/history",
			StatisticsPath:       "/llm/qa/session/{sessionId}/statistics",
			GlobalStatisticsPath: "/llm/qa/session/statistics",
			SessionPath:          "/llm/qa/session/{sessionId}",
			StatusPath:           "/llm/qa/status",
			HotQuestionsPath:     "/llm/qa/hot-questions",
		},
		Request: RequestConfig{
			MaxResults:        10,
			Timeout:           30 * time.Second,
			RetryCount:        3,
			MaxQuestionLength: 500,
		},
		Context: ContextConfig{
			MaxHistoryLength: 5,
			MaxMessageLength: 1000,
		},
		UI: UIConfig{
			MaxErrorMessages:    3,
			AutoScrollThreshold: 100,
			EnableSmoothScroll:  true,
		},
		Features: FeaturesConfig{
			EnableHotQuestions:   true,
			EnableServiceCheck:   true,
			EnableQuickQuestions: true,
		},
		Session: SessionConfig{
			TTL:             2 * time.Hour,
			CleanupInterval: 10 * time.Minute,
		},
		Metrics: MetricsConfig{Enabled: true, Namespace: "llmqa"},
		DevServer: DevServerConfig{
			Port:         8091,
			Provider:     "echo",
			Timeout:      40 * time.Second,
			MaxTokens:    1024,
			Temperature:  0.7,
			SystemPrompt: "你是商城后台的智能助手，请用简洁的中文回答管理员关于商品、订单和运营的问题。",
			HotQuestions: []string{
				"订单在哪里查询?",
				"如何上架新商品?",
				"怎么查看今日销售额?",
			},
		},
	}
}

// Load 以默认配置为底，依次叠加配置文件与环境变量（QA_ 前缀）
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix("QA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return nil, fmt.Errorf("config file %s: %w", configPath, err)
		}
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	loaded := &Config{}
	if err := v.Unmarshal(loaded); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// 配置文件优先，如果没有设置，则使用通用环境变量
	if loaded.DevServer.APIKey == "" {
		if apiKey := os.Getenv("DASHSCOPE_API_KEY"); apiKey != "" {
			loaded.DevServer.APIKey = apiKey
		}
		if apiKey := os.Getenv("ARK_API_KEY"); apiKey != "" && loaded.DevServer.Provider == "ark" {
			loaded.DevServer.APIKey = apiKey
		}
		if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" && loaded.DevServer.Provider == "openai" {
			loaded.DevServer.APIKey = apiKey
		}
	}

	if err := loaded.Validate(); err != nil {
		return nil, err
	}

	cfg = loaded
	return loaded, nil
}

func Get() *Config {
	if cfg == nil {
		return Default()
	}
	return cfg
}

func (c *Config) Validate() error {
	if c.Request.Timeout <= 0 || c.Request.Timeout > MaxRequestTimeout {
		return fmt.Errorf("request.timeout must be in (0, %s], got %s", MaxRequestTimeout, c.Request.Timeout)
	}
	if c.Request.MaxResults <= 0 {
		return fmt.Errorf("request.max_results must be positive")
	}
	if c.Request.RetryCount < 0 {
		return fmt.Errorf("request.retry_count must be >= 0")
	}
	if c.Request.MaxQuestionLength <= 0 {
		return fmt.Errorf("request.max_question_length must be positive")
	}
	if c.Context.MaxHistoryLength <= 0 {
		return fmt.Errorf("context.max_history_length must be positive")
	}
	if c.Context.MaxMessageLength <= 0 {
		return fmt.Errorf("context.max_message_length must be positive")
	}
	if c.UI.MaxErrorMessages <= 0 {
		return fmt.Errorf("ui.max_error_messages must be positive")
	}
	if c.UI.AutoScrollThreshold < 0 {
		return fmt.Errorf("ui.auto_scroll_threshold must be >= 0")
	}
	u, err := url.Parse(c.QA.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("qa.base_url must be an http(s) URL, got %q", c.QA.BaseURL)
	}
	return nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.max_header_bytes", d.Server.MaxHeaderBytes)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("cors.allowed_origins", d.CORS.AllowedOrigins)
	v.SetDefault("cors.allowed_methods", d.CORS.AllowedMethods)
	v.SetDefault("cors.allowed_headers", d.CORS.AllowedHeaders)
	v.SetDefault("cors.exposed_headers", d.CORS.ExposedHeaders)
	v.SetDefault("cors.allow_credentials", d.CORS.AllowCredentials)
	v.SetDefault("cors.max_age", d.CORS.MaxAge)

	v.SetDefault("qa.base_url", d.QA.BaseURL)
	v.SetDefault("qa.token", d.QA.Token)
	v.SetDefault("qa.ask_path", d.QA.AskPath)
	v.SetDefault("qa.history_path", d.QA.HistoryPath)
	v.SetDefault("qa.statistics_path", d.QA.StatisticsPath)
	v.SetDefault("qa.global_statistics_path", d.QA.GlobalStatisticsPath)
	v.SetDefault("qa.session_path", d.QA.SessionPath)
	v.SetDefault("qa.status_path", d.QA.StatusPath)
	v.SetDefault("qa.hot_questions_path", d.QA.HotQuestionsPath)

	v.SetDefault("request.max_results", d.Request.MaxResults)
	v.SetDefault("request.timeout", d.Request.Timeout)
	v.SetDefault("request.retry_count", d.Request.RetryCount)
	v.SetDefault("request.max_question_length", d.Request.MaxQuestionLength)

	v.SetDefault("context.max_history_length", d.Context.MaxHistoryLength)
	v.SetDefault("context.max_message_length", d.Context.MaxMessageLength)

	v.SetDefault("ui.max_error_messages", d.UI.MaxErrorMessages)
	v.SetDefault("ui.auto_scroll_threshold", d.UI.AutoScrollThreshold)
	v.SetDefault("ui.enable_smooth_scroll", d.UI.EnableSmoothScroll)

	v.SetDefault("features.enable_hot_questions", d.Features.EnableHotQuestions)
	v.SetDefault("features.enable_service_check", d.Features.EnableServiceCheck)
	v.SetDefault("features.enable_quick_questions", d.Features.EnableQuickQuestions)

	v.SetDefault("session.ttl", d.Session.TTL)
	v.SetDefault("session.cleanup_interval", d.Session.CleanupInterval)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.namespace", d.Metrics.Namespace)

	v.SetDefault("devserver.port", d.DevServer.Port)
	v.SetDefault("devserver.provider", d.DevServer.Provider)
	v.SetDefault("devserver.model", d.DevServer.Model)
	v.SetDefault("devserver.api_key", d.DevServer.APIKey)
	v.SetDefault("devserver.base_url", d.DevServer.BaseURL)
	v.SetDefault("devserver.timeout", d.DevServer.Timeout)
	v.SetDefault("devserver.max_tokens", d.DevServer.MaxTokens)
	v.SetDefault("devserver.temperature", d.DevServer.Temperature)
	v.SetDefault("devserver.system_prompt", d.DevServer.SystemPrompt)
	v.SetDefault("devserver.hot_questions", d.DevServer.HotQuestions)
}
