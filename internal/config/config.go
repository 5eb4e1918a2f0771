package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderDoubao = "doubao"
	ProviderQwen   = "qwen"

	FramingRaw = "raw"
	FramingSSE = "sse"

	WebSearchDuckDuckGo = "duckduckgo"
	WebSearchBrave      = "brave"
	WebSearchTavily     = "tavily"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Model     ModelConfig     `mapstructure:"model"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Doubao    DoubaoConfig    `mapstructure:"doubao"`
	Qwen      QwenConfig      `mapstructure:"qwen"`
	Search    SearchConfig    `mapstructure:"search"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Log       LogConfig       `mapstructure:"log"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
	// StreamFraming 取值 raw 或 sse
	StreamFraming string `mapstructure:"stream_framing"`
}

type ModelConfig struct {
	Provider string `mapstructure:"provider"`
}

type GeminiConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature *float32      `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type OpenAIConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float32       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type DoubaoConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float32       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type QwenConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Model        string        `mapstructure:"model"`
	MaxTokens    int           `mapstructure:"max_tokens"`
	Temperature  float32       `mapstructure:"temperature"`
	TopP         float32       `mapstructure:"top_p"`
	Timeout      time.Duration `mapstructure:"timeout"`
	DebugRequest bool          `mapstructure:"debug_request"`
}

// SearchConfig /search 代理的声明式配置
type SearchConfig struct {
	Description  string            `mapstructure:"description"`
	Instructions []string          `mapstructure:"instructions"`
	Fallback     string            `mapstructure:"fallback"`
	MaxSteps     int               `mapstructure:"max_steps"`
	Web          WebSearchConfig   `mapstructure:"web"`
	Arxiv        ArxivConfig       `mapstructure:"arxiv"`
	MCPServers   []MCPServerConfig `mapstructure:"mcp_servers"`
}

type WebSearchConfig struct {
	Provider   string        `mapstructure:"provider"`
	APIKey     string        `mapstructure:"api_key"`
	Depth      string        `mapstructure:"depth"`
	BaseURL    string        `mapstructure:"base_url"`
	MaxResults int           `mapstructure:"max_results"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type ArxivConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	MaxResults int           `mapstructure:"max_results"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// MCPServerConfig 一个检索用 MCP 服务，transport 为 sse 或 stdio
type MCPServerConfig struct {
	Name      string   `mapstructure:"name"`
	Transport string   `mapstructure:"transport"`
	URL       string   `mapstructure:"url"`
	Command   string   `mapstructure:"command"`
	Args      []string `mapstructure:"args"`
	Env       []string `mapstructure:"env"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

var (
	DefaultInstructions = []string{
		"Use the web_search tool to search for information on the web.",
		"Use the arxiv_search tool to search for information on arxiv.org.",
		"Return the link of the source document or information.",
		"If no information is found, return 'No information found.'",
	}
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 9000)
	v.SetDefault("server.read_timeout", 30*time.Second)
	// 流式响应可能持续较久，写超时默认关闭
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.max_header_bytes", 1<<20)
	v.SetDefault("server.stream_framing", FramingRaw)

	v.SetDefault("model.provider", ProviderGemini)

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.base_url", "")
	v.SetDefault("gemini.model", "gemini-1.5-flash")
	v.SetDefault("gemini.max_tokens", 0)
	v.SetDefault("gemini.timeout", 0)

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.timeout", 0)

	v.SetDefault("doubao.api_key", "")
	v.SetDefault("doubao.base_url", "")
	v.SetDefault("doubao.model", "")
	v.SetDefault("doubao.timeout", 0)

	v.SetDefault("qwen.api_key", "")
	v.SetDefault("qwen.base_url", "https://dashscope.aliyuncs.com/compatible-mode/v1")
	v.SetDefault("qwen.model", "qwen-plus")
	v.SetDefault("qwen.max_tokens", 2048)
	v.SetDefault("qwen.temperature", 0.7)
	v.SetDefault("qwen.top_p", 0.9)
	v.SetDefault("qwen.timeout", 0)
	v.SetDefault("qwen.debug_request", false)

	v.SetDefault("search.description", "You are a helpful assistant that helps users find information on the web.")
	v.SetDefault("search.instructions", DefaultInstructions)
	v.SetDefault("search.fallback", "No information found.")
	v.SetDefault("search.max_steps", 5)
	v.SetDefault("search.web.provider", WebSearchDuckDuckGo)
	v.SetDefault("search.web.api_key", "")
	v.SetDefault("search.web.depth", "basic")
	v.SetDefault("search.web.base_url", "")
	v.SetDefault("search.web.max_results", 5)
	v.SetDefault("search.web.timeout", 15*time.Second)
	v.SetDefault("search.arxiv.base_url", "http://export.arxiv.org/api/query")
	v.SetDefault("search.arxiv.max_results", 5)
	v.SetDefault("search.arxiv.timeout", 20*time.Second)

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"})
	v.SetDefault("cors.exposed_headers", []string{"X-Request-ID"})
	v.SetDefault("cors.allow_credentials", false)
	v.SetDefault("cors.max_age", 12*3600)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.requests_per_minute", 60)
	v.SetDefault("rate_limit.burst", 10)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Load 读取配置文件并叠加环境变量；配置文件不存在时使用默认值
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", configPath, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvCredentials(cfg)
	return cfg, nil
}

// 配置文件优先，如果配置文件中没有设置，则使用环境变量
func applyEnvCredentials(cfg *Config) {
	if cfg.Gemini.APIKey == "" {
		cfg.Gemini.APIKey = firstEnv("GOOGLE_API_KEY", "GEMINI_API_KEY")
	}
	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = firstEnv("OPENAI_API_KEY")
	}
	if cfg.Doubao.APIKey == "" {
		cfg.Doubao.APIKey = firstEnv("ARK_API_KEY", "DOUBAO_API_KEY")
	}
	if cfg.Qwen.APIKey == "" {
		cfg.Qwen.APIKey = firstEnv("DASHSCOPE_API_KEY")
	}
	if cfg.Search.Web.APIKey == "" {
		switch cfg.Search.Web.Provider {
		case WebSearchBrave:
			cfg.Search.Web.APIKey = firstEnv("BRAVE_API_KEY")
		case WebSearchTavily:
			cfg.Search.Web.APIKey = firstEnv("TAVILY_API_KEY")
		}
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// Validate 启动前检查配置是否可用
func (c *Config) Validate() error {
	switch c.Server.StreamFraming {
	case FramingRaw, FramingSSE:
	default:
		return fmt.Errorf("unsupported stream framing: %s", c.Server.StreamFraming)
	}

	var key string
	switch c.Model.Provider {
	case ProviderGemini:
		key = c.Gemini.APIKey
	case ProviderOpenAI:
		key = c.OpenAI.APIKey
	case ProviderDoubao:
		key = c.Doubao.APIKey
	case ProviderQwen:
		key = c.Qwen.APIKey
	default:
		return fmt.Errorf("unsupported model provider: %s", c.Model.Provider)
	}
	if key == "" {
		return fmt.Errorf("missing api key for model provider %s", c.Model.Provider)
	}

	switch c.Search.Web.Provider {
	case WebSearchDuckDuckGo:
	case WebSearchBrave, WebSearchTavily:
		if c.Search.Web.APIKey == "" {
			return fmt.Errorf("missing api key for web search provider %s", c.Search.Web.Provider)
		}
	default:
		return fmt.Errorf("unsupported web search provider: %s", c.Search.Web.Provider)
	}

	for i, s := range c.Search.MCPServers {
		switch s.Transport {
		case "", "sse":
			if s.URL == "" {
				return fmt.Errorf("mcp server %d (%s): url is required", i, s.Name)
			}
		case "stdio":
			if s.Command == "" {
				return fmt.Errorf("mcp server %d (%s): command is required", i, s.Name)
			}
		default:
			return fmt.Errorf("mcp server %d (%s): unsupported transport %s", i, s.Name, s.Transport)
		}
	}
	return nil
}
