package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// envPrefix 环境变量前缀，例如 TRADEWATCH_BACKEND_URL
const envPrefix = "TRADEWATCH"

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level" envconfig:"LEVEL"`             // 日志级别
	File       string `yaml:"file" envconfig:"FILE"`               // 日志文件路径（可选）
	MaxSize    int    `yaml:"max_size" envconfig:"MAX_SIZE"`       // MB
	MaxBackups int    `yaml:"max_backups" envconfig:"MAX_BACKUPS"` // 保留份数
	MaxAge     int    `yaml:"max_age" envconfig:"MAX_AGE"`         // 天
	Compress   bool   `yaml:"compress" envconfig:"COMPRESS"`
}

// Config 应用配置
type Config struct {
	BackendURL string `yaml:"backend_url" envconfig:"BACKEND_URL"` // REST 基础地址
	WSURL      string `yaml:"ws_url" envconfig:"WS_URL"`           // 推送通道地址
	UserID     int64  `yaml:"user_id" envconfig:"USER_ID"`         // 提交交易时使用的用户 id
	Symbol     string `yaml:"symbol" envconfig:"SYMBOL"`           // 默认交易对

	LogCapacity     int           `yaml:"log_capacity" envconfig:"LOG_CAPACITY"`         // 滚动事件日志保留条数
	RefreshDebounce time.Duration `yaml:"refresh_debounce" envconfig:"REFRESH_DEBOUNCE"` // trade_update 之后的快照防抖窗口
	PollInterval    time.Duration `yaml:"poll_interval" envconfig:"POLL_INTERVAL"`       // 兜底轮询间隔，0 表示关闭
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`   // 单次拉取超时
	SubmitTimeout   time.Duration `yaml:"submit_timeout" envconfig:"SUBMIT_TIMEOUT"`     // 提交交易超时

	ReconnectDelay       time.Duration `yaml:"reconnect_delay" envconfig:"RECONNECT_DELAY"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay" envconfig:"RECONNECT_MAX_DELAY"`
	ReconnectMaxAttempts int           `yaml:"reconnect_max_attempts" envconfig:"RECONNECT_MAX_ATTEMPTS"` // 0 表示不限
	PingInterval         time.Duration `yaml:"ping_interval" envconfig:"PING_INTERVAL"`
	PongTimeout          time.Duration `yaml:"pong_timeout" envconfig:"PONG_TIMEOUT"`

	StatusListen  string `yaml:"status_listen" envconfig:"STATUS_LISTEN"`   // 本地状态 API，空表示关闭
	MetricsListen string `yaml:"metrics_listen" envconfig:"METRICS_LISTEN"` // prometheus /metrics，空表示关闭

	Log LogConfig `yaml:"log" envconfig:"LOG"`
}

// Default 返回默认配置（对应本地开发环境的后端）
func Default() *Config {
	return &Config{
		BackendURL:           "http://localhost:8000",
		WSURL:                "ws://localhost:8000/ws",
		UserID:               1,
		Symbol:               "BTCUSDT",
		LogCapacity:          200,
		RefreshDebounce:      500 * time.Millisecond,
		PollInterval:         15 * time.Second,
		RequestTimeout:       10 * time.Second,
		SubmitTimeout:        15 * time.Second,
		ReconnectDelay:       1 * time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		ReconnectMaxAttempts: 0,
		PingInterval:         15 * time.Second,
		PongTimeout:          45 * time.Second,
		Log: LogConfig{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   true,
		},
	}
}

// Load 加载配置
// 优先级：环境变量（含 .env）> 配置文件 > 默认值
func Load(filePath string) (*Config, error) {
	// .env 不存在时直接使用真实环境变量
	_ = godotenv.Load()

	cfg := Default()
	if filePath != "" {
		if err := loadConfigFile(filePath, cfg); err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
	}

	// 只覆盖设置了的环境变量，未设置的字段保持文件/默认值
	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("解析环境变量失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON，JSON 是 YAML 的子集）
func loadConfigFile(filePath string, cfg *Config) error {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".yaml", ".yml", ".json":
	default:
		return fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("解析配置文件失败: %w", err)
	}
	return nil
}

// Validate 验证配置
func (c *Config) Validate() error {
	if err := validateURL("backend_url", c.BackendURL, "http", "https"); err != nil {
		return err
	}
	if err := validateURL("ws_url", c.WSURL, "ws", "wss"); err != nil {
		return err
	}
	if strings.TrimSpace(c.Symbol) == "" {
		return fmt.Errorf("symbol 不能为空")
	}
	if c.LogCapacity <= 0 {
		return fmt.Errorf("log_capacity 必须大于 0")
	}
	if c.RefreshDebounce < 0 {
		return fmt.Errorf("refresh_debounce 不能为负数")
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("poll_interval 不能为负数")
	}
	if c.RequestTimeout <= 0 || c.SubmitTimeout <= 0 {
		return fmt.Errorf("request_timeout/submit_timeout 必须大于 0")
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect_delay 必须大于 0")
	}
	if c.ReconnectMaxDelay < c.ReconnectDelay {
		return fmt.Errorf("reconnect_max_delay 不能小于 reconnect_delay")
	}
	if c.ReconnectMaxAttempts < 0 {
		return fmt.Errorf("reconnect_max_attempts 不能为负数")
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("ping_interval 必须大于 0")
	}
	if c.PongTimeout <= c.PingInterval {
		return fmt.Errorf("pong_timeout 必须大于 ping_interval")
	}
	return nil
}

func validateURL(key, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s 未配置", key)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s 无效: %w", key, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s 必须是 %s 地址: %s", key, strings.Join(schemes, "/"), raw)
}
