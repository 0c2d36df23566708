// =============================================================================
// 📦 InstructFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("instructflow.yaml").
//	    WithEnvPrefix("INSTRUCTFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"maps"
	"os"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/instructflow/instructor"
	"github.com/BaSui01/instructflow/llm/factory"
	"github.com/BaSui01/instructflow/llm/providers"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 InstructFlow 的完整配置结构
type Config struct {
	// Instructor 结构化补全引擎配置
	Instructor InstructorConfig `yaml:"instructor" env:"INSTRUCTOR"`

	// LLM 大语言模型配置
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Metrics Prometheus 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// InstructorConfig 结构化补全引擎配置
type InstructorConfig struct {
	// 默认模式: FUNCTIONS, TOOLS, JSON, MD_JSON, JSON_SCHEMA, THINKING_MD_JSON
	Mode string `yaml:"mode" env:"MODE"`
	// 纠正回合上限，0 表示只尝试一次
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 传输错误也消耗纠正预算并重发
	RetryAllErrors bool `yaml:"retry_all_errors" env:"RETRY_ALL_ERRORS"`
	// 以 Debug 级别记录原始响应
	Debug bool `yaml:"debug" env:"DEBUG"`
	// 单次往返超时，0 表示不限制
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 纠正回合之间的初始等待，0 表示立即重试
	CorrectionDelay time.Duration `yaml:"correction_delay" env:"CORRECTION_DELAY"`
	// 纠正回合之间的最大等待
	CorrectionMaxDelay time.Duration `yaml:"correction_max_delay" env:"CORRECTION_MAX_DELAY"`
}

// LLMConfig LLM 配置
//
// 顶层字段描述默认 Provider；Providers 可额外声明多个命名 Provider，
// 仅支持 YAML 配置。
type LLMConfig struct {
	// 默认 Provider
	DefaultProvider string `yaml:"default_provider" env:"DEFAULT_PROVIDER"`
	// API Key（通用）
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL（可选，内置 Provider 有默认值）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 默认模型
	Model string `yaml:"model" env:"MODEL"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 传输层最大重试次数，不消耗纠正预算
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 每秒请求数上限，0 表示不限流
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	// 限流突发量，缺省为 1
	Burst int `yaml:"burst" env:"BURST"`

	Providers map[string]factory.ProviderConfig `yaml:"providers"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	// 是否暴露 /metrics
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 监听地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 指标命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// RegistryConfig 把 LLM 配置转换为 factory.RegistryConfig。
// 顶层字段构成 DefaultProvider 对应的条目，Providers 中同名条目优先。
func (c LLMConfig) RegistryConfig() factory.RegistryConfig {
	out := factory.RegistryConfig{
		Default:   c.DefaultProvider,
		Providers: make(map[string]factory.ProviderConfig, len(c.Providers)+1),
	}
	for name, p := range c.Providers {
		out.Providers[name] = p
	}
	if c.DefaultProvider != "" {
		if _, ok := out.Providers[c.DefaultProvider]; !ok {
			out.Providers[c.DefaultProvider] = factory.ProviderConfig{
				BaseProviderConfig: providers.BaseProviderConfig{
					APIKey:            c.APIKey,
					BaseURL:           c.BaseURL,
					Model:             c.Model,
					Timeout:           c.Timeout,
					RequestsPerSecond: c.RequestsPerSecond,
					Burst:             c.Burst,
				},
				MaxRetries: c.MaxRetries,
			}
		}
	}
	return out
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "INSTRUCTFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置，文件不存在时保留默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置带 env tag 的结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 按字段类型解析环境变量值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if _, err := instructor.ParseMode(c.Instructor.Mode); err != nil {
		errs = append(errs, fmt.Sprintf("unsupported mode %q", c.Instructor.Mode))
	}
	if c.Instructor.MaxRetries < 0 {
		errs = append(errs, "instructor.max_retries must not be negative")
	}
	if c.Instructor.Timeout < 0 {
		errs = append(errs, "instructor.timeout must not be negative")
	}
	if c.LLM.MaxRetries < 0 {
		errs = append(errs, "llm.max_retries must not be negative")
	}
	if c.LLM.DefaultProvider == "" && len(c.LLM.Providers) == 0 {
		errs = append(errs, "llm.default_provider is required")
	}
	if c.LLM.DefaultProvider != "" && !factory.IsBuiltin(c.LLM.DefaultProvider) && c.LLM.BaseURL == "" {
		if p, ok := c.LLM.Providers[c.LLM.DefaultProvider]; !ok || p.BaseURL == "" {
			errs = append(errs, fmt.Sprintf("llm.base_url is required for provider %q", c.LLM.DefaultProvider))
		}
	}
	entries := c.LLM.RegistryConfig().Providers
	for _, name := range slices.Sorted(maps.Keys(entries)) {
		if err := entries[name].Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("llm provider %q: %v", name, err))
		}
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("invalid log level %q", c.Log.Level))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
