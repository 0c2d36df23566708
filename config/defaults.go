// =============================================================================
// 📦 InstructFlow 默认配置
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/instructflow/instructor"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Instructor: DefaultInstructorConfig(),
		LLM:        DefaultLLMConfig(),
		Log:        DefaultLogConfig(),
		Metrics:    DefaultMetricsConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultInstructorConfig 返回默认引擎配置
func DefaultInstructorConfig() InstructorConfig {
	return InstructorConfig{
		Mode:               string(instructor.DefaultMode),
		MaxRetries:         0,
		CorrectionMaxDelay: 10 * time.Second,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		DefaultProvider: "openai",
		Timeout:         2 * time.Minute,
		MaxRetries:      2,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stderr"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   false,
		Addr:      ":9091",
		Namespace: "instructflow",
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "instructflow",
		SampleRate:   0.1,
	}
}
