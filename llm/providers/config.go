package providers

import (
	"fmt"
	"time"
)

// BaseProviderConfig 所有 Provider 共享的连接配置。
// 空的 BaseURL / Model 由 factory 预设补齐。
type BaseProviderConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// RequestsPerSecond 限制发往上游的请求速率，0 表示不限制
	RequestsPerSecond float64 `json:"requests_per_second,omitempty" yaml:"requests_per_second,omitempty"`
	// Burst 仅在限流开启时生效，缺省为 1
	Burst int `json:"burst,omitempty" yaml:"burst,omitempty"`
}

// Validate rejects negative durations and limiter settings.
func (c BaseProviderConfig) Validate() error {
	switch {
	case c.Timeout < 0:
		return fmt.Errorf("timeout must not be negative, got %s", c.Timeout)
	case c.RequestsPerSecond < 0:
		return fmt.Errorf("requests_per_second must not be negative, got %g", c.RequestsPerSecond)
	case c.Burst < 0:
		return fmt.Errorf("burst must not be negative, got %d", c.Burst)
	}
	return nil
}
