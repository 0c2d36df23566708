// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/instructflow/llm"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器，实现 instructor.Recorder
type Collector struct {
	// 结构化补全指标
	requestsTotal      *prometheus.CounterVec
	attempts           *prometheus.HistogramVec
	validationFailures *prometheus.CounterVec
	streamFragments    *prometheus.CounterVec

	// LLM 往返指标
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
	llmTokens          *prometheus.CounterVec
	llmCost            *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器并注册到 reg。reg 为 nil 时使用
// prometheus.DefaultRegisterer。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.requestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of structured completion calls",
		},
		[]string{"provider", "mode", "status"},
	)

	c.attempts = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempts",
			Help:      "Provider round trips per structured completion call",
			Buckets:   []float64{1, 2, 3, 4, 6, 8, 12},
		},
		[]string{"provider", "mode"},
	)

	c.validationFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_failures_total",
			Help:      "Failed attempts by failure kind (extraction, validation, transport)",
		},
		[]string{"provider", "mode", "kind"},
	)

	c.streamFragments = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_fragments_total",
			Help:      "Total number of partial results emitted by streaming calls",
		},
		[]string{"provider", "mode"},
	)

	c.llmRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests",
		},
		[]string{"provider", "model", "status"},
	)

	c.llmRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)

	c.llmTokens = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Total number of tokens used",
		},
		[]string{"provider", "model", "type"}, // type: prompt, completion
	)

	c.llmCost = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_cost_total",
			Help:      "Total LLM cost in USD",
		},
		[]string{"provider", "model"},
	)

	return c
}

// =============================================================================
// 📝 记录方法
// =============================================================================

// RecordLLMRequest 记录一次 provider 往返
func (c *Collector) RecordLLMRequest(provider, model string, duration time.Duration, usage llm.ChatUsage, err error) {
	status := llmStatus(err)
	c.llmRequestsTotal.WithLabelValues(provider, model, status).Inc()
	c.llmRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	if usage.PromptTokens > 0 {
		c.llmTokens.WithLabelValues(provider, model, "prompt").Add(float64(usage.PromptTokens))
	}
	if usage.CompletionTokens > 0 {
		c.llmTokens.WithLabelValues(provider, model, "completion").Add(float64(usage.CompletionTokens))
	}
	if usage.Cost > 0 {
		c.llmCost.WithLabelValues(provider, model).Add(usage.Cost)
	}
	if err != nil {
		c.logger.Debug("llm request failed",
			zap.String("provider", provider),
			zap.String("model", model),
			zap.String("status", status))
	}
}

// ObserveCompletion 记录一次结构化补全调用的结果与往返次数
func (c *Collector) ObserveCompletion(provider, mode, status string, attempts int) {
	c.requestsTotal.WithLabelValues(provider, mode, status).Inc()
	if attempts > 0 {
		c.attempts.WithLabelValues(provider, mode).Observe(float64(attempts))
	}
}

// ObserveValidationFailure 记录一次失败的尝试
func (c *Collector) ObserveValidationFailure(provider, mode, kind string) {
	c.validationFailures.WithLabelValues(provider, mode, kind).Inc()
}

// ObserveStreamFragment 记录一次流式部分结果
func (c *Collector) ObserveStreamFragment(provider, mode string) {
	c.streamFragments.WithLabelValues(provider, mode).Inc()
}

// llmStatus 把传输错误归类为 label 值
func llmStatus(err error) string {
	if err == nil {
		return "success"
	}
	var llmErr *llm.Error
	if errors.As(err, &llmErr) && llmErr.Code != "" {
		return string(llmErr.Code)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "error"
}
