package instructor

import (
	"time"

	"github.com/BaSui01/instructflow/llm"
	"github.com/BaSui01/instructflow/llm/middleware"
)

// Call outcomes reported to a Recorder.
const (
	StatusSuccess        = "success"
	StatusRetryExhausted = "retry_exhausted"
	StatusTransportError = "transport_error"
	StatusError          = "error"
)

// Failure kinds reported to a Recorder.
const (
	FailureExtraction = "extraction"
	FailureValidation = "validation"
	FailureTransport  = "transport"
)

// Recorder receives engine metrics. internal/metrics provides the
// Prometheus implementation.
type Recorder interface {
	middleware.MetricsCollector

	ObserveCompletion(provider, mode, status string, attempts int)
	ObserveValidationFailure(provider, mode, kind string)
	ObserveStreamFragment(provider, mode string)
}

type nopRecorder struct{}

func (nopRecorder) RecordLLMRequest(string, string, time.Duration, llm.ChatUsage, error) {}
func (nopRecorder) ObserveCompletion(string, string, string, int)                        {}
func (nopRecorder) ObserveValidationFailure(string, string, string)                      {}
func (nopRecorder) ObserveStreamFragment(string, string)                                 {}
