package ollama

import (
	"errors"
	"net/http"
	"strings"

	"github.com/kirillkom/doc-qa-assistant/internal/infrastructure/resilience"
)

// classifyOllamaError extends the shared HTTP policy: a missing model is a
// configuration error and must not trip the breaker.
func classifyOllamaError(err error) resilience.ErrorClassification {
	var statusErr *resilience.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound &&
		strings.Contains(strings.ToLower(statusErr.Body), "model") {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	return resilience.ClassifyHTTPError(err)
}
