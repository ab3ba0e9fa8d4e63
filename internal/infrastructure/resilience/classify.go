package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/kirillkom/multimodal-rag/internal/core/domain"
)

// ErrorClassification tells the executor whether to retry a failed call and
// whether the failure counts against the circuit breaker.
type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
}

type ErrorClassifier func(err error) ErrorClassification

var (
	Transient = ErrorClassification{Retryable: true, RecordFailure: true}
	Permanent = ErrorClassification{Retryable: false, RecordFailure: true}
	// Ignored is for caller-side failures such as cancellation.
	Ignored = ErrorClassification{}
)

// ClassifyCommon handles the cases shared by every adapter: no error,
// cancellation and an open circuit. ok is false when the adapter must decide.
func ClassifyCommon(err error) (class ErrorClassification, ok bool) {
	switch {
	case err == nil:
		return Ignored, true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Ignored, true
	case IsCircuitOpen(err):
		return Transient, true
	default:
		return ErrorClassification{}, false
	}
}

// StatusError is returned by HTTP adapters for non-2xx upstream responses.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return e.Service + " status " + http.StatusText(e.StatusCode)
	}
	return e.Service + " status " + http.StatusText(e.StatusCode) + ": " + e.Body
}

// ClassifyHTTP treats transport failures, 408, 429 and 5xx gateway errors as
// retryable. Other statuses are the caller's fault and do not trip the breaker.
func ClassifyHTTP(err error) ErrorClassification {
	if class, ok := ClassifyCommon(err); ok {
		return class
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if IsRetryableHTTPStatus(statusErr.StatusCode) {
			return Transient
		}
		return Ignored
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient
	}
	return Permanent
}

func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// WrapUnavailable tags retryable failures and open circuits as upstream
// unavailability so callers can degrade instead of failing.
func WrapUnavailable(operation string, err error, classifier ErrorClassifier) error {
	if err == nil {
		return nil
	}
	if domain.IsKind(err, domain.ErrUpstreamUnavailable) {
		return err
	}
	if classifier == nil {
		classifier = ClassifyHTTP
	}
	if IsCircuitOpen(err) || classifier(err).Retryable {
		return domain.WrapError(domain.ErrUpstreamUnavailable, operation, err)
	}
	return err
}
