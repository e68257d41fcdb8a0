package resilience

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
)

const statusBodyLimit = 2048

// StatusError is a non-2xx response from an upstream HTTP service.
type StatusError struct {
	Service    string
	Operation  string
	StatusCode int
	Status     string
	Body       string
	RetryAfter time.Duration
}

// NewStatusError captures resp without closing its body.
func NewStatusError(service, operation string, resp *http.Response) *StatusError {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, statusBodyLimit))
	return &StatusError{
		Service:    service,
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(snippet)),
		RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
}

func (e *StatusError) Error() string {
	if e == nil {
		return "upstream status error"
	}
	msg := fmt.Sprintf("%s %s status: %s", e.Service, e.Operation, e.Status)
	if body := strings.TrimSpace(e.Body); body != "" {
		msg += ": " + body
	}
	return msg
}

// ParseRetryAfter reads either delay-seconds or an HTTP date. Anything else
// is zero.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

func IsRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// ClassifyHTTPError treats transport failures and retryable statuses as
// transient. Other statuses are the request's fault.
func ClassifyHTTPError(err error) ErrorClassification {
	if class, ok := ClassifyCommon(err); ok {
		return class
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if IsRetryableStatus(statusErr.StatusCode) {
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

// WrapTemporary marks err as domain.ErrTemporary when classifier considers it
// retryable. A nil classifier means ClassifyHTTPError.
func WrapTemporary(operation string, err error, classifier ErrorClassifier) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if classifier == nil {
		classifier = ClassifyHTTPError
	}
	if classifier(err).Retryable || IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}
