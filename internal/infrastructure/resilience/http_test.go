package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
)

func TestClassifyHTTPError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorClassification
	}{
		{"canceled", context.Canceled, Ignored},
		{"open breaker", gobreaker.ErrOpenState, Transient},
		{"bad gateway", &StatusError{StatusCode: 502}, Transient},
		{"bad request", &StatusError{StatusCode: 400}, Ignored},
		{"wrapped status", fmt.Errorf("call: %w", &StatusError{StatusCode: 429}), Transient},
		{"other", errors.New("boom"), Permanent},
	}
	for _, tc := range cases {
		if got := ClassifyHTTPError(tc.err); got != tc.want {
			t.Fatalf("%s: want %+v, got %+v", tc.name, tc.want, got)
		}
	}
}

func TestWrapTemporary(t *testing.T) {
	err := WrapTemporary("crm.authority", &StatusError{StatusCode: 503}, nil)
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	permanent := &StatusError{StatusCode: 404}
	if got := WrapTemporary("crm.authority", permanent, nil); got != error(permanent) {
		t.Fatalf("permanent errors must pass through, got %v", got)
	}
}

func TestNewStatusErrorReadsResponse(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusTooManyRequests,
		Status:     "429 Too Many Requests",
		Header:     http.Header{"Retry-After": []string{"2"}},
		Body:       io.NopCloser(strings.NewReader(" slow down\n")),
	}
	err := NewStatusError("crm", "authority", resp)
	if err.RetryAfter != 2*time.Second {
		t.Fatalf("expected retry after 2s, got %s", err.RetryAfter)
	}
	if err.Error() != "crm authority status: 429 Too Many Requests: slow down" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	cases := map[string]time.Duration{
		"":                              0,
		"3":                             3 * time.Second,
		"-1":                            0,
		"soon":                          0,
		"Wed, 14 Oct 2026 12:00:10 GMT": 10 * time.Second,
		"Wed, 14 Oct 2026 11:00:00 GMT": 0,
	}
	for in, want := range cases {
		if got := ParseRetryAfter(in, now); got != want {
			t.Fatalf("ParseRetryAfter(%q) = %s, want %s", in, got, want)
		}
	}
}
