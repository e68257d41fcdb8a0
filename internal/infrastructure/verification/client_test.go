package verification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
)

func TestSubmitReturnsJobLink(t *testing.T) {
	var payload map[string]string
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"job_id":"job-42"}`))
	}))
	defer server.Close()

	link, err := New(server.URL+"/api/v1/verify", Options{Token: "secret"}).Submit(context.Background(), "c1_m2", "User question: q\n\nAnswer:\na")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if link != server.URL+"/api/v1/verify/job-42" {
		t.Fatalf("unexpected link %q", link)
	}
	if auth != "Bearer secret" {
		t.Fatalf("unexpected authorization header %q", auth)
	}
	if payload["external_request_id"] != "c1_m2" || payload["qa_content"] == "" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestSubmitWithoutJobIDReturnsNoLink(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("no token configured, got authorization header")
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	link, err := New(server.URL, Options{}).Submit(context.Background(), "id", "qa")
	if err != nil || link != "" {
		t.Fatalf("expected no link, got %q, %v", link, err)
	}
}

func TestSubmitClassifiesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := New(server.URL, Options{}).Submit(context.Background(), "id", "qa")
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
}

func TestSubmitWithoutURLIsNoop(t *testing.T) {
	link, err := New("", Options{}).Submit(context.Background(), "id", "qa")
	if err != nil || link != "" {
		t.Fatalf("expected noop, got %q, %v", link, err)
	}
}

func TestJobLink(t *testing.T) {
	got, err := JobLink("https://verify.example.com/jobs/", "a b")
	if err != nil {
		t.Fatalf("JobLink() error = %v", err)
	}
	if got != "https://verify.example.com/jobs/a%20b" {
		t.Fatalf("unexpected link %q", got)
	}
}
