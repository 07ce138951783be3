package completion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCompleteSendsHistoryAndExtractsText(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if key := r.Header.Get("x-api-key"); key != "sk-test" {
			t.Errorf("expected credential header, got %q", key)
		}
		if v := r.Header.Get("anthropic-version"); v != defaultAPIVersion {
			t.Errorf("expected version header, got %q", v)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_1","content":[{"type":"text","text":"hello there"}]}`))
	}))
	defer srv.Close()

	client := New(WithBaseURL(srv.URL + "/"))
	text, err := client.Complete(context.Background(), "sk-test", Request{
		Model:     "claude-test",
		MaxTokens: 1024,
		Messages: []Message{
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
			{Role: "user", Content: "how are you"},
		},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if text != "hello there" {
		t.Errorf("expected extracted text, got %q", text)
	}
	if got.Model != "claude-test" || got.MaxTokens != 1024 || len(got.Messages) != 3 {
		t.Fatalf("unexpected request body %+v", got)
	}
	if got.Messages[2].Content != "how are you" || got.Messages[1].Role != "assistant" {
		t.Errorf("history order not preserved: %+v", got.Messages)
	}
}

func TestCompleteFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		kind    ErrorKind
		message string
	}{
		{name: "backend error field", status: http.StatusOK, body: `{"error":{"type":"rate_limit_error","message":"rate limited"}}`, kind: KindBackend, message: "rate limited"},
		{name: "non-2xx with error envelope", status: http.StatusTooManyRequests, body: `{"type":"error","error":{"type":"rate_limit_error","message":"rate limited"}}`, kind: KindStatus, message: "rate limited"},
		{name: "non-2xx plain body", status: http.StatusBadGateway, body: "upstream down", kind: KindStatus, message: "unexpected status 502 Bad Gateway: upstream down"},
		{name: "not json", status: http.StatusOK, body: "<html>", kind: KindMalformed},
		{name: "empty content", status: http.StatusOK, body: `{"content":[]}`, kind: KindMalformed, message: "malformed response: missing content[0].text"},
		{name: "content without text", status: http.StatusOK, body: `{"content":[{"type":"tool_use"}]}`, kind: KindMalformed, message: "malformed response: missing content[0].text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(WithBaseURL(srv.URL)).Complete(context.Background(), "sk", Request{Model: "m", MaxTokens: 1})
			if !errors.Is(err, ErrCompletion) {
				t.Fatalf("expected ErrCompletion, got %v", err)
			}
			var cerr *Error
			if !errors.As(err, &cerr) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if cerr.Kind != tt.kind {
				t.Errorf("kind = %s, want %s", cerr.Kind, tt.kind)
			}
			if tt.message != "" && Describe(err) != tt.message {
				t.Errorf("Describe = %q, want %q", Describe(err), tt.message)
			}
		})
	}
}

func TestCompleteTimeoutIsNetworkFailure(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := New(WithBaseURL(srv.URL), WithTimeout(50*time.Millisecond)).Complete(context.Background(), "sk", Request{})
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Kind != KindNetwork {
		t.Fatalf("expected network failure on timeout, got %v", err)
	}
}

func TestWithTimeoutLeavesSharedClientAlone(t *testing.T) {
	shared := &http.Client{Timeout: 7 * time.Second}

	c := New(WithHTTPClient(shared), WithTimeout(time.Second))
	if shared.Timeout != 7*time.Second {
		t.Fatalf("shared client timeout changed to %s", shared.Timeout)
	}
	if c.HTTPClient == shared || c.HTTPClient.Timeout != time.Second {
		t.Fatalf("client timeout = %s, want 1s on a copy", c.HTTPClient.Timeout)
	}

	before := http.DefaultClient.Timeout
	New(WithHTTPClient(http.DefaultClient), WithTimeout(time.Second))
	if http.DefaultClient.Timeout != before {
		t.Fatalf("http.DefaultClient timeout changed to %s", http.DefaultClient.Timeout)
	}
}

func TestCompleteCanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := New(WithBaseURL(srv.URL)).Complete(ctx, "sk", Request{})
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Kind != KindCanceled {
		t.Fatalf("expected canceled failure, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected wrapped context.Canceled, got %v", err)
	}
}
