package generator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"strategy-lab/internal/domain"
)

const validOutput = `{"candidates":[{"strategy_name":"A","symbol":"BTC","rules":{"entry":["x"]}}]}`

func TestHTTPGenerator_Envelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var gc Context
		if err := json.NewDecoder(r.Body).Decode(&gc); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if gc.SourceFailure == nil || gc.SourceFailure.BotID != "bot-1" {
			t.Errorf("failure context not sent: %+v", gc.SourceFailure)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("authorization = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]string{"output": "```json\n" + validOutput + "\n```"})
	}))
	defer server.Close()

	g := NewHTTPGenerator(server.URL, WithAPIKey("secret"), WithName("research"))
	res, err := g.Generate(context.Background(), Context{
		TraceID:       "trace-1",
		SourceFailure: &FailureContext{BotID: "bot-1", ReasonCodes: []domain.ReasonCode{domain.ReasonLowSharpe}},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Provider != "research" {
		t.Errorf("provider = %q, want research", res.Provider)
	}
	if len(res.Drafts) != 1 || res.Drafts[0].StrategyName != "A" {
		t.Errorf("drafts = %+v", res.Drafts)
	}
}

func TestHTTPGenerator_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(validOutput))
	}))
	defer server.Close()

	g := NewHTTPGenerator(server.URL, WithRetryDelay(time.Millisecond), WithMaxDelay(5*time.Millisecond))
	res, err := g.Generate(context.Background(), Context{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if len(res.Drafts) != 1 {
		t.Errorf("drafts = %d, want 1", len(res.Drafts))
	}
}

func TestHTTPGenerator_PermanentError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer server.Close()

	g := NewHTTPGenerator(server.URL, WithRetryDelay(time.Millisecond))
	_, err := g.Generate(context.Background(), Context{})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrProviderUnavailable", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no retry)", calls.Load())
	}
}

func TestHTTPGenerator_RetriesExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	g := NewHTTPGenerator(server.URL, WithMaxRetries(2), WithRetryDelay(time.Millisecond))
	_, err := g.Generate(context.Background(), Context{})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrProviderUnavailable", err)
	}
	if !strings.Contains(err.Error(), "max retries") {
		t.Errorf("err = %v, want max retries", err)
	}
}

func TestHTTPGenerator_UnparseableIsZeroCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("the model is thinking..."))
	}))
	defer server.Close()

	res, err := NewHTTPGenerator(server.URL).Generate(context.Background(), Context{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Parse != KindParseError || len(res.Drafts) != 0 {
		t.Errorf("result = %+v, want PARSE_ERROR with no drafts", res)
	}
}

func TestCascade(t *testing.T) {
	down := &Stub{Label: "primary", Err: errors.New("timeout")}
	up := &Stub{Label: "fallback", Drafts: Fixtures()}

	res, err := NewCascade(nil, down, up).Generate(context.Background(), Context{TraceID: "t"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Provider != "fallback" {
		t.Errorf("provider = %q, want fallback", res.Provider)
	}
	if len(res.Drafts) != len(Fixtures()) {
		t.Errorf("drafts = %d, want %d", len(res.Drafts), len(Fixtures()))
	}
	if len(down.Calls()) != 1 || len(up.Calls()) != 1 {
		t.Errorf("calls = %d/%d, want 1/1", len(down.Calls()), len(up.Calls()))
	}

	_, err = NewCascade(nil, down).Generate(context.Background(), Context{})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("err = %v, want ErrProviderUnavailable", err)
	}

	_, err = NewCascade(nil).Generate(context.Background(), Context{})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("empty cascade err = %v, want ErrProviderUnavailable", err)
	}
}
