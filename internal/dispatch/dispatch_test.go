package dispatch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/catalog"
	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/config"
	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/llm"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordedRequest struct {
	model    string
	kwargs   map[string]any
	authKey string
}

func decodeRequest(t *testing.T, r *http.Request) recordedRequest {
	t.Helper()
	var body llm.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		t.Errorf("decode request: %v", err)
	}
	return recordedRequest{
		model:   body.Model,
		kwargs:  body.ChatTemplateKwargs,
		authKey: strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "),
	}
}

func newDispatcher(baseURL string, keys ...string) *Dispatcher {
	return New(config.ProviderConfig{
		APIKeys:        keys,
		BaseURL:        baseURL,
		TimeoutSeconds: 5,
		MaxAttempts:    2,
	}, discardLogger())
}

func chatRequest(model string) *llm.ChatRequest {
	return &llm.ChatRequest{
		Model:    model,
		Messages: []llm.Message{{Role: "user", Content: "hello there, tell me something"}},
	}
}

func TestStreamSuccessPassThrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data: {\"choices\":[]}\n\n"))
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	d := newDispatcher(server.URL, "key-1")
	var out bytes.Buffer
	result := d.Stream(context.Background(), chatRequest(catalog.FlagshipModelID), &out)

	if result.IsError {
		t.Fatalf("expected success, got error: %s", result.ErrorMessage)
	}
	if result.Attempts != 1 {
		t.Fatalf("expected one attempt, got %d", result.Attempts)
	}
	if !strings.Contains(out.String(), "data: [DONE]") {
		t.Fatalf("expected pass-through bytes, got %q", out.String())
	}
	if result.OutputChunks == 0 {
		t.Fatalf("expected chunk count recorded")
	}
	if result.TTFTSeconds <= 0 {
		t.Fatalf("expected positive ttft")
	}
	if result.InputTokens != len("hello there, tell me something")/4 {
		t.Fatalf("unexpected input token estimate: %d", result.InputTokens)
	}
}

// 플래그십 모델 실패 시 두 번째 시도는 비상 모델 + thinking 플래그로 나간다.
func TestFlagshipFallbackSubstitution(t *testing.T) {
	var mu sync.Mutex
	var seen []recordedRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		mu.Lock()
		attempt := len(seen)
		seen = append(seen, req)
		mu.Unlock()

		if attempt == 0 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("data: ok\n\n"))
	}))
	defer server.Close()

	d := newDispatcher(server.URL, "key-1", "key-2")
	var out bytes.Buffer
	result := d.Stream(context.Background(), chatRequest(catalog.FlagshipModelID), &out)

	if result.IsError {
		t.Fatalf("expected fallback success, got error: %s", result.ErrorMessage)
	}
	if result.Attempts != 2 {
		t.Fatalf("expected two attempts, got %d", result.Attempts)
	}
	if result.Model != catalog.EmergencyModelID {
		t.Fatalf("expected emergency model recorded, got %s", result.Model)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("expected two upstream requests, got %d", len(seen))
	}
	if seen[0].model != catalog.FlagshipModelID {
		t.Fatalf("first attempt should use flagship, got %s", seen[0].model)
	}
	if seen[1].model != catalog.EmergencyModelID {
		t.Fatalf("second attempt should use emergency model, got %s", seen[1].model)
	}
	if thinking, ok := seen[1].kwargs["thinking"].(bool); !ok || !thinking {
		t.Fatalf("expected thinking flag forced on retry, got %v", seen[1].kwargs)
	}
	if seen[0].kwargs != nil {
		t.Fatalf("first attempt should not carry thinking flag, got %v", seen[0].kwargs)
	}
}

func TestNonFlagshipNoSubstitution(t *testing.T) {
	var mu sync.Mutex
	var seen []recordedRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		mu.Lock()
		attempt := len(seen)
		seen = append(seen, req)
		mu.Unlock()

		if attempt == 0 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("data: ok\n\n"))
	}))
	defer server.Close()

	d := newDispatcher(server.URL, "key-1")
	var out bytes.Buffer
	result := d.Stream(context.Background(), chatRequest("moonshotai/kimi-k2-thinking"), &out)

	if result.IsError {
		t.Fatalf("expected retry success, got error: %s", result.ErrorMessage)
	}

	mu.Lock()
	defer mu.Unlock()
	for i, req := range seen {
		if req.model != "moonshotai/kimi-k2-thinking" {
			t.Fatalf("attempt %d: model substituted unexpectedly to %s", i+1, req.model)
		}
		if req.kwargs != nil {
			t.Fatalf("attempt %d: unexpected kwargs %v", i+1, req.kwargs)
		}
	}
}

func TestKeyRotationAcrossAttempts(t *testing.T) {
	var mu sync.Mutex
	var keys []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		mu.Lock()
		keys = append(keys, req.authKey)
		mu.Unlock()
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	d := newDispatcher(server.URL, "key-1", "key-2")
	var out bytes.Buffer
	d.Stream(context.Background(), chatRequest("moonshotai/kimi-k2-thinking"), &out)

	mu.Lock()
	defer mu.Unlock()
	if len(keys) != 2 || keys[0] != "key-1" || keys[1] != "key-2" {
		t.Fatalf("expected round-robin keys, got %v", keys)
	}
}

type captureHandler struct {
	mu       sync.Mutex
	messages []string
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	h.messages = append(h.messages, r.Message)
	h.mu.Unlock()
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }

func (h *captureHandler) has(message string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range h.messages {
		if m == message {
			return true
		}
	}
	return false
}

// failAfterWriter 는 첫 쓰기 이후 실패해 스트림 도중 끊긴 클라이언트를 흉내낸다.
type failAfterWriter struct {
	writes int
}

func (w *failAfterWriter) Write(p []byte) (int, error) {
	w.writes++
	if w.writes > 1 {
		return 0, errors.New("client gone")
	}
	return len(p), nil
}

// 첫 바이트가 나간 뒤의 스트림 중단은 재시도도 오류 처리도 하지 않되
// 운영자가 볼 수 있게 로그는 남겨야 한다.
func TestStreamTruncationLoggedNotRetried(t *testing.T) {
	var mu sync.Mutex
	requests := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()

		flusher := w.(http.Flusher)
		w.Write([]byte("data: one\n\n"))
		flusher.Flush()
		time.Sleep(50 * time.Millisecond)
		w.Write([]byte("data: two\n\n"))
		flusher.Flush()
	}))
	defer server.Close()

	capture := &captureHandler{}
	d := New(config.ProviderConfig{
		APIKeys:        []string{"key-1"},
		BaseURL:        server.URL,
		TimeoutSeconds: 5,
		MaxAttempts:    2,
	}, slog.New(capture))

	sink := &failAfterWriter{}
	result := d.Stream(context.Background(), chatRequest(catalog.FlagshipModelID), sink)

	if result.IsError {
		t.Fatalf("truncation after first byte must not become an error result: %s", result.ErrorMessage)
	}
	if result.OutputChunks == 0 {
		t.Fatalf("expected delivered chunks recorded")
	}

	mu.Lock()
	got := requests
	mu.Unlock()
	if got != 1 {
		t.Fatalf("must not retry after bytes were written, got %d requests", got)
	}

	if !capture.has("provider_stream_truncated") {
		t.Fatalf("expected truncation log entry, got %v", capture.messages)
	}
}

func TestExhaustedAttemptsWriteErrorChunk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	d := newDispatcher(server.URL, "key-1")
	var out bytes.Buffer
	result := d.Stream(context.Background(), chatRequest(catalog.FlagshipModelID), &out)

	if !result.IsError {
		t.Fatalf("expected error result")
	}
	if result.Attempts != 2 {
		t.Fatalf("expected both attempts used, got %d", result.Attempts)
	}
	if result.ElapsedSeconds <= 0 {
		t.Fatalf("expected elapsed recorded")
	}

	var payload map[string]map[string]any
	if err := json.Unmarshal(out.Bytes(), &payload); err != nil {
		t.Fatalf("expected single JSON error chunk, got %q: %v", out.String(), err)
	}
	if payload["error"]["type"] != "provider_error" {
		t.Fatalf("unexpected error payload: %v", payload)
	}
}

func TestEmptyKeyPoolUsesSentinel(t *testing.T) {
	var mu sync.Mutex
	var keys []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		mu.Lock()
		keys = append(keys, req.authKey)
		mu.Unlock()
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	d := newDispatcher(server.URL)
	var out bytes.Buffer
	result := d.Stream(context.Background(), chatRequest(catalog.FlagshipModelID), &out)

	if !result.IsError {
		t.Fatalf("expected failure with empty key pool")
	}

	mu.Lock()
	defer mu.Unlock()
	for _, key := range keys {
		if key != "missing-api-key" {
			t.Fatalf("expected sentinel key, got %s", key)
		}
	}
}
