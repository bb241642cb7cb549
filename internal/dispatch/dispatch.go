package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/catalog"
	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/config"
	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/llm"
)

// missingKeySentinel 은 키 풀이 비어 있을 때 쓰는 센티널 키 값이다.
// 업스트림 인증 실패로 이어져 재시도 가능한 오류로 처리된다.
const missingKeySentinel = "missing-api-key"

const streamBufferSize = 4096

// Result 는 단일 디스패치의 결과 집계다.
type Result struct {
	Model          string
	Attempts       int
	InputTokens    int
	OutputChunks   int
	TTFTSeconds    float64
	ElapsedSeconds float64
	IsError        bool
	ErrorMessage   string
}

// Dispatcher 는 업스트림 chat/completions 호출을 수행한다.
// 키 풀을 라운드로빈으로 돌리고, 실패 시 한 번만 재시도하며,
// 응답 바이트를 가공 없이 호출자에게 그대로 흘려보낸다.
type Dispatcher struct {
	httpClient  *http.Client
	baseURL     string
	maxAttempts int
	logger      *slog.Logger

	mu     sync.Mutex
	keys   []string
	keyIdx int
}

// New 는 디스패처를 생성한다.
func New(cfg config.ProviderConfig, logger *slog.Logger) *Dispatcher {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 2
	}
	return &Dispatcher{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     cfg.BaseURL,
		maxAttempts: attempts,
		logger:      logger,
		keys:        cfg.APIKeys,
	}
}

// nextKey 는 라운드로빈으로 다음 API 키를 반환한다.
func (d *Dispatcher) nextKey() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.keys) == 0 {
		return missingKeySentinel
	}
	key := d.keys[d.keyIdx%len(d.keys)]
	d.keyIdx++
	return key
}

// Stream 은 요청을 업스트림에 보내고 응답 스트림을 w 로 그대로 전달한다.
// 429/비정상 응답은 한 번 재시도한다. 재시도에서 플래그십 모델은 비상 모델로
// 대체되고 thinking 플래그가 강제로 켜진다 (해당 모델 쌍에만 적용).
// 두 번 모두 실패하면 스트림에 단일 JSON 오류 청크를 쓴다.
// 스트림이 이미 시작된 뒤에는 HTTP 상태를 바꿀 수 없으므로 항상 200이다.
func (d *Dispatcher) Stream(ctx context.Context, req *llm.ChatRequest, w io.Writer) Result {
	start := time.Now()
	result := Result{
		Model:       req.Model,
		InputTokens: llm.EstimateMessagesTokens(req.Messages),
	}

	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		result.Attempts = attempt

		body := *req
		body.Stream = true
		if attempt > 1 && req.Model == catalog.FlagshipModelID {
			body.Model = catalog.EmergencyModelID
			body.ChatTemplateKwargs = mergeThinking(req.ChatTemplateKwargs)
			result.Model = body.Model
			d.logger.Warn("provider_emergency_fallback", "from", req.Model, "to", body.Model)
		}

		resp, err := d.post(ctx, &body)
		if err != nil {
			lastErr = err
			d.logger.Warn("provider_attempt_failed", "attempt", attempt, "model", body.Model, "err", err)
			continue
		}

		chunks, ttft, streamErr := pipe(resp.Body, w, start)
		resp.Body.Close()
		if streamErr != nil {
			if chunks == 0 {
				lastErr = streamErr
				d.logger.Warn("provider_stream_failed", "attempt", attempt, "model", body.Model, "err", streamErr)
				continue
			}
			// 바이트가 이미 나간 뒤에는 재시도할 수 없다. 중단 사실만 남긴다.
			d.logger.Warn("provider_stream_truncated", "attempt", attempt, "model", body.Model, "chunks", chunks, "err", streamErr)
		}

		result.OutputChunks = chunks
		result.TTFTSeconds = ttft
		result.ElapsedSeconds = time.Since(start).Seconds()
		return result
	}

	// 모든 시도가 실패하면 스트림 내용으로 오류 페이로드 하나만 내보낸다.
	result.IsError = true
	result.ElapsedSeconds = time.Since(start).Seconds()
	if lastErr != nil {
		result.ErrorMessage = lastErr.Error()
	} else {
		result.ErrorMessage = "provider request failed"
	}
	writeErrorChunk(w, result.ErrorMessage)
	return result
}

func (d *Dispatcher) post(ctx context.Context, body *llm.ChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	url := d.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+d.nextKey())
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		detail := readErrorBody(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("provider status %d: %s", resp.StatusCode, detail)
	}
	return resp, nil
}

// pipe 는 응답 바이트를 그대로 전달하면서 첫 바이트까지의 지연과 청크 수를 센다.
func pipe(src io.Reader, dst io.Writer, start time.Time) (int, float64, error) {
	flusher, canFlush := dst.(interface{ Flush() })
	buf := make([]byte, streamBufferSize)

	chunks := 0
	ttft := 0.0
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if chunks == 0 {
				ttft = time.Since(start).Seconds()
			}
			chunks++
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return chunks, ttft, writeErr
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return chunks, ttft, nil
			}
			return chunks, ttft, err
		}
	}
}

func mergeThinking(kwargs map[string]any) map[string]any {
	merged := make(map[string]any, len(kwargs)+1)
	for k, v := range kwargs {
		merged[k] = v
	}
	merged["thinking"] = true
	return merged
}

func writeErrorChunk(w io.Writer, message string) {
	payload, err := json.Marshal(map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "provider_error",
		},
	})
	if err != nil {
		return
	}
	w.Write(payload)
	if flusher, ok := w.(interface{ Flush() }); ok {
		flusher.Flush()
	}
}

func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil || len(data) == 0 {
		return "no detail"
	}
	return string(data)
}
