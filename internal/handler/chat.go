package handler

import (
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/catalog"
	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/handler/shared"
	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/httperror"
	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/llm"
	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/middleware"
	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/usecase/chat"
)

// CompletionMessage 는 OpenAI 호환 메시지다.
type CompletionMessage struct {
	Role    string `json:"role" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// CompletionRequest 는 OpenAI 호환 채팅 요청 본문이다.
type CompletionRequest struct {
	Model              string              `json:"model" binding:"required"`
	Messages           []CompletionMessage `json:"messages" binding:"required,min=1,dive"`
	Temperature        *float64            `json:"temperature"`
	TopP               *float64            `json:"top_p"`
	MaxTokens          *int                `json:"max_tokens"`
	Stream             bool                `json:"stream"`
	ChatTemplateKwargs map[string]any      `json:"chat_template_kwargs"`
}

// ChatHandler 는 채팅 프록시 핸들러다.
type ChatHandler struct {
	service *chat.Service
	logger  *slog.Logger
}

// NewChatHandler 는 채팅 핸들러를 생성한다.
func NewChatHandler(service *chat.Service, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{service: service, logger: logger}
}

// RegisterRoutes 는 인증이 필요한 채팅 라우트를 등록한다.
func (h *ChatHandler) RegisterRoutes(authed gin.IRoutes) {
	authed.POST("/v1/chat/completions", h.handleCompletions)
	authed.POST("/api/chat", h.handleChat)
}

// RegisterTrialRoutes 는 비인증 체험 라우트를 등록한다.
func (h *ChatHandler) RegisterTrialRoutes(open gin.IRoutes) {
	open.POST("/api/chat/trial", h.handleTrial)
}

// handleCompletions 는 OpenAI 호환 엔드포인트다. 본문을 그대로 업스트림
// 형식으로 넘긴다.
func (h *ChatHandler) handleCompletions(c *gin.Context) {
	var req CompletionRequest
	if !bindJSON(c, &req) {
		return
	}

	h.stream(c, middleware.GetAccountID(c), toChatRequest(req))
}

// handleChat 은 느슨한 형식의 봇 연동 엔드포인트다. message 단일 문자열이나
// messages 배열 둘 다 받고, extra_params 는 chat_template_kwargs 로 합친다.
func (h *ChatHandler) handleChat(c *gin.Context) {
	var payload map[string]any
	if !bindJSON(c, &payload) {
		return
	}

	req, err := decodeLooseChat(payload)
	if err != nil {
		writeError(c, err)
		return
	}

	h.stream(c, middleware.GetAccountID(c), req)
}

// handleTrial 은 API 키 없는 체험 요청을 처리한다. 방문자는 클라이언트 IP 로
// 식별된다.
func (h *ChatHandler) handleTrial(c *gin.Context) {
	var payload map[string]any
	if !bindJSON(c, &payload) {
		return
	}

	req, err := decodeLooseChat(payload)
	if err != nil {
		writeError(c, err)
		return
	}

	visitorID := "trial:" + c.ClientIP()
	prepareStream(c)
	if err := h.service.HandleTrial(c.Request.Context(), visitorID, req, c.Writer); err != nil {
		shared.LogError(h.logger, "chat_trial", err)
		writeError(c, err)
	}
}

func (h *ChatHandler) stream(c *gin.Context, accountID string, req *llm.ChatRequest) {
	prepareStream(c)
	if err := h.service.Handle(c.Request.Context(), accountID, req, c.Writer); err != nil {
		shared.LogError(h.logger, "chat", err)
		writeError(c, err)
	}
}

// prepareStream 은 SSE 응답 헤더를 준비한다. 상태 코드는 첫 바이트가
// 나갈 때 확정되므로 여기서는 쓰지 않는다.
func prepareStream(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
}

func toChatRequest(req CompletionRequest) *llm.ChatRequest {
	messages := make([]llm.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	return &llm.ChatRequest{
		Model:              req.Model,
		Messages:           messages,
		Temperature:        req.Temperature,
		TopP:               req.TopP,
		MaxTokens:          req.MaxTokens,
		Stream:             true,
		ChatTemplateKwargs: req.ChatTemplateKwargs,
	}
}

// looseChatPayload 는 봇 연동 본문의 느슨한 스키마다.
type looseChatPayload struct {
	Model       string         `json:"model"`
	Message     string         `json:"message"`
	Messages    []llm.Message  `json:"messages"`
	Temperature *float64       `json:"temperature"`
	TopP        *float64       `json:"top_p"`
	MaxTokens   *int           `json:"max_tokens"`
	ExtraParams map[string]any `json:"extra_params"`
}

func decodeLooseChat(payload map[string]any) (*llm.ChatRequest, error) {
	var loose looseChatPayload
	if err := shared.Decode(payload, &loose); err != nil {
		return nil, httperror.NewInvalidInput(err.Error())
	}

	if loose.Model == "" {
		return nil, httperror.NewMissingField("model")
	}

	messages := loose.Messages
	if len(messages) == 0 {
		if strings.TrimSpace(loose.Message) == "" {
			return nil, httperror.NewMissingField("message")
		}
		messages = []llm.Message{{Role: "user", Content: loose.Message}}
	}

	req := &llm.ChatRequest{
		Model:       loose.Model,
		Messages:    messages,
		Temperature: loose.Temperature,
		TopP:        loose.TopP,
		MaxTokens:   loose.MaxTokens,
		Stream:      true,
	}

	kwargs := defaultTemplateKwargs(loose.Model)
	for key, value := range loose.ExtraParams {
		if kwargs == nil {
			kwargs = make(map[string]any)
		}
		kwargs[key] = value
	}
	req.ChatTemplateKwargs = kwargs

	return req, nil
}

// defaultTemplateKwargs 는 모델별 기본 템플릿 인자를 반환한다.
// 플래그십 deepseek 은 thinking 비활성이 기본이다. 응답 지연을 줄이기 위함이다.
func defaultTemplateKwargs(model string) map[string]any {
	if model == catalog.FlagshipModelID {
		return map[string]any{"thinking": false}
	}
	return nil
}
