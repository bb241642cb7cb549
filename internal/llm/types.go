package llm

// Message 는 OpenAI 호환 대화 메시지입니다.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest 는 업스트림 chat/completions 요청 본문입니다.
type ChatRequest struct {
	Model              string         `json:"model"`
	Messages           []Message      `json:"messages"`
	Temperature        *float64       `json:"temperature,omitempty"`
	TopP               *float64       `json:"top_p,omitempty"`
	MaxTokens          *int           `json:"max_tokens,omitempty"`
	Stream             bool           `json:"stream"`
	ChatTemplateKwargs map[string]any `json:"chat_template_kwargs,omitempty"`
}

// EstimateTokens 는 대략적인 토큰 수를 계산합니다 (4자당 1토큰).
func EstimateTokens(text string) int {
	return len(text) / 4
}

// EstimateMessagesTokens 는 메시지 목록 전체의 토큰 추정치입니다.
func EstimateMessagesTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Content)
	}
	return total
}
