package catalog

// FlagshipModelID 는 기본 플래그십 모델 ID다.
const FlagshipModelID = "deepseek-ai/deepseek-v3.2"

// EmergencyModelID 는 플래그십 장애 시 대체 모델 ID다.
const EmergencyModelID = "deepseek-ai/deepseek-v3.1"

// Model 은 업스트림 채팅 모델 메타데이터다.
type Model struct {
	ID       string `json:"id"`
	ShortKey string `json:"short_key"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

var models = []Model{
	{ID: FlagshipModelID, ShortKey: "deepseek", Name: "DeepSeek V3.2", Provider: "DeepSeek"},
	{ID: "mistralai/mistral-large-3-675b-instruct-2512", ShortKey: "mistral", Name: "Mistral Large 3", Provider: "Mistral AI"},
	{ID: "moonshotai/kimi-k2-thinking", ShortKey: "kimi", Name: "Kimi K2 Thinking", Provider: "Moonshot"},
	{ID: "meta/llama-3.2-3b-instruct", ShortKey: "llama", Name: "Llama 3.2", Provider: "Meta"},
	{ID: "google/gemma-3n-e4b-it", ShortKey: "gemma", Name: "Gemma 3", Provider: "Google"},
}

var mapping = buildMapping()

// 관리자가 임시로 내린 모델 ID 목록. 현재 비어 있다.
var hidden = map[string]struct{}{}

func buildMapping() map[string]string {
	result := make(map[string]string, len(models)+1)
	for _, m := range models {
		result[m.ID] = m.ShortKey
	}
	// 비상 모델은 플래그십과 같은 쿼터 버킷을 쓴다.
	result[EmergencyModelID] = "deepseek"
	return result
}

// Models 는 공개 가능한 모델 목록을 반환한다.
func Models() []Model {
	result := make([]Model, 0, len(models))
	for _, m := range models {
		if _, ok := hidden[m.ID]; ok {
			continue
		}
		result = append(result, m)
	}
	return result
}

// Resolve 는 외부 모델 ID를 내부 short key로 변환한다.
func Resolve(modelID string) (string, bool) {
	key, ok := mapping[modelID]
	return key, ok
}

// IsHidden 은 모델이 관리자에 의해 숨겨졌는지 반환한다.
func IsHidden(modelID string) bool {
	_, ok := hidden[modelID]
	return ok
}

// ShortKeys 는 쿼터 버킷으로 쓰이는 short key 전체를 반환한다.
func ShortKeys() []string {
	seen := make(map[string]struct{}, len(models))
	result := make([]string, 0, len(models))
	for _, m := range models {
		if _, ok := seen[m.ShortKey]; ok {
			continue
		}
		seen[m.ShortKey] = struct{}{}
		result = append(result, m.ShortKey)
	}
	return result
}
