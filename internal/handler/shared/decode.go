package shared

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// DecoderConfig 는 느슨한 채팅 페이로드용 디코더 설정이다. 브라우저 JSON 은
// 숫자 필드가 float 로 들어오므로 약한 타입 변환을 허용한다. 태그는 응답
// 구조체와 같은 json 태그를 그대로 쓴다.
func DecoderConfig(result any) *mapstructure.DecoderConfig {
	return &mapstructure.DecoderConfig{
		Result:           result,
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
	}
}

// Decode 는 map[string]any 요청 본문을 구조체로 옮긴다.
// 변환 불가능한 값은 패닉 대신 오류로 돌려준다.
func Decode(input map[string]any, result any) error {
	decoder, err := mapstructure.NewDecoder(DecoderConfig(result))
	if err != nil {
		return fmt.Errorf("new decoder: %w", err)
	}
	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// DecodeStrict 는 Decode 와 같지만 구조체에 없는 필드를 오류로 처리한다.
func DecodeStrict(input map[string]any, result any) error {
	cfg := DecoderConfig(result)
	cfg.ErrorUnused = true
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return fmt.Errorf("new decoder: %w", err)
	}
	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
