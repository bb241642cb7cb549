package httperror

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/ledger"
)

// ErrorCode 는 API 오류 코드다.
type ErrorCode string

const (
	// ErrorCodeInternal 는 내부 오류 코드다.
	ErrorCodeInternal ErrorCode = "INTERNAL_ERROR"
	// ErrorCodeValidation 는 검증 오류 코드다.
	ErrorCodeValidation ErrorCode = "VALIDATION_ERROR"
	// ErrorCodeUnauthorized 는 인증 오류 코드다.
	ErrorCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	// ErrorCodeHTTPRateLimit 는 요청 제한 오류 코드다.
	ErrorCodeHTTPRateLimit ErrorCode = "HTTP_RATE_LIMIT"
	// ErrorCodeQuotaExceeded 는 쿼터 소진 코드다.
	ErrorCodeQuotaExceeded ErrorCode = "QUOTA_EXCEEDED"
	// ErrorCodeTrialExhausted 는 체험 한도 소진 코드다.
	ErrorCodeTrialExhausted ErrorCode = "TRIAL_EXHAUSTED"
	// ErrorCodeModelUnavailable 는 모델 미제공 코드다.
	ErrorCodeModelUnavailable ErrorCode = "MODEL_UNAVAILABLE"
	// ErrorCodeCapacityExceeded 는 업스트림 용량 초과 코드다.
	ErrorCodeCapacityExceeded ErrorCode = "CAPACITY_EXCEEDED"
	// ErrorCodeProvider 는 업스트림 제공자 오류 코드다.
	ErrorCodeProvider ErrorCode = "PROVIDER_ERROR"
	// ErrorCodeProviderTimeout 는 업스트림 타임아웃 코드다.
	ErrorCodeProviderTimeout ErrorCode = "PROVIDER_TIMEOUT"
	// ErrorCodeStorageUnavailable 는 계정 저장소 장애 코드다.
	ErrorCodeStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
	// ErrorCodeAccountNotFound 는 계정 미존재 코드다.
	ErrorCodeAccountNotFound ErrorCode = "ACCOUNT_NOT_FOUND"
	// ErrorCodeInvalidInput 는 입력 오류 코드다.
	ErrorCodeInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrorCodeMissingField 는 필드 누락 코드다.
	ErrorCodeMissingField ErrorCode = "MISSING_FIELD"
)

// ErrorResponse 는 API 오류 응답 본문이다.
type ErrorResponse struct {
	ErrorCode string         `json:"error_code"`
	ErrorType string         `json:"error_type"`
	Message   string         `json:"message"`
	RequestID *string        `json:"request_id"`
	Details   map[string]any `json:"details"`
}

// Error 는 내부 표준 오류 타입이다.
type Error struct {
	Code    ErrorCode
	Status  int
	Type    string
	Message string
	Details map[string]any
}

// Error 는 오류 메시지를 반환한다.
func (e *Error) Error() string {
	return e.Message
}

// Response 는 오류를 HTTP 응답으로 변환한다.
func Response(err error, requestID string) (int, ErrorResponse) {
	apiErr := FromError(err)
	if apiErr == nil {
		apiErr = NewInternalError("unknown error")
	}

	var requestIDPtr *string
	if requestID != "" {
		requestIDPtr = &requestID
	}

	return apiErr.Status, ErrorResponse{
		ErrorCode: string(apiErr.Code),
		ErrorType: apiErr.Type,
		Message:   apiErr.Message,
		RequestID: requestIDPtr,
		Details:   apiErr.Details,
	}
}

// FromError 는 오류를 내부 오류 타입으로 변환한다.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	if errors.Is(err, ledger.ErrStoreUnavailable) {
		return NewStorageUnavailable()
	}

	if errors.Is(err, ledger.ErrAccountNotFound) {
		return NewAccountNotFound()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewProviderTimeout("upstream request timed out")
	}

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		return NewValidationError(err)
	}

	return NewInternalError(err.Error())
}

// NewInternalError 는 내부 오류를 생성한다.
func NewInternalError(message string) *Error {
	return &Error{
		Code:    ErrorCodeInternal,
		Status:  http.StatusInternalServerError,
		Type:    "InternalError",
		Message: message,
		Details: nil,
	}
}

// NewValidationError 는 검증 오류를 생성한다.
func NewValidationError(err error) *Error {
	return &Error{
		Code:    ErrorCodeValidation,
		Status:  http.StatusUnprocessableEntity,
		Type:    "ValidationError",
		Message: "Input validation failed",
		Details: validationDetails(err),
	}
}

// NewMissingField 는 누락 필드 오류를 생성한다.
func NewMissingField(field string) *Error {
	return &Error{
		Code:    ErrorCodeMissingField,
		Status:  http.StatusBadRequest,
		Type:    "MissingFieldError",
		Message: fmt.Sprintf("Field '%s' required", field),
		Details: map[string]any{"field": field},
	}
}

// NewInvalidInput 는 입력 오류를 생성한다.
func NewInvalidInput(message string) *Error {
	return &Error{
		Code:    ErrorCodeInvalidInput,
		Status:  http.StatusBadRequest,
		Type:    "InvalidInputError",
		Message: message,
		Details: nil,
	}
}

// NewUnauthorized 는 인증 오류를 생성한다.
func NewUnauthorized(details map[string]any) *Error {
	return &Error{
		Code:    ErrorCodeUnauthorized,
		Status:  http.StatusUnauthorized,
		Type:    "UnauthorizedError",
		Message: "Invalid API key",
		Details: details,
	}
}

// NewRateLimitExceeded 는 요청 제한 오류를 생성한다.
func NewRateLimitExceeded(details map[string]any) *Error {
	return &Error{
		Code:    ErrorCodeHTTPRateLimit,
		Status:  http.StatusTooManyRequests,
		Type:    "HTTPRateLimitExceededError",
		Message: "Rate limit exceeded",
		Details: details,
	}
}

// NewQuotaExceeded 는 일일 쿼터 소진 오류를 생성한다.
func NewQuotaExceeded(resource string) *Error {
	return &Error{
		Code:    ErrorCodeQuotaExceeded,
		Status:  http.StatusTooManyRequests,
		Type:    "QuotaExceededError",
		Message: fmt.Sprintf("Daily quota exhausted for '%s'", resource),
		Details: map[string]any{"resource": resource},
	}
}

// NewTrialExhausted 는 체험 한도 소진 오류를 생성한다.
func NewTrialExhausted(limit int) *Error {
	return &Error{
		Code:    ErrorCodeTrialExhausted,
		Status:  http.StatusTooManyRequests,
		Type:    "TrialExhaustedError",
		Message: "Trial limit exhausted for today",
		Details: map[string]any{"daily_limit": limit},
	}
}

// NewModelUnavailable 는 모델 미제공 오류를 생성한다.
func NewModelUnavailable(modelID string) *Error {
	return &Error{
		Code:    ErrorCodeModelUnavailable,
		Status:  http.StatusNotFound,
		Type:    "ModelUnavailableError",
		Message: fmt.Sprintf("Model '%s' is not available", modelID),
		Details: map[string]any{"model": modelID},
	}
}

// NewCapacityExceeded 는 업스트림 용량 초과 오류를 생성한다.
func NewCapacityExceeded() *Error {
	return &Error{
		Code:    ErrorCodeCapacityExceeded,
		Status:  http.StatusServiceUnavailable,
		Type:    "CapacityExceededError",
		Message: "Upstream capacity exceeded, try again later",
		Details: nil,
	}
}

// NewProviderError 는 업스트림 제공자 오류를 생성한다.
func NewProviderError(message string) *Error {
	return &Error{
		Code:    ErrorCodeProvider,
		Status:  http.StatusBadGateway,
		Type:    "ProviderError",
		Message: message,
		Details: nil,
	}
}

// NewProviderTimeout 는 업스트림 타임아웃 오류를 생성한다.
func NewProviderTimeout(message string) *Error {
	return &Error{
		Code:    ErrorCodeProviderTimeout,
		Status:  http.StatusGatewayTimeout,
		Type:    "ProviderTimeoutError",
		Message: message,
		Details: nil,
	}
}

// NewStorageUnavailable 는 계정 저장소 장애 오류를 생성한다.
func NewStorageUnavailable() *Error {
	return &Error{
		Code:    ErrorCodeStorageUnavailable,
		Status:  http.StatusServiceUnavailable,
		Type:    "StorageUnavailableError",
		Message: "Account store unavailable",
		Details: nil,
	}
}

// NewAccountNotFound 는 계정 미존재 오류를 생성한다.
func NewAccountNotFound() *Error {
	return &Error{
		Code:    ErrorCodeAccountNotFound,
		Status:  http.StatusForbidden,
		Type:    "AccountNotFoundError",
		Message: "No account registered for this identity",
		Details: nil,
	}
}

// FieldError 는 필드 오류 상세 정보다.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value"`
}

func validationDetails(err error) map[string]any {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		fields := make([]FieldError, 0, len(validationErrors))
		for _, validationErr := range validationErrors {
			fields = append(fields, FieldError{
				Field:   validationErr.Field(),
				Message: validationErr.Error(),
				Value:   validationErr.Value(),
			})
		}
		return map[string]any{"errors": fields}
	}

	return map[string]any{
		"errors": []FieldError{
			{
				Field:   "body",
				Message: err.Error(),
				Value:   nil,
			},
		},
	}
}
