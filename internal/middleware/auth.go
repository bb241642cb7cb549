package middleware

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/config"
	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/httperror"
	"github.com/park285/llm-kakao-bots/nexus-gateway-go/internal/ledger"
)

const accountIDKey = "account_id"

// AccountAuth 는 API 키를 계정으로 해석하는 인증 미들웨어다.
// 키는 X-API-Key 또는 Authorization: Bearer 로 받고, 저장소의 키 바인딩으로
// 계정 ID를 찾아 컨텍스트에 넣는다.
func AccountAuth(store *ledger.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := extractAPIKey(c)
		if provided == "" {
			abortUnauthorized(c, "missing api key")
			return
		}

		accountID, err := store.ResolveAPIKey(c.Request.Context(), provided)
		if err != nil {
			if errors.Is(err, ledger.ErrStoreUnavailable) {
				status, payload := httperror.Response(err, GetRequestID(c))
				c.AbortWithStatusJSON(status, payload)
				return
			}
			abortUnauthorized(c, "unknown api key")
			return
		}

		c.Set(accountIDKey, accountID)
		c.Next()
	}
}

// ServiceKeyAuth 는 관리용 엔드포인트의 서비스 키 인증 미들웨어다.
// 키가 설정되지 않았으면 관리 엔드포인트를 전부 거부한다.
func ServiceKeyAuth(cfg *config.Config) gin.HandlerFunc {
	expected := ""
	if cfg != nil {
		expected = strings.TrimSpace(cfg.HTTPAuth.ServiceKey)
	}

	return func(c *gin.Context) {
		provided := extractAPIKey(c)
		if expected == "" || provided == "" ||
			subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			abortUnauthorized(c, "invalid service key")
			return
		}
		c.Next()
	}
}

// GetAccountID: 컨텍스트의 인증된 계정 ID를 반환합니다.
func GetAccountID(c *gin.Context) string {
	if c == nil {
		return ""
	}
	value, ok := c.Get(accountIDKey)
	if !ok {
		return ""
	}
	accountID, ok := value.(string)
	if !ok {
		return ""
	}
	return accountID
}

func abortUnauthorized(c *gin.Context, reason string) {
	details := map[string]any{"path": c.Request.URL.Path, "reason": reason}
	status, payload := httperror.Response(httperror.NewUnauthorized(details), GetRequestID(c))
	c.AbortWithStatusJSON(status, payload)
}

func extractAPIKey(c *gin.Context) string {
	if c == nil {
		return ""
	}

	value := strings.TrimSpace(c.GetHeader("X-API-Key"))
	if value != "" {
		return value
	}

	authValue := strings.TrimSpace(c.GetHeader("Authorization"))
	if authValue == "" {
		return ""
	}

	if strings.HasPrefix(strings.ToLower(authValue), "bearer ") {
		token := strings.TrimSpace(authValue[7:])
		return token
	}

	return ""
}
