package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Dhoini/runsheet-api/pkg/logger"
	"github.com/Dhoini/runsheet-api/pkg/res"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ContextKey тип для ключей контекста во избежание коллизий.
type ContextKey string

const (
	// ContextUserIDKey ключ для ID пользователя (claim sub) в контексте gin.
	ContextUserIDKey ContextKey = "userID"
	authHeaderPrefix            = "Bearer "
	clockLeeway                 = 5 * time.Second
)

// TokenValidator проверяет bearer-токен
type TokenValidator interface {
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims claims сессионного токена Clerk (или токена, подписанного общим секретом)
type TokenClaims struct {
	SessionID string `json:"sid,omitempty"`
	Email     string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTValidator проверяет токены HS256 (общий секрет) или RS256 (публичный ключ PEM).
type JWTValidator struct {
	key    any
	method string
}

// NewJWTValidator создает валидатор. publicKeyPEM имеет приоритет над secret.
func NewJWTValidator(secret, publicKeyPEM string) (*JWTValidator, error) {
	if publicKeyPEM != "" {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("invalid AUTH_JWT_PUBLIC_KEY: %w", err)
		}
		return &JWTValidator{key: key, method: jwt.SigningMethodRS256.Alg()}, nil
	}
	if secret != "" {
		return &JWTValidator{key: []byte(secret), method: jwt.SigningMethodHS256.Alg()}, nil
	}
	return nil, errors.New("either a JWT secret or a public key is required")
}

func (v *JWTValidator) Validate(tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(*jwt.Token) (interface{}, error) {
		return v.key, nil
	}, jwt.WithValidMethods([]string{v.method}), jwt.WithLeeway(clockLeeway))

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, errors.New("malformed token")
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, errors.New("invalid token signature")
		case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
			return nil, errors.New("token expired")
		default:
			return nil, fmt.Errorf("invalid token: %w", err)
		}
	}

	if claims, ok := token.Claims.(*TokenClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token claims")
}

// JWTMiddleware проверка bearer-токена для gin. При required=false запросы проходят без проверки.
type JWTMiddleware struct {
	required  bool
	validator TokenValidator
	log       *logger.Logger
}

func NewJWTMiddleware(required bool, validator TokenValidator, log *logger.Logger) *JWTMiddleware {
	return &JWTMiddleware{
		required:  required,
		validator: validator,
		log:       log,
	}
}

// Required true, если аутентификация включена.
func (m *JWTMiddleware) Required() bool {
	return m.required
}

// RequireAuth требует валидный токен и кладет sub в контекст.
func (m *JWTMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.required {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, authHeaderPrefix) {
			m.abort(c, http.StatusUnauthorized, "Missing authorization token")
			return
		}

		claims, err := m.validator.Validate(strings.TrimPrefix(authHeader, authHeaderPrefix))
		if err != nil {
			m.abort(c, http.StatusUnauthorized, fmt.Sprintf("Token validation failed: %v", err))
			return
		}
		if claims.Subject == "" {
			m.abort(c, http.StatusUnauthorized, "User ID (sub) missing in token")
			return
		}

		c.Set(string(ContextUserIDKey), claims.Subject)
		m.log.Debugw("User authenticated", "userID", claims.Subject, "path", c.FullPath())
		c.Next()
	}
}

// RequireSameUser пропускает только владельца ресурса из параметра пути.
// Параметры вида cus_... (клиент Stripe) пропускаются: их владелец проверяется позже.
func (m *JWTMiddleware) RequireSameUser(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		target := c.Param(param)
		if !m.required || strings.HasPrefix(target, "cus_") {
			c.Next()
			return
		}
		if !SameUser(c, target) {
			m.abort(c, http.StatusForbidden, "Access to another user's data is forbidden")
			return
		}
		c.Next()
	}
}

// UserID возвращает ID аутентифицированного пользователя.
func UserID(c *gin.Context) (string, bool) {
	id := c.GetString(string(ContextUserIDKey))
	return id, id != ""
}

// SameUser true, если запрос не аутентифицирован (auth выключен) или sub совпадает с userID.
func SameUser(c *gin.Context, userID string) bool {
	sub, ok := UserID(c)
	return !ok || sub == userID
}

func (m *JWTMiddleware) abort(c *gin.Context, status int, message string) {
	m.log.Warnw("HTTP authentication failed", "path", c.Request.URL.Path, "status", status, "error", message)
	res.JsonResponse(c.Writer, res.ErrorResponse{
		Error:     message,
		ErrorCode: status,
	}, status)
	c.Abort()
}
