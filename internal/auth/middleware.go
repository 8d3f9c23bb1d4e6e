package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/flybeeper/runtracker/pkg/utils"
)

// Middleware для аутентификации запросов управления пробежкой
type Middleware struct {
	validator *Validator
	logger    *utils.Logger
}

// NewMiddleware создает новый middleware аутентификации
func NewMiddleware(validator *Validator, logger *utils.Logger) *Middleware {
	return &Middleware{
		validator: validator,
		logger:    logger,
	}
}

// Authenticate проверяет токен устройства. Без настроенных токенов
// пропускает все запросы.
func (m *Middleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.validator.Enabled() {
			c.Next()
			return
		}

		token := extractToken(c)
		if err := m.validator.ValidateToken(token); err != nil {
			code, message := "invalid_token", "Invalid token"
			if errors.Is(err, ErrMissingToken) {
				code, message = "missing_token", "Missing authentication token"
			}

			m.logger.WithFields(map[string]interface{}{
				"ip":     c.ClientIP(),
				"method": c.Request.Method,
				"path":   c.Request.URL.Path,
				"reason": code,
			}).Warn("Request rejected by authentication")

			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    code,
				"message": message,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// extractToken извлекает токен из заголовка Authorization или параметра
// token (браузерный WebSocket не умеет передавать заголовки)
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	return c.Query("token")
}
