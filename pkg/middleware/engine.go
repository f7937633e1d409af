package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewEngine crea el router gin con recovery, request id y access log.
// Solo se confía en X-Forwarded-For / X-Real-IP cuando el peer está en
// trustedProxies; con la lista vacía ClientIP es siempre la IP del socket.
func NewEngine(log *zap.Logger, trustedProxies []string) (*gin.Engine, error) {
	r := gin.New()
	if len(trustedProxies) == 0 {
		trustedProxies = nil
	}
	if err := r.SetTrustedProxies(trustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	r.Use(gin.Recovery(), RequestID(), Logger(log))
	return r, nil
}
