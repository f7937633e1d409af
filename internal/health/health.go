// Package health expone las sondas de liveness y readiness.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/davicafu/formintake/pkg/utils"
)

const pingTimeout = 2 * time.Second

// Pinger comprueba la conexión con el store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapta una función a Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type Handler struct {
	store Pinger
	log   *zap.Logger
}

func NewHandler(store Pinger, log *zap.Logger) *Handler {
	return &Handler{store: store, log: log}
}

// Health endpoint GET /health: el proceso está vivo.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready endpoint GET /ready: 503 si el store no responde.
func (h *Handler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.log.Warn("readiness check failed", zap.Error(err))
		utils.SendError(c, http.StatusServiceUnavailable, utils.CodeNotReady, "store not connected")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func RegisterRoutes(r gin.IRouter, h *Handler) {
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
}
