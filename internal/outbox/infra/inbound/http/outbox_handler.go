package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/davicafu/formintake/internal/outbox/application"
	"github.com/davicafu/formintake/pkg/utils"
)

// OutboxHandler expone la inspección y el drenado manual del outbox.
type OutboxHandler struct {
	queue *application.OutboxQueue
	log   *zap.Logger
}

func NewOutboxHandler(queue *application.OutboxQueue, log *zap.Logger) *OutboxHandler {
	return &OutboxHandler{queue: queue, log: log}
}

// ListPending endpoint GET /outbox/pending?limit
func (h *OutboxHandler) ListPending(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	events, err := h.queue.ListPending(c.Request.Context(), limit)
	if err != nil {
		h.log.Error("list pending outbox failed", zap.Error(err))
		utils.SendInternalServerError(c)
		return
	}
	c.JSON(http.StatusOK, events)
}

type consumeRequest struct {
	Limit int `json:"limit"`
}

// Consume endpoint POST /internal/consume-outbox {limit}. El cuerpo es opcional.
func (h *OutboxHandler) Consume(c *gin.Context) {
	var req consumeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		utils.SendBadRequest(c, "invalid body")
		return
	}

	result, err := h.queue.DrainBatch(c.Request.Context(), req.Limit)
	if err != nil {
		h.log.Error("manual outbox drain failed", zap.Int("drained", result.Count), zap.Error(err))
		utils.SendInternalServerError(c)
		return
	}

	h.log.Info("📤 Outbox drenado manualmente", zap.Int("count", result.Count))
	c.JSON(http.StatusOK, result)
}
