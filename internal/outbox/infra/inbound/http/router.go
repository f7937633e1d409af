package http

import "github.com/gin-gonic/gin"

func RegisterOutboxRoutes(r gin.IRouter, handler *OutboxHandler) {
	r.GET("/outbox/pending", handler.ListPending)
	r.POST("/internal/consume-outbox", handler.Consume)
}
