package http

import "github.com/gin-gonic/gin"

func RegisterSubmissionRoutes(r gin.IRouter, handler *SubmissionHandler) {
	submissions := r.Group("/submissions")
	{
		submissions.POST("", handler.CreateSubmission)
		submissions.GET("/by-business/:businessId", handler.ListByBusiness)
		submissions.GET("/:id", handler.GetSubmission)
	}
}
