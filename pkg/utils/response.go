package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Códigos de error expuestos en el cuerpo de la respuesta.
const (
	CodeInvalidInput        = "InvalidInput"
	CodeDuplicateSubmission = "DuplicateSubmission"
	CodeNotFound            = "NotFound"
	CodeNotReady            = "NotReady"
	CodeStorageFailure      = "StorageFailure"
	CodeInternal            = "InternalError"
)

// ErrorResponse define la estructura estándar para las respuestas de error.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SendError envía una respuesta de error con un formato estandarizado.
func SendError(c *gin.Context, statusCode int, code, message string) {
	c.AbortWithStatusJSON(statusCode, gin.H{
		"error": ErrorResponse{
			Code:    code,
			Message: message,
		},
	})
}

// --- Helpers específicos para errores comunes ---

func SendBadRequest(c *gin.Context, message string) {
	SendError(c, http.StatusBadRequest, CodeInvalidInput, message)
}

func SendNotFound(c *gin.Context, message string) {
	SendError(c, http.StatusNotFound, CodeNotFound, message)
}

func SendInternalServerError(c *gin.Context) {
	SendError(c, http.StatusInternalServerError, CodeInternal, "internal server error")
}
