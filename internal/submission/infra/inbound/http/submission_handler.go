package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davicafu/formintake/internal/submission/application"
	"github.com/davicafu/formintake/internal/submission/domain"
	"github.com/davicafu/formintake/pkg/utils"
)

// UserIDHeader identifica al autor de la submission (opcional).
const UserIDHeader = "x-user-id"

// SubmissionHandler encapsula los endpoints HTTP de Submission
type SubmissionHandler struct {
	service *application.SubmissionService
	log     *zap.Logger
}

// NewSubmissionHandler crea un nuevo SubmissionHandler
func NewSubmissionHandler(service *application.SubmissionService, log *zap.Logger) *SubmissionHandler {
	return &SubmissionHandler{service: service, log: log}
}

type categoryRequest struct {
	Key   string  `json:"key"`
	Score float64 `json:"score"`
}

type createSubmissionRequest struct {
	BusinessID  string            `json:"businessId" binding:"required"`
	FranchiseID string            `json:"franchiseId"`
	FormID      string            `json:"formId" binding:"required"`
	Rating      int               `json:"rating" binding:"required,min=1,max=5"`
	Categories  []categoryRequest `json:"categories"`
	Comment     string            `json:"comment"`
	StaffID     string            `json:"staffId"`
	DeviceID    string            `json:"deviceId"`
}

// ---------------- Handlers ----------------

// CreateSubmission endpoint POST /submissions
func (h *SubmissionHandler) CreateSubmission(c *gin.Context) {
	var req createSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}

	categories := make([]domain.Category, 0, len(req.Categories))
	for _, cat := range req.Categories {
		categories = append(categories, domain.Category{Key: cat.Key, Score: cat.Score})
	}

	sub, err := h.service.CreateSubmission(c.Request.Context(), domain.NewSubmission{
		BusinessID:  req.BusinessID,
		FranchiseID: req.FranchiseID,
		FormID:      req.FormID,
		Rating:      req.Rating,
		Categories:  categories,
		Comment:     req.Comment,
		StaffID:     req.StaffID,
		DeviceID:    req.DeviceID,
		IP:          c.ClientIP(),
		CreatedBy:   c.GetHeader(UserIDHeader),
	})
	if err != nil {
		h.sendServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, sub)
}

// ListByBusiness endpoint GET /submissions/by-business/:businessId?page&limit
func (h *SubmissionHandler) ListByBusiness(c *gin.Context) {
	page := queryInt(c, "page")
	limit := queryInt(c, "limit")

	result, err := h.service.ListSubmissionsByBusiness(c.Request.Context(), c.Param("businessId"), page, limit)
	if err != nil {
		h.sendServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetSubmission endpoint GET /submissions/:id
func (h *SubmissionHandler) GetSubmission(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.SendBadRequest(c, "invalid submission id")
		return
	}

	sub, err := h.service.GetSubmission(c.Request.Context(), id)
	if err != nil {
		h.sendServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, sub)
}

// sendServiceError traduce los errores de dominio a códigos HTTP.
func (h *SubmissionHandler) sendServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		utils.SendBadRequest(c, err.Error())
	case errors.Is(err, domain.ErrDuplicateSubmission):
		utils.SendError(c, http.StatusTooManyRequests, utils.CodeDuplicateSubmission, "duplicate submission")
	case errors.Is(err, domain.ErrSubmissionNotFound):
		utils.SendNotFound(c, "submission not found")
	case errors.Is(err, domain.ErrStorageFailure):
		h.log.Error("storage failure", zap.String("path", c.FullPath()), zap.Error(err))
		utils.SendError(c, http.StatusInternalServerError, utils.CodeStorageFailure, "storage failure")
	default:
		h.log.Error("unexpected error", zap.String("path", c.FullPath()), zap.Error(err))
		utils.SendInternalServerError(c)
	}
}

// queryInt devuelve 0 si el parámetro falta o no es numérico; el servicio aplica los defaults.
func queryInt(c *gin.Context, key string) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return v
}
