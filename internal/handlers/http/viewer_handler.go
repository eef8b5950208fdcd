package http

import (
	"net/http"

	"viewmux/internal/core/domain"
	"viewmux/internal/core/ports"
	"viewmux/pkg/errors"
	"viewmux/pkg/validation"

	"github.com/gin-gonic/gin"
)

// ViewerHandler exposes the viewer control plane: open and close
// viewers, admit and remove streams, report stage and error progress.
type ViewerHandler struct {
	viewers ports.ViewerService
}

func NewViewerHandler(viewers ports.ViewerService) *ViewerHandler {
	return &ViewerHandler{viewers: viewers}
}

func (h *ViewerHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1")
	{
		api.POST("/viewers", h.OpenViewer)
		api.GET("/viewers/:id", h.GetViewer)
		api.DELETE("/viewers/:id", h.CloseViewer)

		api.POST("/viewers/:id/streams", h.AdmitStreams)
		api.DELETE("/viewers/:id/streams/:camera", h.RemoveStream)
		api.POST("/viewers/:id/streams/:camera/stage", h.ReportStage)
		api.POST("/viewers/:id/streams/:camera/error", h.ReportError)
		api.POST("/viewers/:id/streams/:camera/retry", h.ManualRetry)
	}
}

func (h *ViewerHandler) OpenViewer(c *gin.Context) {
	var req domain.DeviceSignals
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validation.ValidateDeviceSignals(req.RAMGB, req.CPUCores); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status, err := h.viewers.OpenViewer(c.Request.Context(), req)
	if err != nil {
		c.Error(errors.FromDomain(err))
		return
	}

	c.JSON(http.StatusCreated, gin.H{"viewer": status})
}

func (h *ViewerHandler) GetViewer(c *gin.Context) {
	status, err := h.viewers.ViewerStatus(domain.ViewerID(c.Param("id")))
	if err != nil {
		c.Error(errors.FromDomain(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"viewer": status})
}

func (h *ViewerHandler) CloseViewer(c *gin.Context) {
	if err := h.viewers.CloseViewer(domain.ViewerID(c.Param("id"))); err != nil {
		c.Error(errors.FromDomain(err))
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ViewerHandler) AdmitStreams(c *gin.Context) {
	var req struct {
		Streams []domain.StreamRequest `json:"streams" binding:"required,min=1,dive"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for _, s := range req.Streams {
		if err := validation.ValidateSessionID(string(s.ID)); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	admitted, rejected, err := h.viewers.AdmitStreams(c.Request.Context(), domain.ViewerID(c.Param("id")), req.Streams)
	if err != nil {
		c.Error(errors.FromDomain(err))
		return
	}

	rejections := make(map[string]string, len(rejected))
	for id, rejErr := range rejected {
		rejections[string(id)] = rejErr.Error()
	}

	status := http.StatusCreated
	if len(admitted) == 0 {
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{
		"admitted": admitted,
		"rejected": rejections,
	})
}

func (h *ViewerHandler) RemoveStream(c *gin.Context) {
	err := h.viewers.RemoveStream(
		domain.ViewerID(c.Param("id")),
		domain.SessionID(c.Param("camera")),
	)
	if err != nil {
		c.Error(errors.FromDomain(err))
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ViewerHandler) ReportStage(c *gin.Context) {
	var req struct {
		Stage string `json:"stage" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stage, ok := domain.ParseLoadStage(req.Stage)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown stage"})
		return
	}

	err := h.viewers.ReportStage(
		domain.ViewerID(c.Param("id")),
		domain.SessionID(c.Param("camera")),
		stage,
	)
	if err != nil {
		c.Error(errors.FromDomain(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"stage": stage.String()})
}

func (h *ViewerHandler) ReportError(c *gin.Context) {
	var req struct {
		ErrorType string `json:"error_type" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	decision, err := h.viewers.ReportError(
		c.Request.Context(),
		domain.ViewerID(c.Param("id")),
		domain.SessionID(c.Param("camera")),
		domain.ErrorType(req.ErrorType),
	)
	if err != nil {
		c.Error(errors.FromDomain(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"decision": decision})
}

func (h *ViewerHandler) ManualRetry(c *gin.Context) {
	err := h.viewers.ManualRetry(
		domain.ViewerID(c.Param("id")),
		domain.SessionID(c.Param("camera")),
	)
	if err != nil {
		c.Error(errors.FromDomain(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "retrying"})
}
