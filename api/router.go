package api

import (
	"github.com/gin-gonic/gin"

	"qwcat/config"
)

// RegisterRoutes mounts the control API on the gateway's engine.
func RegisterRoutes(r *gin.Engine, h *Handler, cfg *config.Config) {
	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg))
	{
		v1.POST("/tasks/extract-audio", h.handleExtractAudio)
		v1.POST("/tasks/export", h.handleExport)
		v1.POST("/tasks/download-tool", h.handleDownloadTool)
		v1.GET("/tasks", h.handleListTasks)
		v1.DELETE("/tasks/:index", h.handleCancelTask)

		v1.POST("/files", h.handleSelectFile)
		v1.GET("/server", h.handleServerState)
		v1.GET("/events", h.handleEvents)
	}
}
