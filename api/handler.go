package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"qwcat/ffmpeg"
	"qwcat/task"
)

// Scheduler is the queue surface the control API drives.
type Scheduler interface {
	EnqueueExtractAudio(path string) (string, <-chan ffmpeg.ExtractResult)
	EnqueueExportVideo(opts ffmpeg.ExportOptions) (string, error)
	EnqueueDownloadTool() string
	Cancel(index int) error
	Current() task.Update
}

// FileRegistrar records paths the UI may reference.
type FileRegistrar interface {
	Allow(path string)
}

// ServerState reports the gateway's bound port once it is listening.
type ServerState interface {
	Port() (int, bool)
}

type Handler struct {
	tasks  Scheduler
	allow  FileRegistrar
	prober ffmpeg.MediaProber
	server ServerState
	events *Hub
	log    *logrus.Entry
}

func NewHandler(tasks Scheduler, allow FileRegistrar, prober ffmpeg.MediaProber, server ServerState, events *Hub, logger *logrus.Logger) *Handler {
	return &Handler{
		tasks:  tasks,
		allow:  allow,
		prober: prober,
		server: server,
		events: events,
		log:    logger.WithField("component", "api"),
	}
}

type pathRequest struct {
	Path string `json:"path" binding:"required"`
}

// handleExtractAudio queues extraction without the select-file side effects.
func (h *Handler) handleExtractAudio(c *gin.Context) {
	var req pathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, _ := h.tasks.EnqueueExtractAudio(req.Path)
	c.JSON(http.StatusAccepted, gin.H{"taskId": id})
}

func (h *Handler) handleExport(c *gin.Context) {
	var opts ffmpeg.ExportOptions
	if err := c.ShouldBindJSON(&opts); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.tasks.EnqueueExportVideo(opts)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid export options", "details": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"taskId": id})
}

func (h *Handler) handleDownloadTool(c *gin.Context) {
	id := h.tasks.EnqueueDownloadTool()
	c.JSON(http.StatusAccepted, gin.H{"taskId": id})
}

func (h *Handler) handleListTasks(c *gin.Context) {
	c.JSON(http.StatusOK, h.tasks.Current())
}

// handleCancelTask cancels by queue position, matching what the UI renders.
func (h *Handler) handleCancelTask(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "index must be an integer"})
		return
	}

	err = h.tasks.Cancel(index)
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, task.ErrTaskFinished):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"message": "Task cancellation requested"})
	}
}

func (h *Handler) handleSelectFile(c *gin.Context) {
	var req pathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Probing must not be tied to the request lifetime once the file is accepted.
	selected, err := h.SelectFile(context.WithoutCancel(c.Request.Context()), req.Path)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, selected)
}

func (h *Handler) handleServerState(c *gin.Context) {
	port, ok := h.server.Port()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Integrated server is not listening yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"port": port})
}

// handleEvents streams queue updates, starting with the current state.
func (h *Handler) handleEvents(c *gin.Context) {
	initial := []Event{{Type: EventQueueUpdated, Payload: h.tasks.Current()}}
	if port, ok := h.server.Port(); ok {
		initial = append(initial, Event{Type: EventServerStarted, Payload: gin.H{"port": port}})
	}
	h.events.Serve(c, initial...)
}
