package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/lessongen-backend/internal/http/response"
	"github.com/yungbote/lessongen-backend/internal/services"
)

type RunHandler struct {
	runs services.RunCoordinator
}

func NewRunHandler(runs services.RunCoordinator) *RunHandler {
	return &RunHandler{runs: runs}
}

// POST /api/runs/:id/start
func (h *RunHandler) Start(c *gin.Context) {
	runID, ok := pathID(c, "run")
	if !ok {
		return
	}
	snap, err := h.runs.Start(c.Request.Context(), runID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, snap)
}

// POST /api/runs/:id/resume
// Performs at most one writer call. Callers without a live stream poll this
// until the run is terminal.
func (h *RunHandler) Resume(c *gin.Context) {
	runID, ok := pathID(c, "run")
	if !ok {
		return
	}
	snap, err := h.runs.Resume(c.Request.Context(), runID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, snap)
}

// GET /api/runs/:id?after=seq
func (h *RunHandler) Get(c *gin.Context) {
	runID, ok := pathID(c, "run")
	if !ok {
		return
	}
	after, ok := afterSeq(c)
	if !ok {
		return
	}
	snap, err := h.runs.Get(c.Request.Context(), runID, after)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, snap)
}

// POST /api/runs/:id/cancel
func (h *RunHandler) Cancel(c *gin.Context) {
	runID, ok := pathID(c, "run")
	if !ok {
		return
	}
	snap, err := h.runs.Cancel(c.Request.Context(), runID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, snap)
}
