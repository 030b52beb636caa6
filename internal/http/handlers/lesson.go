package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/lessongen-backend/internal/http/response"
	"github.com/yungbote/lessongen-backend/internal/services"
)

type LessonHandler struct {
	plans services.PlanService
	runs  services.RunCoordinator
}

func NewLessonHandler(plans services.PlanService, runs services.RunCoordinator) *LessonHandler {
	return &LessonHandler{plans: plans, runs: runs}
}

// GET /api/lessons/:id
func (h *LessonHandler) GetLesson(c *gin.Context) {
	lessonID, ok := pathID(c, "lesson")
	if !ok {
		return
	}
	lesson, err := h.plans.GetLesson(c.Request.Context(), lessonID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"lesson": lesson})
}

// POST /api/lessons/:id/split
func (h *LessonHandler) Split(c *gin.Context) {
	lessonID, ok := pathID(c, "lesson")
	if !ok {
		return
	}
	snap, err := h.runs.Split(c.Request.Context(), lessonID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, snap)
}
