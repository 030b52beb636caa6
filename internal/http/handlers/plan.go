package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	types "github.com/yungbote/lessongen-backend/internal/domain/lessongen"
	"github.com/yungbote/lessongen-backend/internal/http/response"
	"github.com/yungbote/lessongen-backend/internal/services"
)

const maxSyllabusBytes = 10 << 20

type PlanHandler struct {
	svc services.PlanService
}

func NewPlanHandler(svc services.PlanService) *PlanHandler {
	return &PlanHandler{svc: svc}
}

// POST /api/plans
// JSON body is a LearningRequest. Multipart bodies carry it as the "request"
// field plus an optional "syllabus" file.
func (h *PlanHandler) StartPlan(c *gin.Context) {
	req, err := bindLearningRequest(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	view, err := h.svc.StartPlan(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, types.ErrInvalidPlan) {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
		response.RespondAPIError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"plan": view})
}

// POST /api/plans/:id/replan
func (h *PlanHandler) Replan(c *gin.Context) {
	planID, ok := pathID(c, "plan")
	if !ok {
		return
	}
	var body struct {
		Constraints string `json:"constraints"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Constraints) == "" {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", errors.New("constraints are required"))
		return
	}
	view, err := h.svc.Replan(c.Request.Context(), planID, body.Constraints)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"plan": view})
}

// POST /api/plans/:id/accept
func (h *PlanHandler) Accept(c *gin.Context) {
	planID, ok := pathID(c, "plan")
	if !ok {
		return
	}
	lesson, err := h.svc.Accept(c.Request.Context(), planID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"lesson": lesson})
}

// GET /api/plans/:id
func (h *PlanHandler) GetPlan(c *gin.Context) {
	planID, ok := pathID(c, "plan")
	if !ok {
		return
	}
	view, err := h.svc.Get(c.Request.Context(), planID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"plan": view})
}

func bindLearningRequest(c *gin.Context) (types.LearningRequest, error) {
	var req types.LearningRequest
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		if err := c.ShouldBindJSON(&req); err != nil {
			return req, fmt.Errorf("invalid JSON body: %w", err)
		}
		return req, nil
	}

	if raw := strings.TrimSpace(c.PostForm("request")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			return req, fmt.Errorf("invalid request field: %w", err)
		}
	}
	fh, err := c.FormFile("syllabus")
	if errors.Is(err, http.ErrMissingFile) {
		return req, nil
	}
	if err != nil {
		return req, fmt.Errorf("read syllabus: %w", err)
	}
	if fh.Size > maxSyllabusBytes {
		return req, fmt.Errorf("syllabus exceeds %d bytes", maxSyllabusBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return req, fmt.Errorf("open syllabus: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxSyllabusBytes))
	if err != nil {
		return req, fmt.Errorf("read syllabus: %w", err)
	}
	text, err := services.ExtractSyllabusText(fh.Filename, data, services.DefaultSyllabusChars)
	if err != nil {
		return req, err
	}
	if req.CurriculumContext != "" {
		text = req.CurriculumContext + "\n\n" + text
	}
	req.CurriculumContext = text
	return req, nil
}
