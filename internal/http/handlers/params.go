package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/lessongen-backend/internal/http/response"
)

func pathID(c *gin.Context, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil || id == uuid.Nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", errors.New("invalid "+what+" id"))
		return uuid.Nil, false
	}
	return id, true
}

// afterSeq reads ?after= or, for reconnecting EventSource clients,
// Last-Event-ID.
func afterSeq(c *gin.Context) (int64, bool) {
	raw := strings.TrimSpace(c.Query("after"))
	if raw == "" {
		raw = strings.TrimSpace(c.GetHeader("Last-Event-ID"))
	}
	if raw == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		response.RespondError(c, http.StatusBadRequest, "invalid_after", errors.New("after must be a non-negative integer"))
		return 0, false
	}
	return n, true
}
