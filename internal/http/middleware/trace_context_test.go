package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/lessongen-backend/internal/platform/ctxutil"
)

func TestAttachTraceContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AttachTraceContext())
	var seen *ctxutil.TraceData
	r.GET("/x", func(c *gin.Context) {
		seen = ctxutil.GetTraceData(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(headerRequestID, "req-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if seen == nil || seen.RequestID != "req-42" {
		t.Fatalf("expected caller request id, got %+v", seen)
	}
	if w.Header().Get(headerRequestID) != "req-42" {
		t.Fatalf("request id not echoed")
	}

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(headerRequestID, "bad id\n"+strings.Repeat("x", 10))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if seen.RequestID == "" || strings.Contains(seen.RequestID, " ") {
		t.Fatalf("expected generated request id, got %q", seen.RequestID)
	}
	if seen.TraceID != seen.RequestID {
		t.Fatalf("without a span the trace id falls back to the request id")
	}
}
