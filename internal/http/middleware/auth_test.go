package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/yungbote/lessongen-backend/internal/http/response"
	"github.com/yungbote/lessongen-backend/internal/platform/ctxutil"
	"github.com/yungbote/lessongen-backend/internal/platform/logger"
)

func authRouter(am *AuthMiddleware) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(am.RequireAuth())
	r.GET("/whoami", func(c *gin.Context) {
		rd := ctxutil.GetRequestData(c.Request.Context())
		if rd == nil {
			c.String(http.StatusOK, "anonymous")
			return
		}
		c.String(http.StatusOK, rd.UserID.String())
	})
	return r
}

func call(r *gin.Engine, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env response.ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return env.Error.Code
}

func TestAuthAcceptsValidToken(t *testing.T) {
	am := NewAuthMiddleware(logger.Nop(), "test-secret")
	user := uuid.New()
	token, err := am.Issue(user, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	rec := call(authRouter(am), token)
	if rec.Code != http.StatusOK || rec.Body.String() != user.String() {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
}

func TestAuthExpiredTokenReportsAuthExpired(t *testing.T) {
	am := NewAuthMiddleware(logger.Nop(), "test-secret")
	token, _ := am.Issue(uuid.New(), jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))})
	rec := call(authRouter(am), token)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "auth_expired" {
		t.Fatalf("expected auth_expired, got %q", code)
	}
}

func TestAuthRejectsMissingAndForeignTokens(t *testing.T) {
	am := NewAuthMiddleware(logger.Nop(), "test-secret")
	r := authRouter(am)
	if rec := call(r, ""); rec.Code != http.StatusUnauthorized || errorCode(t, rec) != "unauthorized" {
		t.Fatalf("missing token: %d %s", rec.Code, rec.Body.String())
	}
	other := NewAuthMiddleware(logger.Nop(), "other-secret")
	token, _ := other.Issue(uuid.New(), jwt.RegisteredClaims{})
	if rec := call(r, token); rec.Code != http.StatusUnauthorized || errorCode(t, rec) != "unauthorized" {
		t.Fatalf("foreign token: %d %s", rec.Code, rec.Body.String())
	}
}

func TestAuthDisabledWithoutSecret(t *testing.T) {
	rec := call(authRouter(NewAuthMiddleware(logger.Nop(), "")), "")
	if rec.Code != http.StatusOK || rec.Body.String() != "anonymous" {
		t.Fatalf("expected anonymous passthrough, got %d %q", rec.Code, rec.Body.String())
	}
}
