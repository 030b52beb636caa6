package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	types "github.com/yungbote/lessongen-backend/internal/domain/lessongen"
	"github.com/yungbote/lessongen-backend/internal/http/response"
	"github.com/yungbote/lessongen-backend/internal/platform/ctxutil"
	"github.com/yungbote/lessongen-backend/internal/platform/logger"
)

// AuthMiddleware verifies HS256 bearer tokens issued by the identity
// service. Users are not managed here; the subject is taken as the owner id.
type AuthMiddleware struct {
	log    *logger.Logger
	secret []byte
}

func NewAuthMiddleware(log *logger.Logger, secret string) *AuthMiddleware {
	return &AuthMiddleware{log: log.With("middleware", "AuthMiddleware"), secret: []byte(secret)}
}

// Enabled is false without a secret; requests then run unowned.
func (am *AuthMiddleware) Enabled() bool { return am != nil && len(am.secret) > 0 }

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !am.Enabled() {
			c.Next()
			return
		}
		tokenString := extractToken(c)
		if tokenString == "" {
			response.RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("missing or invalid token"))
			c.Abort()
			return
		}
		rd, err := am.Verify(tokenString)
		if err != nil {
			response.RespondAPIError(c, err)
			c.Abort()
			return
		}
		c.Request = c.Request.WithContext(ctxutil.WithRequestData(c.Request.Context(), rd))
		c.Next()
	}
}

// Verify parses a token into request data. An expired token is reported as
// ErrAuthExpired so clients know to refresh rather than re-login.
func (am *AuthMiddleware) Verify(tokenString string) (*ctxutil.RequestData, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return am.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, fmt.Errorf("%w: %v", types.ErrAuthExpired, err)
	}
	if err != nil || !parsed.Valid {
		return nil, unauthorized(fmt.Errorf("invalid token: %v", err))
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil || userID == uuid.Nil {
		return nil, unauthorized(fmt.Errorf("invalid subject in token"))
	}
	return &ctxutil.RequestData{UserID: userID, SessionID: claims.ID}, nil
}

// Issue signs a token for userID. Used by tests and local tooling.
func (am *AuthMiddleware) Issue(userID uuid.UUID, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = userID.String()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(am.secret)
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	// EventSource and browser WebSocket cannot set headers.
	return strings.TrimSpace(c.Query("token"))
}
