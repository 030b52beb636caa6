package middleware

import (
	"net/http"

	"github.com/yungbote/lessongen-backend/internal/platform/apierr"
)

func unauthorized(err error) error {
	return apierr.New(http.StatusUnauthorized, "unauthorized", err)
}
