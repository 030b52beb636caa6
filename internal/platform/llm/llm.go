package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/yungbote/lessongen-backend/internal/platform/gemini"
	"github.com/yungbote/lessongen-backend/internal/platform/logger"
	"github.com/yungbote/lessongen-backend/internal/platform/openai"
)

// Client is the generation service as the pipeline sees it: a request in,
// a JSON object out.
type Client interface {
	GenerateJSON(ctx context.Context, system string, user string, schemaName string, schema map[string]any) (map[string]any, error)
	Name() string
}

// New picks the provider named by LLM_PROVIDER (openai by default).
func New(ctx context.Context, log *logger.Logger) (Client, error) {
	provider := strings.ToLower(strings.TrimSpace(os.Getenv("LLM_PROVIDER")))
	switch provider {
	case "", "openai":
		return openai.NewClient(log)
	case "gemini", "google":
		return gemini.NewClient(ctx, log)
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", provider)
	}
}
