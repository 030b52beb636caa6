package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/yungbote/lessongen-backend/internal/platform/httpx"
	"github.com/yungbote/lessongen-backend/internal/platform/logger"
)

// Client generates JSON with a Gemini model.
type Client struct {
	log         *logger.Logger
	gc          *genai.Client
	model       string
	temperature float32
	maxRetries  int
}

func NewClient(ctx context.Context, log *logger.Logger) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	key := strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	if key == "" {
		key = strings.TrimSpace(os.Getenv("GOOGLE_API_KEY"))
	}
	if key == "" {
		return nil, fmt.Errorf("missing GEMINI_API_KEY")
	}
	model := strings.TrimSpace(os.Getenv("GEMINI_MODEL"))
	if model == "" {
		model = "gemini-1.5-pro"
	}
	maxRetries := 3
	if v := strings.TrimSpace(os.Getenv("GEMINI_MAX_RETRIES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			maxRetries = n
		}
	}

	gc, err := genai.NewClient(ctx, option.WithAPIKey(key))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Client{
		log:         log.With("service", "GeminiClient"),
		gc:          gc,
		model:       model,
		temperature: 0.4,
		maxRetries:  maxRetries,
	}, nil
}

func (c *Client) Name() string { return "gemini:" + c.model }

func (c *Client) Close() error {
	if c == nil || c.gc == nil {
		return nil
	}
	return c.gc.Close()
}

// GenerateJSON asks for an application/json response. The schema travels in
// the system instruction rather than as a typed response schema.
func (c *Client) GenerateJSON(ctx context.Context, system string, user string, schemaName string, schema map[string]any) (map[string]any, error) {
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}

	m := c.gc.GenerativeModel(c.model)
	temp := c.temperature
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      &temp,
		ResponseMIMEType: "application/json",
	}
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{
			genai.Text(system),
			genai.Text(schemaName + ".schema.json:\n" + string(schemaJSON)),
		},
	}

	var resp *genai.GenerateContentResponse
	backoff := time.Second
	for attempt := 0; ; attempt++ {
		resp, err = m.GenerateContent(ctx, genai.Text(user))
		if err == nil {
			break
		}
		if !retryable(err) || attempt >= c.maxRetries {
			return nil, fmt.Errorf("gemini generate: %w", err)
		}
		c.log.Warn("Gemini request retrying", "attempt", attempt+1, "error", err.Error())
		if err := httpx.Sleep(ctx, httpx.Jitter(backoff)); err != nil {
			return nil, err
		}
		backoff *= 2
	}

	text := strings.TrimSpace(firstText(resp))
	if text == "" {
		return nil, fmt.Errorf("gemini: empty response")
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(stripFence(text)), &obj); err != nil {
		return nil, fmt.Errorf("failed to parse model JSON: %w", err)
	}
	return obj, nil
}

func retryable(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return httpx.IsRetryableHTTPStatus(gerr.Code)
	}
	return httpx.IsRetryableError(err)
}

func firstText(r *genai.GenerateContentResponse) string {
	if r == nil {
		return ""
	}
	for _, cand := range r.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

// stripFence drops a ```json fence some models wrap around JSON output.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
