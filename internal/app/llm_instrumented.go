package app

import (
	"context"
	"time"

	"github.com/yungbote/lessongen-backend/internal/observability"
	"github.com/yungbote/lessongen-backend/internal/platform/llm"
)

type instrumentedLLM struct {
	inner   llm.Client
	metrics *observability.Metrics
}

func instrumentLLM(inner llm.Client, m *observability.Metrics) llm.Client {
	if inner == nil || m == nil {
		return inner
	}
	return &instrumentedLLM{inner: inner, metrics: m}
}

func (c *instrumentedLLM) Name() string { return c.inner.Name() }

func (c *instrumentedLLM) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	start := time.Now()
	out, err := c.inner.GenerateJSON(ctx, system, user, schemaName, schema)
	status := "success"
	switch {
	case err == nil:
	case ctx.Err() != nil:
		status = "timeout"
	default:
		status = "error"
	}
	c.metrics.ObserveLLMRequest(c.inner.Name(), schemaName, status, time.Since(start))
	return out, err
}
