package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/lessongen-backend/internal/http/response"
	"github.com/yungbote/lessongen-backend/internal/services"
)

type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func newAPIClient(base, token string) *apiClient {
	return &apiClient{
		base:  strings.TrimRight(base, "/"),
		token: token,
		// Resume makes one writer call, which can take minutes.
		http: &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *apiClient) split(ctx context.Context, lessonID string) (*services.RunSnapshot, error) {
	return c.snapshot(ctx, http.MethodPost, "/api/lessons/"+lessonID+"/split")
}

func (c *apiClient) get(ctx context.Context, runID string, afterSeq int64) (*services.RunSnapshot, error) {
	return c.snapshot(ctx, http.MethodGet, "/api/runs/"+runID+"?after="+strconv.FormatInt(afterSeq, 10))
}

func (c *apiClient) start(ctx context.Context, runID string) (*services.RunSnapshot, error) {
	return c.snapshot(ctx, http.MethodPost, "/api/runs/"+runID+"/start")
}

func (c *apiClient) resume(ctx context.Context, runID string) (*services.RunSnapshot, error) {
	return c.snapshot(ctx, http.MethodPost, "/api/runs/"+runID+"/resume")
}

func (c *apiClient) cancel(ctx context.Context, runID string) (*services.RunSnapshot, error) {
	return c.snapshot(ctx, http.MethodPost, "/api/runs/"+runID+"/cancel")
}

func (c *apiClient) snapshot(ctx context.Context, method, path string) (*services.RunSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, http.NoBody)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		var env response.ErrorEnvelope
		if json.Unmarshal(body, &env) == nil && env.Error.Message != "" {
			return nil, fmt.Errorf("%s %s: %s (%s)", method, path, env.Error.Message, env.Error.Code)
		}
		return nil, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	var snap services.RunSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}
