package builtin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"oats/internal/tools"
)

const httpGetBodyLimit = 4 << 20

// HTTPGetTool fetches a URL, typically a health or metrics endpoint.
type HTTPGetTool struct {
	client *http.Client
}

// NewHTTPGet creates the http_get builtin.
func NewHTTPGet() *HTTPGetTool {
	return &HTTPGetTool{client: &http.Client{Timeout: 30 * time.Second}}
}

func (t *HTTPGetTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        "http_get",
		Version:     "1.0.0",
		Description: "Fetch a URL with HTTP GET. Useful for health checks and metrics endpoints.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "URL to fetch, http or https",
				},
			},
			"required": []any{"url"},
		},
	}
}

func (t *HTTPGetTool) Execute(ctx context.Context, call tools.Call) (*tools.Result, error) {
	url, _ := call.Arguments["url"].(string)
	if url == "" {
		return tools.FailedResult(call.ID, fmt.Errorf("url must not be empty")), nil
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return tools.FailedResult(call.ID, fmt.Errorf("url must use http or https scheme")), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return tools.FailedResult(call.ID, fmt.Errorf("build request: %w", err)), nil
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("http_get: %w", ctx.Err())
		}
		return tools.FailedResult(call.ID, fmt.Errorf("fetch %s: %w", url, err)), nil
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, httpGetBodyLimit))
	if err != nil {
		return tools.FailedResult(call.ID, fmt.Errorf("read body: %w", err)), nil
	}

	return &tools.Result{
		CallID:  call.ID,
		Content: string(body),
		Metadata: map[string]any{
			"url":          url,
			"status_code":  resp.StatusCode,
			"content_type": resp.Header.Get("Content-Type"),
		},
	}, nil
}
