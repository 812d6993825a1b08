package generation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// maxResponseBytes caps how much of a provider response is read.
const maxResponseBytes = 4 << 20

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 90 * time.Second}
}

// postJSON sends body and returns the raw response. Non-2xx statuses become
// errors carrying the provider's message found at errPath.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body []byte, errPath string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if msg := gjson.GetBytes(raw, errPath).String(); msg != "" {
			return nil, fmt.Errorf("http %d: %s", resp.StatusCode, msg)
		}
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}
	return raw, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
