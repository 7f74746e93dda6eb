package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// controlTimeout bounds start/stop control calls. Streaming reads are not
// bounded by it.
const controlTimeout = 10 * time.Second

func buildURL(baseURL, path string, query url.Values) string {
	return fmt.Sprintf("%s%s?%s", strings.TrimRight(baseURL, "/"), path, query.Encode())
}

// post sends an empty POST and discards the response body.
func post(ctx context.Context, client *http.Client, endpoint string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}
	return nil
}
