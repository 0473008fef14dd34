package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/hashicorp/go-retryablehttp"
)

// cdpVersion is the subset of /json/version the manager reads.
type cdpVersion struct {
	Browser              string `json:"Browser"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// newProbeClient returns a retrying client for the DevTools endpoint. A
// browser started alongside the server may take a few seconds to listen.
func newProbeClient(timeout time.Duration) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 5
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = timeout
	client.Logger = nil
	return client
}

// probeCDP waits for the DevTools HTTP endpoint and returns the browser
// version it reports. WebSocket endpoints are passed through unprobed.
func probeCDP(ctx context.Context, client *retryablehttp.Client, endpoint string) (*cdpVersion, error) {
	if strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://") {
		return &cdpVersion{WebSocketDebuggerURL: endpoint}, nil
	}

	url := strings.TrimSuffix(endpoint, "/") + "/json/version"
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build cdp probe: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cdp endpoint %s unreachable: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cdp endpoint %s returned %s", endpoint, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("read cdp version: %w", err)
	}

	var version cdpVersion
	if err := sonic.Unmarshal(body, &version); err != nil {
		return nil, fmt.Errorf("decode cdp version: %w", err)
	}
	return &version, nil
}
