package devtools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"
)

// DefaultPorts are the debugging ports probed during discovery, in order.
// Chromium-based applications expose the listing endpoint on the first free
// port in this range when started with a remote-debugging flag.
var DefaultPorts = []int{9222, 9223, 9224, 9229}

// Target is one addressable entry from the /json/list endpoint.
type Target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Discover probes the candidate ports and returns the target list from the
// first port that answers. httpClient may be nil, in which case a client with
// a short timeout is used; discovery against a local endpoint should fail
// fast rather than hang.
func Discover(ctx context.Context, ports []int, httpClient *http.Client) ([]Target, error) {
	if len(ports) == 0 {
		ports = DefaultPorts
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Second}
	}

	var lastErr error
	for _, port := range ports {
		targets, err := listTargets(ctx, httpClient, fmt.Sprintf("http://127.0.0.1:%d/json/list", port))
		if err != nil {
			lastErr = err
			continue
		}
		if len(targets) > 0 {
			return targets, nil
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoTarget, lastErr)
	}
	return nil, ErrNoTarget
}

// DiscoverURL probes a single listing URL. Exposed for callers that already
// know the endpoint (tests, fixed deployments).
func DiscoverURL(ctx context.Context, httpClient *http.Client, listURL string) ([]Target, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Second}
	}
	return listTargets(ctx, httpClient, listURL)
}

func listTargets(ctx context.Context, client *http.Client, listURL string) ([]Target, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing endpoint %s: status %d", listURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var targets []Target
	if err := json.Unmarshal(body, &targets); err != nil {
		return nil, fmt.Errorf("decode target list: %w", err)
	}
	return targets, nil
}

// PickTarget chooses the connection URL. Pages whose URL matches urlPattern
// win; otherwise the first page-type target with a debugger URL is taken.
func PickTarget(targets []Target, urlPattern *regexp.Regexp) (Target, error) {
	if urlPattern != nil {
		for _, t := range targets {
			if t.WebSocketDebuggerURL != "" && urlPattern.MatchString(t.URL) {
				return t, nil
			}
		}
	}
	for _, t := range targets {
		if t.WebSocketDebuggerURL != "" && (t.Type == "page" || t.Type == "") {
			return t, nil
		}
	}
	for _, t := range targets {
		if t.WebSocketDebuggerURL != "" {
			return t, nil
		}
	}
	return Target{}, ErrNoTarget
}
