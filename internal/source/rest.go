package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"farm-exporter/internal/version"
)

// newestFirst is the list ordering sent to paginated pool endpoints, so a
// capped history scan keeps the most recent payouts.
const newestFirst = "-id"

// restClient performs JSON GETs against a pool's public REST API.
type restClient struct {
	name      string
	baseURL   string
	userAgent string
	client    *http.Client
}

func newRESTClient(name, baseURL, userAgent string, timeout time.Duration) *restClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if strings.TrimSpace(userAgent) == "" {
		userAgent = version.UserAgent()
	}
	return &restClient{
		name:      name,
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
	}
}

func (c *restClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: build %s request: %v", ErrProtocol, c.name, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrConnectivity, c.name, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read %s %s: %v", ErrConnectivity, c.name, path, err)
	}

	if resp.StatusCode != http.StatusOK {
		return parseHTTPError(c.name, resp.StatusCode, payload)
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%w: decode %s %s: %v", ErrProtocol, c.name, path, err)
	}
	return nil
}

type errorResponse struct {
	Detail  string `json:"detail"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func parseHTTPError(name string, status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		for _, msg := range []string{apiErr.Detail, apiErr.Message, apiErr.Error} {
			if msg != "" {
				return fmt.Errorf("%w: %s api error (%d): %s", ErrConnectivity, name, status, msg)
			}
		}
	}
	if body := strings.TrimSpace(string(payload)); body != "" && len(body) <= 256 {
		return fmt.Errorf("%w: %s api error (%d): %s", ErrConnectivity, name, status, body)
	}
	return fmt.Errorf("%w: %s api error (%d)", ErrConnectivity, name, status)
}

// launcherRef is the common shape of pool leaderboard rows.
type launcherRef struct {
	LauncherID string `json:"launcher_id"`
}

// rankOf returns the 1-based position of launcherID in an ordered leaderboard.
func rankOf(rows []launcherRef, launcherID string) (int, error) {
	for i, row := range rows {
		if strings.TrimSpace(row.LauncherID) == launcherID {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("%w: launcher %s not in leaderboard of %d", ErrProtocol, launcherID, len(rows))
}

type partialRow struct {
	Error *string `json:"error"`
}

func countPartialErrors(rows []partialRow) int {
	n := 0
	for _, p := range rows {
		if p.Error != nil {
			n++
		}
	}
	return n
}
