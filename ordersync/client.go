package ordersync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultPageSize = 100

// apiClient is the shared HTTP client for provider adapters: per-client rate
// limiting plus bounded exponential backoff on 429/5xx. Auth failures are
// never retried.
type apiClient struct {
	provider    string
	baseURL     string
	authHeader  string
	authValue   string
	http        *http.Client
	limiter     <-chan time.Time
	maxAttempts int
	backoffBase time.Duration
}

func newAPIClient(provider, baseURL, authHeader, authValue string) *apiClient {
	rateLimitPerMin := int64(60)
	if v := strings.TrimSpace(os.Getenv(strings.ToUpper(provider) + "_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &apiClient{
		provider:    provider,
		baseURL:     strings.TrimRight(baseURL, "/"),
		authHeader:  authHeader,
		authValue:   authValue,
		http:        &http.Client{Timeout: 30 * time.Second},
		limiter:     time.Tick(interval),
		maxAttempts: intFromEnv("PROVIDER_MAX_ATTEMPTS", 4),
		backoffBase: 500 * time.Millisecond,
	}
}

type listEnvelope struct {
	Data       []json.RawMessage `json:"data"`
	Items      []json.RawMessage `json:"items"`
	Orders     []json.RawMessage `json:"orders"`
	NextCursor string            `json:"next_cursor"`
	HasMore    *bool             `json:"has_more"`
}

func (e listEnvelope) records() []json.RawMessage {
	if len(e.Data) > 0 {
		return e.Data
	}
	if len(e.Items) > 0 {
		return e.Items
	}
	return e.Orders
}

// getList fetches one page, retrying transient failures with exponential
// backoff. Cancellation is honored between attempts, never mid-request body.
func (c *apiClient) getList(ctx context.Context, path string, params url.Values) (listEnvelope, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			sleep := c.backoffBase * time.Duration(1<<(attempt-1))
			if sleep > 15*time.Second {
				sleep = 15 * time.Second
			}
			select {
			case <-ctx.Done():
				return listEnvelope{}, ctx.Err()
			case <-time.After(sleep):
			}
		}

		envelope, err := c.getOnce(ctx, path, params)
		if err == nil {
			return envelope, nil
		}
		lastErr = err
		if !IsTransient(err) {
			return listEnvelope{}, err
		}
	}
	return listEnvelope{}, lastErr
}

func (c *apiClient) getOnce(ctx context.Context, path string, params url.Values) (listEnvelope, error) {
	select {
	case <-ctx.Done():
		return listEnvelope{}, ctx.Err()
	case <-c.limiter:
	}

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return listEnvelope{}, err
	}
	if c.authHeader != "" {
		req.Header.Set(c.authHeader, c.authValue)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return listEnvelope{}, err
		}
		return listEnvelope{}, &TransientError{Provider: c.provider, Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return listEnvelope{}, &AuthError{Provider: c.provider, Status: resp.StatusCode, Reason: strings.TrimSpace(string(body))}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return listEnvelope{}, &TransientError{
			Provider: c.provider,
			Status:   resp.StatusCode,
			Err:      fmt.Errorf("api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return listEnvelope{}, fmt.Errorf("%s api error %d: %s", c.provider, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed listEnvelope
	if err := json.Unmarshal(body, &parsed); err != nil {
		return listEnvelope{}, fmt.Errorf("%s: decode page: %w", c.provider, err)
	}
	return parsed, nil
}

func baseURLFromEnv(provider, def string) string {
	if v := strings.TrimSpace(os.Getenv(strings.ToUpper(provider) + "_API_BASE_URL")); v != "" {
		return v
	}
	return def
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func pageParams(params url.Values, cursor PageCursor) url.Values {
	if params == nil {
		params = url.Values{}
	}
	if cursor.UpdatedSince != "" {
		params.Set("updated_since", cursor.UpdatedSince)
	}
	if cursor.Cursor != "" {
		params.Set("cursor", cursor.Cursor)
	}
	size := cursor.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	params.Set("limit", strconv.Itoa(size))
	return params
}
