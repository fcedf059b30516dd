package feast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Client is the single REST entry point. It attaches the bearer token from the
// TokenStore and owns the one-shot refresh-and-retry policy on 401; no other
// component re-implements retry logic.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     *TokenStore
	logger     zerolog.Logger

	// refreshMu serializes refresh attempts so a burst of 401s produces at
	// most one call to /auth/refresh/.
	refreshMu sync.Mutex

	hookMu            sync.Mutex
	onUnauthenticated func()
}

// NewClient builds a REST client against cfg.APIBaseURL() with the configured
// fixed timeout. Timeouts surface as *NetworkError.
func NewClient(cfg Config, tokens *TokenStore, logger zerolog.Logger) *Client {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    cfg.APIBaseURL(),
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
		logger:     logger.With().Str("component", "http_client").Logger(),
	}
}

// SetUnauthenticatedHandler registers the central callback invoked when the
// refresh path is exhausted. The session controller uses it to force logout so
// individual call sites don't have to.
func (c *Client) SetUnauthenticatedHandler(fn func()) {
	c.hookMu.Lock()
	c.onUnauthenticated = fn
	c.hookMu.Unlock()
}

func (c *Client) fireUnauthenticated() {
	c.hookMu.Lock()
	fn := c.onUnauthenticated
	c.hookMu.Unlock()
	if fn != nil {
		fn()
	}
}

// Request performs one REST call. body (when non-nil) is JSON-encoded. The
// response body is returned for 2xx statuses; other statuses map onto the
// error taxonomy: *NetworkError (no response), *APIError (server said no) or
// ErrUnauthenticated (401 with refresh exhausted).
func (c *Client) Request(ctx context.Context, method, path string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("feast: encode request body: %w", err)
		}
	}

	pair := c.tokens.Get()
	access := ""
	if pair != nil {
		access = pair.Access
	}

	status, respBody, err := c.do(ctx, method, path, payload, access)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		newAccess, err := c.refreshOnce(ctx, access)
		if err != nil {
			return nil, err
		}

		status, respBody, err = c.do(ctx, method, path, payload, newAccess)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			// Replay rejected too; never loop.
			c.tokens.Clear()
			c.fireUnauthenticated()
			return nil, ErrUnauthenticated
		}
	}

	if status < 200 || status > 299 {
		return nil, &APIError{Status: status, Body: respBody}
	}
	return respBody, nil
}

// do executes a single HTTP round trip. The bearer header is attached only
// when access is non-empty; a stale or empty header is never sent.
func (c *Client) do(ctx context.Context, method, path string, payload []byte, access string) (int, []byte, error) {
	url := c.baseURL + path

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("feast: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, &NetworkError{Op: method, URL: url, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &NetworkError{Op: method, URL: url, Err: err}
	}
	return resp.StatusCode, respBody, nil
}

// refreshOnce exchanges the refresh token for a new access token, at most once
// across concurrent callers: whoever loses the race to refreshMu re-reads the
// store and reuses the token the winner installed.
func (c *Client) refreshOnce(ctx context.Context, staleAccess string) (string, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	pair := c.tokens.Get()
	if pair == nil {
		// Another caller already exhausted the refresh path.
		return "", ErrUnauthenticated
	}
	if pair.Access != staleAccess {
		// Refreshed while we waited for the lock.
		return pair.Access, nil
	}

	c.logger.Debug().Msg("access token rejected, refreshing")

	payload, err := json.Marshal(map[string]string{"refresh": pair.Refresh})
	if err != nil {
		return "", fmt.Errorf("feast: encode refresh request: %w", err)
	}

	// No bearer header on the refresh call, and no recursion into Request:
	// a failing refresh must never trigger another refresh.
	status, respBody, err := c.do(ctx, http.MethodPost, "/auth/refresh/", payload, "")
	if err != nil {
		return "", err
	}
	if status < 200 || status > 299 {
		c.logger.Warn().Int("status", status).Msg("token refresh rejected, clearing session")
		c.tokens.Clear()
		c.fireUnauthenticated()
		return "", ErrUnauthenticated
	}

	var refreshed TokenPair
	if err := json.Unmarshal(respBody, &refreshed); err != nil || refreshed.Access == "" {
		c.logger.Warn().Msg("token refresh returned no usable token, clearing session")
		c.tokens.Clear()
		c.fireUnauthenticated()
		return "", ErrUnauthenticated
	}
	if refreshed.Refresh == "" {
		// Server may rotate only the access token.
		refreshed.Refresh = pair.Refresh
	}
	c.tokens.Set(refreshed)

	c.logger.Debug().Int("access_len", len(refreshed.Access)).Msg("token refreshed")
	return refreshed.Access, nil
}
