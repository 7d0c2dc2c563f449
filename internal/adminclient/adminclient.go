// Package adminclient is the outbound half of the XXL-JOB protocol: the
// executor registering itself, unregistering at shutdown, and reporting a
// finished invocation's result back to the scheduler admin console.
package adminclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xxljob/executor-go/internal/logging"
	"github.com/xxljob/executor-go/internal/xxlerr"
)

// HandleCode mirrors XXL-JOB's callback result code.
const (
	HandleCodeSuccess = 200
	HandleCodeFail    = 500
)

// ExecuteResult is the nested result variant some scheduler admin versions
// expect alongside the flat handleCode/handleMsg fields.
type ExecuteResult struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Callback is the payload POSTed to /api/callback once an invocation
// finishes, success or failure. Both the flat handleCode/handleMsg fields
// and the nested executeResult are populated identically, for scheduler
// version compatibility.
type Callback struct {
	LogID         int64         `json:"logId"`
	LogDateTime   int64         `json:"logDateTim"`
	HandleCode    int           `json:"handleCode"`
	HandleMsg     string        `json:"handleMsg"`
	ExecuteResult ExecuteResult `json:"executeResult"`
}

// RegistryParam identifies this executor to the scheduler on registry and
// registryRemove calls.
type RegistryParam struct {
	RegistGroup string `json:"registryGroup"`
	RegistKey   string `json:"registryKey"`
	RegistValue string `json:"registryValue"`
}

// Client is the narrow contract internal/runner depends on, so tests can
// substitute a fake without standing up an HTTP server.
type Client interface {
	Register(ctx context.Context, appName, advertiseURL string) error
	RegistryRemove(ctx context.Context, appName, advertiseURL string) error
	Callback(ctx context.Context, cb Callback) error
}

type client struct {
	log         *logging.Logger
	baseURL     string
	accessToken string
	httpClient  *http.Client
	maxRetries  int
	retryWait   time.Duration
}

// New builds an admin client targeting baseURL (e.g.
// http://admin:8080/xxl-job-admin/api), attaching accessToken as the
// XXL-JOB-ACCESS-TOKEN header on every call when non-empty.
func New(log *logging.Logger, baseURL, accessToken string) (Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("adminclient: baseURL required")
	}
	return &client{
		log:         log,
		baseURL:     baseURL,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		maxRetries:  3,
		retryWait:   2 * time.Second,
	}, nil
}

type respEnvelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (c *client) do(ctx context.Context, path string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("adminclient: encode %s: %w", path, err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryWait):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
		if err != nil {
			return fmt.Errorf("adminclient: build request %s: %w", path, err)
		}
		req.Header.Set("Content-Type", "application/json;charset=UTF-8")
		if c.accessToken != "" {
			req.Header.Set("XXL-JOB-ACCESS-TOKEN", c.accessToken)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%w: %s: %v", xxlerr.ErrAdminClient, path, err)
			if c.log != nil {
				c.log.Warn("adminclient request failed, will retry", "path", path, "attempt", attempt, "error", err)
			}
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("%w: %s: read body: %v", xxlerr.ErrAdminClient, path, readErr)
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			lastErr = fmt.Errorf("%w: %s: http %d: %s", xxlerr.ErrAdminClient, path, resp.StatusCode, string(respBody))
			continue
		}

		var env respEnvelope
		if err := json.Unmarshal(respBody, &env); err != nil {
			// Not every admin deployment returns a well-formed envelope on every
			// endpoint; a 2xx with an unparseable body is treated as success.
			return nil
		}
		if env.Code != 0 && env.Code != 200 {
			// A logical failure is the admin server answering; retrying won't
			// change its mind. Only connection/transport errors above retry.
			return fmt.Errorf("%w: %s: code=%d msg=%s", xxlerr.ErrAdminClient, path, env.Code, env.Msg)
		}
		return nil
	}
	return lastErr
}

func (c *client) Register(ctx context.Context, appName, advertiseURL string) error {
	return c.do(ctx, "/registry", RegistryParam{
		RegistGroup: "EXECUTOR",
		RegistKey:   appName,
		RegistValue: advertiseURL,
	})
}

func (c *client) RegistryRemove(ctx context.Context, appName, advertiseURL string) error {
	return c.do(ctx, "/registryRemove", RegistryParam{
		RegistGroup: "EXECUTOR",
		RegistKey:   appName,
		RegistValue: advertiseURL,
	})
}

func (c *client) Callback(ctx context.Context, cb Callback) error {
	return c.do(ctx, "/callback", []Callback{cb})
}
