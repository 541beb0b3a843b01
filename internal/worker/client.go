package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mushimuro/agent-company/internal/config"
	coreerrors "github.com/mushimuro/agent-company/internal/errors"
)

// Client is the RPC surface of the execution worker daemon.
type Client interface {
	// RunAgent executes an agent for a task attempt. Blocks until the
	// worker reports completion or the run timeout expires.
	RunAgent(ctx context.Context, req *RunAgentRequest) (*RunAgentResponse, error)
	// MergeBranch merges an approved attempt branch into the mainline.
	MergeBranch(ctx context.Context, req *MergeBranchRequest) (*MergeBranchResponse, error)
	// Cleanup removes an attempt's worktree and branch.
	Cleanup(ctx context.Context, req *CleanupRequest) (*CleanupResponse, error)
}

// HTTPClient talks to the worker daemon over signed HTTP. Transport
// failures are retried with a fixed backoff; HTTP status errors are not.
type HTTPClient struct {
	baseURL string
	secret  []byte
	http    *retryablehttp.Client

	runTimeout     time.Duration
	mergeTimeout   time.Duration
	cleanupTimeout time.Duration
}

type transportHookKey struct{}

// WithTransportErrorHook returns a context whose transport failures during a
// call invoke fn once per failed delivery, before any retry.
func WithTransportErrorHook(ctx context.Context, fn func(error)) context.Context {
	return context.WithValue(ctx, transportHookKey{}, fn)
}

// NewHTTPClient builds a worker client from config. cfg.MaxRetries bounds
// total deliveries: a value of 3 means at most three sends of one request.
func NewHTTPClient(cfg config.WorkerConfig, logger *slog.Logger) *HTTPClient {
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.MaxRetries - 1
	if rc.RetryMax < 0 {
		rc.RetryMax = 0
	}
	rc.Logger = nil
	if logger != nil {
		rc.Logger = slogAdapter{logger}
	}

	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 30 * time.Second
	}
	rc.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		return backoff
	}
	// Retry transport failures only. A response, whatever its status,
	// is the worker's answer and must not be replayed.
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if resp == nil && err != nil {
			if hook, ok := ctx.Value(transportHookKey{}).(func(error)); ok {
				hook(err)
			}
			return true, nil
		}
		return false, nil
	}

	return &HTTPClient{
		baseURL:        cfg.BaseURL,
		secret:         []byte(cfg.SigningSecret),
		http:           rc,
		runTimeout:     cfg.RunTimeout,
		mergeTimeout:   cfg.MergeTimeout,
		cleanupTimeout: cfg.CleanupTimeout,
	}
}

// RunAgent implements Client.
func (c *HTTPClient) RunAgent(ctx context.Context, req *RunAgentRequest) (*RunAgentResponse, error) {
	var resp RunAgentResponse
	if err := c.call(ctx, "/run_agent", c.runTimeout, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MergeBranch implements Client.
func (c *HTTPClient) MergeBranch(ctx context.Context, req *MergeBranchRequest) (*MergeBranchResponse, error) {
	var resp MergeBranchResponse
	if err := c.call(ctx, "/merge_branch", c.mergeTimeout, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cleanup implements Client.
func (c *HTTPClient) Cleanup(ctx context.Context, req *CleanupRequest) (*CleanupResponse, error) {
	var resp CleanupResponse
	if err := c.call(ctx, "/cleanup", c.cleanupTimeout, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// call posts a signed JSON payload and decodes the JSON response.
func (c *HTTPClient) call(ctx context.Context, path string, timeout time.Duration, payload, out any) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}

	timestamp, signature := SignNow(c.secret, body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderSignature, signature)

	resp, err := c.http.Do(req)
	if err != nil {
		return coreerrors.ErrWorkerUnreachable(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return coreerrors.ErrWorkerUnreachable(err)
	}

	if resp.StatusCode != http.StatusOK {
		return coreerrors.ErrWorkerReported(
			fmt.Sprintf("%s returned %d: %s", path, resp.StatusCode, truncate(raw, 512)))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return coreerrors.ErrProtocol(fmt.Sprintf("malformed %s response: %v", path, err))
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// slogAdapter bridges retryablehttp's leveled logger onto slog.
type slogAdapter struct {
	l *slog.Logger
}

func (a slogAdapter) Error(msg string, kv ...any) { a.l.Error(msg, kv...) }
func (a slogAdapter) Info(msg string, kv ...any)  { a.l.Info(msg, kv...) }
func (a slogAdapter) Debug(msg string, kv ...any) { a.l.Debug(msg, kv...) }
func (a slogAdapter) Warn(msg string, kv ...any)  { a.l.Warn(msg, kv...) }
