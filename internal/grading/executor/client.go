package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	appErr "codegrade/pkg/errors"
	"codegrade/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	executePath      = "/api/v1/executions"
	environmentsPath = "/api/v1/environments"
)

// Config holds sandbox client settings.
type Config struct {
	BaseURL string `yaml:"baseURL"`

	// MaxRetries bounds retries of transient transport failures.
	MaxRetries   int           `yaml:"maxRetries"`
	RetryBackoff time.Duration `yaml:"retryBackoff"`

	// MaxConcurrent caps in-flight executions across all submissions to
	// protect the external sandbox.
	MaxConcurrent int `yaml:"maxConcurrent"`

	// RatePerSecond additionally smooths the request rate. Zero disables it.
	RatePerSecond float64 `yaml:"ratePerSecond"`

	// EnvironmentsTTL controls how long the supported environment list is
	// cached locally.
	EnvironmentsTTL time.Duration `yaml:"environmentsTTL"`

	// DefaultTimeout applies when a call supplies no timeout of its own.
	DefaultTimeout time.Duration `yaml:"defaultTimeout"`
}

// Client is a typed HTTP client for the external sandbox service.
// The sandbox is untrusted and unreliable; all error shapes are translated
// into the grading error taxonomy before leaving this package.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	maxRetries   int
	retryBackoff time.Duration
	sem          chan struct{}
	limiter      *rate.Limiter

	envTTL         time.Duration
	defaultTimeout time.Duration

	envMu        sync.Mutex
	envCache     map[string]struct{}
	envExpiresAt time.Time
}

// NewClient creates a sandbox client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("sandbox base URL is required")
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.EnvironmentsTTL <= 0 {
		cfg.EnvironmentsTTL = 5 * time.Minute
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.MaxConcurrent)
	}

	return &Client{
		baseURL:        cfg.BaseURL,
		httpClient:     &http.Client{},
		maxRetries:     cfg.MaxRetries,
		retryBackoff:   cfg.RetryBackoff,
		sem:            make(chan struct{}, cfg.MaxConcurrent),
		limiter:        limiter,
		envTTL:         cfg.EnvironmentsTTL,
		defaultTimeout: cfg.DefaultTimeout,
	}, nil
}

// Execute runs code against one test case input. The timeout covers the
// whole sandbox round trip; exceeding it yields a TimedOut outcome rather
// than an error so the orchestrator can record a failing test case and
// keep going.
func (c *Client) Execute(ctx context.Context, req ExecRequest, timeout time.Duration) (ExecOutcome, error) {
	if req.Environment == "" {
		return ExecOutcome{}, appErr.ValidationError("environment", "required")
	}
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return ExecOutcome{}, ctx.Err()
	}
	defer func() { <-c.sem }()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return ExecOutcome{}, err
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outcome, err := c.doExecute(callCtx, req)
	if err != nil {
		// The sandbox enforces the per-run limit itself; hitting our
		// round-trip deadline means the run never came back in time.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return ExecOutcome{TimedOut: true}, nil
		}
		return ExecOutcome{}, err
	}
	return outcome, nil
}

func (c *Client) doExecute(ctx context.Context, req ExecRequest) (ExecOutcome, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return ExecOutcome{}, appErr.Wrap(err, appErr.InternalServerError)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.retryBackoff * time.Duration(attempt)):
			case <-ctx.Done():
				return ExecOutcome{}, ctx.Err()
			}
			logger.Debug(ctx, "retrying sandbox execution", zap.Int("attempt", attempt))
		}

		outcome, retriable, err := c.postExecution(ctx, body)
		if err == nil {
			return outcome, nil
		}
		if !retriable {
			return ExecOutcome{}, err
		}
		lastErr = err
	}
	return ExecOutcome{}, appErr.Wrapf(lastErr, appErr.ExecutorUnavailable,
		"sandbox unreachable after %d attempts", c.maxRetries+1)
}

func (c *Client) postExecution(ctx context.Context, body []byte) (ExecOutcome, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+executePath, bytes.NewReader(body))
	if err != nil {
		return ExecOutcome{}, false, appErr.Wrap(err, appErr.InternalServerError)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return ExecOutcome{}, false, err
		}
		return ExecOutcome{}, true, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return ExecOutcome{}, true, err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var outcome ExecOutcome
		if err := json.Unmarshal(data, &outcome); err != nil {
			return ExecOutcome{}, false, appErr.Wrap(err, appErr.GradingSystemError).
				WithMessage("sandbox returned malformed response")
		}
		return outcome, false, nil
	case resp.StatusCode == http.StatusNotFound:
		return ExecOutcome{}, false, appErr.New(appErr.EnvironmentNotFound)
	case resp.StatusCode == http.StatusBadRequest:
		return ExecOutcome{}, false, appErr.Newf(appErr.ExecutionRejected, "sandbox rejected request: %s", string(data))
	case resp.StatusCode >= 500:
		return ExecOutcome{}, true, fmt.Errorf("sandbox returned status %d", resp.StatusCode)
	default:
		return ExecOutcome{}, false, appErr.Newf(appErr.GradingSystemError, "unexpected sandbox status %d", resp.StatusCode)
	}
}

// SupportsEnvironment reports whether the sandbox can run the environment.
// The supported list is cached locally with a TTL.
func (c *Client) SupportsEnvironment(ctx context.Context, environment string) (bool, error) {
	envs, err := c.environments(ctx)
	if err != nil {
		return false, err
	}
	_, ok := envs[environment]
	return ok, nil
}

func (c *Client) environments(ctx context.Context) (map[string]struct{}, error) {
	now := time.Now()
	c.envMu.Lock()
	if c.envCache != nil && now.Before(c.envExpiresAt) {
		envs := c.envCache
		c.envMu.Unlock()
		return envs, nil
	}
	c.envMu.Unlock()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+environmentsPath, nil)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.InternalServerError)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.ExecutorUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, appErr.Newf(appErr.ExecutorUnavailable, "environments request returned %d", resp.StatusCode)
	}

	var payload struct {
		Environments []string `json:"environments"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, appErr.Wrap(err, appErr.GradingSystemError)
	}

	envs := make(map[string]struct{}, len(payload.Environments))
	for _, env := range payload.Environments {
		envs[env] = struct{}{}
	}
	c.envMu.Lock()
	c.envCache = envs
	c.envExpiresAt = now.Add(c.envTTL)
	c.envMu.Unlock()
	return envs, nil
}
