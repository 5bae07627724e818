// Package userstore is the HTTP client for the user store endpoints served
// by the api package. It implements session.UserStore and adds retries for
// idempotent reads, a per-request timeout and a simple circuit breaker.
package userstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/garnizeh/initiatives/internal/catalog"
	"github.com/garnizeh/initiatives/internal/config"
	"github.com/garnizeh/initiatives/internal/session"
	"github.com/garnizeh/initiatives/pkg/models"
	"github.com/garnizeh/initiatives/pkg/repository"
)

var ErrCircuitOpen = errors.New("user store circuit open")

// maxBody caps how much of a response is read.
const maxBody = 16 << 20

var _ session.UserStore = (*Client)(nil)

// Client talks to the user store over HTTP.
type Client struct {
	base   *url.URL
	cfg    config.ClientConfig
	client *http.Client

	failures  int32
	openUntil int64 // unix nano
	closed    int32
}

// package-level logger for pkg/userstore; can be replaced by callers
var logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))

// SetLogger sets the logger used by pkg/userstore. Passing nil is a no-op.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

// NewClient creates a client for cfg.BaseURL. A nil httpClient gets a
// default transport.
func NewClient(cfg config.ClientConfig, httpClient *http.Client) (*Client, error) {
	u, err := url.ParseRequestURI(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CircuitFailureThreshold <= 0 {
		cfg.CircuitFailureThreshold = 5
	}
	if cfg.CircuitReset <= 0 {
		cfg.CircuitReset = 30 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 15 * time.Second,
				}).DialContext,
				ForceAttemptHTTP2:   true,
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 5 * time.Second,
			},
		}
	}

	logger.Debug("userstore: client created", slog.String("base_url", cfg.BaseURL), slog.Duration("timeout", cfg.Timeout))
	return &Client{base: u, cfg: cfg, client: httpClient}, nil
}

// Close releases idle connections. It is idempotent.
func (c *Client) Close() error {
	if c == nil || !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	if tr, ok := c.client.Transport.(interface{ CloseIdleConnections() }); ok {
		tr.CloseIdleConnections()
	}
	return nil
}

func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.failures) < int32(c.cfg.CircuitFailureThreshold) {
		return false
	}
	if time.Now().UnixNano() < atomic.LoadInt64(&c.openUntil) {
		return true
	}
	// half-open: let one request through
	atomic.StoreInt32(&c.failures, 0)
	return false
}

func (c *Client) recordFailure() {
	v := atomic.AddInt32(&c.failures, 1)
	if v >= int32(c.cfg.CircuitFailureThreshold) {
		atomic.StoreInt64(&c.openUntil, time.Now().Add(c.cfg.CircuitReset).UnixNano())
	}
}

func (c *Client) recordSuccess() { atomic.StoreInt32(&c.failures, 0) }

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type envelope struct {
	Success bool         `json:"success"`
	Error   string       `json:"error,omitempty"`
	Token   string       `json:"token,omitempty"`
	User    *models.User `json:"user,omitempty"`
}

// SignIn exchanges credentials for a token and the user record.
func (c *Client) SignIn(ctx context.Context, email, password string) (*session.Identity, error) {
	var env envelope
	if err := c.do(ctx, http.MethodPost, "/v1/auth/signin", "", credentials{email, password}, &env); err != nil {
		return nil, err
	}
	if !env.Success || env.User == nil {
		return nil, repository.ErrInvalidCredentials
	}
	return &session.Identity{User: env.User, Token: env.Token}, nil
}

// CreateUser registers a new account.
func (c *Client) CreateUser(ctx context.Context, email, password string) error {
	return c.do(ctx, http.MethodPost, "/users", "", credentials{email, password}, nil)
}

// GetUser fetches one user with its participations.
func (c *Client) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var env envelope
	if err := c.do(ctx, http.MethodGet, "/users/"+strconv.FormatInt(id, 10), "", nil, &env); err != nil {
		return nil, err
	}
	if env.User == nil {
		return nil, repository.ErrNotFound
	}
	return env.User, nil
}

// UpdateUser applies a partial update as the token's owner.
func (c *Client) UpdateUser(ctx context.Context, id int64, token string, patch models.UserPatch) (*models.User, error) {
	var env envelope
	if err := c.do(ctx, http.MethodPatch, "/v1/users/"+strconv.FormatInt(id, 10), token, patch, &env); err != nil {
		return nil, err
	}
	return env.User, nil
}

// Friends returns the other users ranked by points.
func (c *Client) Friends(ctx context.Context, email string) ([]models.User, error) {
	var out struct {
		Users []models.User `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/users/friends?email="+url.QueryEscape(email), "", nil, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

// FetchCatalog downloads and parses the initiatives catalog.
func (c *Client) FetchCatalog(ctx context.Context) (*catalog.Snapshot, error) {
	var raw bytes.Buffer
	if err := c.do(ctx, http.MethodGet, "/catalog.csv", "", nil, &raw); err != nil {
		return nil, err
	}
	snap, err := catalog.Parse(&raw)
	if err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return snap, nil
}

// do performs one request. GETs are retried on transport errors and 5xx.
// out may be nil, a *bytes.Buffer for raw bodies, or a JSON target.
func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	if c.isCircuitOpen() {
		return ErrCircuitOpen
	}

	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = b
	}

	attempts := 1
	if method == http.MethodGet {
		attempts += max(c.cfg.Retries, 0)
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.Backoff * time.Duration(attempt)):
			}
		}

		retry, err := c.once(ctx, method, path, token, body, out)
		if err == nil {
			c.recordSuccess()
			return nil
		}
		lastErr = err
		if !retry {
			return err
		}
		c.recordFailure()
		logger.Warn("userstore: request failed", slog.String("method", method), slog.String("path", path), slog.Int("attempt", attempt+1), slog.Any("err", err))
		if c.isCircuitOpen() {
			return ErrCircuitOpen
		}
	}
	return lastErr
}

// once returns retry=true for failures worth another attempt.
func (c *Client) once(ctx context.Context, method, path, token string, body []byte, out any) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	ref, err := url.Parse(path)
	if err != nil {
		return false, err
	}
	u := c.base.ResolveReference(ref)

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return false, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return true, fmt.Errorf("read response: %w", err)
	}

	if err := statusError(resp.StatusCode, data); err != nil {
		return resp.StatusCode >= 500, err
	}

	switch dst := out.(type) {
	case nil:
	case *bytes.Buffer:
		dst.Write(data)
	default:
		if err := json.Unmarshal(data, dst); err != nil {
			return false, fmt.Errorf("decode response: %w", err)
		}
	}
	return false, nil
}

func statusError(code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	var env envelope
	_ = json.Unmarshal(body, &env)
	detail := env.Error
	if detail == "" {
		detail = http.StatusText(code)
	}
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s: %w", detail, repository.ErrInvalidCredentials)
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", detail, repository.ErrNotFound)
	case http.StatusConflict:
		return fmt.Errorf("%s: %w", detail, repository.ErrConflict)
	default:
		return fmt.Errorf("user store returned status %d: %s", code, detail)
	}
}
