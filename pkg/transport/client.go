package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/mcauth/pkg/autherr"
	"github.com/telekom/mcauth/pkg/system"
)

const maxBodyBytes = 1 << 20

type Client struct {
	http      *http.Client
	userAgent string
	log       *zap.SugaredLogger
}

type Option func(*Client) error

func New(opts ...Option) (*Client, error) {
	c := &Client{
		http:      &http.Client{Timeout: 30 * time.Second},
		userAgent: "mcauth",
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.log = system.OrNop(c.log)
	return c, nil
}

func WithUserAgent(userAgent string) Option {
	return func(c *Client) error {
		c.userAgent = userAgent
		return nil
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout <= 0 {
			return errors.New("timeout must be positive")
		}
		c.http.Timeout = timeout
		return nil
	}
}

// WithHTTPClient replaces the underlying client. Rate limiting options applied
// afterwards wrap its transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("http client is nil")
		}
		c.http = hc
		return nil
	}
}

func WithTLSConfig(caFile string, insecureSkipTLSVerify bool) Option {
	return func(c *Client) error {
		tlsConfig, err := loadTLSConfig(caFile, insecureSkipTLSVerify)
		if err != nil {
			return err
		}
		c.http.Transport = &http.Transport{TLSClientConfig: tlsConfig, Proxy: http.ProxyFromEnvironment}
		return nil
	}
}

// WithRateLimit throttles requests per destination host to rps with the given
// burst. Xbox Live answers bursts with 429, so this is on by default in the CLI.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) error {
		if rps <= 0 {
			return nil
		}
		c.http.Transport = newRateLimitedTransport(c.http.Transport, rps, burst)
		return nil
	}
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Client) error {
		c.log = log
		return nil
	}
}

// HTTPClient exposes the configured client for libraries that take one,
// such as golang.org/x/oauth2 through its context key.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

func loadTLSConfig(caFile string, insecure bool) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: insecure}
	if caFile == "" {
		return tlsConfig, nil
	}
	data, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(data); !ok {
		return nil, errors.New("failed to parse CA file")
	}
	tlsConfig.RootCAs = pool
	return tlsConfig, nil
}

// Request describes one call. At most one of JSON and Form is set.
type Request struct {
	// Op names the caller for errors and logs, e.g. "xbl.authenticate".
	Op     string
	Method string
	URL    string
	Header http.Header
	JSON   any
	Form   url.Values
	// Bearer is sent as "Authorization: Bearer <token>" when non-empty.
	Bearer string
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// DecodeJSON unmarshals the body into out, reporting a ProtocolError with the
// raw payload when it does not parse.
func (r *Response) DecodeJSON(op string, out any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return autherr.Protocol(op, "", errors.New("empty response body"))
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return autherr.Protocol(op, string(r.Body), fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// HTTPError builds a generic error for an unexpected status.
func (r *Response) HTTPError() *HTTPError {
	return decodeError(r)
}

// Do sends req. Only transport failures are returned as errors, as
// KindNetwork; any HTTP status is returned in the Response for the caller to
// classify. Context cancellation is returned as ctx.Err() so it is never retried.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	var payload io.Reader
	contentType := ""
	switch {
	case req.JSON != nil && req.Form != nil:
		return nil, fmt.Errorf("%s: request has both JSON and form bodies", req.Op)
	case req.JSON != nil:
		data, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to marshal request: %w", req.Op, err)
		}
		payload = bytes.NewReader(data)
		contentType = "application/json"
	case req.Form != nil:
		payload = strings.NewReader(req.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, payload)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid request: %w", req.Op, err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	if req.Bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Bearer)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.log.Debugw("Request failed", "op", req.Op, "url", req.URL, "error", err)
		return nil, autherr.Network(req.Op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, autherr.Network(req.Op, fmt.Errorf("failed to read response: %w", err))
	}
	c.log.Debugw("Request completed", "op", req.Op, "status", resp.StatusCode)
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func decodeError(resp *Response) *HTTPError {
	var apiErr struct {
		Error        string `json:"error"`
		ErrorMessage string `json:"errorMessage"`
	}
	if len(resp.Body) > 0 {
		_ = json.Unmarshal(resp.Body, &apiErr)
	}
	msg := strings.TrimSpace(apiErr.Error)
	if msg == "" {
		msg = strings.TrimSpace(apiErr.ErrorMessage)
	}
	if msg == "" {
		msg = strings.TrimSpace(string(resp.Body))
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &HTTPError{StatusCode: resp.StatusCode, Message: msg}
}

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Message)
}

// IsServerError reports a status worth retrying: 5xx or 429.
func IsServerError(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}
