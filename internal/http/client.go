// Package http provides a resty client whose calls pass through a governor.
//
// Every request acquires a permit for its operation before it is sent, and the
// response is parsed into feedback that completes the permit.
package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"resty.dev/v3"

	"tollgate/pkg/core"
	"tollgate/pkg/feedback"
	"tollgate/pkg/governor"
)

type Client struct {
	client *resty.Client
	gov    *governor.Governor
	parser *feedback.Parser
	logger zerolog.Logger
	// maxWait bounds admission waits; zero waits as long as the context allows.
	maxWait time.Duration
	// done is canceled by Close and ends pending admission waits.
	done   context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
	closed bool
}

type Config struct {
	BaseURL string            `validate:"required,url"`
	Timeout time.Duration     `validate:"min=1ms"`
	MaxWait time.Duration     `validate:"min=0"`
	Headers map[string]string `validate:"omitempty"`
}

// Response is a completed call with the feedback it produced.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
	Feedback   feedback.Metadata
	Permit     *governor.Permit
}

// IsSuccess returns true if the response status code indicates success (2xx).
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsError returns true if the response status code indicates an error (4xx or 5xx).
func (r *Response) IsError() bool {
	return r.StatusCode >= http.StatusBadRequest
}

// Unmarshal parses the response body into v using sonic.
func (r *Response) Unmarshal(v any) error {
	return sonic.Unmarshal(r.Body, v)
}

type RequestOption func(*resty.Request)

func NewClient(config *Config, gov *governor.Governor, parser *feedback.Parser) (*Client, error) {
	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if gov == nil {
		return nil, fmt.Errorf("invalid config: governor is required")
	}
	if parser == nil {
		parser = feedback.NewParser()
	}

	client := resty.New()
	client.SetBaseURL(config.BaseURL)
	client.SetTimeout(config.Timeout)
	// Each network attempt needs its own permit.
	client.SetRetryCount(0)
	client.AddContentTypeEncoder("application/json", func(w io.Writer, v any) error {
		data, err := sonic.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	})
	client.AddContentTypeDecoder("application/json", func(r io.Reader, v any) error {
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		return sonic.Unmarshal(data, v)
	})

	for k, v := range config.Headers {
		client.SetHeader(k, v)
	}

	done, cancel := context.WithCancel(context.Background())
	c := &Client{
		client:  client,
		gov:     gov,
		parser:  parser,
		logger:  zerolog.Nop(),
		maxWait: config.MaxWait,
		done:    done,
		cancel:  cancel,
	}

	client.AddRequestMiddleware(func(_ *resty.Client, req *resty.Request) error {
		c.logger.Debug().
			Str("method", req.Method).
			Str("url", req.URL).
			Msg("http request")
		return nil
	})

	client.AddResponseMiddleware(func(_ *resty.Client, resp *resty.Response) error {
		c.logger.Debug().
			Str("method", resp.Request.Method).
			Str("url", resp.Request.URL).
			Int("status", resp.StatusCode()).
			Int("size", len(resp.Bytes())).
			Msg("http response")
		return nil
	})

	return c, nil
}

// SetLogger sets the logger. It must be called before the client is shared.
func (c *Client) SetLogger(logger zerolog.Logger) {
	c.logger = logger.With().Str("component", "http").Logger()
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.cancel()
	return c.client.Close()
}

func (c *Client) Request() *resty.Request {
	return c.client.R()
}

func (c *Client) Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil, opts...)
}

func (c *Client) Post(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, body, opts...)
}

func (c *Client) Put(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPut, path, body, opts...)
}

func (c *Client) Delete(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, path, nil, opts...)
}

// Do acquires a permit for the call, sends it and completes the permit with the parsed
// response. The operation defaults to "<METHOD> <path>" unless set with WithOperation.
// A venue violation is returned as a RemoteRateLimited error alongside the response.
func (c *Client) Do(ctx context.Context, method, path string, body any, opts ...RequestOption) (*Response, error) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, errClientClosed()
	}

	req := c.client.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	for _, opt := range opts {
		opt(req)
	}

	op, params := operationFrom(req.Context())
	if op == "" {
		op = method + " " + routeOf(path)
	}
	params = withMethod(params, method)

	waitCtx, stop := context.WithCancel(req.Context())
	defer stop()
	release := context.AfterFunc(c.done, stop)
	defer release()

	var (
		permit *governor.Permit
		err    error
	)
	if c.maxWait > 0 {
		permit, err = c.gov.AcquireWithin(waitCtx, op, params, c.maxWait)
	} else {
		permit, err = c.gov.Acquire(waitCtx, op, params)
	}
	if err != nil {
		return nil, err
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		c.logger.Error().Err(err).
			Str("op", op).
			Str("permit", permit.ID.String()).
			Msg("http request failed")
		return nil, fmt.Errorf("http request: %w", err)
	}

	meta := c.parser.Parse(resp.StatusCode(), resp.Header(), resp.Bytes())
	permit.Complete(meta)

	out := &Response{
		StatusCode: resp.StatusCode(),
		Body:       resp.Bytes(),
		Header:     resp.Header(),
		Feedback:   meta,
		Permit:     permit,
	}
	if meta.Violation != feedback.ViolationNone {
		rlErr := core.NewRemoteRateLimitedError("", meta.RetryAfter).WithOperation(op)
		if meta.Violation == feedback.ViolationBanned {
			rlErr.Code = string(core.ErrCodeBanned)
		}
		return out, rlErr
	}
	return out, nil
}

func errClientClosed() error {
	return &core.GovernorError{Type: core.ErrorTypeUnknown, Code: string(core.ErrCodeClientClosed), Message: "client is closed"}
}

type operationKey struct{}

type operation struct {
	id     string
	params core.Params
}

// ContextWithOperation attaches the operation identifier and cost params to ctx.
func ContextWithOperation(ctx context.Context, op string, params core.Params) context.Context {
	return context.WithValue(ctx, operationKey{}, operation{id: op, params: params})
}

func operationFrom(ctx context.Context) (string, core.Params) {
	if ctx == nil {
		return "", nil
	}
	o, _ := ctx.Value(operationKey{}).(operation)
	return o.id, o.params
}

func withMethod(params core.Params, method string) core.Params {
	out := make(core.Params, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out[core.Method] = method
	return out
}

// routeOf strips the query string from path.
func routeOf(path string) string {
	if u, err := url.Parse(path); err == nil && u.Path != "" {
		return u.Path
	}
	return path
}

// WithOperation prices the call as op with params instead of "<METHOD> <path>".
func WithOperation(op string, params core.Params) RequestOption {
	return func(r *resty.Request) {
		r.SetContext(ContextWithOperation(r.Context(), op, params))
	}
}

func WithHeader(key, value string) RequestOption {
	return func(r *resty.Request) {
		r.SetHeader(key, value)
	}
}

func WithHeaders(headers map[string]string) RequestOption {
	return func(r *resty.Request) {
		r.SetHeaders(headers)
	}
}

func WithQueryParam(key, value string) RequestOption {
	return func(r *resty.Request) {
		r.SetQueryParam(key, value)
	}
}

func WithQueryParams(params map[string]string) RequestOption {
	return func(r *resty.Request) {
		r.SetQueryParams(params)
	}
}

func WithResult(res any) RequestOption {
	return func(r *resty.Request) {
		r.SetResult(res)
	}
}

func WithError(err any) RequestOption {
	return func(r *resty.Request) {
		r.SetError(err)
	}
}
