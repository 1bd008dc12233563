package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single token-exchange call.
const DefaultTimeout = 30 * time.Second

// maxBodySize caps how much of a response body is read.
const maxBodySize = 1 << 20

// RequestInfo describes an outgoing request for hooks.
type RequestInfo struct {
	Method string
	URL    string
}

// RequestResult describes a finished request for hooks.
type RequestResult struct {
	StatusCode int
	Duration   time.Duration
	Error      error
}

// Hooks observe requests made by HTTP.
type Hooks interface {
	OnRequestStart(ctx context.Context, info RequestInfo) context.Context
	OnRequestEnd(ctx context.Context, info RequestInfo, result RequestResult)
}

// HTTP is a Transport over net/http.
type HTTP struct {
	client    *http.Client
	userAgent string
	hooks     Hooks
}

// Option configures HTTP.
type Option func(*HTTP)

// WithHooks attaches request hooks.
func WithHooks(h Hooks) Option {
	return func(t *HTTP) { t.hooks = h }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(t *HTTP) { t.userAgent = ua }
}

// NewHTTP returns a transport using client, or a client with DefaultTimeout
// when client is nil.
func NewHTTP(client *http.Client, opts ...Option) *HTTP {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	t := &HTTP{client: client}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Send performs req. Non-2xx responses return both the response and a
// *StatusError.
func (t *HTTP) Send(ctx context.Context, req *Request) (*Response, error) {
	info := RequestInfo{Method: req.Method, URL: req.URL}
	if t.hooks != nil {
		ctx = t.hooks.OnRequestStart(ctx, info)
	}
	start := time.Now()

	resp, err := t.do(ctx, req)

	if t.hooks != nil {
		result := RequestResult{Duration: time.Since(start), Error: err}
		if resp != nil {
			result.StatusCode = resp.StatusCode
		}
		t.hooks.OnRequestEnd(ctx, info, result)
	}
	return resp, err
}

func (t *HTTP) do(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("error creating http request for %s %s: %w", req.Method, req.URL, err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if t.userAgent != "" {
		httpReq.Header.Set("User-Agent", t.userAgent)
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return resp, &StatusError{StatusCode: httpResp.StatusCode, Body: string(data)}
	}
	return resp, nil
}
