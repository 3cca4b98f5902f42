// Package client implements the HTTP collaborators of the checkout services:
// the product catalog, the cart store, the payment service and the card
// gateway. Every call is a single attempt; any transport failure or
// unexpected status is reported as UpstreamUnavailable.
package client

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xenking/marketplace-checkout/internal/domain/apperr"
	"github.com/xenking/marketplace-checkout/internal/domain/identity"
)

// DefaultTimeout bounds a single upstream call.
const DefaultTimeout = 5 * time.Second

// maxBody caps how much of an upstream response is read.
const maxBody = 1 << 20

// Config configures one upstream.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// Transport overrides the otelhttp-wrapped default transport.
	Transport http.RoundTripper
}

// base is the shared request plumbing of every client.
type base struct {
	name    string
	baseURL string
	http    *http.Client
}

func newBase(name string, cfg Config) base {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	transport := cfg.Transport
	if transport == nil {
		transport = otelhttp.NewTransport(http.DefaultTransport)
	}
	return base{
		name:    name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout, Transport: transport},
	}
}

type response struct {
	status int
	body   []byte
}

func (r response) ok() bool { return r.status >= 200 && r.status < 300 }

// do sends a request and reads the whole response. The caller's bearer token
// is forwarded unless auth is set explicitly.
func (b base) do(ctx context.Context, method, path, contentType string, body []byte, auth string) (response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, rd)
	if err != nil {
		return response{}, errors.Wrap(err, "create request")
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if auth == "" {
		if id, ok := identity.FromContext(ctx); ok {
			auth = id.Token
		}
	}
	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return response{}, apperr.Upstream(err, "%s unavailable", b.name)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return response{}, apperr.Upstream(err, "read %s response", b.name)
	}
	return response{status: resp.StatusCode, body: data}, nil
}

// unexpected reports a non-2xx status as UpstreamUnavailable.
func (b base) unexpected(r response, op string) error {
	return apperr.Upstream(errors.Errorf("status %d", r.status), "%s: %s failed", b.name, op)
}

// decodeFailed reports a malformed upstream payload.
func (b base) decodeFailed(err error, op string) error {
	return apperr.Upstream(err, "%s: decode %s response", b.name, op)
}
