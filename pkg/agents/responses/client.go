package responses

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vango-go/vai-voice-agents/pkg/core"
)

const (
	// DefaultBaseURL is the upstream OpenAI API root.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultTimeout bounds a single round trip.
	DefaultTimeout = 30 * time.Second
)

// Creator is the one call the supervisor loop and classifier need.
type Creator interface {
	Create(ctx context.Context, req *Request) (*Response, error)
}

type Option func(*Client)

// WithBaseURL points the client at another API root, such as the gateway
// ("http://localhost:8080/api"). Requests go to baseURL + "/responses".
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout overrides DefaultTimeout. Zero disables the per-call deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithTracer records a span around every round trip.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) {
		if t != nil {
			c.tracer = t
		}
	}
}

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	tracer     trace.Tracer
}

// New creates a client. apiKey may be empty when talking to a gateway that
// holds the upstream key.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		tracer:     noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create sends req and decodes the response. Any non-2xx status, empty or
// invalid body, or response-level error is returned as an error.
func (c *Client) Create(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, fmt.Errorf("responses: nil request")
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	ctx, span := c.tracer.Start(ctx, "responses.create",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("responses.model", req.Model),
			attribute.Int("responses.input_items", len(req.Input)),
			attribute.Int("responses.tools", len(req.Tools)),
		))
	defer span.End()

	resp, err := c.create(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("responses.id", resp.ID),
		attribute.Int("responses.function_calls", len(resp.FunctionCalls())),
	)
	return resp, nil
}

func (c *Client) create(ctx context.Context, req *Request) (*Response, error) {
	body, err := c.doRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyResponse
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if msg := out.ErrorMessage(); msg != "" {
		return nil, &Error{Type: core.ErrAPI, Message: msg, ProviderError: out.Error}
	}
	return &out, nil
}

func (c *Client) doRequest(ctx context.Context, req *Request) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseError(resp)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return respBody, nil
}

var _ Creator = (*Client)(nil)
