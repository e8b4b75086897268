// Package transport performs single request/response exchanges with stage
// endpoints and classifies their failures.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"kururi/internal/stage"
	"kururi/internal/trace"
)

// DefaultTimeout bounds a single exchange when Options.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// DefaultLogBodyLimit caps how many body bytes are written to the log.
const DefaultLogBodyLimit = 4096

// Endpoint addresses one stage service.
type Endpoint struct {
	Stage stage.Name
	URL   string
}

// Response is a successful exchange.
type Response struct {
	Status int
	Body   []byte
	// Fields holds the top-level members of the JSON object body.
	Fields map[string]json.RawMessage
}

// Field returns the raw member named by f.
func (r Response) Field(f stage.Field) (json.RawMessage, bool) {
	raw, ok := r.Fields[string(f)]
	if !ok || !stage.Present(raw) {
		return nil, false
	}
	return raw, true
}

// Sender issues one exchange. Client is the production implementation.
type Sender interface {
	Send(ctx context.Context, ep Endpoint, payload any) (Response, error)
}

// Options configures a Client.
type Options struct {
	HTTPClient   *http.Client
	Timeout      time.Duration
	Logger       *zap.Logger
	LogBodyLimit int
}

// Client sends stage requests over HTTP. It holds no per-run state and may be
// shared by concurrent runs.
type Client struct {
	http      *http.Client
	log       *zap.Logger
	bodyLimit int
}

// New returns a Client. A nil HTTPClient gets a fresh client with the
// configured timeout.
func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := opts.LogBodyLimit
	if limit <= 0 {
		limit = DefaultLogBodyLimit
	}
	return &Client{
		http:      hc,
		log:       logger.Named("transport"),
		bodyLimit: limit,
	}
}

// Send posts payload as JSON to ep and returns the decoded response.
//
// Errors are *stage.TransportError when the exchange did not complete,
// *stage.StageRejectedError for a non-2xx status and
// *stage.MalformedResponseError when a 2xx body is not a JSON object.
func (c *Client) Send(ctx context.Context, ep Endpoint, payload any) (Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("%s: failed to marshal request: %w", ep.Stage, err)
	}

	c.log.Info("stage request",
		zap.String("stage", string(ep.Stage)),
		zap.String("url", ep.URL),
		zap.ByteString("payload", c.clip(body)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return Response{}, &stage.TransportError{Stage: ep.Stage, URL: ep.URL, Payload: body, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	span := trace.Begin(trace.FromContext(ctx), trace.ScopeExchange, "POST "+ep.URL, trace.ParentSpan(ctx))
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		span.WithExtra("error", err.Error()).End("failed")
		c.log.Warn("stage exchange failed",
			zap.String("stage", string(ep.Stage)),
			zap.String("url", ep.URL),
			zap.Error(err))
		return Response{}, &stage.TransportError{Stage: ep.Stage, URL: ep.URL, Payload: body, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		span.WithExtra("error", err.Error()).End("failed")
		c.log.Warn("stage response read failed",
			zap.String("stage", string(ep.Stage)),
			zap.String("url", ep.URL),
			zap.Error(err))
		return Response{}, &stage.TransportError{Stage: ep.Stage, URL: ep.URL, Payload: body, Err: fmt.Errorf("read response body: %w", err)}
	}

	span.WithExtra("status", strconv.Itoa(resp.StatusCode)).End(http.StatusText(resp.StatusCode))
	c.log.Info("stage response",
		zap.String("stage", string(ep.Stage)),
		zap.String("url", ep.URL),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
		zap.ByteString("body", c.clip(respBody)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Response{}, &stage.StageRejectedError{
			Stage:   ep.Stage,
			URL:     ep.URL,
			Payload: body,
			Status:  resp.StatusCode,
			Body:    respBody,
			Service: stage.DecodeServiceError(respBody),
		}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(respBody, &fields); err != nil || fields == nil {
		reason := "body is not a JSON object"
		if err != nil {
			reason = fmt.Sprintf("%s: %v", reason, err)
		}
		return Response{}, &stage.MalformedResponseError{
			Stage:   ep.Stage,
			URL:     ep.URL,
			Payload: body,
			Body:    respBody,
			Reason:  reason,
		}
	}

	return Response{Status: resp.StatusCode, Body: respBody, Fields: fields}, nil
}

func (c *Client) clip(b []byte) []byte {
	if len(b) <= c.bodyLimit {
		return b
	}
	out := make([]byte, 0, c.bodyLimit+3)
	out = append(out, b[:c.bodyLimit]...)
	return append(out, "..."...)
}

// JoinURL appends a route to a base address.
func JoinURL(base, path string) string {
	if base == "" {
		return ""
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}
