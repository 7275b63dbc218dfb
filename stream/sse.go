package stream

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// SSETransport dials server-sent-event streams over plain HTTP. The
// resulting connection is receive-only.
type SSETransport struct {
	client  *http.Client
	headers http.Header
}

// SSEOption customizes the transport.
type SSEOption func(*SSETransport)

// WithHTTPClient replaces the HTTP client used to open streams.
func WithHTTPClient(client *http.Client) SSEOption {
	return func(t *SSETransport) { t.client = client }
}

// WithHeaders adds headers to the stream request, e.g. authorization.
func WithHeaders(headers http.Header) SSEOption {
	return func(t *SSETransport) { t.headers = headers }
}

// NewSSETransport creates an SSE transport using http.DefaultClient.
func NewSSETransport(opts ...SSEOption) *SSETransport {
	t := &SSETransport{client: http.DefaultClient}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Dial implements Transport. The request context only bounds the dial;
// the stream itself lives until Close.
func (t *SSETransport) Dial(ctx context.Context, url string) (Conn, error) {
	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, vs := range t.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	type dialResult struct {
		resp *http.Response
		err  error
	}
	done := make(chan dialResult, 1)
	go func() {
		resp, err := t.client.Do(req)
		done <- dialResult{resp, err}
	}()

	select {
	case <-ctx.Done():
		cancel()
		if r := <-done; r.resp != nil {
			r.resp.Body.Close()
		}
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			cancel()
			return nil, r.err
		}
		if r.resp.StatusCode != http.StatusOK {
			r.resp.Body.Close()
			cancel()
			return nil, fmt.Errorf("stream: sse dial: unexpected status %d", r.resp.StatusCode)
		}
		return &sseConn{
			body:    r.resp.Body,
			scanner: bufio.NewScanner(r.resp.Body),
			cancel:  cancel,
		}, nil
	}
}

// sseConn parses the text/event-stream format: data lines accumulate
// until a blank line terminates the event.
type sseConn struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	cancel  context.CancelFunc
}

func (c *sseConn) Read(_ context.Context) ([]byte, error) {
	var data [][]byte
	for c.scanner.Scan() {
		line := c.scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				return bytes.Join(data, []byte("\n")), nil
			}
		case strings.HasPrefix(line, "data:"):
			data = append(data, []byte(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")))
		case strings.HasPrefix(line, ":"):
			// comment line, used by servers as keepalive
		}
	}
	if err := c.scanner.Err(); err != nil {
		return nil, err
	}
	if len(data) > 0 {
		return bytes.Join(data, []byte("\n")), nil
	}
	return nil, io.EOF
}

func (c *sseConn) Write(context.Context, []byte) error {
	return ErrSendUnsupported
}

func (c *sseConn) Ping(context.Context) error {
	// SSE has no client-to-server keepalive.
	return nil
}

func (c *sseConn) Close() error {
	c.cancel()
	return c.body.Close()
}
