package outbound

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/benvon/studygen/internal/logger"
)

// MaxResponseBytes caps how much of a response body is read. Audio is the largest payload.
const MaxResponseBytes = 32 << 20

// Client sends requests through a Guard. The guard runs before each request and
// again on every dialed address, so a host cannot rebind to an internal address
// between validation and connect.
type Client struct {
	guard  *Guard
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a guarded client. The transport refuses redirects and dials that
// the guard rejects.
func NewClient(guard *Guard, log *zap.Logger) *Client {
	c := &Client{
		guard:  guard,
		logger: logger.OrNop(log).Named("outbound"),
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   c.controlDial,
	}
	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	c.http = &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return errors.New("too many redirects")
			}
			return guard.ValidateURL(req.Context(), req.URL.String())
		},
	}
	return c
}

// Preflight validates each endpoint once, typically at startup
func (c *Client) Preflight(ctx context.Context, endpoints ...string) error {
	for _, endpoint := range endpoints {
		if err := c.guard.ValidateURL(ctx, endpoint); err != nil {
			return fmt.Errorf("endpoint %s rejected: %w", logger.SanitizeURL(endpoint), err)
		}
	}
	return nil
}

// Do validates the request URL and sends it. It lets the client serve as the HTTP
// doer of SDK clients.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := c.guard.ValidateURL(req.Context(), req.URL.String()); err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, unwrapBlocked(err)
	}
	return resp, nil
}

// Post sends body as JSON to endpoint and returns the response body and status code.
// Non-2xx responses are returned without error so callers can classify them.
func (c *Client) Post(ctx context.Context, endpoint string, headers map[string]string, body []byte, timeout time.Duration) ([]byte, int, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("outbound_body_close_failed", zap.Error(closeErr))
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug("outbound_request_completed",
		zap.String("endpoint", logger.SanitizeURL(endpoint)),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(data)),
		zap.Duration("duration", time.Since(start)),
	)
	return data, resp.StatusCode, nil
}

// IsTimeout reports whether err came from a deadline or a network timeout
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (c *Client) controlDial(network, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return &BlockedError{Host: address, Reason: "unparseable dial address"}
	}
	return c.guard.CheckAddr(address, ap.Addr())
}

// unwrapBlocked surfaces a BlockedError raised inside the transport so callers can
// match it with errors.Is.
func unwrapBlocked(err error) error {
	var blocked *BlockedError
	if errors.As(err, &blocked) {
		return blocked
	}
	return err
}
