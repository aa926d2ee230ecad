// Package client is the request driver for inferd: it encodes envelopes,
// sends them over HTTP, retries transport faults with a fixed delay, and
// classifies terminal failures as timeout, connection, or application
// error. Retries assume idempotent calls; the driver performs no
// deduplication.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"inferd/pkg/types"
	"inferd/pkg/wire"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
)

// Config encapsulates driver tunables.
type Config struct {
	// BaseURL of the server, e.g. http://127.0.0.1:50000.
	BaseURL string
	// Timeout bounds each individual attempt.
	Timeout time.Duration
	// MaxRetries bounds the total number of attempts.
	MaxRetries int
	// RetryDelay is the fixed wait between attempts.
	RetryDelay time.Duration
	// HTTPClient overrides the transport; nil uses a plain &http.Client{}.
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client drives requests against one inferd server. Safe for concurrent
// use.
type Client struct {
	base       string
	http       *http.Client
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
	log        zerolog.Logger
}

// New constructs a Client, applying package defaults for unset fields.
func New(cfg Config) *Client {
	c := &Client{
		base:       cfg.BaseURL,
		http:       cfg.HTTPClient,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		log:        cfg.Logger,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.maxRetries <= 0 {
		c.maxRetries = defaultMaxRetries
	}
	if c.retryDelay < 0 {
		c.retryDelay = defaultRetryDelay
	}
	return c
}

// Infer sends one request envelope and returns the decoded response
// envelope. Transport faults and timeouts are retried up to the
// configured attempt bound; a decoded status:"error" envelope is
// returned immediately as an application error.
func (c *Client) Infer(ctx context.Context, req *wire.Map) (*wire.Map, error) {
	body, err := wire.Encode(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	var (
		lastKind = FailConnection
		lastMsg  string
		lastErr  error
	)
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		env, kind, msg, err := c.attempt(ctx, body)
		if err == nil && kind == "" {
			return env, nil
		}
		if kind == FailApp {
			// A transported, well-formed failure response: never retried.
			return nil, &RequestError{Kind: FailApp, Message: msg, Attempts: attempt}
		}
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ctx.Err()
		}
		lastKind, lastMsg, lastErr = kind, msg, err
		c.log.Warn().Err(err).Int("attempt", attempt).Int("max", c.maxRetries).Msg("request attempt failed")
		if attempt < c.maxRetries {
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, &RequestError{Kind: lastKind, Message: lastMsg, Attempts: c.maxRetries, Err: lastErr}
}

// attempt performs one transport round trip. A FailApp kind means a
// decoded error envelope; an empty kind with nil error means success.
func (c *Client) attempt(ctx context.Context, body []byte) (*wire.Map, FailKind, string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.base+"/infer", bytes.NewReader(body))
	if err != nil {
		return nil, FailConnection, err.Error(), err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeoutErr(err) {
			return nil, FailTimeout, err.Error(), err
		}
		return nil, FailConnection, err.Error(), err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeoutErr(err) {
			return nil, FailTimeout, err.Error(), err
		}
		return nil, FailConnection, err.Error(), err
	}

	env, decErr := wire.Decode(raw)
	if decErr == nil {
		switch env.GetString("status") {
		case "error":
			msg := env.GetString("message")
			if msg == "" {
				msg = fmt.Sprintf("server error (HTTP %d)", resp.StatusCode)
			}
			return nil, FailApp, msg, nil
		default:
			if resp.StatusCode == http.StatusOK {
				return env, "", "", nil
			}
		}
	}
	err = fmt.Errorf("HTTP %d with undecodable body", resp.StatusCode)
	return nil, FailConnection, err.Error(), err
}

// UpdateModel uploads a model archive for a hot swap. Uploads are not
// idempotent, so no retries: one attempt, classified the same way.
func (c *Client) UpdateModel(ctx context.Context, archive []byte, device string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "model.tar")
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(archive); err != nil {
		return "", err
	}
	if device != "" {
		if err := mw.WriteField("device", device); err != nil {
			return "", err
		}
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.base+"/update_model", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		kind := FailConnection
		if isTimeoutErr(err) {
			kind = FailTimeout
		}
		return "", &RequestError{Kind: kind, Message: err.Error(), Attempts: 1, Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &RequestError{Kind: FailConnection, Message: err.Error(), Attempts: 1, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		var e types.ErrorResponse
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return "", &RequestError{Kind: FailApp, Message: e.Error, Attempts: 1}
		}
		err := fmt.Errorf("HTTP %d with undecodable body", resp.StatusCode)
		return "", &RequestError{Kind: FailConnection, Message: err.Error(), Attempts: 1, Err: err}
	}
	var u types.UpdateResponse
	if err := json.Unmarshal(raw, &u); err != nil {
		return "", &RequestError{Kind: FailConnection, Message: "undecodable update response", Attempts: 1, Err: err}
	}
	return u.Message, nil
}

// Status fetches the server status document.
func (c *Client) Status(ctx context.Context) (types.StatusResponse, error) {
	var st types.StatusResponse
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, c.base+"/status", nil)
	if err != nil {
		return st, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return st, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return st, fmt.Errorf("status: HTTP %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("status: %w", err)
	}
	return st, nil
}

// isTimeoutErr distinguishes deadline/timeout faults from other
// transport failures.
func isTimeoutErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
