package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MATXBY/m4brew/internal/config"
)

// ErrDaemonUnavailable reports that nothing answered at the API address.
var ErrDaemonUnavailable = errors.New("m4brew daemon is not reachable")

// Error is a non-2xx API response.
type Error struct {
	Status int
	Body   ErrorResponse
}

func (e *Error) Error() string {
	msg := e.Body.Error
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Body.Detail != "" && e.Body.Detail != msg {
		msg += ": " + e.Body.Detail
	}
	if e.Body.Code != "" {
		return fmt.Sprintf("%s (%s)", msg, e.Body.Code)
	}
	return msg
}

// Code returns the machine-readable error code of err, if it is an *Error.
func Code(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Body.Code
	}
	return ""
}

// Client talks to a running daemon over HTTP.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// NewClient builds a client for the daemon listening on bind (host:port or a
// full http URL).
func NewClient(bind, token string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, errors.New("api bind address is empty")
	}
	if !strings.Contains(bind, "://") {
		host, port, err := net.SplitHostPort(bind)
		if err != nil {
			return nil, fmt.Errorf("parse api bind %q: %w", bind, err)
		}
		if host == "" || host == "0.0.0.0" || host == "::" {
			host = "127.0.0.1"
		}
		bind = "http://" + net.JoinHostPort(host, port)
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	return &Client{
		base:  base,
		token: strings.TrimSpace(token),
		http:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// NewClientFromConfig targets the daemon configured in cfg.
func NewClientFromConfig(cfg *config.Config) (*Client, error) {
	return NewClient(cfg.Paths.APIBind, cfg.Paths.APIToken)
}

// Status returns daemon and job state.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var out DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &out)
	return out, err
}

// Job returns the current job snapshot.
func (c *Client) Job(ctx context.Context) (JobStatus, error) {
	var out JobStatus
	err := c.do(ctx, http.MethodGet, "/api/job", nil, nil, &out)
	return out, err
}

// StartJob asks the daemon to start a job. A rejection is returned as *Error
// carrying the start code.
func (c *Client) StartJob(ctx context.Context, req StartJobRequest) (JobStatus, error) {
	var out JobStatus
	err := c.do(ctx, http.MethodPost, "/api/job", nil, req, &out)
	return out, err
}

// CancelJob requests cancellation of the running job.
func (c *Client) CancelJob(ctx context.Context) (CancelResponse, error) {
	var out CancelResponse
	err := c.do(ctx, http.MethodPost, "/api/job/cancel", nil, nil, &out)
	return out, err
}

// JobLog reads the log of job id (current job when empty) from offset.
func (c *Client) JobLog(ctx context.Context, id string, offset int64) (JobLogResponse, error) {
	q := url.Values{}
	if id != "" {
		q.Set("id", id)
	}
	q.Set("offset", strconv.FormatInt(offset, 10))
	var out JobLogResponse
	err := c.do(ctx, http.MethodGet, "/api/job/log", q, nil, &out)
	return out, err
}

// History lists up to limit recent runs.
func (c *Client) History(ctx context.Context, limit int) (HistoryResponse, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out HistoryResponse
	err := c.do(ctx, http.MethodGet, "/api/history", q, nil, &out)
	return out, err
}

// Settings returns the saved run defaults.
func (c *Client) Settings(ctx context.Context) (SettingsResponse, error) {
	var out SettingsResponse
	err := c.do(ctx, http.MethodGet, "/api/settings", nil, nil, &out)
	return out, err
}

// UpdateSettings applies and persists a settings update.
func (c *Client) UpdateSettings(ctx context.Context, update config.SettingsUpdate) (SettingsResponse, error) {
	var out SettingsResponse
	err := c.do(ctx, http.MethodPut, "/api/settings", nil, update, &out)
	return out, err
}

// Logs fetches daemon log events after since.
func (c *Client) Logs(ctx context.Context, since uint64, limit int, follow bool) (LogStreamResponse, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatUint(since, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if follow {
		q.Set("follow", "1")
	}
	var out LogStreamResponse
	err := c.do(ctx, http.MethodGet, "/api/logs", q, nil, &out)
	return out, err
}

// DialEvents opens the progress websocket. The caller reads JobUpdate values
// with ReadJSON and closes the connection.
func (c *Client) DialEvents(ctx context.Context) (*websocket.Conn, error) {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/events"

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, decodeError(resp)
		}
		return nil, fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
	}
	return conn, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &Error{Status: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(data, &apiErr.Body); err != nil {
		apiErr.Body.Error = strings.TrimSpace(string(data))
	}
	return apiErr
}
