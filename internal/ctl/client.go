package ctl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/offlinegate/internal/api"
	"github.com/dmitrijs2005/offlinegate/internal/common"
	"github.com/dmitrijs2005/offlinegate/internal/netx"
	"github.com/dmitrijs2005/offlinegate/internal/queue"
	"github.com/dmitrijs2005/offlinegate/internal/worker"
)

// APIError is a non-2xx answer from the control API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("gateway returned %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Client talks to one gateway.
type Client struct {
	base *url.URL
	http netx.Doer
}

func NewClient(addr string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(addr, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid gateway address %q", addr)
	}
	return &Client{base: u, http: netx.NewClient(timeout)}, nil
}

func (c *Client) endpoint(path string) string {
	return c.base.String() + common.ControlPrefix + path
}

// StreamURL is the websocket address of the notification stream.
func (c *Client) StreamURL() string {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String() + common.ControlPrefix + "/notifications/stream"
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrOffline, err)
	}
	defer resp.Body.Close()

	raw, err := netx.ReadBody(resp)
	if err != nil {
		return err
	}

	if !netx.IsSuccess(resp.StatusCode) {
		apiErr := &APIError{Status: resp.StatusCode}
		var er api.ErrorResponse
		if json.Unmarshal(raw, &er) == nil {
			apiErr.Code, apiErr.Message = er.Code, er.Message
		}
		return apiErr
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if rm, ok := out.(*json.RawMessage); ok {
		*rm = append((*rm)[:0], raw...)
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) Status(ctx context.Context) (api.StatusResponse, error) {
	var s api.StatusResponse
	err := c.do(ctx, http.MethodGet, "/status", nil, &s)
	return s, err
}

func (c *Client) Actions(ctx context.Context) ([]queue.Action, error) {
	var actions []queue.Action
	err := c.do(ctx, http.MethodGet, "/offline-actions", nil, &actions)
	return actions, err
}

func (c *Client) RemoveAction(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/offline-actions/"+strconv.FormatInt(id, 10), nil, nil)
}

func (c *Client) ClearActions(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/offline-actions", nil, nil)
}

func (c *Client) Sync(ctx context.Context) (queue.DrainResult, error) {
	var res queue.DrainResult
	err := c.do(ctx, http.MethodPost, "/sync", nil, &res)
	return res, err
}

// Send posts a control message and returns the raw result.
func (c *Client) Send(ctx context.Context, m worker.Message) (json.RawMessage, error) {
	b, err := worker.EncodeMessage(m)
	if err != nil {
		return nil, err
	}
	var resp struct {
		OK     bool            `json:"ok"`
		Result json.RawMessage `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, "/messages", json.RawMessage(b), &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

func (c *Client) Collection(ctx context.Context, collection string) ([]json.RawMessage, error) {
	var rows []json.RawMessage
	err := c.do(ctx, http.MethodGet, "/store/"+url.PathEscape(collection), nil, &rows)
	return rows, err
}

func (c *Client) Record(ctx context.Context, collection, key string) (json.RawMessage, error) {
	var raw json.RawMessage
	err := c.do(ctx, http.MethodGet, "/store/"+url.PathEscape(collection)+"/"+url.PathEscape(key), nil, &raw)
	return raw, err
}
