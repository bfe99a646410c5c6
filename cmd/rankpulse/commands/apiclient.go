package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teranos/rankpulse/errors"
	"github.com/teranos/rankpulse/internal/httpclient"
	"github.com/teranos/rankpulse/server"
)

const apiTimeout = 30 * time.Second

// apiClient talks to a running rankpulse server. Trigger and stop go through
// the server so its in-process duplicate guard and live stream see them.
type apiClient struct {
	base string
	http *httpclient.SaferClient
}

// newAPIClient accepts "host:port" or a full base URL
func newAPIClient(addr string) (*apiClient, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil || u.Host == "" {
		return nil, errors.NewInvalidRequestError("invalid server address %q", addr)
	}
	return &apiClient{
		base: strings.TrimRight(u.String(), "/"),
		http: httpclient.WrapClient(&http.Client{Timeout: apiTimeout}),
	}, nil
}

// triggerRun starts a run. A duplicate returns the response and a conflict
// error carrying the existing run id.
func (c *apiClient) triggerRun(ctx context.Context, req server.TriggerRunRequest) (*server.TriggerRunResponse, error) {
	var resp server.TriggerRunResponse
	status, err := c.do(ctx, http.MethodPost, "/api/runs", req, &resp)
	if err != nil {
		return nil, err
	}
	if status == http.StatusConflict {
		err := errors.NewConflictError("%s", resp.Error)
		if resp.ExistingRunID != "" {
			err = errors.WithDetailf(err, "Existing run ID: %s", resp.ExistingRunID)
		}
		return &resp, err
	}
	return &resp, nil
}

// stopRun stops a running run and returns its stopped record
func (c *apiClient) stopRun(ctx context.Context, id string) (*server.RunResponse, error) {
	var resp server.RunResponse
	if _, err := c.do(ctx, http.MethodPost, "/api/runs/"+url.PathEscape(id)+"/stop", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do sends body as JSON and decodes a 2xx or 409 reply into out. Other
// statuses become errors classified like the server classified them.
func (c *apiClient) do(ctx context.Context, method, path string, body, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, errors.Wrap(err, "failed to encode request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return 0, errors.Wrap(err, "failed to build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		err = errors.Wrapf(errors.ErrServiceUnavailable, "server at %s unreachable: %v", c.base, err)
		return 0, errors.WithHint(err, "start it with 'rankpulse serve', or pass --local to run in this process")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, errors.Wrap(err, "failed to read response")
	}

	if resp.StatusCode/100 == 2 || (resp.StatusCode == http.StatusConflict && method == http.MethodPost && path == "/api/runs") {
		if out != nil && len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return resp.StatusCode, errors.Wrap(err, "failed to decode response")
			}
		}
		return resp.StatusCode, nil
	}
	return resp.StatusCode, apiError(resp.StatusCode, data)
}

// apiError rebuilds a classified error from an ErrorResponse body
func apiError(status int, body []byte) error {
	var er server.ErrorResponse
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &er) == nil && er.Error != "" {
		msg = er.Error
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	var err error
	switch status {
	case http.StatusNotFound:
		err = errors.Wrap(errors.ErrNotFound, msg)
	case http.StatusBadRequest:
		err = errors.Wrap(errors.ErrInvalidRequest, msg)
	case http.StatusConflict:
		err = errors.Wrap(errors.ErrConflict, msg)
	case http.StatusServiceUnavailable:
		err = errors.Wrap(errors.ErrServiceUnavailable, msg)
	default:
		err = errors.Newf("server returned %d: %s", status, msg)
	}
	for _, h := range er.Hints {
		err = errors.WithHint(err, h)
	}
	for _, d := range er.Details {
		err = errors.WithDetail(err, d)
	}
	return err
}

// defaultAPIAddr is the local server address from config
func defaultAPIAddr(port int) string {
	return fmt.Sprintf("localhost:%d", port)
}
