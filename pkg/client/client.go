package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/rccal/pkg/types"
)

// Client talks to the rccal daemon over its unix socket.
type Client struct {
	socketPath string
	httpClient *http.Client
}

func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					conn, err := d.DialContext(ctx, "unix", socketPath)
					if err != nil {
						if errors.Is(err, os.ErrNotExist) {
							return nil, ErrDaemonNotRunning
						}
						if errors.Is(err, os.ErrPermission) {
							return nil, ErrPermissionDenied
						}
						logrus.Errorf("failed to connect to unix socket: %v", err)
						return nil, err
					}
					return conn, nil
				},
			},
		},
	}
}

// Send sends a request and returns the response body of a 2xx reply. Error
// replies are decoded into their message.
func (c *Client) Send(method string, path string, data string) (string, error) {
	logrus.WithFields(logrus.Fields{
		"method": method,
		"path":   path,
		"data":   data,
		"unix":   c.socketPath,
	}).Debug("sending request")

	var body io.Reader
	if data != "" {
		body = strings.NewReader(data)
	}
	req, err := http.NewRequest(method, "http://unix"+path, body)
	if err != nil {
		return "", pkgerrors.Wrap(err, "failed to create request")
	}
	if data != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", pkgerrors.Wrap(err, "failed to send request")
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logrus.Errorf("failed to close response body: %v", err)
		}
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", pkgerrors.Wrap(err, "failed to read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", responseError(resp.StatusCode, b)
	}

	return string(b), nil
}

func responseError(code int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var e types.ErrorResponse
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		msg = e.Error
	}

	switch code {
	case http.StatusNotFound:
		return pkgerrors.Wrap(ErrNotFound, msg)
	case http.StatusConflict:
		return pkgerrors.Wrap(ErrBusy, msg)
	}
	return pkgerrors.Errorf("got %d: %s", code, msg)
}

func (c *Client) Get(path string) (string, error) {
	return c.Send(http.MethodGet, path, "")
}

func (c *Client) Post(path string, data string) (string, error) {
	return c.Send(http.MethodPost, path, data)
}

func (c *Client) Put(path string, data string) (string, error) {
	return c.Send(http.MethodPut, path, data)
}
