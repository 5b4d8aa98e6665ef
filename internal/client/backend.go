// Package client talks to a running formrelay server.
package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"formrelay/pkg/api"
)

// Client calls the server's form endpoints.
type Client struct {
	baseURL string
	http    *http.Client
}

// New validates baseURL and returns a client for it.
func New(baseURL string) (*Client, error) {
	baseURL = strings.NewReplacer("\r", "", "\n", "").Replace(baseURL)
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", baseURL, err)
	}
	return &Client{baseURL: baseURL, http: newHTTPClient()}, nil
}

// newHTTPClient returns an HTTP client that respects proxy environment variables
// (HTTP_PROXY, HTTPS_PROXY, NO_PROXY)
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 2 * time.Minute,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
		},
	}
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		var apiErr api.ErrorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned status: %s; error: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("server returned status: %s; error: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
