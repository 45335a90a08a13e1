package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	fspath "path"
	"time"

	"github.com/andydunstall/glomers/node"
)

// Client queries the admin status API of a node.
type Client struct {
	httpClient *http.Client

	url *url.URL
}

func NewClient(url *url.URL) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: time.Second * 15,
		},
		url: url,
	}
}

func (c *Client) Node() (*node.Snapshot, error) {
	r, err := c.request("/status/node")
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var snapshot node.Snapshot
	if err := json.NewDecoder(r).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &snapshot, nil
}

func (c *Client) NodeValues() ([]uint64, error) {
	r, err := c.request("/status/node/values")
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var values []uint64
	if err := json.NewDecoder(r).Decode(&values); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return values, nil
}

func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) request(path string) (io.ReadCloser, error) {
	url := new(url.URL)
	*url = *c.url

	url.Path = fspath.Join(url.Path, path)

	req, err := http.NewRequest(http.MethodGet, url.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()

		return nil, fmt.Errorf("request: bad status: %d", resp.StatusCode)
	}

	return resp.Body, nil
}
