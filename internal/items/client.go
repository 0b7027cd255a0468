package items

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
)

const optFields = "name,notes,completed,due_on,assignee.name"

// ClientConfig configures the HTTP client for the item service.
type ClientConfig struct {
	BaseURL   string
	Token     string
	Workspace string
	// Project is the default project listed when Filter.Project is empty.
	Project string
	Timeout time.Duration
}

// Client talks to the item service's REST API. It implements Service.
type Client struct {
	cfg  ClientConfig
	http *http.Client
}

var _ Service = (*Client)(nil)

func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("items: base_url is required")
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("items: token is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: &http.Client{Timeout: timeout}}, nil
}

func (c *Client) GetItem(ctx context.Context, gid string) (*Item, error) {
	var out struct {
		Data Item `json:"data"`
	}
	q := url.Values{"opt_fields": {optFields}}
	if err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(gid), q, nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func (c *Client) ListItems(ctx context.Context, f Filter) ([]Item, error) {
	q := url.Values{"opt_fields": {optFields}}
	path := ""
	switch {
	case f.Assignee != "":
		path = "/tasks"
		q.Set("assignee", f.Assignee)
		q.Set("workspace", c.cfg.Workspace)
	case f.Project != "":
		path = "/projects/" + url.PathEscape(f.Project) + "/tasks"
	case c.cfg.Project != "":
		path = "/projects/" + url.PathEscape(c.cfg.Project) + "/tasks"
	default:
		return nil, fmt.Errorf("items: no project in filter and no default project configured")
	}

	var out struct {
		Data []Item `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, path, q, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) RegisterWebhook(ctx context.Context, targetURL string, filters []EventFilter) (string, error) {
	resource := c.cfg.Project
	if resource == "" {
		resource = c.cfg.Workspace
	}
	body := map[string]any{
		"data": map[string]any{
			"resource": resource,
			"target":   targetURL,
			"filters":  filters,
		},
	}
	var out struct {
		Data struct {
			GID string `json:"gid"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/webhooks", nil, body, &out); err != nil {
		return "", err
	}
	return out.Data.GID, nil
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, result any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("items: encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	u := c.cfg.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("items: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrForbidden, path)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("items: %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("items: decode response: %w", err)
		}
	}
	return nil
}
