// Package client is a typed HTTP client for the hydra block API.
package client

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

	"github.com/hydranotes/hydra/pkg/identity"
	"github.com/hydranotes/hydra/pkg/projection"
	"github.com/hydranotes/hydra/pkg/tree"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("hydra: %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("hydra: %d %s: %s", e.Status, e.Kind, e.Message)
}

// Client calls the hydra API at URL, authenticating with Token.
type Client struct {
	// URL is the server base URL, e.g. http://localhost:8080.
	URL   string
	Token string
	HTTP  *http.Client
}

// New creates a client. A nil httpClient means http.DefaultClient.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{URL: strings.TrimRight(baseURL, "/"), Token: token, HTTP: httpClient}
}

// Health is the health endpoint response.
type Health struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Store    string `json:"store"`
	ReadOnly bool   `json:"read_only"`
	Time     string `json:"time"`
}

// ListOptions selects a page of blocks. An empty ParentID lists roots, "all" lists
// every block. Zero Limit means the server default.
type ListOptions struct {
	ParentID string
	Limit    int
	Offset   int
}

func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) Me(ctx context.Context) (*identity.User, error) {
	var u identity.User
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Verification is the response of Verify.
type Verification struct {
	User      identity.User `json:"user"`
	IsNewUser bool          `json:"is_new_user"`
}

// Verify confirms the token after sign-in.
func (c *Client) Verify(ctx context.Context) (*Verification, error) {
	var v Verification
	if err := c.do(ctx, http.MethodPost, "/api/auth/verify", nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
}

func (c *Client) ListBlocks(ctx context.Context, opts ListOptions) (*projection.ListResponse, error) {
	q := url.Values{}
	if opts.ParentID != "" {
		q.Set("parent_id", opts.ParentID)
	}
	if opts.Limit != 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset != 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	path := "/api/blocks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var list projection.ListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *Client) GetBlock(ctx context.Context, id string) (*projection.BlockResponse, error) {
	var b projection.BlockResponse
	if err := c.do(ctx, http.MethodGet, blockPath(id, ""), nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBlockTree returns the block and its descendants. Zero maxDepth means the server
// default.
func (c *Client) GetBlockTree(ctx context.Context, id string, maxDepth int) (*projection.TreeResponse, error) {
	path := blockPath(id, "/tree")
	if maxDepth != 0 {
		path += "?max_depth=" + strconv.Itoa(maxDepth)
	}
	var t projection.TreeResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) GetChildren(ctx context.Context, id string) (*projection.ListResponse, error) {
	var list projection.ListResponse
	if err := c.do(ctx, http.MethodGet, blockPath(id, "/children"), nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *Client) CreateBlock(ctx context.Context, req tree.CreateRequest) (*projection.BlockResponse, error) {
	var b projection.BlockResponse
	if err := c.do(ctx, http.MethodPost, "/api/blocks", req, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// UpdateBlock sends only the fields set in req, so unset fields are left untouched.
func (c *Client) UpdateBlock(ctx context.Context, id string, req tree.UpdateRequest) (*projection.BlockResponse, error) {
	var b projection.BlockResponse
	if err := c.do(ctx, http.MethodPatch, blockPath(id, ""), updateBody(req), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) MoveBlock(ctx context.Context, id string, req tree.MoveRequest) (*projection.BlockResponse, error) {
	var b projection.BlockResponse
	if err := c.do(ctx, http.MethodPost, blockPath(id, "/move"), req, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) DeleteBlock(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, blockPath(id, ""), nil, nil)
}

func blockPath(id, suffix string) string {
	return "/api/blocks/" + url.PathEscape(id) + suffix
}

// updateBody keeps the present fields of req. A present nil value is sent as null.
func updateBody(req tree.UpdateRequest) map[string]any {
	body := map[string]any{}
	if v, ok := req.Content.Get(); ok {
		body["content"] = v
	}
	if v, ok := req.BlockType.Get(); ok {
		body["block_type"] = v
	}
	if v, ok := req.BlockProps.Get(); ok {
		body["block_props"] = v
	}
	if v, ok := req.UIState.Get(); ok {
		body["ui_state"] = v
	}
	return body
}

// do sends the request and decodes a 2xx JSON response into out, if out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var e struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			apiErr.Kind, apiErr.Message = e.Kind, e.Error
		} else {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
