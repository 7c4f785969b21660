package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/renjiyun06/mosaic-sub001/internal/fault"
)

// HTTPClient makes REST calls to the mosaic backend.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a client targeting the given base URL (e.g.
// "http://127.0.0.1:8080").
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// ListMosaics fetches /api/mosaics.
func (c *HTTPClient) ListMosaics(ctx context.Context) ([]Mosaic, error) {
	var out []Mosaic
	if err := c.get(ctx, "/api/mosaics", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListNodes fetches all nodes of a mosaic.
func (c *HTTPClient) ListNodes(ctx context.Context, mosaicID string) ([]Node, error) {
	var out []Node
	if err := c.get(ctx, "/api/mosaics/"+url.PathEscape(mosaicID)+"/nodes", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListConnections fetches all connections of a mosaic.
func (c *HTTPClient) ListConnections(ctx context.Context, mosaicID string) ([]Connection, error) {
	var out []Connection
	if err := c.get(ctx, "/api/mosaics/"+url.PathEscape(mosaicID)+"/connections", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateNode sends POST /api/mosaics/{id}/nodes.
func (c *HTTPClient) CreateNode(ctx context.Context, mosaicID string, req NodeRequest) (*Node, error) {
	var out Node
	if err := c.post(ctx, "/api/mosaics/"+url.PathEscape(mosaicID)+"/nodes", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateNode sends PUT /api/nodes/{id}.
func (c *HTTPClient) UpdateNode(ctx context.Context, nodeID string, req NodeRequest) (*Node, error) {
	var out Node
	if err := c.do(ctx, http.MethodPut, "/api/nodes/"+url.PathEscape(nodeID), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteNode sends DELETE /api/nodes/{id}.
func (c *HTTPClient) DeleteNode(ctx context.Context, nodeID string) error {
	return c.do(ctx, http.MethodDelete, "/api/nodes/"+url.PathEscape(nodeID), nil, nil)
}

// GetNodeCounts fetches the session and connection counts for a node.
func (c *HTTPClient) GetNodeCounts(ctx context.Context, nodeID string) (*NodeCounts, error) {
	var out NodeCounts
	if err := c.get(ctx, "/api/nodes/"+url.PathEscape(nodeID)+"/counts", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateConnection sends POST /api/mosaics/{id}/connections.
func (c *HTTPClient) CreateConnection(ctx context.Context, mosaicID string, req ConnectionRequest) (*Connection, error) {
	var out Connection
	if err := c.post(ctx, "/api/mosaics/"+url.PathEscape(mosaicID)+"/connections", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteConnection sends DELETE /api/connections/{id}.
func (c *HTTPClient) DeleteConnection(ctx context.Context, connectionID string) error {
	return c.do(ctx, http.MethodDelete, "/api/connections/"+url.PathEscape(connectionID), nil, nil)
}

// CreateSession sends POST /api/nodes/{id}/sessions. The returned session
// id is confirmed later by a session_started notification; callers arm a
// correlation before issuing this command.
func (c *HTTPClient) CreateSession(ctx context.Context, nodeID string) (*CreateSessionResponse, error) {
	var out CreateSessionResponse
	if err := c.post(ctx, "/api/nodes/"+url.PathEscape(nodeID)+"/sessions", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StopSession sends DELETE /api/sessions/{id}.
func (c *HTTPClient) StopSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(sessionID), nil, nil)
}

// ListDir fetches a workspace directory listing.
func (c *HTTPClient) ListDir(ctx context.Context, path string) ([]DirEntry, error) {
	var out []DirEntry
	if err := c.get(ctx, "/api/workspace/dir?path="+url.QueryEscape(path), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FileContent fetches the content of a workspace file.
func (c *HTTPClient) FileContent(ctx context.Context, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/workspace/file?path="+url.QueryEscape(path), nil)
	if err != nil {
		return "", err
	}
	c.setAuth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return "", &fault.TransportError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", commandError(resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return &fault.TransportError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return commandError(resp)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// commandError turns a rejection response into a CommandError. The backend
// answers rejections with {"code","message"}; anything else becomes a
// generic message carrying the raw body.
func commandError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	cmdErr := &fault.CommandError{Status: resp.StatusCode}
	if err := json.Unmarshal(body, cmdErr); err != nil || cmdErr.Message == "" {
		cmdErr.Message = fmt.Sprintf("%s (%d)", string(bytes.TrimSpace(body)), resp.StatusCode)
	}
	return cmdErr
}

func (c *HTTPClient) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
