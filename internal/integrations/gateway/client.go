package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"ops-agent/internal/domain"
)

const (
	// SearchToolName is the gateway's built-in semantic search tool.
	SearchToolName = "x_amz_bedrock_agentcore_search"

	// maxToolNameLength is the longest operation name model providers accept.
	maxToolNameLength = 64

	// maxListPages bounds tools/list pagination.
	maxListPages = 50
)

// TokenSource supplies the gateway bearer token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// HTTPStatusError captures non-2xx gateway responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("gateway: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// RPCError is a JSON-RPC error object returned by the gateway.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("gateway: rpc error %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      json.RawMessage  `json:"id"`
	Result  *json.RawMessage `json:"result"`
	Error   *RPCError        `json:"error"`
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type listParams struct {
	Cursor string `json:"cursor,omitempty"`
}

// searchPayload is the JSON document carried in the search tool's text content.
type searchPayload struct {
	Tools []domain.Operation `json:"tools"`
}

// Client talks to the tool gateway's MCP endpoint over JSON-RPC.
type Client struct {
	url        string
	httpClient *http.Client
	tokens     TokenSource
	nextID     atomic.Int64
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// New creates a gateway Client for the given endpoint URL.
func New(url string, tokens TokenSource, opts ...Option) (*Client, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("gateway: url must not be empty")
	}
	if tokens == nil {
		return nil, errors.New("gateway: token source must not be nil")
	}
	c := &Client{
		url:        url,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		tokens:     tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SearchOperations runs the gateway's semantic search and returns at most
// topK ranked operations. topK <= 0 returns every match.
func (c *Client) SearchOperations(ctx context.Context, query string, topK int) ([]domain.Operation, error) {
	raw, err := c.call(ctx, string(mcp.MethodToolsCall), callToolParams{
		Name:      SearchToolName,
		Arguments: map[string]any{"query": query},
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: SearchOperations: %w", err)
	}

	result, err := mcp.ParseCallToolResult(raw)
	if err != nil {
		return nil, fmt.Errorf("gateway: SearchOperations parse result: %w", err)
	}
	if result.IsError {
		return nil, fmt.Errorf("gateway: SearchOperations: tool reported error: %s", contentText(result.Content))
	}
	text := contentText(result.Content)
	if text == "" {
		return nil, errors.New("gateway: SearchOperations: empty tool content")
	}

	var payload searchPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("gateway: SearchOperations decode tools: %w", err)
	}
	ops := payload.Tools
	if topK > 0 && len(ops) > topK {
		ops = ops[:topK]
	}
	return ops, nil
}

// ListOperations pages through tools/list and returns every operation whose
// name fits provider limits.
func (c *Client) ListOperations(ctx context.Context) ([]domain.Operation, error) {
	var (
		ops    []domain.Operation
		cursor string
	)
	for page := 0; page < maxListPages; page++ {
		var params any
		if cursor != "" {
			params = listParams{Cursor: cursor}
		}
		raw, err := c.call(ctx, string(mcp.MethodToolsList), params)
		if err != nil {
			return nil, fmt.Errorf("gateway: ListOperations: %w", err)
		}

		var result mcp.ListToolsResult
		if err := json.Unmarshal(*raw, &result); err != nil {
			return nil, fmt.Errorf("gateway: ListOperations decode: %w", err)
		}
		for _, tool := range result.Tools {
			if len(tool.Name) > maxToolNameLength {
				continue
			}
			schema, err := json.Marshal(tool.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("gateway: ListOperations encode schema for %s: %w", tool.Name, err)
			}
			ops = append(ops, domain.Operation{
				Name:        tool.Name,
				Description: tool.Description,
				InputSchema: schema,
			})
		}
		cursor = string(result.NextCursor)
		if cursor == "" {
			return ops, nil
		}
	}
	return ops, nil
}

// call posts one JSON-RPC request. A 401 triggers a single token refresh and retry.
func (c *Client) call(ctx context.Context, method string, params any) (*json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: mcp.JSONRPC_VERSION,
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := c.post(ctx, body, token)
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusUnauthorized {
		fresh, refreshErr := c.tokens.Refresh(ctx)
		if refreshErr != nil {
			return nil, fmt.Errorf("refresh token: %w", refreshErr)
		}
		raw, err = c.post(ctx, body, fresh)
	}
	if err != nil {
		return nil, err
	}

	var resp rpcResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	if resp.Result == nil {
		return nil, errors.New("response has no result")
	}
	return resp.Result, nil
}

func (c *Client) post(ctx context.Context, body []byte, token string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	httpClient := c.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	res, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{StatusCode: res.StatusCode, URL: c.url, Body: string(buf)}
	}
	buf, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

func contentText(content []mcp.Content) string {
	for _, c := range content {
		if text, ok := mcp.AsTextContent(c); ok {
			return text.Text
		}
	}
	return ""
}
