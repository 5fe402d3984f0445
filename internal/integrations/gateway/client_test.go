package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeTokens struct {
	mu        sync.Mutex
	token     string
	refreshed string
	err       error
	refreshes int
}

func (f *fakeTokens) Token(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, f.err
}

func (f *fakeTokens) Refresh(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.err != nil {
		return "", f.err
	}
	f.token = f.refreshed
	return f.token, nil
}

type rpcCall struct {
	Method string          `json:"method"`
	ID     int64           `json:"id"`
	Params json.RawMessage `json:"params"`
	Auth   string          `json:"-"`
}

func decodeCall(t *testing.T, r *http.Request) rpcCall {
	t.Helper()
	var c rpcCall
	require.NoError(t, json.NewDecoder(r.Body).Decode(&c))
	c.Auth = r.Header.Get("Authorization")
	return c
}

func writeResult(w http.ResponseWriter, id int64, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
}

func searchResult(tools ...map[string]any) map[string]any {
	text, _ := json.Marshal(map[string]any{"tools": tools})
	return map[string]any{"content": []any{map[string]any{"type": "text", "text": string(text)}}}
}

func newTestClient(t *testing.T, srv *httptest.Server, tokens TokenSource) *Client {
	t.Helper()
	c, err := New(srv.URL, tokens, WithHTTPClient(&http.Client{Timeout: 2 * time.Second}))
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(" ", &fakeTokens{})
	require.ErrorContains(t, err, "url must not be empty")

	_, err = New("https://gw.example.com/mcp", nil)
	require.ErrorContains(t, err, "must not be nil")
}

func TestSearchOperations_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := decodeCall(t, r)
		require.Equal(t, "tools/call", call.Method)
		require.Equal(t, "Bearer tok-1", call.Auth)
		require.JSONEq(t, `{"name":"x_amz_bedrock_agentcore_search","arguments":{"query":"s3 list buckets"}}`, string(call.Params))
		writeResult(w, call.ID, searchResult(
			map[string]any{"name": "s3___ListBuckets", "description": "List buckets", "inputSchema": map[string]any{"type": "object"}},
			map[string]any{"name": "s3___GetBucketPolicy", "description": "Get policy"},
			map[string]any{"name": "s3___GetBucketAcl", "description": "Get ACL"},
		))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &fakeTokens{token: "tok-1"})
	ops, err := c.SearchOperations(context.Background(), "s3 list buckets", 2)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	require.Equal(t, "s3___ListBuckets", ops[0].Name)
	require.Equal(t, "List buckets", ops[0].Description)
	require.JSONEq(t, `{"type":"object"}`, string(ops[0].InputSchema))
	require.Equal(t, "s3___GetBucketPolicy", ops[1].Name)
}

func TestSearchOperations_RefreshesTokenOn401(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		call := decodeCall(t, r)
		if call.Auth != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"expired"}`))
			return
		}
		writeResult(w, call.ID, searchResult(map[string]any{"name": "lambda___GetFunction"}))
	}))
	defer srv.Close()

	tokens := &fakeTokens{token: "stale", refreshed: "fresh"}
	c := newTestClient(t, srv, tokens)
	ops, err := c.SearchOperations(context.Background(), "lambda", 10)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Equal(t, 1, tokens.refreshes)
	require.Equal(t, 2, calls)
}

func TestSearchOperations_SecondUnauthorizedFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tokens := &fakeTokens{token: "stale", refreshed: "still-bad"}
	c := newTestClient(t, srv, tokens)
	_, err := c.SearchOperations(context.Background(), "lambda", 10)
	require.Error(t, err)
	require.Equal(t, 1, tokens.refreshes)

	var statusErr interface{ HTTPStatusCode() int }
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusUnauthorized, statusErr.HTTPStatusCode())
}

func TestSearchOperations_RefreshError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &refreshFails{fakeTokens: &fakeTokens{token: "stale"}})
	_, err := c.SearchOperations(context.Background(), "lambda", 10)
	require.ErrorContains(t, err, "refresh token")
}

type refreshFails struct{ *fakeTokens }

func (r *refreshFails) Refresh(context.Context) (string, error) {
	return "", errors.New("ssm down")
}

func TestSearchOperations_RPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := decodeCall(t, r)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0", "id": call.ID,
			"error": map[string]any{"code": -32601, "message": "method not found"},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &fakeTokens{token: "t"})
	_, err := c.SearchOperations(context.Background(), "q", 10)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, -32601, rpcErr.Code)
}

func TestSearchOperations_BadContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := decodeCall(t, r)
		writeResult(w, call.ID, map[string]any{"content": []any{map[string]any{"type": "text", "text": "not json"}}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &fakeTokens{token: "t"})
	_, err := c.SearchOperations(context.Background(), "q", 10)
	require.ErrorContains(t, err, "decode tools")
}

func TestSearchOperations_ToolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := decodeCall(t, r)
		writeResult(w, call.ID, map[string]any{
			"isError": true,
			"content": []any{map[string]any{"type": "text", "text": "index unavailable"}},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &fakeTokens{token: "t"})
	_, err := c.SearchOperations(context.Background(), "q", 10)
	require.ErrorContains(t, err, "index unavailable")
}

func TestListOperations_PaginatesAndSkipsLongNames(t *testing.T) {
	longName := strings.Repeat("x", 65)
	var cursors []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := decodeCall(t, r)
		require.Equal(t, "tools/list", call.Method)
		var p struct {
			Cursor string `json:"cursor"`
		}
		if len(call.Params) > 0 {
			require.NoError(t, json.Unmarshal(call.Params, &p))
		}
		cursors = append(cursors, p.Cursor)
		switch p.Cursor {
		case "":
			writeResult(w, call.ID, map[string]any{
				"tools": []any{
					map[string]any{"name": "ec2___DescribeInstances", "description": "Describe", "inputSchema": map[string]any{"type": "object"}},
					map[string]any{"name": longName, "inputSchema": map[string]any{"type": "object"}},
				},
				"nextCursor": "page-2",
			})
		case "page-2":
			writeResult(w, call.ID, map[string]any{
				"tools": []any{
					map[string]any{"name": "logs___FilterLogEvents", "inputSchema": map[string]any{"type": "object"}},
				},
			})
		default:
			t.Errorf("unexpected cursor %q", p.Cursor)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &fakeTokens{token: "t"})
	ops, err := c.ListOperations(context.Background())
	require.NoError(t, err)
	require.Len(t, ops, 2)
	require.Equal(t, "ec2___DescribeInstances", ops[0].Name)
	require.Equal(t, "logs___FilterLogEvents", ops[1].Name)
	require.Contains(t, string(ops[0].InputSchema), `"type":"object"`)
	require.Equal(t, []string{"", "page-2"}, cursors)
}

func TestListOperations_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &fakeTokens{token: "t"})
	_, err := c.ListOperations(context.Background())
	require.ErrorContains(t, err, "502")
}

func TestCall_TokenError(t *testing.T) {
	c, err := New("http://127.0.0.1:1", &fakeTokens{err: errors.New("no token")})
	require.NoError(t, err)
	_, err = c.SearchOperations(context.Background(), "q", 1)
	require.ErrorContains(t, err, "no token")
}

func TestCall_IDsIncrease(t *testing.T) {
	var ids []int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := decodeCall(t, r)
		ids = append(ids, call.ID)
		writeResult(w, call.ID, searchResult())
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &fakeTokens{token: "t"})
	for i := 0; i < 3; i++ {
		_, err := c.SearchOperations(context.Background(), fmt.Sprint(i), 5)
		require.NoError(t, err)
	}
	require.Equal(t, []int64{1, 2, 3}, ids)
}
