package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Getter reads a parameter value. *paramstore.Client satisfies it.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// ParamToken serves the gateway bearer token from SSM. The value is cached
// until Refresh re-reads it.
type ParamToken struct {
	getter Getter
	name   string

	mu    sync.Mutex
	token string
}

// NewParamToken creates a token source reading the named parameter.
func NewParamToken(getter Getter, name string) (*ParamToken, error) {
	if getter == nil {
		return nil, errors.New("gateway: paramstore getter must not be nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("gateway: token parameter name must not be empty")
	}
	return &ParamToken{getter: getter, name: name}, nil
}

// Token returns the cached token, reading it on first use.
func (p *ParamToken) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != "" {
		return p.token, nil
	}
	return p.fetchLocked(ctx)
}

// Refresh discards the cached token and reads it again.
func (p *ParamToken) Refresh(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = ""
	return p.fetchLocked(ctx)
}

func (p *ParamToken) fetchLocked(ctx context.Context) (string, error) {
	raw, err := p.getter.GetParameter(ctx, p.name)
	if err != nil {
		return "", fmt.Errorf("gateway: fetch token: %w", err)
	}
	token, err := parseToken(raw)
	if err != nil {
		return "", err
	}
	p.token = token
	return token, nil
}

// parseToken accepts either {"token": "..."} or the bare token string.
func parseToken(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var tp struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal([]byte(raw), &tp); err != nil {
			return "", fmt.Errorf("gateway: unmarshal token value as JSON: %w", err)
		}
		raw = strings.TrimSpace(tp.Token)
	}
	if raw == "" {
		return "", errors.New("gateway: token is empty")
	}
	return raw, nil
}
