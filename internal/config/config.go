// Package config loads process settings from the environment and the
// runtime settings stored in SSM Parameter Store.
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds settings read from environment variables.
type Config struct {
	StateTable       string
	ParamPrefix      string
	HistoryTurns     int
	MaxPromptLength  int
	ModelTimeout     time.Duration
	DiscoveryTimeout time.Duration
	SemanticSearch   bool
	OpenAIBaseURL    string
	LogDebug         bool
	LogFormat        string
}

// Load reads Config from the environment.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	return load(v)
}

func load(v *viper.Viper) (Config, error) {
	v.SetDefault("history_turns", 3)
	v.SetDefault("max_prompt_length", 2000)
	v.SetDefault("model_timeout", 60*time.Second)
	v.SetDefault("discovery_timeout", 15*time.Second)
	v.SetDefault("semantic_search", true)
	v.SetDefault("log_format", "json")

	cfg := Config{
		StateTable:       strings.TrimSpace(v.GetString("state_table")),
		ParamPrefix:      strings.TrimRight(strings.TrimSpace(v.GetString("param_prefix")), "/"),
		HistoryTurns:     v.GetInt("history_turns"),
		MaxPromptLength:  v.GetInt("max_prompt_length"),
		ModelTimeout:     v.GetDuration("model_timeout"),
		DiscoveryTimeout: v.GetDuration("discovery_timeout"),
		SemanticSearch:   v.GetBool("semantic_search"),
		OpenAIBaseURL:    strings.TrimSpace(v.GetString("openai_base_url")),
		LogDebug:         v.GetBool("log_debug"),
		LogFormat:        strings.TrimSpace(v.GetString("log_format")),
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.ParamPrefix == "" {
		return errors.New("config: PARAM_PREFIX is required")
	}
	if c.HistoryTurns < 0 {
		return fmt.Errorf("config: HISTORY_TURNS must not be negative, got %d", c.HistoryTurns)
	}
	if c.MaxPromptLength <= 0 {
		return fmt.Errorf("config: MAX_PROMPT_LENGTH must be positive, got %d", c.MaxPromptLength)
	}
	if c.ModelTimeout <= 0 {
		return errors.New("config: MODEL_TIMEOUT must be positive")
	}
	if c.DiscoveryTimeout <= 0 {
		return errors.New("config: DISCOVERY_TIMEOUT must be positive")
	}
	return nil
}

// BatchGetter reads several SSM parameters at once.
type BatchGetter interface {
	GetParameters(ctx context.Context, names ...string) (map[string]string, error)
}

// Runtime is the immutable runtime configuration loaded once at startup and
// injected into collaborators.
type Runtime struct {
	Model             string
	GatewayURL        string
	GatewayTokenParam string
}

// LoadRuntime reads the model id and gateway URL under prefix. The gateway
// token itself is read lazily through GatewayTokenParam.
func LoadRuntime(ctx context.Context, params BatchGetter, prefix string) (Runtime, error) {
	if params == nil {
		return Runtime{}, errors.New("config: params must not be nil")
	}
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return Runtime{}, errors.New("config: parameter prefix must not be empty")
	}

	modelParam := prefix + "/config/model"
	urlParam := prefix + "/gateway/url"
	values, err := params.GetParameters(ctx, modelParam, urlParam)
	if err != nil {
		return Runtime{}, fmt.Errorf("config: LoadRuntime: %w", err)
	}

	rt := Runtime{
		Model:             strings.TrimSpace(values[modelParam]),
		GatewayURL:        strings.TrimSpace(values[urlParam]),
		GatewayTokenParam: prefix + "/gateway/token",
	}
	if rt.Model == "" {
		return Runtime{}, fmt.Errorf("config: LoadRuntime: %s is empty", modelParam)
	}
	if rt.GatewayURL == "" {
		return Runtime{}, fmt.Errorf("config: LoadRuntime: %s is empty", urlParam)
	}
	return rt, nil
}
