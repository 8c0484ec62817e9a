package model

import (
	"context"
	"fmt"
	"time"

	"github.com/fastapi-guard/agent-go/secret"
)

const (
	defaultEndpoint       = "https://api.fastapi-guard.com"
	defaultBufferSize     = 100
	defaultFlushInterval  = 30 * time.Second
	defaultRetryAttempts  = 3
	defaultBackoffFactor  = 1.0
	defaultTimeout        = 30 * time.Second
	defaultMaxPayloadSize = 1024
	defaultAgentVersion   = "1.0.0"
)

func defaultSensitiveHeaders() map[string]struct{} {
	return map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"x-api-key":     {},
	}
}

// AgentConfig is the agent's configuration, built and validated by
// LoadConfig. Its fields are exported and nothing freezes them: a
// caller can still change a value after construction. The agent
// registry returns ConfigConflict when a configuration under an
// existing Key is not Equal to the one it holds.
type AgentConfig struct {
	APIKey           string
	ProjectID        string
	Endpoint         string
	BufferSize       int
	FlushInterval    time.Duration
	EnableEvents     bool
	EnableMetrics    bool
	RetryAttempts    int
	BackoffFactor    float64
	Timeout          time.Duration
	SensitiveHeaders map[string]struct{}
	MaxPayloadSize   int
	Version          string
}

// Key returns the tuple a registry uses to identify this configuration.
func (c *AgentConfig) Key() string {
	return c.APIKey + "|" + c.ProjectID + "|" + c.Endpoint
}

// Equal reports whether two configurations are identical in every
// field a registry cares about when deciding whether a second
// construction conflicts with the first.
func (c *AgentConfig) Equal(other *AgentConfig) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.APIKey == other.APIKey &&
		c.ProjectID == other.ProjectID &&
		c.Endpoint == other.Endpoint &&
		c.BufferSize == other.BufferSize &&
		c.FlushInterval == other.FlushInterval &&
		c.EnableEvents == other.EnableEvents &&
		c.EnableMetrics == other.EnableMetrics &&
		c.RetryAttempts == other.RetryAttempts &&
		c.BackoffFactor == other.BackoffFactor &&
		c.Timeout == other.Timeout &&
		c.MaxPayloadSize == other.MaxPayloadSize
}

// LoadConfig builds an AgentConfig from a raw configuration map (as a
// host process would decode from environment, file or framework
// settings), applying defaults and resolving api_key/endpoint through
// resolver so a literal credential never needs to appear in the raw
// map. raw is read, never retained.
func LoadConfig(ctx context.Context, raw map[string]any, resolver *secret.Resolver) (*AgentConfig, error) {
	cfg := &AgentConfig{
		Endpoint:         defaultEndpoint,
		BufferSize:       defaultBufferSize,
		FlushInterval:    defaultFlushInterval,
		EnableEvents:     true,
		EnableMetrics:    true,
		RetryAttempts:    defaultRetryAttempts,
		BackoffFactor:    defaultBackoffFactor,
		Timeout:          defaultTimeout,
		SensitiveHeaders: defaultSensitiveHeaders(),
		MaxPayloadSize:   defaultMaxPayloadSize,
		Version:          defaultAgentVersion,
	}

	apiKey, err := stringField(raw, "api_key", true)
	if err != nil {
		return nil, err
	}
	resolvedKey, err := resolver.ResolveValue(ctx, apiKey)
	if err != nil {
		return nil, newConfigError("api_key", err.Error())
	}
	cfg.APIKey = resolvedKey

	projectID, err := stringField(raw, "project_id", true)
	if err != nil {
		return nil, err
	}
	cfg.ProjectID = projectID

	if _, ok := raw["endpoint"]; ok {
		endpoint, err := stringField(raw, "endpoint", false)
		if err != nil {
			return nil, err
		}
		if endpoint != "" {
			resolved, err := resolver.ResolveValue(ctx, endpoint)
			if err != nil {
				return nil, newConfigError("endpoint", err.Error())
			}
			cfg.Endpoint = resolved
		}
	}

	if v, ok := raw["buffer_size"]; ok {
		n, err := intField("buffer_size", v)
		if err != nil {
			return nil, err
		}
		if n <= 0 {
			return nil, newConfigError("buffer_size", "must be positive")
		}
		cfg.BufferSize = n
	}

	if v, ok := raw["flush_interval"]; ok {
		secs, err := floatField("flush_interval", v)
		if err != nil {
			return nil, err
		}
		if secs <= 0 {
			return nil, newConfigError("flush_interval", "must be positive")
		}
		cfg.FlushInterval = time.Duration(secs * float64(time.Second))
	}

	if v, ok := raw["enable_events"]; ok {
		b, err := boolField("enable_events", v)
		if err != nil {
			return nil, err
		}
		cfg.EnableEvents = b
	}

	if v, ok := raw["enable_metrics"]; ok {
		b, err := boolField("enable_metrics", v)
		if err != nil {
			return nil, err
		}
		cfg.EnableMetrics = b
	}

	if v, ok := raw["retry_attempts"]; ok {
		n, err := intField("retry_attempts", v)
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, newConfigError("retry_attempts", "must not be negative")
		}
		cfg.RetryAttempts = n
	}

	if v, ok := raw["backoff_factor"]; ok {
		f, err := floatField("backoff_factor", v)
		if err != nil {
			return nil, err
		}
		if f <= 0 {
			return nil, newConfigError("backoff_factor", "must be positive")
		}
		cfg.BackoffFactor = f
	}

	if v, ok := raw["timeout"]; ok {
		secs, err := floatField("timeout", v)
		if err != nil {
			return nil, err
		}
		if secs <= 0 {
			return nil, newConfigError("timeout", "must be positive")
		}
		cfg.Timeout = time.Duration(secs * float64(time.Second))
	}

	if v, ok := raw["max_payload_size"]; ok {
		n, err := intField("max_payload_size", v)
		if err != nil {
			return nil, err
		}
		if n <= 0 {
			return nil, newConfigError("max_payload_size", "must be positive")
		}
		cfg.MaxPayloadSize = n
	}

	if v, ok := raw["sensitive_headers"]; ok {
		headers, err := stringSliceField("sensitive_headers", v)
		if err != nil {
			return nil, err
		}
		set := make(map[string]struct{}, len(headers))
		for _, h := range headers {
			set[h] = struct{}{}
		}
		cfg.SensitiveHeaders = set
	}

	if _, ok := raw["version"]; ok {
		s, err := stringField(raw, "version", false)
		if err != nil {
			return nil, err
		}
		if s != "" {
			cfg.Version = s
		}
	}

	return cfg, nil
}

func stringField(raw map[string]any, key string, required bool) (string, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		if required {
			return "", newConfigError(key, "is required")
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", newConfigError(key, "must be a string")
	}
	if required && s == "" {
		return "", newConfigError(key, "must not be empty")
	}
	return s, nil
}

func intField(key string, v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, newConfigError(key, fmt.Sprintf("must be a number, got %T", v))
	}
}

func floatField(key string, v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, newConfigError(key, fmt.Sprintf("must be a number, got %T", v))
	}
}

func boolField(key string, v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, newConfigError(key, fmt.Sprintf("must be a bool, got %T", v))
	}
	return b, nil
}

func stringSliceField(key string, v any) ([]string, error) {
	items, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			return ss, nil
		}
		return nil, newConfigError(key, fmt.Sprintf("must be a list of strings, got %T", v))
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, newConfigError(key, "must be a list of strings")
		}
		out = append(out, s)
	}
	return out, nil
}
