package secret

import (
	"context"
	"fmt"
	"os"
)

// EnvProvider resolves secret references against process environment
// variables. It is registered under the name "env" in DefaultRegistry.
type EnvProvider struct{}

// NewEnvProvider creates an EnvProvider.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{}
}

// Name returns the provider name used in secretref:env:<ref> references.
func (p *EnvProvider) Name() string {
	return "env"
}

// Resolve looks up ref as an environment variable name.
func (p *EnvProvider) Resolve(_ context.Context, ref string) (string, error) {
	v, ok := os.LookupEnv(ref)
	if !ok {
		return "", fmt.Errorf("secret: environment variable %q is not set", ref)
	}
	return v, nil
}

// Close is a no-op; EnvProvider holds no resources.
func (p *EnvProvider) Close() error {
	return nil
}

var _ Provider = (*EnvProvider)(nil)

func init() {
	_ = DefaultRegistry.Register("env", func(map[string]any) (Provider, error) {
		return NewEnvProvider(), nil
	})
}
