package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

const envPrefix = "env://"

// EnvProvider resolves "env://NAME" from the process environment.
type EnvProvider struct {
	lookup func(string) (string, bool)
}

// NewEnvProvider creates an environment-backed provider.
func NewEnvProvider() *EnvProvider { return &EnvProvider{lookup: os.LookupEnv} }

func (p *EnvProvider) Scheme() string { return "env" }

func (p *EnvProvider) Resolve(_ context.Context, ref string) (string, error) {
	name, ok := strings.CutPrefix(ref, envPrefix)
	if !ok || name == "" {
		return "", fmt.Errorf("%w: malformed env reference %q", ErrNotFound, ref)
	}
	value, ok := p.lookup(name)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: environment variable %s is not set", ErrNotFound, name)
	}
	return value, nil
}
