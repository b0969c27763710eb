package secrets

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/jkaninda/ruhusa/internal/config"
)

const vaultPrefix = "vault://"

// VaultProvider reads HashiCorp Vault KV v2 secrets with token auth.
// References take the form "vault://<kv v2 api path>#<field>"; the field is
// required because config values are single strings. Each path is fetched
// once per provider.
type VaultProvider struct {
	address   string
	token     string
	namespace string
	client    *http.Client

	mu    sync.Mutex
	paths map[string]map[string]any
}

// NewVaultProvider creates a provider from the secrets.vault config section.
func NewVaultProvider(cfg *config.VaultConfig) (*VaultProvider, error) {
	if cfg == nil || cfg.Address == "" {
		return nil, fmt.Errorf("vault address is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("vault token is required")
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TLSSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for dev clusters
	}
	return &VaultProvider{
		address:   strings.TrimRight(cfg.Address, "/"),
		token:     cfg.Token,
		namespace: cfg.Namespace,
		client:    &http.Client{Timeout: cfg.Timeout(), Transport: transport},
		paths:     make(map[string]map[string]any),
	}, nil
}

func (p *VaultProvider) Scheme() string { return "vault" }

func (p *VaultProvider) Resolve(ctx context.Context, ref string) (string, error) {
	raw, ok := strings.CutPrefix(ref, vaultPrefix)
	if !ok {
		return "", fmt.Errorf("%w: malformed vault reference %q", ErrNotFound, ref)
	}
	path, field, _ := strings.Cut(raw, "#")
	if path == "" || field == "" {
		return "", fmt.Errorf("%w: vault reference %q needs a path and a #field", ErrNotFound, ref)
	}

	data, err := p.read(ctx, path)
	if err != nil {
		return "", err
	}
	val, ok := data[field]
	if !ok {
		return "", fmt.Errorf("%w: field %q not found at vault path %q", ErrNotFound, field, path)
	}
	str, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("vault field %q at %q is not a string", field, path)
	}
	return str, nil
}

func (p *VaultProvider) read(ctx context.Context, path string) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if data, ok := p.paths[path]; ok {
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.address+"/v1/"+path, nil)
	if err != nil {
		return nil, fmt.Errorf("building vault request: %w", err)
	}
	req.Header.Set("X-Vault-Token", p.token)
	if p.namespace != "" {
		req.Header.Set("X-Vault-Namespace", p.namespace)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vault request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading vault response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: vault path %q not found", ErrNotFound, path)
	case resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("vault denied access to %q", path)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("vault returned %d for %q", resp.StatusCode, path)
	}

	var envelope struct {
		Data struct {
			Data map[string]any `json:"data"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("parsing vault response: %w", err)
	}
	if envelope.Data.Data == nil {
		return nil, fmt.Errorf("%w: vault path %q returned no data", ErrNotFound, path)
	}
	p.paths[path] = envelope.Data.Data
	return envelope.Data.Data, nil
}
