package secrets

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jkaninda/ruhusa/internal/config"
)

// FromConfig builds a Resolver with the env provider and, when configured,
// the Vault provider.
func FromConfig(cfg *config.Config) (*Resolver, error) {
	providers := []Provider{NewEnvProvider()}
	if cfg.Secrets != nil && cfg.Secrets.Vault != nil {
		vp, err := NewVaultProvider(cfg.Secrets.Vault)
		if err != nil {
			return nil, fmt.Errorf("vault secrets: %w", err)
		}
		providers = append(providers, vp)
	}
	return NewResolver(providers...), nil
}

// ResolveConfig replaces every secret reference in cfg with its value.
// API key mapping keys are resolved too; the employee IDs they map to are not.
func ResolveConfig(ctx context.Context, r *Resolver, cfg *config.Config, logger *slog.Logger) error {
	for name, field := range secretFields(cfg) {
		if !IsReference(*field) {
			continue
		}
		v, err := r.Resolve(ctx, *field)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", name, err)
		}
		*field = v
		logger.Debug("secret resolved", slog.String("field", name))
	}

	if n := cfg.Notification; n != nil && n.Webhook != nil {
		for h, v := range n.Webhook.Headers {
			resolved, err := r.Resolve(ctx, v)
			if err != nil {
				return fmt.Errorf("resolving notification.webhook.headers.%s: %w", h, err)
			}
			n.Webhook.Headers[h] = resolved
		}
	}

	if cfg.Gateways.HTTP != nil && len(cfg.Gateways.HTTP.APIKeyUserMapping) > 0 {
		resolved := make(map[string]string, len(cfg.Gateways.HTTP.APIKeyUserMapping))
		for key, employeeID := range cfg.Gateways.HTTP.APIKeyUserMapping {
			v, err := r.Resolve(ctx, key)
			if err != nil {
				return fmt.Errorf("resolving API key for %s: %w", employeeID, err)
			}
			resolved[v] = employeeID
		}
		cfg.Gateways.HTTP.APIKeyUserMapping = resolved
	}
	return nil
}

// secretFields returns pointers to the secret-bearing string fields, keyed by
// their config path.
func secretFields(cfg *config.Config) map[string]*string {
	fields := map[string]*string{
		"providers.openai.api_key":    &cfg.Providers.OpenAI.APIKey,
		"providers.anthropic.api_key": &cfg.Providers.Anthropic.APIKey,
	}
	if cfg.Storage != nil && cfg.Storage.Postgres != nil {
		fields["storage.postgres.dsn"] = &cfg.Storage.Postgres.DSN
	}
	if cfg.Receipts != nil {
		fields["receipts.api_key"] = &cfg.Receipts.APIKey
	}
	if n := cfg.Notification; n != nil {
		if n.Email != nil {
			fields["notification.email.password"] = &n.Email.Password
		}
	}
	return fields
}
