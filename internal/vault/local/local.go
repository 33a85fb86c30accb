// Package local implements the "local" vault provider: development-only, no
// network traffic, no retries (§4.5).
package local

import "context"

// Provider always answers with an empty response. The VaultWorker never
// calls it on the hot path — it recognizes the "local" provider name and
// assembles a PLAINTEXT directive directly — but an implementation is kept
// so the provider registry stays total over vault.provider's three values.
type Provider struct{}

func New() *Provider { return &Provider{} }

func (p *Provider) Invoke(ctx context.Context, request map[string]any) (map[string]any, error) {
	return map[string]any{}, nil
}
