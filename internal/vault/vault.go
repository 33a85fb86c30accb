// Package vault defines the provider-transport interface shared by every
// VaultWorker backend (§4.5, §9 "Vault providers").
package vault

import "context"

// Provider is the thin, provider-specific half of a VaultWorker backend. Each
// implementation maps its own transport failures onto the closed
// errorkind.Kind taxonomy (VaultAuth/VaultNotFound/VaultRateLimit/
// VaultServiceUnavailable/VaultTimeout) before returning, the same way every
// storage.Transport maps its own failures to StorageTransport.
type Provider interface {
	// Invoke performs one request/response round trip against the vault. The
	// shape of request and response is provider-specific; the VaultWorker's
	// Rosetta mapping (§4.8) is what gives them domain meaning.
	Invoke(ctx context.Context, request map[string]any) (map[string]any, error)
}
