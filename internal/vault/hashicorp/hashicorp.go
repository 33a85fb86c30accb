// Package hashicorp implements the "hashicorp" vault provider against a
// HashiCorp Vault KV mount, grounded on the hashicorp/vault/api client shape
// (§4.5, §9).
package hashicorp

import (
	"context"
	"errors"
	"net/http"
	"time"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/cristalhq/hedgedhttp"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/errorkind"
)

// Provider reads secrets from a single KV mount. Request maps are expected to
// carry a "path" key naming the secret relative to that mount.
type Provider struct {
	client *vaultapi.Client
	mount  string
}

// New builds a Provider against address, authenticating with token. hedged
// requests (a second HTTP attempt when the first has not answered within
// 50ms, first response wins) absorb the tail
// latency of a multi-node Vault cluster the same way the vault-fetch retry
// loop absorbs outright failures.
func New(address, token, mount string) (*Provider, error) {
	cfg := vaultapi.DefaultConfig()
	cfg.Address = address
	cfg.HttpClient = &http.Client{
		Transport: hedgedhttp.NewRoundTripper(50*time.Millisecond, 2, http.DefaultTransport),
	}

	client, err := vaultapi.NewClient(cfg)
	if err != nil {
		return nil, errorkind.Wrap(errorkind.VaultAuth, "constructing vault client", err)
	}
	client.SetToken(token)

	return &Provider{client: client, mount: mount}, nil
}

func (p *Provider) Invoke(ctx context.Context, request map[string]any) (map[string]any, error) {
	path, _ := request["path"].(string)
	if path == "" {
		return nil, errorkind.New(errorkind.VaultMapping, "request is missing a \"path\" field")
	}

	secret, err := p.client.Logical().ReadWithContext(ctx, p.mount+"/"+path)
	if err != nil {
		return nil, mapError(err)
	}
	if secret == nil {
		return nil, errorkind.New(errorkind.VaultNotFound, "no secret at "+path)
	}
	return secret.Data, nil
}

func mapError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errorkind.Wrap(errorkind.VaultTimeout, "vault request deadline exceeded", err)
	}

	var respErr *vaultapi.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return errorkind.Wrap(errorkind.VaultAuth, "vault rejected credentials", err)
		case http.StatusNotFound:
			return errorkind.Wrap(errorkind.VaultNotFound, "secret not found", err)
		case http.StatusTooManyRequests:
			return errorkind.Wrap(errorkind.VaultRateLimit, "vault rate limit", err)
		case http.StatusServiceUnavailable:
			return errorkind.Wrap(errorkind.VaultServiceUnavailable, "vault unavailable", err)
		}
	}
	return errorkind.Wrap(errorkind.VaultServiceUnavailable, "vault request failed", err)
}
