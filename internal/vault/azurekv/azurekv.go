// Package azurekv implements the "azure" vault provider against Azure Key
// Vault's Secrets API, grounded on the azsecrets client shape (§4.5, §9).
// Secrets (not Keys) is used throughout: Kafka OAuth client secrets are
// opaque strings, not cryptographic key material.
package azurekv

import (
	"context"
	"errors"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/errorkind"
)

// Provider reads secrets from a single Key Vault. Request maps are expected
// to carry a "secretName" key.
type Provider struct {
	client *azsecrets.Client
}

func New(vaultURL string) (*Provider, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, errorkind.Wrap(errorkind.VaultAuth, "resolving azure credential", err)
	}
	client, err := azsecrets.NewClient(vaultURL, cred, nil)
	if err != nil {
		return nil, errorkind.Wrap(errorkind.VaultAuth, "constructing azure key vault client", err)
	}
	return &Provider{client: client}, nil
}

func (p *Provider) Invoke(ctx context.Context, request map[string]any) (map[string]any, error) {
	name, _ := request["secretName"].(string)
	if name == "" {
		return nil, errorkind.New(errorkind.VaultMapping, "request is missing a \"secretName\" field")
	}

	resp, err := p.client.GetSecret(ctx, name, "", nil)
	if err != nil {
		return nil, mapError(err)
	}
	if resp.Value == nil {
		return nil, errorkind.New(errorkind.VaultNotFound, "secret has no value: "+name)
	}
	return map[string]any{"value": *resp.Value}, nil
}

func mapError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errorkind.Wrap(errorkind.VaultTimeout, "key vault request deadline exceeded", err)
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return errorkind.Wrap(errorkind.VaultAuth, "key vault rejected credentials", err)
		case http.StatusNotFound:
			return errorkind.Wrap(errorkind.VaultNotFound, "secret not found", err)
		case http.StatusTooManyRequests:
			return errorkind.Wrap(errorkind.VaultRateLimit, "key vault rate limit", err)
		case http.StatusServiceUnavailable:
			return errorkind.Wrap(errorkind.VaultServiceUnavailable, "key vault unavailable", err)
		}
	}
	return errorkind.Wrap(errorkind.VaultServiceUnavailable, "key vault request failed", err)
}
