package azurekv

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/errorkind"
)

// fakeCredential satisfies azcore.TokenCredential without contacting AAD.
type fakeCredential struct{}

func (fakeCredential) GetToken(ctx context.Context, options policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{Token: "fake-token", ExpiresOn: time.Now().Add(time.Hour)}, nil
}

func newTestProvider(t *testing.T, srv *httptest.Server) *Provider {
	t.Helper()
	client, err := azsecrets.NewClient(srv.URL, fakeCredential{}, &azsecrets.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Transport: srv.Client(),
			Retry:     policy.RetryOptions{MaxRetries: -1},
		},
	})
	require.NoError(t, err)
	return &Provider{client: client}
}

func TestInvokeReadsSecretValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"value": "s3cr3t", "id": "https://vault/secrets/kafka-secret"})
	}))
	defer srv.Close()

	p := newTestProvider(t, srv)
	resp, err := p.Invoke(context.Background(), map[string]any{"secretName": "kafka-secret"})
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", resp["value"])
}

func TestInvokeMapsNotFoundStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": "SecretNotFound"}})
	}))
	defer srv.Close()

	p := newTestProvider(t, srv)
	_, err := p.Invoke(context.Background(), map[string]any{"secretName": "kafka-secret"})
	require.Error(t, err)
	ek, ok := errorkind.As(err)
	require.True(t, ok)
	assert.Equal(t, errorkind.VaultNotFound, ek.Kind)
}

func TestInvokeRejectsRequestMissingSecretName(t *testing.T) {
	p := newTestProvider(t, httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	_, err := p.Invoke(context.Background(), map[string]any{})
	require.Error(t, err)
	ek, ok := errorkind.As(err)
	require.True(t, ok)
	assert.Equal(t, errorkind.VaultMapping, ek.Kind)
}
