package jaas_test

import (
	"testing"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/jaas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildProducesValidatableString(t *testing.T) {
	raw, err := jaas.Build(jaas.Params{
		ClientID:     "alpha",
		ClientSecret: "s3cr3t",
		TokenURL:     "https://auth.example.com/token",
		Scope:        "kafka.read",
	})
	require.NoError(t, err)
	assert.NoError(t, jaas.Validate(raw.Reveal()))
	assert.Contains(t, raw.Reveal(), `oauth.scope="kafka.read"`)
}

func TestBuildRejectsNonHTTPEndpoint(t *testing.T) {
	_, err := jaas.Build(jaas.Params{ClientID: "a", ClientSecret: "b", TokenURL: "not-a-url"})
	assert.Error(t, err)

	_, err = jaas.Build(jaas.Params{ClientID: "a", ClientSecret: "b", TokenURL: "ftp://example.com"})
	assert.Error(t, err)
}

func TestJaasConfigStringIsRedacted(t *testing.T) {
	raw, err := jaas.Build(jaas.Params{ClientID: "a", ClientSecret: "top-secret", TokenURL: "https://x/y"})
	require.NoError(t, err)

	assert.NotContains(t, raw.String(), "top-secret")
	assert.Contains(t, raw.Reveal(), "top-secret")
}

func TestValidateDetectsMissingPieces(t *testing.T) {
	assert.Error(t, jaas.Validate(""))
	assert.Error(t, jaas.Validate("OAuthBearerLoginModule required;"))
	assert.Error(t, jaas.Validate(`OAuthBearerLoginModule required oauth.client.id="a" oauth.client.secret="b"`))
}

// TestEscapingRoundTrip is the §8 property 10 check: for any (id, secret)
// drawn from an alphabet including \, ", \n, \r, building then parsing the
// JAAS string recovers (id, secret) exactly.
func TestEscapingRoundTrip(t *testing.T) {
	cases := []struct{ id, secret string }{
		{"alpha", "s3cr3t"},
		{`back\slash`, `quote"here`},
		{"new\nline", "carriage\rreturn"},
		{`mix\ed "of\r\nall"`, "four\\\"\r\nkinds"},
		{"", ""},
	}
	for _, c := range cases {
		raw, err := jaas.Build(jaas.Params{ClientID: c.id, ClientSecret: c.secret, TokenURL: "https://auth/token"})
		require.NoError(t, err)

		gotID, ok := jaas.ExtractQuoted(raw.Reveal(), "oauth.client.id")
		require.True(t, ok)
		assert.Equal(t, c.id, gotID)

		gotSecret, ok := jaas.ExtractQuoted(raw.Reveal(), "oauth.client.secret")
		require.True(t, ok)
		assert.Equal(t, c.secret, gotSecret)
	}
}
