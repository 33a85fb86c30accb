// Package jaas builds and validates the OAuthBearerLoginModule JAAS
// configuration string consumed by the Kafka producer/consumer workers
// (§4.9).
package jaas

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/model"
)

// Params are the fields substituted into the JAAS template (§4.9).
type Params struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scope        string // optional
}

// escape applies the §4.9 escaping rules: backslash, double-quote, newline,
// carriage return. Other characters pass through unchanged.
func escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Build assembles the JAAS string. It fails if TokenURL does not parse as an
// http(s) URL (§4.9).
func Build(p Params) (model.JaasConfig, error) {
	u, err := url.Parse(p.TokenURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("jaas: token endpoint %q is not a valid http(s) URL", p.TokenURL)
	}

	var b strings.Builder
	b.WriteString("org.apache.kafka.common.security.oauthbearer.OAuthBearerLoginModule required\n")
	fmt.Fprintf(&b, "  oauth.client.id=\"%s\"\n", escape(p.ClientID))
	fmt.Fprintf(&b, "  oauth.client.secret=\"%s\"\n", escape(p.ClientSecret))
	fmt.Fprintf(&b, "  oauth.token.endpoint.uri=\"%s\"\n", escape(p.TokenURL))
	if p.Scope != "" {
		fmt.Fprintf(&b, "  oauth.scope=\"%s\"\n", escape(p.Scope))
	}
	b.WriteString(";")

	return model.JaasConfig(b.String()), nil
}

// Validate checks presence of the mandatory markers and parameters without
// attempting a full parse (§4.9).
func Validate(raw string) error {
	if !strings.Contains(raw, "OAuthBearerLoginModule") {
		return fmt.Errorf("jaas: missing OAuthBearerLoginModule")
	}
	if !strings.Contains(raw, "required") {
		return fmt.Errorf("jaas: missing required keyword")
	}
	if !strings.HasSuffix(strings.TrimRight(raw, " \t\n"), ";") {
		return fmt.Errorf("jaas: missing terminating semicolon")
	}
	for _, param := range []string{"oauth.client.id", "oauth.client.secret", "oauth.token.endpoint.uri"} {
		if !strings.Contains(raw, param) {
			return fmt.Errorf("jaas: missing mandatory parameter %s", param)
		}
	}
	return nil
}

// unescape reverses escape. ExtractQuoted uses it to return a value in its
// original form, and tests use it to assert the round-trip property (§8
// testable property 10).
func unescape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case '\\':
				b.WriteByte('\\')
				i++
				continue
			case '"':
				b.WriteByte('"')
				i++
				continue
			case 'n':
				b.WriteByte('\n')
				i++
				continue
			case 'r':
				b.WriteByte('\r')
				i++
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// ExtractQuoted returns the unescaped value of the first `key="..."`
// occurrence in raw. Used by tests and by the producer/consumer workers to
// read the OAuth client id and secret back out of a directive's JAAS string.
func ExtractQuoted(raw, key string) (string, bool) {
	marker := key + "=\""
	idx := strings.Index(raw, marker)
	if idx < 0 {
		return "", false
	}
	rest := raw[idx+len(marker):]
	var b strings.Builder
	for i := 0; i < len(rest); i++ {
		if rest[i] == '\\' && i+1 < len(rest) {
			b.WriteByte(rest[i])
			b.WriteByte(rest[i+1])
			i++
			continue
		}
		if rest[i] == '"' {
			return unescape(b.String()), true
		}
		b.WriteByte(rest[i])
	}
	return "", false
}
