package template_test

import (
	"testing"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/template"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConfig struct {
	values map[string]any
	reads  []string
}

func (f *fakeConfig) Lookup(path []string) (any, bool) {
	key := ""
	for i, p := range path {
		if i > 0 {
			key += "."
		}
		key += p
	}
	f.reads = append(f.reads, key)
	v, ok := f.values[key]
	return v, ok
}

func directive() model.TopicDirective {
	return model.TopicDirective{
		Topic:           "orders",
		Role:            model.RoleProducer,
		ClientPrincipal: "alpha",
		Metadata:        map[string]string{"region": "us-east-1"},
	}
}

// TestAllThreeNamespaces is scenario S5.
func TestAllThreeNamespaces(t *testing.T) {
	tmpl := map[string]any{
		"a": "{{topic}}",
		"b": "{{'region'}}",
		"c": "{{$^request-params.x.y}}",
	}
	cfg := &fakeConfig{values: map[string]any{"x.y": "P1"}}

	out, err := template.Substitute(tmpl, directive(), cfg)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": "orders", "b": "us-east-1", "c": "P1"}, out)
}

// TestSecurityViolation is scenario S6.
func TestSecurityViolation(t *testing.T) {
	tmpl := map[string]any{"a": "{{$^secrets.db.password}}"}
	cfg := &fakeConfig{values: map[string]any{}}

	_, err := template.Substitute(tmpl, directive(), cfg)
	require.Error(t, err)
	assert.Empty(t, cfg.reads, "must perform zero reads against the config store")
}

func TestSecurityRejectsInvalidCharacters(t *testing.T) {
	tmpl := map[string]any{"a": "{{$^request-params.a;b}}"}
	cfg := &fakeConfig{values: map[string]any{}}

	_, err := template.Substitute(tmpl, directive(), cfg)
	require.Error(t, err)
	assert.Empty(t, cfg.reads)
}

func TestSecurityRequiresSegmentBeyondPrefix(t *testing.T) {
	tmpl := map[string]any{"a": "{{$^request-params.}}"}
	cfg := &fakeConfig{values: map[string]any{}}

	_, err := template.Substitute(tmpl, directive(), cfg)
	require.Error(t, err)
	assert.Empty(t, cfg.reads)
}

// TestErrorAccumulation is §8 property 8.
func TestErrorAccumulation(t *testing.T) {
	tmpl := map[string]any{
		"a": "{{'missing-one'}}",
		"b": "{{'missing-two'}}",
		"c": "orders",
	}
	cfg := &fakeConfig{}

	_, err := template.Substitute(tmpl, directive(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing-one")
	assert.Contains(t, err.Error(), "missing-two")
}

func TestEmptyTemplateProducesEmptyObject(t *testing.T) {
	out, err := template.Substitute(nil, directive(), &fakeConfig{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, out)
}

// TestIdempotence is §8 property 6: substitute(substitute(T)) == substitute(T)
// for templates containing only bound references.
func TestIdempotence(t *testing.T) {
	tmpl := map[string]any{
		"a": "{{topic}}",
		"b": "{{'region'}}",
		"nested": []any{"{{role}}", "{{clientPrincipal}}"},
	}
	cfg := &fakeConfig{values: map[string]any{}}

	first, err := template.Substitute(tmpl, directive(), cfg)
	require.NoError(t, err)

	second, err := template.Substitute(first, directive(), cfg)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestNonTemplateStringsPassThroughLiterally(t *testing.T) {
	tmpl := map[string]any{"a": "prefix {{topic}} suffix", "n": float64(42)}
	out, err := template.Substitute(tmpl, directive(), &fakeConfig{})
	require.NoError(t, err)
	assert.Equal(t, "prefix {{topic}} suffix", out.(map[string]any)["a"])
	assert.Equal(t, float64(42), out.(map[string]any)["n"])
}

func TestUnrecognizedFieldNameIsUnresolved(t *testing.T) {
	tmpl := map[string]any{"a": "{{bogusField}}"}
	_, err := template.Substitute(tmpl, directive(), &fakeConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogusField")
}
