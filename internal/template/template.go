// Package template implements the Rosetta substitution engine (§4.7): a pure
// tree rewrite over a JSON template, resolving {{...}} references against
// three namespaces.
package template

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/errorkind"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/model"
)

var (
	configPattern = regexp.MustCompile(`^\{\{\$\^(.*)\}\}$`)
	metadataPattern = regexp.MustCompile(`^\{\{'(.*)'\}\}$`)
	fieldPattern  = regexp.MustCompile(`^\{\{([A-Za-z0-9_]+)\}\}$`)

	requestParamsPrefix  = "request-params."
	validPathRemainder   = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
)

var recognizedFields = map[string]bool{
	"topic":           true,
	"role":            true,
	"clientPrincipal": true,
}

// ConfigLookup is the subset of config.Config the engine needs: resolving a
// dot-separated path under the required request-params prefix. Decoupled
// from the config package to keep this a pure function over any store.
type ConfigLookup interface {
	Lookup(path []string) (any, bool)
}

// unresolvedError accumulates every unresolved (but well-formed) reference in
// one template (§8 property 8).
type unresolvedError struct {
	refs []string
}

func (e *unresolvedError) Error() string {
	sort.Strings(e.refs)
	return fmt.Sprintf("unresolved template references: %s", strings.Join(e.refs, ", "))
}

// securityError accumulates every config-path reference that failed the
// security invariants (§4.7). Per §8 property 7, when any exist, the whole
// substitution fails with this error and config.Lookup was never called for
// the offending paths.
type securityError struct {
	refs []string
}

func (e *securityError) Error() string {
	sort.Strings(e.refs)
	return fmt.Sprintf("%s: rejected template references: %s", errorkind.TemplateSecurity, strings.Join(e.refs, ", "))
}

func (e *securityError) Kind() errorkind.Kind { return errorkind.TemplateSecurity }

type accumulator struct {
	unresolved []string
	rejected   []string
}

// Substitute rewrites tmpl against directive's fields/metadata and cfg's
// request-params namespace (§4.7). An empty/nil tmpl produces an empty JSON
// object without error.
func Substitute(tmpl any, directive model.TopicDirective, cfg ConfigLookup) (any, error) {
	if tmpl == nil {
		return map[string]any{}, nil
	}

	acc := &accumulator{}
	out := rewrite(tmpl, directive, cfg, acc)

	if len(acc.rejected) > 0 {
		return nil, &securityError{refs: acc.rejected}
	}
	if len(acc.unresolved) > 0 {
		return nil, &unresolvedError{refs: acc.unresolved}
	}
	return out, nil
}

func rewrite(node any, directive model.TopicDirective, cfg ConfigLookup, acc *accumulator) any {
	switch v := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			out[k] = rewrite(child, directive, cfg, acc)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = rewrite(child, directive, cfg, acc)
		}
		return out
	case string:
		return rewriteString(v, directive, cfg, acc)
	default:
		return v
	}
}

// rewriteString applies the three patterns in precedence order (§4.7 table),
// full-string-only (the reference decision documented in DESIGN.md/§4.7/§9):
// a string containing surrounding text around {{...}} is left as a literal.
func rewriteString(s string, directive model.TopicDirective, cfg ConfigLookup, acc *accumulator) any {
	if m := configPattern.FindStringSubmatch(s); m != nil {
		return resolveConfigRef(s, m[1], cfg, acc)
	}
	if m := metadataPattern.FindStringSubmatch(s); m != nil {
		return resolveMetadataRef(s, m[1], directive, acc)
	}
	if m := fieldPattern.FindStringSubmatch(s); m != nil {
		return resolveFieldRef(s, m[1], directive, acc)
	}
	return s
}

func resolveConfigRef(original, path string, cfg ConfigLookup, acc *accumulator) any {
	if !strings.HasPrefix(path, requestParamsPrefix) {
		acc.rejected = append(acc.rejected, original)
		return original
	}
	remainder := strings.TrimPrefix(path, requestParamsPrefix)
	if remainder == "" || !validPathRemainder.MatchString(remainder) {
		acc.rejected = append(acc.rejected, original)
		return original
	}

	segments := strings.Split(remainder, ".")
	value, ok := cfg.Lookup(segments)
	if !ok {
		acc.unresolved = append(acc.unresolved, original)
		return original
	}
	return value
}

func resolveMetadataRef(original, key string, directive model.TopicDirective, acc *accumulator) any {
	value, ok := directive.Metadata[key]
	if !ok {
		acc.unresolved = append(acc.unresolved, original)
		return original
	}
	return value
}

func resolveFieldRef(original, field string, directive model.TopicDirective, acc *accumulator) any {
	if !recognizedFields[field] {
		acc.unresolved = append(acc.unresolved, original)
		return original
	}
	switch field {
	case "topic":
		return directive.Topic
	case "role":
		return string(directive.Role)
	case "clientPrincipal":
		return directive.ClientPrincipal
	}
	return original
}
