// Package credmap implements the credential-mapping (Rosetta response side,
// §4.8): extracting fields from a vault provider's JSON response according to
// a declarative mapping table, applying an ordered transformation pipeline,
// and validating the result against a required-field set.
package credmap

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Mapping is one entry of the Rosetta mapping file's `mappings` section (§6.5).
type Mapping struct {
	TargetField     string   `yaml:"targetField"`
	SourcePath      string   `yaml:"sourcePath"`
	Transformations []string `yaml:"transformations,omitempty"`
	DefaultValue    *string  `yaml:"defaultValue,omitempty"`
}

// RosettaMapping is the full per-provider mapping file (§6.5).
type RosettaMapping struct {
	RequestTemplate any       `yaml:"request-template"`
	Mappings        []Mapping `yaml:"mappings"`
}

// LoadMapping reads and parses a Rosetta mapping file (§6.5) from path. Every
// non-local VaultService provider loads one alongside its template at
// ServiceBuilder composition time (§4.10).
func LoadMapping(path string) (RosettaMapping, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return RosettaMapping{}, fmt.Errorf("reading rosetta mapping %s: %w", path, err)
	}
	var m RosettaMapping
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return RosettaMapping{}, fmt.Errorf("parsing rosetta mapping %s: %w", path, err)
	}
	return m, nil
}

// transform is an ordered, named transformation applied to an extracted
// string value. base64Decode is the only one the spec names; trim and
// urlDecode are implementations' optional additions (§4.8).
type transform func(string) (string, error)

var transforms = map[string]transform{
	"base64Decode": func(s string) (string, error) {
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return "", fmt.Errorf("base64Decode: %w", err)
		}
		return string(decoded), nil
	},
	"trim": func(s string) (string, error) {
		return strings.TrimSpace(s), nil
	},
	"urlDecode": func(s string) (string, error) {
		decoded, err := url.QueryUnescape(s)
		if err != nil {
			return "", fmt.Errorf("urlDecode: %w", err)
		}
		return decoded, nil
	},
}

// Apply extracts and transforms every mapping against response, then
// validates that required is a subset of the resulting keys. Missing
// mappings aggregate into a single error listing every deficient field
// (§4.8).
func Apply(response any, mappings []Mapping, required []string) (map[string]string, error) {
	result := make(map[string]string, len(mappings))
	var errs []string

	for _, m := range mappings {
		value, ok := extract(response, m.SourcePath)
		if !ok {
			if m.DefaultValue != nil {
				value = *m.DefaultValue
				ok = true
			}
		}
		if !ok {
			continue
		}

		for _, t := range m.Transformations {
			fn, known := transforms[t]
			if !known {
				errs = append(errs, fmt.Sprintf("%s: unknown transformation %q", m.TargetField, t))
				ok = false
				break
			}
			var err error
			value, err = fn(value)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", m.TargetField, err))
				ok = false
				break
			}
		}
		if ok {
			result[m.TargetField] = value
		}
	}

	var missing []string
	for _, field := range required {
		if _, ok := result[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		errs = append(errs, fmt.Sprintf("missing required fields: %s", strings.Join(missing, ", ")))
	}

	if len(errs) > 0 {
		var merr error
		for _, e := range errs {
			merr = multierr.Append(merr, fmt.Errorf("%s", e))
		}
		return result, merr
	}
	return result, nil
}

// extract resolves a dot-separated JSON path (with optional `[idx]` array
// segments, e.g. "data.credentials[0].secret") against a decoded JSON value.
func extract(node any, path string) (string, bool) {
	if path == "" {
		return "", false
	}
	cur := node
	for _, raw := range strings.Split(path, ".") {
		name, idx, hasIdx := splitIndex(raw)
		if name != "" {
			m, ok := cur.(map[string]any)
			if !ok {
				return "", false
			}
			cur, ok = m[name]
			if !ok {
				return "", false
			}
		}
		if hasIdx {
			arr, ok := cur.([]any)
			if !ok || idx < 0 || idx >= len(arr) {
				return "", false
			}
			cur = arr[idx]
		}
	}
	return toString(cur)
}

func splitIndex(seg string) (name string, idx int, hasIdx bool) {
	open := strings.Index(seg, "[")
	if open < 0 {
		return seg, 0, false
	}
	name = seg[:open]
	close := strings.Index(seg, "]")
	if close < open {
		return seg, 0, false
	}
	n, err := strconv.Atoi(seg[open+1 : close])
	if err != nil {
		return seg, 0, false
	}
	return name, n, true
}

func toString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case nil:
		return "", false
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	default:
		return "", false
	}
}
