// Package bootstrap implements the bundle canonicalizer and Ed25519
// signature verifier that form the trust root for everything the
// engine executes.
package bootstrap

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Canonicalize reads a YAML document and returns a byte sequence that
// is stable under equivalent representations: mapping keys sorted
// lexicographically, scalars normalized, line endings normalized to
// \n, no BOM. The output is itself valid JSON, which makes the
// stability property trivial to check (Canonicalize is idempotent
// when re-applied to its own output).
func Canonicalize(raw []byte) ([]byte, error) {
	normalized := normalizeLineEndings(raw)

	var doc any
	if err := yaml.Unmarshal(normalized, &doc); err != nil {
		return nil, fmt.Errorf("bootstrap: decoding document: %w", err)
	}

	var buf strings.Builder
	if err := writeCanonical(&buf, doc); err != nil {
		return nil, err
	}
	return []byte(buf.String()), nil
}

func normalizeLineEndings(raw []byte) []byte {
	s := strings.ReplaceAll(string(raw), "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.TrimPrefix(s, "﻿")
	return []byte(s)
}

func writeCanonical(buf *strings.Builder, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("bootstrap: encoding string scalar: %w", err)
		}
		buf.Write(b)
	case int:
		buf.WriteString(strconv.Itoa(val))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case uint64:
		buf.WriteString(strconv.FormatUint(val, 10))
	case float64:
		buf.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return fmt.Errorf("bootstrap: encoding map key %q: %w", k, err)
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case map[any]any:
		// yaml.v3 only produces this for non-string keys; normalize by
		// stringifying them so canonicalization still succeeds.
		converted := make(map[string]any, len(val))
		for k, elemVal := range val {
			converted[fmt.Sprintf("%v", k)] = elemVal
		}
		return writeCanonical(buf, converted)
	default:
		return fmt.Errorf("bootstrap: unsupported scalar type %T", v)
	}
	return nil
}
