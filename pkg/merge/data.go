// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package merge

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Mode selects how Data combines fragments.
type Mode string

const (
	// ModeSmart unions lists, merges nested mappings and lets later scalars win.
	ModeSmart Mode = "smart"

	// ModeLast keeps only the last non-empty fragment.
	ModeLast Mode = "last"

	// ModeNone skips merging. Data returns nil.
	ModeNone Mode = "none"
)

// ParseMode converts a string into a Mode. Unknown values fall back to ModeSmart.
func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeLast:
		return ModeLast
	case ModeNone:
		return ModeNone
	default:
		return ModeSmart
	}
}

// Data combines structured fragments into a single mapping.
// Input fragments are never mutated.
func Data(parts []map[string]any, mode Mode) map[string]any {
	switch mode {
	case ModeNone:
		return nil
	case ModeLast:
		for i := len(parts) - 1; i >= 0; i-- {
			if len(parts[i]) > 0 {
				return parts[i]
			}
		}
		return map[string]any{}
	}

	result := make(map[string]any)
	for _, part := range parts {
		mergeInto(result, part)
	}
	return result
}

// mergeInto folds src into dst. dst is owned by the caller.
func mergeInto(dst, src map[string]any) {
	for key, incoming := range src {
		current, exists := dst[key]
		if !exists {
			dst[key] = clone(incoming)
			continue
		}

		if left, ok := asList(current); ok {
			if right, ok := asList(incoming); ok {
				dst[key] = dedupe(append(append([]any{}, left...), right...))
				continue
			}
		}

		if left, ok := current.(map[string]any); ok {
			if right, ok := incoming.(map[string]any); ok {
				mergeInto(left, right)
				continue
			}
		}

		dst[key] = clone(incoming)
	}
}

// dedupe removes duplicate list elements, keeping first-seen order.
func dedupe(items []any) []any {
	seen := make(map[string]struct{}, len(items))
	out := make([]any, 0, len(items))
	for _, item := range items {
		key := stableKey(item)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}

// stableKey identifies a list element for deduplication. Structured values
// use canonical JSON (encoding/json sorts map keys); scalars use their
// printed form.
func stableKey(v any) string {
	switch v.(type) {
	case map[string]any, []any, []string, []map[string]any:
		b, err := json.Marshal(v)
		if err == nil {
			return string(b)
		}
	}
	return fmt.Sprint(v)
}

func asList(v any) ([]any, bool) {
	switch list := v.(type) {
	case []any:
		return list, true
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(list))
		for i, m := range list {
			out[i] = m
		}
		return out, true
	}
	return nil, false
}

// clone copies mappings so later merges never write through to a fragment.
func clone(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = clone(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = clone(item)
		}
		return out
	default:
		return v
	}
}
