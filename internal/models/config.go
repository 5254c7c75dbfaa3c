// Configuration layering rules. A PC's effective configuration is the
// left-to-right fold of [site, groups..., pc]; later layers override earlier
// ones for the same key.
package models

import "strings"

// ConfigLayer is the resolved key/value content of one Configuration, with
// its position in the override chain implied by slice order.
type ConfigLayer map[string]string

// ResolveEffectiveConfig folds the layers left to right into a single map.
// A key present in multiple layers takes the value from the last layer that
// defines it. The input layers are not modified.
func ResolveEffectiveConfig(layers []ConfigLayer) map[string]string {
	merged := make(map[string]string)
	for _, layer := range layers {
		for k, v := range layer {
			merged[k] = v
		}
	}
	return merged
}

// MergeConfigValueLists unions the comma-separated values of key across all
// layers instead of overriding. Duplicates are dropped, first-seen order is
// preserved, and whitespace around each element is trimmed. Used for
// multi-valued keys where every layer contributes.
func MergeConfigValueLists(layers []ConfigLayer, key string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, layer := range layers {
		raw, ok := layer[key]
		if !ok {
			continue
		}
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" || seen[part] {
				continue
			}
			seen[part] = true
			out = append(out, part)
		}
	}
	return out
}
