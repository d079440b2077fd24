// Package patch implements the merge contract used for every state update:
// mappings merge key by key, everything else (scalars, null, sequences)
// replaces the target value wholesale.
package patch

// Merge returns target with patch applied. Neither argument is modified; any
// map on the merge path is freshly allocated and replaced values are deep
// copied out of patch.
//
// Values are the shapes produced by encoding/json into an `any`:
// map[string]any, []any, string, float64, bool and nil. Other slice or scalar
// types are treated as opaque replacements.
func Merge(target, patch any) any {
	pm, ok := patch.(map[string]any)
	if !ok {
		return Clone(patch)
	}
	tm, _ := target.(map[string]any)

	out := make(map[string]any, len(tm)+len(pm))
	for k, v := range tm {
		out[k] = v
	}
	for k, pv := range pm {
		if _, isMap := pv.(map[string]any); isMap {
			out[k] = Merge(tm[k], pv)
			continue
		}
		out[k] = Clone(pv)
	}
	return out
}

// Clone deep copies maps and slices of a JSON value.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = Clone(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = Clone(vv)
		}
		return out
	default:
		return v
	}
}
