package worker

import "fmt"

// canonicalize implements spec root §4.3's value walker. A subprocess
// worker talks JSON over the wire, so every value arriving through
// json.Unmarshal is already one of nil/bool/float64/string/[]any/
// map[string]any — the proxy/map-like/set-like cases the walker describes
// can't actually appear here. canonicalize is still applied to every
// result/data payload as the defensive boundary the spec names: any stray
// value a misbehaving worker implementation manages to smuggle through
// (for example a Go value constructed by a test double rather than
// decoded from JSON) is brought back to plain data instead of propagating
// unchanged into the store.
func canonicalize(v any) any {
	return canonicalizeDepth(v, 0)
}

const maxCanonicalizeDepth = 64

func canonicalizeDepth(v any, depth int) any {
	if depth > maxCanonicalizeDepth {
		return fmt.Sprintf("%v", v)
	}

	switch val := v.(type) {
	case nil, bool, string, float64, int, int64:
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = canonicalizeDepth(elem, depth+1)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = canonicalizeDepth(elem, depth+1)
		}
		return out
	default:
		return fmt.Sprintf("%v", val)
	}
}
