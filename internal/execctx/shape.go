package execctx

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cellrt/runtime-agent/internal/mediabundle"
	"github.com/cellrt/runtime-agent/pkg/types"
)

// shapeRepresentations implements the output-shaping rules of spec root
// §4.2: data maps a MIME type to a raw value. JSON-typed MIME types keep
// the value as a structured object; text-typed MIME types coerce
// numeric/boolean values to strings; anything else non-string is
// JSON-stringified. A text/plain fallback is synthesized if one is
// missing: from HTML via tag-stripping, or from JSON via pretty-printing.
func shapeRepresentations(data map[string]any, metadata map[string]any) (map[string]types.Representation, error) {
	reps := make(map[string]types.Representation, len(data)+1)

	for mime, value := range data {
		shaped, err := shapeValue(mime, value)
		if err != nil {
			return nil, fmt.Errorf("execctx: shaping %s: %w", mime, err)
		}
		reps[mime] = types.Representation{
			Kind:     types.RepresentationInline,
			Data:     shaped,
			Metadata: metadataFor(mime, metadata),
		}
	}

	if _, ok := reps["text/plain"]; !ok {
		fallback, err := synthesizePlainTextFallback(data)
		if err != nil {
			return nil, err
		}
		if fallback != "" {
			reps["text/plain"] = types.Representation{Kind: types.RepresentationInline, Data: fallback}
		}
	}

	return reps, nil
}

func isJSONMime(mime string) bool {
	return mime == "application/json" || strings.HasSuffix(mime, "+json")
}

func isTextMime(mime string) bool {
	return strings.HasPrefix(mime, "text/")
}

func shapeValue(mime string, value any) (any, error) {
	if isJSONMime(mime) {
		return value, nil
	}

	if isTextMime(mime) {
		switch v := value.(type) {
		case string:
			return v, nil
		case bool, int, int32, int64, float32, float64:
			return fmt.Sprintf("%v", v), nil
		default:
			return stringify(value)
		}
	}

	if s, ok := value.(string); ok {
		return s, nil
	}
	return stringify(value)
}

func stringify(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// synthesizePlainTextFallback derives a text/plain representation from
// whatever richer representation the caller did supply, per spec root
// §4.2's "a final text/plain fallback must be present after
// normalization".
func synthesizePlainTextFallback(data map[string]any) (string, error) {
	if html, ok := data["text/html"].(string); ok {
		return mediabundle.StripHTML(html)
	}

	if val, ok := data["application/json"]; ok {
		return mediabundle.PrettyJSON(val)
	}

	for mime, value := range data {
		if isJSONMime(mime) {
			return mediabundle.PrettyJSON(value)
		}
	}

	return "", nil
}

func metadataFor(mime string, metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	if scoped, ok := metadata[mime].(map[string]any); ok {
		return scoped
	}
	return nil
}
