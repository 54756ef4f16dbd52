package execctx

import "testing"

func TestShapeValueCoercesNumberToStringForTextMime(t *testing.T) {
	v, err := shapeValue("text/plain", 42)
	if err != nil {
		t.Fatalf("shapeValue: %v", err)
	}
	if v != "42" {
		t.Errorf("expected coerced string \"42\", got %v (%T)", v, v)
	}
}

func TestShapeValuePreservesStructuredJSON(t *testing.T) {
	v, err := shapeValue("application/json", map[string]any{"a": 1})
	if err != nil {
		t.Fatalf("shapeValue: %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("expected structured object to survive, got %T", v)
	}
	if m["a"] != 1 {
		t.Errorf("expected a=1, got %+v", m)
	}
}

func TestShapeValueJSONStringifiesUnknownMime(t *testing.T) {
	v, err := shapeValue("image/png+meta", []int{1, 2, 3})
	if err != nil {
		t.Fatalf("shapeValue: %v", err)
	}
	if v != "[1,2,3]" {
		t.Errorf("expected JSON-stringified array, got %v", v)
	}
}

func TestSynthesizePlainTextFallbackFromHTML(t *testing.T) {
	out, err := synthesizePlainTextFallback(map[string]any{"text/html": "<p>hi <b>there</b></p>"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if out != "hi there" {
		t.Errorf("expected stripped text, got %q", out)
	}
}

func TestSynthesizePlainTextFallbackFromJSON(t *testing.T) {
	out, err := synthesizePlainTextFallback(map[string]any{"application/json": map[string]any{"a": 1}})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if out == "" {
		t.Errorf("expected a non-empty pretty-printed fallback")
	}
}

func TestShapeRepresentationsAlwaysIncludesTextPlain(t *testing.T) {
	reps, err := shapeRepresentations(map[string]any{"application/json": map[string]any{"x": 1}}, nil)
	if err != nil {
		t.Fatalf("shapeRepresentations: %v", err)
	}
	if _, ok := reps["text/plain"]; !ok {
		t.Fatalf("expected synthesized text/plain fallback, got %+v", reps)
	}
}
