package tool

import "testing"

func TestDefaultRegistryHasThreeTools(t *testing.T) {
	r := DefaultRegistry()

	for _, id := range []string{"create_cell", "modify_cell", "execute_cell"} {
		if _, ok := r.Get(id); !ok {
			t.Errorf("expected %s to be registered", id)
		}
	}
	if len(r.List()) != 3 {
		t.Errorf("expected 3 tools, got %d", len(r.List()))
	}
}

func TestDefaultRegistryToolInfos(t *testing.T) {
	r := DefaultRegistry()
	infos := r.ToolInfos()
	if len(infos) != 3 {
		t.Fatalf("expected 3 tool infos, got %d", len(infos))
	}
	for _, info := range infos {
		if info.Name == "" {
			t.Error("expected every tool info to carry a name")
		}
	}
}
