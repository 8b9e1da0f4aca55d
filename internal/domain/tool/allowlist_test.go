package tool

import "testing"

func TestAllowList_UnrestrictedByDefault(t *testing.T) {
	a := NewAllowList()
	if !a.IsAllowed("anything") {
		t.Error("expected unrestricted allow-list to allow any tool")
	}
}

func TestAllowList_SetAllowedToolsRestrictsSubset(t *testing.T) {
	a := NewAllowList()
	a.SetAllowedTools([]string{"web_search"})

	if !a.IsAllowed("web_search") {
		t.Error("expected web_search to be allowed")
	}
	if a.IsAllowed("run_shell") {
		t.Error("expected run_shell to be refused once the allow-list is restricted")
	}
}

func TestAllowList_CoreToolsAlwaysAllowed(t *testing.T) {
	a := NewAllowList()
	a.SetAllowedTools([]string{"web_search"}) // deliberately excludes core tools

	for _, core := range []string{"read_file", "write_file", "run_code", "exit"} {
		if !a.IsAllowed(core) {
			t.Errorf("expected core tool %q to remain allowed under restriction", core)
		}
	}
}

func TestAllowList_ResetClearsRestriction(t *testing.T) {
	a := NewAllowList()
	a.SetAllowedTools([]string{"web_search"})
	a.ResetAllowedTools()

	if !a.IsAllowed("anything_else") {
		t.Error("expected Reset to clear the restriction")
	}
}
