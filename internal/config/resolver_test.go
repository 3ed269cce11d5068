package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeWorkspaceConfig(t *testing.T, root, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(root, "config"), []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestResolveDefaultsOnly(t *testing.T) {
	root := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	r := New(root)
	eff, err := r.Resolve(nil)
	if err != nil {
		t.Fatal(err)
	}
	if eff.SyncConflictStrategy != StrategyManual {
		t.Fatalf("default conflict strategy = %q", eff.SyncConflictStrategy)
	}
	if !eff.SyncCompressObjects {
		t.Fatal("expected compress_objects default true")
	}
	if eff.MaxObjectBytes != defaultMaxObjectBytes {
		t.Fatalf("max_object_bytes = %d", eff.MaxObjectBytes)
	}
}

func TestWorkspaceOverridesDefaults(t *testing.T) {
	root := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	writeWorkspaceConfig(t, root, "sync:\n  conflict_strategy: prefer_local\n")
	r := New(root)
	eff, err := r.Resolve(nil)
	if err != nil {
		t.Fatal(err)
	}
	if eff.SyncConflictStrategy != StrategyPreferLocal {
		t.Fatalf("got %q, want prefer_local", eff.SyncConflictStrategy)
	}
}

func TestCallerOverridesBeatWorkspace(t *testing.T) {
	root := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	writeWorkspaceConfig(t, root, "sync:\n  conflict_strategy: prefer_local\n")
	r := New(root)
	eff, err := r.Resolve(map[string]any{
		"sync": map[string]any{"conflict_strategy": "prefer_remote"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if eff.SyncConflictStrategy != StrategyPreferRemote {
		t.Fatalf("got %q, want prefer_remote (override must win)", eff.SyncConflictStrategy)
	}
}

func TestDeepOverlayMapUnion(t *testing.T) {
	base := map[string]any{
		"project": map[string]any{
			"a": map[string]any{"name": "Alpha", "vcs_integration": true},
		},
	}
	patch := map[string]any{
		"project": map[string]any{
			"b": map[string]any{"name": "Beta"},
		},
	}
	merged := deepOverlay(base, patch)
	proj := subMap(merged, "project")
	if _, ok := proj["a"]; !ok {
		t.Fatal("expected project.a to survive the overlay (map union)")
	}
	if _, ok := proj["b"]; !ok {
		t.Fatal("expected project.b to be added by the overlay")
	}
}

func TestDeepOverlaySequenceReplacesEntirely(t *testing.T) {
	base := map[string]any{
		"project": map[string]any{
			"a": map[string]any{"default_labels": []string{"bug", "feature"}},
		},
	}
	patch := map[string]any{
		"project": map[string]any{
			"a": map[string]any{"default_labels": []string{"urgent"}},
		},
	}
	merged := deepOverlay(base, patch)
	labels := stringSlice(subMap(subMap(merged, "project"), "a"), "default_labels")
	if len(labels) != 1 || labels[0] != "urgent" {
		t.Fatalf("expected sequence to be replaced entirely, got %v", labels)
	}
}

func TestValidateRejectsUnknownActiveProject(t *testing.T) {
	root := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	writeWorkspaceConfig(t, root, "workspace:\n  active_projects: [\"missing-id\"]\n")
	r := New(root)
	if _, err := r.Resolve(nil); err == nil {
		t.Fatal("expected ConfigError for active_projects referencing an undeclared project")
	}
}

func TestValidateRejectsBadConflictStrategy(t *testing.T) {
	root := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	writeWorkspaceConfig(t, root, "sync:\n  conflict_strategy: bogus\n")
	r := New(root)
	if _, err := r.Resolve(nil); err == nil {
		t.Fatal("expected ConfigError for invalid sync.conflict_strategy")
	}
}

func TestValidateRejectsUnsupportedRemoteScheme(t *testing.T) {
	root := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	writeWorkspaceConfig(t, root, "remote:\n  origin:\n    url: ftp://example.com/repo\n")
	r := New(root)
	if _, err := r.Resolve(nil); err == nil {
		t.Fatal("expected ConfigError for unsupported remote URI scheme")
	}
}

func TestValidProjectAndRemoteResolve(t *testing.T) {
	root := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	writeWorkspaceConfig(t, root, ""+
		"workspace:\n  active_projects: [\"p1\"]\n  default_project: p1\n"+
		"project:\n  p1:\n    name: Widgets\n    vcs_integration: true\n"+
		"remote:\n  origin:\n    url: ssh://git@example.com/repo\n    auth_hint: ssh_key\n")
	r := New(root)
	eff, err := r.Resolve(nil)
	if err != nil {
		t.Fatal(err)
	}
	if eff.Projects["p1"].Name != "Widgets" {
		t.Fatalf("project p1 name = %q", eff.Projects["p1"].Name)
	}
	if eff.Remotes["origin"].AuthHint != AuthSSHKey {
		t.Fatalf("remote auth_hint = %q", eff.Remotes["origin"].AuthHint)
	}
}
