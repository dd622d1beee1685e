package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/vozlab/voz/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	r, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(r.All()) != 3 {
		t.Errorf("Expected 3 default agents, got %d", len(r.All()))
	}
	if r.BySlug("health") == nil {
		t.Error("Expected health agent in defaults")
	}
	if r.ByName("city-assistant") == nil {
		t.Error("Expected city-assistant by name")
	}
}

func TestActiveFiltersAndSorts(t *testing.T) {
	r := New([]domain.AgentConfig{
		{Slug: "c", IsActive: true, SortOrder: 3},
		{Slug: "a", IsActive: true, SortOrder: 1},
		{Slug: "off", IsActive: false, SortOrder: 0},
		{Slug: "b", IsActive: true, SortOrder: 2},
	})

	active := r.Active()
	if len(active) != 3 {
		t.Fatalf("Expected 3 active agents, got %d", len(active))
	}
	for i, want := range []string{"a", "b", "c"} {
		if active[i].Slug != want {
			t.Errorf("Position %d: expected %s, got %s", i, want, active[i].Slug)
		}
	}
}

func TestDefaultAgent(t *testing.T) {
	r := New([]domain.AgentConfig{
		{Slug: "second", IsActive: true, SortOrder: 2},
		{Slug: "first", IsActive: true, SortOrder: 1},
	})
	if got := r.Default(); got == nil || got.Slug != "first" {
		t.Errorf("Expected first agent as default, got %v", got)
	}

	empty := New(nil)
	if got := empty.Default(); got != nil {
		t.Errorf("Expected nil default for empty registry, got %v", got)
	}
}

func TestLoadFromFile(t *testing.T) {
	agents := []domain.AgentConfig{
		{Name: "test", Slug: "test", DisplayName: "Test", IsActive: true, SortOrder: 1},
	}
	data, err := json.Marshal(agents)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "agents.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	r, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if r.BySlug("test") == nil {
		t.Error("Expected test agent from file")
	}
}

func TestLoadRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.json")
	if err := os.WriteFile(path, []byte("[]"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Expected error for empty agent list")
	}
}
