package rules

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "rules.json")

	list := []Rule{
		{
			ID:        "allow-small",
			Name:      "allow small amounts",
			Condition: Condition{Field: "payload.amount", Op: OpLte, Value: float64(10)},
			Action:    ActionAllow,
			Priority:  100,
			Enabled:   true,
		},
		{
			ID:        "deny-delete",
			Name:      "deny deletions",
			Condition: Condition{Field: "type", Op: OpEq, Value: "delete"},
			Action:    ActionDeny,
			Priority:  50,
			Enabled:   false,
		},
	}
	if err := SaveFile(path, list); err != nil {
		t.Fatalf("SaveFile error: %v", err)
	}

	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(got))
	}
	if got[0].ID != "allow-small" || got[0].Priority != 100 {
		t.Fatalf("first rule mangled: %+v", got[0])
	}
	if got[1].Enabled {
		t.Fatal("disabled flag lost in round trip")
	}
}

func TestLoadFileMissingIsEmpty(t *testing.T) {
	got, err := LoadFile(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing file, got %+v", got)
	}
}

func TestLoadFileRejectsInvalidRule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	bad := `[{"id": "", "action": "allow", "condition": {"field": "type", "op": "eq", "value": "x"}}]`
	if err := os.WriteFile(path, []byte(bad), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for rule without id")
	}
}
