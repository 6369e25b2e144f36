package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// LoadFile reads a rule list from a JSON file. A missing file is an
// empty rule set, not an error.
func LoadFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var list []Rule
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	for i := range list {
		if err := validateRule(list[i]); err != nil {
			return nil, fmt.Errorf("rules file %s: %w", path, err)
		}
	}
	return list, nil
}

// SaveFile writes the rule list as indented JSON, creating the parent
// directory when needed.
func SaveFile(path string, list []Rule) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create rules directory: %w", err)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}
