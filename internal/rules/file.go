package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads the global rules file. A missing, unreadable or malformed file
// yields Defaults.
func Load(path string) Rules {
	data, err := os.ReadFile(path)
	if err != nil {
		return Defaults()
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return Defaults()
	}
	return Resolve(raw)
}

// Save normalizes r and writes it to path, creating parent directories.
func Save(path string, r Rules) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create rules dir: %w", err)
	}
	data, err := json.MarshalIndent(r.Normalize(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write rules %s: %w", path, err)
	}
	return nil
}
