package scenario

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a scenario file. The format follows the extension:
// .json, .yaml or .yml.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}
	var sc Scenario
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &sc); err != nil {
			return nil, fmt.Errorf("parse scenario %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &sc); err != nil {
			return nil, fmt.Errorf("parse scenario %s: %w", path, err)
		}
	}
	return &sc, nil
}

// ListFiles returns the scenario file names found in dir, sorted.
// A missing directory yields an empty list.
func ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list scenarios %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".json", ".yaml", ".yml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Signature identifies a (file, scenario) pair. Callers compare signatures
// to decide whether a director built from the scenario is still current.
func Signature(file string, sc *Scenario) (string, error) {
	payload, err := json.Marshal(struct {
		File     string    `json:"file"`
		Scenario *Scenario `json:"scenario"`
	}{file, sc})
	if err != nil {
		return "", fmt.Errorf("scenario signature: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
