// Package nrolist loads the fixed reference list of named research
// organizations that every investigation is screened against.
package nrolist

import (
	"encoding/json"
	"fmt"
	"os"
)

// The list file is an array of objects whose institution-name key varies
// between exports. First present key wins.
var nameFields = []string{"Name", "name", "Institution", "institution"}

// defaultList keeps the service usable when no list file is configured.
var defaultList = []string{
	"A.A. Kharkevich Institute for Information Transmission Problems, IITP, Russian Academy of Sciences (Russia)",
	"Academy of Military Medical Sciences (People's Republic of China)",
	"Academy of Military Science (People's Republic of China)",
}

// Load reads the reference list from path. A missing or empty file falls
// back to the built-in default list rather than failing startup.
func Load(path string) ([]string, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read reference list %s: %w", path, err)
	}
	names, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse reference list %s: %w", path, err)
	}
	if len(names) == 0 {
		return Default(), nil
	}
	return names, nil
}

// Parse extracts institution names from the raw JSON list.
func Parse(raw []byte) ([]string, error) {
	var entries []map[string]any
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	field := ""
	for _, f := range nameFields {
		if _, ok := entries[0][f]; ok {
			field = f
			break
		}
	}
	if field == "" {
		// Unrecognized export shape, use the first key of the first entry.
		for k := range entries[0] {
			field = k
			break
		}
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if v, ok := e[field].(string); ok && v != "" {
			names = append(names, v)
		}
	}
	return names, nil
}

// Default returns a copy of the built-in fallback list.
func Default() []string {
	out := make([]string, len(defaultList))
	copy(out, defaultList)
	return out
}
