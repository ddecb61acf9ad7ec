// Package files collects translation inputs and parses glossaries.
package files

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

// Gather walks root and returns the sorted relative-slash paths of regular
// files whose extension is in extensions (case-insensitive, no dot). include
// and exclude are glob patterns matched against the relative path; include
// patterns, when given, must match; exclude patterns always win.
func Gather(root string, extensions, include, exclude []string) ([]string, error) {
	exts := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimPrefix(ext, "."))
		if ext != "" {
			exts[ext] = struct{}{}
		}
	}

	var matched []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if len(exts) > 0 {
			suffix := strings.ToLower(strings.TrimPrefix(filepath.Ext(p), "."))
			if _, ok := exts[suffix]; !ok {
				return nil
			}
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if len(include) > 0 && !matchAny(include, rel) {
			return nil
		}
		if matchAny(exclude, rel) {
			return nil
		}
		matched = append(matched, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(matched)
	return matched, nil
}

func matchAny(patterns []string, rel string) bool {
	for _, pattern := range patterns {
		if ok, err := path.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// ReadText reads a file as UTF-8 text. Binary files (containing NUL bytes)
// and invalid UTF-8 are rejected.
func ReadText(p string) (string, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", p, err)
	}
	if bytes.ContainsRune(data, 0) {
		return "", fmt.Errorf("%s appears to be a binary file", p)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%s is not valid UTF-8", p)
	}
	return string(data), nil
}

// ReadGlossary parses a source-term to target-term map from a JSON object or
// a two-column CSV file, selected by extension.
func ReadGlossary(p string) (map[string]string, error) {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".json":
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		terms := make(map[string]string)
		if err := json.Unmarshal(data, &terms); err != nil {
			return nil, fmt.Errorf("failed to parse glossary %s: %w", p, err)
		}
		return terms, nil
	case ".csv":
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		reader := csv.NewReader(f)
		reader.FieldsPerRecord = -1
		rows, err := reader.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("failed to parse glossary %s: %w", p, err)
		}
		terms := make(map[string]string)
		for _, row := range rows {
			if len(row) >= 2 {
				terms[strings.TrimSpace(row[0])] = strings.TrimSpace(row[1])
			}
		}
		return terms, nil
	default:
		return nil, fmt.Errorf("unsupported glossary format: %s", filepath.Ext(p))
	}
}
