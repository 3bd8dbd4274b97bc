package internal

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// SourceKind names one of the three ingestion sources.
type SourceKind string

const (
	SourceYAML   SourceKind = "yaml"
	SourceDotenv SourceKind = "dotenv"
	SourceEnv    SourceKind = "env"
)

// sourceOrder lists sources by ascending priority. Equal observation times are
// broken by this priority: env > dotenv > yaml.
var sourceOrder = []SourceKind{SourceYAML, SourceDotenv, SourceEnv}

func sourcePriority(kind SourceKind) int {
	switch kind {
	case SourceYAML:
		return 1
	case SourceDotenv:
		return 2
	case SourceEnv:
		return 3
	}
	return 0
}

// KnownSource reports whether kind names one of the ingestion sources.
func KnownSource(kind SourceKind) bool {
	return sourcePriority(kind) != 0
}

// sourceEntry is one flat raw value captured from a source, keyed by its raw,
// un-normalized path. Env and dotenv entries carry the whole variable name as a
// single segment; segmentation and folding happen at projection time so the
// active key policy is applied fresh on every materialization.
type sourceEntry struct {
	path  []string
	value any
}

// SourceRecord is one source capture: flat raw entries plus the observation
// time used for last-write-wins merging and the file change state, if any.
type SourceRecord struct {
	Kind       SourceKind
	Entries    []sourceEntry
	ObservedAt time.Time
	State      fileState
}

// readYAMLSource parses the structured settings document at path. A missing
// file yields an empty record, not an error. The top level must be a mapping.
func readYAMLSource(path string, now time.Time) (SourceRecord, error) {
	record := SourceRecord{Kind: SourceYAML, ObservedAt: now, State: fileStateOf(path)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return record, nil
		}
		return record, WrapError(CodeValidation, "read settings file", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return record, WrapError(CodeValidation, "parse settings file", err)
	}

	record.Entries = flattenMapping(nil, raw)
	return record, nil
}

// readDotenvSource parses KEY=value lines from the .env file next to the
// settings document. Values keep godotenv's quote and comment handling and are
// re-interpreted as typed scalars at projection time. godotenv also expands
// $VAR references in unquoted and double-quoted values; single-quote a value
// to keep it literal.
func readDotenvSource(dir string, now time.Time) (SourceRecord, error) {
	path := filepath.Join(dir, dotenvFilename)
	record := SourceRecord{Kind: SourceDotenv, ObservedAt: now, State: fileStateOf(path)}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return record, nil
	}

	values, err := godotenv.Read(path)
	if err != nil {
		return record, WrapError(CodeValidation, "parse dotenv file", err)
	}

	record.Entries = make([]sourceEntry, 0, len(values))
	for key, value := range values {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		record.Entries = append(record.Entries, sourceEntry{path: []string{key}, value: value})
	}
	return record, nil
}

// readEnvSource snapshots the process environment. Keys are stored whole; the
// split/prefix policy is applied per materialization pass.
func readEnvSource(now time.Time) SourceRecord {
	environ := os.Environ()
	record := SourceRecord{Kind: SourceEnv, ObservedAt: now}
	record.Entries = make([]sourceEntry, 0, len(environ))

	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		record.Entries = append(record.Entries, sourceEntry{path: []string{key}, value: value})
	}
	return record
}

// flattenMapping linearizes a nested mapping into flat path entries. Empty
// nested mappings survive as empty-map values so they stay observable.
func flattenMapping(prefix []string, mapping map[string]any) []sourceEntry {
	entries := make([]sourceEntry, 0, len(mapping))
	for key, value := range mapping {
		path := append(append([]string{}, prefix...), key)
		if nested, ok := value.(map[string]any); ok {
			if len(nested) == 0 {
				entries = append(entries, sourceEntry{path: path, value: map[string]any{}})
				continue
			}
			entries = append(entries, flattenMapping(path, nested)...)
			continue
		}
		entries = append(entries, sourceEntry{path: path, value: value})
	}
	return entries
}
