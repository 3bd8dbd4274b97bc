package internal

import (
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"
	"time"
)

func writeFixture(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s) error = %v", name, err)
	}
	return path
}

func entriesByPath(record SourceRecord) map[string]any {
	out := make(map[string]any, len(record.Entries))
	for _, entry := range record.Entries {
		out[strings.Join(entry.path, ".")] = entry.value
	}
	return out
}

func TestReadYAMLSource(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, "settings.yaml", `
app:
  title: demo
  workers: 4
services:
  api:
    url: http://localhost
empty: {}
`)

	now := time.Now()
	record, err := readYAMLSource(path, now)
	if err != nil {
		t.Fatalf("readYAMLSource() error = %v", err)
	}
	if record.Kind != SourceYAML || !record.ObservedAt.Equal(now) {
		t.Errorf("record metadata = %+v", record)
	}
	if !record.State.exists {
		t.Error("file state should report the settings file as present")
	}

	got := entriesByPath(record)
	want := map[string]any{
		"app.title":        "demo",
		"app.workers":      4,
		"services.api.url": "http://localhost",
		"empty":            map[string]any{},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("entries = %#v, want %#v", got, want)
	}
}

func TestReadYAMLSource_Missing(t *testing.T) {
	record, err := readYAMLSource(filepath.Join(t.TempDir(), "absent.yaml"), time.Now())
	if err != nil {
		t.Fatalf("missing file should not error, got %v", err)
	}
	if len(record.Entries) != 0 {
		t.Errorf("missing file entries = %v, want none", record.Entries)
	}
	if record.State.exists {
		t.Error("missing file state should report exists=false")
	}
}

func TestReadYAMLSource_Malformed(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, "settings.yaml", "app: [unclosed\n")

	_, err := readYAMLSource(path, time.Now())
	if !IsCode(err, CodeValidation) {
		t.Errorf("malformed yaml error = %v, want VALIDATION code", err)
	}
}

func TestReadDotenvSource(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, ".env", `
APP__DB__HOST=localhost
APP__DB__PORT=5432
QUOTED="hello world"
`)

	record, err := readDotenvSource(dir, time.Now())
	if err != nil {
		t.Fatalf("readDotenvSource() error = %v", err)
	}
	if record.Kind != SourceDotenv {
		t.Errorf("kind = %v", record.Kind)
	}

	got := entriesByPath(record)
	// Dotenv values stay raw strings; scalar typing happens at projection.
	want := map[string]any{
		"APP__DB__HOST": "localhost",
		"APP__DB__PORT": "5432",
		"QUOTED":        "hello world",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("entries = %#v, want %#v", got, want)
	}
}

func TestReadDotenvSource_Missing(t *testing.T) {
	record, err := readDotenvSource(t.TempDir(), time.Now())
	if err != nil {
		t.Fatalf("missing dotenv should not error, got %v", err)
	}
	if len(record.Entries) != 0 {
		t.Errorf("entries = %v, want none", record.Entries)
	}
}

func TestReadEnvSource(t *testing.T) {
	t.Setenv("SOURCES_TEST_KEY", "value-1")

	record := readEnvSource(time.Now())
	if record.Kind != SourceEnv {
		t.Errorf("kind = %v", record.Kind)
	}

	got := entriesByPath(record)
	if got["SOURCES_TEST_KEY"] != "value-1" {
		t.Errorf("env entry = %v, want value-1", got["SOURCES_TEST_KEY"])
	}
	for _, entry := range record.Entries {
		if len(entry.path) != 1 {
			t.Fatalf("env entries must be single-segment, got %v", entry.path)
		}
	}
}

func TestFlattenMapping(t *testing.T) {
	entries := flattenMapping(nil, map[string]any{
		"a": map[string]any{
			"b": 1,
			"c": map[string]any{},
		},
		"d": []any{1, 2},
	})

	paths := make([]string, len(entries))
	for i, entry := range entries {
		paths[i] = strings.Join(entry.path, ".")
	}
	sort.Strings(paths)
	want := []string{"a.b", "a.c", "d"}
	if !reflect.DeepEqual(paths, want) {
		t.Errorf("flattened paths = %v, want %v", paths, want)
	}
}

func TestSourcePriority(t *testing.T) {
	if !(sourcePriority(SourceEnv) > sourcePriority(SourceDotenv) &&
		sourcePriority(SourceDotenv) > sourcePriority(SourceYAML)) {
		t.Error("priority order must be env > dotenv > yaml")
	}
	if KnownSource("bogus") {
		t.Error("bogus source kind should be unknown")
	}
	if !KnownSource(SourceYAML) {
		t.Error("yaml must be a known source")
	}
}
