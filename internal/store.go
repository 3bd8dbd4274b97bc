package internal

import (
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// liveStore holds the latest capture of every source. Merged snapshots are
// materialized from it on demand so the active key policy (prefix, case mode)
// is always applied fresh rather than frozen at ingestion time.
type liveStore struct {
	records map[SourceKind]SourceRecord
	version int
}

func newLiveStore() *liveStore {
	return &liveStore{records: make(map[SourceKind]SourceRecord)}
}

// Version increments whenever any source capture is replaced.
func (s *liveStore) Version() int {
	return s.version
}

// ResetAll replaces every source capture in one step.
func (s *liveStore) ResetAll(records map[SourceKind]SourceRecord) {
	s.records = make(map[SourceKind]SourceRecord, len(records))
	for kind, record := range records {
		s.records[kind] = record
	}
	s.version++
}

// ReplaceSource swaps a single source capture.
func (s *liveStore) ReplaceSource(record SourceRecord) {
	s.records[record.Kind] = record
	s.version++
}

// Record returns the current capture for a source kind.
func (s *liveStore) Record(kind SourceKind) (SourceRecord, bool) {
	record, ok := s.records[kind]
	return record, ok
}

// projector maps one raw source entry to a normalized snapshot path, or drops it.
type projector func(entry sourceEntry, kind SourceKind) ([]string, any, bool)

// materializeEffective builds the merged business snapshot under the active
// env-prefix and case mode.
func (s *liveStore) materializeEffective(envPrefix string, caseSensitive bool, logger *zap.Logger) map[string]any {
	return s.materialize(effectiveProjector(envPrefix, caseSensitive, logger))
}

// materializeControl builds the merged control-namespace snapshot. Control keys
// always fold case-insensitively regardless of the active mode.
func (s *liveStore) materializeControl() map[string]any {
	return s.materialize(controlProjector)
}

type mergeWinner struct {
	path  []string
	value any
	at    time.Time
	prio  int
}

// materialize merges all source captures key-wise: for every projected path the
// record with the latest observation time wins; exact ties fall to the fixed
// source priority env > dotenv > yaml. It never fails; malformed values ride
// along untyped and only surface at validation time.
func (s *liveStore) materialize(project projector) map[string]any {
	winners := make(map[string]mergeWinner)

	for _, kind := range sourceOrder {
		record, ok := s.records[kind]
		if !ok {
			continue
		}
		prio := sourcePriority(kind)
		for _, entry := range record.Entries {
			path, value, ok := project(entry, kind)
			if !ok {
				continue
			}
			key := strings.Join(path, "\x1f")
			existing, exists := winners[key]
			if exists && !laterWins(record.ObservedAt, prio, existing.at, existing.prio) {
				continue
			}
			winners[key] = mergeWinner{path: path, value: value, at: record.ObservedAt, prio: prio}
		}
	}

	return buildSnapshot(winners)
}

// laterWins orders (observation time, priority) pairs; strictly greater replaces.
func laterWins(at time.Time, prio int, existingAt time.Time, existingPrio int) bool {
	if at.After(existingAt) {
		return true
	}
	if at.Before(existingAt) {
		return false
	}
	return prio > existingPrio
}

// buildSnapshot rebuilds the nested mapping from per-path winners. Writes are
// ordered by (time, priority, depth, path) so structural conflicts between a
// scalar and a deeper path resolve deterministically in favor of later writes.
func buildSnapshot(winners map[string]mergeWinner) map[string]any {
	ordered := make([]mergeWinner, 0, len(winners))
	for _, w := range winners {
		ordered = append(ordered, w)
	}
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if !a.at.Equal(b.at) {
			return a.at.Before(b.at)
		}
		if a.prio != b.prio {
			return a.prio < b.prio
		}
		if len(a.path) != len(b.path) {
			return len(a.path) < len(b.path)
		}
		return strings.Join(a.path, "\x1f") < strings.Join(b.path, "\x1f")
	})

	merged := make(map[string]any)
	for _, w := range ordered {
		setNestedForce(merged, w.path, w.value)
	}
	return merged
}

// setNestedForce writes value at path, replacing any non-mapping intermediates.
func setNestedForce(target map[string]any, path []string, value any) {
	cursor := target
	for _, part := range path[:len(path)-1] {
		existing, ok := cursor[part].(map[string]any)
		if !ok {
			existing = make(map[string]any)
			cursor[part] = existing
		}
		cursor = existing
	}
	cursor[path[len(path)-1]] = value
}

// effectiveProjector normalizes business entries: YAML paths pass through with
// their original case (folding happens at lookup time), env-like keys are
// prefix-stripped, segmented, and their values parsed into typed scalars.
func effectiveProjector(envPrefix string, caseSensitive bool, logger *zap.Logger) projector {
	return func(entry sourceEntry, kind SourceKind) ([]string, any, bool) {
		if kind == SourceYAML {
			if len(entry.path) == 0 {
				return nil, nil, false
			}
			// Reserved control keys stay readable in the effective snapshot,
			// always case-folded regardless of the active mode.
			if isControlRoot(entry.path[0]) {
				folded := make([]string, len(entry.path))
				for i, segment := range entry.path {
					folded[i] = strings.ToLower(segment)
				}
				return folded, entry.value, true
			}
			return entry.path, entry.value, true
		}
		return projectEnvEntry(entry, func(key string) []string {
			return keyToParts(key, envPrefix, caseSensitive, logger)
		})
	}
}

// controlProjector extracts only the reserved control namespace, case-folded.
func controlProjector(entry sourceEntry, kind SourceKind) ([]string, any, bool) {
	if kind == SourceYAML {
		if len(entry.path) == 0 || !isControlRoot(entry.path[0]) {
			return nil, nil, false
		}
		folded := make([]string, len(entry.path))
		for i, segment := range entry.path {
			folded[i] = strings.ToLower(segment)
		}
		return folded, entry.value, true
	}
	return projectEnvEntry(entry, controlEnvKeyToParts)
}

func controlEnvKeyToParts(key string) []string {
	if !strings.HasPrefix(strings.ToUpper(key), controlEnvPrefix) {
		return nil
	}
	raw := strings.Split(key, envKeySeparator)
	parts := make([]string, len(raw))
	for i, part := range raw {
		if part == "" {
			return nil
		}
		parts[i] = strings.ToLower(part)
	}
	return parts
}

func projectEnvEntry(entry sourceEntry, keyToPath func(string) []string) ([]string, any, bool) {
	if len(entry.path) != 1 {
		return nil, nil, false
	}
	parts := keyToPath(entry.path[0])
	if parts == nil {
		return nil, nil, false
	}
	if text, ok := entry.value.(string); ok {
		return parts, parseScalar(text), true
	}
	return parts, entry.value, true
}
