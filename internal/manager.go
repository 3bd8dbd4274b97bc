package internal

import (
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// syncSpec carries the opt-in re-ingestion flags for one source.
type syncSpec struct {
	onReload     bool
	onPathSwitch bool
}

// syncMode selects how much source re-ingestion a runtime pass performs.
type syncMode int

const (
	syncAuto   syncMode = iota // reload-mode driven (resolve path)
	syncReload                 // forced re-read of reload-synced sources (manual reload)
	syncFull                   // re-read everything (init)
)

// ManagerImpl owns the process-wide settings state: the declaration registry,
// the per-source captures, the resolved source identity, and the materialized
// live snapshot. All entry points serialize on one mutex; the snapshot is built
// fully before being published, so readers only ever see complete merges.
type ManagerImpl struct {
	mu       sync.Mutex
	logger   *zap.Logger
	validate *validator.Validate
	now      func() time.Time

	registry *registry
	store    *liveStore
	source   *settingsSource

	syncSpecs    map[SourceKind]syncSpec
	sourceStates map[SourceKind]fileState

	snapshot        map[string]any
	snapshotVersion int
	snapshotSource  settingsSource
	sectionCache    map[*Section]any

	warnedFallbacks map[string]struct{}
}

// NewManager creates an uninitialized manager. Sources are first ingested by
// Init, or implicitly on the first read.
func NewManager(logger *zap.Logger, validate *validator.Validate) *ManagerImpl {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &ManagerImpl{
		logger:   logger,
		validate: validate,
		now:      time.Now,
		registry: newRegistry(),
		store:    newLiveStore(),
		syncSpecs: map[SourceKind]syncSpec{
			SourceYAML:   {onReload: true, onPathSwitch: true},
			SourceDotenv: {},
			SourceEnv:    {},
		},
		sourceStates:    make(map[SourceKind]fileState),
		sectionCache:    make(map[*Section]any),
		warnedFallbacks: make(map[string]struct{}),
	}
}

// Register declares a typed section. Safe for concurrent use.
func (m *ManagerImpl) Register(rawPath, name string, kind SectionKind, prototype any) error {
	section, err := m.registry.Register(rawPath, name, kind, prototype)
	if err != nil {
		return err
	}
	m.logger.Debug("settings section registered",
		zap.String("path", section.PathText()),
		zap.String("kind", string(kind)),
		zap.String("type", section.Type.String()),
		zap.Int("registry_version", m.registry.Version()))
	return nil
}

// Unregister removes a declared section by type. Unknown types are a no-op.
func (m *ManagerImpl) Unregister(typ reflect.Type) {
	m.registry.Unregister(typ)
}

// SetSourceSync adjusts the opt-in re-ingestion flags for one source.
func (m *ManagerImpl) SetSourceSync(kind SourceKind, onReload, onPathSwitch bool) error {
	if !KnownSource(kind) {
		return Errorf(CodeRegistration, "unknown source %q; expected one of: yaml, dotenv, env", kind)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncSpecs[kind] = syncSpec{onReload: onReload, onPathSwitch: onPathSwitch}
	return nil
}

// Init resolves the source identity (explicit arguments > env-provided controls
// > defaults), ingests every source, and publishes the first snapshot.
// A second Init with a different resolved source is a conflict; an identical
// one refreshes and returns the current snapshot.
func (m *ManagerImpl) Init(explicitPath, explicitPrefix string, hasPrefix bool) (map[string]any, error) {
	source, err := m.resolveInitialSource(explicitPath, explicitPrefix, hasPrefix)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.source != nil && *m.source != source {
		return nil, Errorf(CodeConflict,
			"settings already initialized with a different source (current=%+v, requested=%+v)",
			*m.source, source)
	}
	m.source = &source

	if err := m.prepareLocked(syncFull, false); err != nil {
		return nil, err
	}
	m.logger.Info("settings initialized",
		zap.String("path", source.settingsPath),
		zap.String("env_prefix", source.envPrefix),
		zap.Bool("case_sensitive", source.caseSensitive),
		zap.String("reload_mode", string(source.reloadMode)))
	return m.snapshot, nil
}

// Reload forces a re-read of reload-synced sources regardless of mode. The
// reason is observability-only.
func (m *ManagerImpl) Reload(reason string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.prepareLocked(syncReload, false); err != nil {
		return nil, err
	}
	m.logger.Info("settings reloaded", zap.String("reason", reason))
	return m.snapshot, nil
}

// Snapshot returns the current live merged snapshot, initializing implicitly
// if needed. The returned mapping aliases internal state by contract.
func (m *ManagerImpl) Snapshot() (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.prepareLocked(syncAuto, true); err != nil {
		return nil, err
	}
	return m.snapshot, nil
}

// Resolve evaluates one query against the current snapshot, applying the
// registered -> raw path -> default -> error fallback chain.
func (m *ManagerImpl) Resolve(req Request) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.prepareLocked(syncAuto, true); err != nil {
		return nil, err
	}

	res := &resolver{
		snapshot:      m.snapshot,
		registry:      m.registry,
		caseSensitive: m.source.caseSensitive,
		validate:      m.validate,
		cache:         m.sectionCache,
	}

	value, err := res.evaluate(req)
	if err == nil {
		return value, nil
	}

	switch {
	case isMiss(err):
		if req.HasDefault {
			return m.defaultValue(req)
		}
		return nil, WrapError(CodeResolve, m.describeRequest(req), err)
	case IsCode(err, CodeValidation):
		if req.HasDefault {
			m.warnValidationFallbackLocked(req, err)
			return m.defaultValue(req)
		}
		return nil, err
	default:
		return nil, err
	}
}

// defaultValue returns the caller default verbatim; a mapping query requires a
// mapping-shaped default.
func (m *ManagerImpl) defaultValue(req Request) (any, error) {
	if req.API == APIMap && !isMapping(req.Default) {
		return nil, NewError(CodeResolve, "default value for a mapping query must be a mapping")
	}
	return req.Default, nil
}

func (m *ManagerImpl) describeRequest(req Request) string {
	target := req.TargetPath
	if req.TargetType != nil {
		target = req.TargetType.String()
	}
	if req.Field != "" {
		return fmt.Sprintf("resolve target=%q field=%q", target, req.Field)
	}
	return fmt.Sprintf("resolve target=%q", target)
}

func (m *ManagerImpl) warnValidationFallbackLocked(req Request, err error) {
	key := m.source.settingsPath + "|" + m.describeRequest(req) + "|" + err.Error()
	if _, seen := m.warnedFallbacks[key]; seen {
		return
	}
	m.warnedFallbacks[key] = struct{}{}
	m.logger.Warn("settings validation failed; falling back to default",
		zap.String("query", m.describeRequest(req)),
		zap.Error(err))
}

// prepareLocked brings the runtime current for one pass: source identity,
// mode-appropriate source sync, control convergence, snapshot refresh.
func (m *ManagerImpl) prepareLocked(mode syncMode, implicit bool) error {
	if err := m.ensureSourceLocked(implicit); err != nil {
		return err
	}

	var (
		changed bool
		err     error
	)
	switch mode {
	case syncFull:
		changed, err = m.reloadAllLocked()
	case syncReload:
		changed, err = m.syncSelectedLocked(true, func(s syncSpec) bool { return s.onReload })
	case syncAuto:
		changed, err = m.autoSyncLocked()
	}
	if err != nil {
		return err
	}

	force := mode == syncFull || mode == syncReload
	if force || changed || m.snapshot == nil {
		if err := m.convergeControlsLocked(); err != nil {
			return err
		}
	}

	m.refreshSnapshotLocked()
	return nil
}

// ensureSourceLocked resolves a default source identity when reads happen
// before an explicit Init. Non-implicit entry points require initialization.
func (m *ManagerImpl) ensureSourceLocked(implicit bool) error {
	if m.source != nil {
		return nil
	}
	if !implicit {
		return NewError(CodeConflict, "settings are not initialized")
	}

	source, err := m.resolveInitialSource("", "", false)
	if err != nil {
		return err
	}
	m.source = &source
	if _, err := m.reloadAllLocked(); err != nil {
		return err
	}
	m.logger.Info("settings initialized implicitly",
		zap.String("path", source.settingsPath))
	return nil
}

// resolveInitialSource evaluates the init-time precedence chain once: explicit
// arguments beat env-provided controls, which beat defaults.
func (m *ManagerImpl) resolveInitialSource(explicitPath, explicitPrefix string, hasPrefix bool) (settingsSource, error) {
	envControls := newLiveStore()
	envControls.ReplaceSource(readEnvSource(m.now()))
	state := readControlState(envControls.materializeControl())

	prefixRaw := state.envPrefix
	if hasPrefix {
		prefixRaw = explicitPrefix
	}
	prefix, err := resolveEnvPrefix(prefixRaw)
	if err != nil {
		return settingsSource{}, err
	}

	return settingsSource{
		settingsPath:  resolveSettingsPath(normalizeOverridePath(explicitPath, false), state.settingsPath, state.baseDir, ""),
		envPrefix:     prefix,
		caseSensitive: parseCaseSensitive(state.caseSensitive, false, m.logger),
		reloadMode:    parseReloadMode(state.reloadMode, ReloadOff, m.logger),
		reloadEnabled: parseReloadEnabled(state.reloadEnabled),
	}, nil
}

// buildSourceFromControlsLocked re-derives the source identity from the live
// control namespace, keeping the current path and prefix as fallbacks when the
// corresponding control keys are absent.
func (m *ManagerImpl) buildSourceFromControlsLocked(state controlState) (settingsSource, error) {
	prefixRaw := m.source.envPrefix
	if state.hasEnvPrefix {
		prefixRaw = state.envPrefix
	}
	prefix, err := resolveEnvPrefix(prefixRaw)
	if err != nil {
		return settingsSource{}, err
	}
	return settingsSource{
		settingsPath:  resolveSettingsPath("", state.settingsPath, state.baseDir, m.source.settingsPath),
		envPrefix:     prefix,
		caseSensitive: parseCaseSensitive(state.caseSensitive, false, m.logger),
		reloadMode:    parseReloadMode(state.reloadMode, ReloadOff, m.logger),
		reloadEnabled: parseReloadEnabled(state.reloadEnabled),
	}, nil
}

// convergeControlsLocked folds runtime control values back into the source
// identity. A path switch re-ingests the path-switch-synced sources and loops;
// revisiting an earlier path is a cycle and keeps the current location.
func (m *ManagerImpl) convergeControlsLocked() error {
	visited := map[string]bool{m.source.settingsPath: true}

	for {
		state := readControlState(m.store.materializeControl())
		next, err := m.buildSourceFromControlsLocked(state)
		if err != nil {
			return err
		}

		if next.settingsPath != m.source.settingsPath {
			if visited[next.settingsPath] {
				m.logger.Warn("settings path control cycle detected; keeping current path",
					zap.String("path", m.source.settingsPath))
				next.settingsPath = m.source.settingsPath
				m.source = &next
				return nil
			}
			visited[next.settingsPath] = true
			m.source = &next
			m.logger.Info("settings path switched", zap.String("path", next.settingsPath))
			if _, err := m.syncSelectedLocked(true, func(s syncSpec) bool { return s.onPathSwitch }); err != nil {
				return err
			}
			continue
		}

		m.source = &next
		return nil
	}
}

// autoSyncLocked applies the reload-mode state machine on the resolve path.
// Mode and the reload-enable toggle are read fresh from the current live
// snapshot so operators can flip them between passes.
func (m *ManagerImpl) autoSyncLocked() (bool, error) {
	mode := m.source.reloadMode
	enabled := m.source.reloadEnabled
	if m.snapshot != nil {
		state := readControlState(m.snapshot)
		mode = parseReloadMode(state.reloadMode, mode, m.logger)
		enabled = parseReloadEnabled(state.reloadEnabled)
	}

	if !enabled || mode == ReloadOff {
		return false, nil
	}
	force := mode == ReloadAlways
	return m.syncSelectedLocked(force, func(s syncSpec) bool { return s.onReload })
}

// reloadAllLocked re-reads every source in one pass. All records share one
// observation time, so priority alone breaks their ties.
func (m *ManagerImpl) reloadAllLocked() (bool, error) {
	now := m.now()
	records := make(map[SourceKind]SourceRecord, len(sourceOrder))
	states := make(map[SourceKind]fileState, len(sourceOrder))

	for _, kind := range sourceOrder {
		record, err := m.readSourceLocked(kind, now)
		if err != nil {
			return false, err
		}
		records[kind] = record
		states[kind] = record.State
	}

	m.store.ResetAll(records)
	m.sourceStates = states
	m.logger.Debug("settings sources loaded", zap.String("path", m.source.settingsPath))
	return true, nil
}

// syncSelectedLocked re-ingests the sources picked by the selector. Without
// force, file-backed sources are skipped when their change state is unchanged.
func (m *ManagerImpl) syncSelectedLocked(force bool, selected func(syncSpec) bool) (bool, error) {
	now := m.now()
	changed := false

	for _, kind := range sourceOrder {
		if !selected(m.syncSpecs[kind]) {
			continue
		}
		if !force && kind != SourceEnv {
			current := m.currentStateLocked(kind)
			if previous, ok := m.sourceStates[kind]; ok && previous == current {
				continue
			}
		}
		record, err := m.readSourceLocked(kind, now)
		if err != nil {
			return changed, err
		}
		m.store.ReplaceSource(record)
		m.sourceStates[kind] = record.State
		changed = true
	}
	return changed, nil
}

func (m *ManagerImpl) currentStateLocked(kind SourceKind) fileState {
	switch kind {
	case SourceYAML:
		return fileStateOf(m.source.settingsPath)
	case SourceDotenv:
		return fileStateOf(filepath.Join(filepath.Dir(m.source.settingsPath), dotenvFilename))
	}
	return fileState{}
}

func (m *ManagerImpl) readSourceLocked(kind SourceKind, now time.Time) (SourceRecord, error) {
	switch kind {
	case SourceYAML:
		return readYAMLSource(m.source.settingsPath, now)
	case SourceDotenv:
		return readDotenvSource(filepath.Dir(m.source.settingsPath), now)
	default:
		return readEnvSource(now), nil
	}
}

// refreshSnapshotLocked replaces the published snapshot when the store or the
// source identity moved. The new snapshot is built fully before the swap, and
// the section cache is dropped with the old snapshot so the next resolve
// constructs fresh instances.
func (m *ManagerImpl) refreshSnapshotLocked() {
	if m.snapshot != nil && m.snapshotVersion == m.store.Version() && m.snapshotSource == *m.source {
		return
	}
	m.snapshot = m.store.materializeEffective(m.source.envPrefix, m.source.caseSensitive, m.logger)
	m.snapshotVersion = m.store.Version()
	m.snapshotSource = *m.source
	m.sectionCache = make(map[*Section]any)
	m.logger.Debug("settings snapshot refreshed",
		zap.Int("version", m.snapshotVersion),
		zap.Int("keys", len(m.snapshot)))
}
