package internal

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// Reserved control namespace. Declarations under it are rejected, yet its keys
// stay readable in every snapshot under the case-folded root.
const (
	controlRoot      = "fastapiex"
	controlEnvPrefix = "FASTAPIEX__"
	settingsFilename = "settings.yaml"
	dotenvFilename   = ".env"
)

// ReloadMode governs when the YAML source is re-read.
type ReloadMode string

const (
	ReloadOff      ReloadMode = "off"
	ReloadOnChange ReloadMode = "on_change"
	ReloadAlways   ReloadMode = "always"
)

// settingsSource is the resolved configuration identity: where the YAML source
// lives and which key policy applies. Two sources are the same identity only if
// every field matches.
type settingsSource struct {
	settingsPath  string
	envPrefix     string
	caseSensitive bool
	reloadMode    ReloadMode
	reloadEnabled bool
}

// controlState is the runtime control subset read fresh from a control snapshot
// on every decision. Values are never cached across passes.
type controlState struct {
	settingsPath  string
	baseDir       string
	envPrefix     string
	hasEnvPrefix  bool
	caseSensitive any
	reloadMode    any
	reloadEnabled any
}

// readControlState extracts the control keys from a snapshot whose reserved
// namespace is already case-folded (both the control-only and the effective
// materializations guarantee that).
func readControlState(snapshot map[string]any) controlState {
	state := controlState{}
	root, _ := snapshot[controlRoot].(map[string]any)
	if root == nil {
		return state
	}
	snapshot = root
	if raw, ok := controlLookup(snapshot, "settings", "path"); ok {
		state.settingsPath = stringValue(raw)
	}
	if raw, ok := controlLookup(snapshot, "base_dir"); ok {
		state.baseDir = stringValue(raw)
	}
	if raw, ok := controlLookup(snapshot, "settings", "env_prefix"); ok {
		state.envPrefix = stringValue(raw)
		state.hasEnvPrefix = strings.TrimSpace(state.envPrefix) != ""
	}
	if raw, ok := controlLookup(snapshot, "settings", "case_sensitive"); ok {
		state.caseSensitive = raw
	}
	if raw, ok := controlLookup(snapshot, "settings", "reload"); ok {
		state.reloadMode = raw
	}
	if raw, ok := controlLookup(snapshot, "settings", "reload_enabled"); ok {
		state.reloadEnabled = raw
	}
	return state
}

// controlLookup walks the folded control snapshot below the control root.
func controlLookup(snapshot map[string]any, path ...string) (any, bool) {
	var current any = snapshot
	for _, segment := range path {
		mapping, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = mapping[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func stringValue(raw any) string {
	s, _ := raw.(string)
	return s
}

// parseBoolToken folds textual boolean tokens; unrecognized text keeps the default.
func parseBoolToken(raw string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

// parseCaseSensitive interprets the case-sensitivity control. On Windows a true
// value is downgraded to case-insensitive behavior with a warning.
func parseCaseSensitive(raw any, def bool, logger *zap.Logger) bool {
	mode := def
	switch v := raw.(type) {
	case nil:
	case bool:
		mode = v
	case int:
		mode = v != 0
	case float64:
		mode = v != 0
	case string:
		mode = parseBoolToken(v, def)
	default:
		mode = def
	}

	if runtime.GOOS == "windows" && mode {
		logger.Warn("case_sensitive=true is ignored on Windows; falling back to case-insensitive mode")
		return false
	}
	return mode
}

// parseReloadMode interprets the reload-mode control token.
func parseReloadMode(raw any, def ReloadMode, logger *zap.Logger) ReloadMode {
	var token string
	switch v := raw.(type) {
	case nil:
		return def
	case bool:
		if v {
			return ReloadOnChange
		}
		return ReloadOff
	case int:
		if v != 0 {
			return ReloadOnChange
		}
		return ReloadOff
	case float64:
		if v != 0 {
			return ReloadOnChange
		}
		return ReloadOff
	case string:
		token = strings.ToLower(strings.TrimSpace(v))
	}

	switch token {
	case "always":
		return ReloadAlways
	case "on_change", "on-change", "onchange", "true", "1", "yes":
		return ReloadOnChange
	case "off", "false", "0", "no":
		return ReloadOff
	}

	logger.Warn("invalid settings reload mode; falling back to default",
		zap.String("mode", token),
		zap.String("default", string(def)))
	return def
}

// parseReloadEnabled interprets the reload-enable toggle (default true).
func parseReloadEnabled(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return true
	case bool:
		return v
	case int:
		return v != 0
	case float64:
		return v != 0
	case string:
		return parseBoolToken(v, true)
	}
	return true
}

// normalizeOverridePath expands and absolutizes a caller- or control-supplied
// path. A non-YAML path is treated as a directory holding the default filename
// unless asDirectory is set (then it is returned as a directory).
func normalizeOverridePath(raw string, asDirectory bool) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}

	path := expandUser(text)
	if asDirectory {
		return absPath(path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		return absPath(path)
	}
	return absPath(filepath.Join(path, settingsFilename))
}

func expandUser(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return path
}

func absPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// resolveSettingsPath applies the strict precedence chain for the YAML source:
// explicit caller path > control path override > base-dir default filename >
// fallback (previous source) > current-directory default filename.
func resolveSettingsPath(explicit, controlPath, controlBaseDir, fallback string) string {
	if explicit != "" {
		return explicit
	}
	if fromControl := normalizeOverridePath(controlPath, false); fromControl != "" {
		return fromControl
	}
	if baseDir := normalizeOverridePath(controlBaseDir, true); baseDir != "" {
		return absPath(filepath.Join(baseDir, settingsFilename))
	}
	if fallback != "" {
		return fallback
	}
	return absPath(settingsFilename)
}

// resolveEnvPrefix validates a business env prefix. The prefix must not shadow
// the reserved control prefix.
func resolveEnvPrefix(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", nil
	}
	if strings.HasPrefix(strings.ToUpper(value), controlEnvPrefix) {
		return "", Errorf(CodeRegistration,
			"env prefix %q cannot start with reserved prefix %q", value, controlEnvPrefix)
	}
	return value, nil
}

// fileState is the external change indicator for a file-backed source.
type fileState struct {
	path    string
	exists  bool
	mtimeNs int64
	size    int64
}

func fileStateOf(path string) fileState {
	if path == "" {
		return fileState{}
	}
	abs := absPath(path)
	info, err := os.Stat(abs)
	if err != nil {
		return fileState{path: abs}
	}
	return fileState{
		path:    abs,
		exists:  true,
		mtimeNs: info.ModTime().UnixNano(),
		size:    info.Size(),
	}
}
