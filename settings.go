package settings

import (
	"reflect"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ArakawaHenri/fastapiex-settings/internal"
)

// SectionKind is the declared cardinality of a settings section.
type SectionKind string

const (
	// SectionObject declares a single typed object at the section path.
	SectionObject SectionKind = "object"
	// SectionMap declares a map of typed objects keyed by arbitrary names.
	SectionMap SectionKind = "map"
)

// SourceKind identifies one ingestion source.
type SourceKind string

const (
	SourceYAML   SourceKind = "yaml"
	SourceDotenv SourceKind = "dotenv"
	SourceEnv    SourceKind = "env"
)

// Section declares one configuration unit: a dotted path bound to a typed
// prototype. The prototype must be a pointer to a struct; its field values
// are the section defaults and its validate tags are the shape constraints.
type Section struct {
	Path      string      // Dotted section path; derived from the type name when empty
	Name      string      // Explicit name override, used when Path is empty
	Kind      SectionKind // Object (default) or Map
	Prototype any         // Pointer to the defaults struct
}

// Manager owns the settings runtime: source identity, section registry, and
// the live merged snapshot. Safe for concurrent use.
type Manager struct {
	impl *internal.ManagerImpl
}

// Option configures a Manager.
type Option func(*managerConfig)

type managerConfig struct {
	logger   *zap.Logger
	validate *validator.Validate
}

// WithLogger sets the logger for manager operations. Defaults to a no-op.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *managerConfig) {
		cfg.logger = logger
	}
}

// WithValidator sets the validator used for section shape checks.
func WithValidator(v *validator.Validate) Option {
	return func(cfg *managerConfig) {
		cfg.validate = v
	}
}

// NewManager creates an uninitialized settings manager. Sources are ingested
// by Init, or implicitly on the first read.
func NewManager(opts ...Option) *Manager {
	var cfg managerConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Manager{impl: internal.NewManager(cfg.logger, cfg.validate)}
}

// Register declares a typed section. Registering the same type at the same
// path again is a no-op; conflicting declarations fail with a REGISTRATION
// error.
func (m *Manager) Register(sec Section) error {
	kind := sec.Kind
	if kind == "" {
		kind = SectionObject
	}
	return m.impl.Register(sec.Path, sec.Name, internal.SectionKind(kind), sec.Prototype)
}

// Unregister removes the section declared for T. Unknown types are a no-op.
func Unregister[T any](m *Manager) {
	m.impl.Unregister(reflect.TypeOf((*T)(nil)).Elem())
}

// InitOption configures source resolution at initialization.
type InitOption func(*initConfig)

type initConfig struct {
	path      string
	prefix    string
	hasPrefix bool
}

// WithSettingsPath pins the settings file location, overriding the
// environment-provided controls. A directory is interpreted as holding a
// settings.yaml file.
func WithSettingsPath(path string) InitOption {
	return func(cfg *initConfig) {
		cfg.path = path
	}
}

// WithEnvPrefix sets the prefix stripped from business environment keys,
// overriding FASTAPIEX__SETTINGS__ENV_PREFIX. The empty string disables
// prefix stripping.
func WithEnvPrefix(prefix string) InitOption {
	return func(cfg *initConfig) {
		cfg.prefix = prefix
		cfg.hasPrefix = true
	}
}

// Init resolves the source identity, ingests every source, and returns the
// initial effective snapshot. A second Init with a different resolved source
// fails with a CONFLICT error; an identical one refreshes and returns the
// current snapshot.
func (m *Manager) Init(opts ...InitOption) (map[string]any, error) {
	var cfg initConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return m.impl.Init(cfg.path, cfg.prefix, cfg.hasPrefix)
}

// Reload forces a re-read of reload-synced sources regardless of the active
// reload mode. The reason is observability-only.
func (m *Manager) Reload(reason string) (map[string]any, error) {
	return m.impl.Reload(reason)
}

// Snapshot returns the live effective snapshot, initializing implicitly when
// needed. The returned mapping aliases internal state by contract.
func (m *Manager) Snapshot() (map[string]any, error) {
	return m.impl.Snapshot()
}

// SetSourceSync adjusts the opt-in re-ingestion flags for one source. By
// default only the YAML source participates in reload and path-switch sync.
func (m *Manager) SetSourceSync(kind SourceKind, onReload, onPathSwitch bool) error {
	return m.impl.SetSourceSync(internal.SourceKind(kind), onReload, onPathSwitch)
}

// ResolveOption refines a single query.
type ResolveOption func(*resolveConfig)

type resolveConfig struct {
	field      string
	hasField   bool
	def        any
	hasDefault bool
}

// Field projects a single field out of the resolved value. A blank field name
// is a hard RESOLVE error.
func Field(name string) ResolveOption {
	return func(cfg *resolveConfig) {
		cfg.field = name
		cfg.hasField = true
	}
}

// Default supplies a fallback returned verbatim when the query misses or the
// resolved data fails its declared shape.
func Default(value any) ResolveOption {
	return func(cfg *resolveConfig) {
		cfg.def = value
		cfg.hasDefault = true
	}
}

func buildResolveConfig(opts []ResolveOption) resolveConfig {
	var cfg resolveConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (cfg resolveConfig) request(api internal.ResolveAPI) internal.Request {
	return internal.Request{
		API:        api,
		Field:      cfg.field,
		HasField:   cfg.hasField,
		Default:    cfg.def,
		HasDefault: cfg.hasDefault,
	}
}

// Resolve answers a dotted-path query: a declared section when one matches,
// the raw snapshot subtree otherwise, the caller default as a last resort.
func (m *Manager) Resolve(target string, opts ...ResolveOption) (any, error) {
	req := buildResolveConfig(opts).request(internal.APISettings)
	req.TargetPath = target
	return m.impl.Resolve(req)
}

// ResolveMap answers a mapping query. An empty target selects the sole
// declared map section; a non-mapping result (or default) is an error.
func (m *Manager) ResolveMap(target string, opts ...ResolveOption) (map[string]any, error) {
	req := buildResolveConfig(opts).request(internal.APIMap)
	req.TargetPath = target
	value, err := m.impl.Resolve(req)
	if err != nil {
		return nil, err
	}
	mapping, ok := value.(map[string]any)
	if !ok {
		return nil, internal.Errorf(internal.CodeResolve,
			"mapping query returned %T", value)
	}
	return mapping, nil
}

// ResolveAs answers a type-target query: the section registered for T is
// constructed from the current snapshot. The default, when supplied, must be
// a *T.
func ResolveAs[T any](m *Manager, opts ...ResolveOption) (*T, error) {
	req := buildResolveConfig(opts).request(internal.APISettings)
	req.TargetType = reflect.TypeOf((*T)(nil)).Elem()
	value, err := m.impl.Resolve(req)
	if err != nil {
		return nil, err
	}
	typed, ok := value.(*T)
	if !ok {
		return nil, internal.Errorf(internal.CodeResolve,
			"type target %s resolved to %T", req.TargetType, value)
	}
	return typed, nil
}

// ResolveMapOf answers a typed mapping query: the map section registered for
// T, with every entry constructed and validated.
func ResolveMapOf[T any](m *Manager, opts ...ResolveOption) (map[string]*T, error) {
	req := buildResolveConfig(opts).request(internal.APIMap)
	req.TargetType = reflect.TypeOf((*T)(nil)).Elem()
	value, err := m.impl.Resolve(req)
	if err != nil {
		return nil, err
	}
	mapping, ok := value.(map[string]any)
	if !ok {
		return nil, internal.Errorf(internal.CodeResolve,
			"typed mapping query returned %T", value)
	}
	result := make(map[string]*T, len(mapping))
	for key, entry := range mapping {
		typed, ok := entry.(*T)
		if !ok {
			return nil, internal.Errorf(internal.CodeResolve,
				"typed mapping entry %q resolved to %T", key, entry)
		}
		result[key] = typed
	}
	return result, nil
}

// Ref is a deferred query descriptor. Get re-runs the query against the
// current snapshot on every call and never caches.
type Ref struct {
	m      *Manager
	target string
	opts   []ResolveOption
}

// Ref captures a dotted-path query for later evaluation.
func (m *Manager) Ref(target string, opts ...ResolveOption) Ref {
	return Ref{m: m, target: target, opts: opts}
}

// Get evaluates the captured query against the current snapshot.
func (r Ref) Get() (any, error) {
	return r.m.Resolve(r.target, r.opts...)
}

// TypedRef is a deferred type-target query descriptor.
type TypedRef[T any] struct {
	m    *Manager
	opts []ResolveOption
}

// RefOf captures a type-target query for later evaluation.
func RefOf[T any](m *Manager, opts ...ResolveOption) TypedRef[T] {
	return TypedRef[T]{m: m, opts: opts}
}

// Get evaluates the captured query against the current snapshot.
func (r TypedRef[T]) Get() (*T, error) {
	return ResolveAs[T](r.m, r.opts...)
}
