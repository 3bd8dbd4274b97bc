package internal

import (
	"reflect"
	"sort"
	"strings"
	"sync"
)

// SectionKind is the declared cardinality of a settings section.
type SectionKind string

const (
	// SectionObject declares a single typed object at the section path.
	SectionObject SectionKind = "object"
	// SectionMap declares a map of typed objects keyed by arbitrary names.
	SectionMap SectionKind = "map"
)

// Section is one declared configuration unit: a dotted path bound to a typed
// shape. The prototype's field values are the defaults and its validate tags
// are the shape constraints. Immutable once registered.
type Section struct {
	RawPath   string
	Path      []string
	Kind      SectionKind
	Prototype any
	Type      reflect.Type
}

// PathText returns the declared dotted path.
func (s *Section) PathText() string {
	return strings.Join(s.Path, ".")
}

// registry records declared sections and answers path- and type-based lookups.
// Registration is serialized; case-folded collisions are detected lazily at
// lookup under the mode active at that moment, not frozen at registration.
type registry struct {
	mu      sync.Mutex
	byType  map[reflect.Type]*Section
	byPath  map[string]*Section
	version int
}

func newRegistry() *registry {
	return &registry{
		byType: make(map[reflect.Type]*Section),
		byPath: make(map[string]*Section),
	}
}

// Register declares a section. The section name is resolved as: explicit path >
// declared name > snake-case of the prototype's type name. Reserved-namespace
// paths and exact-path or type collisions fail with a registration error.
func (r *registry) Register(rawPath, name string, kind SectionKind, prototype any) (*Section, error) {
	if kind != SectionObject && kind != SectionMap {
		return nil, Errorf(CodeRegistration, "unsupported section kind: %q", kind)
	}

	typ, err := prototypeType(prototype)
	if err != nil {
		return nil, err
	}

	resolved := resolveSectionName(rawPath, name, typ)
	path, ok := splitDottedPath(resolved)
	if !ok {
		return nil, Errorf(CodeRegistration, "invalid section path: %q", resolved)
	}
	if isControlRoot(path[0]) {
		return nil, Errorf(CodeRegistration,
			"section path %q uses reserved prefix %q", resolved, controlRoot+".*")
	}

	section := &Section{
		RawPath:   resolved,
		Path:      path,
		Kind:      kind,
		Prototype: prototype,
		Type:      typ,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	pathKey := strings.Join(path, ".")
	if existing, ok := r.byPath[pathKey]; ok && existing.Type != typ {
		return nil, Errorf(CodeRegistration,
			"duplicate section %q declared by both %s and %s", pathKey, existing.Type, typ)
	}
	if existing, ok := r.byType[typ]; ok {
		if existing.RawPath == resolved && existing.Kind == kind {
			return existing, nil
		}
		return nil, Errorf(CodeRegistration,
			"type %s is already registered at section %q", typ, existing.PathText())
	}

	r.byType[typ] = section
	r.byPath[pathKey] = section
	r.version++
	return section, nil
}

// Unregister removes a declared section by type. Used by teardown flows.
func (r *registry) Unregister(typ reflect.Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	section, ok := r.byType[typ]
	if !ok {
		return
	}
	delete(r.byType, typ)
	delete(r.byPath, strings.Join(section.Path, "."))
	r.version++
}

// Version increments on every successful registration change.
func (r *registry) Version() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// Sections returns all declared sections ordered by path.
func (r *registry) Sections() []*Section {
	r.mu.Lock()
	defer r.mu.Unlock()
	sections := make([]*Section, 0, len(r.byPath))
	for _, section := range r.byPath {
		sections = append(sections, section)
	}
	sort.Slice(sections, func(i, j int) bool {
		return sections[i].PathText() < sections[j].PathText()
	})
	return sections
}

// FindByType answers a type-target lookup: exactly one declared section whose
// shape is the given type. Type targets are unaffected by case-folding.
func (r *registry) FindByType(typ reflect.Type) (*Section, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	section, ok := r.byType[typ]
	return section, ok
}

// SoleMapSection answers an unqualified mapping query: it succeeds only when
// exactly one map-cardinality section is declared.
func (r *registry) SoleMapSection() (*Section, error) {
	var candidates []*Section
	for _, section := range r.Sections() {
		if section.Kind == SectionMap {
			candidates = append(candidates, section)
		}
	}
	switch len(candidates) {
	case 0:
		return nil, Errorf(CodeResolve, "no map section is declared")
	case 1:
		return candidates[0], nil
	default:
		paths := make([]string, len(candidates))
		for i, section := range candidates {
			paths[i] = section.PathText()
		}
		return nil, Errorf(CodeResolve, "multiple map sections match: %s", strings.Join(paths, ", "))
	}
}

// MatchPath finds the declared section covering the longest prefix of target
// under the active case mode, returning the uncovered remainder. Two sections
// folding onto the same target prefix is an ambiguity error; no match at all
// returns (nil, target, nil).
func (r *registry) MatchPath(target []string, caseSensitive bool) (*Section, []string, error) {
	var (
		best    *Section
		bestLen = -1
		clash   *Section
	)

	for _, section := range r.Sections() {
		if len(section.Path) > len(target) {
			continue
		}
		matched := true
		for i, segment := range section.Path {
			if !foldEquals(segment, target[i], caseSensitive) {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}
		switch {
		case len(section.Path) > bestLen:
			best = section
			bestLen = len(section.Path)
			clash = nil
		case len(section.Path) == bestLen:
			clash = section
		}
	}

	if clash != nil {
		return nil, nil, Errorf(CodeResolve,
			"ambiguous section path %q: declared paths %q and %q collide under case-insensitive folding",
			strings.Join(target, "."), best.PathText(), clash.PathText())
	}
	if best == nil {
		return nil, target, nil
	}
	return best, target[bestLen:], nil
}

func prototypeType(prototype any) (reflect.Type, error) {
	if prototype == nil {
		return nil, NewError(CodeRegistration, "section prototype must be a non-nil struct pointer")
	}
	typ := reflect.TypeOf(prototype)
	if typ.Kind() != reflect.Pointer || typ.Elem().Kind() != reflect.Struct {
		return nil, Errorf(CodeRegistration, "section prototype must be a struct pointer, got %s", typ)
	}
	return typ.Elem(), nil
}

func resolveSectionName(rawPath, name string, typ reflect.Type) string {
	if trimmed := strings.TrimSpace(rawPath); trimmed != "" {
		return trimmed
	}
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		return trimmed
	}
	return toSnakeCase(typ.Name())
}
