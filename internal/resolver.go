package internal

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// queryMiss is a soft resolution failure: the fallback chain may still serve a
// caller-supplied default before the miss hardens into a resolve error.
type queryMiss struct {
	msg string
}

func (m *queryMiss) Error() string { return m.msg }

func missf(format string, args ...any) error {
	return &queryMiss{msg: fmt.Sprintf(format, args...)}
}

func isMiss(err error) bool {
	_, ok := err.(*queryMiss)
	return ok
}

// ResolveAPI selects between single-value and mapping-only query semantics.
type ResolveAPI string

const (
	APISettings ResolveAPI = "settings"
	APIMap      ResolveAPI = "map"
)

// Request is one deferred query: a dotted-path or type target, an optional
// field projection, and an optional default.
type Request struct {
	API        ResolveAPI
	TargetPath string
	TargetType reflect.Type
	Field      string
	HasField   bool
	Default    any
	HasDefault bool
}

// resolver answers queries against one materialized snapshot. Constructed
// sections are cached per snapshot so repeated resolves hand out the same
// instance: callers that mutate a resolved section see the mutation again on
// the next resolve, until a reload replaces the snapshot.
type resolver struct {
	snapshot      map[string]any
	registry      *registry
	caseSensitive bool
	validate      *validator.Validate
	cache         map[*Section]any
}

// evaluate runs the resolution chain (registered section, then raw path) and
// applies the field projection and mapping-cardinality constraint. A *queryMiss
// result means the caller default may still apply; any other error is final.
func (r *resolver) evaluate(req Request) (any, error) {
	// A supplied-but-blank field is a caller error, rejected before any lookup.
	if req.HasField && strings.TrimSpace(req.Field) == "" {
		return nil, NewError(CodeResolve, "field must not be empty")
	}

	value, err := r.resolveTarget(req)
	if err != nil {
		return nil, err
	}

	if field := strings.TrimSpace(req.Field); req.HasField && field != "" {
		segments, ok := splitDottedPath(field)
		if !ok {
			return nil, missf("invalid field path: %q", req.Field)
		}
		value, err = lookupPath(value, segments, r.caseSensitive)
		if err != nil {
			return nil, err
		}
	}

	if req.API == APIMap {
		if !isMapping(value) {
			return nil, missf("resolved value is not a mapping")
		}
	}
	return value, nil
}

func (r *resolver) resolveTarget(req Request) (any, error) {
	if req.TargetType != nil {
		return r.resolveTypeTarget(req.TargetType)
	}

	target := strings.TrimSpace(req.TargetPath)
	if target == "" {
		if req.API == APIMap {
			section, err := r.registry.SoleMapSection()
			if err != nil {
				return nil, missf("%s", err.Error())
			}
			return r.buildSection(section)
		}
		return nil, missf("target is not provided")
	}

	segments, ok := splitDottedPath(target)
	if !ok {
		return nil, missf("invalid target path: %q", target)
	}

	// Registered lookup first. Case-folded collisions between declared paths are
	// detected here, under the mode active right now.
	section, remainder, err := r.registry.MatchPath(segments, r.effectiveCaseMode(segments))
	if err != nil {
		return nil, err
	}
	if section != nil {
		value, err := r.buildSection(section)
		if err != nil {
			return nil, err
		}
		if len(remainder) == 0 {
			return value, nil
		}
		return lookupPath(value, remainder, r.caseSensitive)
	}

	// Rediscover: treat the target as a raw dotted path into the live snapshot.
	// An incomplete path returns the subtree as-is.
	return lookupPath(r.snapshot, segments, r.caseSensitive)
}

func (r *resolver) resolveTypeTarget(typ reflect.Type) (any, error) {
	section, ok := r.registry.FindByType(typ)
	if !ok {
		return nil, missf("type %s did not match any declared section", typ)
	}
	return r.buildSection(section)
}

// effectiveCaseMode keeps reserved-namespace targets case-insensitive even in
// case-sensitive mode.
func (r *resolver) effectiveCaseMode(segments []string) bool {
	if len(segments) > 0 && isControlRoot(segments[0]) {
		return false
	}
	return r.caseSensitive
}

// buildSection slices the snapshot at the declared path and constructs the
// typed value: defaults from the prototype, overlay from the raw subtree,
// validation against the declared shape.
func (r *resolver) buildSection(section *Section) (any, error) {
	if r.cache != nil {
		if cached, ok := r.cache[section]; ok {
			return cached, nil
		}
	}

	raw, err := lookupPath(r.snapshot, section.Path, r.caseSensitive)
	if err != nil {
		raw = nil // absent section: defaults still apply
	}

	var built any
	if section.Kind == SectionMap {
		built, err = r.buildMapSection(section, raw)
	} else {
		built, err = r.buildObjectSection(section, raw)
	}
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache[section] = built
	}
	return built, nil
}

func (r *resolver) buildObjectSection(section *Section, raw any) (any, error) {
	var overlay map[string]any
	if raw != nil {
		mapping, ok := raw.(map[string]any)
		if !ok {
			return nil, Errorf(CodeValidation,
				"section %q expects a mapping, got %T", section.PathText(), raw)
		}
		overlay = mapping
	}
	return r.constructTyped(section, overlay)
}

func (r *resolver) buildMapSection(section *Section, raw any) (any, error) {
	result := make(map[string]any)
	if raw == nil {
		return result, nil
	}

	mapping, ok := raw.(map[string]any)
	if !ok {
		return nil, Errorf(CodeValidation,
			"map section %q expects a mapping, got %T", section.PathText(), raw)
	}

	for key, value := range mapping {
		entry, ok := value.(map[string]any)
		if !ok {
			return nil, Errorf(CodeValidation,
				"map section %q entry %q expects a mapping, got %T", section.PathText(), key, value)
		}
		built, err := r.constructTyped(section, entry)
		if err != nil {
			return nil, WrapError(CodeValidation,
				fmt.Sprintf("map section %q entry %q", section.PathText(), key), err)
		}
		result[key] = built
	}
	return result, nil
}

// constructTyped instantiates the section shape: prototype defaults first, raw
// overlay second, validator tags last.
func (r *resolver) constructTyped(section *Section, overlay map[string]any) (any, error) {
	instance := reflect.New(section.Type).Interface()

	defaults, err := yaml.Marshal(section.Prototype)
	if err != nil {
		return nil, WrapError(CodeValidation, "encode section defaults", err)
	}
	if err := yaml.Unmarshal(defaults, instance); err != nil {
		return nil, WrapError(CodeValidation, "apply section defaults", err)
	}

	if overlay != nil {
		projected := projectForDecode(overlay, section.Type, r.caseSensitive)
		encoded, err := yaml.Marshal(projected)
		if err != nil {
			return nil, WrapError(CodeValidation, "encode section data", err)
		}
		if err := yaml.Unmarshal(encoded, instance); err != nil {
			return nil, Errorf(CodeValidation,
				"section %q does not match its declared shape: %v", section.PathText(), err)
		}
	}

	if err := r.validate.Struct(instance); err != nil {
		return nil, WrapError(CodeValidation,
			fmt.Sprintf("section %q failed validation", section.PathText()), err)
	}
	return instance, nil
}

// projectForDecode renames raw mapping keys onto the struct's canonical YAML
// keys, folding per the active case mode, and recurses into nested struct and
// map-of-struct fields. Unknown keys pass through and are ignored by the decoder.
func projectForDecode(raw map[string]any, typ reflect.Type, caseSensitive bool) map[string]any {
	fields := yamlFieldIndex(typ)
	projected := make(map[string]any, len(raw))

	for key, value := range raw {
		field, canonical, ok := matchField(fields, key, caseSensitive)
		if !ok {
			projected[key] = value
			continue
		}
		projected[canonical] = projectFieldValue(field.Type, value, caseSensitive)
	}
	return projected
}

func projectFieldValue(fieldType reflect.Type, value any, caseSensitive bool) any {
	mapping, ok := value.(map[string]any)
	if !ok {
		return value
	}

	if nested := structElem(fieldType); nested != nil {
		return projectForDecode(mapping, nested, caseSensitive)
	}
	if fieldType.Kind() == reflect.Map && fieldType.Key().Kind() == reflect.String {
		if nested := structElem(fieldType.Elem()); nested != nil {
			out := make(map[string]any, len(mapping))
			for k, v := range mapping {
				if entry, ok := v.(map[string]any); ok {
					out[k] = projectForDecode(entry, nested, caseSensitive)
					continue
				}
				out[k] = v
			}
			return out
		}
	}
	return value
}

func structElem(typ reflect.Type) reflect.Type {
	if typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.Kind() == reflect.Struct {
		return typ
	}
	return nil
}

type yamlField struct {
	reflect.StructField
	key string
}

func yamlFieldIndex(typ reflect.Type) []yamlField {
	fields := make([]yamlField, 0, typ.NumField())
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if !field.IsExported() {
			continue
		}
		key := fieldYAMLKey(field)
		if key == "-" {
			continue
		}
		fields = append(fields, yamlField{StructField: field, key: key})
	}
	return fields
}

func fieldYAMLKey(field reflect.StructField) string {
	tag := field.Tag.Get("yaml")
	if tag == "" {
		return strings.ToLower(field.Name)
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return strings.ToLower(field.Name)
	}
	return name
}

func matchField(fields []yamlField, key string, caseSensitive bool) (yamlField, string, bool) {
	for _, field := range fields {
		if field.key == key {
			return field, field.key, true
		}
	}
	if caseSensitive {
		return yamlField{}, "", false
	}

	var (
		match yamlField
		count int
	)
	for _, field := range fields {
		if strings.EqualFold(field.key, key) {
			match = field
			count++
		}
	}
	if count != 1 {
		return yamlField{}, "", false
	}
	return match, match.key, true
}

// lookupPath walks a dotted path across raw mappings and typed section values.
// Each segment must match exactly one key under the active case mode; zero or
// multiple folded matches is a miss. Paths rooted in the reserved namespace
// fold case-insensitively regardless of mode.
func lookupPath(root any, segments []string, caseSensitive bool) (any, error) {
	mode := caseSensitive
	if len(segments) > 0 && isControlRoot(segments[0]) {
		mode = false
	}

	current := root
	for _, segment := range segments {
		switch node := current.(type) {
		case map[string]any:
			value, err := lookupMapSegment(node, segment, mode)
			if err != nil {
				return nil, err
			}
			current = value
		default:
			value, err := lookupStructSegment(current, segment, mode)
			if err != nil {
				return nil, err
			}
			current = value
		}
	}
	return current, nil
}

func lookupMapSegment(mapping map[string]any, segment string, caseSensitive bool) (any, error) {
	if caseSensitive {
		value, ok := mapping[segment]
		if !ok {
			return nil, missf("key not found: %q", segment)
		}
		return value, nil
	}

	var (
		matched string
		count   int
	)
	for key := range mapping {
		if strings.EqualFold(key, segment) {
			matched = key
			count++
		}
	}
	if count != 1 {
		return nil, missf("key %q matched %d entries under case-insensitive folding", segment, count)
	}
	return mapping[matched], nil
}

func lookupStructSegment(current any, segment string, caseSensitive bool) (any, error) {
	value := reflect.ValueOf(current)
	for value.Kind() == reflect.Pointer {
		if value.IsNil() {
			return nil, missf("cannot descend into nil value at %q", segment)
		}
		value = value.Elem()
	}
	if value.Kind() != reflect.Struct {
		return nil, missf("cannot descend into %T at %q", current, segment)
	}

	fields := yamlFieldIndex(value.Type())
	field, _, ok := matchField(fields, segment, caseSensitive)
	if !ok {
		// Struct field names are also addressable directly.
		var (
			match yamlField
			count int
		)
		for _, f := range fields {
			if f.Name == segment || (!caseSensitive && strings.EqualFold(f.Name, segment)) {
				match = f
				count++
			}
		}
		if count != 1 {
			return nil, missf("field not found: %q", segment)
		}
		field = match
	}
	return value.FieldByIndex(field.Index).Interface(), nil
}

func isMapping(value any) bool {
	if value == nil {
		return false
	}
	if _, ok := value.(map[string]any); ok {
		return true
	}
	return reflect.ValueOf(value).Kind() == reflect.Map
}
