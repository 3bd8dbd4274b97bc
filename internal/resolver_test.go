package internal

import (
	"reflect"
	"testing"

	"github.com/go-playground/validator/v10"
)

func newTestResolver(reg *registry, snapshot map[string]any, caseSensitive bool) *resolver {
	return &resolver{
		snapshot:      snapshot,
		registry:      reg,
		caseSensitive: caseSensitive,
		validate:      validator.New(),
	}
}

func mustRegister(t *testing.T, reg *registry, path string, kind SectionKind, prototype any) {
	t.Helper()
	if _, err := reg.Register(path, "", kind, prototype); err != nil {
		t.Fatalf("Register(%q) error = %v", path, err)
	}
}

func TestResolver_ObjectSectionDefaultsAndOverlay(t *testing.T) {
	reg := newRegistry()
	mustRegister(t, reg, "app", SectionObject, &appSettings{Title: "demo", Workers: 1})

	r := newTestResolver(reg, map[string]any{
		"app": map[string]any{"workers": 4},
	}, false)

	value, err := r.evaluate(Request{API: APISettings, TargetPath: "app"})
	if err != nil {
		t.Fatalf("evaluate() error = %v", err)
	}
	got, ok := value.(*appSettings)
	if !ok {
		t.Fatalf("value type = %T", value)
	}
	if got.Title != "demo" {
		t.Errorf("Title = %q, want the prototype default", got.Title)
	}
	if got.Workers != 4 {
		t.Errorf("Workers = %d, want the overlay value", got.Workers)
	}
}

func TestResolver_AbsentSectionUsesDefaults(t *testing.T) {
	reg := newRegistry()
	mustRegister(t, reg, "app", SectionObject, &appSettings{Title: "demo", Workers: 2})

	r := newTestResolver(reg, map[string]any{}, false)
	value, err := r.evaluate(Request{API: APISettings, TargetPath: "app"})
	if err != nil {
		t.Fatalf("evaluate() error = %v", err)
	}
	if got := value.(*appSettings); got.Title != "demo" || got.Workers != 2 {
		t.Errorf("defaults = %+v", got)
	}
}

func TestResolver_RemainderWalksIntoSection(t *testing.T) {
	reg := newRegistry()
	mustRegister(t, reg, "app", SectionObject, &appSettings{Title: "demo", Workers: 1})

	r := newTestResolver(reg, map[string]any{
		"app": map[string]any{"workers": 8},
	}, false)

	value, err := r.evaluate(Request{API: APISettings, TargetPath: "app.workers"})
	if err != nil {
		t.Fatalf("evaluate() error = %v", err)
	}
	if value != 8 {
		t.Errorf("app.workers = %v, want 8", value)
	}
}

func TestResolver_FieldProjection(t *testing.T) {
	reg := newRegistry()
	mustRegister(t, reg, "app", SectionObject, &appSettings{Title: "demo", Workers: 1})
	r := newTestResolver(reg, map[string]any{}, false)

	value, err := r.evaluate(Request{API: APISettings, TargetPath: "app", Field: "title", HasField: true})
	if err != nil {
		t.Fatalf("evaluate() error = %v", err)
	}
	if value != "demo" {
		t.Errorf("projected field = %v, want demo", value)
	}

	// A supplied-but-blank field is a hard error, not a miss.
	_, err = r.evaluate(Request{API: APISettings, TargetPath: "app", Field: "  ", HasField: true})
	if isMiss(err) || !IsCode(err, CodeResolve) {
		t.Errorf("blank field error = %v, want hard RESOLVE error", err)
	}

	// An unknown field is a miss, eligible for a default.
	_, err = r.evaluate(Request{API: APISettings, TargetPath: "app", Field: "absent", HasField: true})
	if !isMiss(err) {
		t.Errorf("unknown field error = %v, want miss", err)
	}
}

func TestResolver_RawPathRediscovery(t *testing.T) {
	r := newTestResolver(newRegistry(), map[string]any{
		"misc": map[string]any{"flag": true, "nested": map[string]any{"n": 1}},
	}, false)

	value, err := r.evaluate(Request{API: APISettings, TargetPath: "misc.flag"})
	if err != nil || value != true {
		t.Errorf("misc.flag = %v, %v", value, err)
	}

	// An incomplete path returns the subtree as-is.
	value, err = r.evaluate(Request{API: APISettings, TargetPath: "misc.nested"})
	if err != nil {
		t.Fatalf("evaluate() error = %v", err)
	}
	if !reflect.DeepEqual(value, map[string]any{"n": 1}) {
		t.Errorf("subtree = %#v", value)
	}

	_, err = r.evaluate(Request{API: APISettings, TargetPath: "absent.path"})
	if !isMiss(err) {
		t.Errorf("unknown path error = %v, want miss", err)
	}
}

func TestResolver_TypeTarget(t *testing.T) {
	reg := newRegistry()
	mustRegister(t, reg, "app", SectionObject, &appSettings{Title: "demo", Workers: 1})
	r := newTestResolver(reg, map[string]any{}, false)

	value, err := r.evaluate(Request{API: APISettings, TargetType: reflect.TypeOf(appSettings{})})
	if err != nil {
		t.Fatalf("evaluate() error = %v", err)
	}
	if got := value.(*appSettings); got.Title != "demo" {
		t.Errorf("typed value = %+v", got)
	}

	_, err = r.evaluate(Request{API: APISettings, TargetType: reflect.TypeOf(serviceSettings{})})
	if !isMiss(err) {
		t.Errorf("unregistered type error = %v, want miss", err)
	}
}

func TestResolver_TypeTargetUnaffectedByFoldAmbiguity(t *testing.T) {
	reg := newRegistry()
	mustRegister(t, reg, "Payments", SectionObject, &appSettings{Title: "a", Workers: 1})
	mustRegister(t, reg, "payments", SectionObject, &serviceSettings{URL: "http://x"})
	r := newTestResolver(reg, map[string]any{}, false)

	// The string path is ambiguous under folding.
	_, err := r.evaluate(Request{API: APISettings, TargetPath: "payments"})
	if isMiss(err) || !IsCode(err, CodeResolve) {
		t.Fatalf("ambiguous path error = %v, want hard RESOLVE error", err)
	}

	// The type target is exact and still resolves.
	value, err := r.evaluate(Request{API: APISettings, TargetType: reflect.TypeOf(serviceSettings{})})
	if err != nil {
		t.Fatalf("type target error = %v", err)
	}
	if got := value.(*serviceSettings); got.URL != "http://x" {
		t.Errorf("typed value = %+v", got)
	}
}

func TestResolver_MapSection(t *testing.T) {
	reg := newRegistry()
	mustRegister(t, reg, "services", SectionMap, &serviceSettings{Timeout: 30})

	r := newTestResolver(reg, map[string]any{
		"services": map[string]any{
			"api": map[string]any{"url": "http://api"},
			"web": map[string]any{"url": "http://web", "timeout": 5},
		},
	}, false)

	value, err := r.evaluate(Request{API: APIMap, TargetPath: "services"})
	if err != nil {
		t.Fatalf("evaluate() error = %v", err)
	}
	entries, ok := value.(map[string]any)
	if !ok || len(entries) != 2 {
		t.Fatalf("entries = %#v", value)
	}
	api := entries["api"].(*serviceSettings)
	if api.URL != "http://api" || api.Timeout != 30 {
		t.Errorf("api entry = %+v", api)
	}
	web := entries["web"].(*serviceSettings)
	if web.Timeout != 5 {
		t.Errorf("web entry = %+v", web)
	}

	// The empty target resolves through the sole declared map section.
	value, err = r.evaluate(Request{API: APIMap})
	if err != nil {
		t.Fatalf("empty target error = %v", err)
	}
	if len(value.(map[string]any)) != 2 {
		t.Errorf("empty target entries = %#v", value)
	}
}

func TestResolver_MapAPIRequiresMapping(t *testing.T) {
	r := newTestResolver(newRegistry(), map[string]any{"scalar": 1}, false)
	_, err := r.evaluate(Request{API: APIMap, TargetPath: "scalar"})
	if !isMiss(err) {
		t.Errorf("non-mapping result error = %v, want miss", err)
	}
}

func TestResolver_ValidationFailure(t *testing.T) {
	reg := newRegistry()
	mustRegister(t, reg, "app", SectionObject, &appSettings{Title: "demo", Workers: 1})

	r := newTestResolver(reg, map[string]any{
		"app": map[string]any{"workers": 0},
	}, false)
	_, err := r.evaluate(Request{API: APISettings, TargetPath: "app"})
	if !IsCode(err, CodeValidation) {
		t.Errorf("validation error = %v, want VALIDATION code", err)
	}

	// A non-mapping value where the section expects one is a shape failure.
	r = newTestResolver(reg, map[string]any{"app": "scalar"}, false)
	_, err = r.evaluate(Request{API: APISettings, TargetPath: "app"})
	if !IsCode(err, CodeValidation) {
		t.Errorf("shape error = %v, want VALIDATION code", err)
	}
}

func TestResolver_CaseFoldedOverlayKeys(t *testing.T) {
	reg := newRegistry()
	mustRegister(t, reg, "app", SectionObject, &appSettings{Workers: 1})

	// Raw keys in any case project onto the canonical yaml keys when folding.
	r := newTestResolver(reg, map[string]any{
		"App": map[string]any{"WORKERS": 9, "Title": "upper"},
	}, false)
	value, err := r.evaluate(Request{API: APISettings, TargetPath: "app"})
	if err != nil {
		t.Fatalf("evaluate() error = %v", err)
	}
	got := value.(*appSettings)
	if got.Workers != 9 || got.Title != "upper" {
		t.Errorf("folded overlay = %+v", got)
	}
}

func TestLookupPath_CaseModes(t *testing.T) {
	snapshot := map[string]any{
		"Env": 1,
		"env": 2,
		"db":  map[string]any{"Host": "h"},
	}

	// Sensitive mode: exact keys only.
	value, err := lookupPath(snapshot, []string{"Env"}, true)
	if err != nil || value != 1 {
		t.Errorf("sensitive lookup = %v, %v", value, err)
	}

	// Insensitive mode: two folded matches is a miss.
	if _, err := lookupPath(snapshot, []string{"env"}, false); !isMiss(err) {
		t.Errorf("ambiguous fold error = %v, want miss", err)
	}

	// A unique folded match resolves.
	value, err = lookupPath(snapshot, []string{"DB", "host"}, false)
	if err != nil || value != "h" {
		t.Errorf("folded lookup = %v, %v", value, err)
	}
}

func TestLookupPath_ControlRootAlwaysFolds(t *testing.T) {
	snapshot := map[string]any{
		"fastapiex": map[string]any{
			"settings": map[string]any{"reload": "always"},
		},
	}
	value, err := lookupPath(snapshot, []string{"FASTAPIEX", "Settings", "RELOAD"}, true)
	if err != nil || value != "always" {
		t.Errorf("control lookup = %v, %v", value, err)
	}
}
