package internal

import (
	"reflect"
	"testing"
)

type appSettings struct {
	Title   string `yaml:"title"`
	Workers int    `yaml:"workers" validate:"gte=1"`
}

type serviceSettings struct {
	URL     string `yaml:"url" validate:"required"`
	Timeout int    `yaml:"timeout"`
}

func TestRegistryRegister(t *testing.T) {
	r := newRegistry()

	section, err := r.Register("app", "", SectionObject, &appSettings{Workers: 1})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if section.PathText() != "app" || section.Kind != SectionObject {
		t.Errorf("section = %+v", section)
	}
	if section.Type != reflect.TypeOf(appSettings{}) {
		t.Errorf("section type = %v", section.Type)
	}

	// Identical re-registration is a no-op returning the existing section.
	again, err := r.Register("app", "", SectionObject, &appSettings{Workers: 1})
	if err != nil {
		t.Fatalf("identical re-registration error = %v", err)
	}
	if again != section {
		t.Error("identical re-registration should return the existing section")
	}
}

func TestRegistryRegister_DerivedName(t *testing.T) {
	r := newRegistry()
	section, err := r.Register("", "", SectionObject, &appSettings{})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if section.PathText() != "app_settings" {
		t.Errorf("derived path = %q, want app_settings", section.PathText())
	}

	r = newRegistry()
	section, err = r.Register("", "explicit_name", SectionObject, &appSettings{})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if section.PathText() != "explicit_name" {
		t.Errorf("named path = %q, want explicit_name", section.PathText())
	}
}

func TestRegistryRegister_Rejections(t *testing.T) {
	r := newRegistry()

	if _, err := r.Register("app", "", SectionKind("weird"), &appSettings{}); !IsCode(err, CodeRegistration) {
		t.Errorf("bad kind error = %v", err)
	}
	if _, err := r.Register("app", "", SectionObject, nil); !IsCode(err, CodeRegistration) {
		t.Errorf("nil prototype error = %v", err)
	}
	if _, err := r.Register("app", "", SectionObject, appSettings{}); !IsCode(err, CodeRegistration) {
		t.Errorf("non-pointer prototype error = %v", err)
	}
	if _, err := r.Register("app..title", "", SectionObject, &appSettings{}); !IsCode(err, CodeRegistration) {
		t.Errorf("invalid path error = %v", err)
	}
	if _, err := r.Register("fastapiex.app", "", SectionObject, &appSettings{}); !IsCode(err, CodeRegistration) {
		t.Errorf("reserved path error = %v", err)
	}
	if _, err := r.Register("FastAPIex.app", "", SectionObject, &appSettings{}); !IsCode(err, CodeRegistration) {
		t.Errorf("reserved path check should fold case, got %v", err)
	}
}

func TestRegistryRegister_Collisions(t *testing.T) {
	r := newRegistry()
	if _, err := r.Register("app", "", SectionObject, &appSettings{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// Same path, different type.
	if _, err := r.Register("app", "", SectionObject, &serviceSettings{}); !IsCode(err, CodeRegistration) {
		t.Errorf("path collision error = %v", err)
	}
	// Same type, different path.
	if _, err := r.Register("other", "", SectionObject, &appSettings{}); !IsCode(err, CodeRegistration) {
		t.Errorf("type collision error = %v", err)
	}
}

func TestRegistryUnregister(t *testing.T) {
	r := newRegistry()
	if _, err := r.Register("app", "", SectionObject, &appSettings{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	r.Unregister(reflect.TypeOf(appSettings{}))
	if _, ok := r.FindByType(reflect.TypeOf(appSettings{})); ok {
		t.Error("unregistered type should not be found")
	}
	// Path is free again for a different type.
	if _, err := r.Register("app", "", SectionObject, &serviceSettings{}); err != nil {
		t.Errorf("re-registering a freed path error = %v", err)
	}
}

func TestRegistryMatchPath(t *testing.T) {
	r := newRegistry()
	if _, err := r.Register("services.api", "", SectionObject, &serviceSettings{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	section, remainder, err := r.MatchPath([]string{"services", "api", "timeout"}, false)
	if err != nil {
		t.Fatalf("MatchPath() error = %v", err)
	}
	if section == nil || section.PathText() != "services.api" {
		t.Fatalf("section = %v", section)
	}
	if !reflect.DeepEqual(remainder, []string{"timeout"}) {
		t.Errorf("remainder = %v", remainder)
	}

	// Folded match in insensitive mode.
	section, _, err = r.MatchPath([]string{"Services", "API"}, false)
	if err != nil || section == nil {
		t.Errorf("folded match = %v, %v", section, err)
	}

	// No folding in sensitive mode.
	section, remainder, err = r.MatchPath([]string{"Services", "API"}, true)
	if err != nil || section != nil {
		t.Errorf("sensitive mode should not fold, got %v, %v", section, err)
	}
	if !reflect.DeepEqual(remainder, []string{"Services", "API"}) {
		t.Errorf("unmatched remainder = %v", remainder)
	}
}

func TestRegistryMatchPath_FoldAmbiguity(t *testing.T) {
	r := newRegistry()
	if _, err := r.Register("Payments", "", SectionObject, &appSettings{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := r.Register("payments", "", SectionObject, &serviceSettings{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// Both declared paths fold onto the same target segment.
	if _, _, err := r.MatchPath([]string{"payments"}, false); !IsCode(err, CodeResolve) {
		t.Errorf("fold ambiguity error = %v, want RESOLVE code", err)
	}

	// Exact sensitive-mode lookup still works.
	section, _, err := r.MatchPath([]string{"Payments"}, true)
	if err != nil || section == nil || section.RawPath != "Payments" {
		t.Errorf("sensitive lookup = %v, %v", section, err)
	}
}

func TestRegistrySoleMapSection(t *testing.T) {
	r := newRegistry()
	if _, err := r.SoleMapSection(); !IsCode(err, CodeResolve) {
		t.Errorf("no map section error = %v", err)
	}

	if _, err := r.Register("services", "", SectionMap, &serviceSettings{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	section, err := r.SoleMapSection()
	if err != nil || section.PathText() != "services" {
		t.Errorf("sole map section = %v, %v", section, err)
	}

	if _, err := r.Register("databases", "", SectionMap, &appSettings{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := r.SoleMapSection(); !IsCode(err, CodeResolve) {
		t.Errorf("multiple map sections error = %v", err)
	}
}
