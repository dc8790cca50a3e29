package profile

import (
	"testing"

	xerrors "ReportFlow/internal/errors"
)

func testProfile(name string) *Profile {
	return &Profile{
		Name:     name,
		Provider: "openai",
		Model:    "gpt-4o-mini",
		APIKey:   "sk-test",
	}
}

func TestManagerSaveLoad(t *testing.T) {
	m := NewManager(t.TempDir())

	if err := m.Save(testProfile("work")); err != nil {
		t.Fatalf("save: %v", err)
	}
	p, err := m.Load("work")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.Provider != "openai" || p.Model != "gpt-4o-mini" {
		t.Fatalf("round trip mismatch: %+v", p)
	}

	if _, err := m.Load("missing"); !xerrors.IsCode(err, xerrors.CodeNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestManagerSaveRejectsInvalid(t *testing.T) {
	m := NewManager(t.TempDir())
	err := m.Save(&Profile{Name: "bad", Provider: "unknown"})
	if !xerrors.IsCode(err, xerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestManagerListSorted(t *testing.T) {
	m := NewManager(t.TempDir())
	for _, name := range []string{"zeta", "alpha"} {
		if err := m.Save(testProfile(name)); err != nil {
			t.Fatalf("save %s: %v", name, err)
		}
	}
	profiles, err := m.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(profiles) != 2 || profiles[0].Name != "alpha" || profiles[1].Name != "zeta" {
		t.Fatalf("unexpected list: %+v", profiles)
	}
}

func TestManagerDefaultSelection(t *testing.T) {
	m := NewManager(t.TempDir())

	// 没有任何档案时没有默认。
	if _, err := m.Default(); !xerrors.IsCode(err, xerrors.CodeNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}

	// 只有一份档案时它隐式成为默认。
	if err := m.Save(testProfile("only")); err != nil {
		t.Fatalf("save: %v", err)
	}
	p, err := m.Default()
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	if p.Name != "only" {
		t.Fatalf("expected implicit default, got %s", p.Name)
	}

	// 有多份档案后必须显式指定。
	if err := m.Save(testProfile("second")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := m.Default(); !xerrors.IsCode(err, xerrors.CodeNotFound) {
		t.Fatalf("expected not-found with two profiles, got %v", err)
	}

	if err := m.Use("second"); err != nil {
		t.Fatalf("use: %v", err)
	}
	p, err = m.Default()
	if err != nil {
		t.Fatalf("default after use: %v", err)
	}
	if p.Name != "second" {
		t.Fatalf("expected second as default, got %s", p.Name)
	}

	if err := m.Use("missing"); !xerrors.IsCode(err, xerrors.CodeNotFound) {
		t.Fatalf("use must reject unknown profile, got %v", err)
	}
}

func TestManagerDeleteClearsDefault(t *testing.T) {
	m := NewManager(t.TempDir())
	if err := m.Save(testProfile("work")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := m.Use("work"); err != nil {
		t.Fatalf("use: %v", err)
	}
	if err := m.Delete("work"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.Default(); !xerrors.IsCode(err, xerrors.CodeNotFound) {
		t.Fatalf("default marker must be cleared, got %v", err)
	}
	if err := m.Delete("work"); !xerrors.IsCode(err, xerrors.CodeNotFound) {
		t.Fatalf("expected not-found on second delete, got %v", err)
	}
}

func TestBuildClientValidates(t *testing.T) {
	if _, err := BuildClient(&Profile{Name: "x", Provider: "nope"}); err == nil {
		t.Fatalf("expected provider rejection")
	}
	client, err := BuildClient(testProfile("work"))
	if err != nil {
		t.Fatalf("build client: %v", err)
	}
	if client == nil {
		t.Fatalf("expected client instance")
	}
}
