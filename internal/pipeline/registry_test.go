package pipeline

import (
	"context"
	"testing"

	xerrors "ReportFlow/internal/errors"
)

func registeredBase(t *testing.T, reg *Registry, id, source string) *Base {
	t.Helper()
	info := validInfo()
	info.ID = id
	p := NewBase(info, loadHook(nil))
	if err := reg.Register(p, source); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
	return p
}

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	registeredBase(t, reg, "test.alpha", "manual")

	p, err := reg.Get("test.alpha")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Info().ID != "test.alpha" {
		t.Fatalf("unexpected pipeline: %+v", p.Info())
	}
	if !reg.Has("test.alpha") || reg.Has("test.missing") {
		t.Fatalf("unexpected Has results")
	}
	if _, err := reg.Get("test.missing"); !xerrors.IsCode(err, xerrors.CodeNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestRegistryRejectsDuplicateID(t *testing.T) {
	reg := NewRegistry()
	registeredBase(t, reg, "test.alpha", "plugins/alpha.so")

	info := validInfo()
	dup := NewBase(info, loadHook(nil))
	err := reg.Register(dup, "plugins/other.so")
	if !xerrors.IsCode(err, xerrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestRegistryListSorted(t *testing.T) {
	reg := NewRegistry()
	registeredBase(t, reg, "test.zeta", "manual")
	registeredBase(t, reg, "test.alpha", "manual")

	infos := reg.List()
	if len(infos) != 2 || infos[0].ID != "test.alpha" || infos[1].ID != "test.zeta" {
		t.Fatalf("expected sorted list, got %+v", infos)
	}
}

func TestRegistryRemoveRunsCleanup(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()

	cleaned := false
	info := validInfo()
	p := NewBase(info, Hooks{
		LoadData: func(_ context.Context, _ map[string]any) ([]map[string]any, error) {
			return nil, nil
		},
		OnCleanup: func(_ context.Context) error {
			cleaned = true
			return nil
		},
	})
	if err := reg.Register(p, "manual"); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := reg.Remove(ctx, "test.alpha"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !cleaned {
		t.Fatalf("cleanup hook was not invoked")
	}
	if reg.Has("test.alpha") {
		t.Fatalf("pipeline still registered after remove")
	}
	if err := reg.Remove(ctx, "test.alpha"); !xerrors.IsCode(err, xerrors.CodeNotFound) {
		t.Fatalf("expected not-found on second remove, got %v", err)
	}
}
