package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// fakePluginDir 在临时目录中创建若干空 .so 文件，并返回目录路径。
func fakePluginDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func fakeOpen(pipelines map[string]Pipeline) func(path string) (any, error) {
	return func(path string) (any, error) {
		if p, ok := pipelines[filepath.Base(path)]; ok {
			return p, nil
		}
		return struct{}{}, nil
	}
}

func basePipeline(id string) *Base {
	info := validInfo()
	info.ID = id
	return NewBase(info, loadHook(nil))
}

func TestLoaderLoadInto(t *testing.T) {
	dir := fakePluginDir(t, "alpha.so", "beta.so", "broken.so", "notes.txt")
	l := NewLoader(dir, "")
	l.open = fakeOpen(map[string]Pipeline{
		"alpha.so": basePipeline("test.alpha"),
		"beta.so":  basePipeline("test.beta"),
		// broken.so 的符号不满足契约。
	})

	reg := NewRegistry()
	loaded, err := l.LoadInto(context.Background(), reg)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded != 2 {
		t.Fatalf("expected 2 loaded, got %d", loaded)
	}
	if !reg.Has("test.alpha") || !reg.Has("test.beta") {
		t.Fatalf("expected both pipelines registered")
	}

	p, err := reg.Get("test.alpha")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if b, ok := p.(*Base); !ok || !b.Initialized() {
		t.Fatalf("loaded pipeline must be initialized")
	}
}

func TestLoaderSkipsDuplicateID(t *testing.T) {
	dir := fakePluginDir(t, "a.so", "b.so")
	l := NewLoader(dir, "")
	l.open = fakeOpen(map[string]Pipeline{
		"a.so": basePipeline("test.alpha"),
		"b.so": basePipeline("test.alpha"),
	})

	reg := NewRegistry()
	loaded, err := l.LoadInto(context.Background(), reg)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	// 文件名排序后 a.so 先注册，b.so 被跳过。
	if loaded != 1 {
		t.Fatalf("expected 1 loaded, got %d", loaded)
	}
	if p, _ := reg.Get("test.alpha"); p == nil {
		t.Fatalf("first plugin must stay registered")
	}
}

func TestLoaderManifestDisables(t *testing.T) {
	dir := fakePluginDir(t, "alpha.so", "beta.so")
	manifestPath := filepath.Join(dir, "manifest.yaml")
	manifest := "pipelines:\n  beta.so:\n    enabled: false\n"
	if err := os.WriteFile(manifestPath, []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	l := NewLoader(dir, manifestPath)
	l.open = fakeOpen(map[string]Pipeline{
		"alpha.so": basePipeline("test.alpha"),
		"beta.so":  basePipeline("test.beta"),
	})

	reg := NewRegistry()
	loaded, err := l.LoadInto(context.Background(), reg)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded != 1 || reg.Has("test.beta") {
		t.Fatalf("disabled plugin must be skipped, loaded=%d", loaded)
	}
}

func TestLoaderSyncAddsAndRemoves(t *testing.T) {
	ctx := context.Background()
	dir := fakePluginDir(t, "alpha.so")
	l := NewLoader(dir, "")
	l.open = fakeOpen(map[string]Pipeline{
		"alpha.so": basePipeline("test.alpha"),
		"beta.so":  basePipeline("test.beta"),
	})

	reg := NewRegistry()
	registeredBase(t, reg, "test.manual", "manual")
	if _, err := l.LoadInto(ctx, reg); err != nil {
		t.Fatalf("load: %v", err)
	}

	// 新增 beta.so，移除 alpha.so，再同步。
	if err := os.WriteFile(filepath.Join(dir, "beta.so"), nil, 0o644); err != nil {
		t.Fatalf("write beta.so: %v", err)
	}
	if err := os.Remove(filepath.Join(dir, "alpha.so")); err != nil {
		t.Fatalf("remove alpha.so: %v", err)
	}

	if err := l.Sync(ctx, reg); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if reg.Has("test.alpha") {
		t.Fatalf("vanished plugin must be unregistered")
	}
	if !reg.Has("test.beta") {
		t.Fatalf("new plugin must be registered")
	}
	if !reg.Has("test.manual") {
		t.Fatalf("manual registration must survive sync")
	}
}

func TestResolvePipelineSymbolForms(t *testing.T) {
	direct := basePipeline("test.alpha")
	if p, ok := resolvePipeline(direct); !ok || p.Info().ID != "test.alpha" {
		t.Fatalf("direct symbol not resolved")
	}

	var iface Pipeline = basePipeline("test.beta")
	if p, ok := resolvePipeline(&iface); !ok || p.Info().ID != "test.beta" {
		t.Fatalf("pointer symbol not resolved")
	}

	factory := func() Pipeline { return basePipeline("test.gamma") }
	if p, ok := resolvePipeline(factory); !ok || p.Info().ID != "test.gamma" {
		t.Fatalf("factory symbol not resolved")
	}

	if _, ok := resolvePipeline(struct{}{}); ok {
		t.Fatalf("unrelated symbol must be rejected")
	}
}
