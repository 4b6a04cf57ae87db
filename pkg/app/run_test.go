package app

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/flemzord/toolhost/internal/core"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestResolveConfigPath(t *testing.T) {
	xdg := t.TempDir()
	inXDG := filepath.Join(xdg, "toolhost", "toolhost.yaml")
	writeFile(t, inXDG, "version: \"1\"\n")

	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, "toolhost.yaml"), "version: \"1\"\n")
	t.Chdir(cwd)

	t.Setenv("XDG_CONFIG_HOME", xdg)
	if got, err := ResolveConfigPath(); err != nil || got != inXDG {
		t.Fatalf("ResolveConfigPath() = %q, %v; want the XDG file first", got, err)
	}

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if got, err := ResolveConfigPath(); err != nil || got != "toolhost.yaml" {
		t.Fatalf("ResolveConfigPath() = %q, %v; want the working directory file", got, err)
	}

	t.Chdir(t.TempDir())
	if _, err := ResolveConfigPath(); err == nil {
		t.Fatal("expected an error when no candidate exists")
	}
}

func TestDefaultDataDir(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	if got := DefaultDataDir(); got != "/custom/data/toolhost" {
		t.Errorf("with XDG_DATA_HOME: %q", got)
	}

	t.Setenv("XDG_DATA_HOME", "")
	_ = os.Unsetenv("XDG_DATA_HOME")
	home, _ := os.UserHomeDir()
	if got, want := DefaultDataDir(), filepath.Join(home, ".local", "share", "toolhost"); got != want {
		t.Errorf("fallback = %q, want %q", got, want)
	}
}

func TestDefaultWorkspace(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	got, _ := filepath.EvalSymlinks(DefaultWorkspace())
	want, _ := filepath.EvalSymlinks(dir)
	if got != want {
		t.Errorf("DefaultWorkspace() = %q, want %q", got, want)
	}
}

func TestOpenAuditLog(t *testing.T) {
	t.Parallel()

	w, closeFn, err := openAuditLog("")
	if err != nil || w != nil {
		t.Fatalf("empty path = %v, %v; want a disabled log", w, err)
	}
	closeFn()

	path := filepath.Join(t.TempDir(), "nested", "audit.jsonl")
	w, closeFn, err = openAuditLog(path)
	if err != nil {
		t.Fatalf("openAuditLog: %v", err)
	}
	if _, err := w.Write([]byte("{}\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	closeFn()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestRun_Failures(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
	}{
		{name: "missing file"},
		{name: "broken yaml", content: "not: valid: yaml: ["},
		{name: "no version", content: "modules:\n  probe.run: {}\n"},
		{name: "unknown module", content: "version: \"1\"\nmodules:\n  nothing.here: {}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".yaml")
			if tt.content != "" {
				writeFile(t, path, tt.content)
			}
			err := Run(context.Background(), RunParams{ConfigPath: path, DataDir: t.TempDir(), LogLevel: slog.LevelError})
			if err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

type probeModule struct{}

func (probeModule) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{ID: "probe.run", New: func() core.Module { return probeModule{} }}
}

func init() { core.RegisterModule(probeModule{}) }

func TestRun_StopsWhenContextDone(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "toolhost.yaml")
	writeFile(t, path, "version: \"1\"\nmodules:\n  probe.run: {}\n")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := Run(ctx, RunParams{ConfigPath: path, DataDir: t.TempDir(), Workspace: dir, LogLevel: slog.LevelError}); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
