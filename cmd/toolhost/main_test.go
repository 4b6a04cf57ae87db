package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/kardianos/service"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out strings.Builder
	root := rootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion_ListsCompiledModules(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	for _, id := range []string{"gateway.http", "mcp.stdio", "remote.manager", "storage.sqlite", "telemetry.posthog"} {
		if !strings.Contains(out, "  "+id+"\n") {
			t.Errorf("output misses %s:\n%s", id, out)
		}
	}
}

func TestConfigCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr bool
		wantOut string
	}{
		{
			name:    "valid",
			content: "version: \"1\"\nmodules:\n  gateway.http:\n    bind: 127.0.0.1:0\n  remote.manager: {}\n",
			wantOut: "Configuration OK (2 modules)\n  gateway.http\n  remote.manager\n",
		},
		{
			name:    "unknown module",
			content: "version: \"1\"\nmodules:\n  nope.nope: {}\n",
			wantErr: true,
		},
		{
			name:    "missing version",
			content: "modules:\n  gateway.http: {}\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "toolhost.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			out, err := execute(t, "config", "check", path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && out != tt.wantOut {
				t.Errorf("output = %q, want %q", out, tt.wantOut)
			}
		})
	}
}

func TestToolsList(t *testing.T) {
	t.Parallel()

	var gotAuth, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tools" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": "shell", "fullReferenceName": "runInTerminal", "implemented": true, "source": map[string]any{"type": "internal"}},
			{"id": "mcp_fs_read", "fullReferenceName": "fs/read", "implemented": false, "source": map[string]any{"type": "mcp", "label": "fs"}},
		})
	}))
	t.Cleanup(srv.Close)

	out, err := execute(t, "tools", "list", "--addr", srv.URL, "--token", "tok", "--all")
	if err != nil {
		t.Fatalf("tools list: %v", err)
	}
	if gotAuth != "Bearer tok" || gotQuery != "all=true" {
		t.Errorf("auth = %q, query = %q", gotAuth, gotQuery)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("output:\n%s", out)
	}
	if got := strings.Fields(lines[2]); !cmp.Equal(got, []string{"mcp_fs_read", "fs/read", "mcp", "(fs)", "false"}) {
		t.Errorf("row = %q", got)
	}
}

func TestToolsList_GatewayError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	_, err := execute(t, "tools", "list", "--addr", srv.URL)
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("err = %v, want a 401 error", err)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "info", want: slog.LevelInfo},
		{in: "WARN", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "loud", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseLevel(%q) err = %v", tt.in, err)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestServiceConfig_AbsoluteConfigPath(t *testing.T) {
	t.Parallel()

	cfg, err := serviceConfig("toolhost.yaml")
	if err != nil {
		t.Fatalf("serviceConfig: %v", err)
	}
	abs, _ := filepath.Abs("toolhost.yaml")
	want := []string{"service", "run", "--config", abs}
	if diff := cmp.Diff(want, cfg.Arguments); diff != "" {
		t.Errorf("arguments mismatch (-want +got):\n%s", diff)
	}

	cfg, _ = serviceConfig("")
	if diff := cmp.Diff([]string{"service", "run"}, cfg.Arguments); diff != "" {
		t.Errorf("arguments mismatch (-want +got):\n%s", diff)
	}
}

func TestStatusString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status service.Status
		err    error
		want   string
	}{
		{status: service.StatusRunning, want: "running"},
		{status: service.StatusStopped, want: "stopped"},
		{status: service.StatusUnknown, want: "unknown"},
		{err: service.ErrNotInstalled, want: "not installed"},
		{err: errors.Join(errors.New("x"), service.ErrNotInstalled), want: "not installed"},
	}
	for _, tt := range tests {
		if got := statusString(tt.status, tt.err); got != tt.want {
			t.Errorf("statusString(%v, %v) = %q, want %q", tt.status, tt.err, got, tt.want)
		}
	}
}

func TestProgram_StopBeforeStart(t *testing.T) {
	t.Parallel()

	if err := (&program{}).Stop(nil); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
