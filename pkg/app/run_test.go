package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/flemzord/reddichat/internal/auth"
	"github.com/flemzord/reddichat/internal/config"
	"github.com/flemzord/reddichat/internal/security"
)

const testConfig = `
version: "1"
auth:
  jwt_secret: 0123456789abcdef0123456789abcdef
provider:
  api_key: test-key
server:
  bind: 127.0.0.1:0
security:
  audit_file: %s
modules:
  store.sql: {}
  storage.local:
    base_url: http://files.test/files
`

func loadTestConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	audit := filepath.Join(dir, "audit.jsonl")
	path := filepath.Join(dir, "reddichat.yaml")
	content := strings.Replace(testConfig, "%s", audit, 1)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, _, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	return cfg, dir
}

func TestBuild_Serve(t *testing.T) {
	cfg, dir := loadTestConfig(t)

	var logs bytes.Buffer
	rt, err := Build(context.Background(), cfg, BuildOptions{
		DataDir:   filepath.Join(dir, "data"),
		LogWriter: &logs,
		Serve:     true,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close(context.Background()) })

	if rt.Store == nil || rt.Storage == nil || rt.Chat == nil || rt.Gateway == nil {
		t.Fatalf("runtime not fully wired: %+v", rt)
	}
	if rt.Reddit != nil {
		t.Error("reddit client built without credentials")
	}
	if got := rt.Tools.Names(); !slices.Equal(got, []string{"web_search"}) {
		t.Errorf("tools = %v, want [web_search]", got)
	}
	if got := rt.Cron.Jobs(); !slices.Equal(got, []string{"attachment_cleanup", "ratelimit_sweep"}) {
		t.Errorf("jobs = %v", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "data", "reddichat.db")); err != nil {
		t.Errorf("sqlite file not created: %v", err)
	}

	srv := httptest.NewServer(rt.Gateway.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	token, err := rt.Auth.Issue(auth.User{ID: "u1"}, 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if u, err := rt.Auth.Authenticate(context.Background(), token); err != nil || u.ID != "u1" {
		t.Errorf("Authenticate = %+v, %v", u, err)
	}
	if !strings.Contains(logs.String(), "tools registered") {
		t.Errorf("expected wiring logs, got %q", logs.String())
	}
}

func TestBuild_WithoutServe(t *testing.T) {
	cfg, dir := loadTestConfig(t)
	cfg.WebSearch.Disabled = true

	rt, err := Build(context.Background(), cfg, BuildOptions{DataDir: dir, LogWriter: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer func() { _ = rt.Close(context.Background()) }()

	if rt.Gateway != nil || rt.Cron != nil {
		t.Error("gateway and scheduler should only be wired when serving")
	}
	if n := len(rt.Tools.Names()); n != 0 {
		t.Errorf("tools = %d, want none", n)
	}
	if err := rt.App.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rt.App.Stop()
}

func TestBuild_ProviderError(t *testing.T) {
	cfg, dir := loadTestConfig(t)
	cfg.Reddit.ClientID = "id"
	cfg.Reddit.ClientSecret = "secret"
	cfg.Provider.Timeout = "soon"

	rt, err := Build(context.Background(), cfg, BuildOptions{DataDir: dir, LogWriter: &bytes.Buffer{}})
	if err == nil {
		t.Fatal("expected provider error")
	}
	if rt != nil {
		t.Errorf("runtime = %+v, want nil on error", rt)
	}
}

func TestBuild_AuditFileError(t *testing.T) {
	cfg, dir := loadTestConfig(t)
	cfg.Security.AuditFile = filepath.Join(dir, "missing", "audit.jsonl")

	rt, err := Build(context.Background(), cfg, BuildOptions{DataDir: dir, LogWriter: &bytes.Buffer{}})
	if err == nil || !strings.Contains(err.Error(), "audit file") {
		t.Fatalf("err = %v, want audit file error", err)
	}
	if rt != nil {
		t.Error("runtime returned alongside an error")
	}
}

func TestNewLogger_RedactsAndFormats(t *testing.T) {
	t.Parallel()

	redactor := security.NewRedactor()
	redactor.AddLiteral("hunter2-secret")

	var buf bytes.Buffer
	NewLogger(&buf, "json", 0, redactor).Info("login", "password", "hunter2-secret")
	out := buf.String()
	if !strings.HasPrefix(out, "{") {
		t.Errorf("expected JSON output, got %q", out)
	}
	if strings.Contains(out, "hunter2-secret") {
		t.Errorf("secret not redacted: %q", out)
	}

	buf.Reset()
	NewLogger(&buf, "text", 0, redactor).Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug record written at info level: %q", buf.String())
	}
}

func TestResolveConfigPath_XDGConfigHome(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "reddichat")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	cfgPath := filepath.Join(cfgDir, "reddichat.yaml")
	if err := os.WriteFile(cfgPath, []byte("version: \"1\""), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	t.Setenv("XDG_CONFIG_HOME", dir)

	got, err := ResolveConfigPath()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != cfgPath {
		t.Errorf("got %q, want %q", got, cfgPath)
	}
	if DefaultConfigPath() != cfgPath {
		t.Errorf("DefaultConfigPath = %q, want %q", DefaultConfigPath(), cfgPath)
	}
}

func TestResolveConfigPath_NotFound(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/nonexistent/path")
	t.Chdir(t.TempDir())

	_, err := ResolveConfigPath()
	if err == nil {
		t.Error("expected error when no config file found")
	}
}

func TestDefaultDataDir_XDGDataHome(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	got := DefaultDataDir()
	want := "/custom/data/reddichat"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRun_InvalidConfigPath(t *testing.T) {
	err := Run(RunParams{ConfigPath: "/nonexistent/config.yaml"})
	if err == nil {
		t.Error("expected error for invalid config path")
	}
}

func TestRun_ValidationFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "noversion.yaml")
	if err := os.WriteFile(path, []byte("modules:\n  store.sql: {}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	err := Run(RunParams{ConfigPath: path})
	if err == nil {
		t.Error("expected validation error")
	}
}
