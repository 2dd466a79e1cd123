package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestConfig_SetDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != "127.0.0.1:8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:8080")
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Sink.MaxRequests != 100 {
		t.Errorf("Sink.MaxRequests = %d, want 100", cfg.Sink.MaxRequests)
	}
	if cfg.SinkTimeout() != time.Hour {
		t.Errorf("SinkTimeout() = %v, want 1h", cfg.SinkTimeout())
	}
	if cfg.CleanupInterval() != 10*time.Minute {
		t.Errorf("CleanupInterval() = %v, want 10m", cfg.CleanupInterval())
	}
	if cfg.ForwardTimeout() != 30*time.Second {
		t.Errorf("ForwardTimeout() = %v, want 30s", cfg.ForwardTimeout())
	}
	if cfg.Forward.MaxResponseBytes != 10<<20 {
		t.Errorf("Forward.MaxResponseBytes = %d, want %d", cfg.Forward.MaxResponseBytes, 10<<20)
	}
	if cfg.Notify.QueueSize != 1000 {
		t.Errorf("Notify.QueueSize = %d, want 1000", cfg.Notify.QueueSize)
	}
	if cfg.NotifySendTimeout() != 5*time.Second {
		t.Errorf("NotifySendTimeout() = %v, want 5s", cfg.NotifySendTimeout())
	}
	if cfg.ShutdownTimeout() != 10*time.Second {
		t.Errorf("ShutdownTimeout() = %v, want 10s", cfg.ShutdownTimeout())
	}
	if cfg.Tracing.Enabled {
		t.Error("Tracing.Enabled should default to false")
	}
}

func TestConfig_SetDefaults_PreservesExistingValues(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Server:  ServerConfig{HTTPAddr: "0.0.0.0:9090", LogLevel: "warn"},
		Sink:    SinkConfig{MaxRequests: 5, Timeout: "2h"},
		Forward: ForwardConfig{Timeout: "3s", MaxResponseBytes: 1024},
		Notify:  NotifyConfig{QueueSize: 10},
	}
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != "0.0.0.0:9090" {
		t.Errorf("HTTPAddr = %q, want preserved", cfg.Server.HTTPAddr)
	}
	if cfg.Server.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want preserved", cfg.Server.LogLevel)
	}
	if cfg.Sink.MaxRequests != 5 {
		t.Errorf("Sink.MaxRequests = %d, want 5", cfg.Sink.MaxRequests)
	}
	if cfg.SinkTimeout() != 2*time.Hour {
		t.Errorf("SinkTimeout() = %v, want 2h", cfg.SinkTimeout())
	}
	if cfg.ForwardTimeout() != 3*time.Second {
		t.Errorf("ForwardTimeout() = %v, want 3s", cfg.ForwardTimeout())
	}
	if cfg.Forward.MaxResponseBytes != 1024 {
		t.Errorf("Forward.MaxResponseBytes = %d, want 1024", cfg.Forward.MaxResponseBytes)
	}
	if cfg.Notify.QueueSize != 10 {
		t.Errorf("Notify.QueueSize = %d, want 10", cfg.Notify.QueueSize)
	}
}

func TestConfig_SetDevDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{DevMode: true}
	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if cfg.Server.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug in dev mode", cfg.Server.LogLevel)
	}
	if !cfg.Tracing.Enabled {
		t.Error("Tracing.Enabled = false, want true in dev mode")
	}

	prod := Config{}
	prod.SetDefaults()
	prod.SetDevDefaults()
	if prod.Server.LogLevel != "info" || prod.Tracing.Enabled {
		t.Errorf("SetDevDefaults changed a non-dev config: %+v", prod.Server)
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want time.Duration
	}{
		{in: "", want: time.Minute},
		{in: "90s", want: 90 * time.Second},
		{in: "garbage", want: time.Minute},
		{in: "-5s", want: time.Minute},
		{in: "0s", want: time.Minute},
	}
	for _, tt := range tests {
		if got := parseDuration(tt.in, time.Minute); got != tt.want {
			t.Errorf("parseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFindConfigFileInPaths_EmptyDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths(empty dir) = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_MatchesYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "requestsink.yml")
	_ = os.WriteFile(cfgPath, []byte("server:\n  http_addr: 127.0.0.1:9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_IgnoresNoExtension(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	// Simulate the binary: a file named "requestsink" with no extension
	_ = os.WriteFile(filepath.Join(dir, "requestsink"), []byte("\x7fELF binary"), 0755)

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths matched binary = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_SearchOrder(t *testing.T) {
	t.Parallel()
	first, second := t.TempDir(), t.TempDir()
	yamlPath := filepath.Join(second, "requestsink.yaml")
	ymlPath := filepath.Join(second, "requestsink.yml")
	_ = os.WriteFile(yamlPath, []byte("{}\n"), 0644)
	_ = os.WriteFile(ymlPath, []byte("{}\n"), 0644)

	got := findConfigFileInPaths([]string{first, second})
	if got != yamlPath {
		t.Errorf("findConfigFileInPaths = %q, want %q (.yaml preferred)", got, yamlPath)
	}
}

// The loader tests share viper's global state and the process environment,
// so they do not run in parallel.

func TestLoadConfig_FromFileWithEnvOverride(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	path := filepath.Join(dir, "requestsink.yaml")
	yaml := `server:
  http_addr: 127.0.0.1:9191
  log_level: warn
sink:
  max_requests: 25
  timeout: 30m
forward:
  timeout: 5s
tracing:
  enabled: true
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("REQUESTSINK_SINK_MAX_REQUESTS", "7")

	InitViper(path)
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if ConfigFileUsed() != path {
		t.Errorf("ConfigFileUsed() = %q, want %q", ConfigFileUsed(), path)
	}
	if cfg.Server.HTTPAddr != "127.0.0.1:9191" {
		t.Errorf("HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Server.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.Server.LogLevel)
	}
	if cfg.Sink.MaxRequests != 7 {
		t.Errorf("Sink.MaxRequests = %d, want env override 7", cfg.Sink.MaxRequests)
	}
	if cfg.SinkTimeout() != 30*time.Minute {
		t.Errorf("SinkTimeout() = %v, want 30m", cfg.SinkTimeout())
	}
	if cfg.ForwardTimeout() != 5*time.Second {
		t.Errorf("ForwardTimeout() = %v, want 5s", cfg.ForwardTimeout())
	}
	if !cfg.Tracing.Enabled {
		t.Error("Tracing.Enabled = false, want true")
	}
	if cfg.Notify.QueueSize != 1000 {
		t.Errorf("Notify.QueueSize = %d, want default 1000", cfg.Notify.QueueSize)
	}
}

func TestLoadConfig_InvalidFileValues(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "requestsink.yaml")
	if err := os.WriteFile(path, []byte("forward:\n  timeout: soon\n"), 0644); err != nil {
		t.Fatal(err)
	}

	InitViper(path)
	if _, err := LoadConfig(); err == nil {
		t.Fatal("LoadConfig() = nil error, want validation failure")
	}
}

func TestLoadConfigRaw_MissingFileIsNotAnError(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.SetConfigName("requestsink-does-not-exist")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(t.TempDir())

	cfg, err := LoadConfigRaw()
	if err != nil {
		t.Fatalf("LoadConfigRaw() error = %v", err)
	}
	if cfg.Server.HTTPAddr != "127.0.0.1:8080" {
		t.Errorf("HTTPAddr = %q, want default", cfg.Server.HTTPAddr)
	}
}
