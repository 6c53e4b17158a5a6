package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

// testOptions mirrors the shape of the server Options struct.
type testOptions struct {
	Config string `help:"Config file path"`

	Port          string        `toml:"server.port" env:"PORT"`
	Workers       int           `toml:"pool.workers" env:"POOL_WORKERS"`
	Interpreter   string        `toml:"pool.interpreter" env:"POOL_INTERPRETER"`
	Debug         bool          `toml:"server.debug" env:"DEBUG"`
	DrainTimeout  time.Duration `toml:"pool.drain_timeout" env:"POOL_DRAIN_TIMEOUT"`
	ExtraEnv      []string      `toml:"pool.env" env:"POOL_ENV"`
	LoggingLevel  string        `toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat string        `toml:"logging.format" env:"LOGGING_FORMAT"`
}

func writeTOML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tablemd.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

const sampleTOML = `
[server]
port = ":9090"
debug = true

[pool]
workers = 8
interpreter = "python3 -X utf8"
drain_timeout = "20s"
env = ["OMP_NUM_THREADS=1", "LANG=C.UTF-8"]

[logging]
level = "debug"
format = "json"
pool = "warn"
`

func TestLoadConfigFromTOML(t *testing.T) {
	opts := &testOptions{Config: writeTOML(t, sampleTOML)}

	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if opts.Port != ":9090" {
		t.Errorf("Port = %q, want :9090", opts.Port)
	}
	if !opts.Debug {
		t.Error("Debug should be true")
	}
	if opts.Workers != 8 {
		t.Errorf("Workers = %d, want 8", opts.Workers)
	}
	if opts.Interpreter != "python3 -X utf8" {
		t.Errorf("Interpreter = %q", opts.Interpreter)
	}
	if opts.DrainTimeout != 20*time.Second {
		t.Errorf("DrainTimeout = %v, want 20s", opts.DrainTimeout)
	}
	wantEnv := []string{"OMP_NUM_THREADS=1", "LANG=C.UTF-8"}
	if !reflect.DeepEqual(opts.ExtraEnv, wantEnv) {
		t.Errorf("ExtraEnv = %v, want %v", opts.ExtraEnv, wantEnv)
	}
	if opts.LoggingLevel != "debug" || opts.LoggingFormat != "json" {
		t.Errorf("logging = %q/%q, want debug/json", opts.LoggingLevel, opts.LoggingFormat)
	}
}

func TestLoadConfigFromEnvVars(t *testing.T) {
	t.Setenv("TABLEMD_PORT", ":7000")
	t.Setenv("TABLEMD_POOL_WORKERS", "3")
	t.Setenv("TABLEMD_DEBUG", "true")
	t.Setenv("TABLEMD_POOL_DRAIN_TIMEOUT", "750ms")
	t.Setenv("TABLEMD_POOL_ENV", "A=1, B=2")

	opts := &testOptions{}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if opts.Port != ":7000" {
		t.Errorf("Port = %q, want :7000", opts.Port)
	}
	if opts.Workers != 3 {
		t.Errorf("Workers = %d, want 3", opts.Workers)
	}
	if !opts.Debug {
		t.Error("Debug should be true")
	}
	if opts.DrainTimeout != 750*time.Millisecond {
		t.Errorf("DrainTimeout = %v, want 750ms", opts.DrainTimeout)
	}
	if want := []string{"A=1", "B=2"}; !reflect.DeepEqual(opts.ExtraEnv, want) {
		t.Errorf("ExtraEnv = %v, want %v", opts.ExtraEnv, want)
	}
}

func TestLoadConfigEnvOverridesToml(t *testing.T) {
	t.Setenv("TABLEMD_POOL_WORKERS", "2")

	opts := &testOptions{Config: writeTOML(t, sampleTOML)}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if opts.Workers != 2 {
		t.Errorf("Workers = %d, want env override 2", opts.Workers)
	}
	if opts.Port != ":9090" {
		t.Errorf("Port = %q, want TOML value :9090", opts.Port)
	}
}

func TestLoadConfigFlagsWin(t *testing.T) {
	t.Setenv("TABLEMD_POOL_WORKERS", "2")

	opts := &testOptions{Config: writeTOML(t, sampleTOML)}
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().IntVar(&opts.Workers, "workers", 4, "")
	if err := cmd.Flags().Set("workers", "5"); err != nil {
		t.Fatal(err)
	}

	if err := LoadConfig(opts, cmd); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if opts.Workers != 5 {
		t.Errorf("Workers = %d, want CLI value 5", opts.Workers)
	}
}

func TestLoadConfigRejectsNonPointer(t *testing.T) {
	if err := LoadConfig(testOptions{}, nil); err == nil {
		t.Fatal("LoadConfig should reject a struct value")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	opts := &testOptions{Config: filepath.Join(t.TempDir(), "absent.toml")}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig should not fail for missing file: %v", err)
	}
}

func TestLoadConfigInvalidTOML(t *testing.T) {
	opts := &testOptions{Config: writeTOML(t, "[pool\nworkers = ")}
	if err := LoadConfig(opts, nil); err == nil {
		t.Fatal("LoadConfig should fail for invalid TOML")
	}
}

func TestGetNestedValue(t *testing.T) {
	data := map[string]any{
		"pool": map[string]any{
			"limits": map[string]any{"max": int64(32)},
			"workers": int64(4),
		},
		"root": "root_value",
	}

	tests := []struct {
		path     string
		expected any
	}{
		{"root", "root_value"},
		{"pool.workers", int64(4)},
		{"pool.limits.max", int64(32)},
		{"nonexistent", nil},
		{"pool.nonexistent", nil},
		{"root.child", nil},
	}

	for _, test := range tests {
		if got := getNestedValue(data, test.path); got != test.expected {
			t.Errorf("getNestedValue(%q) = %v, want %v", test.path, got, test.expected)
		}
	}
}

func TestSetFieldValueDurations(t *testing.T) {
	var s struct{ D time.Duration }
	field := reflect.ValueOf(&s).Elem().Field(0)

	setFieldValue(field, "1m30s")
	if s.D != 90*time.Second {
		t.Errorf("string duration: got %v", s.D)
	}

	setFieldValue(field, int64(7))
	if s.D != 7*time.Second {
		t.Errorf("integer seconds: got %v", s.D)
	}

	setFieldValueFromString(field, "not-a-duration")
	if s.D != 7*time.Second {
		t.Errorf("invalid env value must leave field unchanged, got %v", s.D)
	}
}

func TestLoadFile(t *testing.T) {
	file, err := LoadFile(writeTOML(t, sampleTOML))
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if file.Pool.Workers != 8 {
		t.Errorf("Pool.Workers = %d, want 8", file.Pool.Workers)
	}
	if file.Pool.DrainMaxWaitSeconds != 15 {
		t.Errorf("unset pool keys should keep defaults, got drain %d", file.Pool.DrainMaxWaitSeconds)
	}

	cfg := file.LoggingConfig()
	if cfg.Level != "debug" || cfg.Format != "json" {
		t.Errorf("logging = %q/%q, want debug/json", cfg.Level, cfg.Format)
	}
	if cfg.Modules["pool"] != "warn" {
		t.Errorf("module level pool = %q, want warn", cfg.Modules["pool"])
	}
}

func TestLoadLoggingConfigDefaults(t *testing.T) {
	for _, path := range []string{"", filepath.Join(t.TempDir(), "absent.toml"), writeTOML(t, "[[[")} {
		cfg := LoadLoggingConfig(path)
		if cfg.Level != "info" || cfg.Format != "text" || len(cfg.Modules) != 0 {
			t.Errorf("LoadLoggingConfig(%q) = %+v, want defaults", path, cfg)
		}
	}
}
