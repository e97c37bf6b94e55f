package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

// testOptions mirrors the shape of the daemon options struct.
type testOptions struct {
	Config string `help:"Config file path"`

	Port              int           `toml:"server.port" env:"PORT"`
	TopologyFile      string        `toml:"display.topology_file" env:"TOPOLOGY_FILE"`
	AutoEnable        bool          `toml:"display.auto_enable" env:"AUTO_ENABLE"`
	DisableTimeout    time.Duration `toml:"pipeline.disable_timeout" env:"DISABLE_TIMEOUT"`
	SequencerEvent    uint32        `toml:"sequencer.event" env:"SEQUENCER_EVENT"`
	EnabledPipelines  []string      `toml:"display.pipelines" env:"PIPELINES"`
	LoggingLevel      string        `toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingPipeline   string        `toml:"logging.pipeline" env:"LOGGING_PIPELINE"`
	VblankWaitTimeout time.Duration `toml:"pipeline.vblank_wait_timeout" env:"VBLANK_WAIT_TIMEOUT"`
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const sampleConfig = `
[server]
port = 8090

[display]
topology_file = "/etc/scanout/topology.toml"
auto_enable = true
pipelines = ["main", "ext"]

[pipeline]
disable_timeout = "750ms"
vblank_wait_timeout = 40

[sequencer]
event = 12

[logging]
level = "info"
pipeline = "debug"
`

func TestLoadConfigFromTOML(t *testing.T) {
	opts := &testOptions{Config: writeFile(t, "config.toml", sampleConfig)}

	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if opts.Port != 8090 {
		t.Errorf("Port = %d, want 8090", opts.Port)
	}
	if opts.TopologyFile != "/etc/scanout/topology.toml" || !opts.AutoEnable {
		t.Errorf("display options = %q, %v", opts.TopologyFile, opts.AutoEnable)
	}
	if opts.DisableTimeout != 750*time.Millisecond {
		t.Errorf("DisableTimeout = %v, want 750ms", opts.DisableTimeout)
	}
	if opts.VblankWaitTimeout != 40*time.Millisecond {
		t.Errorf("integer duration = %v, want 40ms", opts.VblankWaitTimeout)
	}
	if opts.SequencerEvent != 12 {
		t.Errorf("SequencerEvent = %d, want 12", opts.SequencerEvent)
	}
	if !reflect.DeepEqual(opts.EnabledPipelines, []string{"main", "ext"}) {
		t.Errorf("EnabledPipelines = %v", opts.EnabledPipelines)
	}
	if opts.LoggingPipeline != "debug" {
		t.Errorf("LoggingPipeline = %q, want debug", opts.LoggingPipeline)
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := writeFile(t, "config.toml", sampleConfig)
	t.Setenv(EnvPrefix+"PORT", "9000")
	t.Setenv(EnvPrefix+"DISABLE_TIMEOUT", "1s")
	t.Setenv(EnvPrefix+"LOGGING_LEVEL", "warn")
	t.Setenv(EnvPrefix+"PIPELINES", " main , hdmi ")

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("logging-level", "", "")
	if err := cmd.Flags().Set("logging-level", "error"); err != nil {
		t.Fatal(err)
	}

	opts := &testOptions{Config: path, LoggingLevel: "error"}
	if err := LoadConfig(opts, cmd); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if opts.Port != 9000 {
		t.Errorf("env did not override TOML port: %d", opts.Port)
	}
	if opts.DisableTimeout != time.Second {
		t.Errorf("DisableTimeout = %v, want 1s", opts.DisableTimeout)
	}
	if opts.LoggingLevel != "error" {
		t.Errorf("CLI flag overridden: LoggingLevel = %q", opts.LoggingLevel)
	}
	if !reflect.DeepEqual(opts.EnabledPipelines, []string{"main", "hdmi"}) {
		t.Errorf("EnabledPipelines = %v", opts.EnabledPipelines)
	}
	if opts.TopologyFile != "/etc/scanout/topology.toml" {
		t.Error("TOML value lost when no override exists")
	}
}

func TestGetNestedValue(t *testing.T) {
	data := map[string]any{
		"display": map[string]any{
			"mode": map[string]any{
				"width": int64(1920),
			},
			"auto_enable": true,
		},
		"root": "root_value",
	}

	tests := []struct {
		path     string
		expected any
	}{
		{"root", "root_value"},
		{"display.auto_enable", true},
		{"display.mode.width", int64(1920)},
		{"missing", nil},
		{"display.missing", nil},
		{"root.child", nil},
	}

	for _, test := range tests {
		if got := getNestedValue(data, test.path); got != test.expected {
			t.Errorf("getNestedValue(%q) = %v, expected %v", test.path, got, test.expected)
		}
	}
}

func TestSetFieldValueFromString(t *testing.T) {
	type fields struct {
		Timeout time.Duration
		Event   uint32
		Count   int
		Names   []string
	}
	s := &fields{}
	v := reflect.ValueOf(s).Elem()

	setFieldValueFromString(v.FieldByName("Timeout"), "250ms")
	setFieldValueFromString(v.FieldByName("Event"), "0x10")
	setFieldValueFromString(v.FieldByName("Count"), "3")
	setFieldValueFromString(v.FieldByName("Names"), "a,b")

	if s.Timeout != 250*time.Millisecond || s.Event != 16 || s.Count != 3 || !reflect.DeepEqual(s.Names, []string{"a", "b"}) {
		t.Errorf("fields = %+v", s)
	}

	setFieldValueFromString(v.FieldByName("Timeout"), "soon")
	if s.Timeout != 250*time.Millisecond {
		t.Error("invalid duration overwrote the field")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	opts := &testOptions{Config: filepath.Join(t.TempDir(), "absent.toml"), Port: 8090}

	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig should not fail for missing file: %v", err)
	}
	if opts.Port != 8090 {
		t.Error("default overwritten")
	}
}

func TestLoadConfigInvalidTOML(t *testing.T) {
	opts := &testOptions{Config: writeFile(t, "bad.toml", "[server\nport = ")}

	if err := LoadConfig(opts, nil); err == nil {
		t.Fatal("LoadConfig should fail for invalid TOML")
	}
}

func TestLoadLoggingConfig(t *testing.T) {
	path := writeFile(t, "config.toml", `
[logging]
level = "warn"
format = "pretty"
api = "error"

[logging.modules]
pipeline = "debug"
sequencer = "debug"
`)

	cfg := LoadLoggingConfig(path)
	if cfg.Level != "warn" || cfg.Format != "pretty" {
		t.Errorf("level/format = %q/%q", cfg.Level, cfg.Format)
	}
	want := map[string]string{"api": "error", "pipeline": "debug", "sequencer": "debug"}
	if !reflect.DeepEqual(cfg.Modules, want) {
		t.Errorf("modules = %v, want %v", cfg.Modules, want)
	}

	if def := LoadLoggingConfig(""); def.Level != "info" || def.Format != "text" {
		t.Errorf("defaults = %+v", def)
	}
	if _, err := ReadLoggingConfig(writeFile(t, "bad.toml", "[logging")); err == nil {
		t.Error("ReadLoggingConfig accepted invalid TOML")
	}
}
