package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/someip-go/routingd/internal/config"
	"github.com/someip-go/routingd/internal/policy"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Instance != "routing" {
		t.Errorf("Instance = %q, want %q", cfg.Instance, "routing")
	}
	if cfg.Unicast.Address != "127.0.0.1" {
		t.Errorf("Unicast.Address = %q, want %q", cfg.Unicast.Address, "127.0.0.1")
	}
	if !cfg.ServiceDiscovery.Enable {
		t.Error("ServiceDiscovery.Enable = false, want true")
	}
	if cfg.ServiceDiscovery.InitialDelayMin != 50*time.Millisecond {
		t.Errorf("InitialDelayMin = %v, want 50ms", cfg.ServiceDiscovery.InitialDelayMin)
	}
	if cfg.ServiceDiscovery.RepetitionsBaseDelay != 100*time.Millisecond {
		t.Errorf("RepetitionsBaseDelay = %v, want 100ms", cfg.ServiceDiscovery.RepetitionsBaseDelay)
	}
	if cfg.ServiceDiscovery.RepetitionsMax != 3 {
		t.Errorf("RepetitionsMax = %d, want 3", cfg.ServiceDiscovery.RepetitionsMax)
	}
	if cfg.ServiceDiscovery.CyclicOfferDelay != 1*time.Second {
		t.Errorf("CyclicOfferDelay = %v, want 1s", cfg.ServiceDiscovery.CyclicOfferDelay)
	}
	if cfg.Security.Mode != "enforced" {
		t.Errorf("Security.Mode = %q, want %q", cfg.Security.Mode, "enforced")
	}
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromJSON(t *testing.T) {
	t.Parallel()

	jsonContent := `{
		"instance": "host-1",
		"unicast": {"address": "192.168.1.5", "netmask": "255.255.255.0"},
		"service_discovery": {
			"enable": true,
			"cyclic_offer_delay": "2s",
			"repetitions_max": 4
		},
		"services": [
			{"service": 4660, "instance": 1, "address": "192.168.1.5", "port": 30509, "protocol": "udp"}
		],
		"security": {"mode": "audit"},
		"log": {"level": "debug", "format": "text"}
	}`

	path := writeTemp(t, jsonContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Instance != "host-1" {
		t.Errorf("Instance = %q, want %q", cfg.Instance, "host-1")
	}
	if cfg.Unicast.Address != "192.168.1.5" {
		t.Errorf("Unicast.Address = %q, want %q", cfg.Unicast.Address, "192.168.1.5")
	}
	if cfg.ServiceDiscovery.CyclicOfferDelay != 2*time.Second {
		t.Errorf("CyclicOfferDelay = %v, want 2s", cfg.ServiceDiscovery.CyclicOfferDelay)
	}
	if cfg.ServiceDiscovery.RepetitionsMax != 4 {
		t.Errorf("RepetitionsMax = %d, want 4", cfg.ServiceDiscovery.RepetitionsMax)
	}
	if len(cfg.Services) != 1 || cfg.Services[0].Service != 0x1234 {
		t.Fatalf("Services = %+v", cfg.Services)
	}
	if cfg.Security.Mode != "audit" {
		t.Errorf("Security.Mode = %q, want %q", cfg.Security.Mode, "audit")
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v", cfg.Log)
	}

	// Values not present in the file inherit DefaultConfig().
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}
	if cfg.ServiceDiscovery.RepetitionsBaseDelay != 100*time.Millisecond {
		t.Errorf("RepetitionsBaseDelay = %v, want default 100ms", cfg.ServiceDiscovery.RepetitionsBaseDelay)
	}
}

func TestSecurityConfigBuildRules(t *testing.T) {
	t.Parallel()

	sec := config.SecurityConfig{
		Mode: "enforced",
		Rules: []config.PolicyRuleConfig{
			{
				UID: 1000, GID: -1,
				Grants: []config.GrantConfig{
					{
						Service:  config.RangeConfig{Min: 0x1000, Max: 0x1FFF},
						Instance: config.RangeConfig{Min: 0, Max: 0xFFFF},
						Method:   config.RangeConfig{Min: 0, Max: 0xFFFF},
					},
				},
				Eventgroups: []uint16{5},
			},
		},
	}

	rules := sec.BuildRules()
	if len(rules) != 1 {
		t.Fatalf("BuildRules() returned %d rules, want 1", len(rules))
	}
	r := rules[0]
	if r.UID != 1000 {
		t.Errorf("UID = %d, want 1000", r.UID)
	}
	if r.GID != policy.AnyID {
		t.Errorf("GID = %d, want policy.AnyID", r.GID)
	}
	if len(r.Grants) != 1 || r.Grants[0].Service.Min != 0x1000 {
		t.Errorf("Grants = %+v", r.Grants)
	}
	if len(r.Eventgroups) != 1 || r.Eventgroups[0] != 5 {
		t.Errorf("Eventgroups = %+v", r.Eventgroups)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name:    "empty instance",
			modify:  func(cfg *config.Config) { cfg.Instance = "" },
			wantErr: config.ErrEmptyInstance,
		},
		{
			name:    "empty unicast address",
			modify:  func(cfg *config.Config) { cfg.Unicast.Address = "" },
			wantErr: config.ErrInvalidUnicastAddress,
		},
		{
			name:    "invalid unicast address",
			modify:  func(cfg *config.Config) { cfg.Unicast.Address = "not-an-ip" },
			wantErr: nil, // wrapped parse error; checked separately below
		},
		{
			name:    "negative repetitions max",
			modify:  func(cfg *config.Config) { cfg.ServiceDiscovery.RepetitionsMax = -1 },
			wantErr: config.ErrInvalidRepetitionsMax,
		},
		{
			name:    "invalid security mode",
			modify:  func(cfg *config.Config) { cfg.Security.Mode = "maybe" },
			wantErr: config.ErrInvalidSecurityMode,
		},
		{
			name: "invalid service protocol",
			modify: func(cfg *config.Config) {
				cfg.Services = []config.ServiceConfig{{Service: 1, Instance: 1, Protocol: "sctp"}}
			},
			wantErr: config.ErrInvalidServiceProto,
		},
		{
			name: "duplicate service key",
			modify: func(cfg *config.Config) {
				cfg.Services = []config.ServiceConfig{
					{Service: 1, Instance: 1, Protocol: "udp"},
					{Service: 1, Instance: 1, Protocol: "tcp"},
				}
			},
			wantErr: config.ErrDuplicateServiceKey,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestIPCConfigSocketPathDefault(t *testing.T) {
	t.Parallel()

	var ipc config.IPCConfig
	if got, want := ipc.SocketPath("host-1"), "/tmp/vsomeip-routing-host-1"; got != want {
		t.Errorf("SocketPath() = %q, want %q", got, want)
	}

	ipc.SocketPathOverride = "/run/routingd.sock"
	if got := ipc.SocketPath("host-1"); got != "/run/routingd.sock" {
		t.Errorf("SocketPath() override = %q, want override path", got)
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "routingd.json")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
