// Package config loads the routing host's configuration document using
// koanf/v2: a JSON file overlaid with VSOMEIP_-prefixed environment
// variables, merged on top of DefaultConfig().
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/someip-go/routingd/internal/policy"
	"github.com/someip-go/routingd/internal/sd"
	"github.com/someip-go/routingd/internal/someip"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete routing host configuration.
type Config struct {
	// Instance is the routing-host instance name. It selects the default
	// local-IPC socket path (IPCConfig.SocketPath).
	Instance string `koanf:"instance"`

	Unicast          UnicastConfig        `koanf:"unicast"`
	ServiceDiscovery ServiceDiscovery     `koanf:"service_discovery"`
	Services         []ServiceConfig      `koanf:"services"`
	Applications     []ApplicationConfig  `koanf:"applications"`
	Events           []EventConfig        `koanf:"events"`
	Security         SecurityConfig       `koanf:"security"`
	IPC              IPCConfig            `koanf:"ipc"`
	Log              LogConfig            `koanf:"log"`
	Metrics          MetricsConfig        `koanf:"metrics"`
}

// UnicastConfig holds the local unicast address this routing host binds
// its endpoints to.
type UnicastConfig struct {
	// Address is the local unicast IP address.
	Address string `koanf:"address"`
	// Netmask is the local subnet mask. It is loaded and kept here;
	// routingd does not read it.
	Netmask string `koanf:"netmask"`
}

// Addr parses Address as a netip.Addr.
func (u UnicastConfig) Addr() (netip.Addr, error) {
	if u.Address == "" {
		return netip.Addr{}, fmt.Errorf("unicast address: %w", ErrInvalidUnicastAddress)
	}
	addr, err := netip.ParseAddr(u.Address)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("parse unicast address %q: %w", u.Address, err)
	}
	return addr, nil
}

// ServiceGroupDelay staggers the initial OFFER of one named group of
// services relative to service-discovery startup, so a large fleet of
// local services does not all announce in the same cyclic round.
type ServiceGroupDelay struct {
	Group string        `koanf:"group"`
	Delay time.Duration `koanf:"delay"`
}

// ServiceDiscovery holds the SD engine's enable flag and timing
// parameters (spec.md §4.4's INITIAL_WAIT/REPETITION/MAIN phases).
type ServiceDiscovery struct {
	Enable bool `koanf:"enable"`

	MulticastAddress string `koanf:"multicast_address"`
	MulticastPort    uint16 `koanf:"multicast_port"`

	// InitialDelayMin/Max bound T0, the jittered delay before the first
	// OFFER after a service becomes ready.
	InitialDelayMin time.Duration `koanf:"initial_delay_min"`
	InitialDelayMax time.Duration `koanf:"initial_delay_max"`

	// RepetitionsBaseDelay and RepetitionsMax configure the exponential
	// REPETITION phase (base, 2*base, 4*base, ... for RepetitionsMax
	// rounds) before the MAIN phase's CyclicOfferDelay takes over.
	RepetitionsBaseDelay time.Duration `koanf:"repetitions_base_delay"`
	RepetitionsMax       int           `koanf:"repetitions_max"`

	// CyclicOfferDelay is the steady-state MAIN phase OFFER period, and
	// also the client-ID reuse quarantine window after a guest
	// disconnects (spec.md §5).
	CyclicOfferDelay time.Duration `koanf:"cyclic_offer_delay"`

	// TTL is the advertised TTL, in seconds, of OFFER/SUBSCRIBE entries
	// this host emits.
	TTL uint32 `koanf:"ttl"`

	// RequestResponseMaxTimeout bounds how long a relayed Request waits
	// for a Response before the host synthesizes E_TIMEOUT.
	RequestResponseMaxTimeout time.Duration `koanf:"request_response_max_timeout"`

	ServiceGroupDelays []ServiceGroupDelay `koanf:"service_group_delays"`
}

// ServiceConfig declares one locally-routed service deployment: its
// transport endpoint and, optionally, the multicast group its
// notifications are sent to.
type ServiceConfig struct {
	Service  uint16 `koanf:"service"`
	Instance uint16 `koanf:"instance"`
	Major    uint8  `koanf:"major"`
	Minor    uint32 `koanf:"minor"`

	Address  string `koanf:"address"`
	Port     uint16 `koanf:"port"`
	Protocol string `koanf:"protocol"` // "udp" or "tcp"
	Reliable bool   `koanf:"reliable"`

	Multicast     string `koanf:"multicast"`
	MulticastPort uint16 `koanf:"multicast_port"`
}

// Key returns the routing table key for this service deployment.
func (sc ServiceConfig) Key() (someip.ServiceID, someip.InstanceID) {
	return someip.ServiceID(sc.Service), someip.InstanceID(sc.Instance)
}

// ApplicationConfig declares a named local application's client-ID hint
// and dispatcher thread pool size.
type ApplicationConfig struct {
	Name string `koanf:"name"`
	// ClientID is the static client_t hint; 0 (someip.IllegalClient)
	// means the routing host assigns a random free one.
	ClientID uint16 `koanf:"client_id"`
	// Dispatchers is the number of dispatcher threads the client
	// library should start for this application. routingd does not use
	// this value and does not send it to the guest; the ASSIGN_CLIENT
	// reply carries only the client_t.
	Dispatchers int `koanf:"dispatchers"`
}

// DebounceConfig mirrors internal/sd.Filter in koanf-decodable form.
type DebounceConfig struct {
	OnChange              bool          `koanf:"on_change"`
	Mask                  []byte        `koanf:"mask"`
	Interval              time.Duration `koanf:"interval"`
	IntervalResetOnChange bool          `koanf:"interval_reset_on_change"`
}

// Filter converts a DebounceConfig to the sd.Filter the debouncer uses.
func (d DebounceConfig) Filter() sd.Filter {
	return sd.Filter{
		OnChange:              d.OnChange,
		Mask:                  d.Mask,
		Interval:              d.Interval,
		IntervalResetOnChange: d.IntervalResetOnChange,
	}
}

// EventConfig attaches a debounce filter to one event within an
// eventgroup.
type EventConfig struct {
	Service    uint16         `koanf:"service"`
	Instance   uint16         `koanf:"instance"`
	Eventgroup uint16         `koanf:"eventgroup"`
	Event      uint16         `koanf:"event"`
	Debounce   DebounceConfig `koanf:"debounce"`
}

// RangeConfig is the koanf-decodable form of policy.Range.
type RangeConfig struct {
	Min uint16 `koanf:"min"`
	Max uint16 `koanf:"max"`
}

// policyAnyID is the JSON-friendly spelling of policy.AnyID: writing -1
// for uid or gid in a rule means "any". An omitted uid/gid decodes as 0,
// not as "any".
const policyAnyID = -1

// GrantConfig is the koanf-decodable form of policy.Grant.
type GrantConfig struct {
	Service  RangeConfig `koanf:"service"`
	Instance RangeConfig `koanf:"instance"`
	Method   RangeConfig `koanf:"method"`
}

// PolicyRuleConfig is the koanf-decodable form of policy.Rule. A UID/GID
// of -1 means "any"; an absent UID/GID decodes as 0.
type PolicyRuleConfig struct {
	UID         int64         `koanf:"uid"`
	GID         int64         `koanf:"gid"`
	Grants      []GrantConfig `koanf:"grants"`
	Eventgroups []uint16      `koanf:"eventgroups"`
}

// SecurityConfig holds the policy engine's mode and rule set.
type SecurityConfig struct {
	// Mode is "enforced", "audit", or "off".
	Mode  string             `koanf:"mode"`
	Rules []PolicyRuleConfig `koanf:"rules"`
}

// BuildRules converts the configuration's rule entries to policy.Rule
// values ready for policy.Engine.SetRules.
func (sec SecurityConfig) BuildRules() []policy.Rule {
	rules := make([]policy.Rule, 0, len(sec.Rules))
	for _, rc := range sec.Rules {
		r := policy.Rule{
			UID: idOrAny(rc.UID),
			GID: idOrAny(rc.GID),
		}
		for _, g := range rc.Grants {
			r.Grants = append(r.Grants, policy.Grant{
				Service:  policy.Range(g.Service),
				Instance: policy.Range(g.Instance),
				Method:   policy.Range(g.Method),
			})
		}
		for _, eg := range rc.Eventgroups {
			r.Eventgroups = append(r.Eventgroups, someip.EventgroupID(eg))
		}
		rules = append(rules, r)
	}
	return rules
}

func idOrAny(id int64) uint32 {
	if id == policyAnyID {
		return policy.AnyID
	}
	return uint32(id)
}

// IPCConfig holds the local-IPC transport's listen path and keepalive
// parameters (spec.md §4.5, §5's watchdog timer).
type IPCConfig struct {
	// SocketPathOverride is the Unix-domain stream socket path
	// (/tmp/vsomeip-<host-id>-<instance> per spec.md §6.3). Empty means
	// DefaultSocketPath(Instance) is used.
	SocketPathOverride string `koanf:"socket_path"`

	WatchdogInterval time.Duration `koanf:"watchdog_interval"`
	WatchdogTimeout  time.Duration `koanf:"watchdog_timeout"`

	// MaxPayload bounds a single command's payload; 0 selects
	// ipc.DefaultMaxPayloadSize (1 MiB).
	MaxPayload int `koanf:"max_payload"`
}

// DefaultSocketPath returns the conventional local-IPC socket path for a
// routing host instance name.
func DefaultSocketPath(instance string) string {
	return fmt.Sprintf("/tmp/vsomeip-routing-%s", instance)
}

// SocketPath returns the configured socket path, or the conventional
// default derived from instance when unset.
func (i IPCConfig) SocketPath(instance string) string {
	if i.SocketPathOverride != "" {
		return i.SocketPathOverride
	}
	return DefaultSocketPath(instance)
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
	Path string `koanf:"path"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with the timing defaults from
// spec.md's worked SD example ({T0=50ms, base=100ms, R_max=3,
// cyclic=1s}) and conservative values everywhere else.
func DefaultConfig() *Config {
	return &Config{
		Instance: "routing",
		Unicast: UnicastConfig{
			Address: "127.0.0.1",
			Netmask: "255.255.255.0",
		},
		ServiceDiscovery: ServiceDiscovery{
			Enable:                    true,
			MulticastAddress:          someip.DefaultSDMulticastAddr,
			MulticastPort:             someip.DefaultSDPort,
			InitialDelayMin:           50 * time.Millisecond,
			InitialDelayMax:           50 * time.Millisecond,
			RepetitionsBaseDelay:      100 * time.Millisecond,
			RepetitionsMax:            3,
			CyclicOfferDelay:          1 * time.Second,
			TTL:                       uint32(someip.TTLForever),
			RequestResponseMaxTimeout: 5 * time.Second,
		},
		Security: SecurityConfig{
			Mode: policy.ModeEnforced.String(),
		},
		IPC: IPCConfig{
			WatchdogInterval: 2 * time.Second,
			WatchdogTimeout:  5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for routing host
// configuration overrides (spec.md §6.5).
const envPrefix = "VSOMEIP_"

// EnvApplicationName and EnvConfiguration are the two spec-mandated
// environment variables; EnvRoutingHost is the routing-host override
// naming which application acts as the routing host.
const (
	EnvApplicationName = envPrefix + "APPLICATION_NAME"
	EnvConfiguration   = envPrefix + "CONFIGURATION"
	EnvRoutingHost     = envPrefix + "ROUTING_HOST"
)

// Load reads the configuration document at path, overlays VSOMEIP_
// environment variable overrides, and merges on top of DefaultConfig().
// Missing fields inherit defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), json.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms VSOMEIP_UNICAST_ADDRESS -> unicast.address.
// Every VSOMEIP_-prefixed variable goes through this mapping; nothing
// in the module reads EnvApplicationName, EnvConfiguration or
// EnvRoutingHost under its own name.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"instance":                                   defaults.Instance,
		"unicast.address":                            defaults.Unicast.Address,
		"unicast.netmask":                            defaults.Unicast.Netmask,
		"service_discovery.enable":                   defaults.ServiceDiscovery.Enable,
		"service_discovery.multicast_address":        defaults.ServiceDiscovery.MulticastAddress,
		"service_discovery.multicast_port":           defaults.ServiceDiscovery.MulticastPort,
		"service_discovery.initial_delay_min":        defaults.ServiceDiscovery.InitialDelayMin.String(),
		"service_discovery.initial_delay_max":        defaults.ServiceDiscovery.InitialDelayMax.String(),
		"service_discovery.repetitions_base_delay":   defaults.ServiceDiscovery.RepetitionsBaseDelay.String(),
		"service_discovery.repetitions_max":          defaults.ServiceDiscovery.RepetitionsMax,
		"service_discovery.cyclic_offer_delay":       defaults.ServiceDiscovery.CyclicOfferDelay.String(),
		"service_discovery.ttl":                      defaults.ServiceDiscovery.TTL,
		"service_discovery.request_response_max_timeout": defaults.ServiceDiscovery.RequestResponseMaxTimeout.String(),
		"security.mode":                              defaults.Security.Mode,
		"ipc.watchdog_interval":                       defaults.IPC.WatchdogInterval.String(),
		"ipc.watchdog_timeout":                        defaults.IPC.WatchdogTimeout.String(),
		"log.level":                                   defaults.Log.Level,
		"log.format":                                  defaults.Log.Format,
		"metrics.addr":                                defaults.Metrics.Addr,
		"metrics.path":                                defaults.Metrics.Path,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	ErrInvalidUnicastAddress = errors.New("unicast.address is invalid")
	ErrEmptyInstance         = errors.New("instance must not be empty")
	ErrInvalidServiceProto   = errors.New("service protocol must be udp or tcp")
	ErrDuplicateServiceKey   = errors.New("duplicate (service, instance) key")
	ErrInvalidSecurityMode   = errors.New("security.mode must be enforced, audit, or off")
	ErrInvalidRepetitionsMax = errors.New("service_discovery.repetitions_max must be >= 0")
)

// ValidProtocols lists the recognized service transport protocol strings.
var ValidProtocols = map[string]bool{
	"udp": true,
	"tcp": true,
}

// ValidSecurityModes lists the recognized security.mode strings.
var ValidSecurityModes = map[string]bool{
	"enforced": true,
	"audit":    true,
	"off":      true,
}

// Validate checks the configuration for logical errors. Returns the
// first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Instance == "" {
		return ErrEmptyInstance
	}

	if _, err := cfg.Unicast.Addr(); err != nil {
		return err
	}

	if cfg.ServiceDiscovery.RepetitionsMax < 0 {
		return ErrInvalidRepetitionsMax
	}

	if cfg.Security.Mode != "" && !ValidSecurityModes[cfg.Security.Mode] {
		return fmt.Errorf("security.mode %q: %w", cfg.Security.Mode, ErrInvalidSecurityMode)
	}

	return validateServices(cfg.Services)
}

func validateServices(services []ServiceConfig) error {
	seen := make(map[someip.ServiceID]map[someip.InstanceID]struct{}, len(services))

	for i, sc := range services {
		if sc.Protocol != "" && !ValidProtocols[sc.Protocol] {
			return fmt.Errorf("services[%d] protocol %q: %w", i, sc.Protocol, ErrInvalidServiceProto)
		}

		svc, inst := sc.Key()
		if seen[svc] == nil {
			seen[svc] = make(map[someip.InstanceID]struct{})
		}
		if _, dup := seen[svc][inst]; dup {
			return fmt.Errorf("services[%d] (%#04x, %#04x): %w", i, svc, inst, ErrDuplicateServiceKey)
		}
		seen[svc][inst] = struct{}{}
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the
// corresponding slog.Level. Unknown values default to slog.LevelInfo.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
