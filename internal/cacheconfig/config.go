// Package cacheconfig is the spec §6 Configuration Object: the single
// struct every other package's constructor is assembled from, with
// defaults, validation, and (via Watcher) fsnotify-based hot reload.
// Field layout and yaml tags follow the teacher's own
// internal/config/config.go (yaml.v3, "default:" struct tags documenting
// the fallback alongside the field).
package cacheconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JonasHeinickeBio/europepmc-cache/internal/cachetypes"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/coordinator"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/errorcache"
	"github.com/JonasHeinickeBio/europepmc-cache/internal/health"
)

// Config is the top-level configuration object from spec §6.
type Config struct {
	L1MaxBytes                  int64                            `yaml:"l1_max_bytes" default:"524288000"` // 500 MiB
	L2Enabled                   bool                             `yaml:"l2_enabled" default:"true"`
	L2Dir                       string                           `yaml:"l2_dir" default:"./cache_dir/l2"`
	L2MaxBytes                  int64                            `yaml:"l2_max_bytes" default:"5368709120"` // 5 GiB
	NamespaceVersion            int                              `yaml:"namespace_version" default:"1"`
	TTLByType                   map[cachetypes.DataType]Duration `yaml:"ttl_by_type"`
	DefaultTTL                  Duration                         `yaml:"default_ttl" default:"300s"`
	ArtifactsDir                string                           `yaml:"artifacts_dir" default:"./artifacts_dir"`
	ArtifactSizeLimitBytes      int64                            `yaml:"artifact_size_limit_bytes" default:"10737418240"` // 10 GiB
	ArtifactGCTargetUtilization float64                          `yaml:"artifact_gc_target_utilization" default:"0.8"`
	ShardCount                  int                              `yaml:"shard_count" default:"64"`
	LatencySampleWindow         int                              `yaml:"latency_sample_window" default:"1000"`
	EnableNegativeCaching       bool                             `yaml:"enable_negative_caching" default:"true"`
	ErrorTTLs                   map[int]ErrorPolicy              `yaml:"error_ttls"`
	HealthThresholds            HealthThresholds                 `yaml:"health_thresholds"`
}

// ErrorPolicy mirrors errorcache.Policy with yaml tags for configuration
// overrides of the spec §4.8 default table.
type ErrorPolicy struct {
	BaseTTL          Duration `yaml:"base_ttl"`
	Jitter           Duration `yaml:"jitter"`
	HonorsRetryAfter bool     `yaml:"honors_retry_after"`
}

// HealthThresholds mirrors health.Thresholds with yaml tags, per spec §6.
type HealthThresholds struct {
	MinHitRate             float64 `yaml:"min_hit_rate"`
	MaxErrorRate           float64 `yaml:"max_error_rate"`
	MaxL1LatencyP99        float64 `yaml:"max_l1_latency_p99"`
	MaxL2LatencyP99        float64 `yaml:"max_l2_latency_p99"`
	MaxL2DiskUsageFraction float64 `yaml:"max_l2_disk_usage_fraction" default:"0.9"`
	MinL2HitRate           float64 `yaml:"min_l2_hit_rate"`
}

// Duration wraps time.Duration with YAML text (un)marshaling so config
// files write "300s" rather than a raw nanosecond integer.
type Duration time.Duration

func (d Duration) AsDuration() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.v3's Unmarshaler via a generic decode
// func, accepting either a duration string ("300s") or a bare integer
// number of seconds for backward-compatible config files.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw interface{}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("cacheconfig: invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(time.Duration(v) * time.Second)
	default:
		return fmt.Errorf("cacheconfig: unsupported duration value %v", raw)
	}
	return nil
}

// Default returns the spec §6 default configuration.
func Default() Config {
	return Config{
		L1MaxBytes:                  500 * 1024 * 1024,
		L2Enabled:                   true,
		L2Dir:                       "./cache_dir/l2",
		L2MaxBytes:                  5 * 1024 * 1024 * 1024,
		NamespaceVersion:            1,
		DefaultTTL:                  Duration(300 * time.Second),
		ArtifactsDir:                "./artifacts_dir",
		ArtifactSizeLimitBytes:      10 * 1024 * 1024 * 1024,
		ArtifactGCTargetUtilization: 0.8,
		ShardCount:                  64,
		LatencySampleWindow:         1000,
		EnableNegativeCaching:       true,
		HealthThresholds: HealthThresholds{
			MaxL2DiskUsageFraction: 0.9,
		},
	}
}

// Load reads a YAML file at path and unmarshals it onto Default(), so
// any field the file omits keeps its spec §6 default rather than
// zeroing out (yaml.v3 has no notion of the "default:" struct tags
// above; they document the fallback, Default supplies it).
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, cachetypes.NewError(cachetypes.KindConfig, "cacheconfig.Load", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, cachetypes.NewError(cachetypes.KindConfig, "cacheconfig.Load", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that would leave the engine unable to
// start, per spec §7's ConfigError.
func (c Config) Validate() error {
	if c.L1MaxBytes <= 0 {
		return cachetypes.NewError(cachetypes.KindConfig, "cacheconfig.Validate", "", fmt.Errorf("l1_max_bytes must be > 0"))
	}
	if c.L2Enabled && c.L2MaxBytes <= 0 {
		return cachetypes.NewError(cachetypes.KindConfig, "cacheconfig.Validate", "", fmt.Errorf("l2_max_bytes must be > 0 when l2_enabled"))
	}
	if c.NamespaceVersion < 0 {
		return cachetypes.NewError(cachetypes.KindConfig, "cacheconfig.Validate", "", fmt.Errorf("namespace_version must be >= 0"))
	}
	if c.ArtifactGCTargetUtilization <= 0 || c.ArtifactGCTargetUtilization > 1 {
		return cachetypes.NewError(cachetypes.KindConfig, "cacheconfig.Validate", "", fmt.Errorf("artifact_gc_target_utilization must be in (0, 1]"))
	}
	if c.ShardCount <= 0 {
		return cachetypes.NewError(cachetypes.KindConfig, "cacheconfig.Validate", "", fmt.Errorf("shard_count must be > 0"))
	}
	if c.LatencySampleWindow <= 0 {
		return cachetypes.NewError(cachetypes.KindConfig, "cacheconfig.Validate", "", fmt.Errorf("latency_sample_window must be > 0"))
	}
	if c.HealthThresholds.MaxL2DiskUsageFraction < 0 || c.HealthThresholds.MaxL2DiskUsageFraction > 1 {
		return cachetypes.NewError(cachetypes.KindConfig, "cacheconfig.Validate", "", fmt.Errorf("health_thresholds.max_l2_disk_usage_fraction must be in [0, 1]"))
	}
	return nil
}

// ToHealthThresholds converts the config's yaml-tagged thresholds into
// the health package's native type.
func (c Config) ToHealthThresholds() health.Thresholds {
	h := c.HealthThresholds
	return health.Thresholds{
		MinHitRate:             h.MinHitRate,
		MaxErrorRate:           h.MaxErrorRate,
		MaxL1LatencyP99:        h.MaxL1LatencyP99,
		MaxL2LatencyP99:        h.MaxL2LatencyP99,
		MaxL2DiskUsageFraction: h.MaxL2DiskUsageFraction,
		MinL2HitRate:           h.MinL2HitRate,
	}
}

// ToErrorPolicies converts configured error TTL overrides into
// errorcache's native Policy map, falling back to errorcache's own
// defaults for any status code the config doesn't override.
func (c Config) ToErrorPolicies() map[int]errorcache.Policy {
	policies := errorcache.DefaultPolicies()
	for status, override := range c.ErrorTTLs {
		base := policies[status]
		policies[status] = errorcache.Policy{
			BaseTTL:           override.BaseTTL.AsDuration(),
			Jitter:            override.Jitter.AsDuration(),
			HonorsRetryAfter:  override.HonorsRetryAfter,
			IsNegativeCaching: base.IsNegativeCaching,
		}
	}
	return policies
}

// ToCoordinatorTTLByType converts the configured per-type TTL overrides,
// falling back to coordinator.DefaultTTLByType for any type not
// overridden.
func (c Config) ToCoordinatorTTLByType() map[cachetypes.DataType]time.Duration {
	out := coordinator.DefaultTTLByType()
	for dt, d := range c.TTLByType {
		out[dt] = d.AsDuration()
	}
	return out
}

// ToCoordinatorConfig builds a coordinator.Config from this Config.
func (c Config) ToCoordinatorConfig() coordinator.Config {
	return coordinator.Config{
		NamespaceVersion: c.NamespaceVersion,
		TTLByType:        c.ToCoordinatorTTLByType(),
		DefaultTTL:       c.DefaultTTL.AsDuration(),
		ShardCount:       c.ShardCount,
	}
}
