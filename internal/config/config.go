// Package config provides configuration management for mfsfs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration is the root configuration tree for a mount of the remote
// drive. It is loaded from YAML, then overlaid with environment variables,
// then validated before a mount is attempted.
type Configuration struct {
	Global   GlobalConfig  `yaml:"global"`
	Mount    MountConfig   `yaml:"mount"`
	Remote   RemoteConfig  `yaml:"remote"`
	Staging  StagingConfig `yaml:"staging"`
	Cache    CacheConfig   `yaml:"cache"`
	Update   UpdateConfig  `yaml:"update"`
	Features FeatureConfig `yaml:"features"`
}

// GlobalConfig covers process-wide settings: logging and service ports.
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	LogFormat   string `yaml:"log_format"` // "text" or "json"
	MetricsPort int    `yaml:"metrics_port"`
	HealthPort  int    `yaml:"health_port"`
}

// MountConfig describes where and how the FUSE filesystem is projected.
type MountConfig struct {
	MountPoint  string       `yaml:"mount_point"`
	Options     MountOptions `yaml:"options"`
	Permissions Permissions  `yaml:"permissions"`
}

// MountOptions mirrors the subset of FUSE mount knobs the filesystem cares
// about. AttrTimeout/EntryTimeout are kept short because the catalog, not
// the kernel, is the source of truth for attributes between update() polls.
type MountOptions struct {
	ReadOnly     bool          `yaml:"read_only"`
	AllowOther   bool          `yaml:"allow_other"`
	AllowRoot    bool          `yaml:"allow_root"`
	DefaultPerms bool          `yaml:"default_permissions"`
	Debug        bool          `yaml:"debug"`
	FSName       string        `yaml:"fsname"`
	Subtype      string        `yaml:"subtype"`
	MaxRead      uint32        `yaml:"max_read"`
	MaxWrite     uint32        `yaml:"max_write"`
	AttrTimeout  time.Duration `yaml:"attr_timeout"`
	EntryTimeout time.Duration `yaml:"entry_timeout"`
}

// Permissions are the uid/gid/mode applied to every synthesized inode, since
// the remote API carries no POSIX permission bits of its own.
type Permissions struct {
	UID      uint32 `yaml:"uid"`
	GID      uint32 `yaml:"gid"`
	FileMode uint32 `yaml:"file_mode"`
	DirMode  uint32 `yaml:"dir_mode"`
}

// RemoteConfig holds connection details for the remote drive API and the
// resilience tuning (timeout, retry, circuit breaker) wrapped around it.
type RemoteConfig struct {
	BaseURL        string        `yaml:"base_url"`
	SessionToken   string        `yaml:"session_token"`
	Email          string        `yaml:"email"`
	Password       string        `yaml:"password"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Retry applies only to FolderTree.update's journal fetch; every other
	// remote call fails fast so a stuck filesystem call returns promptly.
	Retry RetryConfig `yaml:"retry"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`

	// ResponseCache bounds the in-memory LRU of recent folder_get_content
	// and file_get_info responses consulted between journal updates.
	ResponseCache ResponseCacheConfig `yaml:"response_cache"`
}

// RetryConfig configures bounded, jittered backoff.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// CircuitBreakerConfig configures the breaker wrapping remote calls.
type CircuitBreakerConfig struct {
	Enabled             bool          `yaml:"enabled"`
	FailureThreshold    uint32        `yaml:"failure_threshold"`
	HalfOpenMaxRequests uint32        `yaml:"half_open_max_requests"`
	OpenTimeout         time.Duration `yaml:"open_timeout"`
}

// ResponseCacheConfig bounds the LRU cache of remote responses.
type ResponseCacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Size    int           `yaml:"size"`
	TTL     time.Duration `yaml:"ttl"`
}

// StagingConfig names the directory that holds unnamed staging files backing
// open handles. It must be on a filesystem with room for the largest file a
// client may open for write.
type StagingConfig struct {
	Directory string `yaml:"directory"`
}

// CacheConfig configures the on-disk catalog persistence file (the
// directory-tree cache), not the in-memory response cache.
type CacheConfig struct {
	Directory   string `yaml:"directory"`
	FileName    string `yaml:"file_name"`
	Compression bool   `yaml:"compression"`
}

// UpdateConfig controls the background, non-forced journal poll.
type UpdateConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // cron expression, e.g. "*/30 * * * * *"
}

// FeatureConfig toggles optional behaviors.
type FeatureConfig struct {
	MountPreflight bool `yaml:"mount_preflight"` // create the mount point directory before mounting if it is missing
}

// NewDefault returns a Configuration populated with production-sane
// defaults; callers then apply LoadFromFile/LoadFromEnv overlays.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:    "INFO",
			LogFormat:   "text",
			MetricsPort: 8080,
			HealthPort:  8081,
		},
		Mount: MountConfig{
			Options: MountOptions{
				DefaultPerms: true,
				MaxRead:      128 * 1024,
				MaxWrite:     128 * 1024,
				AttrTimeout:  time.Second,
				EntryTimeout: time.Second,
				FSName:       "mfsfs",
				Subtype:      "mediafire",
			},
			Permissions: Permissions{
				UID:      uint32(os.Getuid()),
				GID:      uint32(os.Getgid()),
				FileMode: 0644,
				DirMode:  0755,
			},
		},
		Remote: RemoteConfig{
			BaseURL:        "https://www.mediafire.com/api/1.5",
			RequestTimeout: 30 * time.Second,
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   250 * time.Millisecond,
				MaxDelay:    4 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:             true,
				FailureThreshold:    5,
				HalfOpenMaxRequests: 1,
				OpenTimeout:         30 * time.Second,
			},
			ResponseCache: ResponseCacheConfig{
				Enabled: true,
				Size:    2048,
				TTL:     time.Minute,
			},
		},
		Staging: StagingConfig{
			Directory: filepath.Join(os.TempDir(), "mfsfs-staging"),
		},
		Cache: CacheConfig{
			Directory:   filepath.Join(defaultCacheHome(), "mfsfs"),
			FileName:    "catalog.cache",
			Compression: true,
		},
		Update: UpdateConfig{
			Enabled:  true,
			Schedule: "*/30 * * * * *",
		},
		Features: FeatureConfig{
			MountPreflight: true,
		},
	}
}

func defaultCacheHome() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir
	}
	return os.TempDir()
}

// LoadFromFile unmarshals YAML at path into c, overwriting any field the
// file sets. Fields absent from the file are left at their current values.
func (c *Configuration) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// SaveToFile marshals c as YAML to path with restrictive permissions, since
// RemoteConfig may carry a session token or password.
func (c *Configuration) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write temp config file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename temp config file: %w", err)
	}
	return nil
}

// LoadFromEnv overlays MFSFS_* environment variables onto c. Environment
// variables take precedence over file contents but not over explicit CLI
// flags applied after this call.
func (c *Configuration) LoadFromEnv() error {
	if v := os.Getenv("MFSFS_LOG_LEVEL"); v != "" {
		c.Global.LogLevel = v
	}
	if v := os.Getenv("MFSFS_MOUNT_POINT"); v != "" {
		c.Mount.MountPoint = v
	}
	if v := os.Getenv("MFSFS_REMOTE_BASE_URL"); v != "" {
		c.Remote.BaseURL = v
	}
	if v := os.Getenv("MFSFS_SESSION_TOKEN"); v != "" {
		c.Remote.SessionToken = v
	}
	if v := os.Getenv("MFSFS_EMAIL"); v != "" {
		c.Remote.Email = v
	}
	if v := os.Getenv("MFSFS_PASSWORD"); v != "" {
		c.Remote.Password = v
	}
	if v := os.Getenv("MFSFS_STAGING_DIR"); v != "" {
		c.Staging.Directory = v
	}
	if v := os.Getenv("MFSFS_CACHE_DIR"); v != "" {
		c.Cache.Directory = v
	}
	if v := os.Getenv("MFSFS_METRICS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MFSFS_METRICS_PORT: %w", err)
		}
		c.Global.MetricsPort = port
	}
	return nil
}

// Validate checks the configuration for internal consistency. It does not
// verify that the mount point or staging directory exist on disk; callers
// perform that check at mount time, where the error can name the path.
func (c *Configuration) Validate() error {
	if c.Mount.MountPoint == "" {
		return fmt.Errorf("mount.mount_point is required")
	}
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	if c.Remote.SessionToken == "" && (c.Remote.Email == "" || c.Remote.Password == "") {
		return fmt.Errorf("remote requires either session_token or email+password")
	}
	if c.Staging.Directory == "" {
		return fmt.Errorf("staging.directory is required")
	}
	if c.Cache.Directory == "" {
		return fmt.Errorf("cache.directory is required")
	}
	if c.Remote.Retry.MaxAttempts < 1 {
		return fmt.Errorf("remote.retry.max_attempts must be at least 1")
	}
	if c.Global.MetricsPort != 0 && c.Global.MetricsPort == c.Global.HealthPort {
		return fmt.Errorf("metrics_port and health_port must differ")
	}
	switch c.Global.LogLevel {
	case "", "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("invalid log level: %s", c.Global.LogLevel)
	}
	return nil
}
