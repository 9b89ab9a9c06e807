// Package config resolves a3s box's runtime configuration from, in
// priority order: command-line flags, environment variables, an
// optional <home>/config.yaml, then built-in defaults. It is layered
// with viper so operators can persist daemon-wide settings without
// exporting environment variables on every invocation.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

const (
	defaultImageCacheSize = 10 << 30 // 10 GiB
	defaultStopTimeout    = 10 * time.Second
)

// Config is the resolved runtime configuration for a3s box.
type Config struct {
	// Home is the root of a3s box's on-disk state (<home>/images,
	// <home>/boxes.json, <home>/volumes, ...). Defaults to ~/.a3s.
	Home string

	// ImageCacheSize bounds the total size of cached image layer blobs,
	// in bytes. Eviction runs after each pull once usage exceeds it.
	ImageCacheSize int64

	// DepsStub, when true, swaps the real hypervisor/network/registry
	// backends for in-process simulations so the engine can run without
	// libkrun/KVM/HVF or root privileges. Mirrors A3S_DEPS_STUB.
	DepsStub bool

	// TEESimulate, when true, makes pkg/tee return deterministic
	// simulated attestation reports instead of talking to real SEV-SNP
	// firmware. Mirrors A3S_TEE_SIMULATE.
	TEESimulate bool

	// DefaultStopTimeout holds the 10s stop-timeout fallback. pkg/engine
	// and pkg/shim apply their own 10s default and do not read this
	// field.
	DefaultStopTimeout time.Duration

	LogLevel string
	LogJSON  bool
}

// Load resolves Config from environment variables and an optional
// <home>/config.yaml, with built-in defaults as the final fallback.
// v may be nil, in which case a fresh viper instance is used — tests
// pass their own instance to avoid cross-test global state.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	v.SetEnvPrefix("A3S")
	v.AutomaticEnv()

	home, err := defaultHome()
	if err != nil {
		return nil, fmt.Errorf("resolve default home: %w", err)
	}
	v.SetDefault("home", home)
	v.SetDefault("image_cache_size", defaultImageCacheSize)
	v.SetDefault("deps_stub", false)
	v.SetDefault("tee_simulate", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)

	// A3S_HOME, A3S_IMAGE_CACHE_SIZE, A3S_DEPS_STUB, A3S_TEE_SIMULATE
	// map onto these keys via AutomaticEnv's prefix+underscore rule.
	_ = v.BindEnv("home", "A3S_HOME")
	_ = v.BindEnv("image_cache_size", "A3S_IMAGE_CACHE_SIZE")
	_ = v.BindEnv("deps_stub", "A3S_DEPS_STUB")
	_ = v.BindEnv("tee_simulate", "A3S_TEE_SIMULATE")

	resolvedHome := v.GetString("home")
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(resolvedHome)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config.yaml: %w", err)
		}
	}

	cfg := &Config{
		Home:               v.GetString("home"),
		ImageCacheSize:      v.GetInt64("image_cache_size"),
		DepsStub:           v.GetBool("deps_stub"),
		TEESimulate:        v.GetBool("tee_simulate"),
		DefaultStopTimeout: defaultStopTimeout,
		LogLevel:           v.GetString("log_level"),
		LogJSON:            v.GetBool("log_json"),
	}
	return cfg, nil
}

func defaultHome() (string, error) {
	dir, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ".a3s"), nil
}

// BoxesPath returns the path to the single box-state JSON document.
func (c *Config) BoxesPath() string {
	return filepath.Join(c.Home, "boxes.json")
}

// ImagesDir returns the root of the image/layer cache.
func (c *Config) ImagesDir() string {
	return filepath.Join(c.Home, "images")
}

// VolumesDir returns the root directory volumes are created under.
func (c *Config) VolumesDir() string {
	return filepath.Join(c.Home, "volumes")
}

// RootfsCacheDir returns the root of the fingerprint-keyed rootfs
// cache.
func (c *Config) RootfsCacheDir() string {
	return filepath.Join(c.Home, "rootfs-cache")
}

// ControlSocketPath returns the path of the Unix-domain fallback
// listener used when no microVM/vsock transport is available.
func (c *Config) ControlSocketPath() string {
	return filepath.Join(c.Home, "control.sock")
}

// APISocketPath returns the path of the Unix-domain socket cmd/boxd
// serves its control API on and cmd/box dials.
func (c *Config) APISocketPath() string {
	return filepath.Join(c.Home, "boxd.sock")
}

// NetworksDir returns the root directory network documents are
// stored under.
func (c *Config) NetworksDir() string {
	return filepath.Join(c.Home, "networks")
}
