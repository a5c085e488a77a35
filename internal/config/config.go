// Package config loads and validates the TOML configuration file described
// using viper (as topolvm's config stack does) over
// BurntSushi/toml for the underlying codec, with the search order: explicit
// --config path, a file beside the executable, then /etc/coldcapture.toml.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/coldcapture/coldcapture/internal/model"
	"github.com/spf13/viper"
)

// Server holds the remote archival target coordinates.
type Server struct {
	URI              string `mapstructure:"uri"`
	CredentialPath   string `mapstructure:"credential_path"`
	Port             int    `mapstructure:"port"`
	BandwidthCapMBps int    `mapstructure:"bandwidth_cap_mbps"` // 0 = unbounded
}

// Archive holds compression and spool policy.
type Archive struct {
	Compressor     string `mapstructure:"compressor"`    // zstd | pigz
	Level          int    `mapstructure:"level"`         // 1-9
	ChunkSizeMB    int    `mapstructure:"chunk_size_mb"` // 0 disables chunking
	SpoolDir       string `mapstructure:"spool_dir"`
	PreserveXattrs bool   `mapstructure:"preserve_xattrs"`
}

// Discovery holds device-filter policy. AllowLVM/AllowRAID gate whether an
// already-assembled LVM/RAID volume is a candidate during enumeration;
// EnableMDRAID/EnableZFS gate whether the orchestrator attempts to assemble
// those composite layers at all before enumeration runs — two distinct
// decisions applied at two distinct pipeline stages.
type Discovery struct {
	IncludeFSTypes     []string `mapstructure:"include_fstypes"`
	SkipFSTypes        []string `mapstructure:"skip_fstypes"`
	SkipIfEncrypted    bool     `mapstructure:"skip_if_encrypted"`
	AllowLVM           bool     `mapstructure:"allow_lvm"`
	AllowRAID          bool     `mapstructure:"allow_raid"`
	EnableLVM          bool     `mapstructure:"enable_lvm"`
	EnableMDRAID       bool     `mapstructure:"enable_mdraid"`
	EnableZFS          bool     `mapstructure:"enable_zfs"`
	MinPartitionSizeGB float64  `mapstructure:"min_partition_size_gb"`
	DeviceAvoidList    []string `mapstructure:"device_avoid_list"`
}

// Filters holds archive-streamer filtering policy.
type Filters struct {
	MaxFileSizeMB int `mapstructure:"max_file_size_mb"`
}

// Runtime holds concurrency policy.
type Runtime struct {
	Workers int `mapstructure:"workers"` // 0 = auto
}

// Naming holds archive-name derivation policy.
type Naming struct {
	DateFmt     string `mapstructure:"date_fmt"`
	TokenSource string `mapstructure:"token_source"`
	Pattern     string `mapstructure:"archive_name_pattern"`
}

// Integrity holds hashing policy.
type Integrity struct {
	Algorithm string `mapstructure:"algorithm"` // sha256
}

// Output holds run-summary emission policy.
type Output struct {
	RunSummaryDir string `mapstructure:"run_summary_dir"`
	PerVolumeJSON bool   `mapstructure:"per_volume_json"`
}

// Config is immutable after Load returns.
type Config struct {
	Server    Server    `mapstructure:"server"`
	Archive   Archive   `mapstructure:"archive"`
	Discovery Discovery `mapstructure:"discovery"`
	Filters   Filters   `mapstructure:"filters"`
	Runtime   Runtime   `mapstructure:"runtime"`
	Naming    Naming    `mapstructure:"naming"`
	Integrity Integrity `mapstructure:"integrity"`
	Output    Output    `mapstructure:"output"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("archive.compressor", "zstd")
	v.SetDefault("archive.level", 6)
	v.SetDefault("archive.chunk_size_mb", 2048)
	v.SetDefault("archive.spool_dir", "/var/tmp/coldcapture/spool")
	v.SetDefault("discovery.skip_if_encrypted", true)
	v.SetDefault("discovery.allow_lvm", true)
	v.SetDefault("discovery.allow_raid", true)
	v.SetDefault("discovery.enable_lvm", true)
	v.SetDefault("discovery.enable_mdraid", true)
	v.SetDefault("discovery.enable_zfs", true)
	v.SetDefault("discovery.min_partition_size_gb", 1.0)
	v.SetDefault("filters.max_file_size_mb", 0)
	v.SetDefault("runtime.workers", 0)
	v.SetDefault("naming.date_fmt", "20060102")
	v.SetDefault("naming.token_source", "machine-id")
	v.SetDefault("naming.archive_name_pattern", "{date}-{token}-disk{disk}-part{part}")
	v.SetDefault("integrity.algorithm", "sha256")
	v.SetDefault("server.bandwidth_cap_mbps", 0)
	v.SetDefault("output.run_summary_dir", "/var/tmp/coldcapture/runs")
	v.SetDefault("output.per_volume_json", true)
}

// Load resolves the config file via the --config/adjacent-file/
// /etc search order and decodes it. explicitPath is the --config flag
// value, empty if unset.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	defaults(v)

	path, err := resolvePath(explicitPath)
	if err != nil {
		return nil, &model.ConfigError{Detail: "resolving config path", Cause: err}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, &model.ConfigError{Detail: fmt.Sprintf("reading %s", path), Cause: err}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &model.ConfigError{Detail: "decoding config", Cause: err}
	}

	if err := validate(&cfg); err != nil {
		return nil, &model.ConfigError{Detail: "validating config", Cause: err}
	}

	return &cfg, nil
}

// resolvePath walks --config, then a file adjacent to the executable, then
// /etc/coldcapture.toml, returning "" if no config file is found anywhere
// (defaults apply).
func resolvePath(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("--config %s: %w", explicitPath, err)
		}
		return explicitPath, nil
	}

	if exe, err := os.Executable(); err == nil {
		adjacent := filepath.Join(filepath.Dir(exe), "coldcapture.toml")
		if _, err := os.Stat(adjacent); err == nil {
			return adjacent, nil
		}
	}

	const etcPath = "/etc/coldcapture.toml"
	if _, err := os.Stat(etcPath); err == nil {
		return etcPath, nil
	}

	return "", nil
}

func validate(cfg *Config) error {
	switch cfg.Archive.Compressor {
	case "zstd", "pigz":
	default:
		return fmt.Errorf("archive.compressor must be zstd or pigz, got %q", cfg.Archive.Compressor)
	}
	if cfg.Archive.Level < 1 || cfg.Archive.Level > 9 {
		return fmt.Errorf("archive.level must be 1-9, got %d", cfg.Archive.Level)
	}
	if cfg.Archive.ChunkSizeMB < 0 {
		return fmt.Errorf("archive.chunk_size_mb must be >= 0, got %d", cfg.Archive.ChunkSizeMB)
	}
	if cfg.Integrity.Algorithm != "sha256" {
		return fmt.Errorf("integrity.algorithm %q not supported", cfg.Integrity.Algorithm)
	}
	if cfg.Naming.Pattern == "" {
		return fmt.Errorf("naming.archive_name_pattern must not be empty")
	}
	return nil
}
