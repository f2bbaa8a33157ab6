// Package config defines the root configuration for the restructurer
// service, loaded the way cmd/tempo/main.go loads app.Config: defaults
// overlaid by the YAML file, then a final flag.Parse pass as the override
// layer.
package config

import (
	"flag"
	"fmt"
	"time"
)

// Config is the root config for the restructurer.
type Config struct {
	Service string `yaml:"service,omitempty"`

	PollInterval     time.Duration `yaml:"poll_interval,omitempty"`
	CacheSize        int           `yaml:"cache_size,omitempty"`
	NumThreads       int           `yaml:"num_threads,omitempty"`
	MaxFilesPerTopic int           `yaml:"max_files_per_topic,omitempty"`
	MinimumFileAge   time.Duration `yaml:"minimum_file_age,omitempty"`
	TmpDir           string        `yaml:"tmp_dir,omitempty"`

	Format      string `yaml:"format,omitempty"`
	Compression string `yaml:"compression,omitempty"`
	Deduplicate bool   `yaml:"deduplicate,omitempty"`

	Clean           bool          `yaml:"clean,omitempty"`
	NoRestructure   bool          `yaml:"no_restructure,omitempty"`
	CleanerAge      time.Duration `yaml:"cleaner_age,omitempty"`
	CleanerInterval time.Duration `yaml:"cleaner_interval,omitempty"`

	LogLevel   string `yaml:"log_level,omitempty"`
	ListenAddr string `yaml:"listen_addr,omitempty"`

	Source      BackendConfig `yaml:"source,omitempty"`
	Destination BackendConfig `yaml:"destination,omitempty"`

	Redis RedisConfig `yaml:"redis,omitempty"`
}

// BackendConfig selects and configures one storage driver. Kind is one of
// "local", "hdfs", "s3", "azure".
type BackendConfig struct {
	Kind string `yaml:"kind,omitempty"`

	// Local
	Root string `yaml:"root,omitempty"`

	// HDFS
	Addresses []string `yaml:"addresses,omitempty"`
	User      string   `yaml:"user,omitempty"`

	// S3
	Endpoint  string `yaml:"endpoint,omitempty"`
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`
	Bucket    string `yaml:"bucket,omitempty"`
	UseSSL    bool   `yaml:"use_ssl,omitempty"`

	// Azure
	AccountName   string `yaml:"account_name,omitempty"`
	AccountKey    string `yaml:"account_key,omitempty"`
	ContainerName string `yaml:"container_name,omitempty"`

	// Prefix/root path shared by HDFS, S3 and Azure drivers.
	Prefix string `yaml:"prefix,omitempty"`
}

// RedisConfig configures the distributed lock client.
type RedisConfig struct {
	Addr       string `yaml:"addr,omitempty"`
	LockPrefix string `yaml:"lock_prefix,omitempty"`
}

// ErrUnknownBackend is returned when a BackendConfig names an
// unrecognised Kind.
var ErrUnknownBackend = fmt.Errorf("config: unknown backend kind")

// RegisterFlagsAndApplyDefaults registers flags on f under prefix,
// matching cmd/tempo/app/config.go's pattern: set struct defaults first,
// then register a flag bound to each field so CLI flags can still
// override a YAML-loaded value afterwards.
func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.Service = "restructure"
	c.PollInterval = time.Minute
	c.CacheSize = 100
	c.NumThreads = 4
	c.MaxFilesPerTopic = 1000
	c.MinimumFileAge = 10 * time.Minute
	c.CleanerAge = 7 * 24 * time.Hour
	c.CleanerInterval = time.Hour
	c.TmpDir = "/tmp/restructure"
	c.Format = "csv"
	c.Compression = "gzip"
	c.LogLevel = "info"
	c.ListenAddr = ":8080"
	c.Redis.LockPrefix = "restructure/locks"

	f.StringVar(&c.Service, prefix+"service", c.Service, "Name of this service instance, used in logs and metrics.")
	f.DurationVar(&c.PollInterval, prefix+"poll-interval", c.PollInterval, "Interval between coordination passes.")
	f.IntVar(&c.CacheSize, prefix+"cache-size", c.CacheSize, "Maximum number of concurrently open output files per worker.")
	f.IntVar(&c.NumThreads, prefix+"num-threads", c.NumThreads, "Number of topics to process concurrently.")
	f.IntVar(&c.MaxFilesPerTopic, prefix+"max-files-per-topic", c.MaxFilesPerTopic, "Maximum source files to process per topic per pass.")
	f.DurationVar(&c.MinimumFileAge, prefix+"minimum-file-age", c.MinimumFileAge, "Minimum source file age before it is eligible for processing.")
	f.StringVar(&c.TmpDir, prefix+"tmp-dir", c.TmpDir, "Local directory for staged output files before they are published.")
	f.StringVar(&c.Format, prefix+"format", c.Format, "Output record format: csv or json.")
	f.StringVar(&c.Compression, prefix+"compression", c.Compression, "Output compression codec: gzip, zip, or none.")
	f.BoolVar(&c.Deduplicate, prefix+"deduplicate", c.Deduplicate, "Deduplicate records within an output file before publishing.")
	f.BoolVar(&c.Clean, prefix+"clean", c.Clean, "Run the cleaner pass, deleting fully-extracted source files.")
	f.BoolVar(&c.NoRestructure, prefix+"no-restructure", c.NoRestructure, "Skip the restructure pass; useful to run the cleaner alone.")
	f.DurationVar(&c.CleanerAge, prefix+"cleaner-age", c.CleanerAge, "Minimum source file age before the cleaner will delete it, distinct from minimum-file-age's write-race guard.")
	f.DurationVar(&c.CleanerInterval, prefix+"cleaner-interval", c.CleanerInterval, "Interval between cleaner passes, independent of poll-interval.")
	f.StringVar(&c.LogLevel, prefix+"log-level", c.LogLevel, "Log level: debug, info, warn, error.")
	f.StringVar(&c.ListenAddr, prefix+"listen-addr", c.ListenAddr, "Address for the metrics and status HTTP server.")
}
