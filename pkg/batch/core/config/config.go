// Package config provides the configuration structures for RORefCat and the
// utilities that load them from embedded YAML, .env files and the environment.
package config

import "time"

// EmbeddedConfig holds the content of the configuration file, typically passed from main.go.
type EmbeddedConfig []byte

// RetryConfig holds the exponential backoff settings of a retry loop.
type RetryConfig struct {
	MaxAttempts     int     `yaml:"max_attempts"`     // MaxAttempts includes the first attempt.
	InitialInterval int     `yaml:"initial_interval"` // InitialInterval is the first backoff in milliseconds.
	MaxInterval     int     `yaml:"max_interval"`     // MaxInterval caps the backoff in milliseconds.
	Factor          float64 `yaml:"factor"`           // Factor multiplies the interval after every failure.
}

// ItemSkipConfig lists the error kinds that are reported as warnings instead of failing a job.
type ItemSkipConfig struct {
	SkipLimit           int      `yaml:"skip_limit"` // 0 means unlimited.
	SkippableExceptions []string `yaml:"skippable_exceptions"`
}

// BatchConfig holds the settings used by createjobs and batchprocess.
type BatchConfig struct {
	// Version is the output format version (e.g. "1.1").
	Version string `yaml:"version"`
	// JobsPerFile is the number of source files batched into one job descriptor.
	JobsPerFile int `yaml:"jobs_per_file"`
	// WorkingDir is the scratch area where source files are downloaded and products are written.
	WorkingDir string `yaml:"working_dir"`
	// Clobber overwrites existing canonical files and filetype references.
	Clobber bool `yaml:"clobber"`
	// Retry applies to transient storage failures inside a job.
	Retry RetryConfig `yaml:"retry"`
	// ItemSkip applies to per-sounding failures inside a job.
	ItemSkip ItemSkipConfig `yaml:"item_skip"`
}

// PopulateConfig bounds the bulk prefetch of mirror partitions.
type PopulateConfig struct {
	Concurrency int     `yaml:"concurrency"`
	RateLimit   float64 `yaml:"rate_limit"` // Requests per second, 0 disables the limiter.
	Burst       int     `yaml:"burst"`
}

// MirrorConfig holds the settings of the local metadata mirror.
type MirrorConfig struct {
	// Root is the local directory where partitions are cached.
	Root string `yaml:"root"`
	// Source selects where partitions are fetched from: "shards" (ObjectStore) or "metastore".
	Source string `yaml:"source"`
	// StaleAfter trusts partitions synced within this window without a version
	// check on revalidating lookups. 0 checks every time.
	StaleAfter time.Duration `yaml:"stale_after"`
	// Offline answers queries from the local cache only.
	Offline bool `yaml:"offline"`
	// HotCacheTTL is how long decoded partitions stay in memory.
	HotCacheTTL time.Duration `yaml:"hot_cache_ttl"`
	// Retry applies to partition fetches.
	Retry    RetryConfig    `yaml:"retry"`
	Populate PopulateConfig `yaml:"populate"`
}

// CatalogConfig names the storage and database connections and the layout inside them.
type CatalogConfig struct {
	// StorageRef is the connection holding canonical files and metadata shards.
	StorageRef string `yaml:"storage_ref"`
	// StagingBucket receives canonical files.
	StagingBucket string `yaml:"staging_bucket"`
	// DefinitionsBucket receives job descriptors and run logs.
	DefinitionsBucket string `yaml:"definitions_bucket"`
	// SourceStorageRef is the connection holding the processing centers' source files.
	SourceStorageRef string `yaml:"source_storage_ref"`
	// SourceBuckets maps a processing center to its source bucket.
	SourceBuckets map[string]string `yaml:"source_buckets"`
	// LiveUpdateBuckets maps a processing center to its live-update bucket.
	LiveUpdateBuckets map[string]string `yaml:"liveupdate_buckets"`
	// DBRef is the database connection holding the metadata table.
	DBRef string `yaml:"db_ref"`
	// ShardPrefix is where mission/day metadata shards are exported.
	ShardPrefix string `yaml:"shard_prefix"`
	// JobsPrefix is where job descriptors are written.
	JobsPrefix string `yaml:"jobs_prefix"`
	// LogsPrefix is where per-run log files are uploaded.
	LogsPrefix string `yaml:"logs_prefix"`
}

// ReformatterConfig configures the external reformatting program.
type ReformatterConfig struct {
	// Command is the executable invoked for every source file. Empty disables reformatting.
	Command string `yaml:"command"`
	// Args are passed before the generated arguments.
	Args []string `yaml:"args"`
	// Timeout bounds a single invocation.
	Timeout time.Duration `yaml:"timeout"`
}

// MetricsConfig configures the metric recorder.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	// Exporter is "prometheus", "otlpgrpc" or "otlphttp".
	Exporter string `yaml:"exporter"`
	// TextfilePath is where batch commands flush their Prometheus registry on exit.
	TextfilePath string `yaml:"textfile_path"`
	Endpoint     string `yaml:"endpoint"`
	Insecure     bool   `yaml:"insecure"`
	// Interval is the OTLP push period.
	Interval time.Duration `yaml:"interval"`
}

// TracingConfig configures the OpenTelemetry tracer.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // "stdout", "otlpgrpc" or "otlphttp"
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
	ServiceName string  `yaml:"service_name"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG").
	Level string `yaml:"level"`
	// Encoding is "console" or "json".
	Encoding string `yaml:"encoding"`
	// Dir is where per-run error and warning logs are written before upload.
	Dir string `yaml:"dir"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	Timezone string        `yaml:"timezone"`
	Logging  LoggingConfig `yaml:"logging"`
}

// RORefCatConfig holds all configuration under the "rorefcat" top-level key.
type RORefCatConfig struct {
	System      SystemConfig      `yaml:"system"`
	Batch       BatchConfig       `yaml:"batch"`
	Mirror      MirrorConfig      `yaml:"mirror"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Reformatter ReformatterConfig `yaml:"reformatter"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Tracing     TracingConfig     `yaml:"tracing"`
	// StorageConfigs holds the named storage connections, decoded by the storage providers.
	StorageConfigs map[string]interface{} `yaml:"storage"`
	// DatabaseConfigs holds the named database connections, decoded by the database providers.
	DatabaseConfigs map[string]interface{} `yaml:"database"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	RORefCat       RORefCatConfig `yaml:"rorefcat"`
	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// NewConfig returns a new instance of Config with default values.
func NewConfig() *Config {
	return &Config{
		RORefCat: RORefCatConfig{
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO", Encoding: "console", Dir: "logs"},
			},
			Batch: BatchConfig{
				Version:     "1.1",
				JobsPerFile: 100,
				WorkingDir:  "",
				Retry: RetryConfig{
					MaxAttempts:     3,
					InitialInterval: 1000,
					MaxInterval:     30000,
					Factor:          2.0,
				},
				ItemSkip: ItemSkipConfig{
					SkippableExceptions: []string{
						"ReformatError",
						"NamingConventionError",
					},
				},
			},
			Mirror: MirrorConfig{
				Root:        "",
				Source:      "shards",
				HotCacheTTL: 10 * time.Minute,
				Retry: RetryConfig{
					MaxAttempts:     4,
					InitialInterval: 500,
					MaxInterval:     8000,
					Factor:          2.0,
				},
				Populate: PopulateConfig{Concurrency: 8, RateLimit: 20, Burst: 8},
			},
			Catalog: CatalogConfig{
				StorageRef:        "default",
				StagingBucket:     "gnss-ro-data-staging",
				DefinitionsBucket: "gnss-ro-processing-definitions",
				SourceStorageRef:  "default",
				SourceBuckets:     map[string]string{},
				LiveUpdateBuckets: map[string]string{},
				DBRef:             "metadata",
				ShardPrefix:       "dynamo",
				JobsPrefix:        "batchprocess-jobs",
				LogsPrefix:        "logs",
			},
			Reformatter: ReformatterConfig{Timeout: 10 * time.Minute},
			Metrics:     MetricsConfig{Exporter: "prometheus", Interval: 30 * time.Second},
			Tracing:     TracingConfig{Exporter: "stdout", SampleRatio: 1.0, ServiceName: "rorefcat"},
			StorageConfigs:  map[string]interface{}{},
			DatabaseConfigs: map[string]interface{}{},
		},
	}
}
