package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/rorefcat/pkg/batch/support/util/exception"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/logger"

	"go.uber.org/fx"
)

const moduleName = "config"

// ConfigParams defines the dependencies for NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig
	EnvFilePath    string              `name:"envFilePath" optional:"true"`
	Expander       EnvironmentExpander `optional:"true"`
}

// loadConfig loads configuration in the following order, each step overriding the previous one:
// defaults from NewConfig, the embedded YAML (after ${VAR} expansion), then environment
// variables named after the yaml tags (ROREFCAT_BATCH_VERSION, ...). The .env file is loaded
// into the environment first.
func loadConfig(envFilePath string, embeddedConfig EmbeddedConfig, expander EnvironmentExpander) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Debugf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else if err := godotenv.Load(); err != nil {
		logger.Debugf(".env file not found or could not be loaded: %v", err)
	}
	if expander == nil {
		expander = NewOsEnvironmentExpander()
	}

	cfg := NewConfig()

	expanded, err := expander.Expand(embeddedConfig)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to expand environment variables in embedded config", err, false, false)
	}
	var yamlConfig Config
	if err := yaml.Unmarshal(expanded, &yamlConfig); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to unmarshal embedded config", err, false, false)
	}
	mergeConfig(cfg, &yamlConfig)

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to load config from environment variables", err, false, false)
	}
	cfg.EmbeddedConfig = embeddedConfig
	return cfg, nil
}

// NewConfigProvider is an Fx provider that loads and provides *Config.
// It also applies the logging settings and validates the configured error kinds.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := loadConfig(params.EnvFilePath, params.EmbeddedConfig, params.Expander)
	if err != nil {
		return nil, err
	}

	logger.SetLogLevel(cfg.RORefCat.System.Logging.Level)
	if cfg.RORefCat.System.Logging.Encoding != "" {
		logger.SetEncoding(cfg.RORefCat.System.Logging.Encoding)
	}
	logger.Debugf("Log level set to: %s", cfg.RORefCat.System.Logging.Level)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig loads configuration from the embedded YAML, the .env file and the environment.
func LoadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	return loadConfig(envFilePath, embeddedConfig, nil)
}

// Validate checks the values that the components cannot default on their own.
func Validate(cfg *Config) error {
	c := cfg.RORefCat
	if c.Batch.Version == "" {
		return exception.NewBatchErrorf(moduleName, "batch.version must not be empty")
	}
	if c.Batch.JobsPerFile <= 0 {
		return exception.NewBatchErrorf(moduleName, "batch.jobs_per_file must be positive, got %d", c.Batch.JobsPerFile)
	}
	for name, r := range map[string]RetryConfig{"batch.retry": c.Batch.Retry, "mirror.retry": c.Mirror.Retry} {
		if r.MaxAttempts < 1 {
			return exception.NewBatchErrorf(moduleName, "%s.max_attempts must be at least 1", name)
		}
		if r.Factor < 1 {
			return exception.NewBatchErrorf(moduleName, "%s.factor must be at least 1", name)
		}
	}
	switch c.Mirror.Source {
	case "shards", "metastore":
	default:
		return exception.NewBatchErrorf(moduleName, "mirror.source must be \"shards\" or \"metastore\", got %q", c.Mirror.Source)
	}
	switch c.Metrics.Exporter {
	case "prometheus", "otlpgrpc", "otlphttp":
	default:
		return exception.NewBatchErrorf(moduleName, "metrics.exporter must be \"prometheus\", \"otlpgrpc\" or \"otlphttp\", got %q", c.Metrics.Exporter)
	}
	if c.Mirror.StaleAfter < 0 {
		return exception.NewBatchErrorf(moduleName, "mirror.stale_after must not be negative")
	}
	return checkExceptionClasses(c.Batch.ItemSkip.SkippableExceptions, "ItemSkip")
}

// mergeConfig performs a deep merge from source into dest.
// Values in source overwrite dest only when they are not zero values.
func mergeConfig(dest, source *Config) {
	d, s := &dest.RORefCat, &source.RORefCat

	mergeSystemConfig(&d.System, &s.System)
	mergeBatchConfig(&d.Batch, &s.Batch)
	mergeMirrorConfig(&d.Mirror, &s.Mirror)
	mergeCatalogConfig(&d.Catalog, &s.Catalog)

	if s.Reformatter.Command != "" {
		d.Reformatter.Command = s.Reformatter.Command
	}
	if s.Reformatter.Args != nil {
		d.Reformatter.Args = s.Reformatter.Args
	}
	if s.Reformatter.Timeout != 0 {
		d.Reformatter.Timeout = s.Reformatter.Timeout
	}

	if s.Metrics.Enabled {
		d.Metrics.Enabled = true
	}
	if s.Metrics.TextfilePath != "" {
		d.Metrics.TextfilePath = s.Metrics.TextfilePath
	}
	if s.Metrics.Exporter != "" {
		d.Metrics.Exporter = s.Metrics.Exporter
	}
	if s.Metrics.Endpoint != "" {
		d.Metrics.Endpoint = s.Metrics.Endpoint
	}
	if s.Metrics.Insecure {
		d.Metrics.Insecure = true
	}
	if s.Metrics.Interval != 0 {
		d.Metrics.Interval = s.Metrics.Interval
	}

	if s.Tracing.Enabled {
		d.Tracing.Enabled = true
	}
	if s.Tracing.Insecure {
		d.Tracing.Insecure = true
	}
	if s.Tracing.Exporter != "" {
		d.Tracing.Exporter = s.Tracing.Exporter
	}
	if s.Tracing.Endpoint != "" {
		d.Tracing.Endpoint = s.Tracing.Endpoint
	}
	if s.Tracing.SampleRatio != 0 {
		d.Tracing.SampleRatio = s.Tracing.SampleRatio
	}
	if s.Tracing.ServiceName != "" {
		d.Tracing.ServiceName = s.Tracing.ServiceName
	}

	mergeMap(&d.StorageConfigs, s.StorageConfigs)
	mergeMap(&d.DatabaseConfigs, s.DatabaseConfigs)
}

func mergeMap[V any](dest *map[string]V, source map[string]V) {
	if source == nil {
		return
	}
	if *dest == nil {
		*dest = make(map[string]V, len(source))
	}
	for k, v := range source {
		(*dest)[k] = v
	}
}

func mergeSystemConfig(dest, source *SystemConfig) {
	if source.Timezone != "" {
		dest.Timezone = source.Timezone
	}
	if source.Logging.Level != "" {
		dest.Logging.Level = source.Logging.Level
	}
	if source.Logging.Encoding != "" {
		dest.Logging.Encoding = source.Logging.Encoding
	}
	if source.Logging.Dir != "" {
		dest.Logging.Dir = source.Logging.Dir
	}
}

func mergeRetryConfig(dest, source *RetryConfig) {
	if source.MaxAttempts != 0 {
		dest.MaxAttempts = source.MaxAttempts
	}
	if source.InitialInterval != 0 {
		dest.InitialInterval = source.InitialInterval
	}
	if source.MaxInterval != 0 {
		dest.MaxInterval = source.MaxInterval
	}
	if source.Factor != 0 {
		dest.Factor = source.Factor
	}
}

func mergeBatchConfig(dest, source *BatchConfig) {
	if source.Version != "" {
		dest.Version = source.Version
	}
	if source.JobsPerFile != 0 {
		dest.JobsPerFile = source.JobsPerFile
	}
	if source.WorkingDir != "" {
		dest.WorkingDir = source.WorkingDir
	}
	if source.Clobber {
		dest.Clobber = true
	}
	mergeRetryConfig(&dest.Retry, &source.Retry)
	if source.ItemSkip.SkipLimit != 0 {
		dest.ItemSkip.SkipLimit = source.ItemSkip.SkipLimit
	}
	if source.ItemSkip.SkippableExceptions != nil {
		dest.ItemSkip.SkippableExceptions = source.ItemSkip.SkippableExceptions
	}
}

func mergeMirrorConfig(dest, source *MirrorConfig) {
	if source.Root != "" {
		dest.Root = source.Root
	}
	if source.Source != "" {
		dest.Source = source.Source
	}
	if source.StaleAfter != 0 {
		dest.StaleAfter = source.StaleAfter
	}
	if source.Offline {
		dest.Offline = true
	}
	if source.HotCacheTTL != 0 {
		dest.HotCacheTTL = source.HotCacheTTL
	}
	mergeRetryConfig(&dest.Retry, &source.Retry)
	if source.Populate.Concurrency != 0 {
		dest.Populate.Concurrency = source.Populate.Concurrency
	}
	if source.Populate.RateLimit != 0 {
		dest.Populate.RateLimit = source.Populate.RateLimit
	}
	if source.Populate.Burst != 0 {
		dest.Populate.Burst = source.Populate.Burst
	}
}

func mergeCatalogConfig(dest, source *CatalogConfig) {
	strs := []struct {
		dst *string
		src string
	}{
		{&dest.StorageRef, source.StorageRef},
		{&dest.StagingBucket, source.StagingBucket},
		{&dest.DefinitionsBucket, source.DefinitionsBucket},
		{&dest.SourceStorageRef, source.SourceStorageRef},
		{&dest.DBRef, source.DBRef},
		{&dest.ShardPrefix, source.ShardPrefix},
		{&dest.JobsPrefix, source.JobsPrefix},
		{&dest.LogsPrefix, source.LogsPrefix},
	}
	for _, s := range strs {
		if s.src != "" {
			*s.dst = s.src
		}
	}
	mergeMap(&dest.SourceBuckets, source.SourceBuckets)
	mergeMap(&dest.LiveUpdateBuckets, source.LiveUpdateBuckets)
}

// checkExceptionClasses validates that all error kind names are registered in the exception registry.
func checkExceptionClasses(classNames []string, configType string) error {
	for _, name := range classNames {
		if !exception.IsErrorTypeRegistered(name) {
			return exception.NewBatchErrorf(moduleName, "%s configuration references unknown exception class: '%s'", configType, name)
		}
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// loadStructFromEnv recursively loads configuration values into a struct from environment variables.
// The variable name is the upper-cased path of yaml tags joined by "_".
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		if field.Kind() == reflect.Map {
			if field.Type().Key().Kind() == reflect.String && field.Type().Elem().Kind() == reflect.String {
				loadStringMapFromEnv(field, envVarName+"_")
			}
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}
		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// loadStringMapFromEnv fills a map[string]string from variables sharing prefix.
// ROREFCAT_CATALOG_SOURCE_BUCKETS_UCAR=bucket sets key "ucar".
func loadStringMapFromEnv(mapField reflect.Value, prefix string) {
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		parts := strings.SplitN(strings.TrimPrefix(env, prefix), "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			continue
		}
		if mapField.IsNil() {
			mapField.Set(reflect.MakeMap(mapField.Type()))
		}
		mapField.SetMapIndex(reflect.ValueOf(strings.ToLower(parts[0])), reflect.ValueOf(parts[1]))
	}
}

// setField sets the value of a reflect.Value field based on its kind.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return nil
		}
		parts := strings.Split(value, ",")
		out := reflect.MakeSlice(field.Type(), 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = reflect.Append(out, reflect.ValueOf(p))
			}
		}
		field.Set(out)
	}
	return nil
}
