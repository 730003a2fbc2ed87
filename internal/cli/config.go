package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/mender/internal/paths"
	"github.com/mesh-intelligence/mender/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	envPrefix      = "MENDER"
)

// Config keys. Nested keys use viper's dot notation and map to MENDER_X_Y
// environment variables.
const (
	keyDialect         = "dialect"
	keyDSN             = "dsn"
	keyDataDir         = "data_dir"
	keyMaxConns        = "max_conns"
	keyWorkers         = "workers"
	keyTaskParallelism = "task_parallelism"
	keyBatchSize       = "batch_size"
	keyTimeout         = "timeout"
	keyLogFormat       = "log.format"
	keyLogLevel        = "log.level"
	keyMetricsFile     = "metrics_file"
	keyReportFile      = "report.file"
	keyS3Bucket        = "report.s3.bucket"
	keyS3Prefix        = "report.s3.prefix"
	keyS3Region        = "report.s3.region"
	keyS3Endpoint      = "report.s3.endpoint"
	keyS3PathStyle     = "report.s3.path_style"
	keyS3AccessKeyID   = "report.s3.access_key_id"
	keyS3SecretKey     = "report.s3.secret_access_key"
)

// defaults lists every key viper should know about, so that environment
// overrides reach Unmarshal even when config.yaml omits the key.
var defaults = map[string]any{
	keyDialect:         types.DialectSQLite,
	keyDSN:             "",
	keyDataDir:         "",
	keyMaxConns:        types.DefaultMaxConns,
	keyWorkers:         types.DefaultWorkers,
	keyTaskParallelism: types.DefaultTaskParallelism,
	keyBatchSize:       types.DefaultBatchSize,
	keyTimeout:         "0s",
	keyLogFormat:       "text",
	keyLogLevel:        "info",
	keyMetricsFile:     "",
	keyReportFile:      "",
	keyS3Bucket:        "",
	keyS3Prefix:        "",
	keyS3Region:        "",
	keyS3Endpoint:      "",
	keyS3PathStyle:     false,
	keyS3AccessKeyID:   "",
	keyS3SecretKey:     "",
}

// flagKeys binds persistent flags to config keys.
var flagKeys = map[string]string{
	"dialect":          keyDialect,
	"dsn":              keyDSN,
	"max-conns":        keyMaxConns,
	"workers":          keyWorkers,
	"task-parallelism": keyTaskParallelism,
	"batch-size":       keyBatchSize,
	"timeout":          keyTimeout,
	"log-format":       keyLogFormat,
	"log-level":        keyLogLevel,
	"metrics-file":     keyMetricsFile,
	"report-file":      keyReportFile,
}

// newViper returns a viper instance with defaults, environment overrides
// and the given flags bound.
func newViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return v, nil
}

// loadConfig reads config.yaml from configDir into v. It creates the
// directory and a default config.yaml on first run.
func loadConfig(v *viper.Viper, configDir string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("ensure config dir: %w", err)
	}
	if err := ensureDefaultConfigFile(configDir); err != nil {
		return fmt.Errorf("ensure default config: %w", err)
	}

	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// decodeConfig produces the validated run configuration. An empty DSN on
// the sqlite dialect falls back to mender.db in the data directory.
func decodeConfig(v *viper.Viper, dataDirFlag string) (types.Config, error) {
	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return types.Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.DSN == "" && cfg.Dialect == types.DialectSQLite {
		dataDir, err := paths.ResolveDataDir(dataDirFlag, v.GetString(keyDataDir))
		if err != nil {
			return types.Config{}, fmt.Errorf("resolve data dir: %w", err)
		}
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return types.Config{}, fmt.Errorf("ensure data dir: %w", err)
		}
		cfg.DSN = paths.DefaultStorePath(dataDir)
	}
	if err := cfg.Validate(); err != nil {
		return types.Config{}, err
	}
	return cfg, nil
}

// ensureDefaultConfigFile writes a default config.yaml unless one exists.
func ensureDefaultConfigFile(configDir string) error {
	path := filepath.Join(configDir, paths.ConfigFileName)
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}
	return writeConfigFile(path, defaultConfig())
}

func defaultConfig() types.Config {
	return types.Config{
		Dialect:         types.DialectSQLite,
		MaxConns:        types.DefaultMaxConns,
		Workers:         types.DefaultWorkers,
		TaskParallelism: types.DefaultTaskParallelism,
		BatchSize:       types.DefaultBatchSize,
		Log:             types.LogConfig{Format: "text", Level: "info"},
	}
}

const configHeader = `# mender configuration
# Every key can be overridden by a MENDER_ environment variable
# (report.s3.bucket -> MENDER_REPORT_S3_BUCKET) or a command-line flag.
# An empty dsn with the sqlite dialect uses mender.db in the data directory.

`

// writeConfigFile renders cfg as YAML. Durations are written in Go syntax
// so that viper reads them back.
func writeConfigFile(path string, cfg types.Config) error {
	doc := configDocument{Config: cfg, Timeout: cfg.Timeout.String()}
	b, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, append([]byte(configHeader), b...), 0o600)
}

// configDocument overrides the timeout field so it is written as "30m"
// rather than nanoseconds.
type configDocument struct {
	types.Config `yaml:",inline"`
	Timeout      string `yaml:"timeout"`
}
