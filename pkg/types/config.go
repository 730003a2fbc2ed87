package types

import (
	"errors"
	"time"
)

// Supported store dialects.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// Defaults applied by the CLI when a key is absent from config.yaml.
const (
	DefaultWorkers         = 8
	DefaultTaskParallelism = 1
	DefaultBatchSize       = 3000
	DefaultMaxConns        = 16
)

// Config holds store selection and run parameters for one mender run.
type Config struct {
	Dialect string `json:"dialect" yaml:"dialect" mapstructure:"dialect"`
	DSN     string `json:"dsn" yaml:"dsn" mapstructure:"dsn"`

	// MaxConns caps the connection pool. Fan-out units each hold one
	// connection, so it should be at least Workers.
	MaxConns int `json:"max_conns" yaml:"max_conns" mapstructure:"max_conns"`

	// Workers bounds the shared executor used for per-entity-set fan-out.
	Workers int `json:"workers" yaml:"workers" mapstructure:"workers"`

	// TaskParallelism bounds how many requested tasks run at once.
	TaskParallelism int `json:"task_parallelism" yaml:"task_parallelism" mapstructure:"task_parallelism"`

	// BatchSize bounds the rows cleared per tombstone batch.
	BatchSize int `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size"`

	// Timeout is the deadline for the whole run; zero means none. The CLI
	// writes it to YAML itself in duration syntax.
	Timeout time.Duration `json:"timeout" yaml:"-" mapstructure:"timeout"`

	Log         LogConfig    `json:"log" yaml:"log" mapstructure:"log"`
	MetricsFile string       `json:"metrics_file" yaml:"metrics_file" mapstructure:"metrics_file"`
	Report      ReportConfig `json:"report" yaml:"report" mapstructure:"report"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Format string `json:"format" yaml:"format" mapstructure:"format"` // text or json
	Level  string `json:"level" yaml:"level" mapstructure:"level"`    // debug, info, warn, error
}

// ReportConfig lists the sinks a run report is written to. Empty fields
// disable the sink.
type ReportConfig struct {
	File string         `json:"file" yaml:"file" mapstructure:"file"`
	S3   S3ReportConfig `json:"s3" yaml:"s3" mapstructure:"s3"`
}

// S3ReportConfig locates the bucket run reports are uploaded to.
type S3ReportConfig struct {
	Bucket    string `json:"bucket" yaml:"bucket" mapstructure:"bucket"`
	Prefix    string `json:"prefix" yaml:"prefix" mapstructure:"prefix"`
	Region    string `json:"region" yaml:"region" mapstructure:"region"`
	Endpoint  string `json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`
	PathStyle bool   `json:"path_style" yaml:"path_style" mapstructure:"path_style"`

	// Static credentials; both empty falls back to the default AWS chain.
	AccessKeyID     string `json:"-" yaml:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey string `json:"-" yaml:"secret_access_key" mapstructure:"secret_access_key"`
}

// Config validation errors.
var (
	ErrDialectEmpty     = errors.New("dialect must not be empty")
	ErrDialectUnknown   = errors.New("unknown dialect")
	ErrDSNEmpty         = errors.New("dsn must not be empty")
	ErrWorkersInvalid   = errors.New("workers must be positive")
	ErrParallelInvalid  = errors.New("task parallelism must be positive")
	ErrBatchSizeInvalid = errors.New("batch size must be positive")
	ErrMaxConnsInvalid  = errors.New("max conns must not be negative")
	ErrLogFormatUnknown = errors.New("unknown log format")
)

// knownDialects lists the dialects that Validate accepts.
var knownDialects = map[string]bool{
	DialectPostgres: true,
	DialectSQLite:   true,
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.Dialect == "" {
		return ErrDialectEmpty
	}
	if !knownDialects[c.Dialect] {
		return ErrDialectUnknown
	}
	if c.DSN == "" {
		return ErrDSNEmpty
	}
	if c.Workers <= 0 {
		return ErrWorkersInvalid
	}
	if c.TaskParallelism <= 0 {
		return ErrParallelInvalid
	}
	if c.BatchSize <= 0 {
		return ErrBatchSizeInvalid
	}
	if c.MaxConns < 0 {
		return ErrMaxConnsInvalid
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return ErrLogFormatUnknown
	}
	return nil
}
