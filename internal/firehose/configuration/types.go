package configuration

import (
	"time"

	"github.com/armadaproject/firehose/internal/common/config"
	"github.com/armadaproject/firehose/internal/firehose/generator"
)

// Supported values of FirehoseConfiguration.Target
const (
	TargetPostgres = "postgres"
	TargetMySQL    = "mysql"
	TargetMemory   = "memory"
)

type FirehoseConfiguration struct {
	// Store to load into, one of postgres, mysql or memory. The memory store discards the rows and is useful for
	// measuring how fast rows can be generated.
	Target   string `validate:"oneof=postgres mysql memory"`
	Postgres PostgresConfig
	MySQL    MySQLConfig
	Table    TableConfig
	Load     LoadConfig
	Progress ProgressConfig
	Retry    RetryConfig
	Metrics  MetricsConfig
	// If set, a yaml report of the configuration and the results is written here once the run finishes
	ReportFile string
}

type PostgresConfig struct {
	// libpq connection parameters, e.g. host, port, user, password, dbname, sslmode
	Connection map[string]string
	// Time allowed to establish a connection
	ConnectTimeout time.Duration
	// statement_timeout for the load; zero disables the timeout
	StatementTimeout time.Duration
	// idle_in_transaction_session_timeout for the load; zero disables the timeout
	IdleInTransactionTimeout time.Duration
}

type MySQLConfig struct {
	Host     string
	Port     uint16
	User     string
	Password string
	Database string
	// Time allowed to establish a connection
	ConnectTimeout time.Duration
	// Client side read and write timeout on the socket
	SocketTimeout time.Duration
	// Server side net_read_timeout and net_write_timeout
	NetTimeout time.Duration
	// Extra DSN parameters
	Params map[string]string
}

type TableConfig struct {
	Name string `validate:"required"`
	// Column names in the order user_id, symbol, qty, px, ctime
	Columns []string `validate:"len=5,dive,required"`
}

type LoadConfig struct {
	// Total number of rows to load across all shards
	TotalRows int64 `validate:"gt=0"`
	// Number of shards loaded concurrently
	Parallelism int `validate:"gt=0"`
	// Capacity of the buffer between the producer and the store for each shard
	BufferSize config.ByteSize `validate:"gt=0"`
	// Number of serialised bytes written to the buffer at a time
	FlushThreshold config.ByteSize `validate:"gt=0"`
	// Either fixed, one timestamp per shard, or perRow
	TimestampMode generator.TimestampMode `validate:"oneof=fixed perRow"`
	// Per shard cap on the rows generated per second; zero means unlimited
	MaxRowsPerSecond int `validate:"gte=0"`
	// If true the first shard failure cancels all other shards, otherwise every shard runs to completion
	FailFast bool
}

type ProgressConfig struct {
	// Minimum time between progress reports for a shard
	Interval time.Duration `validate:"gte=0"`
	// Minimum rows loaded between progress reports for a shard
	MinRows int64 `validate:"gte=0"`
}

type RetryConfig struct {
	// Maximum number of connection attempts per shard
	MaxAttempts uint `validate:"gt=0"`
	// Delay before the first retry; it doubles on every further retry
	InitialBackoff time.Duration `validate:"gt=0"`
	// Upper bound on the delay between two attempts
	MaxBackoff time.Duration `validate:"gtefield=InitialBackoff"`
}

type MetricsConfig struct {
	// Port on which prometheus metrics are served; zero disables the endpoint
	Port uint16
}
