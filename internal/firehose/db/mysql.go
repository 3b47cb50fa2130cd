package db

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	"github.com/armadaproject/firehose/internal/common/loaderrors"
	"github.com/armadaproject/firehose/internal/firehose/configuration"
)

// Every load registers its reader under a unique name, as handlers are global to the driver.
var readerHandlerSeq atomic.Int64

// MySQLDatabase loads rows with LOAD DATA LOCAL INFILE, binding the shard's buffer to the statement through the
// driver's reader handlers instead of a file on disk.
type MySQLDatabase struct {
	config configuration.MySQLConfig
}

func NewMySQLDatabase(config configuration.MySQLConfig) *MySQLDatabase {
	return &MySQLDatabase{config: config}
}

func (m *MySQLDatabase) Name() string {
	return configuration.TargetMySQL
}

// DriverConfig converts the configuration into the driver's connection settings.
func (m *MySQLDatabase) DriverConfig() *mysql.Config {
	cfg := mysql.NewConfig()
	cfg.User = m.config.User
	cfg.Passwd = m.config.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(m.config.Host, strconv.Itoa(int(m.config.Port)))
	cfg.DBName = m.config.Database
	cfg.Timeout = m.config.ConnectTimeout
	cfg.ReadTimeout = m.config.SocketTimeout
	cfg.WriteTimeout = m.config.SocketTimeout
	cfg.TLSConfig = "false"
	cfg.AllowNativePasswords = true
	if len(m.config.Params) > 0 {
		cfg.Params = make(map[string]string, len(m.config.Params))
		for k, v := range m.config.Params {
			cfg.Params[k] = v
		}
	}
	return cfg
}

func (m *MySQLDatabase) Connect(ctx context.Context) (Conn, error) {
	connector, err := mysql.NewConnector(m.DriverConfig())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	pool := sql.OpenDB(connector)
	pool.SetMaxOpenConns(1)

	conn, err := pool.Conn(ctx)
	if err != nil {
		pool.Close()
		return nil, errors.WithStack(err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		pool.Close()
		return nil, errors.WithStack(err)
	}
	return &mysqlConn{
		pool:     pool,
		conn:     conn,
		settings: MySQLSessionSettings(m.config),
	}, nil
}

// MySQLSessionSettings returns the statements that prepare a session for bulk loading.
// Disabling the binary log needs SUPER, so lacking that privilege is tolerated.
func MySQLSessionSettings(config configuration.MySQLConfig) []SessionSetting {
	netTimeout := int64(config.NetTimeout / time.Second)
	return []SessionSetting{
		{Statement: "SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED"},
		{Statement: "SET SESSION unique_checks = 0"},
		{Statement: "SET SESSION foreign_key_checks = 0"},
		{Statement: fmt.Sprintf("SET SESSION net_write_timeout = %d", netTimeout)},
		{Statement: fmt.Sprintf("SET SESSION net_read_timeout = %d", netTimeout)},
		{
			Statement: "SET SESSION sql_log_bin = 0",
			Tolerate: func(err error) bool {
				return loaderrors.IsMySQLError(err, loaderrors.MySQLErrSpecificAccessDenied)
			},
		},
	}
}

// LoadDataStatement renders the LOAD DATA statement reading from the registered reader handler.
func LoadDataStatement(handler string, source Source) string {
	return fmt.Sprintf(
		"LOAD DATA LOCAL INFILE 'Reader::%s' INTO TABLE %s FIELDS TERMINATED BY ',' LINES TERMINATED BY '\\n' (%s)",
		handler, quoteMySQLIdentifier(source.Table), mysqlColumnList(source.Columns))
}

func quoteMySQLIdentifier(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '`')
	for i := 0; i < len(s); i++ {
		if s[i] == '`' {
			out = append(out, '`')
		}
		out = append(out, s[i])
	}
	return string(append(out, '`'))
}

func mysqlColumnList(columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteMySQLIdentifier(c)
	}
	return columnList(quoted)
}

type mysqlConn struct {
	pool     *sql.DB
	conn     *sql.Conn
	settings []SessionSetting
	tx       *sql.Tx
}

func (c *mysqlConn) Prepare(ctx context.Context) error {
	err := applySessionSettings(ctx, c.settings, func(ctx context.Context, stmt string) error {
		_, err := c.conn.ExecContext(ctx, stmt)
		return err
	})
	if err != nil {
		return err
	}
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.WithStack(err)
	}
	c.tx = tx
	return nil
}

func (c *mysqlConn) Load(ctx context.Context, source Source) (int64, error) {
	if c.tx == nil {
		return 0, errors.New("load called before prepare")
	}
	handler := fmt.Sprintf("%s_%d", source.Name, readerHandlerSeq.Add(1))
	mysql.RegisterReaderHandler(handler, func() io.Reader {
		return readerOnly{source.Reader}
	})
	defer mysql.DeregisterReaderHandler(handler)

	result, err := c.tx.ExecContext(ctx, LoadDataStatement(handler, source))
	if err != nil {
		return 0, errors.WithStack(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return rows, nil
}

func (c *mysqlConn) Commit(_ context.Context) error {
	if c.tx == nil {
		return errors.New("commit called before prepare")
	}
	err := c.tx.Commit()
	c.tx = nil
	return errors.WithStack(err)
}

func (c *mysqlConn) Rollback(_ context.Context) error {
	if c.tx == nil {
		return nil
	}
	err := c.tx.Rollback()
	c.tx = nil
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return errors.WithStack(err)
}

func (c *mysqlConn) Close(_ context.Context) error {
	connErr := c.conn.Close()
	poolErr := c.pool.Close()
	if connErr != nil {
		return errors.WithStack(connErr)
	}
	return errors.WithStack(poolErr)
}
