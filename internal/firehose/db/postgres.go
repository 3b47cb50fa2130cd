package db

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/armadaproject/firehose/internal/common/loaderrors"
	"github.com/armadaproject/firehose/internal/firehose/configuration"
)

// PostgresDatabase loads rows with COPY FROM STDIN, streaming the shard's buffer straight into the copy protocol.
type PostgresDatabase struct {
	config configuration.PostgresConfig
}

func NewPostgresDatabase(config configuration.PostgresConfig) *PostgresDatabase {
	return &PostgresDatabase{config: config}
}

func (p *PostgresDatabase) Name() string {
	return configuration.TargetPostgres
}

func (p *PostgresDatabase) Connect(ctx context.Context) (Conn, error) {
	conn, err := pgx.Connect(ctx, p.ConnectionString())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &postgresConn{
		conn:     conn,
		settings: PostgresSessionSettings(p.config),
	}, nil
}

// ConnectionString renders the configured connection parameters as a libpq keyword/value string.
func (p *PostgresDatabase) ConnectionString() string {
	values := make(map[string]string, len(p.config.Connection)+1)
	for k, v := range p.config.Connection {
		values[k] = v
	}
	if _, ok := values["connect_timeout"]; !ok && p.config.ConnectTimeout > 0 {
		values["connect_timeout"] = fmt.Sprintf("%d", int(p.config.ConnectTimeout.Round(time.Second).Seconds()))
	}
	return CreateConnectionString(values)
}

// CreateConnectionString builds a libpq connection string, quoting every value.
// See https://www.postgresql.org/docs/current/libpq-connect.html#LIBPQ-CONNSTRING
func CreateConnectionString(values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	replacer := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"='"+replacer.Replace(values[k])+"'")
	}
	return strings.Join(parts, " ")
}

// PostgresSessionSettings returns the statements that prepare a session for bulk loading.
//
// Postgres can't switch off unique checks, so relaxing constraints is limited to deferring deferrable ones to
// commit time (done once the transaction has begun) and, for superusers, skipping foreign key triggers by
// pretending to be a replica.
func PostgresSessionSettings(config configuration.PostgresConfig) []SessionSetting {
	return []SessionSetting{
		{Statement: fmt.Sprintf("SET statement_timeout = %d", config.StatementTimeout.Milliseconds())},
		{Statement: fmt.Sprintf("SET idle_in_transaction_session_timeout = %d", config.IdleInTransactionTimeout.Milliseconds())},
		{Statement: "SET synchronous_commit = off"},
		{
			Statement: "SET session_replication_role = replica",
			Tolerate: func(err error) bool {
				return loaderrors.IsPostgresError(err, pgerrcode.InsufficientPrivilege)
			},
		},
	}
}

// CopyStatement renders the COPY statement used to load source.
func CopyStatement(source Source) string {
	return fmt.Sprintf("COPY %s (%s) FROM STDIN WITH (FORMAT csv, DELIMITER ',')",
		pgx.Identifier(strings.Split(source.Table, ".")).Sanitize(),
		quotedColumnList(source.Columns))
}

func quotedColumnList(columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return columnList(quoted)
}

type postgresConn struct {
	conn     *pgx.Conn
	settings []SessionSetting
	tx       pgx.Tx
}

func (c *postgresConn) Prepare(ctx context.Context) error {
	// Session settings are applied outside the transaction: a failed statement inside it would abort the
	// transaction, even if we chose to tolerate the failure.
	err := applySessionSettings(ctx, c.settings, func(ctx context.Context, stmt string) error {
		_, err := c.conn.Exec(ctx, stmt)
		return err
	})
	if err != nil {
		return err
	}

	tx, err := c.conn.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return errors.WithStack(err)
	}
	c.tx = tx
	if _, err := tx.Exec(ctx, "SET CONSTRAINTS ALL DEFERRED"); err != nil {
		return errors.WithMessage(err, "deferring constraints")
	}
	return nil
}

func (c *postgresConn) Load(ctx context.Context, source Source) (int64, error) {
	if c.tx == nil {
		return 0, errors.New("load called before prepare")
	}
	tag, err := c.conn.PgConn().CopyFrom(ctx, readerOnly{source.Reader}, CopyStatement(source))
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return tag.RowsAffected(), nil
}

func (c *postgresConn) Commit(ctx context.Context) error {
	if c.tx == nil {
		return errors.New("commit called before prepare")
	}
	err := c.tx.Commit(ctx)
	c.tx = nil
	return errors.WithStack(err)
}

func (c *postgresConn) Rollback(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	err := c.tx.Rollback(ctx)
	c.tx = nil
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return errors.WithStack(err)
}

func (c *postgresConn) Close(ctx context.Context) error {
	return errors.WithStack(c.conn.Close(ctx))
}
