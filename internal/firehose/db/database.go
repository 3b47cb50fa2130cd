// Package db contains the adapters for the stores firehose can load into.
package db

import (
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Database opens connections to a target store.
type Database interface {
	// Connect opens a single, exclusive connection. It does not retry.
	Connect(ctx context.Context) (Conn, error)
	// Name identifies the store in logs and metrics.
	Name() string
}

// Conn is a connection dedicated to loading one shard.
//
// Calls happen in the order Prepare, Load, Commit, with Rollback replacing Commit if anything fails. Close is always
// called last.
type Conn interface {
	// Prepare tunes the session for bulk loading and begins the transaction the load runs in.
	Prepare(ctx context.Context) error
	// Load bulk-ingests the rows read from source until it reaches end of stream, and returns the number of rows
	// the store reports as loaded.
	Load(ctx context.Context, source Source) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close(ctx context.Context) error
}

// Source describes the stream of rows handed to Conn.Load.
type Source struct {
	// Logical name of the stream, e.g. stream_01.csv. Stores that bind the reader directly ignore it.
	Name string
	// Table to load into
	Table string
	// Columns in the order they appear in each line
	Columns []string
	// Comma separated, newline terminated rows
	Reader io.Reader
}

// SessionSetting is a statement run on a connection before the load starts.
type SessionSetting struct {
	Statement string
	// If non-nil, errors it returns true for are logged and ignored rather than failing the shard.
	Tolerate func(err error) bool
}

// Optional returns true if the setting is best-effort.
func (s SessionSetting) Optional() bool {
	return s.Tolerate != nil
}

// applySessionSettings runs each setting with exec. Failures of best-effort settings are tolerated only if they
// belong to the class the setting declares, everything else is returned.
func applySessionSettings(ctx context.Context, settings []SessionSetting, exec func(ctx context.Context, stmt string) error) error {
	for _, setting := range settings {
		err := exec(ctx, setting.Statement)
		if err == nil {
			continue
		}
		if setting.Optional() && setting.Tolerate(err) {
			log.WithError(err).Debugf("Ignoring failure of optional session setting %q", setting.Statement)
			continue
		}
		return errors.WithMessagef(err, "applying session setting %q", setting.Statement)
	}
	return nil
}

func columnList(columns []string) string {
	return strings.Join(columns, ", ")
}

// readerOnly hides any other methods of the wrapped reader, in particular Close, from drivers that would call them.
type readerOnly struct {
	io.Reader
}
