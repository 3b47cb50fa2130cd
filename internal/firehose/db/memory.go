package db

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/armadaproject/firehose/internal/firehose/configuration"
)

// ErrInjected is returned by MemoryDatabase when one of its failure modes is triggered.
var ErrInjected = errors.New("injected failure")

// MemoryDatabase counts the rows and bytes it is sent and discards them.
// It can be told to fail in several ways, so that failure handling can be exercised without a real store.
type MemoryDatabase struct {
	// Number of Connect calls that fail before one succeeds
	ConnectFailures int
	// If set, Prepare fails with this error
	PrepareErr error
	// If positive, Load stops reading after this many bytes and fails
	FailAfterBytes int64
	// If set, Commit fails with this error
	CommitErr error

	mu          sync.Mutex
	connects    int
	loads       []LoadRecord
	rolledBack  int
	openConns   int
	maxOpenConn int
}

// LoadRecord describes a committed load.
type LoadRecord struct {
	Source string
	Table  string
	Rows   int64
	Bytes  int64
}

func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{}
}

func (m *MemoryDatabase) Name() string {
	return configuration.TargetMemory
}

func (m *MemoryDatabase) Connect(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects++
	if m.connects <= m.ConnectFailures {
		return nil, errors.WithMessagef(ErrInjected, "connect attempt %d", m.connects)
	}
	m.openConns++
	if m.openConns > m.maxOpenConn {
		m.maxOpenConn = m.openConns
	}
	return &memoryConn{db: m}, nil
}

// ConnectAttempts returns the number of times Connect was called.
func (m *MemoryDatabase) ConnectAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

// Loads returns the committed loads.
func (m *MemoryDatabase) Loads() []LoadRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LoadRecord, len(m.loads))
	copy(out, m.loads)
	return out
}

// RolledBack returns the number of transactions that were rolled back.
func (m *MemoryDatabase) RolledBack() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rolledBack
}

// OpenConnections returns the number of connections that have not been closed.
func (m *MemoryDatabase) OpenConnections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openConns
}

// MaxOpenConnections returns the largest number of connections that were open at once.
func (m *MemoryDatabase) MaxOpenConnections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxOpenConn
}

type memoryConn struct {
	db       *MemoryDatabase
	prepared bool
	pending  *LoadRecord
	closed   bool
}

func (c *memoryConn) Prepare(_ context.Context) error {
	if c.db.PrepareErr != nil {
		return c.db.PrepareErr
	}
	c.prepared = true
	return nil
}

func (c *memoryConn) Load(ctx context.Context, source Source) (int64, error) {
	if !c.prepared {
		return 0, errors.New("load called before prepare")
	}
	record := &LoadRecord{Source: source.Name, Table: source.Table}
	buf := make([]byte, 64*1024)
	for {
		if err := ctx.Err(); err != nil {
			return 0, errors.WithStack(err)
		}
		if c.db.FailAfterBytes > 0 && record.Bytes >= c.db.FailAfterBytes {
			return 0, errors.WithMessagef(ErrInjected, "stopped reading %s after %d bytes", source.Name, record.Bytes)
		}
		chunk := buf
		if c.db.FailAfterBytes > 0 && int64(len(chunk)) > c.db.FailAfterBytes-record.Bytes {
			chunk = buf[:c.db.FailAfterBytes-record.Bytes]
		}
		n, err := source.Reader.Read(chunk)
		record.Bytes += int64(n)
		record.Rows += int64(bytes.Count(chunk[:n], []byte{'\n'}))
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, errors.WithStack(err)
		}
	}
	c.pending = record
	return record.Rows, nil
}

func (c *memoryConn) Commit(_ context.Context) error {
	if c.db.CommitErr != nil {
		return c.db.CommitErr
	}
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if c.pending != nil {
		c.db.loads = append(c.db.loads, *c.pending)
		c.pending = nil
	}
	return nil
}

func (c *memoryConn) Rollback(_ context.Context) error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	c.pending = nil
	c.db.rolledBack++
	return nil
}

func (c *memoryConn) Close(_ context.Context) error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.db.openConns--
	}
	return nil
}
