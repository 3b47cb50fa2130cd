package connection

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/firehose/internal/common/loaderrors"
	"github.com/armadaproject/firehose/internal/firehose/db"
)

var defaultConfig = Config{
	MaxAttempts:    DefaultMaxAttempts,
	InitialBackoff: DefaultInitialBackoff,
	MaxBackoff:     DefaultMaxBackoff,
}

// recordingTimer fires immediately and remembers every delay it was asked to wait for.
type recordingTimer struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingTimer) After(d time.Duration) <-chan time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	c := make(chan time.Time, 1)
	c <- time.Now()
	return c
}

func (r *recordingTimer) total() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total time.Duration
	for _, d := range r.delays {
		total += d
	}
	return total
}

type countingRecorder struct {
	retries map[int]int
}

func (c *countingRecorder) RecordConnectRetry(workerId int) {
	c.retries[workerId]++
}

// failingDatabase returns a fixed error from every Connect call.
type failingDatabase struct {
	err      error
	attempts int
}

func (f *failingDatabase) Connect(_ context.Context) (db.Conn, error) {
	f.attempts++
	return nil, f.err
}

func (f *failingDatabase) Name() string {
	return "failing"
}

func expectedCumulativeDelay(failures int) time.Duration {
	var total time.Duration
	for i := 0; i < failures; i++ {
		d := time.Duration(1000*(1<<i)) * time.Millisecond
		if d > 30*time.Second {
			d = 30 * time.Second
		}
		total += d
	}
	return total
}

func TestOpen_SucceedsAfterTransientFailures(t *testing.T) {
	for failures := 0; failures < DefaultMaxAttempts; failures++ {
		memDb := &db.MemoryDatabase{ConnectFailures: failures}
		timer := &recordingTimer{}
		recorder := &countingRecorder{retries: map[int]int{}}
		opener := NewOpener(memDb, defaultConfig, recorder).WithTimer(timer)

		conn, err := opener.Open(context.Background(), 3)

		require.NoError(t, err, "failures=%d", failures)
		assert.NotNil(t, conn)
		assert.Equal(t, failures+1, memDb.ConnectAttempts())
		assert.Len(t, timer.delays, failures)
		assert.Equal(t, expectedCumulativeDelay(failures), timer.total(), "failures=%d", failures)
		assert.Equal(t, failures, recorder.retries[3])
	}
}

func TestOpen_DelaysDoubleUpToTheCap(t *testing.T) {
	memDb := &db.MemoryDatabase{ConnectFailures: 7}
	timer := &recordingTimer{}
	opener := NewOpener(memDb, Config{MaxAttempts: 8, InitialBackoff: time.Second, MaxBackoff: 30 * time.Second}, nil).
		WithTimer(timer)

	_, err := opener.Open(context.Background(), 1)

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}, timer.delays)
}

func TestOpen_AlwaysFailingGivesUpAfterMaxAttempts(t *testing.T) {
	cause := errors.New("connection refused")
	database := &failingDatabase{err: cause}
	timer := &recordingTimer{}
	opener := NewOpener(database, defaultConfig, nil).WithTimer(timer)

	conn, err := opener.Open(context.Background(), 1)

	assert.Nil(t, conn)
	assert.Equal(t, DefaultMaxAttempts, database.attempts)
	assert.Len(t, timer.delays, DefaultMaxAttempts-1)
	var maxRetries *loaderrors.ErrMaxRetriesExceeded
	require.True(t, errors.As(err, &maxRetries))
	assert.Equal(t, cause, maxRetries.LastError)
	assert.True(t, errors.Is(err, cause))
}

func TestOpen_AuthenticationFailuresAreNotRetried(t *testing.T) {
	database := &failingDatabase{err: &pgconn.PgError{Code: pgerrcode.InvalidPassword}}
	timer := &recordingTimer{}
	opener := NewOpener(database, defaultConfig, nil).WithTimer(timer)

	_, err := opener.Open(context.Background(), 1)

	assert.Error(t, err)
	assert.Equal(t, 1, database.attempts)
	assert.Empty(t, timer.delays)
	var maxRetries *loaderrors.ErrMaxRetriesExceeded
	assert.False(t, errors.As(err, &maxRetries))
}

func TestOpen_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	opener := NewOpener(db.NewMemoryDatabase(), defaultConfig, nil).WithTimer(&recordingTimer{})

	_, err := opener.Open(ctx, 1)

	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNewOpener_Defaults(t *testing.T) {
	opener := NewOpener(db.NewMemoryDatabase(), Config{}, nil)
	assert.Equal(t, defaultConfig, opener.config)
}
