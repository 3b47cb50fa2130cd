// Package connection opens store connections, retrying with exponential backoff while the store is unavailable.
package connection

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/firehose/internal/common/loaderrors"
	"github.com/armadaproject/firehose/internal/firehose/db"
)

const (
	DefaultMaxAttempts    = 6
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 30 * time.Second
)

type Config struct {
	MaxAttempts    uint
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Timer waits between attempts. It lets tests observe the delays without sleeping.
type Timer interface {
	After(d time.Duration) <-chan time.Time
}

type realTimer struct{}

func (realTimer) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// RetryRecorder is notified of every retry. It is satisfied by the loader metrics.
type RetryRecorder interface {
	RecordConnectRetry(workerId int)
}

// Opener opens connections to a database. The delay after failed attempt n (counting from 1) is
// min(InitialBackoff * 2^(n-1), MaxBackoff).
type Opener struct {
	database db.Database
	config   Config
	timer    Timer
	recorder RetryRecorder
}

func NewOpener(database db.Database, config Config, recorder RetryRecorder) *Opener {
	if config.MaxAttempts == 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = DefaultInitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = DefaultMaxBackoff
	}
	return &Opener{
		database: database,
		config:   config,
		timer:    realTimer{},
		recorder: recorder,
	}
}

// WithTimer replaces the timer used to wait between attempts.
func (o *Opener) WithTimer(timer Timer) *Opener {
	o.timer = timer
	return o
}

// Open connects to the database on behalf of the given worker. Errors that can't be cured by waiting, such as
// rejected credentials, are returned straight away. Otherwise, once MaxAttempts attempts have failed the last error
// is returned wrapped in an ErrMaxRetriesExceeded.
func (o *Opener) Open(ctx context.Context, workerId int) (db.Conn, error) {
	attempts := uint(0)
	conn, err := retry.DoWithData(
		func() (db.Conn, error) {
			attempts++
			return o.database.Connect(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(o.config.MaxAttempts),
		retry.Delay(o.config.InitialBackoff),
		retry.MaxDelay(o.config.MaxBackoff),
		retry.DelayType(func(_ uint, _ error, _ *retry.Config) time.Duration {
			return o.delay(attempts - 1)
		}),
		retry.LastErrorOnly(true),
		retry.RetryIf(loaderrors.IsRetryableConnectError),
		retry.WithTimer(o.timer),
		retry.OnRetry(func(_ uint, err error) {
			if attempts >= o.config.MaxAttempts {
				return
			}
			log.WithError(err).Warnf("Worker %02d failed to connect to %s (attempt %d of %d), retrying in %s",
				workerId, o.database.Name(), attempts, o.config.MaxAttempts, o.delay(attempts-1))
			if o.recorder != nil {
				o.recorder.RecordConnectRetry(workerId)
			}
		}),
	)
	if err == nil {
		return conn, nil
	}
	if attempts < o.config.MaxAttempts || ctx.Err() != nil {
		return nil, errors.WithMessagef(err, "connecting to %s", o.database.Name())
	}
	return nil, errors.WithStack(&loaderrors.ErrMaxRetriesExceeded{
		Message:   fmt.Sprintf("gave up connecting to %s after %d attempts", o.database.Name(), attempts),
		LastError: err,
	})
}

func (o *Opener) delay(n uint) time.Duration {
	d := o.config.InitialBackoff
	for i := uint(0); i < n && d < o.config.MaxBackoff; i++ {
		d *= 2
	}
	if d > o.config.MaxBackoff {
		d = o.config.MaxBackoff
	}
	return d
}
