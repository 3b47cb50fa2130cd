// Package worker loads a single shard of rows into the target store.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/armadaproject/firehose/internal/common/loaderrors"
	"github.com/armadaproject/firehose/internal/common/logging"
	"github.com/armadaproject/firehose/internal/firehose/connection"
	"github.com/armadaproject/firehose/internal/firehose/db"
	"github.com/armadaproject/firehose/internal/firehose/generator"
	"github.com/armadaproject/firehose/internal/firehose/pipeline"
	"github.com/armadaproject/firehose/internal/firehose/progress"
	"github.com/armadaproject/firehose/internal/firehose/transport"
)

// Time allowed for rolling back and closing a connection once the shard is finished with it.
const cleanupTimeout = 30 * time.Second

// Shard is the slice of the total row target assigned to one worker.
type Shard struct {
	// 1-based id of the worker loading the shard; also the seed of the rows it generates
	WorkerId   int
	TargetRows int64
}

// WorkerResult is the outcome of a successfully loaded shard.
type WorkerResult struct {
	WorkerId   int           `json:"workerId"`
	RowsLoaded int64         `json:"rowsLoaded"`
	Elapsed    time.Duration `json:"elapsed"`
}

func (r WorkerResult) ElapsedMs() int64 {
	return r.Elapsed.Milliseconds()
}

type Config struct {
	// Capacity of the transport buffer in bytes
	BufferSize    int
	Table         string
	Columns       []string
	TimestampMode generator.TimestampMode
	Pipeline      pipeline.Config
}

// Metrics records what workers do. It is satisfied by the loader metrics.
type Metrics interface {
	pipeline.FlushRecorder
	RecordShardSucceeded(elapsed time.Duration)
	RecordShardFailed()
}

// BulkLoadWorker loads shards, each over its own connection and within a single transaction.
// A failure at any step fails the whole shard; nothing is retried once the connection has been established.
type BulkLoadWorker struct {
	config  Config
	opener  *connection.Opener
	tracker *progress.Tracker
	metrics Metrics
	clock   clock.PassiveClock
}

func NewBulkLoadWorker(
	config Config,
	opener *connection.Opener,
	tracker *progress.Tracker,
	metrics Metrics,
	clock clock.PassiveClock,
) *BulkLoadWorker {
	return &BulkLoadWorker{
		config:  config,
		opener:  opener,
		tracker: tracker,
		metrics: metrics,
		clock:   clock,
	}
}

// Run loads the shard. It:
//  1. opens a connection, retrying while the store is unavailable
//  2. tunes the session for bulk loading and begins a transaction
//  3. starts a producer streaming the shard's rows into a bounded buffer
//  4. bulk-loads from the read side of the buffer until the stream ends
//  5. waits for the producer and commits
//
// Any error is returned as a loaderrors.ErrShardFailed identifying the shard.
func (w *BulkLoadWorker) Run(ctx context.Context, shard Shard) (result WorkerResult, err error) {
	defer func() {
		if err != nil {
			w.metrics.RecordShardFailed()
			err = errors.WithStack(&loaderrors.ErrShardFailed{
				WorkerId:   shard.WorkerId,
				TargetRows: shard.TargetRows,
				Cause:      err,
			})
		}
	}()

	conn, err := w.opener.Open(ctx, shard.WorkerId)
	if err != nil {
		return WorkerResult{}, err
	}
	defer w.cleanup(ctx, shard, conn, &err)

	if err := conn.Prepare(ctx); err != nil {
		return WorkerResult{}, errors.WithMessage(err, "preparing session")
	}

	buf := transport.NewBuffer(w.config.BufferSize)
	// Cancelling the run must unblock both the producer and the store.
	stop := context.AfterFunc(ctx, func() {
		buf.CloseWithError(errors.WithStack(ctx.Err()))
	})
	defer stop()

	state := w.tracker.NewState(shard.WorkerId, shard.TargetRows)
	producer := pipeline.New(
		w.config.Pipeline,
		generator.New(w.config.TimestampMode, w.clock),
		w.tracker,
		w.metrics,
		w.clock,
	)

	start := w.clock.Now()
	var g errgroup.Group
	g.Go(func() error {
		return producer.Produce(ctx, state, buf)
	})

	loaded, loadErr := conn.Load(ctx, db.Source{
		Name:    fmt.Sprintf("stream_%02d.csv", shard.WorkerId),
		Table:   w.config.Table,
		Columns: w.config.Columns,
		Reader:  buf,
	})
	elapsed := w.clock.Since(start)
	if loadErr != nil {
		// The store has stopped reading, so the producer would otherwise block forever.
		buf.CloseWithError(loadErr)
	}
	produceErr := g.Wait()
	if loadErr != nil {
		return WorkerResult{}, errors.WithMessage(loadErr, "bulk load")
	}
	if produceErr != nil {
		return WorkerResult{}, errors.WithMessage(produceErr, "producing rows")
	}

	if err := conn.Commit(ctx); err != nil {
		return WorkerResult{}, errors.WithMessage(err, "committing")
	}

	if loaded != shard.TargetRows {
		log.Warnf("Worker %02d: store reported %d rows loaded but %d were sent", shard.WorkerId, loaded, shard.TargetRows)
	}
	w.metrics.RecordShardSucceeded(elapsed)
	log.WithFields(log.Fields{
		"worker":        shard.WorkerId,
		"bytes":         state.BytesDone(),
		"flushes":       state.Flushes(),
		"writeWaitP50":  state.WriteWaitQuantile(50),
		"writeWaitP99":  state.WriteWaitQuantile(99),
		"rowsPerSecond": rowsPerSecond(shard.TargetRows, elapsed),
	}).Infof("Worker %02d DONE: rows=%d, elapsed=%d ms", shard.WorkerId, shard.TargetRows, elapsed.Milliseconds())

	return WorkerResult{
		WorkerId:   shard.WorkerId,
		RowsLoaded: shard.TargetRows,
		Elapsed:    elapsed,
	}, nil
}

// cleanup rolls back the transaction if the shard failed and closes the connection. It runs even if ctx has been
// cancelled.
func (w *BulkLoadWorker) cleanup(ctx context.Context, shard Shard, conn db.Conn, runErr *error) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if *runErr != nil {
		if err := conn.Rollback(cleanupCtx); err != nil {
			logging.WithStacktrace(log.WithField("worker", shard.WorkerId), err).Warn("Error rolling back")
		}
	}
	if err := conn.Close(cleanupCtx); err != nil {
		logging.WithStacktrace(log.WithField("worker", shard.WorkerId), err).Warn("Error closing connection")
	}
}

func rowsPerSecond(rows int64, elapsed time.Duration) int64 {
	if elapsed <= 0 {
		return 0
	}
	return int64(float64(rows) / elapsed.Seconds())
}
