// Package pipeline streams the rows of a shard into its transport buffer.
package pipeline

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	"github.com/armadaproject/firehose/internal/firehose/generator"
	"github.com/armadaproject/firehose/internal/firehose/progress"
)

// DefaultFlushThreshold is the number of serialised bytes written to the buffer at a time when none is configured.
const DefaultFlushThreshold = 1 << 20

// How many rows are generated between two checks for cancellation.
const cancellationCheckInterval = 4096

var newline = []byte{'\n'}

// Sink is the write side of a transport buffer.
type Sink interface {
	io.WriteCloser
	// CloseWithError aborts the stream so that the reader fails with err rather than waiting for more rows.
	CloseWithError(err error)
}

// FlushRecorder is notified of every flush. It is satisfied by the loader metrics.
type FlushRecorder interface {
	RecordFlush(workerId int, rows int64, bytes int64, wait time.Duration)
}

type Config struct {
	// Number of bytes written to the sink per flush
	FlushThreshold int
	// Per shard cap on rows per second; zero means unlimited
	MaxRowsPerSecond int
}

// StreamingPipeline generates the rows of a shard and writes them to a sink in chunks of FlushThreshold bytes.
// Each flush is a single blocking write, after which the shard's progress is advanced and possibly reported.
type StreamingPipeline struct {
	config    Config
	generator *generator.Generator
	tracker   *progress.Tracker
	limiter   *rate.Limiter
	recorder  FlushRecorder
	clock     clock.PassiveClock
}

func New(
	config Config,
	generator *generator.Generator,
	tracker *progress.Tracker,
	recorder FlushRecorder,
	clock clock.PassiveClock,
) *StreamingPipeline {
	if config.FlushThreshold <= 0 {
		config.FlushThreshold = DefaultFlushThreshold
	}
	var limiter *rate.Limiter
	if config.MaxRowsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.MaxRowsPerSecond), config.MaxRowsPerSecond)
	}
	return &StreamingPipeline{
		config:    config,
		generator: generator,
		tracker:   tracker,
		limiter:   limiter,
		recorder:  recorder,
		clock:     clock,
	}
}

// Produce writes all the rows of the shard tracked by state to sink, then closes it.
// Rows are written in order. If anything goes wrong the sink is aborted with the returned error, so that a reader
// waiting on it doesn't block forever.
func (p *StreamingPipeline) Produce(ctx context.Context, state *progress.State, sink Sink) error {
	err := p.produce(ctx, state, sink)
	if err != nil {
		sink.CloseWithError(err)
		return err
	}
	return sink.Close()
}

func (p *StreamingPipeline) produce(ctx context.Context, state *progress.State, sink Sink) error {
	threshold := p.config.FlushThreshold
	shardSeed := int64(state.WorkerId())
	acc := make([]byte, 0, threshold+256)

	for i := int64(0); i < state.Target(); i++ {
		if i%cancellationCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return errors.WithStack(err)
			}
		}
		acc = generator.AppendCSV(acc, p.generator.Generate(i, shardSeed))
		for len(acc) >= threshold {
			if err := p.flush(ctx, state, sink, acc[:threshold]); err != nil {
				return err
			}
			acc = acc[:copy(acc, acc[threshold:])]
		}
	}
	if len(acc) > 0 {
		return p.flush(ctx, state, sink, acc)
	}
	return nil
}

func (p *StreamingPipeline) flush(ctx context.Context, state *progress.State, sink Sink, chunk []byte) error {
	rows := int64(bytes.Count(chunk, newline))
	if err := p.throttle(ctx, rows); err != nil {
		return err
	}

	start := p.clock.Now()
	if _, err := sink.Write(chunk); err != nil {
		return errors.WithMessagef(err, "writing %d bytes to transport buffer", len(chunk))
	}
	wait := p.clock.Since(start)

	state.RecordWriteWait(wait)
	p.tracker.Record(state, rows, int64(len(chunk)))
	p.tracker.MaybeReport(state)
	if p.recorder != nil {
		p.recorder.RecordFlush(state.WorkerId(), rows, int64(len(chunk)), wait)
	}
	return nil
}

// throttle waits until the rate limiter allows rows more rows through.
func (p *StreamingPipeline) throttle(ctx context.Context, rows int64) error {
	if p.limiter == nil {
		return nil
	}
	burst := int64(p.limiter.Burst())
	for rows > 0 {
		n := rows
		if n > burst {
			n = burst
		}
		if err := p.limiter.WaitN(ctx, int(n)); err != nil {
			return errors.WithStack(err)
		}
		rows -= n
	}
	return nil
}
