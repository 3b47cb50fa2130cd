package pipeline

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/clock"
	testclock "k8s.io/utils/clock/testing"

	"github.com/armadaproject/firehose/internal/firehose/generator"
	"github.com/armadaproject/firehose/internal/firehose/progress"
	"github.com/armadaproject/firehose/internal/firehose/transport"
)

var startTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type flushEvent struct {
	rows  int64
	bytes int64
}

type recordingFlushRecorder struct {
	mu      sync.Mutex
	flushes []flushEvent
}

func (r *recordingFlushRecorder) RecordFlush(_ int, rows int64, bytes int64, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes = append(r.flushes, flushEvent{rows: rows, bytes: bytes})
}

type discardReporter struct{}

func (discardReporter) Report(progress.Report) {}

func newTestPipeline(config Config, recorder FlushRecorder) (*StreamingPipeline, *progress.Tracker) {
	fakeClock := testclock.NewFakePassiveClock(startTime)
	tracker := progress.NewTracker(progress.Config{Interval: time.Second, MinRows: 100}, fakeClock, discardReporter{})
	gen := generator.New(generator.FixedTimestamp, fakeClock)
	return New(config, gen, tracker, recorder, clock.RealClock{}), tracker
}

// expectedStream serialises the rows a shard should produce.
func expectedStream(rows int64, workerId int) []byte {
	gen := generator.New(generator.FixedTimestamp, testclock.NewFakePassiveClock(startTime))
	var out []byte
	for i := int64(0); i < rows; i++ {
		out = generator.AppendCSV(out, gen.Generate(i, int64(workerId)))
	}
	return out
}

func largestProperDivisor(n int) int {
	for d := n / 2; d > 1; d-- {
		if n%d == 0 {
			return d
		}
	}
	return 1
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

func TestProduce_FlushCountAndTotals(t *testing.T) {
	tests := map[string]struct {
		rows      int64
		threshold int
	}{
		"threshold smaller than a row": {rows: 50, threshold: 7},
		"several rows per flush":       {rows: 1000, threshold: 500},
		"exact multiple of threshold":  {rows: 10, threshold: 0}, // threshold filled in below
		"single partial flush":         {rows: 3, threshold: 1 << 20},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			expected := expectedStream(tc.rows, 1)
			threshold := tc.threshold
			if threshold == 0 {
				threshold = largestProperDivisor(len(expected))
			}
			recorder := &recordingFlushRecorder{}
			p, tracker := newTestPipeline(Config{FlushThreshold: threshold}, recorder)
			state := tracker.NewState(1, tc.rows)
			buf := transport.NewBuffer(64)

			received := make(chan []byte, 1)
			go func() {
				data, _ := io.ReadAll(buf)
				received <- data
			}()

			require.NoError(t, p.Produce(context.Background(), state, buf))
			data := <-received

			assert.Equal(t, expected, data)
			expectedFlushes := ceilDiv(int64(len(expected)), int64(threshold))
			assert.Equal(t, expectedFlushes, state.Flushes())
			assert.Len(t, recorder.flushes, int(expectedFlushes))
			assert.Equal(t, int64(len(expected)), state.BytesDone())
			assert.Equal(t, tc.rows, state.RowsDone())

			var sumBytes, sumRows int64
			for i, f := range recorder.flushes {
				if i < len(recorder.flushes)-1 {
					assert.Equal(t, int64(threshold), f.bytes)
				}
				sumBytes += f.bytes
				sumRows += f.rows
			}
			assert.Equal(t, int64(len(expected)), sumBytes)
			assert.Equal(t, tc.rows, sumRows)
		})
	}
}

func TestProduce_ReaderAbortFailsProducer(t *testing.T) {
	p, tracker := newTestPipeline(Config{FlushThreshold: 128}, nil)
	state := tracker.NewState(2, 100_000)
	buf := transport.NewBuffer(256)
	abort := errors.New("store stopped reading")

	go func() {
		_, _ = io.ReadFull(buf, make([]byte, 1000))
		buf.CloseWithError(abort)
	}()

	done := make(chan error, 1)
	go func() {
		done <- p.Produce(context.Background(), state, buf)
	}()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, abort))
	case <-time.After(10 * time.Second):
		t.Fatal("producer did not stop after the reader aborted")
	}
	assert.Less(t, state.RowsDone(), int64(100_000))
}

func TestProduce_CancelledContextAbortsSink(t *testing.T) {
	p, tracker := newTestPipeline(Config{FlushThreshold: 128}, nil)
	state := tracker.NewState(1, 1000)
	buf := transport.NewBuffer(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Produce(ctx, state, buf)

	assert.True(t, errors.Is(err, context.Canceled))
	_, readErr := buf.Read(make([]byte, 10))
	assert.True(t, errors.Is(readErr, context.Canceled))
}

func TestProduce_RateLimit(t *testing.T) {
	p, tracker := newTestPipeline(Config{FlushThreshold: 1 << 20, MaxRowsPerSecond: 20}, nil)
	state := tracker.NewState(1, 30)
	buf := transport.NewBuffer(1 << 20)

	start := time.Now()
	require.NoError(t, p.Produce(context.Background(), state, buf))

	// The first 20 rows use up the burst, the remaining 10 need another half second.
	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
	assert.Equal(t, int64(30), state.RowsDone())
}

func TestNew_DefaultThreshold(t *testing.T) {
	p, _ := newTestPipeline(Config{}, nil)
	assert.Equal(t, DefaultFlushThreshold, p.config.FlushThreshold)
	assert.Nil(t, p.limiter)
}
