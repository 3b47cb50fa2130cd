package progress

import (
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	// Blocked writes are recorded in microseconds, up to ten minutes.
	minWriteWaitMicros = 1
	maxWriteWaitMicros = int64(10 * time.Minute / time.Microsecond)
	writeWaitSigFigs   = 3
)

// State is the progress of a single shard.
//
// The counters are updated by the shard's producer after every flush and may be read concurrently from anywhere.
// The report bookkeeping and the write wait histogram belong to the producer goroutine.
type State struct {
	workerId int
	target   int64
	start    time.Time

	rowsDone  atomic.Int64
	bytesDone atomic.Int64
	flushes   atomic.Int64

	lastReportTs     time.Time
	rowsAtLastReport int64

	writeWait *hdrhistogram.Histogram
}

func newState(workerId int, target int64, start time.Time) *State {
	return &State{
		workerId:     workerId,
		target:       target,
		start:        start,
		lastReportTs: start,
		writeWait:    hdrhistogram.New(minWriteWaitMicros, maxWriteWaitMicros, writeWaitSigFigs),
	}
}

func (s *State) WorkerId() int {
	return s.workerId
}

func (s *State) Target() int64 {
	return s.target
}

func (s *State) Start() time.Time {
	return s.start
}

func (s *State) RowsDone() int64 {
	return s.rowsDone.Load()
}

func (s *State) BytesDone() int64 {
	return s.bytesDone.Load()
}

// Flushes returns the number of chunks written to the transport buffer so far.
func (s *State) Flushes() int64 {
	return s.flushes.Load()
}

// RecordWriteWait records how long a flush was blocked waiting for the consumer.
// Must only be called by the producer.
func (s *State) RecordWriteWait(d time.Duration) {
	micros := d.Microseconds()
	if micros < minWriteWaitMicros {
		micros = minWriteWaitMicros
	}
	if micros > maxWriteWaitMicros {
		micros = maxWriteWaitMicros
	}
	// Values are clamped to the histogram range so this can't fail.
	_ = s.writeWait.RecordValue(micros)
}

// WriteWaitQuantile returns the given quantile (0-100) of the recorded write waits.
// Must not be called while the producer is running.
func (s *State) WriteWaitQuantile(q float64) time.Duration {
	if s.writeWait.TotalCount() == 0 {
		return 0
	}
	return time.Duration(s.writeWait.ValueAtQuantile(q)) * time.Microsecond
}
