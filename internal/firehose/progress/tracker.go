// Package progress tracks how far each shard has got and periodically reports its throughput and ETA.
package progress

import (
	"math"
	"time"

	"k8s.io/utils/clock"
)

const (
	DefaultInterval = time.Second
	DefaultMinRows  = 100_000
)

type Config struct {
	// Minimum time between two reports for the same shard
	Interval time.Duration
	// Minimum number of rows loaded between two reports for the same shard
	MinRows int64
}

// Reporter receives the reports emitted by a Tracker.
type Reporter interface {
	Report(r Report)
}

// Tracker decides when a shard is due a progress report.
// A report is emitted only once both the interval and the minimum row count since the previous report have been
// reached, so fast shards don't flood the console while slow shards still report eventually.
type Tracker struct {
	config   Config
	clock    clock.PassiveClock
	reporter Reporter
}

func NewTracker(config Config, clock clock.PassiveClock, reporter Reporter) *Tracker {
	if config.Interval < 0 {
		config.Interval = 0
	}
	return &Tracker{
		config:   config,
		clock:    clock,
		reporter: reporter,
	}
}

// NewState starts tracking a shard of target rows.
func (t *Tracker) NewState(workerId int, target int64) *State {
	return newState(workerId, target, t.clock.Now())
}

// Record advances the shard's counters by a flushed chunk.
func (t *Tracker) Record(s *State, rowDelta int64, byteDelta int64) {
	s.rowsDone.Add(rowDelta)
	s.bytesDone.Add(byteDelta)
	s.flushes.Add(1)
}

// MaybeReport emits a report for the shard if it is due and returns whether it did.
// Must only be called from the shard's producer.
func (t *Tracker) MaybeReport(s *State) bool {
	now := t.clock.Now()
	sinceLast := now.Sub(s.lastReportTs)
	rows := s.rowsDone.Load()
	rowsSinceLast := rows - s.rowsAtLastReport
	if sinceLast < t.config.Interval || rowsSinceLast < t.config.MinRows {
		return false
	}

	r := Report{
		WorkerId: s.workerId,
		Rows:     rows,
		Target:   s.target,
	}
	if s.target > 0 {
		r.Percent = 100 * float64(rows) / float64(s.target)
	}
	if sinceLast > 0 {
		r.RowsPerSecond = float64(rowsSinceLast) / sinceLast.Seconds()
	}
	if elapsed := now.Sub(s.start); elapsed > 0 {
		r.AvgBytesPerSecond = float64(s.bytesDone.Load()) / elapsed.Seconds()
	}
	if r.RowsPerSecond > 0 && !math.IsInf(r.RowsPerSecond, 0) {
		remaining := s.target - rows
		if remaining < 0 {
			remaining = 0
		}
		r.ETA = time.Duration(float64(remaining) / r.RowsPerSecond * float64(time.Second))
		r.HasETA = true
	}

	s.lastReportTs = now
	s.rowsAtLastReport = rows
	if t.reporter != nil {
		t.reporter.Report(r)
	}
	return true
}
