package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/clock"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/armadaproject/firehose/internal/common/loaderrors"
	"github.com/armadaproject/firehose/internal/firehose/connection"
	"github.com/armadaproject/firehose/internal/firehose/db"
	"github.com/armadaproject/firehose/internal/firehose/generator"
	"github.com/armadaproject/firehose/internal/firehose/metrics"
	"github.com/armadaproject/firehose/internal/firehose/pipeline"
	"github.com/armadaproject/firehose/internal/firehose/progress"
	"github.com/armadaproject/firehose/internal/firehose/worker"
)

func TestPartition(t *testing.T) {
	tests := map[string]struct {
		total       int64
		parallelism int
		expected    []int64
	}{
		"even split": {
			total:       1000,
			parallelism: 4,
			expected:    []int64{250, 250, 250, 250},
		},
		"remainder goes to the first shards": {
			total:       10,
			parallelism: 4,
			expected:    []int64{3, 3, 2, 2},
		},
		"single shard": {
			total:       7,
			parallelism: 1,
			expected:    []int64{7},
		},
		"one row per shard": {
			total:       3,
			parallelism: 3,
			expected:    []int64{1, 1, 1},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			shards := Partition(tc.total, tc.parallelism)
			require.Len(t, shards, tc.parallelism)
			var sum int64
			for i, shard := range shards {
				assert.Equal(t, i+1, shard.WorkerId)
				assert.Equal(t, tc.expected[i], shard.TargetRows)
				sum += shard.TargetRows
			}
			assert.Equal(t, tc.total, sum)
		})
	}
}

func TestPartition_LargeTotal(t *testing.T) {
	shards := Partition(100_000_000, 8)
	for _, shard := range shards {
		assert.Equal(t, int64(12_500_000), shard.TargetRows)
	}
}

// scriptedRunner fails the shards listed in failures. If blockOthers is set, every other shard waits for
// its context to be cancelled before giving up.
type scriptedRunner struct {
	failures    map[int]bool
	blockOthers bool
}

func (r *scriptedRunner) Run(ctx context.Context, shard worker.Shard) (worker.WorkerResult, error) {
	if r.failures[shard.WorkerId] {
		return worker.WorkerResult{}, &loaderrors.ErrShardFailed{
			WorkerId:   shard.WorkerId,
			TargetRows: shard.TargetRows,
			Cause:      db.ErrInjected,
		}
	}
	if r.blockOthers {
		<-ctx.Done()
		return worker.WorkerResult{}, &loaderrors.ErrShardFailed{
			WorkerId:   shard.WorkerId,
			TargetRows: shard.TargetRows,
			Cause:      ctx.Err(),
		}
	}
	return worker.WorkerResult{WorkerId: shard.WorkerId, RowsLoaded: shard.TargetRows, Elapsed: time.Second}, nil
}

func TestRun_FailFastCancelsOtherShards(t *testing.T) {
	runner := &scriptedRunner{failures: map[int]bool{3: true}, blockOthers: true}
	o := NewOrchestrator(Config{TotalRows: 400, Parallelism: 4, FailFast: true}, runner, clocktesting.NewFakePassiveClock(time.Now()))

	result, err := o.Run(context.Background())

	require.Error(t, err)
	assert.Equal(t, []int{3}, FailedWorkerIds(err))
	assert.True(t, errors.Is(err, db.ErrInjected))
	require.NotNil(t, result)
	assert.Empty(t, result.Results)
	assert.Equal(t, int64(0), result.TotalRows)
}

func TestRun_CollectsAllFailures(t *testing.T) {
	runner := &scriptedRunner{failures: map[int]bool{2: true, 4: true}}
	o := NewOrchestrator(Config{TotalRows: 400, Parallelism: 4, FailFast: false}, runner, clocktesting.NewFakePassiveClock(time.Now()))

	result, err := o.Run(context.Background())

	require.Error(t, err)
	assert.Equal(t, []int{2, 4}, FailedWorkerIds(err))
	assert.Contains(t, err.Error(), "worker 02")
	assert.Contains(t, err.Error(), "worker 04")
	require.NotNil(t, result)
	require.Len(t, result.Results, 2)
	assert.Equal(t, 1, result.Results[0].WorkerId)
	assert.Equal(t, 3, result.Results[1].WorkerId)
	assert.Equal(t, int64(200), result.TotalRows)
}

func TestRun_RejectsZeroParallelism(t *testing.T) {
	o := NewOrchestrator(Config{TotalRows: 10, Parallelism: 0}, &scriptedRunner{}, clock.RealClock{})

	_, err := o.Run(context.Background())

	var invalid *loaderrors.ErrInvalidArgument
	assert.True(t, errors.As(err, &invalid))
}

func TestAggregateResult_Throughput(t *testing.T) {
	result := &AggregateResult{TotalRows: 3_000_000, Elapsed: 30 * time.Second}
	assert.InDelta(t, 6.0, result.MillionRowsPerMinute(), 1e-9)
	assert.Equal(t, int64(30_000), result.ElapsedMs())

	assert.Equal(t, 0.0, (&AggregateResult{TotalRows: 10}).MillionRowsPerMinute())
}

type immediateTimer struct{}

func (immediateTimer) After(time.Duration) <-chan time.Time {
	c := make(chan time.Time, 1)
	c <- time.Now()
	return c
}

type discardReporter struct{}

func (discardReporter) Report(progress.Report) {}

func TestRun_LoadsEveryShardIntoTheStore(t *testing.T) {
	memDb := db.NewMemoryDatabase()
	opener := connection.NewOpener(memDb, connection.Config{MaxAttempts: 2}, metrics.Get()).WithTimer(immediateTimer{})
	tracker := progress.NewTracker(progress.Config{Interval: time.Second, MinRows: 1000}, clock.RealClock{}, discardReporter{})
	w := worker.NewBulkLoadWorker(worker.Config{
		BufferSize:    1024,
		Table:         "user_trade",
		Columns:       generator.Columns(),
		TimestampMode: generator.FixedTimestamp,
		Pipeline:      pipeline.Config{FlushThreshold: 256},
	}, opener, tracker, metrics.Get(), clock.RealClock{})
	o := NewOrchestrator(Config{TotalRows: 1001, Parallelism: 4, FailFast: true}, w, clock.RealClock{})

	result, err := o.Run(context.Background())

	require.NoError(t, err)
	assert.NotEmpty(t, result.RunId)
	assert.Equal(t, int64(1001), result.TotalRows)
	require.Len(t, result.Results, 4)
	loads := memDb.Loads()
	require.Len(t, loads, 4)
	var rows int64
	for _, load := range loads {
		rows += load.Rows
	}
	assert.Equal(t, int64(1001), rows)
	assert.Equal(t, 0, memDb.OpenConnections())
	assert.LessOrEqual(t, memDb.MaxOpenConnections(), 4)
}
