// Package orchestrator splits the row target into shards and loads them in parallel.
package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/armadaproject/firehose/internal/common/loaderrors"
	"github.com/armadaproject/firehose/internal/common/util"
	"github.com/armadaproject/firehose/internal/firehose/worker"
)

type Config struct {
	TotalRows   int64
	Parallelism int
	// If true the first shard failure cancels the others. Otherwise every shard runs to completion and all
	// failures are reported together.
	FailFast bool
}

// ShardRunner loads a single shard. It is satisfied by worker.BulkLoadWorker.
type ShardRunner interface {
	Run(ctx context.Context, shard worker.Shard) (worker.WorkerResult, error)
}

// AggregateResult summarises a run. If the run failed it only contains the shards that succeeded.
type AggregateResult struct {
	RunId     string                `json:"runId"`
	Results   []worker.WorkerResult `json:"results"`
	TotalRows int64                 `json:"totalRows"`
	Elapsed   time.Duration         `json:"elapsed"`
}

func (a *AggregateResult) ElapsedMs() int64 {
	return a.Elapsed.Milliseconds()
}

// MillionRowsPerMinute returns the overall throughput of the run.
func (a *AggregateResult) MillionRowsPerMinute() float64 {
	if a.Elapsed <= 0 {
		return 0
	}
	return float64(a.TotalRows) / 1e6 / a.Elapsed.Minutes()
}

type Orchestrator struct {
	config Config
	runner ShardRunner
	clock  clock.PassiveClock
}

func NewOrchestrator(config Config, runner ShardRunner, clock clock.PassiveClock) *Orchestrator {
	return &Orchestrator{
		config: config,
		runner: runner,
		clock:  clock,
	}
}

// Partition splits total rows into parallelism shards whose sizes differ by at most one row. The first
// total % parallelism shards take one extra row each, so the shards always add up to total.
func Partition(total int64, parallelism int) []worker.Shard {
	if parallelism <= 0 {
		return nil
	}
	base := total / int64(parallelism)
	remainder := total % int64(parallelism)
	shards := make([]worker.Shard, parallelism)
	for i := range shards {
		rows := base
		if int64(i) < remainder {
			rows++
		}
		shards[i] = worker.Shard{WorkerId: i + 1, TargetRows: rows}
	}
	return shards
}

// Run loads every shard concurrently, one goroutine per shard, and waits for them all to finish.
// Any shard failure fails the run; the returned error identifies the failing shards.
func (o *Orchestrator) Run(ctx context.Context) (*AggregateResult, error) {
	shards := Partition(o.config.TotalRows, o.config.Parallelism)
	if len(shards) == 0 {
		return nil, errors.WithStack(&loaderrors.ErrInvalidArgument{
			Name:    "load.parallelism",
			Value:   o.config.Parallelism,
			Message: "at least one shard is required",
		})
	}
	runId := util.NewULID()
	log.WithField("runId", runId).Infof(
		"Loading %d rows in %d shards of at least %d rows", o.config.TotalRows, len(shards), shards[len(shards)-1].TargetRows)

	start := o.clock.Now()
	var results []worker.WorkerResult
	var err error
	if o.config.FailFast {
		results, err = o.runFailFast(ctx, shards)
	} else {
		results, err = o.runToCompletion(ctx, shards)
	}

	aggregate := &AggregateResult{
		RunId:   runId,
		Results: results,
		Elapsed: o.clock.Since(start),
	}
	for _, r := range results {
		aggregate.TotalRows += r.RowsLoaded
	}
	if err != nil {
		return aggregate, err
	}

	log.Infof("ALL DONE. totalRows=%d, elapsed=%d ms (%.2f M rows/min)",
		aggregate.TotalRows, aggregate.ElapsedMs(), aggregate.MillionRowsPerMinute())
	return aggregate, nil
}

// runFailFast cancels the remaining shards as soon as one fails and returns the first failure.
func (o *Orchestrator) runFailFast(ctx context.Context, shards []worker.Shard) ([]worker.WorkerResult, error) {
	g, groupCtx := errgroup.WithContext(ctx)
	completed := make([]*worker.WorkerResult, len(shards))
	for i, shard := range shards {
		i, shard := i, shard
		g.Go(func() error {
			result, err := o.runner.Run(groupCtx, shard)
			if err != nil {
				return err
			}
			completed[i] = &result
			return nil
		})
	}
	err := g.Wait()
	return collect(completed), err
}

// runToCompletion lets every shard finish and returns all failures combined.
func (o *Orchestrator) runToCompletion(ctx context.Context, shards []worker.Shard) ([]worker.WorkerResult, error) {
	var g errgroup.Group
	var mu sync.Mutex
	var result *multierror.Error
	completed := make([]*worker.WorkerResult, len(shards))
	for i, shard := range shards {
		i, shard := i, shard
		g.Go(func() error {
			r, err := o.runner.Run(ctx, shard)
			if err != nil {
				mu.Lock()
				result = multierror.Append(result, err)
				mu.Unlock()
				return nil
			}
			completed[i] = &r
			return nil
		})
	}
	_ = g.Wait()
	if result != nil {
		sort.Slice(result.Errors, func(i, j int) bool {
			return firstWorkerId(result.Errors[i]) < firstWorkerId(result.Errors[j])
		})
	}
	return collect(completed), result.ErrorOrNil()
}

func collect(completed []*worker.WorkerResult) []worker.WorkerResult {
	results := make([]worker.WorkerResult, 0, len(completed))
	for _, r := range completed {
		if r != nil {
			results = append(results, *r)
		}
	}
	return results
}

// FailedWorkerIds returns the ids of the workers whose failures make up err, in ascending order.
func FailedWorkerIds(err error) []int {
	var errs []error
	var merr *multierror.Error
	if errors.As(err, &merr) {
		errs = merr.Errors
	} else if err != nil {
		errs = []error{err}
	}
	var ids []int
	for _, e := range errs {
		var shardErr *loaderrors.ErrShardFailed
		if errors.As(e, &shardErr) {
			ids = append(ids, shardErr.WorkerId)
		}
	}
	sort.Ints(ids)
	return ids
}

func firstWorkerId(err error) int {
	var shardErr *loaderrors.ErrShardFailed
	if errors.As(err, &shardErr) {
		return shardErr.WorkerId
	}
	return 0
}
