// Package firehose wires the bulk loader together from its configuration.
package firehose

import (
	"context"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/armadaproject/firehose/internal/common"
	"github.com/armadaproject/firehose/internal/firehose/configuration"
	"github.com/armadaproject/firehose/internal/firehose/connection"
	"github.com/armadaproject/firehose/internal/firehose/db"
	"github.com/armadaproject/firehose/internal/firehose/metrics"
	"github.com/armadaproject/firehose/internal/firehose/orchestrator"
	"github.com/armadaproject/firehose/internal/firehose/pipeline"
	"github.com/armadaproject/firehose/internal/firehose/progress"
	"github.com/armadaproject/firehose/internal/firehose/worker"
)

// Run loads config.Load.TotalRows rows into the configured store and blocks until every shard has finished
// or ctx is cancelled. The result is returned even if the run failed and then only covers the shards that succeeded.
func Run(ctx context.Context, config configuration.FirehoseConfiguration) (*orchestrator.AggregateResult, error) {
	database, err := NewDatabase(config)
	if err != nil {
		return nil, err
	}

	shutdownMetrics := common.ServeMetrics(config.Metrics.Port)
	defer shutdownMetrics()

	loaderMetrics := metrics.Get()
	opener := connection.NewOpener(database, connection.Config{
		MaxAttempts:    config.Retry.MaxAttempts,
		InitialBackoff: config.Retry.InitialBackoff,
		MaxBackoff:     config.Retry.MaxBackoff,
	}, loaderMetrics)
	tracker := progress.NewTracker(progress.Config{
		Interval: config.Progress.Interval,
		MinRows:  config.Progress.MinRows,
	}, clock.RealClock{}, progress.NewLogReporter())
	bulkLoader := worker.NewBulkLoadWorker(worker.Config{
		BufferSize:    int(config.Load.BufferSize),
		Table:         config.Table.Name,
		Columns:       config.Table.Columns,
		TimestampMode: config.Load.TimestampMode,
		Pipeline: pipeline.Config{
			FlushThreshold:   int(config.Load.FlushThreshold),
			MaxRowsPerSecond: config.Load.MaxRowsPerSecond,
		},
	}, opener, tracker, loaderMetrics, clock.RealClock{})

	log.Infof("Loading into %s table %s", database.Name(), config.Table.Name)
	result, runErr := orchestrator.NewOrchestrator(orchestrator.Config{
		TotalRows:   config.Load.TotalRows,
		Parallelism: config.Load.Parallelism,
		FailFast:    config.Load.FailFast,
	}, bulkLoader, clock.RealClock{}).Run(ctx)

	if config.ReportFile != "" && result != nil {
		if err := WriteReport(config.ReportFile, NewReport(config, result, runErr)); err != nil {
			log.WithError(err).Warnf("Failed to write report to %s", config.ReportFile)
		}
	}
	return result, runErr
}

// NewDatabase returns the store selected by config.Target.
func NewDatabase(config configuration.FirehoseConfiguration) (db.Database, error) {
	switch config.Target {
	case configuration.TargetPostgres:
		return db.NewPostgresDatabase(config.Postgres), nil
	case configuration.TargetMySQL:
		return db.NewMySQLDatabase(config.MySQL), nil
	case configuration.TargetMemory:
		return db.NewMemoryDatabase(), nil
	default:
		return nil, errors.Errorf("unknown target %q", config.Target)
	}
}

func WriteReport(path string, report *Report) error {
	data, err := report.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.WithStack(err)
	}
	log.Infof("Wrote report to %s", path)
	return nil
}
