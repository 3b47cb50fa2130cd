package firehose

import (
	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"

	"github.com/armadaproject/firehose/internal/firehose/configuration"
	"github.com/armadaproject/firehose/internal/firehose/orchestrator"
)

const redacted = "<redacted>"

// Report is the summary of a run written to the report file.
type Report struct {
	RunId                string                              `json:"runId"`
	Succeeded            bool                                `json:"succeeded"`
	Error                string                              `json:"error,omitempty"`
	FailedWorkers        []int                               `json:"failedWorkers,omitempty"`
	TotalRows            int64                               `json:"totalRows"`
	ElapsedMs            int64                               `json:"elapsedMs"`
	MillionRowsPerMinute float64                             `json:"millionRowsPerMinute"`
	Workers              []WorkerReport                      `json:"workers"`
	Configuration        configuration.FirehoseConfiguration `json:"configuration"`
}

type WorkerReport struct {
	WorkerId   int   `json:"workerId"`
	RowsLoaded int64 `json:"rowsLoaded"`
	ElapsedMs  int64 `json:"elapsedMs"`
}

func NewReport(config configuration.FirehoseConfiguration, result *orchestrator.AggregateResult, runErr error) *Report {
	report := &Report{
		RunId:                result.RunId,
		Succeeded:            runErr == nil,
		TotalRows:            result.TotalRows,
		ElapsedMs:            result.ElapsedMs(),
		MillionRowsPerMinute: result.MillionRowsPerMinute(),
		Workers:              make([]WorkerReport, 0, len(result.Results)),
		Configuration:        redactCredentials(config),
	}
	if runErr != nil {
		report.Error = runErr.Error()
		report.FailedWorkers = orchestrator.FailedWorkerIds(runErr)
	}
	for _, r := range result.Results {
		report.Workers = append(report.Workers, WorkerReport{
			WorkerId:   r.WorkerId,
			RowsLoaded: r.RowsLoaded,
			ElapsedMs:  r.ElapsedMs(),
		})
	}
	return report
}

func (r *Report) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(r)
	if err != nil {
		return nil, errors.WithMessage(err, "marshalling report")
	}
	return data, nil
}

func redactCredentials(config configuration.FirehoseConfiguration) configuration.FirehoseConfiguration {
	if config.MySQL.Password != "" {
		config.MySQL.Password = redacted
	}
	if _, ok := config.Postgres.Connection["password"]; ok {
		connection := make(map[string]string, len(config.Postgres.Connection))
		for k, v := range config.Postgres.Connection {
			connection[k] = v
		}
		connection["password"] = redacted
		config.Postgres.Connection = connection
	}
	return config
}
