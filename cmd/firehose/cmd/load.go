package cmd

import (
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/armadaproject/firehose/internal/common"
	"github.com/armadaproject/firehose/internal/common/app"
	"github.com/armadaproject/firehose/internal/common/logging"
	"github.com/armadaproject/firehose/internal/firehose"
)

var loadFlags = map[string]string{
	"target":      "target",
	"rows":        "load.totalRows",
	"parallelism": "load.parallelism",
	"table":       "table.name",
	"report":      "reportFile",
}

func loadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Generate rows and bulk load them into the configured store",
		Long: `Splits the row target into one shard per worker. Every worker streams its shard into the
store over its own connection and commits once the whole shard has been loaded.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(cmd, loadFlags)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			common.ConfigureLogging()
			hook, err := logging.NewPrometheusHook(prometheus.DefaultRegisterer)
			if err != nil {
				return err
			}
			log.AddHook(hook)

			cfg, err := loadConfiguration()
			if err != nil {
				return err
			}

			if _, err := firehose.Run(app.CreateContextWithShutdown(), cfg); err != nil {
				logging.WithStacktrace(log.NewEntry(log.StandardLogger()), err).Error("Load failed")
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("target", "", "Store to load into: postgres, mysql or memory")
	cmd.Flags().Int64("rows", 0, "Total number of rows to load")
	cmd.Flags().Int("parallelism", 0, "Number of shards loaded concurrently")
	cmd.Flags().String("table", "", "Table to load into")
	cmd.Flags().String("report", "", "Write a yaml report of the run to this file")
	return cmd
}
