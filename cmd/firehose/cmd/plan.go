package cmd

import (
	"fmt"

	"code.cloudfoundry.org/bytefmt"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"k8s.io/utils/clock"

	"github.com/armadaproject/firehose/internal/common/logging"
	"github.com/armadaproject/firehose/internal/firehose/configuration"
	"github.com/armadaproject/firehose/internal/firehose/generator"
	"github.com/armadaproject/firehose/internal/firehose/orchestrator"
)

func planCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print how the rows would be split across workers without connecting to the store",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(cmd, map[string]string{
				"rows":        "load.totalRows",
				"parallelism": "load.parallelism",
			})
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureCliLogging()
			cfg, err := loadConfiguration()
			if err != nil {
				return err
			}
			printPlan(cfg)
			return nil
		},
	}
	cmd.Flags().Int64("rows", 0, "Total number of rows to load")
	cmd.Flags().Int("parallelism", 0, "Number of shards loaded concurrently")
	return cmd
}

func printPlan(cfg configuration.FirehoseConfiguration) {
	p := message.NewPrinter(language.English)
	gen := generator.New(cfg.Load.TimestampMode, clock.RealClock{})
	shards := orchestrator.Partition(cfg.Load.TotalRows, cfg.Load.Parallelism)

	log.Info(p.Sprintf("Loading %d rows into %s table %s", cfg.Load.TotalRows, cfg.Target, cfg.Table.Name))
	var totalBytes int64
	for _, shard := range shards {
		size := generator.EstimateSize(gen, shard.TargetRows, int64(shard.WorkerId))
		totalBytes += size
		log.Info(fmt.Sprintf("Worker %02d: ", shard.WorkerId) + p.Sprintf("%d rows, ~%s", shard.TargetRows, bytefmt.ByteSize(uint64(size))))
	}
	flushes := totalBytes / int64(cfg.Load.FlushThreshold)
	log.Info(p.Sprintf("Total: ~%s in ~%d flushes of %s", bytefmt.ByteSize(uint64(totalBytes)), flushes, cfg.Load.FlushThreshold))
}
