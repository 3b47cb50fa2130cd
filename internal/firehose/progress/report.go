package progress

import (
	"fmt"
	"math"
	"time"

	"code.cloudfoundry.org/bytefmt"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var p = message.NewPrinter(language.English)

// Report is a snapshot of a shard's progress.
type Report struct {
	WorkerId int
	Rows     int64
	Target   int64
	Percent  float64
	// Rows per second since the previous report
	RowsPerSecond float64
	// Bytes per second since the shard started
	AvgBytesPerSecond float64
	// Estimated time to completion; only meaningful if HasETA is set
	ETA    time.Duration
	HasETA bool
}

func (r Report) String() string {
	eta := "n/a"
	if r.HasETA {
		eta = FormatDuration(r.ETA)
	}
	return fmt.Sprintf("Worker %02d PROGRESS: ", r.WorkerId) +
		p.Sprintf("%d / %d rows (%.2f%%), speed: %.1f rows/s, avg %s/s, ETA: %s",
			r.Rows, r.Target, r.Percent, r.RowsPerSecond, bytefmt.ByteSize(uint64(r.AvgBytesPerSecond)), eta)
}

// FormatDuration renders d rounded up to whole seconds, omitting leading units that are zero, e.g. 1h2m3s, 4m0s, 5s.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(math.Ceil(d.Seconds()))
	h := secs / 3600
	m := (secs % 3600) / 60
	s := secs % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm%ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// LogReporter writes reports to a logrus logger.
type LogReporter struct {
	Logger log.FieldLogger
}

func NewLogReporter() *LogReporter {
	return &LogReporter{Logger: log.StandardLogger()}
}

func (l *LogReporter) Report(r Report) {
	l.Logger.WithFields(log.Fields{
		"worker":  r.WorkerId,
		"rows":    r.Rows,
		"target":  r.Target,
		"rowsSec": int64(r.RowsPerSecond),
	}).Info(r.String())
}
