package logging

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// CommandLineFormatter prints only the message, for output that is meant to be read rather than parsed.
type CommandLineFormatter struct{}

func (f *CommandLineFormatter) Format(entry *log.Entry) ([]byte, error) {
	if entry.Level <= log.WarnLevel {
		return []byte(fmt.Sprintf("%s: %s\n", entry.Level, entry.Message)), nil
	}
	return []byte(fmt.Sprintf("%s\n", entry.Message)), nil
}

// ConfigureCliLogging sets up logrus for interactive commands that print plain text to stdout.
func ConfigureCliLogging() {
	log.SetFormatter(new(CommandLineFormatter))
	log.SetOutput(stdout)
}
