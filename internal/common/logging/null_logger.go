package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var stdout io.Writer = os.Stdout

// NullLogger discards everything logged to it. Useful for silencing components under test.
var NullLogger = &logrus.Logger{
	Out:       io.Discard,
	Formatter: new(logrus.TextFormatter),
	Hooks:     make(logrus.LevelHooks),
	Level:     logrus.PanicLevel,
}
