// Package logging configures the process-wide go-logging backend used by
// every other package.  Packages obtain their own module logger with
// logging.MustGetLogger and this package decides where and at what level
// those records land.
package logging

import (
	"fmt"
	"io"
	"os"

	golog "gopkg.in/op/go-logging.v1"
)

const format = "%{time:15:04:05.000} ▶ %{level:.4s} %{module}: %{message}"

// Setup installs a leveled stderr backend.  level is one of DEBUG, INFO,
// NOTICE, WARNING, ERROR, CRITICAL (case-insensitive).
func Setup(level string) error {
	return SetupWithWriter(os.Stderr, level)
}

// SetupWithWriter is Setup with an explicit sink, used by tests.
func SetupWithWriter(w io.Writer, level string) error {
	lvl, err := golog.LogLevel(level)
	if err != nil {
		return fmt.Errorf("logging: invalid log level %q: %w", level, err)
	}
	backend := golog.NewBackendFormatter(
		golog.NewLogBackend(w, "", 0),
		golog.MustStringFormatter(format),
	)
	leveled := golog.AddModuleLevel(backend)
	leveled.SetLevel(lvl, "")
	golog.SetBackend(leveled)
	return nil
}
