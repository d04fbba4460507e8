// File: internal/logcfg/logcfg.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Process-wide logging backend for hioload-echo binaries and tests.

package logcfg

import (
	"fmt"
	"io"

	logging "github.com/op/go-logging"
)

// DefaultFormat prefixes every record with time, module and level.
const DefaultFormat = "%{time:15:04:05.000} %{module}[%{level}]: %{message}"

// Setup routes all module loggers to w, filtered at level
// (CRITICAL, ERROR, WARNING, NOTICE, INFO or DEBUG).
func Setup(w io.Writer, level string) error {
	lv, err := logging.LogLevel(level)
	if err != nil {
		return fmt.Errorf("log level %q: %w", level, err)
	}
	backend := logging.NewLogBackend(w, "", 0)
	formatted := logging.NewBackendFormatter(backend, logging.MustStringFormatter(DefaultFormat))
	leveled := logging.AddModuleLevel(formatted)
	leveled.SetLevel(lv, "")
	logging.SetBackend(leveled)
	return nil
}
