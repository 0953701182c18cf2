// Package logx configures the process-wide logger: stdout for dev runs,
// rotated files for deployments.
package logx

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/toolkits/pkg/logger"
)

type Config struct {
	Dir        string
	Level      string
	Output     string
	KeepHours  uint
	RotateNum  int
	RotateSize uint64
}

// Init wires the logger backend and returns the flush func for shutdown.
// An empty config boots with INFO on stdout.
func Init(c Config) (func(), error) {
	if c.Level == "" {
		c.Level = "INFO"
	}
	logger.SetSeverity(c.Level)

	switch c.Output {
	case "", "stdout":
		// the default backend already writes to stdout
	case "stderr":
		logger.LogToStderr()
	case "file":
		if c.Dir == "" {
			c.Dir = "logs"
		}
		backend, err := logger.NewFileBackend(c.Dir)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to open log dir %s", c.Dir)
		}

		switch {
		case c.KeepHours != 0:
			backend.SetRotateByHour(true)
			backend.SetKeepHours(c.KeepHours)
		case c.RotateNum != 0:
			backend.Rotate(c.RotateNum, c.RotateSize*1024*1024)
		default:
			return nil, errors.New("file output needs KeepHours or RotateNum")
		}

		logger.SetLogging(c.Level, backend)
	default:
		return nil, errors.Errorf("unknown log output %q", c.Output)
	}

	return func() {
		fmt.Println("logger exiting")
		logger.Close()
	}, nil
}
