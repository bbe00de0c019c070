package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/s4sarath/rosetta/internal/logger"
)

var (
	modelPath  string
	modelsPath string
	beamWidth  int64
	maxSteps   int64
	parallel   int64
	memoryPath string
	noMemory   bool
	logLevel   string
	logFormat  string
	debug      bool
)

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "path to .rtb bundle",
			Destination: &modelPath,
		},
		&cli.StringFlag{
			Name:        "models-path",
			Aliases:     []string{"path"},
			Usage:       "path to directory containing .rtb bundles",
			Destination: &modelsPath,
		},
	}
}

func decodeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "beam-width",
			Aliases:     []string{"b", "width"},
			Usage:       "number of hypotheses kept per search round",
			Value:       4,
			Destination: &beamWidth,
		},
		&cli.Int64Flag{
			Name:        "max-steps",
			Aliases:     []string{"steps"},
			Usage:       "decode step budget per sentence",
			Value:       128,
			Destination: &maxSteps,
		},
		&cli.Int64Flag{
			Name:        "parallel",
			Aliases:     []string{"j"},
			Usage:       "bound on concurrent decoder steps per round (0 = GOMAXPROCS)",
			Destination: &parallel,
		},
	}
}

func memoryFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "memory",
			Usage:       "path to the translation memory database",
			Destination: &memoryPath,
		},
		&cli.BoolFlag{
			Name:        "no-memory",
			Usage:       "decode without consulting or updating the translation memory",
			Destination: &noMemory,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// newLogger builds the command logger from the logging flags. Logs go to
// stderr so command output stays pipeable.
func newLogger() logger.Logger {
	level := logger.ParseLevel(logLevel)
	if debug {
		level = slog.LevelDebug
	}
	var w io.Writer = os.Stderr
	switch logFormat {
	case "json":
		return logger.JSON(w, level)
	case "text":
		return logger.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	default:
		return logger.Pretty(w, level)
	}
}
