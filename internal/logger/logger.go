package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func Init(level string, format string) {
	InitWithWriter(level, format, os.Stderr)
}

// InitWithWriter is Init with an explicit sink, used by the child worker so
// its output can be interleaved with the dispatcher's.
func InitWithWriter(level string, format string, w io.Writer) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if format == "console" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

func Get() zerolog.Logger {
	return log.Logger
}

// ForJob scopes base to a job and its submission.
func ForJob(base zerolog.Logger, jobID, submissionID int64) zerolog.Logger {
	return base.With().
		Int64("job_id", jobID).
		Int64("submission_id", submissionID).
		Logger()
}
