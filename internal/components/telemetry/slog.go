package telemetry

import (
	"fmt"
	"io"
	"log/slog"
)

// InitSlog installs a text handler writing to `out` as the default slog logger.
func InitSlog(out io.Writer, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// SlogAPI implements API using the log/slog package.
type SlogAPI struct{}

func (SlogAPI) formatParams(out *[]any, params []any) {
	for i, p := range params {
		*out = append(
			*out,
			fmt.Sprintf("params.%d", i),
			p,
		)
	}
}

func (s SlogAPI) ReportBroken(id string, params ...any) {
	remainingPairs := []any{"id", id}
	s.formatParams(&remainingPairs, params)
	slog.Error("broken component", remainingPairs...)
}

func (s SlogAPI) ReportWarning(id string, params ...any) {
	remainingPairs := []any{"id", id}
	s.formatParams(&remainingPairs, params)
	slog.Warn("warning", remainingPairs...)
}

func (s SlogAPI) ReportDebug(message string, params ...any) {
	remainingPairs := []any{}
	s.formatParams(&remainingPairs, params)
	slog.Debug(message, remainingPairs...)
}

func (s SlogAPI) ReportCount(id string, count int64) {
	slog.Info("count", "id", id, "n", count)
}
