package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SlogAPI implements API using the log/slog package.
type SlogAPI struct {
	logger *slog.Logger
	counts metric.Int64Gauge
}

// NewSlogAPI creates a SlogAPI writing to the given logger, counts are also
// recorded on the global otel meter provider (a no-op until one is set).
func NewSlogAPI(logger *slog.Logger) SlogAPI {
	if logger == nil {
		logger = slog.Default()
	}
	counts, err := otel.Meter("discuz-signin/telemetry").Int64Gauge("report_count")
	if err != nil {
		logger.Warn("failed to create report_count gauge", "err", err)
	}
	return SlogAPI{logger: logger, counts: counts}
}

// pairs turns report params into slog key/value pairs after `head`. Errors
// are keyed "err", everything else is keyed by its position.
func pairs(head []any, params []any) []any {
	out := head
	for i, p := range params {
		if err, ok := p.(error); ok {
			out = append(out, "err", err)
			continue
		}
		out = append(out, fmt.Sprintf("p%d", i), p)
	}
	return out
}

func (s SlogAPI) ReportBroken(id string, params ...any) {
	s.logger.Error("broken: "+id, pairs(nil, params)...)
}

func (s SlogAPI) ReportWarning(id string, params ...any) {
	s.logger.Warn(id, pairs(nil, params)...)
}

func (s SlogAPI) ReportInfo(msg string, params ...any) {
	s.logger.Info(msg, pairs(nil, params)...)
}

func (s SlogAPI) ReportDebug(msg string, params ...any) {
	s.logger.Debug(msg, pairs(nil, params)...)
}

func (s SlogAPI) ReportCount(id string, count int64) {
	s.logger.Debug(id, "count", count)
	if s.counts == nil {
		return
	}
	s.counts.Record(
		context.Background(),
		count,
		metric.WithAttributes(attribute.String("id", id)),
	)
}
