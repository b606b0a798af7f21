// Package writers fans finished tables out to every configured sink.
package writers

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"stacktrends/pkg/metrics"
	"stacktrends/pkg/types"
)

// Sink accepts whole tables. Writing a table replaces any earlier version
// of it.
type Sink interface {
	Name() string
	Write(ctx context.Context, table types.Table) error
}

// WriteAll writes table to every sink. A failing sink does not stop the
// others; all failures are returned together.
func WriteAll(ctx context.Context, sinks []Sink, table types.Table, logger *zap.Logger, m *metrics.Metrics) error {
	var err error
	for _, sink := range sinks {
		if ctx.Err() != nil {
			return multierr.Append(err, ctx.Err())
		}
		if werr := sink.Write(ctx, table); werr != nil {
			logger.Error("failed to write table", zap.String("sink", sink.Name()), zap.String("table", table.Name), zap.Error(werr))
			err = multierr.Append(err, errors.Wrapf(werr, "%s sink", sink.Name()))
			continue
		}
		m.TableWritten(table.Name, len(table.Rows))
	}
	if err == nil {
		logger.Info("table written", zap.String("table", table.Name), zap.Int("rows", len(table.Rows)), zap.Int("sinks", len(sinks)))
	}
	return err
}
