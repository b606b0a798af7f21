package monitor

import (
	"context"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Progress logs how many of total items are done every interval until ctx
// is cancelled. A long resolution batch is otherwise silent.
func Progress(ctx context.Context, name string, total int, done *atomic.Int64, interval time.Duration, logger *zap.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	started := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			logProgress(name, total, done.Load(), time.Since(started), logger)
		}
	}
}

func logProgress(name string, total int, done int64, elapsed time.Duration, logger *zap.Logger) {
	fields := []zap.Field{
		zap.String("batch", name),
		zap.Int64("done", done),
		zap.Int("total", total),
		zap.Duration("elapsed", elapsed.Round(time.Second)),
	}
	if total > 0 {
		fields = append(fields, zap.Float32("percent", 100*float32(done)/float32(total)))
	}
	if done > 0 && int(done) < total {
		remaining := time.Duration(float64(elapsed) / float64(done) * float64(int64(total)-done))
		fields = append(fields, zap.Duration("eta", remaining.Round(time.Second)))
	}
	logger.Info("progress", fields...)
}
