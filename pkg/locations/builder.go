package locations

import (
	"context"
	"strings"
	"time"
	"unicode"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"stacktrends/pkg/metrics"
	"stacktrends/pkg/monitor"
	"stacktrends/pkg/types"
)

// Resolver is the consensus step the builder drives.
type Resolver interface {
	Resolve(ctx context.Context, location string) types.LocationEntry
}

type Builder struct {
	Resolver         Resolver
	Workers          int
	ProgressInterval time.Duration
	Logger           *zap.Logger
	Metrics          *metrics.Metrics
}

// Distinct returns the trimmed, non-empty location strings of users without
// duplicates, in first-seen order.
func Distinct(users []types.User) []string {
	seen := make(map[string]struct{}, len(users))
	var out []string
	for _, u := range users {
		location := strings.TrimSpace(u.Location)
		if location == "" {
			continue
		}
		if _, ok := seen[location]; ok {
			continue
		}
		seen[location] = struct{}{}
		out = append(out, location)
	}
	return out
}

// IsUsable reports whether a location contains at least one letter. Strings
// made of digits and punctuation only are noise.
func IsUsable(location string) bool {
	for _, r := range location {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// Build resolves every usable location exactly once and returns one entry
// per input location, in input order. Entries found in known are reused
// without asking the providers again.
//
// When ctx is cancelled no further locations are dispatched; the entries
// finished so far are returned together with the context error and are
// safe to persist.
func (b *Builder) Build(ctx context.Context, locations []string, known map[string]types.LocationEntry) ([]types.LocationEntry, error) {
	logger := b.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := b.Workers
	if workers <= 0 {
		workers = 1
	}

	entries := make([]types.LocationEntry, len(locations))
	finished := make([]bool, len(locations))
	var pending []int
	for i, location := range locations {
		switch {
		case !IsUsable(location):
			entries[i] = types.LocationEntry{Location: location}
			finished[i] = true
			b.Metrics.Location(metrics.LocationSkipped)
		case hasEntry(known, location):
			entries[i] = known[location]
			finished[i] = true
			b.Metrics.Location(metrics.LocationReused)
		default:
			pending = append(pending, i)
		}
	}
	logger.Info("resolving locations",
		zap.Int("distinct", len(locations)),
		zap.Int("pending", len(pending)),
		zap.Int("workers", workers))

	done := atomic.NewInt64(0)
	monitorCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	if b.ProgressInterval > 0 {
		go monitor.Progress(monitorCtx, "locations", len(pending), done, b.ProgressInterval, logger)
	}

	group := new(errgroup.Group)
	group.SetLimit(workers)
	for _, i := range pending {
		if ctx.Err() != nil {
			break
		}
		i := i
		group.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			entry := b.Resolver.Resolve(ctx, locations[i])
			if ctx.Err() != nil {
				// The providers may have been cut off mid-request.
				return nil
			}
			entries[i] = entry
			finished[i] = true
			done.Inc()
			if entry.Country != "" {
				b.Metrics.Location(metrics.LocationResolved)
			} else {
				b.Metrics.Location(metrics.LocationUnresolved)
			}
			return nil
		})
	}
	_ = group.Wait()

	if err := ctx.Err(); err != nil {
		partial := make([]types.LocationEntry, 0, len(entries))
		for i, entry := range entries {
			if finished[i] {
				partial = append(partial, entry)
			}
		}
		logger.Warn("location resolution interrupted",
			zap.Int("finished", len(partial)),
			zap.Int("total", len(locations)))
		return partial, err
	}

	logger.Info("locations resolved", zap.Int64("resolved", done.Load()))
	return entries, nil
}

func hasEntry(known map[string]types.LocationEntry, location string) bool {
	_, ok := known[location]
	return ok
}
