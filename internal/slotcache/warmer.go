package slotcache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"slotwise/internal/slots"
)

// ResourceLister supplies the resources to warm.
type ResourceLister interface {
	ResourceIDs(ctx context.Context) ([]string, error)
}

type WarmerOptions struct {
	Days        int
	Durations   []int
	Interval    time.Duration
	RatePerSec  int
	Concurrency int
}

// Warmer periodically rebuilds the next few days of every resource so
// reads hit a warm cache.
type Warmer struct {
	cache     *Cache
	resources ResourceLister
	opts      WarmerOptions
	limiter   *rate.Limiter
	logger    zerolog.Logger
}

func NewWarmer(cache *Cache, resources ResourceLister, opts WarmerOptions, logger zerolog.Logger) *Warmer {
	if opts.Days <= 0 {
		opts.Days = 7
	}
	if len(opts.Durations) == 0 {
		opts.Durations = []int{30, 60}
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 20
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Warmer{
		cache:     cache,
		resources: resources,
		opts:      opts,
		limiter:   rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.RatePerSec),
		logger:    logger.With().Str("component", "slotcache_warmer").Logger(),
	}
}

// WarmOnce rebuilds every (resource, date, duration) entry within the
// configured horizon and returns how many entries were written.
func (w *Warmer) WarmOnce(ctx context.Context) (int, error) {
	ids, err := w.resources.ResourceIDs(ctx)
	if err != nil {
		return 0, err
	}

	var rebuilt atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			today, err := w.cache.LocalToday(gctx, id)
			if errors.Is(err, slots.ErrConfigurationMissing) {
				return nil
			}
			if err != nil {
				return err
			}
			for day := 0; day < w.opts.Days; day++ {
				for _, d := range w.opts.Durations {
					if err := w.limiter.Wait(gctx); err != nil {
						return err
					}
					if _, err := w.cache.Rebuild(gctx, id, today.AddDays(day), d); err != nil {
						if errors.Is(err, slots.ErrConfigurationMissing) {
							return nil
						}
						return err
					}
					rebuilt.Add(1)
				}
			}
			return nil
		})
	}
	err = g.Wait()
	return int(rebuilt.Load()), err
}

// Run warms immediately and then on every interval until ctx is done.
func (w *Warmer) Run(ctx context.Context) {
	w.logger.Info().
		Int("days", w.opts.Days).
		Ints("durations", w.opts.Durations).
		Dur("interval", w.opts.Interval).
		Msg("Slot cache warmer started")

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	for {
		started := time.Now()
		n, err := w.WarmOnce(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			w.logger.Error().Err(err).Int("rebuilt", n).Msg("Slot cache warm failed")
		default:
			w.logger.Debug().Int("rebuilt", n).Dur("took", time.Since(started)).Msg("Slot cache warmed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
