package channels

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-feed/odyssey-feed/internal/observability"
)

// Engine bridges a change feed to the exchange. Records of one channel are
// published in feed order; different channels publish concurrently.
type Engine struct {
	feed     Feed
	exchange Exchange
	workers  int
	backoff  time.Duration
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewEngine builds an Engine with the given number of publish workers.
func NewEngine(feed Feed, exchange Exchange, workers int, logger *slog.Logger, metrics *observability.Metrics) *Engine {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		feed:     feed,
		exchange: exchange,
		workers:  workers,
		backoff:  time.Second,
		logger:   logger,
		metrics:  metrics,
	}
}

// Run consumes the feed until ctx is cancelled or the feed closes. Records
// already read when that happens are still published before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	// Publishing outlives ctx so the drain can finish.
	publishCtx := context.WithoutCancel(ctx)
	queues := make([]chan ChangeEvent, e.workers)
	var g errgroup.Group
	for i := range queues {
		queue := make(chan ChangeEvent, 64)
		queues[i] = queue
		g.Go(func() error {
			for ev := range queue {
				e.publish(publishCtx, ev)
			}
			return nil
		})
	}

	err := e.read(ctx, queues)
	for _, queue := range queues {
		close(queue)
	}
	_ = g.Wait()
	e.logger.Info("fan-out engine stopped")
	return err
}

func (e *Engine) read(ctx context.Context, queues []chan ChangeEvent) error {
	for {
		rec, err := e.feed.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, ErrFeedClosed):
				return nil
			case ctx.Err() != nil:
				return nil
			}
			e.logger.Warn("change feed read failed", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(e.backoff):
			}
			continue
		}
		ev := Classify(rec)
		queues[shard(ev.ChannelID, len(queues))] <- ev
	}
}

func (e *Engine) publish(ctx context.Context, ev ChangeEvent) {
	err := e.exchange.Publish(ctx, ev)
	e.metrics.FanoutEvent(string(ev.Kind), err)
	if err != nil {
		e.logger.Error("publish change event",
			slog.String("channel", ev.ChannelID),
			slog.String("kind", string(ev.Kind)),
			slog.String("activity", ev.ID),
			slog.Any("error", err))
	}
}

func shard(channelID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(channelID))
	return int(h.Sum32() % uint32(n))
}
