package events

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/visit-booking/internal/appointment"
)

const defaultBatchSize = 100

// Relay drains the event log outbox into a Publisher. Events go out in log
// order; a failed publish stops the batch so later events are never delivered
// ahead of it. Delivery is at least once: a crash between publish and mark
// re-sends the same message id.
type Relay struct {
	outbox    appointment.Outbox
	publisher Publisher
	log       *zap.Logger
	batchSize int
	now       func() time.Time
}

func NewRelay(outbox appointment.Outbox, publisher Publisher, log *zap.Logger) *Relay {
	return &Relay{
		outbox:    outbox,
		publisher: publisher,
		log:       log,
		batchSize: defaultBatchSize,
		now:       time.Now,
	}
}

// RunOnce publishes one batch and returns how many events were delivered.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	batch, err := r.outbox.FetchUnpublishedEvents(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch unpublished events: %w", err)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	published := make([]int64, 0, len(batch))
	var publishErr error
	for _, ev := range batch {
		if err := r.publisher.Publish(ctx, NewMessage(ev)); err != nil {
			publishErr = fmt.Errorf("publish event %d (%s): %w", ev.ID, ev.EventType, err)
			break
		}
		published = append(published, ev.ID)
	}

	if len(published) > 0 {
		if err := r.outbox.MarkEventsPublished(ctx, published, r.now()); err != nil {
			return 0, fmt.Errorf("mark events published: %w", err)
		}
	}
	return len(published), publishErr
}

// Run calls RunOnce at startup and then every interval until ctx is done.
func (r *Relay) Run(ctx context.Context, interval time.Duration) {
	r.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("shutdown signal received, stopping event relay")
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Relay) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := r.RunOnce(runCtx)
	if err != nil {
		r.log.Error("event relay run failed", zap.Int("published", n), zap.Error(err))
		return
	}
	if n > 0 {
		r.log.Info("event relay run complete", zap.Int("published", n), zap.Duration("took", time.Since(start)))
	}
}
