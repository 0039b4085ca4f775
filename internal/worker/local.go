package worker

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// LocalPublisher runs published jobs in-process on a Dispatcher. The API
// uses it when no Pub/Sub topic is configured.
type LocalPublisher struct {
	dispatcher *Dispatcher
	wg         sync.WaitGroup
}

// NewLocalPublisher creates a LocalPublisher.
func NewLocalPublisher(d *Dispatcher) *LocalPublisher {
	return &LocalPublisher{dispatcher: d}
}

// Publish starts job in the background and returns its generated id. The
// job outlives the caller's context.
func (p *LocalPublisher) Publish(ctx context.Context, job JobMessage) (string, error) {
	id := uuid.NewString()
	ctx = context.WithoutCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.dispatcher.Handle(ctx, job); err != nil {
			p.dispatcher.Logger.Error().Err(err).
				Str("message_id", id).
				Str("job_type", job.JobType).
				Msg("local job failed")
		}
	}()
	return id, nil
}

// Wait blocks until every published job has finished.
func (p *LocalPublisher) Wait() {
	p.wg.Wait()
}
