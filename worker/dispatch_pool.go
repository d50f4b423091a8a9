package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"

	"wablast/queue"
)

// JobHandler processes one claimed job. Returning an error only logs it; the
// handler owns its own retry decisions.
type JobHandler interface {
	HandleJob(ctx context.Context, job queue.Job) error
}

// JobSource yields jobs whose fire time has passed.
type JobSource interface {
	PollDue(ctx context.Context, now time.Time, limit int) ([]queue.Job, error)
}

// DispatchPool polls the delayed-job queue and fans due jobs out to a fixed
// set of workers. Pacing lives in the queue's fire times, not here; the pool
// just executes whatever is due.
type DispatchPool struct {
	source  JobSource
	handler JobHandler
	logger  *logrus.Entry

	workers int
	poll    time.Duration

	jobs   chan queue.Job
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewDispatchPool(source JobSource, handler JobHandler, workers int, poll time.Duration, logger *logrus.Logger) *DispatchPool {
	if workers < 1 {
		workers = 1
	}
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	return &DispatchPool{
		source:  source,
		handler: handler,
		logger:  logger.WithField("component", "dispatch_pool"),
		workers: workers,
		poll:    poll,
		jobs:    make(chan queue.Job, workers*2),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the poller and the worker goroutines.
func (p *DispatchPool) Start(ctx context.Context) {
	p.logger.WithField("workers", p.workers).Info("starting dispatch pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	p.wg.Add(1)
	go p.pollLoop(ctx)
}

// Stop shuts the pool down and waits for in-flight jobs to finish.
func (p *DispatchPool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
	p.logger.Info("dispatch pool stopped")
}

func (p *DispatchPool) pollLoop(ctx context.Context) {
	defer p.wg.Done()
	defer close(p.jobs)

	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.drainDue(ctx)
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (p *DispatchPool) drainDue(ctx context.Context) {
	due, err := p.source.PollDue(ctx, time.Now(), p.workers*2)
	if err != nil {
		p.logger.WithError(err).Error("failed to poll due jobs")
		return
	}
	for _, job := range due {
		select {
		case p.jobs <- job:
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (p *DispatchPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.logger.WithField("worker", id)

	for job := range p.jobs {
		p.handle(ctx, job, log)
	}
}

// handle isolates a single job so a panic in the gateway client or the
// handler takes down one job, not the pool.
func (p *DispatchPool) handle(ctx context.Context, job queue.Job, log *logrus.Entry) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic handling job %s: %v", job.ID, r)
			sentry.CaptureException(err)
			log.WithField("job_id", job.ID).Error(err)
		}
	}()

	if err := p.handler.HandleJob(ctx, job); err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"job_id":      job.ID,
			"campaign_id": job.CampaignID,
		}).Error("job handling failed")
	}
}
