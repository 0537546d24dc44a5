package worker

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/aether/internal/store/rabbitmq"
)

type HandleFunc func(ctx context.Context, jobID string) error

const defaultJobTimeout = 2 * time.Minute

// Pool fans deliveries out to a fixed number of workers.
type Pool struct {
	Concurrency int
	Handle      HandleFunc
	// JobTimeout bounds a single job. A job that already started keeps
	// running after shutdown begins until it finishes or this expires.
	JobTimeout time.Duration
}

func (p *Pool) jobTimeout() time.Duration {
	if p.JobTimeout <= 0 {
		return defaultJobTimeout
	}
	return p.JobTimeout
}

// Run blocks until ctx is done or deliveries is closed, then waits for the
// workers to drain.
func (p *Pool) Run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	concurrency := p.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				p.process(ctx, workerID, d)
			}
		}(i)
	}

	defer func() {
		close(jobs)
		wg.Wait()
	}()

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Printf("worker pool shutting down")
			return

		case d, ok := <-deliveries:
			if !ok {
				log.Printf("delivery channel closed")
				return
			}
			select {
			case jobs <- d:
			case <-ctx.Done():
				_ = d.Nack(false, true)
				return
			}
		}
	}
}

func (p *Pool) process(ctx context.Context, workerID int, d amqp.Delivery) {
	var m rabbitmq.JobMessage
	if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
		log.Printf("worker=%d bad message: %v", workerID, err)
		_ = d.Nack(false, false)
		return
	}

	if ctx.Err() != nil {
		// not started yet; leave it queued for the next consumer
		log.Printf("worker=%d shutting down, requeue job=%s", workerID, m.JobID)
		_ = d.Nack(false, true)
		return
	}

	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.jobTimeout())
	defer cancel()

	start := time.Now()
	if err := p.Handle(jobCtx, m.JobID); err != nil {
		log.Printf("worker=%d job %s failed cost=%s err=%v", workerID, m.JobID, time.Since(start), err)
		_ = d.Nack(false, false)
		return
	}

	if err := d.Ack(false); err != nil {
		log.Printf("worker=%d ack failed job=%s err=%v", workerID, m.JobID, err)
	}
}
