package deliveryworker

import (
	"context"
	"sync"
	"time"

	"github.com/relaycrm/messaging-gateway/internal/queue"
	"github.com/relaycrm/messaging-gateway/pkg/logging"
)

const (
	defaultWorkers     = 2
	defaultWaitSeconds = 2
	defaultBatchSize   = 5
)

// Worker runs a pool of goroutines consuming delivery jobs from the
// queue and handing them to the processor. Messages are deleted only
// after the processor succeeds, so failures redeliver.
type Worker struct {
	queue       queue.Queue
	processor   *Processor
	logger      *logging.Logger
	workers     int
	waitSeconds int
	batchSize   int
	wg          sync.WaitGroup
}

func NewWorker(q queue.Queue, processor *Processor, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{
		queue:       q,
		processor:   processor,
		logger:      logger,
		workers:     defaultWorkers,
		waitSeconds: defaultWaitSeconds,
		batchSize:   defaultBatchSize,
	}
}

func (w *Worker) WithWorkers(n int) *Worker {
	if n > 0 {
		w.workers = n
	}
	return w
}

func (w *Worker) WithWaitSeconds(n int) *Worker {
	if n > 0 {
		w.waitSeconds = n
	}
	return w
}

func (w *Worker) WithBatchSize(n int) *Worker {
	if n > 0 {
		w.batchSize = n
	}
	return w
}

// Start launches the pool and blocks until ctx is canceled and all
// workers have drained.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("delivery worker starting", "workers", w.workers)
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go func(id int) {
			defer w.wg.Done()
			w.run(ctx, id)
		}(i)
	}
	w.wg.Wait()
	w.logger.Info("delivery worker stopped")
}

func (w *Worker) run(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := w.queue.Receive(ctx, w.batchSize, w.waitSeconds)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("receive failed", "worker", id, "error", err)
			time.Sleep(time.Second)
			continue
		}
		for _, msg := range msgs {
			w.handle(ctx, id, msg)
		}
	}
}

func (w *Worker) handle(ctx context.Context, id int, msg queue.Message) {
	job, err := queue.DecodeJob(msg.Body)
	if err != nil {
		// Malformed envelopes can never succeed; delete instead of redriving.
		w.logger.Error("discarding malformed job", "worker", id, "error", err)
		if delErr := w.queue.Delete(ctx, msg.ReceiptHandle); delErr != nil {
			w.logger.Error("delete failed", "worker", id, "error", delErr)
		}
		return
	}

	if err := w.processor.Process(ctx, job); err != nil {
		w.logger.Error("job failed, leaving for redelivery",
			"worker", id, "kind", job.Kind, "error", err)
		return
	}
	if err := w.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		w.logger.Error("delete failed", "worker", id, "kind", job.Kind, "error", err)
	}
}
