package order

import (
	"context"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"

	"lunch_order_bot/internal/logging"
)

// Pool runs blocking browser sessions on a bounded set of workers so that
// reminder timers and other chats never stall behind a submission.
type Pool struct {
	workers *ants.Pool
	logger  *logrus.Entry
}

// NewPool constructs a non-blocking worker pool of the given size. When all
// workers are busy, scheduling fails fast instead of queueing.
func NewPool(size int, logger *logrus.Entry) (*Pool, error) {
	if logger == nil {
		logger = logging.Logger()
	}

	workers, err := ants.NewPool(size, ants.WithOptions(ants.Options{
		ExpiryDuration: time.Hour,
		Nonblocking:    true,
		PanicHandler: func(v interface{}) {
			logger.WithField("event", "submit_worker_panic").Errorf("submission worker panicked: %v", v)
		},
	}))
	if err != nil {
		return nil, fmt.Errorf("create submission pool: %w", err)
	}

	return &Pool{
		workers: workers,
		logger:  logger,
	}, nil
}

// Do schedules the task on a worker and waits for its result without tying up
// the caller's goroutine beyond this one submission. Cancelling the context
// abandons the wait; the task itself runs to completion on its worker.
func (p *Pool) Do(ctx context.Context, task func() error) error {
	done := make(chan error, 1)

	if err := p.workers.Submit(func() {
		done <- task()
	}); err != nil {
		return fmt.Errorf("schedule submission: %w", err)
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release shuts the pool down. In-flight tasks finish first.
func (p *Pool) Release() {
	p.workers.Release()
}

// PooledSubmitter wraps a Submitter so each submission runs on the pool.
type PooledSubmitter struct {
	pool      *Pool
	submitter *Submitter
}

// NewPooledSubmitter binds a submitter to a worker pool.
func NewPooledSubmitter(pool *Pool, submitter *Submitter) *PooledSubmitter {
	return &PooledSubmitter{
		pool:      pool,
		submitter: submitter,
	}
}

// Submit runs the form submission on a pool worker and waits for the result.
func (p *PooledSubmitter) Submit(ctx context.Context, formURL string, sel Selection) error {
	return p.pool.Do(ctx, func() error {
		return p.submitter.Submit(ctx, formURL, sel)
	})
}
