// Package worker runs asynchronous summary generation off the request path.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clinicbridge/intake/pkg/logger"
)

const (
	defaultWorkers   = 2
	defaultQueueSize = 64
)

// SummaryGenerator is the part of the summary service the pool drives.
type SummaryGenerator interface {
	Generate(ctx context.Context, intakeID string) error
}

// GeneratorFunc adapts a function to the SummaryGenerator interface.
type GeneratorFunc func(ctx context.Context, intakeID string) error

// Generate implements SummaryGenerator.
func (f GeneratorFunc) Generate(ctx context.Context, intakeID string) error {
	return f(ctx, intakeID)
}

// PoolOption customises the Pool.
type PoolOption func(*Pool)

// WithWorkers sets the number of concurrent generation workers.
func WithWorkers(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithQueueSize sets the pending queue capacity.
func WithQueueSize(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// Pool is a bounded worker pool that generates summaries after intake
// submission. Enqueue never blocks the submitting request: when the queue is
// full the intake is skipped and a provider can trigger generation manually
// later.
type Pool struct {
	generator SummaryGenerator
	workers   int
	queueSize int
	queue     chan string
	log       *zap.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool constructs a Pool around the given generator.
func NewPool(generator SummaryGenerator, opts ...PoolOption) (*Pool, error) {
	if generator == nil {
		return nil, errors.New("worker: generator is required")
	}

	pool := &Pool{
		generator: generator,
		workers:   defaultWorkers,
		queueSize: defaultQueueSize,
		log:       logger.WithModule("worker"),
	}

	for _, opt := range opts {
		opt(pool)
	}

	pool.queue = make(chan string, pool.queueSize)
	return pool, nil
}

// Start launches the workers. It is a no-op if the pool is already running.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}
	p.started = true

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(runCtx)
	}
}

// Stop drains in-flight work and shuts the pool down. Queued but unstarted
// intakes are dropped; generation can be retriggered from the provider API.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
}

// Enqueue schedules summary generation for an intake. It implements the
// submission pipeline's queue interface and never blocks.
func (p *Pool) Enqueue(intakeID string) {
	select {
	case p.queue <- intakeID:
	default:
		p.log.Warn("summary queue full, dropping intake", zap.String("intake_id", intakeID))
	}
}

func (p *Pool) run(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case intakeID := <-p.queue:
			started := time.Now()
			if err := p.generator.Generate(ctx, intakeID); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				p.log.Error("background summary generation failed",
					zap.String("intake_id", intakeID),
					zap.Error(err),
				)
				continue
			}
			p.log.Info("summary generated",
				zap.String("intake_id", intakeID),
				zap.Duration("took", time.Since(started)),
			)
		}
	}
}
