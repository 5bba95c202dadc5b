package dialer

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/troikatech/voice-relay/internal/records"
	"github.com/troikatech/voice-relay/pkg/logger"
	"github.com/troikatech/voice-relay/pkg/metrics"
	"github.com/troikatech/voice-relay/pkg/twilio"
)

var (
	ErrQueueFull = errors.New("dial queue is full")
	ErrStopped   = errors.New("dialer is stopped")
)

const placeTimeout = 30 * time.Second

// Placer dials an outbound call and returns the carrier call id.
type Placer interface {
	PlaceCall(ctx context.Context, req twilio.CallRequest) (string, error)
}

// Job is one outbound call waiting to be placed.
type Job struct {
	Key     records.Key
	Request twilio.CallRequest
}

// Pool places calls on a fixed number of workers fed by a bounded queue.
type Pool struct {
	placer      Placer
	store       records.Store
	logger      *zap.Logger
	concurrency int

	mu      sync.RWMutex
	jobs    chan Job
	stopped bool
	wg      sync.WaitGroup
}

func NewPool(placer Placer, store records.Store, concurrency, queueSize int, log *zap.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	if queueSize <= 0 {
		queueSize = concurrency
	}
	return &Pool{
		placer:      placer,
		store:       store,
		logger:      log,
		concurrency: concurrency,
		jobs:        make(chan Job, queueSize),
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.logger.Info("Dialer started", zap.Int("workers", p.concurrency), zap.Int("queue", cap(p.jobs)))
}

// Enqueue never blocks; a full queue is reported to the caller.
func (p *Pool) Enqueue(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting jobs and waits for queued ones to be placed.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info("Dialer drained")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.place(job)
	}
}

func (p *Pool) place(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), placeTimeout)
	defer cancel()

	fields := logger.CallFields(job.Key.Destination, job.Key.AgentID, job.Key.CallDate)

	sid, err := p.placer.PlaceCall(ctx, job.Request)
	metrics.CallPlaced(err == nil)
	if err != nil {
		p.logger.Error("Outbound call placement failed", append(fields, zap.Error(err))...)
		if _, serr := p.store.AdvanceStage(ctx, job.Key, records.StageFailed); serr != nil {
			p.logger.Error("Failed to mark call failed", append(fields, zap.Error(serr))...)
		}
		return
	}

	if sid != "" {
		if err := p.store.UpdateFields(ctx, job.Key, records.Fields{"call_sid": sid}); err != nil {
			p.logger.Warn("Failed to record call sid", append(fields, zap.Error(err))...)
		}
	}
	p.logger.Info("Outbound call placed", append(fields, zap.String("call_sid", sid))...)
}
