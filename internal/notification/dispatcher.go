package notification

import (
	"context"
	"sync"
	"time"

	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/interfaces"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/logger"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/monitoring"
)

const (
	defaultTimeout   = 5 * time.Second
	defaultQueueSize = 256
	defaultWorkers   = 2
)

type delivery struct {
	ctx     context.Context
	to      interfaces.Recipient
	kind    interfaces.NotificationKind
	payload map[string]string
}

// Dispatcher delivers notifications to a sink from a small worker pool.
// Notify never blocks the caller and delivery failures are only logged.
type Dispatcher struct {
	sink    interfaces.NotificationSink
	timeout time.Duration
	logger  *logger.Logger
	metrics *monitoring.MetricsCollector

	mu     sync.RWMutex
	closed bool
	jobs   chan delivery
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher over sink and starts its workers
func NewDispatcher(sink interfaces.NotificationSink, log *logger.Logger, metrics *monitoring.MetricsCollector) *Dispatcher {
	return newDispatcher(sink, log, metrics, defaultQueueSize, defaultWorkers)
}

func newDispatcher(sink interfaces.NotificationSink, log *logger.Logger, metrics *monitoring.MetricsCollector, queueSize, workers int) *Dispatcher {
	d := &Dispatcher{
		sink:    sink,
		timeout: defaultTimeout,
		logger:  log,
		metrics: metrics,
		jobs:    make(chan delivery, queueSize),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

// Notify queues one notification. The caller's cancellation does not abort
// delivery; the dispatcher's own timeout does. When the queue is full the
// notification is dropped.
func (d *Dispatcher) Notify(ctx context.Context, to interfaces.Recipient, kind interfaces.NotificationKind, payload map[string]string) {
	if d == nil || d.sink == nil {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped(ctx, to, kind, "dispatcher closed")
		return
	}

	select {
	case d.jobs <- delivery{ctx: context.WithoutCancel(ctx), to: to, kind: kind, payload: payload}:
	default:
		d.dropped(ctx, to, kind, "notification queue full")
	}
}

// Close stops accepting notifications and waits for queued ones to be
// delivered, or for ctx to end
func (d *Dispatcher) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}

	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for job := range d.jobs {
		d.deliver(job)
	}
}

func (d *Dispatcher) deliver(job delivery) {
	sendCtx, cancel := context.WithTimeout(job.ctx, d.timeout)
	defer cancel()

	err := d.sink.Notify(sendCtx, job.to, job.kind, job.payload)
	d.metrics.RecordNotification(string(job.kind), err == nil)
	if err != nil {
		d.logger.WithContext(job.ctx).WithError(err).WithFields(map[string]interface{}{
			"kind":         job.kind,
			"recipient_id": job.to.UserID,
		}).Warn("Failed to deliver notification")
	}
}

func (d *Dispatcher) dropped(ctx context.Context, to interfaces.Recipient, kind interfaces.NotificationKind, reason string) {
	d.metrics.RecordNotification(string(kind), false)
	d.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"kind":         kind,
		"recipient_id": to.UserID,
	}).Warn("Dropped notification: " + reason)
}
