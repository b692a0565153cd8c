// Package worker runs the queue consumers: the resolve and name-search
// handlers on the search queue and the case-data handler on the
// case-data queue. Handlers decide the message's fate; the consumer
// only acks, nacks and reaps.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zipcase/zipcase/alert"
	"github.com/zipcase/zipcase/metrics"
	"github.com/zipcase/zipcase/queue"
)

// Result is a handler's verdict on a message.
type Result int

const (
	// Done removes the message, whether the job succeeded or reached a
	// terminal failure that was recorded in the store.
	Done Result = iota
	// Retry returns the message for redelivery after a transient
	// failure.
	Retry
)

// HandlerFunc processes one dequeued message.
type HandlerFunc func(ctx context.Context, msg *queue.Message) Result

// Consumer drains one queue with a fixed number of parallel handlers
// and a reaper that requeues messages whose visibility expired.
type Consumer struct {
	queue       *queue.Queue
	name        string
	handlers    map[queue.JobKind]HandlerFunc
	parallelism int
	alerter     *alert.Alerter
	logger      logrus.FieldLogger
}

func NewConsumer(q *queue.Queue, name string, parallelism int, alerter *alert.Alerter, logger logrus.FieldLogger) *Consumer {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Consumer{
		queue:       q,
		name:        name,
		handlers:    make(map[queue.JobKind]HandlerFunc),
		parallelism: parallelism,
		alerter:     alerter,
		logger:      logger.WithField("queue", name),
	}
}

func (c *Consumer) Register(kind queue.JobKind, h HandlerFunc) {
	c.handlers[kind] = h
}

// Run blocks until ctx is canceled, then waits for in-flight handlers
// to finish.
func (c *Consumer) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < c.parallelism; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.consumeLoop(ctx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.reapLoop(ctx)
	}()
	wg.Wait()
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := c.queue.Dequeue(ctx, time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.WithError(err).Error("dequeue failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if msg == nil {
			continue
		}
		c.dispatch(ctx, msg)
	}
}

func (c *Consumer) dispatch(ctx context.Context, msg *queue.Message) {
	log := c.logger.WithField("messageId", msg.ID).WithField("kind", string(msg.Job.Kind))

	handler, ok := c.handlers[msg.Job.Kind]
	if !ok {
		log.Error("no handler for job kind, dropping message")
		metrics.JobsProcessed.WithLabelValues(c.name, string(msg.Job.Kind), "dropped").Inc()
		if err := c.queue.Ack(ctx, msg.ID); err != nil {
			log.WithError(err).Error("ack failed")
		}
		return
	}

	res := c.handle(ctx, handler, msg, log)
	switch res {
	case Retry:
		metrics.JobsRetried.WithLabelValues(c.name, string(msg.Job.Kind)).Inc()
		if err := c.queue.Nack(ctx, msg.ID); err != nil {
			log.WithError(err).Error("nack failed; visibility timeout will recover the message")
		}
	default:
		metrics.JobsProcessed.WithLabelValues(c.name, string(msg.Job.Kind), "done").Inc()
		if err := c.queue.Ack(ctx, msg.ID); err != nil {
			log.WithError(err).Error("ack failed; message may be redelivered")
		}
	}
}

// handle isolates handler panics: a panicking handler must not take
// the consumer goroutine down, and its message goes back for
// redelivery.
func (c *Consumer) handle(ctx context.Context, handler HandlerFunc, msg *queue.Message, log logrus.FieldLogger) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("handler panicked")
			c.alerter.Fire(alert.Alert{
				Category: alert.CategorySystem,
				Severity: alert.SeverityError,
				Message:  "queue handler panicked",
			})
			res = Retry
		}
	}()
	return handler(ctx, msg)
}

func (c *Consumer) reapLoop(ctx context.Context) {
	interval := c.queue.Visibility() / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.queue.Reap(context.Background())
			if err != nil {
				c.logger.WithError(err).Error("reap failed")
				continue
			}
			if n > 0 {
				metrics.MessagesReaped.WithLabelValues(c.name).Add(float64(n))
				c.logger.WithField("count", n).Warn("requeued timed-out messages")
			}
		}
	}
}
