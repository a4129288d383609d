package assistant

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pravoai/pravo-api/internal/chat"
	"github.com/pravoai/pravo-api/internal/logger"
	"github.com/pravoai/pravo-api/internal/metrics"
)

// writeTimeout bounds a single reply write.
const writeTimeout = 10 * time.Second

var ErrDispatcherClosed = errors.New("assistant dispatcher is closed")

// ReplyWriter appends an assistant message to a chat.
type ReplyWriter interface {
	AppendAssistantMessage(ctx context.Context, userID, chatID, content string) error
}

// ReplyJob is one pending reply. ChatID is captured when the user message is sent,
// so the reply lands in that chat even if the user has moved on.
type ReplyJob struct {
	UserID     string
	ChatID     string
	RequestID  string
	EnqueuedAt time.Time
}

type Options struct {
	Delay     time.Duration
	Workers   int
	QueueSize int
}

// Dispatcher runs reply jobs on a worker pool. Each job waits out the delay, then
// writes exactly one reply; jobs are never retried.
type Dispatcher struct {
	responder *Responder
	writer    ReplyWriter
	delay     time.Duration
	logger    *logger.Logger

	jobs       chan ReplyJob
	workerPool sync.WaitGroup
	shutdown   chan struct{}
	closed     atomic.Bool
	sleep      func(time.Duration, <-chan struct{})
}

func NewDispatcher(responder *Responder, writer ReplyWriter, opts Options, log *logger.Logger) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}

	d := &Dispatcher{
		responder: responder,
		writer:    writer,
		delay:     opts.Delay,
		logger:    log.WithComponent("assistant"),
		jobs:      make(chan ReplyJob, opts.QueueSize),
		shutdown:  make(chan struct{}),
		sleep:     sleepUnlessShutdown,
	}

	for i := 0; i < opts.Workers; i++ {
		d.workerPool.Add(1)
		go d.worker()
	}

	d.logger.Info("assistant dispatcher started",
		slog.Int("worker_pool_size", opts.Workers),
		slog.Duration("reply_delay", opts.Delay))

	return d
}

// ScheduleReply queues a reply for chatID. Full queues and closed dispatchers drop
// the job with a log line.
func (d *Dispatcher) ScheduleReply(ctx context.Context, userID, chatID string) {
	err := d.Enqueue(ReplyJob{
		UserID:     userID,
		ChatID:     chatID,
		RequestID:  logger.RequestIDFrom(ctx),
		EnqueuedAt: time.Now(),
	})
	if err != nil {
		d.logger.WithContext(ctx).Warn("assistant reply dropped",
			slog.String("chat_id", chatID),
			slog.String("reason", err.Error()))
	}
}

var errQueueFull = errors.New("reply queue is full")

// Enqueue adds job without blocking.
func (d *Dispatcher) Enqueue(job ReplyJob) error {
	if d.closed.Load() {
		metrics.AssistantDropped.WithLabelValues("closed").Inc()
		return ErrDispatcherClosed
	}

	select {
	case d.jobs <- job:
		return nil
	default:
		metrics.AssistantDropped.WithLabelValues("queue_full").Inc()
		return errQueueFull
	}
}

func (d *Dispatcher) worker() {
	defer d.workerPool.Done()

	for {
		select {
		case job := <-d.jobs:
			d.handle(job)
		case <-d.shutdown:
			// Drain remaining jobs
			for {
				select {
				case job := <-d.jobs:
					d.handle(job)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) handle(job ReplyJob) {
	if wait := d.delay - time.Since(job.EnqueuedAt); wait > 0 {
		d.sleep(wait, d.shutdown)
	}

	ctx := logger.WithChatID(logger.WithUserID(context.Background(), job.UserID), job.ChatID)
	if job.RequestID != "" {
		ctx = logger.WithRequestID(ctx, job.RequestID)
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	log := d.logger.WithContext(ctx)

	if err := d.writer.AppendAssistantMessage(ctx, job.UserID, job.ChatID, d.responder.Reply()); err != nil {
		if errors.Is(err, chat.ErrChatNotFound) {
			metrics.AssistantDropped.WithLabelValues("chat_deleted").Inc()
			log.Debug("chat deleted before assistant reply")
			return
		}
		metrics.AssistantDropped.WithLabelValues("write_failed").Inc()
		log.Warn("failed to write assistant reply", slog.String("error", err.Error()))
		return
	}

	log.Debug("assistant reply written")
}

// Shutdown stops accepting jobs, then writes every queued reply without waiting
// out the remaining delay.
func (d *Dispatcher) Shutdown() {
	if !d.closed.CompareAndSwap(false, true) {
		return
	}
	close(d.shutdown)
	d.workerPool.Wait()
	d.logger.Info("assistant dispatcher stopped")
}

func sleepUnlessShutdown(wait time.Duration, shutdown <-chan struct{}) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-shutdown:
	}
}
