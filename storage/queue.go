package storage

import (
	"context"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// QueueOptions sizes the background enqueue pool.
type QueueOptions struct {
	Workers int
	Buffer  int
	Timeout time.Duration
}

type queuedEvent struct {
	boardID string
	typ     domain.EventType
	data    string
}

// QueueSink forwards board events to an Azure Storage queue for collaborators
// outside the API process, such as notification senders. Events are handed to
// a fixed pool of workers; when the buffer is full they are dropped.
type QueueSink struct {
	queue   queueClient
	timeout time.Duration
	logger  log.FieldLogger

	jobs   chan queuedEvent
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewQueueSink connects to queueName using an account connection string.
func NewQueueSink(connStr, queueName string, opts QueueOptions, logger log.FieldLogger) (*QueueSink, error) {
	clientOpts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 30 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &clientOpts)
	if err != nil {
		return nil, err
	}
	return newQueueSink(q, opts, logger), nil
}

func newQueueSink(q queueClient, opts QueueOptions, logger log.FieldLogger) *QueueSink {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Buffer < 0 {
		opts.Buffer = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	s := &QueueSink{
		queue:   q,
		timeout: opts.Timeout,
		logger:  logger,
		jobs:    make(chan queuedEvent, opts.Buffer),
	}
	for i := 0; i < opts.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	logger.WithFields(log.Fields{
		"workers": opts.Workers,
		"buffer":  opts.Buffer,
		"timeout": opts.Timeout,
	}).Info("event queue sink started")
	return s
}

// Publish implements domain.Publisher. It never waits on the queue service;
// failures are logged and never reach the request that produced the event.
func (s *QueueSink) Publish(_ context.Context, boardID string, ev domain.Event) {
	data, err := sonic.MarshalString(ev)
	if err != nil {
		s.logger.WithError(err).Error("encode queued event")
		return
	}
	job := queuedEvent{boardID: boardID, typ: ev.Type, data: data}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.logger.WithFields(job.fields()).Warn("event queue sink closed, dropping event")
		return
	}
	select {
	case s.jobs <- job:
	default:
		s.logger.WithFields(job.fields()).Warn("event queue full, dropping event")
	}
}

// Close stops accepting events and waits for queued ones to be sent, or for
// ctx to end.
func (s *QueueSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.jobs)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *QueueSink) worker(id int) {
	defer s.wg.Done()
	for job := range s.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		_, err := s.queue.EnqueueMessage(ctx, job.data, nil)
		cancel()
		if err != nil {
			s.logger.WithError(err).WithFields(job.fields()).WithField("worker", id).Warn("enqueue board event failed")
		}
	}
}

func (j queuedEvent) fields() log.Fields {
	return log.Fields{"board_id": j.boardID, "type": j.typ}
}
