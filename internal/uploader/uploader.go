// Package uploader mirrors captured messages to the backend. Every
// captured message becomes a job keyed by its message id; re-capturing the
// same message replaces the pending job instead of queueing a duplicate.
// Failed uploads retry with exponential backoff until the attempts run
// out, at which point the message is flagged unread so the user notices
// the gap.
package uploader

import (
	"context"
	"sync"
	"time"

	"github.com/luzzy/message-sync/internal/backend"
	"github.com/luzzy/message-sync/internal/model"
	"github.com/luzzy/message-sync/pkg/logger"
	"github.com/luzzy/message-sync/pkg/prom"
	"github.com/luzzy/message-sync/pkg/worker"
	"github.com/pkg/errors"
)

// MessageStore is the slice of the message repository the uploader needs.
type MessageStore interface {
	ListHistory(ctx context.Context, address string, since time.Time) ([]*model.Message, error)
	MarkRead(ctx context.Context, id int64) error
	MarkUnread(ctx context.Context, id int64) error
}

// Backend uploads one conversation batch.
type Backend interface {
	Upload(ctx context.Context, token string, req *backend.UploadRequest) error
}

// CredentialSource hands out the bearer token and refreshes it when the
// backend rejects it.
type CredentialSource interface {
	Token() (string, error)
	Refresh(ctx context.Context, stale string) (string, error)
}

// Notifier reports a permanently failed upload to the user.
type Notifier interface {
	UploadFailed(messageID int64, address string)
}

type Options struct {
	DevicePhone     string
	MaxAttempts     int           // default 5
	BackoffBase     time.Duration // default 10s
	BackoffCeiling  time.Duration // default 10m
	HistoryLookback time.Duration // default 36h
	Workers         int           // default 4
}

func (o *Options) applyDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 10 * time.Second
	}
	if o.BackoffCeiling <= 0 {
		o.BackoffCeiling = 10 * time.Minute
	}
	if o.HistoryLookback <= 0 {
		o.HistoryLookback = 36 * time.Hour
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
}

// jobEntry tracks one pending upload. gen increments on every replace so a
// worker finishing a superseded run never commits its outcome.
type jobEntry struct {
	job   model.UploadJob
	gen   uint64
	timer *time.Timer
}

type Uploader struct {
	messages MessageStore
	backend  Backend
	creds    CredentialSource
	notifier Notifier
	opts     Options

	manager *worker.WorkerManager

	mu     sync.Mutex
	jobs   map[int64]*jobEntry
	closed bool

	inflight sync.WaitGroup
}

func New(messages MessageStore, be Backend, creds CredentialSource, notifier Notifier, opts Options) *Uploader {
	opts.applyDefaults()
	u := &Uploader{
		messages: messages,
		backend:  be,
		creds:    creds,
		notifier: notifier,
		opts:     opts,
		jobs:     make(map[int64]*jobEntry),
	}
	u.manager = worker.NewWorkerManager(opts.Workers*16, opts.Workers)
	u.manager.SetWorker(func(workerIndex int, raw interface{}) {
		id, ok := raw.(int64)
		if !ok {
			return
		}
		u.process(id)
		u.inflight.Done()
	})
	return u
}

// Start spins up the worker pool. It returns once the pool is told to
// exit.
func (u *Uploader) Start() error {
	return u.manager.Start()
}

// Close stops pending retry timers and shuts the pool down.
func (u *Uploader) Close() {
	u.mu.Lock()
	u.closed = true
	for _, entry := range u.jobs {
		if entry.timer != nil {
			entry.timer.Stop()
		}
	}
	u.mu.Unlock()
	u.manager.Exit()
}

// Capture implements the inbound hook: every captured message is enqueued
// for upload.
func (u *Uploader) Capture(msg *model.Message) {
	u.Enqueue(msg)
}

// Enqueue schedules an upload for msg. An existing pending job for the
// same message is replaced: its attempts reset and any backoff timer is
// cancelled, so an edited or re-captured message uploads fresh content
// promptly.
func (u *Uploader) Enqueue(msg *model.Message) {
	from := u.opts.DevicePhone
	if msg.Direction == model.DirectionInbound {
		from = msg.Address
	}
	job := model.UploadJob{
		MessageID: msg.ID,
		From:      from,
		To:        msg.Address,
		Body:      msg.Body,
		Timestamp: msg.DateMs,
		State:     model.JobStateEnqueued,
	}

	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return
	}
	entry, exists := u.jobs[msg.ID]
	if exists {
		if entry.timer != nil {
			entry.timer.Stop()
			entry.timer = nil
		}
		entry.job = job
		entry.gen++
	} else {
		entry = &jobEntry{job: job}
		u.jobs[msg.ID] = entry
	}
	u.mu.Unlock()

	u.dispatch(msg.ID)
}

// Pending reports how many jobs are queued or backing off.
func (u *Uploader) Pending() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.jobs)
}

func (u *Uploader) dispatch(id int64) {
	u.inflight.Add(1)
	u.manager.Enqueue(id)
}

// Flush blocks until every dispatched job has been handled. Jobs sitting
// in a backoff window are not waited for.
func (u *Uploader) Flush() {
	u.inflight.Wait()
}

func (u *Uploader) process(id int64) {
	u.mu.Lock()
	entry, ok := u.jobs[id]
	if !ok {
		u.mu.Unlock()
		return
	}
	entry.job.State = model.JobStateRunning
	job := entry.job
	gen := entry.gen
	u.mu.Unlock()

	ctx := context.Background()
	start := time.Now()
	err := u.upload(ctx, &job)
	prom.ObserveUploadBatchDuration(time.Since(start).Seconds())
	if err == nil {
		prom.IncUploadAttempt("success")
		u.finish(id, gen)
		return
	}
	prom.IncUploadAttempt("retry")
	logger.Warn("upload attempt failed", "message_id", id, "attempt", job.Attempts+1, "error", err)
	u.retry(id, gen)
}

// upload builds the conversation batch and pushes it. A 401 triggers
// exactly one credential refresh; the attempt still fails and the next
// backoff retry carries the fresh token.
func (u *Uploader) upload(ctx context.Context, job *model.UploadJob) error {
	token, err := u.creds.Token()
	if err != nil {
		token, err = u.creds.Refresh(ctx, "")
		if err != nil {
			return errors.Wrap(err, "acquire token")
		}
	}

	req, err := u.buildBatch(ctx, job)
	if err != nil {
		return err
	}

	err = u.backend.Upload(ctx, token, req)
	if errors.Is(err, backend.ErrUnauthorized) {
		if _, rerr := u.creds.Refresh(ctx, token); rerr != nil {
			return errors.Wrap(rerr, "refresh token")
		}
	}
	return err
}

// buildBatch collects the conversation's recent history so the backend
// receives surrounding context, not just the single message. The batch is
// keyed by content and timestamp on the backend, so overlapping batches
// from retried jobs de-duplicate there.
func (u *Uploader) buildBatch(ctx context.Context, job *model.UploadJob) (*backend.UploadRequest, error) {
	since := time.Now().Add(-u.opts.HistoryLookback)
	history, err := u.messages.ListHistory(ctx, job.To, since)
	if err != nil {
		return nil, errors.Wrap(err, "list history")
	}

	req := &backend.UploadRequest{From: u.opts.DevicePhone, To: job.To}
	seen := false
	for _, m := range history {
		from := u.opts.DevicePhone
		if m.Direction == model.DirectionInbound {
			from = m.Address
		}
		if m.ID == job.MessageID {
			seen = true
		}
		req.Messages = append(req.Messages, backend.UploadMessage{
			From:      from,
			Message:   m.Body,
			Timestamp: m.DateMs,
		})
	}
	// The triggering message may be older than the lookback window or
	// already recycled; upload it anyway.
	if !seen {
		req.Messages = append(req.Messages, backend.UploadMessage{
			From:      job.From,
			Message:   job.Body,
			Timestamp: job.Timestamp,
		})
	}
	return req, nil
}

func (u *Uploader) finish(id int64, gen uint64) {
	u.mu.Lock()
	entry, ok := u.jobs[id]
	if !ok || entry.gen != gen {
		// Replaced mid-flight; the newer job decides the outcome.
		u.mu.Unlock()
		return
	}
	delete(u.jobs, id)
	u.mu.Unlock()

	if err := u.messages.MarkRead(context.Background(), id); err != nil {
		logger.Warn("failed to mark uploaded message read", "message_id", id, "error", err)
	}
	logger.Info("message uploaded", "message_id", id)
}

func (u *Uploader) retry(id int64, gen uint64) {
	u.mu.Lock()
	entry, ok := u.jobs[id]
	if !ok || entry.gen != gen {
		u.mu.Unlock()
		return
	}

	entry.job.Attempts++
	if entry.job.Attempts >= u.opts.MaxAttempts {
		entry.job.State = model.JobStateFailure
		delete(u.jobs, id)
		address := entry.job.To
		u.mu.Unlock()

		if err := u.messages.MarkUnread(context.Background(), id); err != nil {
			logger.Warn("failed to mark failed message unread", "message_id", id, "error", err)
		}
		if u.notifier != nil {
			u.notifier.UploadFailed(id, address)
		}
		prom.IncUploadAttempt("failure")
		logger.Error("upload abandoned", "message_id", id, "attempts", u.opts.MaxAttempts)
		return
	}

	entry.job.State = model.JobStateRetry
	attempt := entry.job.Attempts
	delay := u.backoff(attempt)
	if u.closed {
		u.mu.Unlock()
		return
	}
	entry.timer = time.AfterFunc(delay, func() {
		u.mu.Lock()
		current, ok := u.jobs[id]
		stale := !ok || current.gen != gen
		if !stale {
			current.timer = nil
			current.job.State = model.JobStateEnqueued
		}
		closed := u.closed
		u.mu.Unlock()
		if stale || closed {
			return
		}
		u.dispatch(id)
	})
	u.mu.Unlock()
	logger.Info("upload scheduled for retry", "message_id", id, "attempt", attempt, "delay", delay)
}

// backoff doubles per attempt from the base, capped at the ceiling.
func (u *Uploader) backoff(attempt int) time.Duration {
	d := u.opts.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= u.opts.BackoffCeiling {
			return u.opts.BackoffCeiling
		}
	}
	if d > u.opts.BackoffCeiling {
		return u.opts.BackoffCeiling
	}
	return d
}
