package api

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type activityJob struct {
	action      string
	description string
}

// Recorder writes activity entries from a small worker pool so request
// handlers never wait on the activity table. Entries are dropped, with a
// warning, when the buffer stays full past the handoff timeout.
type Recorder struct {
	store   FeedStore
	log     *log.Logger
	jobs    chan activityJob
	timeout time.Duration
	handoff time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// RecorderConfig sizes the pool.
type RecorderConfig struct {
	Workers        int
	Buffer         int
	WriteTimeout   time.Duration
	HandoffTimeout time.Duration
}

// NewRecorder starts cfg.Workers goroutines writing to store.
func NewRecorder(store FeedStore, cfg RecorderConfig, logger *log.Logger) *Recorder {
	if logger == nil {
		panic("Logger is not initialized")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	r := &Recorder{
		store:   store,
		log:     logger,
		jobs:    make(chan activityJob, cfg.Buffer),
		timeout: cfg.WriteTimeout,
		handoff: cfg.HandoffTimeout,
	}
	for i := 0; i < cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	logger.Infof("activity recorder started, workers: %d, buffer: %d, handoff: %v", cfg.Workers, cfg.Buffer, cfg.HandoffTimeout)
	return r
}

func (r *Recorder) worker(id int) {
	defer r.wg.Done()
	for j := range r.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		_, err := r.store.AppendActivity(ctx, j.action, j.description)
		cancel()
		if err != nil {
			r.log.WithError(err).WithFields(log.Fields{
				"action": j.action,
				"worker": id,
			}).Warn("activity append failed")
		}
	}
}

// Record queues an entry. It reports false when the entry was dropped.
func (r *Recorder) Record(action, description string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	job := activityJob{action: action, description: description}

	select {
	case r.jobs <- job:
		return true
	default:
	}
	if r.handoff > 0 {
		timer := time.NewTimer(r.handoff)
		defer timer.Stop()
		select {
		case r.jobs <- job:
			return true
		case <-timer.C:
		}
	}
	r.log.WithField("action", action).Warn("activity buffer full, entry dropped")
	return false
}

// Close stops accepting entries and waits for queued ones to be written.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.jobs)
	r.mu.Unlock()
	r.wg.Wait()
}
