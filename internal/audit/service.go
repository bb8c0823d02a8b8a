// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWard Contributors

package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/gateward/gateward/pkg/errutil"
)

// writeTimeout bounds one persistence attempt, retries included.
const writeTimeout = 10 * time.Second

// Service is the async audit writer. Log stamps the entry with the event
// time and queues it; a single background worker persists entries in order,
// retrying transient failures with backoff. When the queue is full the entry
// is dropped and counted, never blocking the caller.
type Service struct {
	repo   Repository
	logger *slog.Logger

	queue    chan *Entry
	stopChan chan struct{}
	closed   atomic.Bool
	wg       sync.WaitGroup
	stopOnce sync.Once

	dropped   prometheus.Counter
	persisted prometheus.Counter

	now func() time.Time
}

// NewService creates an audit service with the given queue capacity and
// starts its worker. Call Close to drain and stop it.
func NewService(repo Repository, queueSize int, logger *slog.Logger) *Service {
	return NewServiceWithRegistry(repo, queueSize, logger, nil)
}

// NewServiceWithRegistry creates an audit service and registers its queue
// counters with the provided Prometheus registry.
func NewServiceWithRegistry(repo Repository, queueSize int, logger *slog.Logger, reg prometheus.Registerer) *Service {
	s := &Service{
		repo:     repo,
		logger:   logger,
		queue:    make(chan *Entry, queueSize),
		stopChan: make(chan struct{}),
		now:      time.Now,
	}
	if reg != nil {
		s.dropped = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateward_audit_dropped_total",
			Help: "Total number of audit entries dropped because the queue was full",
		})
		s.persisted = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateward_audit_persisted_total",
			Help: "Total number of audit entries persisted",
		})
		reg.MustRegister(s.dropped, s.persisted)
	}

	s.wg.Add(1)
	go s.worker()
	return s
}

// Log queues an audit entry. The timestamp records when the event happened,
// not when the worker gets around to persisting it. Never blocks and never
// panics; a full queue or a closed service drops the entry and counts it.
func (s *Service) Log(kind EventKind, playerID *ulid.ULID, username, ip, detail string) {
	if s.closed.Load() {
		if s.dropped != nil {
			s.dropped.Inc()
		}
		s.logger.Warn("audit service closed, entry dropped",
			"kind", kind,
			"username", username)
		return
	}

	entry := &Entry{
		ID:       ulid.Make(),
		Kind:     kind,
		PlayerID: playerID,
		Username: username,
		IP:       ip,
		Detail:   detail,
		At:       s.now(),
	}

	select {
	case s.queue <- entry:
	default:
		if s.dropped != nil {
			s.dropped.Inc()
		}
		s.logger.Warn("audit queue full, entry dropped",
			"kind", kind,
			"username", username)
	}
}

// HistoryByUsername returns the audit trail for a username, newest first.
func (s *Service) HistoryByUsername(ctx context.Context, username string, limit int) ([]*Entry, error) {
	return s.repo.HistoryByUsername(ctx, username, limit)
}

// HistoryByIP returns the audit trail for an IP, newest first.
func (s *Service) HistoryByIP(ctx context.Context, ip string, limit int) ([]*Entry, error) {
	return s.repo.HistoryByIP(ctx, ip, limit)
}

// Stats aggregates event counts since the given time.
func (s *Service) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	counts, err := s.repo.CountsByKind(ctx, since)
	if err != nil {
		return nil, oops.Code("AUDIT_STATS_FAILED").Wrap(err)
	}
	return &Stats{Since: since, Counts: counts}, nil
}

// QueueDepth returns the number of entries waiting to be persisted.
func (s *Service) QueueDepth() int {
	return len(s.queue)
}

// Close stops accepting entries, drains the queue, and waits for the worker.
// The queue channel itself stays open so that a Log racing Close is a dropped
// entry, never a panic.
func (s *Service) Close() {
	s.stopOnce.Do(func() {
		s.closed.Store(true)
		close(s.stopChan)
	})
	s.wg.Wait()
}

func (s *Service) worker() {
	defer s.wg.Done()

	for {
		select {
		case entry := <-s.queue:
			s.persist(entry)
		case <-s.stopChan:
			s.drain()
			return
		}
	}
}

// drain persists whatever is still queued at shutdown.
func (s *Service) drain() {
	for {
		select {
		case entry := <-s.queue:
			s.persist(entry)
		default:
			return
		}
	}
}

// persist writes one entry, retrying transient failures with fibonacci
// backoff. An entry that still fails after the timeout is logged and lost;
// the audit trail is best-effort by design of the queue, and blocking the
// worker forever would just fill the queue behind it.
func (s *Service) persist(entry *Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	backoff := retry.WithMaxDuration(writeTimeout, retry.NewFibonacci(100*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := s.repo.Insert(ctx, entry); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		errutil.LogError(s.logger, "audit entry lost", oops.Code("AUDIT_WRITE_FAILED").
			With("kind", entry.Kind).
			With("entry_id", entry.ID).
			Wrap(err))
		return
	}
	if s.persisted != nil {
		s.persisted.Inc()
	}
}
