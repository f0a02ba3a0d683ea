// Package scheduler runs the single cooperative tick loop that drives every
// connection's submission and ingestion work, tracking a per-connection
// failure count and next-eligible-retry time in a sync.Map since the unit
// of concurrency here is a connection, not a socket.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nexusbank/gateway/internal/clock"
	"github.com/nexusbank/gateway/internal/connection"
	"github.com/nexusbank/gateway/internal/ebics"
	"github.com/nexusbank/gateway/internal/gwerrors"
	"github.com/nexusbank/gateway/internal/payment"
	"github.com/nexusbank/gateway/internal/store"
)

const (
	defaultTickInterval = time.Second
	maxBackoff          = 10 * time.Minute
	ingestLookback      = 24 * time.Hour
)

// Scheduler owns the single tick loop that fetches/submits for every
// connection in the store, in turn. It never fans connections out onto
// separate goroutines: the source's server dispatched one request at a
// time per accepted socket, and this loop preserves the same
// one-thing-at-a-time discipline at the level of a connection's tick.
type Scheduler struct {
	store        store.Store
	transport    ebics.Transport
	clock        clock.Clock
	tickInterval time.Duration

	backoff sync.Map // connection ID -> *backoffState

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

type backoffState struct {
	consecutiveFailures int
	nextEligible        time.Time
}

// New returns a Scheduler. tickInterval defaults to one second when zero.
func New(s store.Store, tr ebics.Transport, c clock.Clock, tickInterval time.Duration) *Scheduler {
	if tickInterval <= 0 {
		tickInterval = defaultTickInterval
	}
	return &Scheduler{
		store:        s,
		transport:    tr,
		clock:        c,
		tickInterval: tickInterval,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start runs the tick loop until ctx is cancelled or Stop is called. It
// blocks the calling goroutine; callers typically invoke it in its own
// goroutine and call Stop to shut down.
func (s *Scheduler) Start(ctx context.Context) {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.tickInterval).Msg("scheduler started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler stopping: context cancelled")
			return
		case <-s.stopCh:
			log.Info().Msg("scheduler stopping")
			return
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

// Stop signals the tick loop to exit and waits for it to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

// runTick walks every connection once, skipping those still in backoff, and
// never lets a single connection's failure abort the others.
func (s *Scheduler) runTick(ctx context.Context) {
	conns, err := s.store.ListConnections(ctx)
	if err != nil {
		log.Error().Err(err).Msg("scheduler: list connections failed")
		return
	}

	for _, rec := range conns {
		if !s.eligible(rec.ID) {
			continue
		}
		if err := s.tickConnection(ctx, rec); err != nil {
			s.recordFailure(rec.ID)
			log.Error().Err(err).Str("connection_id", rec.ID).Msg("scheduler: tick failed")
			continue
		}
		s.recordSuccess(rec.ID)
	}
}

func (s *Scheduler) tickConnection(ctx context.Context, rec store.ConnectionRecord) error {
	conn, err := connection.FromRecord(rec)
	if err != nil {
		return gwerrors.Wrap(gwerrors.KindInternal, "materialize connection", err)
	}
	if !conn.Ready() {
		return nil
	}

	accounts, err := s.store.ListAccountsByConnection(ctx, conn.ID)
	if err != nil {
		return gwerrors.Wrap(gwerrors.KindInternal, "list accounts", err)
	}

	var firstErr error
	for _, acc := range accounts {
		if _, _, err := payment.SubmitTick(ctx, s.store, s.transport, conn, s.clock, acc); err != nil && firstErr == nil {
			firstErr = err
		}
		to := s.clock.Now().UTC()
		from := to.Add(-ingestLookback)
		if _, err := payment.IngestTick(ctx, s.store, s.transport, conn, acc, from, to); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Scheduler) eligible(connID string) bool {
	v, ok := s.backoff.Load(connID)
	if !ok {
		return true
	}
	bs := v.(*backoffState)
	return !s.clock.Now().Before(bs.nextEligible)
}

func (s *Scheduler) recordSuccess(connID string) {
	s.backoff.Delete(connID)
}

func (s *Scheduler) recordFailure(connID string) {
	v, _ := s.backoff.LoadOrStore(connID, &backoffState{})
	bs := v.(*backoffState)
	bs.consecutiveFailures++
	delay := time.Duration(1<<uint(bs.consecutiveFailures)) * time.Second
	if delay > maxBackoff || delay <= 0 {
		delay = maxBackoff
	}
	bs.nextEligible = s.clock.Now().Add(delay)
}
