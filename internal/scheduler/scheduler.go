package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/seaport-ferry/service-booking/internal/domain/booking"
	"github.com/seaport-ferry/service-booking/pkg/domain"
)

// FireFunc applies the automatic transition for a lapsed deadline.
// It must be a no-op returning nil when the booking has already left d.Source.
type FireFunc func(ctx context.Context, d booking.Deadline) error

// Options tunes retry behaviour for failed firings.
type Options struct {
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	// RetryMaxElapsed bounds the total retry time; zero retries until Stop.
	RetryMaxElapsed time.Duration
}

// DefaultOptions returns the production retry settings.
func DefaultOptions() Options {
	return Options{
		RetryInitialInterval: 500 * time.Millisecond,
		RetryMaxInterval:     time.Minute,
	}
}

type timerKey struct {
	bookingID int64
	target    booking.BookingStatus
}

type entry struct {
	timer    *time.Timer
	deadline booking.Deadline
	gen      uint64
}

// DeadlineScheduler keeps at most one timer per (booking, target status).
type DeadlineScheduler struct {
	mu     sync.Mutex
	timers map[timerKey]*entry
	gen    uint64

	fire   FireFunc
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a DeadlineScheduler that calls fire when a deadline lapses.
func New(fire FireFunc, opts Options, logger *zap.Logger) *DeadlineScheduler {
	def := DefaultOptions()
	if opts.RetryInitialInterval <= 0 {
		opts.RetryInitialInterval = def.RetryInitialInterval
	}
	if opts.RetryMaxInterval <= 0 {
		opts.RetryMaxInterval = def.RetryMaxInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &DeadlineScheduler{
		timers: make(map[timerKey]*entry),
		fire:   fire,
		opts:   opts,
		logger: logger,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetFireFunc replaces the firing callback. It must be called before any deadline is scheduled.
func (s *DeadlineScheduler) SetFireFunc(fire FireFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fire = fire
}

// Schedule arms a timer for d, replacing any timer with the same key.
// Deadlines already in the past fire immediately.
func (s *DeadlineScheduler) Schedule(d booking.Deadline) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return
	}

	key := timerKey{bookingID: d.BookingID, target: d.Target}
	if old, ok := s.timers[key]; ok {
		old.timer.Stop()
	}

	s.gen++
	e := &entry{deadline: d, gen: s.gen}
	delay := d.FireAt.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	e.timer = time.AfterFunc(delay, func() { s.onFire(key, e.gen) })
	s.timers[key] = e

	s.logger.Debug("deadline scheduled",
		zap.Int64("booking_id", d.BookingID),
		zap.String("from", string(d.Source)),
		zap.String("to", string(d.Target)),
		zap.Time("fire_at", d.FireAt),
	)
}

// CancelAll stops every timer for bookingID. Cancelling a booking without timers is a no-op.
func (s *DeadlineScheduler) CancelAll(bookingID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.timers {
		if key.bookingID == bookingID {
			s.cancelLocked(key)
		}
	}
}

// Sync makes the booking's timers match its current status: every outstanding timer is
// cancelled and the open deadline, if any, is armed.
func (s *DeadlineScheduler) Sync(b *booking.Booking) {
	s.CancelAll(b.ID())
	if d, ok := b.OpenDeadline(); ok {
		s.Schedule(d)
	}
}

// Pending returns the armed deadlines.
func (s *DeadlineScheduler) Pending() []booking.Deadline {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]booking.Deadline, 0, len(s.timers))
	for _, e := range s.timers {
		out = append(out, e.deadline)
	}
	return out
}

// Stop cancels all timers and waits for in-flight firings to return.
func (s *DeadlineScheduler) Stop() {
	s.mu.Lock()
	s.cancel()
	for key := range s.timers {
		s.cancelLocked(key)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *DeadlineScheduler) cancelLocked(key timerKey) {
	if e, ok := s.timers[key]; ok {
		e.timer.Stop()
		delete(s.timers, key)
	}
}

// current reports whether gen is still the armed timer for key.
func (s *DeadlineScheduler) current(key timerKey, gen uint64) (booking.Deadline, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[key]
	if !ok || e.gen != gen {
		return booking.Deadline{}, false
	}
	return e.deadline, true
}

func (s *DeadlineScheduler) onFire(key timerKey, gen uint64) {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	fire := s.fire
	s.mu.Unlock()
	defer s.wg.Done()

	d, ok := s.current(key, gen)
	if !ok {
		return
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.RetryInitialInterval
	b.MaxInterval = s.opts.RetryMaxInterval
	b.MaxElapsedTime = s.opts.RetryMaxElapsed

	op := func() error {
		if _, still := s.current(key, gen); !still {
			return nil
		}
		err := fire(s.ctx, d)
		if err != nil && domain.HasCode(err, domain.CodeNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Warn("deadline firing failed, retrying",
			zap.Int64("booking_id", d.BookingID),
			zap.String("to", string(d.Target)),
			zap.Duration("retry_in", wait),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, s.ctx), notify); err != nil {
		s.logger.Error("deadline firing abandoned",
			zap.Int64("booking_id", d.BookingID),
			zap.String("to", string(d.Target)),
			zap.Error(err),
		)
	}

	s.mu.Lock()
	if e, ok := s.timers[key]; ok && e.gen == gen {
		delete(s.timers, key)
	}
	s.mu.Unlock()
}
