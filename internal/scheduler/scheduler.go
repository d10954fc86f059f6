package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/maartendamen/houseagent-latitude/internal/models"
	"github.com/maartendamen/houseagent-latitude/internal/utils"
)

// Poller performs one update cycle for an account.
type Poller interface {
	Update(ctx context.Context) error
}

// Factory builds the poller for an account.
type Factory[P Poller] func(account models.Account) P

type loop[P Poller] struct {
	poller   P
	interval time.Duration
	cancel   context.CancelFunc
	busy     atomic.Bool
}

// Scheduler keeps exactly one periodic loop per configured account.
type Scheduler[P Poller] struct {
	factory  Factory[P]
	pool     *utils.WorkerPool
	logger   zerolog.Logger
	interval func(models.Account) time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	loops map[string]*loop[P]
}

// New creates a Scheduler whose updates run on pool.
func New[P Poller](factory Factory[P], pool *utils.WorkerPool, logger zerolog.Logger) *Scheduler[P] {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler[P]{
		factory:  factory,
		pool:     pool,
		logger:   logger,
		interval: models.Account.Interval,
		ctx:      ctx,
		cancel:   cancel,
		loops:    make(map[string]*loop[P]),
	}
}

// RestartAll cancels every running loop and starts a fresh one per account.
// It does not wait for updates already in flight; those may still complete.
func (s *Scheduler[P]) RestartAll(accounts []models.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, l := range s.loops {
		l.cancel()
		delete(s.loops, name)
	}

	if s.ctx.Err() != nil {
		return
	}

	for _, account := range accounts {
		interval := s.interval(account)
		if interval <= 0 {
			s.logger.Warn().Str("account", account.Username).Msg("Skipping account without a refresh interval")
			continue
		}

		loopCtx, cancel := context.WithCancel(s.ctx)
		l := &loop[P]{
			poller:   s.factory(account),
			interval: interval,
			cancel:   cancel,
		}
		s.loops[account.Username] = l

		s.wg.Add(1)
		go s.run(loopCtx, account.Username, l)
	}

	s.logger.Info().Int("accounts", len(accounts)).Msg("Scheduler restarted")
}

// Active returns the usernames with a running loop, sorted.
func (s *Scheduler[P]) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return utils.SortedKeys(s.loops)
}

// Poller returns the poller currently scheduled for username.
func (s *Scheduler[P]) Poller(username string) (P, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.loops[username]
	if !ok {
		var zero P
		return zero, false
	}
	return l.poller, true
}

// Shutdown stops all loops, then drains the worker pool.
func (s *Scheduler[P]) Shutdown() {
	s.mu.Lock()
	s.cancel()
	for name := range s.loops {
		delete(s.loops, name)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.pool.Shutdown()
	s.logger.Info().Msg("Scheduler stopped")
}

func (s *Scheduler[P]) run(ctx context.Context, username string, l *loop[P]) {
	defer s.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	s.tick(ctx, username, l)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, username, l)
		}
	}
}

// tick hands one update to the pool unless the previous one is still running.
func (s *Scheduler[P]) tick(ctx context.Context, username string, l *loop[P]) {
	if !l.busy.CompareAndSwap(false, true) {
		s.logger.Debug().Str("account", username).Msg("Previous update still running, skipping tick")
		return
	}

	accepted := s.pool.Submit(ctx, func() {
		defer l.busy.Store(false)
		// Updates outlive a restart; only Shutdown cancels them.
		if err := l.poller.Update(s.ctx); err != nil {
			s.logger.Warn().Err(err).Str("account", username).Msg("Update failed")
		}
	})
	if !accepted {
		l.busy.Store(false)
	}
}
