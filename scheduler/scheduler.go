// Package scheduler runs royalty distribution for every tier whose epoch
// has elapsed, on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/bitfsorg/libmatrix-go/ledger"
	"github.com/bitfsorg/libmatrix-go/logging"
	"github.com/bitfsorg/libmatrix-go/royalty"
)

// DefaultInterval is how often due tiers are checked.
const DefaultInterval = time.Minute

// ErrInvalidInterval indicates a non-positive check interval.
var ErrInvalidInterval = errors.New("scheduler: invalid interval")

// Distributor is the part of the contract the scheduler drives.
type Distributor interface {
	DueTiers() []uint8
	DistributeRoyalty(ctx context.Context, tier uint8) (*ledger.Receipt, royalty.Distribution, error)
}

// Scheduler distributes due royalty tiers.
type Scheduler struct {
	d        Distributor
	interval time.Duration
	log      logging.Logger

	mu    sync.Mutex
	sched gocron.Scheduler
}

// New creates a stopped Scheduler.
func New(d Distributor, interval time.Duration, log logging.Logger) (*Scheduler, error) {
	if d == nil {
		return nil, errors.New("scheduler: nil distributor")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}
	if log == nil {
		log = logging.Nop
	}
	return &Scheduler{d: d, interval: interval, log: log}, nil
}

// RunOnce distributes every tier that is due now. A tier that became
// non-due in the meantime is skipped; other failures are joined.
func (s *Scheduler) RunOnce(ctx context.Context) ([]royalty.Distribution, error) {
	var out []royalty.Distribution
	var errs []error
	for _, tier := range s.d.DueTiers() {
		_, d, err := s.d.DistributeRoyalty(ctx, tier)
		switch {
		case errors.Is(err, royalty.ErrCooldownActive):
			continue
		case err != nil:
			s.log.Error(fmt.Sprintf("scheduler: distribute tier %d: %v", tier, err))
			errs = append(errs, fmt.Errorf("tier %d: %w", tier, err))
			continue
		}
		s.log.Info(fmt.Sprintf("scheduler: tier %d distributed %d to %d members", tier, d.Distributed, d.Members))
		out = append(out, d)
	}
	return out, errors.Join(errs...)
}

// Start begins checking every interval, the first time immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sched != nil {
		return errors.New("scheduler: already started")
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("scheduler: create: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			_, _ = s.RunOnce(ctx)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = sched.Shutdown()
		return fmt.Errorf("scheduler: add job: %w", err)
	}
	sched.Start()
	s.sched = sched
	s.log.Info(fmt.Sprintf("scheduler: checking royalty tiers every %s", s.interval))
	return nil
}

// Stop shuts the scheduler down and waits for a running check to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sched == nil {
		return nil
	}
	err := s.sched.Shutdown()
	s.sched = nil
	return err
}
