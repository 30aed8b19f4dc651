package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fruitsalade/filecore/internal/logging"
	"github.com/fruitsalade/filecore/internal/settings"
)

// TenantLister finds tenants that have something to sweep.
type TenantLister interface {
	TenantsWithDeleted(ctx context.Context) ([]uuid.UUID, error)
}

// SweeperConfig controls the background sweep.
type SweeperConfig struct {
	// Interval between runs (default: 6h).
	Interval time.Duration
	// RunTimeout bounds a single run (default: 30m).
	RunTimeout time.Duration
	// DefaultRetentionDays applies to tenants without retention_days.
	DefaultRetentionDays int
}

// Sweeper runs SweepExpired for every tenant on a timer.
type Sweeper struct {
	manager  *Manager
	tenants  TenantLister
	settings settings.Provider
	config   SweeperConfig

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewSweeper creates a sweeper; call Start to begin.
func NewSweeper(manager *Manager, tenants TenantLister, provider settings.Provider, config SweeperConfig) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = 6 * time.Hour
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = 30 * time.Minute
	}
	if config.DefaultRetentionDays <= 0 {
		config.DefaultRetentionDays = DefaultRetentionDays
	}
	return &Sweeper{
		manager:  manager,
		tenants:  tenants,
		settings: provider,
		config:   config,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the background worker. Subsequent calls are no-ops.
func (s *Sweeper) Start() {
	s.startOnce.Do(func() {
		s.started.Store(true)
		logging.Info("starting retention sweeper", logging.Duration("interval", s.config.Interval))
		go s.worker()
	})
}

// Stop signals the worker and waits for an in-progress run to finish or
// for ctx to expire.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if !s.started.Load() {
		return nil
	}
	select {
	case <-s.doneCh:
		logging.Info("retention sweeper stopped")
		return nil
	case <-ctx.Done():
		logging.Warn("retention sweeper shutdown timeout")
		return ctx.Err()
	}
}

// RunNow sweeps every tenant with soft-deleted files and returns the
// per-tenant results.
func (s *Sweeper) RunNow(ctx context.Context) (map[uuid.UUID]SweepResult, error) {
	tenants, err := s.tenants.TenantsWithDeleted(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}

	results := make(map[uuid.UUID]SweepResult, len(tenants))
	for _, tenantID := range tenants {
		limits, err := s.settings.FileLimits(ctx, tenantID)
		if err != nil {
			logging.Warn("failed to load file limits, skipping tenant", logging.TenantID(tenantID), logging.Err(err))
			continue
		}
		res, err := s.manager.SweepExpired(ctx, tenantID, limits.Retention(s.config.DefaultRetentionDays))
		results[tenantID] = res
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

func (s *Sweeper) worker() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runOnce()
		case <-s.stopCh:
			return
		}
	}
}

// runOnce cancels the run when Stop is called mid-sweep.
func (s *Sweeper) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.RunTimeout)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	results, err := s.RunNow(ctx)
	if err != nil {
		logging.Error("retention sweep failed", logging.Err(err))
	}
	purged := 0
	for _, r := range results {
		purged += r.Count
	}
	logging.Debug("retention sweep run complete",
		logging.Int("tenants", len(results)), logging.Int("purged", purged))
}
