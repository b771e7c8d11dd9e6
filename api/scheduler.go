/*
scheduler.go - Voucher expiry scheduler

PURPOSE:
  Periodically flips active vouchers whose expiry has passed to expired,
  so they stop showing as spendable. Pricing rejects expired vouchers on
  its own; the sweep keeps the stored status honest for listings.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Sweeps once immediately on start
  - Each sweep is one conditional UPDATE, safe to run from several
    servers at once

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewVoucherExpiryScheduler(store)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - cmd/server/main.go: sweep-vouchers one-shot command
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"
)

// VoucherExpirer is the store operation the scheduler runs.
type VoucherExpirer interface {
	ExpireVouchers(ctx context.Context, now time.Time) (int, error)
}

// VoucherExpiryScheduler expires vouchers in the background.
type VoucherExpiryScheduler struct {
	Store         VoucherExpirer
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewVoucherExpiryScheduler creates a new scheduler.
func NewVoucherExpiryScheduler(store VoucherExpirer) *VoucherExpiryScheduler {
	return &VoucherExpiryScheduler{
		Store:         store,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (s *VoucherExpiryScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)

	go s.run()

	log.Printf("[Scheduler] Started with check interval: %v", s.CheckInterval)
}

// Stop stops the scheduler.
func (s *VoucherExpiryScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		log.Println("[Scheduler] Stopped")
	}
}

func (s *VoucherExpiryScheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.Sweep(context.Background())

	for {
		select {
		case <-s.ticker.C:
			s.Sweep(context.Background())
		case <-s.stop:
			return
		}
	}
}

// Sweep expires every voucher past its expiry and returns how many changed.
func (s *VoucherExpiryScheduler) Sweep(ctx context.Context) int {
	now := time.Now().UTC()
	n, err := s.Store.ExpireVouchers(ctx, now)
	if err != nil {
		log.Printf("[Scheduler] Error expiring vouchers: %v", err)
		return 0
	}
	if n > 0 {
		log.Printf("[Scheduler] Expired %d vouchers at %v", n, now.Format(time.RFC3339))
	}
	return n
}
