package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultShutdownTimeout = 30 * time.Second

// Supervisor runs every worker on its own goroutine and flattens them all on shutdown.
type Supervisor struct {
	workers         []*Worker
	status          *StatusTable
	log             zerolog.Logger
	shutdownTimeout time.Duration
}

// NewSupervisor wires workers to the shared status table.
func NewSupervisor(workers []*Worker, status *StatusTable, log zerolog.Logger, shutdownTimeout time.Duration) *Supervisor {
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}
	return &Supervisor{workers: workers, status: status, log: log, shutdownTimeout: shutdownTimeout}
}

// Status exposes the shared table.
func (s *Supervisor) Status() *StatusTable { return s.status }

// Run blocks until ctx is cancelled and every worker has stopped, then runs the shutdown
// liquidation. A worker that halts or panics stops alone; the rest keep trading.
func (s *Supervisor) Run(ctx context.Context) error {
	s.log.Info().Int("instruments", len(s.workers)).Msg("supervisor started")

	errs := make([]error, len(s.workers))
	var wg sync.WaitGroup
	for i, w := range s.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.runWorker(ctx, w)
		}()
	}
	wg.Wait()

	s.log.Info().Msg("workers stopped, liquidating")
	return errors.Join(append(errs, s.Shutdown())...)
}

func (s *Supervisor) runWorker(ctx context.Context, w *Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = w.halt(fmt.Errorf("%s: worker panic: %v", w.Symbol(), r))
		}
	}()
	return w.Run(ctx)
}

// Shutdown liquidates every worker concurrently, waiting at most the shutdown timeout.
func (s *Supervisor) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	errs := make([]error, len(s.workers))
	done := make(chan struct{})
	var wg sync.WaitGroup
	for i, w := range s.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("%s: shutdown panic: %v", w.Symbol(), r)
				}
			}()
			errs[i] = w.Shutdown(ctx)
		}()
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		err := errors.Join(errs...)
		if err != nil {
			s.log.Error().Err(err).Msg("shutdown left exposure")
		} else {
			s.log.Info().Msg("all instruments flat")
		}
		return err
	case <-ctx.Done():
		s.log.Error().Dur("timeout", s.shutdownTimeout).Msg("shutdown liquidation timed out")
		return fmt.Errorf("shutdown: %w: timed out after %s", ErrLiquidationFailed, s.shutdownTimeout)
	}
}
